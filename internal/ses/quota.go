package ses

import (
	"context"
	"sync"
	"time"

	"github.com/ignite/ses-bulk-sender/internal/pkg/logger"
)

// DefaultQuotaInterval is how often the monitor refreshes the account quota.
const DefaultQuotaInterval = 5 * time.Minute

// Quota is the SES account sending quota.
type Quota struct {
	SendingEnabled  bool      `json:"sending_enabled"`
	Production      bool      `json:"production_access"`
	Max24HourSend   float64   `json:"max_24_hour_send"`
	MaxSendRate     float64   `json:"max_send_rate"`
	SentLast24Hours float64   `json:"sent_last_24_hours"`
	FetchedAt       time.Time `json:"fetched_at"`
}

// Remaining returns the sends left in the rolling 24h window.
func (q *Quota) Remaining() float64 {
	if q.Max24HourSend < 0 {
		return -1 // unlimited
	}
	r := q.Max24HourSend - q.SentLast24Hours
	if r < 0 {
		return 0
	}
	return r
}

// QuotaSource fetches the current quota.
type QuotaSource interface {
	Quota(ctx context.Context) (*Quota, error)
}

// QuotaMonitor polls the account quota and keeps the latest reading.
type QuotaMonitor struct {
	source   QuotaSource
	interval time.Duration
	onUpdate func(*Quota)

	mu        sync.RWMutex
	latest    *Quota
	lastErr   error
	lastFetch time.Time
	isRunning bool
}

// NewQuotaMonitor creates a monitor. A non-positive interval uses
// DefaultQuotaInterval.
func NewQuotaMonitor(source QuotaSource, interval time.Duration) *QuotaMonitor {
	if interval <= 0 {
		interval = DefaultQuotaInterval
	}
	return &QuotaMonitor{source: source, interval: interval}
}

// OnUpdate registers a callback run after each successful fetch.
func (m *QuotaMonitor) OnUpdate(fn func(*Quota)) {
	m.mu.Lock()
	m.onUpdate = fn
	m.mu.Unlock()
}

// Start begins the polling loop and blocks until ctx is done.
func (m *QuotaMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	m.isRunning = true
	m.mu.Unlock()

	logger.Info("ses: starting quota monitor", "interval", m.interval.String())
	m.FetchNow(ctx)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("ses: stopping quota monitor")
			m.mu.Lock()
			m.isRunning = false
			m.mu.Unlock()
			return
		case <-ticker.C:
			m.FetchNow(ctx)
		}
	}
}

// FetchNow refreshes the quota immediately.
func (m *QuotaMonitor) FetchNow(ctx context.Context) {
	q, err := m.source.Quota(ctx)

	m.mu.Lock()
	m.lastFetch = time.Now()
	m.lastErr = err
	if err == nil {
		q.FetchedAt = m.lastFetch
		m.latest = q
	}
	onUpdate := m.onUpdate
	m.mu.Unlock()

	if err != nil {
		logger.Warn("ses: quota fetch failed", "error", err)
		return
	}
	if onUpdate != nil {
		onUpdate(q)
	}
}

// Latest returns the most recent quota, or nil before the first success.
func (m *QuotaMonitor) Latest() *Quota {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latest
}

// LastError returns the error of the most recent fetch, if it failed.
func (m *QuotaMonitor) LastError() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastErr
}

// IsRunning reports whether the polling loop is active.
func (m *QuotaMonitor) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.isRunning
}
