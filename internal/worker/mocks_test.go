package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ignite/ses-bulk-sender/internal/domain"
)

// =============================================================================
// TEST DOUBLES
// =============================================================================

// fakeClock advances instantly on After so countdowns run without sleeping
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

// MockSender fails recipients listed in failures and succeeds otherwise
type MockSender struct {
	mu       sync.Mutex
	calls    []string
	failures map[string]error
	block    bool // block until ctx is done

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	delay       time.Duration
}

func NewMockSender() *MockSender {
	return &MockSender{failures: make(map[string]error)}
}

func (m *MockSender) Fail(recipient string, err error) {
	m.mu.Lock()
	m.failures[recipient] = err
	m.mu.Unlock()
}

func (m *MockSender) Send(ctx context.Context, msg *domain.EmailMessage) (string, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		max := m.maxInFlight.Load()
		if n <= max || m.maxInFlight.CompareAndSwap(max, n) {
			break
		}
	}

	m.mu.Lock()
	m.calls = append(m.calls, msg.Recipient)
	err := m.failures[msg.Recipient]
	m.mu.Unlock()

	if m.block {
		<-ctx.Done()
		return "", ctx.Err()
	}
	if m.delay > 0 {
		time.Sleep(m.delay)
	}
	if err != nil {
		return "", err
	}
	return "msg-" + msg.Recipient, nil
}

func (m *MockSender) Calls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

// recordingSink captures events in order; onEmit may inspect or cancel
type recordingSink struct {
	mu     sync.Mutex
	events []domain.ProgressEvent
	onEmit func(ev domain.ProgressEvent)
}

func (s *recordingSink) Emit(ctx context.Context, ev domain.ProgressEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	if s.onEmit != nil {
		s.onEmit(ev)
	}
	return nil
}

func (s *recordingSink) Types() []domain.EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.EventType, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Type
	}
	return out
}

func (s *recordingSink) Events() []domain.ProgressEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]domain.ProgressEvent(nil), s.events...)
}

// MockVerifier returns err from Verify
type MockVerifier struct{ err error }

func (v MockVerifier) Verify(ctx context.Context) error { return v.err }

// MockObserver counts lifecycle notifications
type MockObserver struct {
	mu       sync.Mutex
	started  int
	batches  []domain.BatchResult
	finished []domain.DispatchState
	err      error
}

func (o *MockObserver) JobStarted(ctx context.Context, job *domain.SendJob) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.started++
	return o.err
}

func (o *MockObserver) BatchFinished(ctx context.Context, job *domain.SendJob, result domain.BatchResult, outcomes []domain.RecipientOutcome) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.batches = append(o.batches, result)
	return o.err
}

func (o *MockObserver) JobFinished(ctx context.Context, job *domain.SendJob, state domain.DispatchState) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.finished = append(o.finished, state)
	return o.err
}

// quotaThrottle allows the first n calls and then fails
type quotaThrottle struct {
	remaining atomic.Int32
}

func (q *quotaThrottle) Wait(ctx context.Context) error {
	if q.remaining.Add(-1) < 0 {
		return ErrDailyQuotaExceeded
	}
	return nil
}

func recipients(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("user%03d@example.com", i+1)
	}
	return out
}

func newJob(n, batchSize int, delay time.Duration) *domain.SendJob {
	return &domain.SendJob{
		ID:         "job-1",
		Recipients: recipients(n),
		Subject:    "Hello",
		Body:       "<p>Hi</p>",
		Format:     domain.FormatHTML,
		BatchSize:  batchSize,
		Delay:      delay,
	}
}

func newTestDispatcher(sender *MockSender) *BatchDispatcher {
	d := NewBatchDispatcher(sender)
	s := NewScheduler()
	s.SetClock(newFakeClock())
	d.SetScheduler(s)
	return d
}

var errRejected = errors.New("MessageRejected: Email address is not verified")
