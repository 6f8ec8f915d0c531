package api

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ignite/ses-bulk-sender/internal/pkg/httputil"
	"github.com/ignite/ses-bulk-sender/internal/ses"
)

// HealthStatus represents the overall health of the system.
type HealthStatus struct {
	Status  string                    `json:"status"` // "healthy", "degraded", "unhealthy"
	Version string                    `json:"version"`
	Uptime  string                    `json:"uptime"`
	Checks  map[string]ComponentCheck `json:"checks"`
	Sending map[string]int64          `json:"sending,omitempty"`
}

// ComponentCheck represents the health of a single component.
type ComponentCheck struct {
	Status  string `json:"status"` // "up", "down", "degraded"
	Latency string `json:"latency,omitempty"`
	Message string `json:"message,omitempty"`
}

// QuotaReporter exposes the last SES account reading.
type QuotaReporter interface {
	Latest() *ses.Quota
	LastError() error
}

// UsageReporter exposes send-rate limiter counters.
type UsageReporter interface {
	GetCurrentUsage(ctx context.Context) (map[string]int64, error)
}

// StatsReporter exposes dispatcher counters accumulated since start.
type StatsReporter interface {
	Stats() map[string]int64
}

// HealthChecker reports on the database, Redis and the SES account.
type HealthChecker struct {
	db          *sql.DB
	redisClient *redis.Client
	quota       QuotaReporter
	usage       UsageReporter
	stats       StatsReporter
	version     string
	startTime   time.Time
}

const notConfigured = "not configured"

// NewHealthChecker creates a new HealthChecker.
// Any dependency can be nil; the check will report "not configured" for nil deps.
func NewHealthChecker(db *sql.DB, redisClient *redis.Client, quota QuotaReporter, version string) *HealthChecker {
	return &HealthChecker{
		db:          db,
		redisClient: redisClient,
		quota:       quota,
		version:     version,
		startTime:   time.Now(),
	}
}

// SetUsage adds a rate_limit check backed by u.
func (hc *HealthChecker) SetUsage(u UsageReporter) { hc.usage = u }

// SetStats adds dispatcher counters to the health response.
func (hc *HealthChecker) SetStats(s StatsReporter) { hc.stats = s }

// HandleHealth returns the status of every component. It always answers
// 200; the status field carries the verdict.
//
//	GET /health
func (hc *HealthChecker) HandleHealth(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())

	status := HealthStatus{
		Status:  determineOverallStatus(checks),
		Version: hc.version,
		Uptime:  formatUptime(time.Since(hc.startTime)),
		Checks:  checks,
	}
	if hc.stats != nil {
		status.Sending = hc.stats.Stats()
	}
	httputil.OK(w, status)
}

// HandleReadiness answers 503 while the service is unhealthy.
//
//	GET /health/ready
func (hc *HealthChecker) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	checks := hc.runAllChecks(r.Context())
	overall := determineOverallStatus(checks)

	ready := overall != "unhealthy"
	httpStatus := http.StatusOK
	if !ready {
		httpStatus = http.StatusServiceUnavailable
	}

	httputil.JSON(w, httpStatus, map[string]any{
		"ready":  ready,
		"status": overall,
		"checks": checks,
	})
}

func (hc *HealthChecker) runAllChecks(ctx context.Context) map[string]ComponentCheck {
	type result struct {
		name  string
		check ComponentCheck
	}
	n := 3
	ch := make(chan result, n+1)

	go func() { ch <- result{"database", hc.checkDatabase(ctx)} }()
	go func() { ch <- result{"redis", hc.checkRedis(ctx)} }()
	go func() { ch <- result{"ses", hc.checkSES()} }()
	if hc.usage != nil {
		n++
		go func() { ch <- result{"rate_limit", hc.checkRateLimit(ctx)} }()
	}

	checks := make(map[string]ComponentCheck, n)
	for i := 0; i < n; i++ {
		r := <-ch
		checks[r.name] = r.check
	}
	return checks
}

// checkDatabase pings PostgreSQL with a 3-second timeout.
func (hc *HealthChecker) checkDatabase(ctx context.Context) ComponentCheck {
	if hc.db == nil {
		return ComponentCheck{Status: "down", Message: notConfigured}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.db.PingContext(pingCtx)
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{
			Status:  "down",
			Latency: latency.String(),
			Message: fmt.Sprintf("ping failed: %v", err),
		}
	}

	status, msg := "up", "connected"
	if latency > time.Second {
		status = "degraded"
		msg = fmt.Sprintf("slow response (%s)", latency)
	}
	return ComponentCheck{Status: status, Latency: latency.String(), Message: msg}
}

// checkRedis pings Redis with a 2-second timeout.
func (hc *HealthChecker) checkRedis(ctx context.Context) ComponentCheck {
	if hc.redisClient == nil {
		return ComponentCheck{Status: "down", Message: notConfigured}
	}

	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	start := time.Now()
	err := hc.redisClient.Ping(pingCtx).Err()
	latency := time.Since(start)

	if err != nil {
		return ComponentCheck{
			Status:  "down",
			Latency: latency.String(),
			Message: fmt.Sprintf("ping failed: %v", err),
		}
	}

	status, msg := "up", "connected"
	if latency > 500*time.Millisecond {
		status = "degraded"
		msg = fmt.Sprintf("slow response (%s)", latency)
	}
	return ComponentCheck{Status: status, Latency: latency.String(), Message: msg}
}

// checkRateLimit reports today's sends against the limiter's daily cap.
func (hc *HealthChecker) checkRateLimit(ctx context.Context) ComponentCheck {
	usageCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	u, err := hc.usage.GetCurrentUsage(usageCtx)
	if err != nil {
		return ComponentCheck{Status: "down", Message: fmt.Sprintf("usage lookup failed: %v", err)}
	}
	day, limit := u["daily_current"], u["daily_limit"]
	if limit > 0 && day >= limit {
		return ComponentCheck{Status: "degraded", Message: fmt.Sprintf("daily limit reached (%d)", limit)}
	}
	if limit > 0 {
		return ComponentCheck{Status: "up", Message: fmt.Sprintf("%d of %d sent today", day, limit)}
	}
	return ComponentCheck{Status: "up", Message: fmt.Sprintf("%d sent today", day)}
}

// checkSES reports the last quota reading instead of calling SES on every
// health request.
func (hc *HealthChecker) checkSES() ComponentCheck {
	if hc.quota == nil {
		return ComponentCheck{Status: "down", Message: notConfigured}
	}
	if err := hc.quota.LastError(); err != nil {
		return ComponentCheck{Status: "down", Message: fmt.Sprintf("account lookup failed: %v", err)}
	}

	q := hc.quota.Latest()
	switch {
	case q == nil:
		return ComponentCheck{Status: "degraded", Message: "quota not fetched yet"}
	case !q.SendingEnabled:
		return ComponentCheck{Status: "down", Message: "sending is disabled for the account"}
	case q.Remaining() == 0:
		return ComponentCheck{Status: "degraded", Message: "24h sending quota exhausted"}
	case !q.Production:
		return ComponentCheck{Status: "degraded", Message: "account is in the SES sandbox"}
	}
	return ComponentCheck{
		Status:  "up",
		Message: fmt.Sprintf("%.0f of %.0f sent in the last 24h", q.SentLast24Hours, q.Max24HourSend),
	}
}

// determineOverallStatus derives the aggregate status from individual checks.
//
// Rules:
//   - "unhealthy" if a configured database is down
//   - "degraded"  if any check is degraded or a configured check is down
//   - "healthy"   otherwise
func determineOverallStatus(checks map[string]ComponentCheck) string {
	if db, ok := checks["database"]; ok && db.Status == "down" && db.Message != notConfigured {
		return "unhealthy"
	}

	for _, c := range checks {
		if c.Status == "degraded" {
			return "degraded"
		}
		if c.Status == "down" && c.Message != notConfigured {
			return "degraded"
		}
	}
	return "healthy"
}

// formatUptime produces a human-readable uptime string like "3d 4h 12m 5s".
func formatUptime(d time.Duration) string {
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	if days > 0 {
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	}
	if minutes > 0 {
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
	return fmt.Sprintf("%ds", seconds)
}
