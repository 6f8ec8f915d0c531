package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/ignite/ses-bulk-sender/internal/auth"
	"github.com/ignite/ses-bulk-sender/internal/config"
	"github.com/ignite/ses-bulk-sender/internal/domain"
	"github.com/ignite/ses-bulk-sender/internal/mailing"
	"github.com/ignite/ses-bulk-sender/internal/metrics"
	"github.com/ignite/ses-bulk-sender/internal/pkg/distlock"
	"github.com/ignite/ses-bulk-sender/internal/pkg/httputil"
	"github.com/ignite/ses-bulk-sender/internal/pkg/logger"
	"github.com/ignite/ses-bulk-sender/internal/service/drafts"
	"github.com/ignite/ses-bulk-sender/internal/service/history"
	"github.com/ignite/ses-bulk-sender/internal/service/sending"
	"github.com/ignite/ses-bulk-sender/internal/storage"
)

const (
	// DefaultPingInterval spaces the keep-alive comments on a send stream.
	DefaultPingInterval = 15 * time.Second
	// DefaultLockTTL is the lifetime of the single-send lock between extensions.
	DefaultLockTTL = 2 * time.Minute
)

// Dispatcher runs one send job, writing progress to sink.
type Dispatcher interface {
	Run(ctx context.Context, job *domain.SendJob, sink sending.EventSink) (domain.DispatchState, error)
}

// IdentitySetter receives sender identity changes made through the API.
type IdentitySetter interface {
	SetIdentity(mailing.Identity)
}

// Deps are the collaborators of the HTTP layer. Dispatcher and Identity may
// be nil when SES is not configured; Metrics and Health may be nil in tests.
type Deps struct {
	Config         *config.Config
	Auth           *auth.TokenAuth
	Dispatcher     Dispatcher
	Identity       IdentitySetter
	History        *history.Service
	Drafts         *drafts.Service
	Files          *storage.Files
	Lock           distlock.DistLock
	LockTTL        time.Duration
	Metrics        *metrics.Metrics
	Health         *HealthChecker
	AllowedOrigins []string
}

// Handlers contains all HTTP handlers
type Handlers struct {
	cfgMu sync.RWMutex
	cfg   *config.Config

	auth       *auth.TokenAuth
	dispatcher Dispatcher
	identity   IdentitySetter
	templates  *mailing.TemplateService
	history    *history.Service
	drafts     *drafts.Service
	files      *storage.Files
	lock       distlock.DistLock
	lockTTL    time.Duration

	pingInterval time.Duration
	onShutdown   func()
}

// NewHandlers creates a new Handlers instance
func NewHandlers(deps Deps) *Handlers {
	cfg := deps.Config
	if cfg == nil {
		cfg = config.Default()
	}
	a := deps.Auth
	if a == nil {
		a = auth.NewTokenAuth(cfg.Auth)
	}
	lock := deps.Lock
	if lock == nil {
		lock = distlock.NewLocalLock("ses-bulk-send")
	}
	ttl := deps.LockTTL
	if ttl <= 0 {
		ttl = DefaultLockTTL
	}
	return &Handlers{
		cfg:          cfg,
		auth:         a,
		dispatcher:   deps.Dispatcher,
		identity:     deps.Identity,
		templates:    mailing.NewTemplateService(),
		history:      deps.History,
		drafts:       deps.Drafts,
		files:        deps.Files,
		lock:         lock,
		lockTTL:      ttl,
		pingInterval: DefaultPingInterval,
	}
}

// config returns the active configuration. The value is replaced, never
// mutated, on update.
func (h *Handlers) config() *config.Config {
	h.cfgMu.RLock()
	defer h.cfgMu.RUnlock()
	return h.cfg
}

func configResponse(cfg *config.Config) map[string]any {
	return map[string]any{
		"config":        cfg.Redacted(),
		"is_configured": cfg.IsConfigured(),
	}
}

// GetConfig returns the active configuration with secrets masked
func (h *Handlers) GetConfig(w http.ResponseWriter, r *http.Request) {
	httputil.OK(w, configResponse(h.config()))
}

// UpdateConfig changes batch sizing and sender identity at runtime. Jobs
// already streaming keep the settings they were accepted with. Changes are
// not written back to the config file.
//
//	PUT /api/config
func (h *Handlers) UpdateConfig(w http.ResponseWriter, r *http.Request) {
	var u config.Update
	if !httputil.Decode(w, r, &u) {
		return
	}

	h.cfgMu.Lock()
	next, err := h.cfg.WithUpdate(u)
	if err == nil {
		h.cfg = next
	}
	h.cfgMu.Unlock()

	if errors.Is(err, config.ErrInvalidUpdate) {
		httputil.ErrorWithDetails(w, http.StatusBadRequest, err.Error(), "invalid_config", nil)
		return
	}
	if err != nil {
		httputil.InternalError(w, err)
		return
	}

	if u.Sender != nil && h.identity != nil {
		h.identity.SetIdentity(mailing.Identity{
			Source:     next.SES.SourceEmail,
			SenderName: next.Sender.SenderName,
			ReplyTo:    next.Sender.ReplyTo,
		})
	}
	logger.Info("api: configuration updated",
		"batch_size", next.Batch.Size(), "delay", next.Batch.Delay(), "sender_name", next.Sender.SenderName)
	httputil.OK(w, configResponse(next))
}

// Shutdown accepts a graceful shutdown request. The server stops after the
// response is written.
func (h *Handlers) Shutdown(w http.ResponseWriter, r *http.Request) {
	logger.Info("api: shutdown requested", "remote", r.RemoteAddr)
	httputil.JSON(w, http.StatusAccepted, map[string]string{"status": "shutting down"})
	if h.onShutdown != nil {
		go h.onShutdown()
	}
}
