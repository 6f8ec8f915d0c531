package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/redis/go-redis/v9"

	"github.com/ignite/ses-bulk-sender/internal/api"
	"github.com/ignite/ses-bulk-sender/internal/auth"
	"github.com/ignite/ses-bulk-sender/internal/config"
	"github.com/ignite/ses-bulk-sender/internal/mailing"
	"github.com/ignite/ses-bulk-sender/internal/metrics"
	"github.com/ignite/ses-bulk-sender/internal/pkg/distlock"
	"github.com/ignite/ses-bulk-sender/internal/pkg/logger"
	"github.com/ignite/ses-bulk-sender/internal/repository/memory"
	"github.com/ignite/ses-bulk-sender/internal/repository/postgres"
	"github.com/ignite/ses-bulk-sender/internal/service/drafts"
	"github.com/ignite/ses-bulk-sender/internal/service/history"
	"github.com/ignite/ses-bulk-sender/internal/ses"
	"github.com/ignite/ses-bulk-sender/internal/storage"
	"github.com/ignite/ses-bulk-sender/internal/worker"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

const sendLockKey = "ses-bulk-send"

func fatal(msg string, fields ...interface{}) {
	logger.Error(msg, fields...)
	os.Exit(1)
}

// checkPortAvailable verifies that the target port is not already in use.
func checkPortAvailable(host string, port int) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("port %d is already in use (addr %s): %w", port, addr, err)
	}
	ln.Close()
	return nil
}

func extractHost(dsn string) string {
	at := strings.Index(dsn, "@")
	if at < 0 {
		return "(unknown)"
	}
	rest := dsn[at+1:]
	if slash := strings.Index(rest, "/"); slash >= 0 {
		rest = rest[:slash]
	}
	return rest
}

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config file")
	flag.Parse()

	cfg, err := config.LoadFromEnv(*configPath)
	if err != nil {
		fatal("failed to load config", "path", *configPath, "error", err)
	}
	logger.SetLevel(logger.ParseLevel(cfg.Log.Level))
	logger.SetRedactPII(cfg.Log.ShouldRedact())

	logger.Info("starting ses bulk sender", "version", version, "configured", cfg.IsConfigured())

	host := cfg.Server.GetHost()
	if err := checkPortAvailable(host, cfg.Server.Port); err != nil {
		fatal("pre-flight check failed", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// History and drafts: PostgreSQL when configured, in-memory otherwise
	var (
		db        *sql.DB
		repo      history.Repository
		draftRepo drafts.Repository
	)
	if cfg.Database.URL != "" {
		db, err = openDatabase(ctx, cfg.Database.URL)
		if err != nil {
			fatal("database unavailable", "host", extractHost(cfg.Database.URL), "error", err)
		}
		defer db.Close()
		if err := postgres.Migrate(ctx, db); err != nil {
			fatal("database migration failed", "error", err)
		}
		repo = postgres.NewHistoryRepo(db)
		draftRepo = postgres.NewDraftRepo(db)
		logger.Info("history store: postgres", "host", extractHost(cfg.Database.URL))
	} else {
		repo = memory.NewHistoryRepo()
		draftRepo = memory.NewDraftRepo()
		logger.Warn("history store: in-memory (DATABASE_URL not set); history and drafts are lost on restart")
	}

	var redisClient *redis.Client
	if cfg.Redis.URL != "" {
		redisClient, err = openRedis(ctx, cfg.Redis.URL)
		if err != nil {
			logger.Warn("redis unavailable; falling back to local lock without rate limiting", "error", err)
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	// Attachments: local files directory plus optional S3 objects
	var s3Getter storage.ObjectGetter
	if cfg.Files.S3Region != "" {
		s3Client, err := storage.NewS3Client(ctx, cfg.Files.S3Region, cfg.SES.AccessKey, cfg.SES.SecretKey)
		if err != nil {
			logger.Warn("s3 attachments disabled", "error", err)
		} else {
			s3Getter = s3Client
		}
	}
	files := storage.NewFiles(cfg.Files.Directory, s3Getter)

	m := metrics.New("ses_sender")
	historySvc := history.NewService(repo)

	deps := api.Deps{
		Config:  cfg,
		Auth:    auth.NewTokenAuth(cfg.Auth),
		History: historySvc,
		Drafts:  drafts.NewService(draftRepo),
		Files:   files,
		Lock:    distlock.NewLock(redisClient, db, sendLockKey, api.DefaultLockTTL),
		LockTTL: api.DefaultLockTTL,
		Metrics: m,
	}

	var stack *sendStack
	if cfg.IsConfigured() {
		stack, err = newSendStack(ctx, cfg, files, redisClient, repo, m)
		if err != nil {
			logger.Error("SES client unavailable; sending disabled", "error", err)
			stack = nil
		} else {
			deps.Dispatcher = stack.dispatcher
			deps.Identity = stack.composer
			go stack.monitor.Start(ctx)
		}
	} else {
		logger.Warn("SES is not configured; set ses.region and ses.source_email to enable sending")
	}

	var quota api.QuotaReporter
	if stack != nil {
		quota = stack.monitor
	}
	deps.Health = api.NewHealthChecker(db, redisClient, quota, version)
	if stack != nil {
		deps.Health.SetStats(stack.dispatcher)
		if stack.limiter != nil {
			deps.Health.SetUsage(stack.limiter)
		}
	}
	if !deps.Auth.Configured() {
		logger.Warn("API_TOKEN is not set; every /api request will be refused")
	}

	server := api.NewServer(cfg.Server, deps)

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		addr := fmt.Sprintf("%s:%d", host, cfg.Server.Port)
		logger.Info("server listening", "addr", addr)
		if err := server.ListenAndServe(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			fatal("server error", "error", err)
		}
	}()

	select {
	case sig := <-done:
		logger.Info("shutting down", "signal", sig.String())
	case <-server.ShutdownRequested():
		logger.Info("shutting down", "reason", "api request")
	}

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}
	logger.Info("server stopped")
}

func openDatabase(ctx context.Context, url string) (*sql.DB, error) {
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

func openRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}

// sendStack is everything that exists only when SES is configured.
type sendStack struct {
	dispatcher *worker.BatchDispatcher
	composer   *mailing.Composer
	monitor    *ses.QuotaMonitor
	limiter    *worker.RateLimiter
}

// newSendStack wires the SES client, the optional send-rate limiter and
// the observers into a batch dispatcher.
func newSendStack(
	ctx context.Context,
	cfg *config.Config,
	files *storage.Files,
	redisClient *redis.Client,
	repo history.Repository,
	m *metrics.Metrics,
) (*sendStack, error) {
	identity := mailing.Identity{
		Source:     cfg.SES.SourceEmail,
		SenderName: cfg.Sender.SenderName,
		ReplyTo:    cfg.Sender.ReplyTo,
	}
	composer := mailing.NewComposer(identity, files)

	client, err := ses.NewClient(ctx, cfg.SES, cfg.SES.SourceAddress(), composer)
	if err != nil {
		return nil, err
	}

	d := worker.NewBatchDispatcher(client)
	d.SetVerifier(client)
	d.SetConcurrency(cfg.Batch.Concurrency)
	d.SetCallTimeout(cfg.SES.Timeout())
	d.SetObservers(history.NewRecorder(repo, cfg.SES.SourceEmail), m, composer)

	stack := &sendStack{dispatcher: d, composer: composer}
	if redisClient != nil && (cfg.Batch.MaxSendRate > 0 || cfg.Batch.DailyLimit > 0) {
		stack.limiter = worker.NewRateLimiter(redisClient, cfg.Batch.MaxSendRate, cfg.Batch.DailyLimit)
		d.SetThrottle(stack.limiter)
		logger.Info("send-rate limiter enabled",
			"per_second", cfg.Batch.MaxSendRate, "daily", cfg.Batch.DailyLimit)
	}

	stack.monitor = ses.NewQuotaMonitor(client, ses.DefaultQuotaInterval)
	stack.monitor.OnUpdate(func(q *ses.Quota) {
		m.SetQuota(q.Max24HourSend, q.SentLast24Hours, q.MaxSendRate)
	})

	return stack, nil
}
