package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/okian/scoreboard/internal/adapters/http/api"
	"github.com/okian/scoreboard/internal/adapters/http/swagger"
	"github.com/okian/scoreboard/internal/adapters/store"
	"github.com/okian/scoreboard/internal/adapters/store/githubstore"
	"github.com/okian/scoreboard/internal/adapters/store/memstore"
	"github.com/okian/scoreboard/internal/adapters/store/redisstore"
	service "github.com/okian/scoreboard/internal/app"
	"github.com/okian/scoreboard/internal/config"
	"github.com/okian/scoreboard/internal/domain/leaderboard"
	"github.com/okian/scoreboard/internal/retry"
	"github.com/okian/scoreboard/pkg/logger"
	"github.com/okian/scoreboard/pkg/metrics"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// HTTP server timeout constants.
const (
	readTimeout               = 10 * time.Second
	idleTimeout               = 60 * time.Second
	readHeaderTimeout         = 5 * time.Second
	shutdownTimeout           = 30 * time.Second
	verifyTimeout             = 15 * time.Second
	nanosecondsPerMillisecond = 1e6
)

func main() {
	// Disable default Go metrics collection to avoid duplicate metrics.
	prometheus.Unregister(collectors.NewGoCollector())
	prometheus.Unregister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	if err := run(); err != nil {
		// The logger may not be initialized yet.
		os.Stderr.WriteString("scoreboard: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> .env -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.InitWithWriter(os.Stdout, cfg.LogFormat); err != nil {
		return fmt.Errorf("initialize logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		return fmt.Errorf("open %s store: %w", cfg.StoreBackend, err)
	}
	defer func() {
		if err := closeStore(); err != nil {
			log.Warn(ctx, "store close failed", logger.Error(err))
		}
	}()

	svc, err := newService(cfg, st, log)
	if err != nil {
		return err
	}

	// Fail fast on bad credentials or an unreachable backend.
	verifyCtx, cancelVerify := context.WithTimeout(ctx, verifyTimeout)
	err = svc.Verify(verifyCtx)
	cancelVerify()
	if err != nil {
		return fmt.Errorf("verify %s store: %w", st.Name(), err)
	}
	log.Info(ctx, "store verified", logger.String("backend", st.Name()), logger.String("merge_policy", string(svc.Policy())))

	go startSystemMetricsUpdater(ctx)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newHandler(cfg, svc, log),
		ReadTimeout:       readTimeout,
		WriteTimeout:      cfg.WriteTimeout(),
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server", logger.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	}
	log.Info(ctx, "shutting down server...")

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, "server shutdown failed", logger.Error(err))
	}

	log.Info(ctx, "server stopped")
	return nil
}

// openStore builds the configured backend wrapped with tracing, metrics and
// the per-call timeout. The returned func releases backend resources.
func openStore(ctx context.Context, cfg *config.Config, log logger.Logger) (store.VersionedStore, func() error, error) {
	var (
		inner     store.VersionedStore
		closeFunc = func() error { return nil }
	)

	switch cfg.StoreBackend {
	case config.BackendGitHub:
		gh, err := githubstore.New(ctx, githubstore.Config{
			Token:  cfg.GitHubToken,
			Repo:   cfg.GitHubRepo,
			Path:   cfg.GitHubPath,
			Branch: cfg.GitHubBranch,
			APIURL: cfg.GitHubAPIURL,
		}, githubstore.WithLogger(log))
		if err != nil {
			return nil, nil, err
		}
		inner = gh
	case config.BackendRedis:
		rs, err := redisstore.New(cfg.RedisAddr, cfg.RedisKey)
		if err != nil {
			return nil, nil, err
		}
		inner, closeFunc = rs, rs.Close
	case config.BackendMemory:
		inner = memstore.New()
	default:
		return nil, nil, fmt.Errorf("%w: unknown store_backend %q", config.ErrInvalidConfig, cfg.StoreBackend)
	}

	wrapped := store.Instrument(inner,
		store.WithCallTimeout(cfg.StoreTimeout()),
		store.WithLogger(log.Named("store")),
	)
	return wrapped, closeFunc, nil
}

func newService(cfg *config.Config, st store.VersionedStore, log logger.Logger) (*service.Service, error) {
	policy, err := leaderboard.ParsePolicy(cfg.MergePolicy)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalidConfig, err)
	}
	return service.New(st,
		service.WithPolicy(policy),
		service.WithRetryPolicy(retry.Policy{
			MaxAttempts: cfg.RetryMaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay(),
			MaxDelay:    cfg.RetryMaxDelay(),
		}),
		service.WithMaxTopN(cfg.MaxLeaderboardLimit),
		service.WithLogger(log.Named("service")),
	), nil
}

// newHandler registers the business API and docs routes.
func newHandler(cfg *config.Config, svc *service.Service, log logger.Logger) http.Handler {
	mux := http.NewServeMux()

	swagger.Register(mux)

	api.NewServer(svc, svc,
		api.WithDefaultLimit(cfg.TopN),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		api.WithRequestTimeout(cfg.RequestTimeout()),
		api.WithLogger(log.Named("http")),
	).Register(mux)

	return api.RequestIDMiddleware(mux)
}

// startSystemMetricsUpdater starts a background goroutine that updates system metrics.
func startSystemMetricsUpdater(ctx context.Context) {
	ticker := time.NewTicker(metrics.RefreshInterval())
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			updateSystemMetrics()
		}
	}
}

// updateSystemMetrics updates system-level metrics.
func updateSystemMetrics() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	metrics.UpdateSystemMemoryUsage(m.Alloc)
	metrics.UpdateSystemGoroutineCount(runtime.NumGoroutine())

	if m.NumGC > 0 {
		avgPauseMs := float64(m.PauseTotalNs) / float64(m.NumGC) / nanosecondsPerMillisecond
		metrics.RecordSystemGCPauseTime(avgPauseMs)
	}
}
