package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/jobtracker/internal/api"
	"github.com/kiranshivaraju/jobtracker/internal/api/handler"
	mw "github.com/kiranshivaraju/jobtracker/internal/api/middleware"
	"github.com/kiranshivaraju/jobtracker/internal/cache"
	"github.com/kiranshivaraju/jobtracker/internal/config"
	"github.com/kiranshivaraju/jobtracker/internal/dispatch"
	"github.com/kiranshivaraju/jobtracker/internal/errorcount"
	"github.com/kiranshivaraju/jobtracker/internal/lifecycle"
	"github.com/kiranshivaraju/jobtracker/internal/metrics"
	"github.com/kiranshivaraju/jobtracker/internal/rollup"
	"github.com/kiranshivaraju/jobtracker/internal/store"
	"github.com/kiranshivaraju/jobtracker/internal/submission"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 30 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the job tracker API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve()
	},
}

func serve() error {
	// 1. Load config, fail fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.SetDefault(newLogger(cfg.Log.Level, cfg.Log.Format))
	slog.Info("config loaded", "env", cfg.Server.Env, "queue", cfg.Queue.Key)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Redis backs the status cache, the rate limiter and the dispatch queue
	client, err := cache.NewRedisClient(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis client: %w", err)
	}
	defer client.Close()

	redisCache := cache.NewRedisCache(client)
	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Services
	pgStore := store.NewPostgresStore(pool)
	queue := dispatch.NewRedisQueue(client, cfg.Queue.Key)
	counter := errorcount.NewCounter(pgStore)
	aggregator := rollup.NewAggregator(pgStore, counter, redisCache, cfg.Server.StatusCacheTTL)
	tracker := lifecycle.NewTracker(pgStore, queue, redisCache)
	submissions := submission.NewService(pgStore, counter, aggregator)

	// 6. Build router with dependencies
	httpMetrics := metrics.NewMiddleware()
	httpMetrics.MustRegister()

	router := api.NewRouter(newDependencies(pgStore, redisCache, counter, aggregator, tracker, submissions, cfg.Server.RequestsPerMin, httpMetrics))

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// sharedCache is the Redis side the rate limiter and health check use.
type sharedCache interface {
	mw.Counter
	handler.Pinger
}

// newDependencies wires every handler against the given services.
func newDependencies(
	st store.Store,
	redisCache sharedCache,
	counter *errorcount.Counter,
	aggregator *rollup.Aggregator,
	tracker *lifecycle.Tracker,
	submissions *submission.Service,
	requestsPerMin int,
	httpMetrics *metrics.Middleware,
) api.Dependencies {
	return api.Dependencies{
		Auth:      mw.NewAuth(st),
		RateLimit: mw.NewRateLimit(redisCache, requestsPerMin),
		Metrics:   httpMetrics,

		HealthHandler:  handler.NewHealthHandler(st, redisCache),
		MetricsHandler: promhttp.Handler(),

		CreateSubmission:  handler.NewCreateSubmissionHandler(submissions),
		GetSubmission:     handler.NewGetSubmissionHandler(submissions, st),
		SubmissionStatus:  handler.NewSubmissionStatusHandler(aggregator, st),
		ReplaceFile:       handler.NewReplaceFileHandler(submissions, st),
		SetPublishable:    handler.NewSetPublishableHandler(submissions, st),
		PublishSubmission: handler.NewPublishHandler(submissions, st),

		MarkJobStatus:    handler.NewMarkStatusHandler(tracker, st),
		StartJob:         handler.NewStartJobHandler(tracker, st),
		JobPrerequisites: handler.NewPrerequisitesHandler(tracker, st),
		JobProgress:      handler.NewProgressHandler(tracker, st),
		RecordJobErrors:  handler.NewRecordErrorsHandler(counter, aggregator, st),
		RecordFileError:  handler.NewFileErrorHandler(counter, aggregator, st),
		ListJobErrors:    handler.NewListErrorsHandler(counter, st),

		CreateKeyHandler: handler.NewCreateKeyHandler(st),
		ListKeysHandler:  handler.NewListKeysHandler(st),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(st),
	}
}
