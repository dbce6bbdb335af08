// The worker daemon runs the calendar core's background machinery: the job
// runner, the webhook HTTP endpoints, and the subscription renewal sweep.
package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/meridianhq/meridian/adapter/api"
	"github.com/meridianhq/meridian/internal/calendar/application"
	"github.com/meridianhq/meridian/internal/calendar/application/workers"
	"github.com/meridianhq/meridian/internal/calendar/availability"
	"github.com/meridianhq/meridian/internal/calendar/domain"
	"github.com/meridianhq/meridian/internal/calendar/infrastructure/caldav"
	"github.com/meridianhq/meridian/internal/calendar/infrastructure/jobqueue"
	"github.com/meridianhq/meridian/internal/calendar/infrastructure/persistence"
	"github.com/meridianhq/meridian/internal/calendar/infrastructure/ratelimit"
	"github.com/meridianhq/meridian/internal/calendar/recurrence"
	"github.com/meridianhq/meridian/internal/calendar/setup"
	"github.com/meridianhq/meridian/pkg/config"
	"github.com/meridianhq/meridian/pkg/observability"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logCfg := observability.DefaultLogConfig()
	logCfg.Level = cfg.LogLevel
	if !cfg.IsDevelopment() {
		logCfg.Format = observability.LogFormatJSON
	}
	logger := observability.NewLogger(logCfg)
	slog.SetDefault(logger)
	logger.Info("starting meridian worker", "local_mode", cfg.LocalMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	}()

	store, cleanup, err := openStore(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	limiter := buildLimiter(cfg, logger)
	queue, queueConsumer, queueClose := buildQueue(cfg, logger)
	defer queueClose()

	adapters := setup.NewAdapterFactory(setup.EnvTokenSources{}, limiter, caldav.Config{
		Endpoint: os.Getenv("CALDAV_ENDPOINT"),
		Username: os.Getenv("CALDAV_USERNAME"),
		Password: os.Getenv("CALDAV_PASSWORD"),
	}, logger)

	clock := application.SystemClock{}
	recurrenceEngine := recurrence.NewEngine()
	availabilityEngine := availability.NewEngine(store, recurrenceEngine, logger)
	syncService := application.NewSyncService(store, adapters, clock, logger)
	calendarService := application.NewCalendarService(store, adapters, availabilityEngine, syncService, queue, clock, logger)
	subscriptionService := application.NewSubscriptionService(store, adapters, queue, clock, logger)
	webhookService := application.NewWebhookService(store, syncService, queue, clock, logger).
		WithCoalesceWindow(cfg.SyncCoalesceWindow)

	runner := workers.NewRunner(store, syncService, calendarService, subscriptionService, queueConsumer, workers.RunnerConfig{
		WorkersPerTenant: int64(cfg.WorkersPerTenant),
		WorkersTotal:     int64(cfg.WorkersTotal),
	}, logger)
	sweeper := workers.NewSubscriptionSweeper(store, subscriptionService, cfg.SubscriptionSweep, logger)

	serverCfg := api.DefaultServerConfig()
	serverCfg.Addr = cfg.WebhookAddr
	server := api.NewServer(serverCfg, api.NewWebhookHandler(webhookService, logger), logger)

	errCh := make(chan error, 3)
	go func() { errCh <- runner.Run(ctx) }()
	go func() { errCh <- sweeper.Run(ctx) }()
	go func() { errCh <- server.Start() }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil && err != context.Canceled {
			logger.Error("worker component failed", "error", err)
		}
		cancel()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("server shutdown failed", "error", err)
	}
	logger.Info("meridian worker stopped")
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (domain.Store, func(), error) {
	if cfg.LocalMode {
		logger.Info("using sqlite store", "path", cfg.SQLitePath)
		db, err := sql.Open("sqlite", cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		if err := persistence.EnsureSQLiteSchema(ctx, db); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return persistence.NewSQLiteStore(db), func() { _ = db.Close() }, nil
	}

	logger.Info("using postgres store")
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, nil, err
	}
	if err := persistence.EnsurePostgresSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return persistence.NewPostgresStore(pool), pool.Close, nil
}

func buildLimiter(cfg *config.Config, logger *slog.Logger) ratelimit.Limiter {
	limits := ratelimit.DefaultLimits()
	limits.ReadPerMinute = cfg.ProviderReadPerMinute
	limits.WritePerMinute = cfg.ProviderWritePerMinute

	if cfg.LocalMode {
		return ratelimit.NewMemoryLimiter(limits)
	}
	options, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Warn("invalid REDIS_URL, falling back to in-memory rate limiter", "error", err)
		return ratelimit.NewMemoryLimiter(limits)
	}
	return ratelimit.NewRedisLimiter(redis.NewClient(options), limits, logger)
}

func buildQueue(cfg *config.Config, logger *slog.Logger) (application.JobQueue, workers.JobConsumer, func()) {
	if cfg.LocalMode {
		queue := jobqueue.NewInProcessQueue(256, logger)
		return queue, queue, func() {}
	}
	queue, err := jobqueue.NewRabbitMQQueue(cfg.RabbitMQURL, cfg.JobQueueName, logger)
	if err != nil {
		logger.Warn("rabbitmq unavailable, falling back to in-process queue", "error", err)
		local := jobqueue.NewInProcessQueue(256, logger)
		return local, local, func() {}
	}
	return queue, queue, func() { _ = queue.Close() }
}
