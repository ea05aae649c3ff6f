package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/keepon/remindd/internal/api"
	"github.com/keepon/remindd/internal/circuitbreaker"
	"github.com/keepon/remindd/internal/config"
	"github.com/keepon/remindd/internal/db"
	"github.com/keepon/remindd/internal/metrics"
	"github.com/keepon/remindd/internal/observ"
	"github.com/keepon/remindd/internal/recurrence"
	"github.com/keepon/remindd/internal/redis"
	"github.com/keepon/remindd/internal/reminder"
	"github.com/keepon/remindd/internal/worker"
)

const gaugeInterval = 15 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel, observ.FileConfig{Path: cfg.LogFile})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting remindd",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("reminder_schedule", cfg.ReminderSchedule),
	)

	schedule, err := recurrence.ParseSchedule(cfg.ReminderSchedule)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.New(ctx, db.Config{
		URL:      cfg.DBURL,
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
		MaxConns: int32(cfg.DBMaxConns),
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	store := db.NewStore(database, logger)

	// Redis backs relay idempotency and API rate limiting; both degrade without it.
	var redisClient *redis.Client
	if cfg.RedisEnabled() {
		redisClient, err = redis.New(ctx, redis.Config{
			URL:       cfg.RedisURL,
			Addr:      cfg.RedisAddr(),
			Password:  cfg.RedisPassword,
			DB:        cfg.RedisDB,
			PoolSize:  cfg.RedisPoolSize,
			KeyPrefix: cfg.RedisKeyPrefix,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, delivery guard and rate limiting disabled", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	builder := reminder.NewBuilder(reminder.Links{
		BaseURL:         cfg.BaseURL,
		BookingShortURL: cfg.BookingShortURL,
	}, logger, time.Now)
	runner := reminder.NewRunner(store, builder, logger)

	scheduler := recurrence.New(recurrence.Config{
		Name:     reminder.TaskName,
		Schedule: schedule,
	}, store, func(ctx context.Context) error {
		_, err := runner.Run(ctx)
		return err
	}, logger)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scheduler.Start(ctx)
	}()
	go func() {
		defer wg.Done()
		reportGauges(ctx, database, redisClient, store, logger)
	}()

	breakers := circuitbreaker.NewRegistry()
	if cfg.RelayEnabled {
		sender, err := buildSender(ctx, cfg, breakers, logger)
		if err != nil {
			return err
		}

		var guard worker.Guard
		if redisClient != nil {
			guard = redis.NewDeliveryGuard(redisClient, logger)
		}

		relay := worker.New(store, sender, guard, worker.Config{
			PollInterval: cfg.RelayPollInterval,
			BatchSize:    cfg.RelayBatchSize,
			MaxRetries:   cfg.RelayMaxRetries,
		}, logger)

		wg.Add(1)
		go func() {
			defer wg.Done()
			relay.Start(ctx)
		}()
	}

	var limiter api.Limiter
	if redisClient != nil && cfg.RateLimitPerMinute > 0 {
		limiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  cfg.RateLimitPerMinute,
			Window: time.Minute,
		})
	}

	checks := map[string]api.Check{"postgres": database.Health}
	if redisClient != nil {
		checks["redis"] = redisClient.Ping
	}

	handler := api.NewHandler(logger, runner, scheduler, api.Options{
		ScheduleSpec: cfg.ReminderSchedule,
		Breakers:     breakers,
		Checks:       checks,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      api.NewRouter(handler, limiter, logger),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrors <- err
		}
	}()

	var runErr error
	select {
	case err := <-serverErrors:
		runErr = fmt.Errorf("server error: %w", err)
		stop()
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		_ = srv.Close()
		if runErr == nil {
			runErr = fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}

	wg.Wait()
	logger.Info("remindd stopped")
	return runErr
}

// reportGauges refreshes connection and outbox depth gauges until ctx ends.
func reportGauges(ctx context.Context, database *db.DB, redisClient *redis.Client, store *db.Store, logger *zap.Logger) {
	ticker := time.NewTicker(gaugeInterval)
	defer ticker.Stop()

	for {
		metrics.SetDBConnections(int(database.AcquiredConns()))
		if redisClient != nil {
			metrics.SetRedisConnections(redisClient.TotalConns())
		}

		depth, err := store.OutboxDepth(ctx)
		if err != nil && ctx.Err() == nil {
			logger.Warn("failed to read outbox depth", zap.Error(err))
		}
		for channel, n := range depth {
			metrics.SetOutboxDepth(channel, n)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
