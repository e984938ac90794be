package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/extra/redisotel/v9"
	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/the-events-calendar/commerce-gateway/internal/config"
	"github.com/the-events-calendar/commerce-gateway/internal/deferred"
	"github.com/the-events-calendar/commerce-gateway/internal/events"
	"github.com/the-events-calendar/commerce-gateway/internal/lock"
	"github.com/the-events-calendar/commerce-gateway/internal/obs"
	"github.com/the-events-calendar/commerce-gateway/internal/order"
	"github.com/the-events-calendar/commerce-gateway/internal/status"
	"github.com/the-events-calendar/commerce-gateway/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logFormat := envOrDefault("OBS_LOG_FORMAT", "json")
	logLevel := envOrDefault("OBS_LOG_LEVEL", "info")
	logger := obs.NewLogger(logFormat, logLevel).With().Str("component", "worker").Logger()

	obs.MustRegisterDomainMetrics(envOrDefault("OBS_METRICS_NAMESPACE", "gateway"), nil)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool := mustInitDatabase(ctx, cfg, logger)
	defer pool.Close()

	redisClient := mustInitRedis(ctx, cfg, logger)
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Error().Err(err).Msg("close redis")
		}
	}()

	registry := status.DefaultRegistry()
	registry.Freeze()

	orderStore := order.NewPGStore(pool)
	queue := deferred.Queue{R: redisClient, Prefix: cfg.DeferredRedisPrefix}
	dispatcher := &webhook.Dispatcher{
		Orders:       orderStore,
		Registry:     registry,
		Queue:        queue,
		Bus:          &events.Bus{Store: events.NewPGStore(pool)},
		Logger:       logger,
		StoreTimeout: cfg.StoreTimeout,
	}

	worker := deferred.Worker{
		Queue:        queue,
		Orders:       orderStore,
		Replay:       dispatcher,
		Locker:       lock.Locker{R: redisClient, RetryBackoff: cfg.LockRetryBackoff},
		Logger:       logger,
		PollInterval: cfg.DeferredPollInterval,
		LockTTL:      cfg.DeferredLockTTL,
		BatchSize:    cfg.DeferredBatchSize,
	}

	logger.Info().Msg("worker starting")
	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error().Err(err).Msg("worker stopped with error")
	} else {
		logger.Info().Msg("worker shutdown complete")
	}
}

func mustInitDatabase(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *pgxpool.Pool {
	poolConfig, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse database config")
	}
	poolConfig.ConnConfig.Tracer = obs.PGXTracer{}
	if poolConfig.ConnConfig.RuntimeParams == nil {
		poolConfig.ConnConfig.RuntimeParams = map[string]string{}
	}
	poolConfig.ConnConfig.RuntimeParams["application_name"] = "commerce-gateway-worker"
	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect database")
	}
	if err := pool.Ping(ctx); err != nil {
		logger.Fatal().Err(err).Msg("ping database")
	}
	return pool
}

func mustInitRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) *redis.Client {
	redisOpts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("parse redis url")
	}
	redisClient := redis.NewClient(redisOpts)
	if err := redisotel.InstrumentTracing(redisClient); err != nil {
		logger.Error().Err(err).Msg("instrument redis tracing")
	}
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal().Err(err).Msg("ping redis")
	}
	return redisClient
}

func envOrDefault(key, fallback string) string {
	if val, ok := os.LookupEnv(key); ok {
		trimmed := strings.TrimSpace(val)
		if trimmed != "" {
			return trimmed
		}
	}
	return fallback
}
