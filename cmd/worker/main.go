package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"lotwsync/internal/api"
	"lotwsync/internal/config"
	"lotwsync/internal/cty"
	"lotwsync/internal/database"
	"lotwsync/internal/logging"
	"lotwsync/internal/lotw"
	"lotwsync/internal/metrics"
	"lotwsync/internal/models"
	"lotwsync/internal/normalize"
	"lotwsync/internal/queue"
	"lotwsync/internal/reconcile"
	"lotwsync/internal/worker"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database, logging.Component(&logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("driver", cfg.Database.Driver).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient, err := initRedis(ctx, cfg, &logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	normalizer := normalize.New(loadResolver(cfg, &logger), logging.Component(&logger, "normalize"))
	reconciler := reconcile.New(db, cfg.Worker.MatchTolerance, logging.Component(&logger, "reconcile"))
	client := lotw.New(cfg.LoTW.BaseURL,
		lotw.WithTimeout(cfg.LoTW.Timeout),
		lotw.WithRateLimit(cfg.LoTW.RequestsPerSecond, cfg.LoTW.Burst),
		lotw.WithUserAgent(cfg.LoTW.UserAgent),
	)
	broker := queue.New(redisClient, cfg.Redis.KeyPrefix, cfg.Worker.ConsumerName)

	startDate, err := time.Parse(models.DateLayout, cfg.LoTW.StartDate)
	if err != nil {
		return fmt.Errorf("lotw start_date: %w", err)
	}

	syncWorker := worker.NewSyncWorker(db, client, broker, normalizer, reconciler, worker.Options{
		Retry:           worker.RetryPolicy{MaxRetries: cfg.Worker.Retries(), Delay: cfg.Worker.RetryDelay},
		BlockTimeout:    cfg.Worker.BlockTimeout,
		PromoteInterval: cfg.Worker.PromoteInterval,
		TaskTimeout:     cfg.Worker.TaskTimeout,
		HeartbeatTTL:    cfg.Worker.HeartbeatTTL,
		StartDate:       startDate,
	}, logging.Component(&logger, "sync-worker"))

	var opsServer *api.HTTPServer
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		opsServer = api.NewHTTPServer(cfg.Monitoring, db, broker, syncWorker, logging.Component(&logger, "ops-http"))
		go func() {
			if err := opsServer.Start(); err != nil {
				logger.Error().Err(err).Msg("ops http server stopped")
			}
		}()
	}

	logger.Info().
		Str("consumer", cfg.Worker.ConsumerName).
		Int("max_retries", cfg.Worker.Retries()).
		Dur("retry_delay", cfg.Worker.RetryDelay).
		Msg("configuration loaded")

	runErr := syncWorker.Run(ctx)
	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		logger.Error().Err(runErr).Msg("sync worker failed")
	} else {
		runErr = nil
	}

	if opsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = opsServer.Shutdown(shutdownCtx)
	}

	logger.Info().Msg("shutdown complete")
	return runErr
}

func loadConfigAndLogger() (*config.Config, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, zerolog.Logger{}, nil, fmt.Errorf("init logger: %w", err)
	}
	logger := baseLogger.With().Str("component", "worker-main").Logger()

	return cfg, logger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, error) {
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})

	// the queue lives in redis, so there is nothing to fall back to
	if err := redisClient.Ping(ctx).Err(); err != nil {
		_ = redisClient.Close()
		logger.Error().Err(err).Str("addr", cfg.Redis.Address).Msg("redis connection failed")
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return redisClient, nil
}

func loadResolver(cfg *config.Config, logger *zerolog.Logger) normalize.Resolver {
	if cfg.CTY.Path == "" {
		logger.Warn().Msg("cty.path not set, country fields come from records only")
		return nil
	}

	db, err := cty.Load(cfg.CTY.Path)
	if err != nil {
		logger.Warn().Err(err).Str("cty_path", cfg.CTY.Path).Msg("load cty database, continuing without lookup")
		return nil
	}

	logger.Info().Int("prefixes", db.Len()).Str("cty_path", cfg.CTY.Path).Msg("cty database loaded")
	return db
}
