package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
)

// notify-worker drains the appointment change stream written by the
// api-server and hands each change to the delivery notifier.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Bootstrap(os.Stderr, "notify-worker").Fatal().Err(err).Msg("config load error")
	}

	logger := logging.Init("notify-worker", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Dur("interval", cfg.WorkerInterval).
		Str("stream", cfg.NotifyStream).
		Str("group", cfg.NotifyGroup).
		Msg("notify-worker starting up")

	if !cfg.RedisEnabled() {
		logger.Fatal().Msg("REDIS_ADDR or REDIS_URL is required")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := redisclient.NewRedisClient(rootCtx, redisclient.Options{
		Addr:     cfg.RedisAddr,
		Username: cfg.RedisUsername,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error().Err(err).Msg("error closing redis")
		}
	}()
	logger.Info().Msg("connected to Redis")

	hostname, _ := os.Hostname()
	consumer := notify.NewStreamConsumer(rdb, cfg.NotifyStream, cfg.NotifyGroup,
		fmt.Sprintf("%s-%d", hostname, os.Getpid()), logger)
	if err := consumer.EnsureGroup(rootCtx); err != nil {
		logger.Fatal().Err(err).Msg("consumer group setup failed")
	}

	// Delivery channels (email, SMS, LINE) live behind this notifier.
	var handler scheduling.Notifier = notify.NewLogNotifier(logger)

	runOnce(rootCtx, consumer, handler, logger)

	ticker := time.NewTicker(cfg.WorkerInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rootCtx.Done():
			logger.Info().Msg("shutdown signal received, stopping notify worker")
			return
		case <-ticker.C:
			runOnce(rootCtx, consumer, handler, logger)
		}
	}
}

func runOnce(ctx context.Context, c *notify.StreamConsumer, handler scheduling.Notifier, logger zerolog.Logger) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	reclaimed, err := c.Reclaim(runCtx, handler)
	if err != nil {
		logger.Error().Err(err).Msg("reclaim run error")
	}

	delivered := 0
	for {
		n, err := c.RunOnce(runCtx, handler)
		delivered += n
		if err != nil {
			logger.Error().Err(err).Msg("delivery run error")
			break
		}
		if n == 0 || runCtx.Err() != nil {
			break
		}
	}

	logger.Info().
		Int("delivered", delivered).
		Int("reclaimed", reclaimed).
		Dur("took", time.Since(start)).
		Msg("notify run complete")
}
