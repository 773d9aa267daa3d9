package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/hackgods/clinic-scheduling/internal/api"
	"github.com/hackgods/clinic-scheduling/internal/config"
	"github.com/hackgods/clinic-scheduling/internal/db"
	"github.com/hackgods/clinic-scheduling/internal/logging"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	"github.com/hackgods/clinic-scheduling/internal/notify"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/scheduling"
	"github.com/hackgods/clinic-scheduling/internal/timeutil"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Bootstrap(os.Stderr, "api-server").Fatal().Err(err).Msg("config load error")
	}

	logger := logging.Init("api-server", cfg.Env, cfg.LogLevel)
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreDriver).
		Msg("api-server starting up")

	loc, err := timeutil.LoadLocation(cfg.ClinicTimezone)
	if err != nil {
		logger.Fatal().Err(err).Str("timezone", cfg.ClinicTimezone).Msg("invalid clinic timezone")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var checks []api.Check

	var store scheduling.Store
	switch cfg.StoreDriver {
	case config.StorePostgres:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolConfig{MaxConns: cfg.PostgresMaxConn, MinConns: 2})
		cancelPg()
		if err != nil {
			logger.Fatal().Err(err).Msg("postgres connection error")
		}
		defer pgPool.Close()
		logger.Info().Msg("connected to Postgres")

		store = scheduling.NewPgStore(pgPool)
		checks = append(checks, api.Check{Name: "postgres", Critical: true, Ping: pgPool.Ping})
	default:
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		store = scheduling.NewMemStore()
	}

	// Redis is optional. Without it locks are process-local and changes
	// are only logged.
	var (
		locker   redisclient.Locker
		notifier scheduling.Notifier
		rdb      *redis.Client
	)
	if cfg.RedisEnabled() {
		rdb, err = redisclient.NewRedisClient(rootCtx, redisclient.Options{
			Addr:     cfg.RedisAddr,
			Username: cfg.RedisUsername,
			Password: cfg.RedisPassword,
			PoolSize: int(cfg.PostgresMaxConn),
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

		locker = redisclient.NewRedisLocker(rdb, cfg.LockTTL, cfg.LockWait)
		notifier = notify.NewStreamPublisher(rdb, cfg.NotifyStream)
		checks = append(checks, api.Check{Name: "redis", Ping: redisclient.HealthCheck(rdb)})
	} else {
		logger.Warn().Msg("REDIS_ADDR not set, using process-local locks")
		locker = redisclient.NewLocalLocker(cfg.LockWait)
		notifier = notify.NewLogNotifier(logger)
	}

	var syncer scheduling.CalendarSyncer
	if cfg.CalendarSyncURL != "" {
		syncer = notify.NewWebhookCalendarSyncer(cfg.CalendarSyncURL, 5*time.Second)
	}

	var (
		m              *metrics.SchedulingMetrics
		metricsHandler http.Handler
	)
	if cfg.MetricsEnabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		m = metrics.NewSchedulingMetrics(reg)
		metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	engine := scheduling.NewEngine(store, scheduling.EngineConfig{
		Location:               loc,
		SlotGranularityMinutes: cfg.SlotGranularityMinutes,
		Logger:                 logger,
		Metrics:                m,
	})
	effects := scheduling.NewSideEffects(notifier, syncer, logger, m)
	svc := scheduling.NewService(store, engine, locker, effects, logger, m)
	avail := scheduling.NewAvailabilityService(store, engine, logger)

	router := api.NewRouter(api.RouterConfig{
		Service:      svc,
		Availability: avail,
		Health:       api.NewHealthHandler(cfg.Env, version, checks...),
		Metrics:      metricsHandler,
		Logger:       logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-rootCtx.Done():
	case err := <-serverErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	logger.Info().Msg("shutting down api-server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
	}
}
