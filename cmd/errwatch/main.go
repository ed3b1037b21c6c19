package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/NikhilSetiya/errwatch/internal/api"
	"github.com/NikhilSetiya/errwatch/internal/cache"
	"github.com/NikhilSetiya/errwatch/internal/capture"
	"github.com/NikhilSetiya/errwatch/internal/database"
	"github.com/NikhilSetiya/errwatch/internal/engine"
	"github.com/NikhilSetiya/errwatch/internal/gateway"
	"github.com/NikhilSetiya/errwatch/internal/notifications"
	"github.com/NikhilSetiya/errwatch/internal/notifications/channels"
	"github.com/NikhilSetiya/errwatch/internal/remediation"
	"github.com/NikhilSetiya/errwatch/internal/supabase"
	"github.com/NikhilSetiya/errwatch/pkg/config"
	"github.com/NikhilSetiya/errwatch/pkg/health"
	"github.com/NikhilSetiya/errwatch/pkg/logging"
	"github.com/NikhilSetiya/errwatch/pkg/metrics"
	"github.com/NikhilSetiya/errwatch/pkg/resilience"
	"github.com/NikhilSetiya/errwatch/pkg/tracing"
)

var version = "dev"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: "errwatch",
		Version:     version,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	logging.SetGlobalLogger(logger)

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("errwatch exited")
	}
}

func run(cfg *config.Config, logger *logging.Logger) error {
	m := metrics.NewMetrics(&metrics.Config{Namespace: "errwatch", Enabled: cfg.Metrics.Enabled})

	tracer, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    "errwatch",
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SampleRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return fmt.Errorf("tracing: %w", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tracer.Shutdown(ctx)
	}()

	healthSvc := health.NewService(logger, &health.Config{
		Timeout:  5 * time.Second,
		Metadata: map[string]string{"version": version, "store": cfg.Store.Driver},
	})

	gw, closeStore, err := openStore(cfg, logger, healthSvc)
	if err != nil {
		return err
	}
	defer closeStore()

	if seeder, ok := gw.(gateway.Seeder); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		n, err := seeder.EnsureAutoFixes(ctx, remediation.DefaultAutoFixes())
		cancel()
		if err != nil {
			logger.WithError(err).Warn("Failed to seed auto-fix definitions")
		} else if n > 0 {
			logger.Info("Seeded auto-fix definitions", "count", n)
		}
	}

	var store cache.Store = cache.NewMemory()
	if cfg.Redis.Enabled {
		redisStore, err := cache.NewRedisStore(&cfg.Redis)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer redisStore.Close()
		healthSvc.RegisterChecker("redis", health.NewPingChecker("redis", redisStore))
		store = redisStore
	}

	zapLogger, err := newZapLogger(cfg.Logging.Level)
	if err != nil {
		return fmt.Errorf("zap: %w", err)
	}
	defer func() { _ = zapLogger.Sync() }()

	hub := capture.NewHub(logger)
	eng, err := engine.New(engine.ConfigFromApp(cfg), engine.Dependencies{
		Source:  hub,
		Gateway: gw,
		Sink:    newNotifier(cfg, zapLogger, logger, m),
		Store:   store,
		Logger:  logger,
		Metrics: m,
		Tracer:  tracer,
	})
	if err != nil {
		return err
	}
	healthSvc.RegisterChecker("engine", health.NewCustomChecker("engine", eng.HealthCheck))

	if err := eng.Init(context.Background()); err != nil {
		return err
	}

	router := api.NewRouter(cfg, api.RouterDeps{
		Monitor: eng,
		Rules:   eng.Rules(),
		Health:  healthSvc,
		Logger:  logger,
		Metrics: m,
		Tracer:  tracer,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	hub.Go("http_server", func() error {
		logger.Info("Starting HTTP server", "addr", server.Addr, "store", cfg.Store.Driver)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
			return err
		}
		return nil
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		logger.Info("Shutting down", "signal", sig.String())
	case err := <-serverErr:
		logger.WithError(err).Error("HTTP server failed")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	// Teardown runs the engine's hook, which disposes it with a final flush
	hub.Teardown()
	hub.Wait()
	logger.Info("errwatch stopped")
	return nil
}

// openStore builds the persistence gateway for the configured driver
func openStore(cfg *config.Config, logger *logging.Logger, healthSvc *health.Service) (gateway.Gateway, func(), error) {
	switch cfg.Store.Driver {
	case config.StorePostgres, config.StoreMySQL:
		db, err := database.New(cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("database: %w", err)
		}
		healthSvc.RegisterChecker("database", health.NewPingChecker("database", db))
		logger.Info("Database connection established", "driver", cfg.Store.Driver)
		return database.NewRepository(db, logger), func() { _ = db.Close() }, nil
	case config.StoreSupabase:
		gw, err := supabase.New(&cfg.Supabase, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("supabase: %w", err)
		}
		return gw, func() {}, nil
	default:
		logger.Warn("Using the in-memory store, records are lost on exit")
		return gateway.NewMemory(), func() {}, nil
	}
}

// newNotifier registers the log channel and every configured webhook.
// Webhooks sit behind their own circuit breaker.
func newNotifier(cfg *config.Config, logger *zap.Logger, appLogger *logging.Logger, m *metrics.Metrics) *notifications.Service {
	svc := notifications.NewService(logger, m)
	client := &http.Client{Timeout: 10 * time.Second}

	protect := func(h notifications.ChannelHandler) notifications.ChannelHandler {
		if cfg.Monitor.BreakerFailureLimit <= 0 {
			return h
		}
		return notifications.Protect(h, resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			Name:        h.Name(),
			Timeout:     cfg.Monitor.BreakerResetInterval,
			ReadyToTrip: resilience.ConsecutiveFailures(uint32(cfg.Monitor.BreakerFailureLimit)),
			Logger:      appLogger,
		}))
	}

	svc.RegisterChannelHandler(channels.NewLogHandler(logger))
	if cfg.Notifications.SlackWebhookURL != "" {
		svc.RegisterChannelHandler(protect(channels.NewSlackHandler(channels.SlackConfig{
			WebhookURL: cfg.Notifications.SlackWebhookURL,
			Channel:    cfg.Notifications.SlackChannel,
			Username:   "errwatch",
		}, logger, client)))
	}
	if cfg.Notifications.TeamsWebhookURL != "" {
		svc.RegisterChannelHandler(protect(channels.NewTeamsHandler(cfg.Notifications.TeamsWebhookURL, logger, client)))
	}
	return svc
}

func newZapLogger(level string) (*zap.Logger, error) {
	if level == "debug" {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
