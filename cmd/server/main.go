package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/room-balance-monitor/internal/cache"
	"github.com/afroash/room-balance-monitor/internal/catalog"
	"github.com/afroash/room-balance-monitor/internal/collector"
	"github.com/afroash/room-balance-monitor/internal/config"
	"github.com/afroash/room-balance-monitor/internal/fetcher"
	"github.com/afroash/room-balance-monitor/internal/history"
	"github.com/afroash/room-balance-monitor/internal/logging"
	"github.com/afroash/room-balance-monitor/internal/metrics"
	"github.com/afroash/room-balance-monitor/internal/models"
	"github.com/afroash/room-balance-monitor/internal/server"
	"github.com/afroash/room-balance-monitor/internal/source"
	"github.com/afroash/room-balance-monitor/internal/storage"
)

const version = "v0.3.0"

func main() {
	// Parse flags
	configPath := flag.String("config", "configs/server.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.LoadAppConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := logging.New(logging.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	logger.Info().
		Str("version", version).
		Int("port", cfg.Server.Port).
		Msg("Starting Room Balance Monitor Server")
	logger.Debug().Str("config", cfg.String()).Msg("Configuration loaded")

	ctx := context.Background()

	// Setup database
	store, err := storage.Open(ctx, cfg.Storage.Driver, cfg.Storage.DBPath, cfg.Storage.DSN, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("driver", cfg.Storage.Driver).Msg("Failed to open store")
	}

	retentionCleaner := storage.NewRetentionCleaner(store, storage.RetentionCleanerConfig{
		RetentionDays: cfg.Storage.RetentionDays,
		CleanupPeriod: cfg.Storage.CleanupPeriod,
	}, logger)

	m := metrics.New()
	layer := newCacheLayer(ctx, cfg.Cache, logger)
	layer.SetObserver(m)

	portal, err := source.NewPortalSource(nil, source.PortalConfig{
		BaseURL:   cfg.Source.BaseURL,
		UserAgent: cfg.Source.UserAgent,
		Label:     cfg.Source.Label,
	}, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to create portal source")
	}

	f := fetcher.New(portal, store, fetcher.Config{
		Workers:        cfg.Fetcher.Workers,
		BatchSize:      cfg.Fetcher.BatchSize,
		BatchCooldown:  cfg.Fetcher.BatchCooldown,
		MaxJitter:      cfg.Fetcher.MaxJitter,
		RequestTimeout: cfg.Fetcher.RequestTimeout,
		ProgressBuffer: cfg.Fetcher.ProgressBuffer,
	}, logger)
	f.SetObserver(m)

	hub := server.NewProgressHub(cfg.Server.AuthToken, logger, cfg.Server.AllowedOrigins...)

	catalogPath := cfg.Catalog.Path
	service := collector.NewService(f, func() ([]models.CatalogEntry, error) {
		return catalog.Load(catalogPath, logger)
	}, logger)
	service.SetPublisher(hub)
	service.SetInvalidator(layer)

	loc, err := cfg.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to load time zone")
	}
	resolver := history.NewResolver(store, loc, logger)

	apiHandler := server.NewAPIHandler(resolver, store, service, layer, cfg.Cache.TTL, version, logger)
	handler := server.NewRouter(apiHandler, hub, m, server.RouterOptions{
		AuthToken:      cfg.Server.AuthToken,
		AllowedOrigins: cfg.Server.AllowedOrigins,
		Logger:         logger,
	})

	schedCtx, stopScheduler := context.WithCancel(ctx)
	defer stopScheduler()
	if cfg.Schedule.Interval > 0 {
		scheduler := collector.NewScheduler(service, cfg.Schedule.Interval, logger)
		go scheduler.Start(schedCtx)
	}
	if cfg.Schedule.RunOnStartup {
		if err := service.Trigger(collector.TriggerStartup); err != nil {
			logger.Warn().Err(err).Msg("Failed to start startup batch")
		}
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
	}

	// Start server in goroutine
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("Server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("Server failed")
		}
	}()

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("Server shutdown error")
	}

	stopScheduler()
	service.Close()
	logger.Info().Msg("Collector stopped")
	hub.Close()

	if retentionCleaner != nil {
		retentionCleaner.Stop()
		logger.Info().Msg("RetentionCleaner stopped")
	}
	if err := layer.Close(); err != nil {
		logger.Warn().Err(err).Msg("Cache close error")
	}
	if err := store.Close(); err != nil {
		logger.Error().Err(err).Msg("Store close error")
	}

	logger.Info().Msg("Server stopped")
}

// newCacheLayer builds the configured cache. An unreachable Redis disables
// caching instead of failing startup.
func newCacheLayer(ctx context.Context, cfg config.CacheSettings, logger zerolog.Logger) *cache.Layer {
	if !cfg.Enabled {
		logger.Info().Msg("Cache disabled")
		return cache.NewLayer(nil, logger)
	}

	switch cfg.Backend {
	case "memory":
		mem := cache.NewMemoryClient()
		mem.StartJanitor(time.Minute)
		return cache.NewLayer(mem, logger)
	default:
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		client, err := cache.NewRedisClient(connectCtx, cache.RedisOptions{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.Warn().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis unavailable, caching disabled")
			return cache.NewLayer(nil, logger)
		}
		return cache.NewLayer(client, logger)
	}
}
