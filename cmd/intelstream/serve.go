package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"intelstream/internal/aiscore"
	"intelstream/internal/api"
	"intelstream/internal/cache"
	"intelstream/internal/config"
	"intelstream/internal/enrichment"
	"intelstream/internal/events"
	"intelstream/internal/feed"
	"intelstream/internal/observability"
	"intelstream/internal/pipeline"
	"intelstream/internal/store"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the enrichment server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger, err := observability.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initializing logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting intelstream",
		zap.String("version", Version),
		zap.Strings("providers", cfg.EnabledProviders()))

	adapters, err := buildAdapters(cfg)
	if err != nil {
		// Missing credentials or URLs are fatal at startup only.
		return fmt.Errorf("configuring providers: %w", err)
	}
	if len(adapters) == 0 {
		logger.Warn("no providers enabled, enrichments will yield nothing")
	}

	var redisClient *redis.Client
	if cfg.Cache.Backend == "redis" || cfg.Redis.PublishEvents {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: os.Getenv(cfg.Redis.PasswordEnv),
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		defer redisClient.Close()
	}

	cacheStore := buildCache(cfg, redisClient, logger)

	threats, err := store.Open(cfg.Store.Path, logger)
	if err != nil {
		return fmt.Errorf("opening threat store: %w", err)
	}
	defer threats.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hub := events.NewHub(64)
	var sink events.Sink = hub
	if cfg.Redis.PublishEvents && redisClient != nil {
		sink = events.Multi{hub, events.NewRedisSink(redisClient, cfg.Redis.EventsChannel)}
	}

	var metrics *observability.Metrics
	if cfg.Metrics.Enabled {
		metrics = observability.NewMetrics()
	}

	orch := pipeline.New(adapters, cacheStore, threats, sink, logger, metrics)

	if cfg.Cache.PruneInterval > 0 {
		cache.StartPruner(ctx, cacheStore, cfg.Cache.Duration, cfg.Cache.PruneInterval, logger)
	}

	if cfg.Feed.Enabled {
		poller := feed.NewPoller(cfg.Feed, orch, logger)
		go poller.Run(ctx)
	}

	var limiter *api.Limiter
	if cfg.Server.RateLimit.Enabled {
		limiter = api.NewLimiter(redisClient, cfg.Server.RateLimit, logger)
	}

	var scorer *aiscore.Client
	if cfg.AI.Enabled {
		scorer, err = aiscore.NewClient(cfg.AI, os.Getenv(cfg.AI.APIKeyEnv), logger)
		if err != nil {
			return fmt.Errorf("configuring AI scoring: %w", err)
		}
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      api.New(ctx, orch, hub, threats, limiter, scorer, logger, cfg.Metrics.Enabled).Router(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", zap.String("signal", sig.String()))
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}
	logger.Info("server stopped")
	return nil
}

// loadConfig reads the configured file, falling back to defaults when the
// file does not exist.
func loadConfig() (*config.Config, error) {
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return config.DefaultConfig(), nil
	}
	return config.Load(configPath)
}

// buildAdapters constructs enabled providers in priority order.
func buildAdapters(cfg *config.Config) ([]enrichment.Adapter, error) {
	var adapters []enrichment.Adapter

	if cfg.Providers.VirusTotal.Enabled {
		a, err := enrichment.NewVirusTotalAdapter(cfg.Providers.VirusTotal)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if cfg.Providers.AbuseIPDB.Enabled {
		a, err := enrichment.NewAbuseIPDBAdapter(cfg.Providers.AbuseIPDB)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if cfg.Providers.ThreatFox.Enabled {
		a, err := enrichment.NewThreatFoxAdapter(cfg.Providers.ThreatFox)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	if cfg.Providers.PulseDive.Enabled {
		a, err := enrichment.NewPulseDiveAdapter(cfg.Providers.PulseDive)
		if err != nil {
			return nil, err
		}
		adapters = append(adapters, a)
	}
	return adapters, nil
}

// buildCache selects the cache backend.
func buildCache(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) cache.Store {
	switch cfg.Cache.Backend {
	case "redis":
		return cache.NewRedisStore(redisClient, cfg.Cache.Duration, logger)
	case "memory":
		return cache.NewMemoryStore(cfg.Cache.Duration)
	case "none":
		return cache.Noop{}
	default:
		return cache.NewSQLiteStore(cfg.Cache.Path, cfg.Cache.Duration, logger)
	}
}
