package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/jonboulle/clockwork"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/weather-insights/internal/api"
	"github.com/bobby-s-dev/weather-insights/internal/config"
	"github.com/bobby-s-dev/weather-insights/internal/events"
	"github.com/bobby-s-dev/weather-insights/internal/logging"
	"github.com/bobby-s-dev/weather-insights/internal/metrics"
	"github.com/bobby-s-dev/weather-insights/internal/scheduler"
	"github.com/bobby-s-dev/weather-insights/internal/services"
	"github.com/bobby-s-dev/weather-insights/internal/store"
	"github.com/bobby-s-dev/weather-insights/pkg/client"
)

// sampleStore is what the services need from a storage backend.
type sampleStore interface {
	services.SampleWriter
	services.SampleReader
	services.SampleLister
}

func main() {
	// Initialize logger
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	zap.ReplaceGlobals(logger)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}

	if leveled, err := logging.New(cfg.Server.LogLevel); err != nil {
		logger.Warn("Invalid LOG_LEVEL, keeping info", zap.Error(err))
	} else {
		logger = leveled
		zap.ReplaceGlobals(logger)
	}
	defer logger.Sync()

	logger.Info("Starting Weather Insights Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clock := clockwork.NewRealClock()
	m := metrics.NewMetrics()

	samples, closeStore := openStore(ctx, cfg, logger)
	defer closeStore()

	reportCache, closeCache := openReportCache(ctx, cfg, clock, logger)
	defer closeCache()

	registry := services.NewLocationRegistry()
	for _, loc := range cfg.Scheduler.Locations {
		if _, err := registry.Upsert(loc); err != nil {
			logger.Fatal("Invalid location", zap.String("name", loc.Name), zap.Error(err))
		}
	}

	// Insight pipeline
	bands := services.DefaultBands()
	if cfg.Insight.ClassificationBands != "" {
		bands, err = services.ParseBands(cfg.Insight.ClassificationBands)
		if err != nil {
			logger.Fatal("Invalid CLASSIFICATION_BANDS", zap.Error(err))
		}
	}
	classifier, err := services.NewClassifier(bands, nil)
	if err != nil {
		logger.Fatal("Failed to initialize classifier", zap.Error(err))
	}

	var narrator services.Narrator
	if cfg.LLMEnabled() {
		narrator = client.NewLLMClient(client.LLMConfig{
			Endpoint:       cfg.LLM.Endpoint,
			APIKey:         cfg.LLM.APIKey,
			Model:          cfg.LLM.Model,
			Timeout:        cfg.LLM.Timeout,
			BreakerTimeout: cfg.CircuitBreaker.Timeout,
		}, logger)
		logger.Info("LLM narrative enabled", zap.String("model", cfg.LLM.Model))
	} else {
		logger.Info("LLM_API_KEY not set, using template narratives")
	}

	generator := services.NewInsightGenerator(
		registry,
		services.NewStatisticsEngine(samples, cfg.Insight.TrendEpsilon, clock),
		classifier,
		narrator,
		reportCache,
		services.InsightConfig{LLMTimeout: cfg.LLM.Timeout},
		clock,
		logger,
		m,
	)

	// Ingestion
	queue := services.NewIngestionQueue(samples, services.IngestionConfig{
		Workers:     cfg.Ingestion.Workers,
		QueueSize:   cfg.Ingestion.QueueSize,
		MaxAttempts: cfg.Ingestion.MaxAttempts,
		RetryDelay:  cfg.Ingestion.RetryDelay,
	}, logger, m)
	queue.AddListener(generator.InvalidateOnSample)

	var publisher *events.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = events.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, logger)
		queue.AddListener(publisher.OnSample)
		generator.AddListener(publisher.OnReport)
		logger.Info("Kafka events enabled",
			zap.Strings("brokers", cfg.Kafka.Brokers),
			zap.String("topic", cfg.Kafka.Topic))
	}
	queue.Start(ctx)

	// Collection
	collector := services.NewCollector(newProvider(cfg, logger), queue, cfg.WeatherAPI.Timeout, clock, logger, m)
	weatherScheduler := scheduler.NewScheduler(collector, clock, logger, m)

	refresher, err := scheduler.NewInsightRefresher(cfg.Insight.RefreshCron, generator, registry, cfg.Insight.Lookback, logger)
	if err != nil {
		logger.Fatal("Failed to initialize insight refresher", zap.Error(err))
	}

	exportLocation, _ := time.LoadLocation(cfg.Export.Timezone)
	exporter := services.NewExporter(samples, cfg.Export.PageSize, exportLocation, logger, m)

	// Create Fiber app
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		ErrorHandler: api.ErrorHandler,
	})

	// Setup handlers and routes
	handler := api.NewHandler(samples, generator, exporter, registry, weatherScheduler, api.Settings{
		DefaultPeriod:   cfg.Insight.Lookback,
		DefaultInterval: cfg.Scheduler.DefaultIntervalMinutes,
		CollectTimeout:  cfg.WeatherAPI.Timeout + 5*time.Second,
	}, logger)
	api.SetupRoutes(app, handler, logger)

	// Start schedules
	for _, loc := range registry.List() {
		if !loc.Active {
			continue
		}
		if err := weatherScheduler.Start(loc); err != nil {
			logger.Error("Failed to schedule location", zap.String("location", loc.ID), zap.Error(err))
		}
	}
	refresher.Start()

	// Start server in goroutine
	go func() {
		addr := ":" + cfg.Server.Port
		logger.Info("Starting server", zap.String("address", addr))

		if err := app.Listen(addr); err != nil {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop producers before draining the queue
	refresher.Stop()
	weatherScheduler.StopAll()

	if err := queue.Shutdown(shutdownCtx); err != nil {
		logger.Error("Ingestion queue did not drain", zap.Error(err))
	}

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logger.Error("Server shutdown failed", zap.Error(err))
	}

	if publisher != nil {
		if err := publisher.Close(); err != nil {
			logger.Warn("Failed to close Kafka publisher", zap.Error(err))
		}
	}

	logger.Info("Server stopped")
}

func newProvider(cfg *config.Config, logger *zap.Logger) services.WeatherProvider {
	clientCfg := client.ClientConfig{
		Timeout:        cfg.WeatherAPI.Timeout,
		MaxRetries:     cfg.Retry.MaxRetries,
		RetryDelay:     cfg.Retry.Delay,
		Multiplier:     cfg.Retry.Multiplier,
		Threshold:      cfg.CircuitBreaker.Threshold,
		BreakerTimeout: cfg.CircuitBreaker.Timeout,
	}

	if cfg.WeatherAPI.Provider == "openweather" {
		logger.Info("Using OpenWeatherMap provider")
		return client.NewOpenWeatherClient(cfg.WeatherAPI.OpenWeatherURL, cfg.WeatherAPI.OpenWeatherAPIKey, clientCfg, logger)
	}

	logger.Info("Using Open-Meteo provider")
	return client.NewOpenMeteoClient(cfg.WeatherAPI.OpenMeteoURL, clientCfg, logger)
}

func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (sampleStore, func()) {
	if cfg.Storage.Driver != "postgres" {
		logger.Info("Using in-memory sample store")
		return store.NewMemoryStore(), func() {}
	}

	pg, err := store.OpenPostgres(ctx, cfg.Storage.PostgresDSN)
	if err != nil {
		logger.Fatal("Failed to connect to Postgres", zap.Error(err))
	}
	if err := pg.EnsureSchema(ctx); err != nil {
		logger.Fatal("Failed to create schema", zap.Error(err))
	}

	logger.Info("Using Postgres sample store")
	return pg, func() {
		if err := pg.Close(); err != nil {
			logger.Warn("Failed to close Postgres", zap.Error(err))
		}
	}
}

func openReportCache(ctx context.Context, cfg *config.Config, clock clockwork.Clock, logger *zap.Logger) (services.ReportCache, func()) {
	if cfg.Redis.Addr == "" {
		cache := services.NewMemoryReportCache(cfg.Cache.Duration, cfg.Cache.MaxSize, clock, logger)
		return cache, cache.Stop
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	cache := store.NewRedisReportCache(rdb, cfg.Cache.Duration, logger)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := cache.Ping(pingCtx); err != nil {
		logger.Warn("Redis unreachable, reports will be regenerated on demand", zap.Error(err))
	} else {
		logger.Info("Using Redis report cache", zap.String("addr", cfg.Redis.Addr))
	}

	return cache, func() {
		if err := rdb.Close(); err != nil {
			logger.Warn("Failed to close Redis", zap.Error(err))
		}
	}
}
