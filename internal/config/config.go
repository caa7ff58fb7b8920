package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

type Config struct {
	Server struct {
		Port         string
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
		LogLevel     string
	}

	WeatherAPI struct {
		Provider          string
		OpenMeteoURL      string
		OpenWeatherURL    string
		OpenWeatherAPIKey string
		Timeout           time.Duration
	}

	Scheduler struct {
		DefaultIntervalMinutes int
		LocationsFile          string
		Locations              []models.Location
	}

	Ingestion struct {
		Workers     int
		QueueSize   int
		MaxAttempts int
		RetryDelay  time.Duration
	}

	Insight struct {
		Lookback            time.Duration
		TrendEpsilon        float64
		ClassificationBands string
		RefreshCron         string
	}

	Cache struct {
		Duration time.Duration
		MaxSize  int
	}

	LLM struct {
		Endpoint string
		APIKey   string
		Model    string
		Timeout  time.Duration
	}

	Export struct {
		PageSize int
		Timezone string
	}

	Storage struct {
		Driver      string
		PostgresDSN string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	Kafka struct {
		Brokers []string
		Topic   string
	}

	CircuitBreaker struct {
		Threshold int
		Timeout   time.Duration
	}

	Retry struct {
		MaxRetries int
		Delay      time.Duration
		Multiplier float64
	}
}

func LoadConfig() (*Config, error) {
	// Load .env file if exists
	if err := godotenv.Load(); err != nil {
		zap.L().Info("No .env file found, using environment variables")
	}

	cfg := &Config{}

	cfg.Server.Port = getEnv("FIBER_PORT", "8080")
	cfg.Server.ReadTimeout = parseDuration(getEnv("FIBER_READ_TIMEOUT", "10s"))
	cfg.Server.WriteTimeout = parseDuration(getEnv("FIBER_WRITE_TIMEOUT", "60s"))
	cfg.Server.LogLevel = getEnv("LOG_LEVEL", "info")

	cfg.WeatherAPI.Provider = strings.ToLower(getEnv("WEATHER_PROVIDER", "openmeteo"))
	cfg.WeatherAPI.OpenMeteoURL = getEnv("OPENMETEO_URL", "https://api.open-meteo.com/v1")
	cfg.WeatherAPI.OpenWeatherURL = getEnv("OPENWEATHER_URL", "https://api.openweathermap.org/data/2.5")
	cfg.WeatherAPI.OpenWeatherAPIKey = getEnv("OPENWEATHER_API_KEY", "")
	cfg.WeatherAPI.Timeout = parseDuration(getEnv("WEATHER_API_TIMEOUT", "10s"))

	cfg.Scheduler.DefaultIntervalMinutes = parseInt(getEnv("DEFAULT_INTERVAL_MINUTES", "60"))
	cfg.Scheduler.LocationsFile = getEnv("LOCATIONS_FILE", "")

	cfg.Ingestion.Workers = parseInt(getEnv("INGEST_WORKERS", "4"))
	cfg.Ingestion.QueueSize = parseInt(getEnv("INGEST_QUEUE_SIZE", "256"))
	cfg.Ingestion.MaxAttempts = parseInt(getEnv("INGEST_MAX_ATTEMPTS", "3"))
	cfg.Ingestion.RetryDelay = parseDuration(getEnv("INGEST_RETRY_DELAY", "200ms"))

	cfg.Insight.Lookback = parseDuration(getEnv("STATS_LOOKBACK", "24h"))
	cfg.Insight.TrendEpsilon = parseFloat(getEnv("TREND_EPSILON", "0.5"))
	cfg.Insight.ClassificationBands = getEnv("CLASSIFICATION_BANDS", "")
	cfg.Insight.RefreshCron = getEnv("INSIGHT_REFRESH_CRON", "@every 1h")

	cfg.Cache.Duration = parseDuration(getEnv("INSIGHT_CACHE_DURATION", "30m"))
	cfg.Cache.MaxSize = parseInt(getEnv("MAX_CACHE_SIZE", "1000"))

	cfg.LLM.Endpoint = getEnv("LLM_ENDPOINT", "https://api.openai.com/v1")
	cfg.LLM.APIKey = getEnv("LLM_API_KEY", "")
	cfg.LLM.Model = getEnv("LLM_MODEL", "gpt-4o-mini")
	cfg.LLM.Timeout = parseDuration(getEnv("LLM_TIMEOUT", "5s"))

	cfg.Export.PageSize = parseInt(getEnv("EXPORT_PAGE_SIZE", "500"))
	cfg.Export.Timezone = getEnv("EXPORT_TIMEZONE", "UTC")

	cfg.Storage.Driver = strings.ToLower(getEnv("STORAGE_DRIVER", "memory"))
	cfg.Storage.PostgresDSN = getEnv("POSTGRES_DSN", "")

	cfg.Redis.Addr = getEnv("REDIS_ADDR", "")
	cfg.Redis.Password = getEnv("REDIS_PASSWORD", "")
	cfg.Redis.DB = parseInt(getEnv("REDIS_DB", "0"))

	cfg.Kafka.Brokers = splitList(getEnv("KAFKA_BROKERS", ""))
	cfg.Kafka.Topic = getEnv("KAFKA_TOPIC", "weather.events")

	cfg.CircuitBreaker.Threshold = parseInt(getEnv("CIRCUIT_BREAKER_THRESHOLD", "3"))
	cfg.CircuitBreaker.Timeout = parseDuration(getEnv("CIRCUIT_BREAKER_TIMEOUT", "30s"))

	cfg.Retry.MaxRetries = parseInt(getEnv("MAX_RETRIES", "2"))
	cfg.Retry.Delay = parseDuration(getEnv("RETRY_DELAY", "500ms"))
	cfg.Retry.Multiplier = parseFloat(getEnv("RETRY_MULTIPLIER", "2"))

	var err error
	if cfg.Scheduler.LocationsFile != "" {
		cfg.Scheduler.Locations, err = LoadLocationsFile(cfg.Scheduler.LocationsFile, cfg.Scheduler.DefaultIntervalMinutes)
	} else {
		cfg.Scheduler.Locations, err = ParseLocations(
			getEnv("DEFAULT_LOCATIONS", "Florianópolis:-27.5954:-48.5480"),
			cfg.Scheduler.DefaultIntervalMinutes,
		)
	}
	if err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate rejects values the service cannot run with.
func (c *Config) Validate() error {
	var errs []error

	if c.WeatherAPI.Provider != "openmeteo" && c.WeatherAPI.Provider != "openweather" {
		errs = append(errs, fmt.Errorf("WEATHER_PROVIDER must be openmeteo or openweather, got %q", c.WeatherAPI.Provider))
	}
	if c.WeatherAPI.Provider == "openweather" && c.WeatherAPI.OpenWeatherAPIKey == "" {
		errs = append(errs, errors.New("OPENWEATHER_API_KEY is required for the openweather provider"))
	}
	if c.WeatherAPI.Timeout <= 0 {
		errs = append(errs, errors.New("WEATHER_API_TIMEOUT must be positive"))
	}
	if c.Scheduler.DefaultIntervalMinutes <= 0 {
		errs = append(errs, errors.New("DEFAULT_INTERVAL_MINUTES must be positive"))
	}
	if c.Ingestion.QueueSize <= 0 {
		errs = append(errs, errors.New("INGEST_QUEUE_SIZE must be positive"))
	}
	if c.Ingestion.MaxAttempts <= 0 {
		errs = append(errs, errors.New("INGEST_MAX_ATTEMPTS must be positive"))
	}
	if c.Insight.Lookback <= 0 {
		errs = append(errs, errors.New("STATS_LOOKBACK must be positive"))
	}
	if c.Insight.TrendEpsilon < 0 {
		errs = append(errs, errors.New("TREND_EPSILON must not be negative"))
	}
	if c.LLM.Timeout <= 0 {
		errs = append(errs, errors.New("LLM_TIMEOUT must be positive"))
	}
	if c.Export.PageSize <= 0 {
		errs = append(errs, errors.New("EXPORT_PAGE_SIZE must be positive"))
	}
	if _, err := time.LoadLocation(c.Export.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("EXPORT_TIMEZONE: %w", err))
	}
	if c.Storage.Driver != "memory" && c.Storage.Driver != "postgres" {
		errs = append(errs, fmt.Errorf("STORAGE_DRIVER must be memory or postgres, got %q", c.Storage.Driver))
	}
	if c.Storage.Driver == "postgres" && c.Storage.PostgresDSN == "" {
		errs = append(errs, errors.New("POSTGRES_DSN is required for the postgres driver"))
	}
	for _, loc := range c.Scheduler.Locations {
		if err := loc.Validate(); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// LLMEnabled reports whether narrative generation may call the model.
func (c *Config) LLMEnabled() bool {
	return c.LLM.APIKey != ""
}

type locationsFile struct {
	Locations []struct {
		ID              string  `yaml:"id"`
		Name            string  `yaml:"name"`
		Latitude        float64 `yaml:"latitude"`
		Longitude       float64 `yaml:"longitude"`
		IntervalMinutes int     `yaml:"interval_minutes"`
		Active          *bool   `yaml:"active"`
	} `yaml:"locations"`
}

// LoadLocationsFile reads tracked locations from a YAML file. Entries
// without an interval use defaultInterval; entries without "active" are
// active.
func LoadLocationsFile(path string, defaultInterval int) ([]models.Location, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read locations file: %w", err)
	}

	var file locationsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse locations file: %w", err)
	}

	locations := make([]models.Location, 0, len(file.Locations))
	for _, entry := range file.Locations {
		loc := models.Location{
			ID:              entry.ID,
			Name:            entry.Name,
			Latitude:        entry.Latitude,
			Longitude:       entry.Longitude,
			IntervalMinutes: entry.IntervalMinutes,
			Active:          true,
		}
		if loc.IntervalMinutes == 0 {
			loc.IntervalMinutes = defaultInterval
		}
		if entry.Active != nil {
			loc.Active = *entry.Active
		}
		locations = append(locations, loc)
	}
	return locations, nil
}

// ParseLocations reads "name:lat:lon[:interval]" entries separated by
// commas.
func ParseLocations(value string, defaultInterval int) ([]models.Location, error) {
	var locations []models.Location
	for _, entry := range splitList(value) {
		parts := strings.Split(entry, ":")
		if len(parts) != 3 && len(parts) != 4 {
			return nil, fmt.Errorf("invalid location %q, want name:lat:lon[:interval]", entry)
		}

		lat, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid latitude in %q: %w", entry, err)
		}
		lon, err := strconv.ParseFloat(strings.TrimSpace(parts[2]), 64)
		if err != nil {
			return nil, fmt.Errorf("invalid longitude in %q: %w", entry, err)
		}

		interval := defaultInterval
		if len(parts) == 4 {
			interval, err = strconv.Atoi(strings.TrimSpace(parts[3]))
			if err != nil {
				return nil, fmt.Errorf("invalid interval in %q: %w", entry, err)
			}
		}

		locations = append(locations, models.Location{
			Name:            strings.TrimSpace(parts[0]),
			Latitude:        lat,
			Longitude:       lon,
			IntervalMinutes: interval,
			Active:          true,
		})
	}
	return locations, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(value string) []string {
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseDuration(value string) time.Duration {
	duration, err := time.ParseDuration(value)
	if err != nil {
		zap.L().Warn("Failed to parse duration", zap.String("value", value), zap.Error(err))
		return 0
	}
	return duration
}

func parseInt(value string) int {
	intValue, err := strconv.Atoi(value)
	if err != nil {
		zap.L().Warn("Failed to parse int", zap.String("value", value), zap.Error(err))
		return 0
	}
	return intValue
}

func parseFloat(value string) float64 {
	floatValue, err := strconv.ParseFloat(value, 64)
	if err != nil {
		zap.L().Warn("Failed to parse float", zap.String("value", value), zap.Error(err))
		return 0
	}
	return floatValue
}
