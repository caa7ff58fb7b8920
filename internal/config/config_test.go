package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DEFAULT_LOCATIONS", "")
	t.Setenv("LOCATIONS_FILE", "")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "openmeteo", cfg.WeatherAPI.Provider)
	assert.Equal(t, 10*time.Second, cfg.WeatherAPI.Timeout)
	assert.Equal(t, 4, cfg.Ingestion.Workers)
	assert.Equal(t, 256, cfg.Ingestion.QueueSize)
	assert.Equal(t, 3, cfg.Ingestion.MaxAttempts)
	assert.Equal(t, 24*time.Hour, cfg.Insight.Lookback)
	assert.Equal(t, 0.5, cfg.Insight.TrendEpsilon)
	assert.Equal(t, 5*time.Second, cfg.LLM.Timeout)
	assert.False(t, cfg.LLMEnabled())
	assert.Equal(t, 500, cfg.Export.PageSize)
	assert.Equal(t, "memory", cfg.Storage.Driver)
	assert.Empty(t, cfg.Kafka.Brokers)

	require.Len(t, cfg.Scheduler.Locations, 1)
	assert.Equal(t, "Florianópolis", cfg.Scheduler.Locations[0].Name)
	assert.Equal(t, 60, cfg.Scheduler.Locations[0].IntervalMinutes)
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("INGEST_WORKERS", "8")
	t.Setenv("LLM_API_KEY", "sk-test")
	t.Setenv("KAFKA_BROKERS", "kafka-1:9092, kafka-2:9092")
	t.Setenv("DEFAULT_LOCATIONS", "Recife:-8.05:-34.9:15,Curitiba:-25.43:-49.27")
	t.Setenv("EXPORT_TIMEZONE", "America/Sao_Paulo")

	cfg, err := LoadConfig()
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Ingestion.Workers)
	assert.True(t, cfg.LLMEnabled())
	assert.Equal(t, []string{"kafka-1:9092", "kafka-2:9092"}, cfg.Kafka.Brokers)

	require.Len(t, cfg.Scheduler.Locations, 2)
	assert.Equal(t, 15, cfg.Scheduler.Locations[0].IntervalMinutes)
	assert.Equal(t, 60, cfg.Scheduler.Locations[1].IntervalMinutes)
	assert.True(t, cfg.Scheduler.Locations[1].Active)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"unknown provider", "WEATHER_PROVIDER", "accuweather"},
		{"zero queue", "INGEST_QUEUE_SIZE", "0"},
		{"bad lookback", "STATS_LOOKBACK", "yesterday"},
		{"postgres without dsn", "STORAGE_DRIVER", "postgres"},
		{"bad timezone", "EXPORT_TIMEZONE", "Mars/Olympus"},
		{"zero interval location", "DEFAULT_LOCATIONS", "Recife:-8.05:-34.9:0"},
		{"malformed location", "DEFAULT_LOCATIONS", "Recife"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadLocationsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locations.yaml")
	content := `
locations:
  - name: Florianópolis
    latitude: -27.5954
    longitude: -48.5480
    interval_minutes: 30
  - id: poa
    name: Porto Alegre
    latitude: -30.03
    longitude: -51.23
    active: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	locations, err := LoadLocationsFile(path, 45)
	require.NoError(t, err)
	require.Len(t, locations, 2)

	assert.Equal(t, 30, locations[0].IntervalMinutes)
	assert.True(t, locations[0].Active)
	assert.Equal(t, "poa", locations[1].ID)
	assert.Equal(t, 45, locations[1].IntervalMinutes)
	assert.False(t, locations[1].Active)
}

func TestLoadLocationsFileMissing(t *testing.T) {
	_, err := LoadLocationsFile(filepath.Join(t.TempDir(), "nope.yaml"), 60)
	assert.Error(t, err)
}
