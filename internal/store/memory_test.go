package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

var base = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func sampleAt(locationID string, offset time.Duration, temp float64) models.WeatherSample {
	return models.WeatherSample{
		LocationID:   locationID,
		CollectedAt:  base.Add(offset),
		TemperatureC: temp,
	}
}

func TestMemoryStoreRejectsDuplicates(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.InsertSample(ctx, sampleAt("floripa", 0, 22)))
	err := s.InsertSample(ctx, sampleAt("floripa", 0, 23))
	assert.ErrorIs(t, err, ErrDuplicateSample)

	// Same instant at another location is a different sample.
	require.NoError(t, s.InsertSample(ctx, sampleAt("recife", 0, 29)))
	assert.Equal(t, 2, s.Count())
}

func TestMemoryStoreSamplesInRangeOrdered(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	// Out of order on purpose.
	require.NoError(t, s.InsertSample(ctx, sampleAt("floripa", time.Hour, 27)))
	require.NoError(t, s.InsertSample(ctx, sampleAt("floripa", 0, 22)))
	require.NoError(t, s.InsertSample(ctx, sampleAt("floripa", 30*time.Minute, 24)))
	require.NoError(t, s.InsertSample(ctx, sampleAt("floripa", 2*time.Hour, 30)))

	got, err := s.SamplesInRange(ctx, "floripa", base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, 22.0, got[0].TemperatureC)
	assert.Equal(t, 24.0, got[1].TemperatureC)
	assert.Equal(t, 27.0, got[2].TemperatureC)
}

func TestMemoryStoreListSamplesPaging(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.InsertSample(ctx, sampleAt("floripa", time.Duration(i)*time.Hour, float64(20+i))))
	}
	require.NoError(t, s.InsertSample(ctx, sampleAt("recife", 0, 30)))

	rows, total, err := s.ListSamples(ctx, models.SampleFilter{LocationID: "floripa"},
		models.PageRequest{Offset: 0, Limit: 2, Descending: true})
	require.NoError(t, err)
	assert.Equal(t, 5, total)
	require.Len(t, rows, 2)
	assert.Equal(t, 24.0, rows[0].TemperatureC)
	assert.Equal(t, 23.0, rows[1].TemperatureC)

	rows, total, err = s.ListSamples(ctx, models.SampleFilter{}, models.PageRequest{Offset: 4, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 6, total)
	assert.Len(t, rows, 2)

	rows, _, err = s.ListSamples(ctx, models.SampleFilter{}, models.PageRequest{Offset: 50, Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestMemoryStoreHonoursCancelledContext(t *testing.T) {
	s := NewMemoryStore()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.ErrorIs(t, s.InsertSample(ctx, sampleAt("floripa", 0, 1)), context.Canceled)
}
