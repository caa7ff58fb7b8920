package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/weather-insights/internal/metrics"
	"github.com/bobby-s-dev/weather-insights/internal/models"
	"github.com/bobby-s-dev/weather-insights/pkg/client"
)

// ErrQueueClosed is returned when a sample is collected after ingestion
// shut down.
var ErrQueueClosed = errors.New("ingestion queue closed")

type WeatherProvider interface {
	Name() string
	FetchObservation(ctx context.Context, lat, lon float64) (*client.RawObservation, error)
}

type SampleEnqueuer interface {
	Enqueue(sample models.WeatherSample) bool
}

// Collector performs one provider call for a location and hands the
// normalized sample to ingestion.
type Collector struct {
	provider WeatherProvider
	queue    SampleEnqueuer
	timeout  time.Duration
	clock    clockwork.Clock
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

func NewCollector(provider WeatherProvider, queue SampleEnqueuer, timeout time.Duration, clock clockwork.Clock, logger *zap.Logger, m *metrics.Metrics) *Collector {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Collector{
		provider: provider,
		queue:    queue,
		timeout:  timeout,
		clock:    clock,
		logger:   logger,
		metrics:  m,
	}
}

func (c *Collector) Collect(ctx context.Context, loc models.Location) (models.WeatherSample, error) {
	start := c.clock.Now()

	fetchCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	obs, err := c.provider.FetchObservation(fetchCtx, loc.Latitude, loc.Longitude)
	c.metrics.CollectionDuration.Observe(c.clock.Since(start).Seconds())
	if err != nil {
		c.metrics.Collections.WithLabelValues("error").Inc()
		c.logger.Error("Weather collection failed",
			zap.String("location", loc.ID),
			zap.String("provider", c.provider.Name()),
			zap.Error(err))
		return models.WeatherSample{}, fmt.Errorf("collect %s: %w", loc.ID, err)
	}

	sample := Normalize(loc, obs, start)
	sample.ID = uuid.NewString()
	if sample.Source == "" {
		sample.Source = c.provider.Name()
	}

	if !c.queue.Enqueue(sample) {
		c.metrics.Collections.WithLabelValues("error").Inc()
		return sample, ErrQueueClosed
	}

	c.metrics.Collections.WithLabelValues("success").Inc()
	c.logger.Debug("Weather sample collected",
		zap.String("location", loc.ID),
		zap.Time("collected_at", sample.CollectedAt),
		zap.Float64("temperature", sample.TemperatureC))

	return sample, nil
}
