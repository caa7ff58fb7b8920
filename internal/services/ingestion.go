package services

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/bobby-s-dev/weather-insights/internal/metrics"
	"github.com/bobby-s-dev/weather-insights/internal/models"
	"github.com/bobby-s-dev/weather-insights/internal/store"
)

const (
	maxIngestWorkers = 8
	maxRetryDelay    = 5 * time.Second
	writeTimeout     = 5 * time.Second
)

type SampleWriter interface {
	InsertSample(ctx context.Context, sample models.WeatherSample) error
}

// SampleListener runs after a sample is stored for the first time.
type SampleListener func(ctx context.Context, sample models.WeatherSample)

type IngestionConfig struct {
	Workers     int
	QueueSize   int
	MaxAttempts int
	RetryDelay  time.Duration
}

// IngestionQueue decouples collection from persistence. The queue is
// bounded; when it is full the oldest waiting sample is dropped so Enqueue
// never blocks the scheduler.
type IngestionQueue struct {
	store   SampleWriter
	cfg     IngestionConfig
	logger  *zap.Logger
	metrics *metrics.Metrics

	queue     chan models.WeatherSample
	mu        sync.RWMutex
	closed    bool
	listeners []SampleListener

	group  *errgroup.Group
	cancel context.CancelFunc
}

func NewIngestionQueue(s SampleWriter, cfg IngestionConfig, logger *zap.Logger, m *metrics.Metrics) *IngestionQueue {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.Workers > maxIngestWorkers {
		cfg.Workers = maxIngestWorkers
	}
	if cfg.QueueSize < 1 {
		cfg.QueueSize = 1
	}
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}

	return &IngestionQueue{
		store:   s,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
		queue:   make(chan models.WeatherSample, cfg.QueueSize),
	}
}

// AddListener registers fn for stored samples. Call before Start.
func (q *IngestionQueue) AddListener(fn SampleListener) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.listeners = append(q.listeners, fn)
}

func (q *IngestionQueue) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.group, ctx = errgroup.WithContext(ctx)

	for i := 0; i < q.cfg.Workers; i++ {
		worker := i
		q.group.Go(func() error {
			q.work(ctx, worker)
			return nil
		})
	}

	q.logger.Info("Ingestion workers started",
		zap.Int("workers", q.cfg.Workers),
		zap.Int("queue_size", q.cfg.QueueSize))
}

// Enqueue returns false only when the queue has been shut down.
func (q *IngestionQueue) Enqueue(sample models.WeatherSample) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		q.metrics.SamplesDropped.WithLabelValues("closed").Inc()
		return false
	}

	for {
		select {
		case q.queue <- sample:
			q.metrics.QueueDepth.Set(float64(len(q.queue)))
			return true
		default:
		}

		select {
		case dropped := <-q.queue:
			q.metrics.SamplesDropped.WithLabelValues("queue_full").Inc()
			q.logger.Warn("Ingestion queue full, dropping oldest sample",
				zap.String("location", dropped.LocationID),
				zap.Time("collected_at", dropped.CollectedAt),
				zap.Int("capacity", cap(q.queue)))
		default:
		}
	}
}

func (q *IngestionQueue) pending() int {
	return len(q.queue)
}

// Shutdown stops accepting samples, drains what is queued and waits for the
// workers. If ctx expires first, pending retries are abandoned.
func (q *IngestionQueue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.queue)
	q.mu.Unlock()

	if q.group == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		q.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		q.cancel()
		q.logger.Info("Ingestion queue drained")
		return nil
	case <-ctx.Done():
		q.cancel()
		<-done
		return ctx.Err()
	}
}

func (q *IngestionQueue) work(ctx context.Context, worker int) {
	for sample := range q.queue {
		q.metrics.QueueDepth.Set(float64(len(q.queue)))
		q.persist(ctx, sample)
	}
	q.logger.Debug("Ingestion worker stopped", zap.Int("worker", worker))
}

func (q *IngestionQueue) persist(ctx context.Context, sample models.WeatherSample) {
	delay := q.cfg.RetryDelay
	var lastErr error

	for attempt := 1; attempt <= q.cfg.MaxAttempts; attempt++ {
		err := q.insert(ctx, sample)
		if err == nil {
			q.metrics.SamplesIngested.Inc()
			q.notify(ctx, sample)
			return
		}
		if errors.Is(err, store.ErrDuplicateSample) {
			q.metrics.SamplesDuplicate.Inc()
			q.logger.Debug("Sample already stored",
				zap.String("location", sample.LocationID),
				zap.Time("collected_at", sample.CollectedAt))
			return
		}

		lastErr = err
		q.logger.Warn("Sample write failed",
			zap.String("location", sample.LocationID),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == q.cfg.MaxAttempts {
			break
		}
		if err := sleepWithContext(ctx, delay); err != nil {
			lastErr = err
			break
		}
		delay = nextBackoff(delay)
	}

	q.metrics.SamplesDropped.WithLabelValues("retries_exhausted").Inc()
	q.logger.Error("Data loss: sample dropped after retries",
		zap.String("id", sample.ID),
		zap.String("location", sample.LocationID),
		zap.Time("collected_at", sample.CollectedAt),
		zap.Float64("temperature_c", sample.TemperatureC),
		zap.Float64("humidity_pct", sample.HumidityPct),
		zap.Float64("wind_speed_kmh", sample.WindSpeedKmh),
		zap.String("condition", string(sample.ConditionCode)),
		zap.Error(lastErr))
}

func (q *IngestionQueue) insert(ctx context.Context, sample models.WeatherSample) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return q.store.InsertSample(ctx, sample)
}

func (q *IngestionQueue) notify(ctx context.Context, sample models.WeatherSample) {
	q.mu.RLock()
	listeners := q.listeners
	q.mu.RUnlock()

	for _, fn := range listeners {
		fn(ctx, sample)
	}
}

func nextBackoff(current time.Duration) time.Duration {
	if current <= 0 {
		return 100 * time.Millisecond
	}
	next := current * 2
	if next > maxRetryDelay {
		return maxRetryDelay
	}
	return next
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
