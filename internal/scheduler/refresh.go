package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

type ReportRegenerator interface {
	Regenerate(ctx context.Context, locationID string, period time.Duration) (*models.InsightReport, error)
}

type LocationSource interface {
	List() []models.Location
}

// InsightRefresher regenerates the reports of every active location on a
// cron schedule so readers hit a warm cache.
type InsightRefresher struct {
	cron      *cron.Cron
	regen     ReportRegenerator
	locations LocationSource
	period    time.Duration
	timeout   time.Duration
	logger    *zap.Logger

	mu      sync.Mutex
	running bool
}

func NewInsightRefresher(spec string, regen ReportRegenerator, locations LocationSource, period time.Duration, logger *zap.Logger) (*InsightRefresher, error) {
	r := &InsightRefresher{
		cron:      cron.New(),
		regen:     regen,
		locations: locations,
		period:    period,
		timeout:   2 * time.Minute,
		logger:    logger,
	}

	if _, err := r.cron.AddFunc(spec, r.runScheduled); err != nil {
		return nil, fmt.Errorf("invalid refresh schedule %q: %w", spec, err)
	}
	return r, nil
}

func (r *InsightRefresher) Start() {
	r.cron.Start()
	r.logger.Info("Insight refresher started", zap.Duration("period", r.period))
}

// Stop halts the schedule and waits for a running refresh to finish.
func (r *InsightRefresher) Stop() {
	<-r.cron.Stop().Done()
	r.logger.Info("Insight refresher stopped")
}

func (r *InsightRefresher) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	r.RefreshAll(ctx)
}

// RefreshAll regenerates every active location and returns how many
// succeeded. Overlapping calls return 0 immediately.
func (r *InsightRefresher) RefreshAll(ctx context.Context) int {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.logger.Debug("Skipping refresh, previous run still active")
		return 0
	}
	r.running = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	start := time.Now()
	refreshed := 0
	for _, loc := range r.locations.List() {
		if !loc.Active {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		if _, err := r.regen.Regenerate(ctx, loc.ID, r.period); err != nil {
			r.logger.Error("Insight refresh failed",
				zap.String("location", loc.ID),
				zap.Error(err))
			continue
		}
		refreshed++
	}

	r.logger.Info("Insight refresh completed",
		zap.Int("refreshed", refreshed),
		zap.Duration("duration", time.Since(start)))
	return refreshed
}
