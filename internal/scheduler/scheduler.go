package scheduler

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/weather-insights/internal/metrics"
	"github.com/bobby-s-dev/weather-insights/internal/models"
)

type SampleCollector interface {
	Collect(ctx context.Context, loc models.Location) (models.WeatherSample, error)
}

type JobStatus struct {
	LocationID string    `json:"location_id"`
	Interval   string    `json:"interval"`
	LastRun    time.Time `json:"last_run"`
	NextRun    time.Time `json:"next_run"`
	InFlight   bool      `json:"in_flight"`
	Skipped    int       `json:"skipped_ticks"`
	LastError  string    `json:"last_error,omitempty"`
}

// lane holds the per-location state that survives a restart with new
// settings. Collections run on the lane context, so replacing the timer does
// not interrupt one that is in flight.
type lane struct {
	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	inFlight bool
	idle     chan struct{}
	lastRun  time.Time
	skipped  int
	lastErr  string
}

type job struct {
	loc       models.Location
	lane      *lane
	stopTicks context.CancelFunc
	done      chan struct{}

	mu      sync.Mutex
	nextRun time.Time
}

// Scheduler runs one independent ticker per location. A collection error is
// logged and the location keeps ticking.
type Scheduler struct {
	collector SampleCollector
	clock     clockwork.Clock
	logger    *zap.Logger
	metrics   *metrics.Metrics

	mu   sync.Mutex
	jobs map[string]*job
	wg   sync.WaitGroup
}

func NewScheduler(collector SampleCollector, clock clockwork.Clock, logger *zap.Logger, m *metrics.Metrics) *Scheduler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Scheduler{
		collector: collector,
		clock:     clock,
		logger:    logger,
		metrics:   m,
		jobs:      make(map[string]*job),
	}
}

// Start schedules loc, collecting immediately and then every loc.Interval().
// A location that is already scheduled keeps its history: the next
// collection happens one new interval after the last one, and never while
// the previous collection is still running.
func (s *Scheduler) Start(loc models.Location) error {
	if loc.ID == "" {
		return errors.New("location id is required")
	}
	if err := loc.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	var (
		l     *lane
		delay time.Duration
	)
	if existing, ok := s.jobs[loc.ID]; ok {
		l = existing.lane

		l.mu.Lock()
		existing.stopTicks()
		lastRun := l.lastRun
		l.mu.Unlock()
		<-existing.done

		if !lastRun.IsZero() {
			delay = lastRun.Add(loc.Interval()).Sub(now)
			if delay < 0 {
				delay = 0
			}
		}
		s.logger.Info("Rescheduling location",
			zap.String("location", loc.ID),
			zap.Time("last_run", lastRun))
	} else {
		ctx, cancel := context.WithCancel(context.Background())
		l = &lane{ctx: ctx, cancel: cancel}
	}

	ctx, stopTicks := context.WithCancel(l.ctx)
	j := &job{
		loc:       loc,
		lane:      l,
		stopTicks: stopTicks,
		done:      make(chan struct{}),
		nextRun:   now.Add(delay),
	}
	s.jobs[loc.ID] = j
	s.metrics.ActiveLocations.Set(float64(len(s.jobs)))

	s.logger.Info("Scheduler started",
		zap.String("location", loc.ID),
		zap.Duration("interval", loc.Interval()),
		zap.Time("next_run", j.nextRun))

	s.wg.Add(1)
	go s.run(ctx, j, delay)

	return nil
}

func (s *Scheduler) run(ctx context.Context, j *job, delay time.Duration) {
	defer s.wg.Done()
	defer close(j.done)

	if delay > 0 {
		timer := s.clock.NewTimer(delay)
		select {
		case <-timer.Chan():
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}
	if !awaitIdle(ctx, j.lane) {
		return
	}

	ticker := s.clock.NewTicker(j.loc.Interval())
	defer ticker.Stop()

	s.tick(ctx, j)

	for {
		select {
		case <-ticker.Chan():
			s.tick(ctx, j)
		case <-ctx.Done():
			return
		}
	}
}

// awaitIdle blocks until the lane has no collection in flight.
func awaitIdle(ctx context.Context, l *lane) bool {
	l.mu.Lock()
	if !l.inFlight {
		l.mu.Unlock()
		return true
	}
	idle := l.idle
	l.mu.Unlock()

	select {
	case <-idle:
		return true
	case <-ctx.Done():
		return false
	}
}

// tick launches a collection off the timer goroutine. Ticks arriving while
// the previous collection is still running are skipped, which keeps samples
// of one location in collection order.
func (s *Scheduler) tick(ctx context.Context, j *job) {
	now := s.clock.Now()
	l := j.lane

	j.mu.Lock()
	j.nextRun = now.Add(j.loc.Interval())
	j.mu.Unlock()

	l.mu.Lock()
	if ctx.Err() != nil {
		l.mu.Unlock()
		return
	}
	if l.inFlight {
		l.skipped++
		l.mu.Unlock()
		s.logger.Warn("Skipping tick, previous collection still running",
			zap.String("location", j.loc.ID))
		return
	}
	l.inFlight = true
	l.lastRun = now
	l.idle = make(chan struct{})
	idle := l.idle
	l.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		_, err := s.collector.Collect(l.ctx, j.loc)

		l.mu.Lock()
		l.inFlight = false
		l.lastErr = ""
		if err != nil {
			l.lastErr = err.Error()
		}
		close(idle)
		l.mu.Unlock()

		if err != nil && l.ctx.Err() == nil {
			s.logger.Warn("Scheduled collection failed",
				zap.String("location", j.loc.ID),
				zap.Duration("duration", s.clock.Since(now)),
				zap.Error(err))
		}
	}()
}

// Stop cancels the location's timer and any collection in flight.
func (s *Scheduler) Stop(locationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[locationID]
	if !ok {
		return false
	}
	j.lane.cancel()
	delete(s.jobs, locationID)
	s.metrics.ActiveLocations.Set(float64(len(s.jobs)))

	s.logger.Info("Scheduler stopped", zap.String("location", locationID))
	return true
}

// StopAll cancels every location and waits for their goroutines to exit.
func (s *Scheduler) StopAll() {
	s.mu.Lock()
	for id, j := range s.jobs {
		j.lane.cancel()
		delete(s.jobs, id)
	}
	s.metrics.ActiveLocations.Set(0)
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("All schedules stopped")
}

// CollectNow performs one collection outside the schedule.
func (s *Scheduler) CollectNow(ctx context.Context, loc models.Location) (models.WeatherSample, error) {
	s.logger.Info("Manually triggering collection", zap.String("location", loc.ID))
	return s.collector.Collect(ctx, loc)
}

func (s *Scheduler) Running(locationID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.jobs[locationID]
	return ok
}

func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	jobs := make([]*job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	s.mu.Unlock()

	status := make([]JobStatus, 0, len(jobs))
	for _, j := range jobs {
		j.mu.Lock()
		st := JobStatus{
			LocationID: j.loc.ID,
			Interval:   j.loc.Interval().String(),
			NextRun:    j.nextRun,
		}
		j.mu.Unlock()

		j.lane.mu.Lock()
		st.LastRun = j.lane.lastRun
		st.InFlight = j.lane.inFlight
		st.Skipped = j.lane.skipped
		st.LastError = j.lane.lastErr
		j.lane.mu.Unlock()

		status = append(status, st)
	}

	sort.Slice(status, func(a, b int) bool {
		return status[a].LocationID < status[b].LocationID
	})
	return status
}
