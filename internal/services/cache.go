package services

import (
	"context"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

// ReportCache stores the latest report per location and period.
type ReportCache interface {
	Get(ctx context.Context, locationID string, period time.Duration) (*models.InsightReport, bool)
	Put(ctx context.Context, report *models.InsightReport, period time.Duration)
	Invalidate(ctx context.Context, locationID string)
}

type CacheItem struct {
	Report    *models.InsightReport
	ExpiresAt time.Time
}

// MemoryReportCache is the in-process ReportCache with TTL expiry and
// evict-oldest when full.
type MemoryReportCache struct {
	mu              sync.RWMutex
	reports         map[string]map[time.Duration]CacheItem // location -> period -> item
	logger          *zap.Logger
	clock           clockwork.Clock
	defaultDuration time.Duration
	maxSize         int
	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	stopOnce        sync.Once
}

func NewMemoryReportCache(defaultDuration time.Duration, maxSize int, clock clockwork.Clock, logger *zap.Logger) *MemoryReportCache {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxSize < 1 {
		maxSize = 1
	}
	cache := &MemoryReportCache{
		reports:         make(map[string]map[time.Duration]CacheItem),
		logger:          logger,
		clock:           clock,
		defaultDuration: defaultDuration,
		maxSize:         maxSize,
		cleanupInterval: time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	go cache.startCleanup()

	return cache
}

func (c *MemoryReportCache) Put(_ context.Context, report *models.InsightReport, period time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.reports[report.LocationID]; !exists {
		c.reports[report.LocationID] = make(map[time.Duration]CacheItem)
	}
	if _, exists := c.reports[report.LocationID][period]; !exists && c.size() >= c.maxSize {
		c.evictOldest()
	}

	expiresAt := c.clock.Now().Add(c.defaultDuration)
	c.reports[report.LocationID][period] = CacheItem{
		Report:    report,
		ExpiresAt: expiresAt,
	}

	c.logger.Debug("Insight report cached",
		zap.String("location", report.LocationID),
		zap.Duration("period", period),
		zap.Time("expires_at", expiresAt))
}

func (c *MemoryReportCache) Get(_ context.Context, locationID string, period time.Duration) (*models.InsightReport, bool) {
	c.mu.RLock()
	item, exists := c.reports[locationID][period]
	c.mu.RUnlock()

	if !exists {
		return nil, false
	}

	if c.clock.Now().After(item.ExpiresAt) {
		c.mu.Lock()
		delete(c.reports[locationID], period)
		c.mu.Unlock()
		return nil, false
	}

	return item.Report, true
}

func (c *MemoryReportCache) Invalidate(_ context.Context, locationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.reports[locationID]; exists {
		delete(c.reports, locationID)
		c.logger.Debug("Insight reports invalidated", zap.String("location", locationID))
	}
}

func (c *MemoryReportCache) size() int {
	total := 0
	for _, periods := range c.reports {
		total += len(periods)
	}
	return total
}

func (c *MemoryReportCache) evictOldest() {
	var oldestLocation string
	var oldestPeriod time.Duration
	var oldestTime time.Time

	for location, periods := range c.reports {
		for period, item := range periods {
			if oldestLocation == "" || item.ExpiresAt.Before(oldestTime) {
				oldestLocation = location
				oldestPeriod = period
				oldestTime = item.ExpiresAt
			}
		}
	}

	if oldestLocation != "" {
		delete(c.reports[oldestLocation], oldestPeriod)
		c.logger.Debug("Evicted oldest report from cache",
			zap.String("location", oldestLocation),
			zap.Duration("period", oldestPeriod))
	}
}

func (c *MemoryReportCache) startCleanup() {
	ticker := c.clock.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			c.cleanup()
		case <-c.stopCleanup:
			return
		}
	}
}

func (c *MemoryReportCache) cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.clock.Now()
	expiredCount := 0

	for location, periods := range c.reports {
		for period, item := range periods {
			if now.After(item.ExpiresAt) {
				delete(periods, period)
				expiredCount++
			}
		}

		if len(periods) == 0 {
			delete(c.reports, location)
		}
	}

	if expiredCount > 0 {
		c.logger.Debug("Cleaned expired cache items",
			zap.Int("count", expiredCount))
	}
}

func (c *MemoryReportCache) Stop() {
	c.stopOnce.Do(func() { close(c.stopCleanup) })
}

func (c *MemoryReportCache) stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"report_items":     c.size(),
		"locations":        len(c.reports),
		"max_size":         c.maxSize,
		"default_duration": c.defaultDuration.String(),
	}
}
