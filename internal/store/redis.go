package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/bobby-s-dev/weather-insights/internal/models"
)

// RedisReportCache keeps the latest insight report per location and period
// under "insight:{locationID}:{period}", each with its own TTL. The set
// "insight:{locationID}:index" lists those keys for invalidation.
type RedisReportCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewRedisReportCache(client *redis.Client, ttl time.Duration, logger *zap.Logger) *RedisReportCache {
	return &RedisReportCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func reportKey(locationID string, period time.Duration) string {
	return "insight:" + locationID + ":" + period.String()
}

func indexKey(locationID string) string {
	return "insight:" + locationID + ":index"
}

func (c *RedisReportCache) Get(ctx context.Context, locationID string, period time.Duration) (*models.InsightReport, bool) {
	data, err := c.client.Get(ctx, reportKey(locationID, period)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false
	}
	if err != nil {
		c.logger.Warn("Report cache read failed",
			zap.String("location", locationID),
			zap.Error(err))
		return nil, false
	}

	var report models.InsightReport
	if err := json.Unmarshal([]byte(data), &report); err != nil {
		c.logger.Warn("Discarding unreadable cached report",
			zap.String("location", locationID),
			zap.Error(err))
		return nil, false
	}
	return &report, true
}

func (c *RedisReportCache) Put(ctx context.Context, report *models.InsightReport, period time.Duration) {
	data, err := json.Marshal(report)
	if err != nil {
		c.logger.Warn("Failed to encode report for cache", zap.Error(err))
		return
	}

	key := reportKey(report.LocationID, period)
	index := indexKey(report.LocationID)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, key, data, c.ttl)
	pipe.SAdd(ctx, index, key)
	pipe.Expire(ctx, index, c.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Warn("Report cache write failed",
			zap.String("location", report.LocationID),
			zap.Error(err))
	}
}

func (c *RedisReportCache) Invalidate(ctx context.Context, locationID string) {
	index := indexKey(locationID)
	keys, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		c.logger.Warn("Report cache invalidation failed",
			zap.String("location", locationID),
			zap.Error(err))
		return
	}
	if err := c.client.Del(ctx, append(keys, index)...).Err(); err != nil {
		c.logger.Warn("Report cache invalidation failed",
			zap.String("location", locationID),
			zap.Error(err))
	}
}

// Ping verifies the connection at start-up.
func (c *RedisReportCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
