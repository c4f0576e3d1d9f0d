package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kiranshivaraju/copilotmeter/pkg/models"
)

// RedisCache holds the status board and request counters in Redis.
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache creates a new RedisCache from a Redis URL.
func NewRedisCache(redisURL string) (*RedisCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	return &RedisCache{client: redis.NewClient(opts)}, nil
}

func (c *RedisCache) Close() error {
	return c.client.Close()
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// SetRefreshStatus records the latest refresh outcome of a tenant on the
// status board, replacing the previous one.
func (c *RedisCache) SetRefreshStatus(ctx context.Context, status models.RefreshStatus) error {
	raw, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("encode refresh status: %w", err)
	}
	return c.client.HSet(ctx, RefreshStatusKey, status.Tenant.String(), raw).Err()
}

func (c *RedisCache) GetRefreshStatus(ctx context.Context, key models.TenantKey) (models.RefreshStatus, bool, error) {
	raw, err := c.client.HGet(ctx, RefreshStatusKey, key.String()).Bytes()
	if errors.Is(err, redis.Nil) {
		return models.RefreshStatus{}, false, nil
	}
	if err != nil {
		return models.RefreshStatus{}, false, err
	}
	var status models.RefreshStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return models.RefreshStatus{}, false, fmt.Errorf("decode refresh status: %w", err)
	}
	return status, true, nil
}

// ListRefreshStatus returns the status board ordered by tenant key.
func (c *RedisCache) ListRefreshStatus(ctx context.Context) ([]models.RefreshStatus, error) {
	entries, err := c.client.HGetAll(ctx, RefreshStatusKey).Result()
	if err != nil {
		return nil, err
	}

	statuses := make([]models.RefreshStatus, 0, len(entries))
	for field, raw := range entries {
		var status models.RefreshStatus
		if err := json.Unmarshal([]byte(raw), &status); err != nil {
			return nil, fmt.Errorf("decode refresh status %s: %w", field, err)
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, j int) bool {
		return statuses[i].Tenant.String() < statuses[j].Tenant.String()
	})
	return statuses, nil
}

// ForgetRefreshStatus drops a tenant from the status board.
func (c *RedisCache) ForgetRefreshStatus(ctx context.Context, key models.TenantKey) error {
	return c.client.HDel(ctx, RefreshStatusKey, key.String()).Err()
}

func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
