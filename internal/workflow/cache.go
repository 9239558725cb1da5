package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// StatusCache keeps derived master order statuses in Redis for hot read
// paths. The cache is advisory: a miss or a Redis failure falls back to the
// loader, and entries expire quickly because the derivation itself is cheap.
type StatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewStatusCache instantiates the cache helper.
func NewStatusCache(client *redis.Client, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

type cachedStatus struct {
	Status string `json:"status"`
}

func statusKey(orderID int64) string {
	return fmt.Sprintf("workflow:order:%d:status", orderID)
}

// FetchStatus loads a cached status or populates it using the loader.
func (c *StatusCache) FetchStatus(ctx context.Context, orderID int64, loader func(context.Context) (string, error)) (string, error) {
	if c == nil || c.client == nil {
		return loader(ctx)
	}
	key := statusKey(orderID)
	raw, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var entry cachedStatus
		if jsonErr := json.Unmarshal(raw, &entry); jsonErr == nil && entry.Status != "" {
			return entry.Status, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		return loader(ctx)
	}

	status, err := loader(ctx)
	if err != nil {
		return "", err
	}
	if data, err := json.Marshal(cachedStatus{Status: status}); err == nil {
		_ = c.client.Set(ctx, key, data, c.ttl).Err()
	}
	return status, nil
}

// Invalidate drops the cached status for an order.
func (c *StatusCache) Invalidate(ctx context.Context, orderID int64) {
	if c == nil || c.client == nil {
		return
	}
	_ = c.client.Del(ctx, statusKey(orderID)).Err()
}
