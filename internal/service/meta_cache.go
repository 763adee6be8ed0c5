package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phrazzld/labelling-task/internal/domain"
	"github.com/redis/go-redis/v9"
)

// ErrMetaNotCached is returned by MetaCache.Get on a miss.
var ErrMetaNotCached = errors.New("task metadata not cached")

// DefaultMetaTTL is how long task metadata stays cached when no TTL is set.
const DefaultMetaTTL = time.Hour

// TaskMeta is the slow-changing part of a task that clients read often.
type TaskMeta struct {
	ExternalID   string          `json:"external_id"`
	Instructions string          `json:"instructions"`
	Labels       json.RawMessage `json:"labels"`
}

// MetaFor extracts the cached metadata of t. Missing labels become an empty
// list.
func MetaFor(t *domain.Task) TaskMeta {
	labels := t.Details.Labels
	if len(labels) == 0 {
		labels = json.RawMessage(`[]`)
	}
	return TaskMeta{
		ExternalID:   t.ExternalID,
		Instructions: t.Details.Instructions,
		Labels:       labels,
	}
}

// MetaCache stores TaskMeta per tenant and external id.
type MetaCache interface {
	Put(ctx context.Context, tenantID string, meta TaskMeta) error
	Get(ctx context.Context, tenantID, externalID string) (*TaskMeta, error)
}

// RedisMetaCache keeps TaskMeta as JSON strings with a TTL.
type RedisMetaCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

var _ MetaCache = (*RedisMetaCache)(nil)

// NewRedisMetaCache creates a RedisMetaCache. A non-positive ttl means
// DefaultMetaTTL.
func NewRedisMetaCache(client redis.Cmdable, ttl time.Duration) *RedisMetaCache {
	if ttl <= 0 {
		ttl = DefaultMetaTTL
	}
	return &RedisMetaCache{client: client, ttl: ttl}
}

// MetaKey returns the cache key for a task.
func MetaKey(tenantID, externalID string) string {
	return fmt.Sprintf("lt:taskmeta:%s:%s", tenantID, externalID)
}

// Put implements MetaCache.
func (c *RedisMetaCache) Put(ctx context.Context, tenantID string, meta TaskMeta) error {
	payload, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("failed to encode task metadata: %w", err)
	}
	if err := c.client.Set(ctx, MetaKey(tenantID, meta.ExternalID), payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to cache task metadata: %w", err)
	}
	return nil
}

// Get implements MetaCache.
func (c *RedisMetaCache) Get(ctx context.Context, tenantID, externalID string) (*TaskMeta, error) {
	payload, err := c.client.Get(ctx, MetaKey(tenantID, externalID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrMetaNotCached
		}
		return nil, fmt.Errorf("failed to read task metadata: %w", err)
	}
	var meta TaskMeta
	if err := json.Unmarshal(payload, &meta); err != nil {
		return nil, fmt.Errorf("failed to decode task metadata: %w", err)
	}
	return &meta, nil
}
