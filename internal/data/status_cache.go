package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vidmark/vidmark/internal/domain/model"
)

// statusKeyPrefix namespaces cached job snapshots in Redis.
const statusKeyPrefix = "video:status:"

// StatusCache stores short-lived job snapshots in Redis so browser status
// polling does not hit Postgres on every tick. Entries expire on their own;
// writers also invalidate on state transitions so polls never serve a stale
// status longer than the TTL.
type StatusCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewStatusCache creates a StatusCache with the given Redis client and TTL.
func NewStatusCache(client redis.UniversalClient, ttl time.Duration) *StatusCache {
	return &StatusCache{client: client, ttl: ttl}
}

func statusKey(id int64) string {
	return statusKeyPrefix + strconv.FormatInt(id, 10)
}

// Get retrieves a cached job snapshot. A nil job with nil error means miss.
func (c *StatusCache) Get(ctx context.Context, id int64) (*model.VideoJob, error) {
	raw, err := c.client.Get(ctx, statusKey(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var job model.VideoJob
	if unmarshalErr := json.Unmarshal([]byte(raw), &job); unmarshalErr != nil {
		// A corrupt entry is treated as a miss; the next Set overwrites it.
		return nil, nil
	}
	return &job, nil
}

// Set stores a job snapshot with the configured TTL.
func (c *StatusCache) Set(ctx context.Context, job *model.VideoJob) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	raw, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job snapshot: %w", err)
	}
	if err := c.client.Set(ctx, statusKey(job.ID), raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Invalidate removes a cached snapshot after a state transition.
func (c *StatusCache) Invalidate(ctx context.Context, id int64) error {
	if err := c.client.Del(ctx, statusKey(id)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Health checks the health of the Redis connection.
func (c *StatusCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
