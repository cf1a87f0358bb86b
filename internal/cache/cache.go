// Package cache holds the Redis-backed short-lived state of the service: the
// rollup status of recently polled submissions and the per-key request
// counters of the rate limiter.
//
// Status entries are keyed by a per-submission generation. Readers take the
// generation before computing and write under it; invalidation bumps it, so a
// rollup computed before a write lands under a key nobody reads again.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/pkg/models"
	"github.com/redis/go-redis/v9"
)

// Cache is the caching interface. Implementations must be safe for
// concurrent use.
type Cache interface {
	Ping(ctx context.Context) error
	SubmissionGeneration(ctx context.Context, submissionID uuid.UUID) (int64, error)
	SetSubmissionStatus(ctx context.Context, submissionID uuid.UUID, generation int64, status models.SubmissionStatus, ttl time.Duration) error
	GetSubmissionStatus(ctx context.Context, submissionID uuid.UUID, generation int64) (models.SubmissionStatus, bool, error)
	InvalidateSubmissionStatus(ctx context.Context, submissionID uuid.UUID) error
	IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error)
}

// generationTTL outlives any status entry, so an expired generation never
// resurrects a stale rollup.
const generationTTL = 24 * time.Hour

// RedisCache implements Cache using go-redis/v9.
type RedisCache struct {
	client *redis.Client
}

// NewRedisClient parses a Redis URL into a client shared by the cache and the
// dispatch queue.
func NewRedisClient(redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return redis.NewClient(opts), nil
}

// NewRedisCache wraps a client. The caller owns and closes it.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// SubmissionGeneration returns the current generation, zero when the
// submission was never invalidated.
func (c *RedisCache) SubmissionGeneration(ctx context.Context, submissionID uuid.UUID) (int64, error) {
	gen, err := c.client.Get(ctx, SubmissionGenerationKey(submissionID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return gen, err
}

func (c *RedisCache) SetSubmissionStatus(ctx context.Context, submissionID uuid.UUID, generation int64, status models.SubmissionStatus, ttl time.Duration) error {
	return c.client.Set(ctx, SubmissionStatusKey(submissionID, generation), string(status), ttl).Err()
}

// GetSubmissionStatus reports a miss for absent entries and for values that
// are not a known status, so a stale format never reaches clients.
func (c *RedisCache) GetSubmissionStatus(ctx context.Context, submissionID uuid.UUID, generation int64) (models.SubmissionStatus, bool, error) {
	val, err := c.client.Get(ctx, SubmissionStatusKey(submissionID, generation)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	status := models.SubmissionStatus(val)
	if !status.Valid() {
		return "", false, nil
	}
	return status, true, nil
}

// InvalidateSubmissionStatus moves the submission to a new generation.
func (c *RedisCache) InvalidateSubmissionStatus(ctx context.Context, submissionID uuid.UUID) error {
	key := SubmissionGenerationKey(submissionID)
	pipe := c.client.TxPipeline()
	pipe.Incr(ctx, key)
	pipe.Expire(ctx, key, generationTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// IncrWithExpiry increments a counter and (re)arms its expiry in one
// MULTI/EXEC round trip.
func (c *RedisCache) IncrWithExpiry(ctx context.Context, key string, expiry time.Duration) (int64, error) {
	pipe := c.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	pipe.ExpireNX(ctx, key, expiry)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return incr.Val(), nil
}
