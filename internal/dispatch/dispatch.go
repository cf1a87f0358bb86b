// Package dispatch hands jobs that became ready to the external worker pool.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/internal/metrics"
	"github.com/redis/go-redis/v9"
)

// ErrQueueEmpty is returned by Dequeue when nothing arrived before the timeout.
var ErrQueueEmpty = errors.New("queue empty")

// Port is the enqueue side of the work queue. Delivery is at least once;
// workers must tolerate seeing a job id twice.
type Port interface {
	Enqueue(ctx context.Context, jobID uuid.UUID) error
}

// RedisQueue is a Port backed by a Redis list. Producers LPUSH and workers
// BRPOP, so jobs are consumed in dispatch order.
type RedisQueue struct {
	client *redis.Client
	key    string
}

func NewRedisQueue(client *redis.Client, key string) *RedisQueue {
	return &RedisQueue{client: client, key: key}
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	err := q.client.LPush(ctx, q.key, jobID.String()).Err()
	metrics.IncreaseJobsDispatched(err)
	if err != nil {
		return fmt.Errorf("enqueue job %s: %w", jobID, err)
	}
	return nil
}

// Dequeue blocks up to timeout for the next job id.
func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (uuid.UUID, error) {
	res, err := q.client.BRPop(ctx, timeout, q.key).Result()
	if errors.Is(err, redis.Nil) {
		return uuid.Nil, ErrQueueEmpty
	}
	if err != nil {
		return uuid.Nil, fmt.Errorf("dequeue job: %w", err)
	}
	// res is [key, value]
	id, err := uuid.Parse(res[1])
	if err != nil {
		return uuid.Nil, fmt.Errorf("parse queued job id %q: %w", res[1], err)
	}
	return id, nil
}

// Len returns the number of queued job ids.
func (q *RedisQueue) Len(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.key).Result()
}
