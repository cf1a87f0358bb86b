package dispatch

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/internal/metrics"
)

// MemoryQueue is an in-process Port that records dispatched ids in order.
type MemoryQueue struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{}
}

func (q *MemoryQueue) Enqueue(ctx context.Context, jobID uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		metrics.IncreaseJobsDispatched(err)
		return err
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, jobID)
	metrics.IncreaseJobsDispatched(nil)
	return nil
}

// Enqueued returns a copy of every id dispatched so far.
func (q *MemoryQueue) Enqueued() []uuid.UUID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]uuid.UUID(nil), q.ids...)
}

// Count returns how many times id was dispatched.
func (q *MemoryQueue) Count(id uuid.UUID) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, queued := range q.ids {
		if queued == id {
			n++
		}
	}
	return n
}

var _ Port = (*MemoryQueue)(nil)
var _ Port = (*RedisQueue)(nil)
