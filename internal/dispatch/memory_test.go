package dispatch_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/jobtracker/internal/dispatch"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_RecordsInOrder(t *testing.T) {
	q := dispatch.NewMemoryQueue()
	a, b := uuid.New(), uuid.New()

	require.NoError(t, q.Enqueue(context.Background(), a))
	require.NoError(t, q.Enqueue(context.Background(), b))
	require.NoError(t, q.Enqueue(context.Background(), a))

	assert.Equal(t, []uuid.UUID{a, b, a}, q.Enqueued())
	assert.Equal(t, 2, q.Count(a))
	assert.Equal(t, 1, q.Count(b))
}

func TestMemoryQueue_CanceledContext(t *testing.T) {
	q := dispatch.NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, q.Enqueue(ctx, uuid.New()))
	assert.Empty(t, q.Enqueued())
}
