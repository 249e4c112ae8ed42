package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueue_PriorityOrder(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New()
	var mu sync.Mutex
	var order []Type
	record := func(ctx context.Context, job *Job) error {
		mu.Lock()
		order = append(order, job.Type)
		mu.Unlock()
		return nil
	}
	q.Register(TypeAudit, record)
	q.Register(TypeResearch, record)
	q.Register(TypeWriteBatch, record)

	q.Enqueue(TypeWriteBatch, nil)
	q.Enqueue(TypeResearch, nil)
	q.Enqueue(TypeAudit, nil)
	q.Flush()

	q.Start(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 3
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []Type{TypeAudit, TypeResearch, TypeWriteBatch}, order)
}

func TestQueue_WriteBatchFIFO(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New()
	var mu sync.Mutex
	var order []int
	q.Register(TypeWriteBatch, func(ctx context.Context, job *Job) error {
		mu.Lock()
		order = append(order, job.Payload.(int))
		mu.Unlock()
		return nil
	})

	for i := 0; i < 5; i++ {
		q.Enqueue(TypeWriteBatch, i)
	}
	assert.Equal(t, 5, q.Depth())
	q.Flush()
	q.Start(ctx)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == 5
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueue_StageFlushesOnTimer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New()
	q.batchWindow = 20 * time.Millisecond
	var processed atomic.Int64
	q.Register(TypeWriteBatch, func(ctx context.Context, job *Job) error {
		processed.Add(1)
		return nil
	})
	q.Start(ctx)

	q.Enqueue(TypeWriteBatch, nil)
	require.Eventually(t, func() bool {
		return processed.Load() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueue_RetryThenSucceed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New()
	q.backoff = time.Millisecond
	var calls atomic.Int64
	q.Register(TypeAudit, func(ctx context.Context, job *Job) error {
		if calls.Add(1) < 3 {
			return errors.New("transient")
		}
		return nil
	})
	q.Start(ctx)
	q.Enqueue(TypeAudit, nil)

	require.Eventually(t, func() bool {
		return q.Stats().Processed == 1
	}, 2*time.Second, 10*time.Millisecond)
	assert.EqualValues(t, 3, calls.Load())
	assert.Zero(t, q.Stats().Failed)
}

func TestQueue_FailsAfterMaxRetries(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New()
	q.backoff = time.Millisecond
	var calls atomic.Int64
	q.Register(TypeAudit, func(ctx context.Context, job *Job) error {
		calls.Add(1)
		return errors.New("permanent")
	})
	q.Start(ctx)
	q.Enqueue(TypeAudit, nil)

	require.Eventually(t, func() bool {
		return q.Stats().Failed == 1
	}, 2*time.Second, 10*time.Millisecond)
	// Initial execution plus MaxRetries re-enqueues.
	assert.EqualValues(t, 1+MaxRetries, calls.Load())
	assert.Zero(t, q.Stats().Processed)
}

func TestQueue_HandlerPanicIsRetried(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New()
	q.backoff = time.Millisecond
	q.Register(TypeResearch, func(ctx context.Context, job *Job) error {
		panic("boom")
	})
	q.Start(ctx)
	q.Enqueue(TypeResearch, nil)

	require.Eventually(t, func() bool {
		return q.Stats().Failed == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestQueue_Drain(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New()
	var processed atomic.Int64
	q.Register(TypeWriteBatch, func(ctx context.Context, job *Job) error {
		processed.Add(1)
		return nil
	})
	q.Start(ctx)

	for i := 0; i < 10; i++ {
		q.Enqueue(TypeWriteBatch, i)
	}

	drainCtx, drainCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer drainCancel()
	require.NoError(t, q.Drain(drainCtx))
	assert.EqualValues(t, 10, processed.Load())

	// Enqueue after drain is dropped.
	assert.Empty(t, q.Enqueue(TypeAudit, nil))
}

func TestQueue_Stats(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	q := New()
	q.Register(TypeAudit, func(ctx context.Context, job *Job) error { return nil })
	q.Start(ctx)

	for i := 0; i < 20; i++ {
		q.Enqueue(TypeAudit, nil)
	}

	require.Eventually(t, func() bool {
		return q.Stats().Processed == 20
	}, 2*time.Second, 10*time.Millisecond)

	s := q.Stats()
	assert.EqualValues(t, 20, s.Enqueued)
	assert.Zero(t, s.QueueDepth)
	assert.GreaterOrEqual(t, s.AvgLatencyMs, 0.0)
	assert.GreaterOrEqual(t, s.P95LatencyMs, 0.0)
}
