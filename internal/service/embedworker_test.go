package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mranderson01901234/5.0-sub004/internal/embedding"
	"github.com/mranderson01901234/5.0-sub004/internal/model"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
)

type queueStore struct {
	registrystore.MemoryStore
	mu      sync.Mutex
	queue   []model.EmbeddingQueueItem
	vectors map[uuid.UUID][]byte
}

func newQueueStore() *queueStore {
	return &queueStore{vectors: map[uuid.UUID][]byte{}}
}

func (s *queueStore) PendingEmbeddings(_ context.Context, limit int) ([]model.EmbeddingQueueItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.EmbeddingQueueItem
	for _, item := range s.queue {
		if item.ProcessedAt == nil {
			out = append(out, item)
		}
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *queueStore) SetEmbedding(_ context.Context, id uuid.UUID, vec []byte, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vectors[id] = vec
	return nil
}

func (s *queueStore) MarkEmbeddingProcessed(_ context.Context, id uuid.UUID, at time.Time, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queue {
		if s.queue[i].ID == id {
			s.queue[i].ProcessedAt = &at
			s.queue[i].Error = errMsg
			return nil
		}
	}
	return registrystore.ErrNotFound
}

func (s *queueStore) BumpEmbeddingRetry(_ context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.queue {
		if s.queue[i].ID == id {
			s.queue[i].RetryCount++
			return nil
		}
	}
	return registrystore.ErrNotFound
}

func (s *queueStore) EnqueueEmbedding(_ context.Context, item *model.EmbeddingQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue = append(s.queue, *item)
	return nil
}

type workerEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (e *workerEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	if e.fail {
		return nil, assert.AnError
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 2, 3}
	}
	return out, nil
}

func (e *workerEmbedder) ModelName() string { return "worker-fake" }
func (e *workerEmbedder) Dimension() int    { return 3 }

func queued(memoryID uuid.UUID, content string, retries int) model.EmbeddingQueueItem {
	return model.EmbeddingQueueItem{
		ID: uuid.New(), MemoryID: memoryID, Content: content,
		RetryCount: retries, CreatedAt: time.Now().UTC(),
	}
}

func TestEmbedWorkerDrainsQueue(t *testing.T) {
	st := newQueueStore()
	memID := uuid.New()
	st.queue = append(st.queue, queued(memID, "my favorite color is blue", 0))

	emb := &workerEmbedder{}
	svc := embedding.NewService(emb, nil, st, time.Hour)
	w := NewEmbedWorker(st, svc, time.Minute, 100)

	w.drain(context.Background())

	st.mu.Lock()
	defer st.mu.Unlock()
	require.NotNil(t, st.queue[0].ProcessedAt)
	assert.Nil(t, st.queue[0].Error)
	assert.Contains(t, st.vectors, memID)
}

func TestEmbedWorkerBumpsRetryOnFailure(t *testing.T) {
	st := newQueueStore()
	st.queue = append(st.queue, queued(uuid.New(), "some content here", 0))

	emb := &workerEmbedder{fail: true}
	svc := embedding.NewService(emb, nil, st, time.Hour)
	w := NewEmbedWorker(st, svc, time.Minute, 100)

	w.drain(context.Background())

	st.mu.Lock()
	defer st.mu.Unlock()
	assert.Nil(t, st.queue[0].ProcessedAt)
	assert.Equal(t, 1, st.queue[0].RetryCount)
}

func TestEmbedWorkerRetiresExhaustedItems(t *testing.T) {
	st := newQueueStore()
	st.queue = append(st.queue, queued(uuid.New(), "never embeds", embedMaxRetries+1))

	emb := &workerEmbedder{}
	svc := embedding.NewService(emb, nil, st, time.Hour)
	w := NewEmbedWorker(st, svc, time.Minute, 100)

	w.drain(context.Background())

	st.mu.Lock()
	defer st.mu.Unlock()
	require.NotNil(t, st.queue[0].ProcessedAt)
	require.NotNil(t, st.queue[0].Error)
	assert.Equal(t, 0, emb.calls, "exhausted items never reach the provider")
}
