package embedding

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mranderson01901234/5.0-sub004/internal/model"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls [][]string
	dim   int
	fail  bool
}

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	f.calls = append(f.calls, texts)
	f.mu.Unlock()
	if f.fail {
		return nil, assert.AnError
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec := make([]float32, f.dim)
		for j := range vec {
			vec[j] = float32(len(t)+i) / float32(j+1)
		}
		out[i] = vec
	}
	return out, nil
}

func (f *fakeEmbedder) ModelName() string { return "fake-model" }
func (f *fakeEmbedder) Dimension() int    { return f.dim }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

type fakeKV struct {
	mu   sync.Mutex
	data map[string][]byte
}

func newFakeKV() *fakeKV { return &fakeKV{data: map[string][]byte{}} }

func (f *fakeKV) Available() bool { return true }

func (f *fakeKV) Get(_ context.Context, key string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	return v, ok, nil
}

func (f *fakeKV) Set(_ context.Context, key string, val []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = val
	return nil
}

func (f *fakeKV) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	return nil
}

func (f *fakeKV) Exists(_ context.Context, key string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.data[key]
	return ok, nil
}

type fakeStore struct {
	registrystore.MemoryStore
	mu       sync.Mutex
	vectors  map[uuid.UUID][]byte
	enqueued []*model.EmbeddingQueueItem
}

func newFakeStore() *fakeStore { return &fakeStore{vectors: map[uuid.UUID][]byte{}} }

func (f *fakeStore) SetEmbedding(_ context.Context, id uuid.UUID, vec []byte, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.vectors[id] = vec
	return nil
}

func (f *fakeStore) EnqueueEmbedding(_ context.Context, item *model.EmbeddingQueueItem) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enqueued = append(f.enqueued, item)
	return nil
}

func TestGenerateBatchCachesResults(t *testing.T) {
	emb := &fakeEmbedder{dim: 4}
	svc := NewService(emb, newFakeKV(), newFakeStore(), time.Hour)

	ctx := context.Background()
	first, err := svc.GenerateBatch(ctx, []string{"go generics", "rust traits"})
	require.NoError(t, err)
	require.Len(t, first, 2)
	assert.Equal(t, 1, emb.callCount(), "misses should go out in one batch")

	second, err := svc.GenerateBatch(ctx, []string{"go generics", "rust traits"})
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, emb.callCount(), "second batch should be fully cached")
}

func TestGenerateBatchPartialCache(t *testing.T) {
	emb := &fakeEmbedder{dim: 4}
	svc := NewService(emb, newFakeKV(), newFakeStore(), time.Hour)

	ctx := context.Background()
	_, err := svc.Generate(ctx, "cached text")
	require.NoError(t, err)

	out, err := svc.GenerateBatch(ctx, []string{"cached text", "new text"})
	require.NoError(t, err)
	require.Len(t, out, 2)
	require.Equal(t, 2, emb.callCount())
	assert.Equal(t, []string{"new text"}, emb.calls[1], "only the miss goes to the provider")
}

func TestGenerateDisabled(t *testing.T) {
	svc := NewService(nil, newFakeKV(), newFakeStore(), time.Hour)
	assert.False(t, svc.Enabled())
	_, err := svc.Generate(context.Background(), "anything")
	assert.Error(t, err)
}

func TestGetOrGeneratePrefersStoredVector(t *testing.T) {
	emb := &fakeEmbedder{dim: 3}
	svc := NewService(emb, newFakeKV(), newFakeStore(), time.Hour)

	stored := EncodeVector([]float32{0.1, 0.2, 0.3})
	vec, err := svc.GetOrGenerate(context.Background(), uuid.New(), "ignored", stored)
	require.NoError(t, err)
	assert.InDelta(t, 0.2, float64(vec[1]), 1e-6)
	assert.Equal(t, 0, emb.callCount())
}

func TestGetOrGeneratePersistsNewVector(t *testing.T) {
	emb := &fakeEmbedder{dim: 3}
	st := newFakeStore()
	svc := NewService(emb, newFakeKV(), st, time.Hour)

	id := uuid.New()
	vec, err := svc.GetOrGenerate(context.Background(), id, "some content", nil)
	require.NoError(t, err)
	require.Len(t, vec, 3)
	assert.Contains(t, st.vectors, id)
}

func TestGetOrGenerateQueuesOnProviderFailure(t *testing.T) {
	emb := &fakeEmbedder{dim: 3, fail: true}
	st := newFakeStore()
	svc := NewService(emb, newFakeKV(), st, time.Hour)

	id := uuid.New()
	vec, err := svc.GetOrGenerate(context.Background(), id, "deferred content", nil)
	require.NoError(t, err)
	assert.Nil(t, vec)
	require.Len(t, st.enqueued, 1)
	assert.Equal(t, id, st.enqueued[0].MemoryID)
	assert.Equal(t, "deferred content", st.enqueued[0].Content)
}

func TestGenerateBatchDimensionMismatch(t *testing.T) {
	emb := &fakeEmbedder{dim: 4}
	svc := NewService(emb, newFakeKV(), newFakeStore(), time.Hour)
	// Shrink the provider's output after the service fixed its dimension.
	emb.dim = 2
	_, err := svc.Generate(context.Background(), "mismatch")
	assert.ErrorContains(t, err, "dimension")
}
