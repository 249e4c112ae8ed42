package engine

import (
	"context"
	"errors"
	"sort"
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

// memStore is an in-memory MemoryStore covering what the engine touches.
type memStore struct {
	registrystore.MemoryStore
	mu       sync.Mutex
	memories map[uuid.UUID]*model.Memory
	queued   []model.EmbeddingQueueItem
}

func newMemStore() *memStore {
	return &memStore{memories: map[uuid.UUID]*model.Memory{}}
}

func (s *memStore) InsertMemory(_ context.Context, m *model.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.memories[m.ID] = &cp
	return nil
}

func (s *memStore) UpdateMemory(_ context.Context, m *model.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[m.ID]; !ok {
		return registrystore.ErrNotFound
	}
	cp := *m
	s.memories[m.ID] = &cp
	return nil
}

func (s *memStore) GetMemory(_ context.Context, userID string, id uuid.UUID) (*model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok || m.UserID != userID {
		return nil, registrystore.ErrNotFound
	}
	cp := *m
	return &cp, nil
}

func (s *memStore) SoftDeleteMemory(_ context.Context, userID string, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok || m.UserID != userID {
		return registrystore.ErrNotFound
	}
	m.DeletedAt = &now
	return nil
}

func (s *memStore) RecentMemories(_ context.Context, userID string, limit int) ([]model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Memory
	for _, m := range s.memories {
		if m.UserID == userID && m.Live() {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memStore) SetEmbedding(_ context.Context, id uuid.UUID, vec []byte, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok {
		return registrystore.ErrNotFound
	}
	m.Embedding = vec
	m.EmbeddingUpdatedAt = &at
	return nil
}

func (s *memStore) EnqueueEmbedding(_ context.Context, item *model.EmbeddingQueueItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued = append(s.queued, *item)
	return nil
}

// SemanticSearch matches only rows with a stored vector, like the sqlite
// store: rows whose embedding is still pending are invisible to it.
func (s *memStore) SemanticSearch(_ context.Context, userID string, vec []float32, limit int) ([]registrystore.SemanticHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var hits []registrystore.SemanticHit
	for _, m := range s.memories {
		if m.UserID != userID || !m.Live() || !m.HasEmbedding() {
			continue
		}
		stored := embedding.DecodeVector(m.Embedding)
		hits = append(hits, registrystore.SemanticHit{Memory: *m, Similarity: embedding.Cosine(vec, stored)})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *memStore) queueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queued)
}

func (s *memStore) live(userID string) []*model.Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*model.Memory
	for _, m := range s.memories {
		if m.UserID == userID && m.Live() {
			out = append(out, m)
		}
	}
	return out
}

func TestSaveCreatesMemory(t *testing.T) {
	st := newMemStore()
	e := New(st, nil, nil)

	res, err := e.Save(context.Background(), SaveRequest{
		UserID:   "u1",
		ThreadID: "t1",
		Content:  "I prefer tabs over spaces",
	})
	require.NoError(t, err)
	assert.False(t, res.Superceded)
	assert.Equal(t, model.Tier2, res.Memory.Tier)
	assert.Equal(t, 1, res.Memory.Repeats)
	assert.Equal(t, []string{"t1"}, res.Memory.ThreadSet)
	assert.Equal(t, "t1", res.Memory.SourceThreadID)
}

func TestSaveExplicitDefaultsTier1(t *testing.T) {
	st := newMemStore()
	e := New(st, nil, nil)

	res, err := e.Save(context.Background(), SaveRequest{
		UserID:   "u1",
		ThreadID: "t1",
		Content:  "the deploy pipeline runs at midnight",
		Explicit: true,
	})
	require.NoError(t, err)
	assert.Equal(t, model.Tier1, res.Memory.Tier)
}

func TestSaveRejectsAllRedacted(t *testing.T) {
	st := newMemStore()
	e := New(st, nil, nil)

	_, err := e.Save(context.Background(), SaveRequest{
		UserID:   "u1",
		ThreadID: "t1",
		Content:  "alice@example.com",
	})
	assert.ErrorIs(t, err, ErrAllRedacted)
	assert.Empty(t, st.live("u1"))
}

// Restating the same attribute converges to one row: the second save
// supercedes the first instead of inserting.
func TestSaveSupercedeConvergence(t *testing.T) {
	st := newMemStore()
	e := New(st, nil, nil)
	ctx := context.Background()

	first, err := e.Save(ctx, SaveRequest{UserID: "u1", ThreadID: "t1", Content: "my favorite color is blue"})
	require.NoError(t, err)

	second, err := e.Save(ctx, SaveRequest{UserID: "u1", ThreadID: "t2", Content: "my favorite color is red"})
	require.NoError(t, err)

	assert.True(t, second.Superceded)
	assert.Equal(t, first.Memory.ID, second.Memory.ID)
	assert.Equal(t, "my favorite color is red", second.Memory.Content)
	assert.Equal(t, 2, second.Memory.Repeats)
	assert.ElementsMatch(t, []string{"t1", "t2"}, second.Memory.ThreadSet)
	assert.Len(t, st.live("u1"), 1)
}

func TestSaveSupercedeMaxesPriority(t *testing.T) {
	st := newMemStore()
	e := New(st, nil, nil)
	ctx := context.Background()

	hi := 0.9
	lo := 0.2
	_, err := e.Save(ctx, SaveRequest{UserID: "u1", ThreadID: "t1", Content: "my editor is vim", Priority: &hi})
	require.NoError(t, err)

	res, err := e.Save(ctx, SaveRequest{UserID: "u1", ThreadID: "t1", Content: "my editor is vim", Priority: &lo})
	require.NoError(t, err)
	assert.True(t, res.Superceded)
	assert.Equal(t, 0.9, res.Memory.Priority, "supercede never lowers priority")
}

func TestSaveUserIsolation(t *testing.T) {
	st := newMemStore()
	e := New(st, nil, nil)
	ctx := context.Background()

	_, err := e.Save(ctx, SaveRequest{UserID: "u1", ThreadID: "t1", Content: "my favorite color is blue"})
	require.NoError(t, err)

	res, err := e.Save(ctx, SaveRequest{UserID: "u2", ThreadID: "t1", Content: "my favorite color is blue"})
	require.NoError(t, err)

	assert.False(t, res.Superceded, "another user's identical content must not match")
	assert.Len(t, st.live("u1"), 1)
	assert.Len(t, st.live("u2"), 1)
}

func TestPatchContentAndDelete(t *testing.T) {
	st := newMemStore()
	e := New(st, nil, nil)
	ctx := context.Background()

	res, err := e.Save(ctx, SaveRequest{UserID: "u1", ThreadID: "t1", Content: "standup is at 9am"})
	require.NoError(t, err)
	id := res.Memory.ID

	newContent := "standup is at 10am"
	patched, err := e.Patch(ctx, "u1", id, PatchRequest{Content: &newContent})
	require.NoError(t, err)
	assert.Equal(t, "standup is at 10am", patched.Content)
	assert.Nil(t, patched.Embedding, "content change invalidates the vector")

	deleted := true
	gone, err := e.Patch(ctx, "u1", id, PatchRequest{Deleted: &deleted})
	require.NoError(t, err)
	assert.NotNil(t, gone.DeletedAt)
	assert.Empty(t, st.live("u1"))
}

func TestPatchWrongUser(t *testing.T) {
	st := newMemStore()
	e := New(st, nil, nil)
	ctx := context.Background()

	res, err := e.Save(ctx, SaveRequest{UserID: "u1", ThreadID: "t1", Content: "standup is at 9am"})
	require.NoError(t, err)

	p := 0.9
	_, err = e.Patch(ctx, "u2", res.Memory.ID, PatchRequest{Priority: &p})
	assert.ErrorIs(t, err, registrystore.ErrNotFound)
}

func TestObserveThread(t *testing.T) {
	st := newMemStore()
	e := New(st, nil, nil)
	ctx := context.Background()

	res, err := e.Save(ctx, SaveRequest{UserID: "u1", ThreadID: "t1", Content: "the API rate limit is 100 rps"})
	require.NoError(t, err)

	m, err := e.ObserveThread(ctx, "u1", res.Memory.ID, "t2")
	require.NoError(t, err)
	assert.Equal(t, 2, m.Repeats)
	assert.ElementsMatch(t, []string{"t1", "t2"}, m.ThreadSet)
}

type countingInvalidator struct {
	mu    sync.Mutex
	users []string
}

func (c *countingInvalidator) Invalidate(_ context.Context, userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = append(c.users, userID)
}

func TestProfileInvalidationOnTierTwoSave(t *testing.T) {
	st := newMemStore()
	inv := &countingInvalidator{}
	e := New(st, nil, inv)
	ctx := context.Background()

	_, err := e.Save(ctx, SaveRequest{UserID: "u1", ThreadID: "t1", Content: "I prefer dark mode"})
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, inv.users)

	// T3 saves do not touch the profile.
	_, err = e.Save(ctx, SaveRequest{UserID: "u1", ThreadID: "t1", Content: "the weather was nice during the offsite"})
	require.NoError(t, err)
	assert.Len(t, inv.users, 1)
}

// fakeEmbedder hands every distinct text its own axis: identical texts are
// cosine 1, different texts cosine 0. Texts in failOn error like a dead
// provider.
type fakeEmbedder struct {
	mu     sync.Mutex
	axes   map[string]int
	failOn map[string]bool
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{axes: map[string]int{}, failOn: map[string]bool{}}
}

func (f *fakeEmbedder) ModelName() string { return "fake" }
func (f *fakeEmbedder) Dimension() int    { return 8 }

func (f *fakeEmbedder) EmbedTexts(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if f.failOn[text] {
			return nil, errors.New("provider unavailable")
		}
		axis, ok := f.axes[text]
		if !ok {
			axis = len(f.axes) % 8
			f.axes[text] = axis
		}
		vec := make([]float32, 8)
		vec[axis] = 1
		out[i] = vec
	}
	return out, nil
}

// A restatement that arrives while the first save's vector is still pending
// must converge through the textual scan: the vector search cannot see rows
// without embeddings, so a vector miss is not proof of novelty.
func TestSaveConvergesDuringEmbeddingLag(t *testing.T) {
	st := newMemStore()
	emb := newFakeEmbedder()
	emb.failOn["my favorite color is blue"] = true
	svc := embedding.NewService(emb, nil, st, time.Minute)
	e := New(st, svc, nil)
	ctx := context.Background()

	first, err := e.Save(ctx, SaveRequest{UserID: "u1", ThreadID: "t1", Content: "my favorite color is blue"})
	require.NoError(t, err)

	stored, err := st.GetMemory(ctx, "u1", first.Memory.ID)
	require.NoError(t, err)
	require.False(t, stored.HasEmbedding(), "provider down, vector still pending")
	require.Equal(t, 1, st.queueLen(), "failed embed lands on the persistent queue")

	second, err := e.Save(ctx, SaveRequest{UserID: "u1", ThreadID: "t2", Content: "my favorite color is red"})
	require.NoError(t, err)

	assert.True(t, second.Superceded, "vector miss must fall through to the textual scan")
	assert.Equal(t, first.Memory.ID, second.Memory.ID)
	assert.Len(t, st.live("u1"), 1)

	// The supercede re-embeds with the healthy text, so the row recovers.
	stored, err = st.GetMemory(ctx, "u1", first.Memory.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasEmbedding())
}

// Saves embed synchronously when the provider is healthy; the vector is
// durable before the save returns, and an identical restatement then
// supercedes through the vector path alone.
func TestSaveEmbedsSynchronously(t *testing.T) {
	st := newMemStore()
	svc := embedding.NewService(newFakeEmbedder(), nil, st, time.Minute)
	e := New(st, svc, nil)
	ctx := context.Background()

	res, err := e.Save(ctx, SaveRequest{UserID: "u1", ThreadID: "t1", Content: "my favorite color is blue"})
	require.NoError(t, err)

	stored, err := st.GetMemory(ctx, "u1", res.Memory.ID)
	require.NoError(t, err)
	assert.True(t, stored.HasEmbedding())
	assert.NotNil(t, stored.EmbeddingUpdatedAt)
	assert.True(t, res.Memory.HasEmbedding(), "caller sees the fresh vector")
	assert.Zero(t, st.queueLen())

	same, err := e.Save(ctx, SaveRequest{UserID: "u1", ThreadID: "t2", Content: "my favorite color is blue"})
	require.NoError(t, err)
	assert.True(t, same.Superceded)
	assert.Len(t, st.live("u1"), 1)
}
