package service

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mranderson01901234/5.0-sub004/internal/model"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
)

type retentionStore struct {
	registrystore.MemoryStore
	mu       sync.Mutex
	memories map[uuid.UUID]*model.Memory
}

func newRetentionStore() *retentionStore {
	return &retentionStore{memories: map[uuid.UUID]*model.Memory{}}
}

func (s *retentionStore) add(m model.Memory) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := m
	s.memories[m.ID] = &cp
}

func (s *retentionStore) get(id uuid.UUID) model.Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.memories[id]
}

func (s *retentionStore) LiveMemoriesBatch(_ context.Context, afterID string, limit int) ([]model.Memory, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.Memory
	for _, m := range s.memories {
		if m.Live() && m.ID.String() > afterID {
			out = append(out, *m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *retentionStore) UpdateMemory(_ context.Context, m *model.Memory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *m
	s.memories[m.ID] = &cp
	return nil
}

func (s *retentionStore) SoftDeleteMemory(_ context.Context, userID string, id uuid.UUID, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.memories[id]
	if !ok || m.UserID != userID {
		return registrystore.ErrNotFound
	}
	m.DeletedAt = &now
	return nil
}

func seeded(tier model.Tier, priority float64, age time.Duration, threads []string, repeats int) model.Memory {
	ts := time.Now().UTC().Add(-age)
	return model.Memory{
		ID: uuid.New(), UserID: "u1", ThreadID: "t1", Content: "seeded fact",
		Priority: priority, Tier: tier, Repeats: repeats, ThreadSet: threads,
		LastSeenTs: ts, CreatedAt: ts, UpdatedAt: ts,
	}
}

func TestRetentionTTLExpiry(t *testing.T) {
	st := newRetentionStore()
	old := seeded(model.Tier3, 0.8, 95*24*time.Hour, []string{"t1"}, 1)
	fresh := seeded(model.Tier3, 0.8, 24*time.Hour, []string{"t1"}, 1)
	st.add(old)
	st.add(fresh)

	NewRetention(st, time.Hour).Run(context.Background())

	assert.NotNil(t, st.get(old.ID).DeletedAt, "95-day-old T3 memory expires at 90 days")
	assert.Nil(t, st.get(fresh.ID).DeletedAt)
}

func TestRetentionDecay(t *testing.T) {
	st := newRetentionStore()
	m := seeded(model.Tier1, 0.9, 21*24*time.Hour, []string{"t1"}, 1)
	st.add(m)

	NewRetention(st, time.Hour).Run(context.Background())

	got := st.get(m.ID)
	assert.InDelta(t, 0.9-3*0.01, got.Priority, 1e-9, "three weeks of T1 decay")
	assert.Equal(t, model.Tier1, got.Tier)
}

func TestRetentionIdempotentWithinWeek(t *testing.T) {
	st := newRetentionStore()
	m := seeded(model.Tier1, 0.9, 21*24*time.Hour, []string{"t1"}, 1)
	st.add(m)

	r := NewRetention(st, time.Hour)
	r.Run(context.Background())
	after1 := st.get(m.ID)

	r.Run(context.Background())
	after2 := st.get(m.ID)

	assert.Equal(t, after1.Priority, after2.Priority, "a second run in the same week must not double-decay")
	assert.Equal(t, after1.Tier, after2.Tier)
}

// Decay alone must not move updatedAt: moving it would restart the TTL clock
// and inflate the recency boost every week.
func TestRetentionDecayKeepsUpdatedAt(t *testing.T) {
	st := newRetentionStore()
	m := seeded(model.Tier1, 0.9, 21*24*time.Hour, []string{"t1"}, 1)
	st.add(m)

	NewRetention(st, time.Hour).Run(context.Background())

	got := st.get(m.ID)
	assert.InDelta(t, 0.9-3*0.01, got.Priority, 1e-9)
	assert.True(t, got.UpdatedAt.Equal(m.UpdatedAt), "decay alone must not touch updatedAt")
	assert.Equal(t, 3, got.DecayedWeeks)
}

func TestRetentionDecayAccumulatesAcrossWeeks(t *testing.T) {
	st := newRetentionStore()
	m := seeded(model.Tier1, 0.9, 21*24*time.Hour, []string{"t1"}, 1)
	st.add(m)

	r := NewRetention(st, time.Hour)
	r.Run(context.Background())

	// One more week passes; only the unapplied week decays.
	r.now = func() time.Time { return time.Now().Add(7 * 24 * time.Hour) }
	r.Run(context.Background())

	got := st.get(m.ID)
	assert.InDelta(t, 0.9-4*0.01, got.Priority, 1e-9)
	assert.True(t, got.UpdatedAt.Equal(m.UpdatedAt))
}

func TestRetentionDecayDoesNotRestartTTLClock(t *testing.T) {
	st := newRetentionStore()
	m := seeded(model.Tier3, 0.8, 85*24*time.Hour, []string{"t1"}, 1)
	st.add(m)

	r := NewRetention(st, time.Hour)
	r.Run(context.Background())
	require.Nil(t, st.get(m.ID).DeletedAt, "85-day-old T3 decays but survives")

	// Six more days push the memory past the 90-day TTL even though the
	// earlier pass already wrote a decayed priority.
	r.now = func() time.Time { return time.Now().Add(6 * 24 * time.Hour) }
	r.Run(context.Background())

	assert.NotNil(t, st.get(m.ID).DeletedAt)
}

func TestRetentionPromotion(t *testing.T) {
	st := newRetentionStore()
	m := seeded(model.Tier3, 0.6, 10*24*time.Hour, []string{"t1", "t2"}, 2)
	st.add(m)

	NewRetention(st, time.Hour).Run(context.Background())

	got := st.get(m.ID)
	assert.Equal(t, model.Tier1, got.Tier, "multi-thread repeated T3 promotes to T1")
	assert.True(t, got.UpdatedAt.After(m.UpdatedAt), "a tier move is a real write")
	assert.Equal(t, 0, got.DecayedWeeks)
}

func TestRetentionDemotion(t *testing.T) {
	st := newRetentionStore()
	t1 := seeded(model.Tier1, 0.2, time.Hour, []string{"t1"}, 1)
	t2 := seeded(model.Tier2, 0.4, time.Hour, []string{"t1"}, 1)
	st.add(t1)
	st.add(t2)

	NewRetention(st, time.Hour).Run(context.Background())

	assert.Equal(t, model.Tier3, st.get(t1.ID).Tier, "T1 below 0.35 demotes")
	assert.Equal(t, model.Tier3, st.get(t2.ID).Tier, "T2 below 0.50 demotes")
}

func TestRetentionTierThreeFloor(t *testing.T) {
	st := newRetentionStore()
	m := seeded(model.Tier3, 0.32, 10*7*24*time.Hour, []string{"t1"}, 1)
	st.add(m)

	NewRetention(st, time.Hour).Run(context.Background())

	got := st.get(m.ID)
	require.Nil(t, got.DeletedAt)
	assert.Equal(t, model.Tier3, got.Tier, "T3 never demotes")
	assert.InDelta(t, 0.30, got.Priority, 1e-9, "decay clamps at the T3 floor")
}
