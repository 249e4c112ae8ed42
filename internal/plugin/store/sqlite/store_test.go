package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mranderson01901234/5.0-sub004/internal/model"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.db"), 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	require.NoError(t, s.Migrate(context.Background()))
	return s
}

func mem(userID, threadID, content string) *model.Memory {
	now := time.Now().UTC()
	return &model.Memory{
		ID:             uuid.New(),
		UserID:         userID,
		ThreadID:       threadID,
		Content:        content,
		Priority:       0.5,
		Confidence:     0.8,
		Tier:           model.Tier3,
		SourceThreadID: threadID,
		Repeats:        1,
		ThreadSet:      []string{threadID},
		LastSeenTs:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

func TestInsertAndGet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	m := mem("alice", "t1", "I prefer dark mode in my editor")
	require.NoError(t, s.InsertMemory(ctx, m))

	got, err := s.GetMemory(ctx, "alice", m.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Content, got.Content)
	assert.Equal(t, []string{"t1"}, got.ThreadSet)

	_, err = s.GetMemory(ctx, "bob", m.ID)
	assert.ErrorIs(t, err, registrystore.ErrNotFound)
}

func TestFTSFollowsContent(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	m := mem("alice", "t1", "My favorite color is blue")
	require.NoError(t, s.InsertMemory(ctx, m))

	hits, err := s.SearchKeywordFTS(ctx, "alice", `"blue"`, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, m.ID, hits[0].Memory.ID)
	assert.GreaterOrEqual(t, hits[0].Relevance, 0.0)

	// Updating the row must update the index in the same transaction.
	m.Content = "My favorite color is red"
	require.NoError(t, s.UpdateMemory(ctx, m))

	hits, err = s.SearchKeywordFTS(ctx, "alice", `"blue"`, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	hits, err = s.SearchKeywordFTS(ctx, "alice", `"red"`, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
}

func TestFTSUserIsolation(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertMemory(ctx, mem("alice", "t1", "rust is my main language")))
	require.NoError(t, s.InsertMemory(ctx, mem("bob", "t2", "rust is overrated")))

	hits, err := s.SearchKeywordFTS(ctx, "alice", `"rust"`, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "alice", hits[0].Memory.UserID)
}

func TestSoftDeleteHidesEverywhere(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	m := mem("alice", "t1", "I work from Lisbon")
	require.NoError(t, s.InsertMemory(ctx, m))
	require.NoError(t, s.SoftDeleteMemory(ctx, "alice", m.ID, time.Now().UTC()))

	hits, err := s.SearchKeywordFTS(ctx, "alice", `"lisbon"`, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)

	ms, total, err := s.ListMemories(ctx, registrystore.ListMemoriesQuery{UserID: "alice"})
	require.NoError(t, err)
	assert.Empty(t, ms)
	assert.Zero(t, total)

	// The row itself survives for includeDeleted listings.
	ms, total, err = s.ListMemories(ctx, registrystore.ListMemoriesQuery{UserID: "alice", IncludeDeleted: true})
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.EqualValues(t, 1, total)
	assert.NotNil(t, ms[0].DeletedAt)

	// Deleting again is not found.
	err = s.SoftDeleteMemory(ctx, "alice", m.ID, time.Now().UTC())
	assert.ErrorIs(t, err, registrystore.ErrNotFound)
}

func TestRebuildFTS(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	live := mem("alice", "t1", "kubernetes runs my side project")
	gone := mem("alice", "t1", "old fact about terraform")
	require.NoError(t, s.InsertMemory(ctx, live))
	require.NoError(t, s.InsertMemory(ctx, gone))
	require.NoError(t, s.SoftDeleteMemory(ctx, "alice", gone.ID, time.Now().UTC()))

	// Wreck the index, then rebuild from the memories table.
	require.NoError(t, s.write.Exec("DELETE FROM memories_fts WHERE user_id = ?", "alice").Error)
	require.NoError(t, s.RebuildFTS(ctx, "alice"))

	hits, err := s.SearchKeywordFTS(ctx, "alice", `"kubernetes"`, 10)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, live.ID, hits[0].Memory.ID)

	hits, err = s.SearchKeywordFTS(ctx, "alice", `"terraform"`, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchKeywordLikeEscapes(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.InsertMemory(ctx, mem("alice", "t1", "progress is at 50% done")))
	require.NoError(t, s.InsertMemory(ctx, mem("alice", "t1", "something else entirely")))

	ms, err := s.SearchKeywordLike(ctx, "alice", []string{"50%"}, 10)
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Contains(t, ms[0].Content, "50%")
}

func TestListMemoriesFilters(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	a := mem("alice", "t1", "first")
	a.Priority = 0.9
	b := mem("alice", "t2", "second")
	b.Priority = 0.2
	require.NoError(t, s.InsertMemory(ctx, a))
	require.NoError(t, s.InsertMemory(ctx, b))

	thread := "t1"
	ms, total, err := s.ListMemories(ctx, registrystore.ListMemoriesQuery{UserID: "alice", ThreadID: &thread})
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, a.ID, ms[0].ID)

	minPriority := 0.5
	ms, _, err = s.ListMemories(ctx, registrystore.ListMemoriesQuery{UserID: "alice", MinPriority: &minPriority})
	require.NoError(t, err)
	require.Len(t, ms, 1)
	assert.Equal(t, a.ID, ms[0].ID)
}

func TestEmbeddingQueueLifecycle(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	m := mem("alice", "t1", "pending vector")
	require.NoError(t, s.InsertMemory(ctx, m))

	item := &model.EmbeddingQueueItem{
		ID:        uuid.New(),
		MemoryID:  m.ID,
		Content:   m.Content,
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, s.EnqueueEmbedding(ctx, item))

	pending, err := s.PendingEmbeddings(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	require.NoError(t, s.BumpEmbeddingRetry(ctx, item.ID))
	require.NoError(t, s.MarkEmbeddingProcessed(ctx, item.ID, time.Now().UTC(), nil))

	pending, err = s.PendingEmbeddings(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestAuditedThreadsWithSummaries(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, s.InsertAudit(ctx, &model.MemoryAudit{
		ID: uuid.New(), UserID: "alice", ThreadID: "t1",
		Saved: 2, Score: 0.7, CreatedAt: now.Add(-time.Hour),
	}))
	require.NoError(t, s.InsertAudit(ctx, &model.MemoryAudit{
		ID: uuid.New(), UserID: "alice", ThreadID: "t2",
		Saved: 1, Score: 0.8, CreatedAt: now,
	}))
	require.NoError(t, s.UpsertThreadSummary(ctx, &model.ThreadSummary{
		ThreadID: "t2", UserID: "alice", Summary: "talked about go", UpdatedAt: now,
	}))

	threads, err := s.ListAuditedThreads(ctx, "alice", "", 10)
	require.NoError(t, err)
	require.Len(t, threads, 2)
	assert.Equal(t, "t2", threads[0].ThreadID)
	require.NotNil(t, threads[0].Summary)
	assert.Equal(t, "talked about go", *threads[0].Summary)
	assert.Nil(t, threads[1].Summary)

	// Excluding the current thread drops it from the listing.
	threads, err = s.ListAuditedThreads(ctx, "alice", "t2", 10)
	require.NoError(t, err)
	require.Len(t, threads, 1)
	assert.Equal(t, "t1", threads[0].ThreadID)
}
