// Package metrics wraps a MemoryStore so every operation records its latency
// in the StoreLatency histogram.
package metrics

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/mranderson01901234/5.0-sub004/internal/model"
	"github.com/mranderson01901234/5.0-sub004/internal/registry/store"
	"github.com/mranderson01901234/5.0-sub004/internal/security"
)

// Wrap returns a MemoryStore that records StoreLatency for every operation.
func Wrap(inner store.MemoryStore) store.MemoryStore {
	return &metricsStore{inner: inner}
}

type metricsStore struct {
	inner store.MemoryStore
}

func observe(op string, start time.Time) {
	if security.StoreLatency != nil {
		security.StoreLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

func (m *metricsStore) InsertMemory(ctx context.Context, mem *model.Memory) error {
	defer observe("insert_memory", time.Now())
	return m.inner.InsertMemory(ctx, mem)
}

func (m *metricsStore) InsertMemories(ctx context.Context, ms []*model.Memory) error {
	defer observe("insert_memories", time.Now())
	return m.inner.InsertMemories(ctx, ms)
}

func (m *metricsStore) UpdateMemory(ctx context.Context, mem *model.Memory) error {
	defer observe("update_memory", time.Now())
	return m.inner.UpdateMemory(ctx, mem)
}

func (m *metricsStore) GetMemory(ctx context.Context, userID string, id uuid.UUID) (*model.Memory, error) {
	defer observe("get_memory", time.Now())
	return m.inner.GetMemory(ctx, userID, id)
}

func (m *metricsStore) ListMemories(ctx context.Context, q store.ListMemoriesQuery) ([]model.Memory, int64, error) {
	defer observe("list_memories", time.Now())
	return m.inner.ListMemories(ctx, q)
}

func (m *metricsStore) SoftDeleteMemory(ctx context.Context, userID string, id uuid.UUID, now time.Time) error {
	defer observe("soft_delete_memory", time.Now())
	return m.inner.SoftDeleteMemory(ctx, userID, id, now)
}

func (m *metricsStore) RecentMemories(ctx context.Context, userID string, limit int) ([]model.Memory, error) {
	defer observe("recent_memories", time.Now())
	return m.inner.RecentMemories(ctx, userID, limit)
}

func (m *metricsStore) TopMemories(ctx context.Context, userID string, limit int) ([]model.Memory, error) {
	defer observe("top_memories", time.Now())
	return m.inner.TopMemories(ctx, userID, limit)
}

func (m *metricsStore) LiveMemoriesBatch(ctx context.Context, afterID string, limit int) ([]model.Memory, error) {
	defer observe("live_memories_batch", time.Now())
	return m.inner.LiveMemoriesBatch(ctx, afterID, limit)
}

func (m *metricsStore) SetEmbedding(ctx context.Context, id uuid.UUID, vec []byte, at time.Time) error {
	defer observe("set_embedding", time.Now())
	return m.inner.SetEmbedding(ctx, id, vec, at)
}

func (m *metricsStore) SemanticSearch(ctx context.Context, userID string, vec []float32, limit int) ([]store.SemanticHit, error) {
	defer observe("semantic_search", time.Now())
	return m.inner.SemanticSearch(ctx, userID, vec, limit)
}

func (m *metricsStore) SearchKeywordFTS(ctx context.Context, userID string, match string, limit int) ([]store.KeywordHit, error) {
	defer observe("search_keyword_fts", time.Now())
	return m.inner.SearchKeywordFTS(ctx, userID, match, limit)
}

func (m *metricsStore) SearchKeywordLike(ctx context.Context, userID string, terms []string, limit int) ([]model.Memory, error) {
	defer observe("search_keyword_like", time.Now())
	return m.inner.SearchKeywordLike(ctx, userID, terms, limit)
}

func (m *metricsStore) RebuildFTS(ctx context.Context, userID string) error {
	defer observe("rebuild_fts", time.Now())
	return m.inner.RebuildFTS(ctx, userID)
}

func (m *metricsStore) InsertAudit(ctx context.Context, a *model.MemoryAudit) error {
	defer observe("insert_audit", time.Now())
	return m.inner.InsertAudit(ctx, a)
}

func (m *metricsStore) ListAuditedThreads(ctx context.Context, userID string, excludeThreadID string, limit int) ([]store.AuditedThread, error) {
	defer observe("list_audited_threads", time.Now())
	return m.inner.ListAuditedThreads(ctx, userID, excludeThreadID, limit)
}

func (m *metricsStore) UpsertThreadSummary(ctx context.Context, s *model.ThreadSummary) error {
	defer observe("upsert_thread_summary", time.Now())
	return m.inner.UpsertThreadSummary(ctx, s)
}

func (m *metricsStore) UpsertUserProfile(ctx context.Context, p *model.UserProfile) error {
	defer observe("upsert_user_profile", time.Now())
	return m.inner.UpsertUserProfile(ctx, p)
}

func (m *metricsStore) GetUserProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	defer observe("get_user_profile", time.Now())
	return m.inner.GetUserProfile(ctx, userID)
}

func (m *metricsStore) EnqueueEmbedding(ctx context.Context, item *model.EmbeddingQueueItem) error {
	defer observe("enqueue_embedding", time.Now())
	return m.inner.EnqueueEmbedding(ctx, item)
}

func (m *metricsStore) PendingEmbeddings(ctx context.Context, limit int) ([]model.EmbeddingQueueItem, error) {
	defer observe("pending_embeddings", time.Now())
	return m.inner.PendingEmbeddings(ctx, limit)
}

func (m *metricsStore) MarkEmbeddingProcessed(ctx context.Context, id uuid.UUID, at time.Time, errMsg *string) error {
	defer observe("mark_embedding_processed", time.Now())
	return m.inner.MarkEmbeddingProcessed(ctx, id, at, errMsg)
}

func (m *metricsStore) BumpEmbeddingRetry(ctx context.Context, id uuid.UUID) error {
	defer observe("bump_embedding_retry", time.Now())
	return m.inner.BumpEmbeddingRetry(ctx, id)
}

func (m *metricsStore) MemoryCounts(ctx context.Context) (store.MemoryCounts, error) {
	defer observe("memory_counts", time.Now())
	return m.inner.MemoryCounts(ctx)
}

func (m *metricsStore) AuditStats(ctx context.Context) (store.AuditStats, error) {
	defer observe("audit_stats", time.Now())
	return m.inner.AuditStats(ctx)
}

func (m *metricsStore) DBSizeMB(ctx context.Context) (float64, error) {
	defer observe("db_size_mb", time.Now())
	return m.inner.DBSizeMB(ctx)
}

func (m *metricsStore) Close() error {
	return m.inner.Close()
}

var _ store.MemoryStore = (*metricsStore)(nil)
