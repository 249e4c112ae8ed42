package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mranderson01901234/5.0-sub004/internal/model"
)

// ListMemoriesQuery holds the filters for a memory list.
type ListMemoriesQuery struct {
	UserID         string
	ThreadID       *string
	MinPriority    *float64
	IncludeDeleted bool
	Limit          int
	Offset         int
}

// KeywordHit is one full-text match with its raw relevance. For FTS results
// the relevance is derived from bm25; the recall engine re-scores against the
// query's phrases and keywords either way.
type KeywordHit struct {
	Memory    model.Memory
	Relevance float64
}

// SemanticHit is one vector match with its cosine similarity in [0,1].
type SemanticHit struct {
	Memory     model.Memory
	Similarity float64
}

// AuditedThread summarizes a thread's audit history for the conversations API.
type AuditedThread struct {
	ThreadID    string     `json:"threadId"`
	Audits      int        `json:"audits"`
	Saved       int        `json:"saved"`
	LastAuditAt time.Time  `json:"lastAuditAt"`
	Summary     *string    `json:"summary,omitempty"`
	SummaryAt   *time.Time `json:"summaryAt,omitempty"`
}

// MemoryCounts is the admin metrics breakdown of the memories table.
type MemoryCounts struct {
	Total   int64                `json:"total"`
	Live    int64                `json:"live"`
	Deleted int64                `json:"deleted"`
	ByTier  map[model.Tier]int64 `json:"byTier"`
}

// AuditStats is the admin metrics view of the audit table.
type AuditStats struct {
	Total  int64      `json:"total"`
	LastAt *time.Time `json:"lastAt,omitempty"`
}

// MemoryStore is the durable single-writer store behind the memory pipeline.
// Every method that takes a userID is scoped to that user; nothing reads or
// writes across users except the admin metrics methods.
type MemoryStore interface {
	// Memories. Insert and Update keep the FTS index in sync with the row
	// within the same write transaction; SoftDelete removes the FTS row.
	InsertMemory(ctx context.Context, m *model.Memory) error
	InsertMemories(ctx context.Context, ms []*model.Memory) error
	UpdateMemory(ctx context.Context, m *model.Memory) error
	GetMemory(ctx context.Context, userID string, id uuid.UUID) (*model.Memory, error)
	ListMemories(ctx context.Context, q ListMemoriesQuery) ([]model.Memory, int64, error)
	SoftDeleteMemory(ctx context.Context, userID string, id uuid.UUID, now time.Time) error

	// RecentMemories returns live memories newest-updated first.
	RecentMemories(ctx context.Context, userID string, limit int) ([]model.Memory, error)
	// TopMemories returns live memories by priority desc.
	TopMemories(ctx context.Context, userID string, limit int) ([]model.Memory, error)
	// LiveMemoriesBatch pages all live rows across users by id, for retention.
	LiveMemoriesBatch(ctx context.Context, afterID string, limit int) ([]model.Memory, error)

	// SetEmbedding stores the vector for a memory.
	SetEmbedding(ctx context.Context, id uuid.UUID, vec []byte, at time.Time) error
	// SemanticSearch ranks live memories that have embeddings by cosine
	// similarity to vec, best first.
	SemanticSearch(ctx context.Context, userID string, vec []float32, limit int) ([]SemanticHit, error)

	// SearchKeywordFTS runs an FTS5 MATCH over live memories.
	SearchKeywordFTS(ctx context.Context, userID string, match string, limit int) ([]KeywordHit, error)
	// SearchKeywordLike is the LIKE fallback: live memories whose content
	// contains any of the terms.
	SearchKeywordLike(ctx context.Context, userID string, terms []string, limit int) ([]model.Memory, error)
	// RebuildFTS drops and re-inserts the FTS rows for one user.
	RebuildFTS(ctx context.Context, userID string) error

	// Audits (append-only) and thread summaries (upsert).
	InsertAudit(ctx context.Context, a *model.MemoryAudit) error
	ListAuditedThreads(ctx context.Context, userID string, excludeThreadID string, limit int) ([]AuditedThread, error)
	UpsertThreadSummary(ctx context.Context, s *model.ThreadSummary) error

	// User profiles (upsert-only).
	UpsertUserProfile(ctx context.Context, p *model.UserProfile) error
	GetUserProfile(ctx context.Context, userID string) (*model.UserProfile, error)

	// Embedding queue.
	EnqueueEmbedding(ctx context.Context, item *model.EmbeddingQueueItem) error
	PendingEmbeddings(ctx context.Context, limit int) ([]model.EmbeddingQueueItem, error)
	MarkEmbeddingProcessed(ctx context.Context, id uuid.UUID, at time.Time, errMsg *string) error
	BumpEmbeddingRetry(ctx context.Context, id uuid.UUID) error

	// Admin metrics.
	MemoryCounts(ctx context.Context) (MemoryCounts, error)
	AuditStats(ctx context.Context) (AuditStats, error)
	DBSizeMB(ctx context.Context) (float64, error)

	Close() error
}

// Loader creates a MemoryStore from config.
type Loader func(ctx context.Context) (MemoryStore, error)

// Plugin represents a store plugin.
type Plugin struct {
	Name   string
	Loader Loader
}

var plugins []Plugin

// Register adds a store plugin.
func Register(p Plugin) {
	plugins = append(plugins, p)
}

// Names returns all registered store plugin names.
func Names() []string {
	names := make([]string, len(plugins))
	for i, p := range plugins {
		names[i] = p.Name
	}
	return names
}

// Select returns the loader for the named store plugin.
func Select(name string) (Loader, error) {
	for _, p := range plugins {
		if p.Name == name {
			return p.Loader, nil
		}
	}
	return nil, fmt.Errorf("unknown store %q; valid: %v", name, Names())
}
