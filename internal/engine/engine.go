// Package engine owns the memory write path: redaction, supercede-or-create,
// cross-thread observation and the CRUD operations behind the memories API.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/mranderson01901234/5.0-sub004/internal/embedding"
	"github.com/mranderson01901234/5.0-sub004/internal/model"
	"github.com/mranderson01901234/5.0-sub004/internal/redact"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
	"github.com/mranderson01901234/5.0-sub004/internal/scoring"
	"github.com/mranderson01901234/5.0-sub004/internal/security"
	"github.com/mranderson01901234/5.0-sub004/internal/topic"
)

const (
	// supercedeThreshold is the textual similarity a candidate must reach
	// against an existing memory to replace it instead of inserting.
	supercedeThreshold = 0.75

	// vectorDupThreshold is the cosine similarity treated as "same fact"
	// when embeddings are available.
	vectorDupThreshold = 0.85

	// supercedeScanLimit bounds the textual scan to the most recent live
	// memories.
	supercedeScanLimit = 50

	// maxContentLen caps stored content length in runes.
	maxContentLen = 1024

	defaultPriority = 0.5
)

// ErrAllRedacted is returned when redaction leaves no usable content.
var ErrAllRedacted = errors.New("content is entirely redacted")

// Invalidator drops a user's cached profile. The profile builder implements
// it; a nil Invalidator disables invalidation.
type Invalidator interface {
	Invalidate(ctx context.Context, userID string)
}

// Engine is the memory write path. Safe for concurrent use; the store
// serializes durable mutations.
type Engine struct {
	store    registrystore.MemoryStore
	embedder *embedding.Service
	profiles Invalidator

	rejectedAllRedacted atomic.Int64
}

// New builds an Engine. profiles may be nil.
func New(store registrystore.MemoryStore, embedder *embedding.Service, profiles Invalidator) *Engine {
	return &Engine{store: store, embedder: embedder, profiles: profiles}
}

// SaveRequest is one candidate memory entering the supercede-or-create path.
type SaveRequest struct {
	UserID   string
	ThreadID string
	Content  string

	// Priority, when set, raises (never lowers) the matched memory's
	// priority, or seeds the new row. Nil means the 0.5 default on insert.
	Priority *float64

	// Tier override. Automatic saves retain the existing tier on supercede;
	// explicit saves may override it.
	Tier *model.Tier

	// Confidence is the quality score the save was admitted at.
	Confidence float64

	// Explicit marks a direct API save, as opposed to an audit save.
	Explicit bool
}

// SaveResult reports what Save did.
type SaveResult struct {
	Memory     *model.Memory
	Superceded bool
}

// Save redacts, truncates and then supercedes-or-creates. All-redacted
// content is rejected with ErrAllRedacted.
func (e *Engine) Save(ctx context.Context, req SaveRequest) (*SaveResult, error) {
	if req.UserID == "" || req.Content == "" {
		return nil, fmt.Errorf("%w: userId and content are required", registrystore.ErrInvalidInput)
	}

	red := redact.PII(req.Content)
	if redact.IsAllRedacted(red.Redacted) {
		e.rejectedAllRedacted.Add(1)
		rejected("all_redacted")
		return nil, ErrAllRedacted
	}
	content := truncate(red.Redacted, maxContentLen)

	now := time.Now().UTC()

	match, err := e.findMatch(ctx, req.UserID, content)
	if err != nil {
		return nil, err
	}
	if match != nil {
		if err := e.supercede(ctx, match, req, content, red.Map, now); err != nil {
			return nil, err
		}
		saved("superceded")
		e.invalidateProfile(ctx, req.UserID, match.Tier)
		return &SaveResult{Memory: match, Superceded: true}, nil
	}

	m, err := e.insert(ctx, req, content, red.Map, now)
	if err != nil {
		return nil, err
	}
	saved("created")
	e.invalidateProfile(ctx, req.UserID, m.Tier)
	return &SaveResult{Memory: m, Superceded: false}, nil
}

// findMatch implements the supercede search: vector first when embeddings
// are available, else topic-grouped textual scan, else plain textual scan.
func (e *Engine) findMatch(ctx context.Context, userID, content string) (*model.Memory, error) {
	if e.embedder != nil && e.embedder.Enabled() {
		vec, err := e.embedder.Generate(ctx, content)
		if err == nil {
			hits, serr := e.store.SemanticSearch(ctx, userID, vec, 1)
			if serr != nil {
				return nil, serr
			}
			if len(hits) > 0 && hits[0].Similarity >= vectorDupThreshold {
				m := hits[0].Memory
				return &m, nil
			}
			// A vector miss is inconclusive: rows saved since the last
			// worker pass carry no embedding yet and are invisible to the
			// vector search, so the textual scan below still runs.
		} else {
			log.Debug("supercede embedding failed, using textual match", "error", err)
		}
	}

	recent, err := e.store.RecentMemories(ctx, userID, supercedeScanLimit)
	if err != nil {
		return nil, err
	}

	if t, ok := topic.Detect(content); ok {
		key := t.Key()
		var best *model.Memory
		bestScore := 0.0
		for i := range recent {
			ct, ok := topic.Detect(recent[i].Content)
			if !ok || ct.Key() != key {
				continue
			}
			if s := topic.Similarity(content, recent[i].Content); s >= supercedeThreshold && s > bestScore {
				best, bestScore = &recent[i], s
			}
		}
		// The topic key excludes the value side, so a restatement like
		// "favorite color is red" after "favorite color is blue" lands here
		// and converges to one row.
		if best != nil {
			return best, nil
		}
	}

	var best *model.Memory
	bestScore := 0.0
	for i := range recent {
		if s := topic.Similarity(content, recent[i].Content); s >= supercedeThreshold && s > bestScore {
			best, bestScore = &recent[i], s
		}
	}
	return best, nil
}

func (e *Engine) supercede(ctx context.Context, m *model.Memory, req SaveRequest, content string, redactionMap map[string]string, now time.Time) error {
	m.Content = content
	m.RedactionMap = redactionMap
	m.ObserveThread(req.ThreadID)
	m.Repeats++
	m.LastSeenTs = now
	m.UpdatedAt = now
	m.DecayedWeeks = 0
	if req.Priority != nil && *req.Priority > m.Priority {
		m.Priority = *req.Priority
	}
	if req.Confidence > m.Confidence {
		m.Confidence = req.Confidence
	}
	if req.Explicit && req.Tier != nil {
		m.Tier = *req.Tier
	}
	// Content changed, so the stored vector is stale.
	m.Embedding = nil
	m.EmbeddingUpdatedAt = nil

	if err := e.store.UpdateMemory(ctx, m); err != nil {
		return err
	}
	e.embedMemory(ctx, m)
	return nil
}

func (e *Engine) insert(ctx context.Context, req SaveRequest, content string, redactionMap map[string]string, now time.Time) (*model.Memory, error) {
	tier := model.Tier3
	switch {
	case req.Tier != nil:
		tier = *req.Tier
	case req.Explicit:
		tier = model.Tier1
	default:
		tier = scoring.DetectTier(content)
	}

	priority := defaultPriority
	if req.Priority != nil {
		priority = clamp01(*req.Priority)
	}

	m := &model.Memory{
		ID:             uuid.New(),
		UserID:         req.UserID,
		ThreadID:       req.ThreadID,
		Content:        content,
		Entities:       extractEntities(content),
		Priority:       priority,
		Confidence:     req.Confidence,
		RedactionMap:   redactionMap,
		Tier:           tier,
		SourceThreadID: req.ThreadID,
		Repeats:        1,
		ThreadSet:      threadSet(req.ThreadID),
		LastSeenTs:     now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := e.store.InsertMemory(ctx, m); err != nil {
		return nil, err
	}
	e.embedMemory(ctx, m)
	return m, nil
}

// ObserveThread records a cross-thread observation of an existing memory.
func (e *Engine) ObserveThread(ctx context.Context, userID string, id uuid.UUID, threadID string) (*model.Memory, error) {
	m, err := e.store.GetMemory(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	m.ObserveThread(threadID)
	m.Repeats++
	m.LastSeenTs = now
	m.UpdatedAt = now
	m.DecayedWeeks = 0
	if err := e.store.UpdateMemory(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Get returns one memory scoped to the user.
func (e *Engine) Get(ctx context.Context, userID string, id uuid.UUID) (*model.Memory, error) {
	return e.store.GetMemory(ctx, userID, id)
}

// List returns a filtered page of memories and the total count.
func (e *Engine) List(ctx context.Context, q registrystore.ListMemoriesQuery) ([]model.Memory, int64, error) {
	return e.store.ListMemories(ctx, q)
}

// PatchRequest is a partial memory update. Nil fields are untouched.
type PatchRequest struct {
	Content  *string
	Priority *float64
	Deleted  *bool
}

// Patch applies a partial update. A content change re-redacts, re-syncs FTS
// and invalidates the vector; deleted=true soft-deletes.
func (e *Engine) Patch(ctx context.Context, userID string, id uuid.UUID, req PatchRequest) (*model.Memory, error) {
	if req.Deleted != nil && *req.Deleted {
		if err := e.Delete(ctx, userID, id); err != nil {
			return nil, err
		}
		return e.store.GetMemory(ctx, userID, id)
	}

	m, err := e.store.GetMemory(ctx, userID, id)
	if err != nil {
		return nil, err
	}

	changed := false
	now := time.Now().UTC()

	if req.Content != nil && *req.Content != "" {
		red := redact.PII(*req.Content)
		if redact.IsAllRedacted(red.Redacted) {
			e.rejectedAllRedacted.Add(1)
			rejected("all_redacted")
			return nil, ErrAllRedacted
		}
		m.Content = truncate(red.Redacted, maxContentLen)
		m.RedactionMap = red.Map
		m.Entities = extractEntities(m.Content)
		m.Embedding = nil
		m.EmbeddingUpdatedAt = nil
		changed = true
	}
	if req.Priority != nil {
		m.Priority = clamp01(*req.Priority)
		changed = true
	}
	if !changed {
		return m, nil
	}

	m.UpdatedAt = now
	m.DecayedWeeks = 0
	if err := e.store.UpdateMemory(ctx, m); err != nil {
		return nil, err
	}
	if req.Content != nil {
		e.embedMemory(ctx, m)
	}
	e.invalidateProfile(ctx, userID, m.Tier)
	return m, nil
}

// Rejections reports the process-lifetime rejection counters for the admin
// metrics endpoint.
func (e *Engine) Rejections() map[string]int64 {
	return map[string]int64{
		"allRedacted": e.rejectedAllRedacted.Load(),
	}
}

// Delete soft-deletes a memory; it disappears from recall, list and FTS.
func (e *Engine) Delete(ctx context.Context, userID string, id uuid.UUID) error {
	if err := e.store.SoftDeleteMemory(ctx, userID, id, time.Now().UTC()); err != nil {
		return err
	}
	e.invalidateProfile(ctx, userID, "")
	return nil
}

// embedMemory embeds the memory's content right after the durable write, so
// the vector index usually catches up within the same request. On provider
// failure the service parks the memory on the persistent queue for the
// background worker; either way the save itself already succeeded.
func (e *Engine) embedMemory(ctx context.Context, m *model.Memory) {
	if e.embedder == nil || !e.embedder.Enabled() {
		return
	}
	vec, err := e.embedder.GetOrGenerate(ctx, m.ID, m.Content, m.Embedding)
	if err != nil {
		log.Error("embedding memory failed", "memoryId", m.ID, "error", err)
		return
	}
	if vec != nil {
		now := time.Now().UTC()
		m.Embedding = embedding.EncodeVector(vec)
		m.EmbeddingUpdatedAt = &now
	}
}

// invalidateProfile drops the cached profile when a T1/T2 memory changed.
// An empty tier means "unknown, invalidate anyway" (deletes).
func (e *Engine) invalidateProfile(ctx context.Context, userID string, tier model.Tier) {
	if e.profiles == nil {
		return
	}
	if tier == model.Tier3 {
		return
	}
	e.profiles.Invalidate(ctx, userID)
}

func extractEntities(content string) []string {
	t, ok := topic.Detect(content)
	if !ok || t.Kind != topic.KindAttribute {
		return nil
	}
	return []string{t.Attribute, t.Value}
}

func threadSet(threadID string) []string {
	if threadID == "" {
		return []string{}
	}
	return []string{threadID}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func saved(outcome string) {
	if security.MemoriesSaved != nil {
		security.MemoriesSaved.WithLabelValues(outcome).Inc()
	}
}

func rejected(reason string) {
	if security.MemoriesRejected != nil {
		security.MemoriesRejected.WithLabelValues(reason).Inc()
	}
}
