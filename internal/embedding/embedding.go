// Package embedding wraps the embedding provider with a content-addressed
// cache, a circuit breaker and dimension validation, and manages the
// persistent embedding backlog for memories saved while the provider is
// unavailable.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/mranderson01901234/5.0-sub004/internal/model"
	registrycache "github.com/mranderson01901234/5.0-sub004/internal/registry/cache"
	registryembed "github.com/mranderson01901234/5.0-sub004/internal/registry/embed"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
	"github.com/mranderson01901234/5.0-sub004/internal/security"
)

// Service fronts the embedder for every caller. Cache first, one provider
// call for the misses, and a breaker so a dead provider fails fast instead
// of stalling saves and recalls.
type Service struct {
	embedder registryembed.Embedder
	cache    registrycache.KV
	store    registrystore.MemoryStore
	breaker  *gobreaker.CircuitBreaker
	cacheTTL time.Duration
	dim      int
}

// NewService builds the embedding service. A nil or zero-dimension embedder
// yields a disabled service: Generate errors and GetOrGenerate queues nothing.
func NewService(embedder registryembed.Embedder, cache registrycache.KV, store registrystore.MemoryStore, cacheTTL time.Duration) *Service {
	dim := 0
	if embedder != nil {
		dim = embedder.Dimension()
	}
	return &Service{
		embedder: embedder,
		cache:    cache,
		store:    store,
		cacheTTL: cacheTTL,
		dim:      dim,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        "embeddings",
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				log.Warn("embedding breaker state change", "from", from.String(), "to", to.String())
			},
		}),
	}
}

// Enabled reports whether a real embedding provider is configured.
func (s *Service) Enabled() bool { return s.dim > 0 }

// Dimension returns the vector dimension fixed at service start.
func (s *Service) Dimension() int { return s.dim }

// cacheKey is content-addressed and model-scoped, so a model change never
// serves stale vectors.
func (s *Service) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return "emb:" + s.embedder.ModelName() + ":" + hex.EncodeToString(sum[:])
}

// Generate returns the embedding for one text.
func (s *Service) Generate(ctx context.Context, text string) ([]float32, error) {
	vecs, err := s.GenerateBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// GenerateBatch returns embeddings for the texts in order. Cached entries are
// served directly; the misses go to the provider in a single call behind the
// breaker. Every vector is validated against the fixed dimension.
func (s *Service) GenerateBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if !s.Enabled() {
		return nil, fmt.Errorf("embeddings are disabled")
	}
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	var missIdx []int
	var missTexts []string

	for i, text := range texts {
		if vec := s.cacheGet(ctx, text); vec != nil {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missTexts = append(missTexts, text)
	}
	if len(missTexts) == 0 {
		return out, nil
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		return s.embedder.EmbedTexts(ctx, missTexts)
	})
	if err != nil {
		if security.EmbeddingRequests != nil {
			security.EmbeddingRequests.WithLabelValues("error").Inc()
		}
		return nil, fmt.Errorf("embed %d texts: %w", len(missTexts), err)
	}
	vecs := result.([][]float32)
	if len(vecs) != len(missTexts) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d texts", len(vecs), len(missTexts))
	}

	for j, vec := range vecs {
		if len(vec) != s.dim {
			return nil, fmt.Errorf("embedder returned dimension %d, want %d", len(vec), s.dim)
		}
		out[missIdx[j]] = vec
		s.cacheSet(ctx, missTexts[j], vec)
	}
	if security.EmbeddingRequests != nil {
		security.EmbeddingRequests.WithLabelValues("ok").Inc()
	}
	return out, nil
}

// GetOrGenerate returns the vector for a memory, preferring the stored BLOB.
// When the memory has no vector yet it tries the provider once; on failure
// the memory is queued for the background worker and nil is returned. A nil
// vector with a nil error means "pending".
func (s *Service) GetOrGenerate(ctx context.Context, memoryID uuid.UUID, content string, stored []byte) ([]float32, error) {
	if vec := DecodeVector(stored); vec != nil {
		return vec, nil
	}
	if !s.Enabled() {
		return nil, nil
	}

	vec, err := s.Generate(ctx, content)
	if err != nil {
		log.Debug("embedding deferred to queue", "memoryId", memoryID, "error", err)
		if qerr := s.Enqueue(ctx, memoryID, content); qerr != nil {
			return nil, qerr
		}
		return nil, nil
	}

	now := time.Now().UTC()
	if err := s.store.SetEmbedding(ctx, memoryID, EncodeVector(vec), now); err != nil {
		return nil, err
	}
	return vec, nil
}

// Enqueue records a persistent request to embed the memory later.
func (s *Service) Enqueue(ctx context.Context, memoryID uuid.UUID, content string) error {
	return s.store.EnqueueEmbedding(ctx, &model.EmbeddingQueueItem{
		ID:        uuid.New(),
		MemoryID:  memoryID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	})
}

func (s *Service) cacheGet(ctx context.Context, text string) []float32 {
	if s.cache == nil || !s.cache.Available() {
		return nil
	}
	raw, ok, err := s.cache.Get(ctx, s.cacheKey(text))
	if err != nil {
		log.Debug("embedding cache get failed", "error", err)
		return nil
	}
	if !ok {
		if security.CacheMissesTotal != nil {
			security.CacheMissesTotal.WithLabelValues("embedding").Inc()
		}
		return nil
	}
	vec := DecodeVector(raw)
	if vec == nil || len(vec) != s.dim {
		return nil
	}
	if security.CacheHitsTotal != nil {
		security.CacheHitsTotal.WithLabelValues("embedding").Inc()
	}
	return vec
}

func (s *Service) cacheSet(ctx context.Context, text string, vec []float32) {
	if s.cache == nil || !s.cache.Available() {
		return
	}
	if err := s.cache.Set(ctx, s.cacheKey(text), EncodeVector(vec), s.cacheTTL); err != nil {
		log.Debug("embedding cache set failed", "error", err)
	}
}
