package sqlite

import (
	"context"
	"sort"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/charmbracelet/log"
	"github.com/mranderson01901234/5.0-sub004/internal/embedding"
	"github.com/mranderson01901234/5.0-sub004/internal/model"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
)

// semanticCandidates bounds how many embedded memories one pass considers.
const semanticCandidates = 100

// SemanticSearch ranks the user's live, embedded memories by cosine
// similarity to vec, best first. The distance runs in SQL through the vec
// extension; if that fails (extension unavailable on this build) the most
// recently seen candidates are scored in Go instead.
func (s *Store) SemanticSearch(ctx context.Context, userID string, vec []float32, limit int) ([]registrystore.SemanticHit, error) {
	if len(vec) == 0 {
		return nil, nil
	}
	if limit <= 0 || limit > semanticCandidates {
		limit = semanticCandidates
	}

	hits, err := s.semanticSQL(ctx, userID, vec, limit)
	if err == nil {
		return hits, nil
	}
	log.Warn("vec_distance_cosine unavailable, scoring in Go", "err", err)
	return s.semanticFallback(ctx, userID, vec, limit)
}

func (s *Store) semanticSQL(ctx context.Context, userID string, vec []float32, limit int) ([]registrystore.SemanticHit, error) {
	blob, err := sqlite_vec.SerializeFloat32(vec)
	if err != nil {
		return nil, err
	}
	type row struct {
		ID   string  `gorm:"column:id"`
		Dist float64 `gorm:"column:dist"`
	}
	var rows []row
	err = s.read.WithContext(ctx).Raw(`
		SELECT id, vec_distance_cosine(embedding, ?) AS dist
		FROM memories
		WHERE user_id = ? AND deleted_at IS NULL AND embedding IS NOT NULL
		ORDER BY dist
		LIMIT ?`, blob, userID, limit).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	dist := make(map[string]float64, len(rows))
	for i, r := range rows {
		ids[i] = r.ID
		dist[r.ID] = r.Dist
	}
	var ms []model.Memory
	if err := s.read.WithContext(ctx).Where("id IN ?", ids).Find(&ms).Error; err != nil {
		return nil, err
	}

	hits := make([]registrystore.SemanticHit, 0, len(ms))
	for _, m := range ms {
		hits = append(hits, registrystore.SemanticHit{Memory: m, Similarity: 1 - dist[m.ID.String()]})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	return hits, nil
}

func (s *Store) semanticFallback(ctx context.Context, userID string, vec []float32, limit int) ([]registrystore.SemanticHit, error) {
	var ms []model.Memory
	err := s.read.WithContext(ctx).
		Where("user_id = ? AND deleted_at IS NULL AND embedding IS NOT NULL", userID).
		Order("last_seen_ts DESC").
		Limit(semanticCandidates).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}

	hits := make([]registrystore.SemanticHit, 0, len(ms))
	for _, m := range ms {
		sim := embedding.Cosine(vec, embedding.DecodeVector(m.Embedding))
		hits = append(hits, registrystore.SemanticHit{Memory: m, Similarity: sim})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Similarity > hits[j].Similarity })
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}
