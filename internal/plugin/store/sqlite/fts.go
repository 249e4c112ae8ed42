package sqlite

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/mranderson01901234/5.0-sub004/internal/model"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
	"gorm.io/gorm"
)

// syncFTS makes the FTS row agree with the memory row. The canonical check is
// whether the memory id is already present in the FTS table; the text primary
// key rules out rowid triggers, so every mutation path funnels through here
// inside the same write transaction.
func syncFTS(tx *gorm.DB, m *model.Memory) error {
	var n int64
	if err := tx.Raw(
		"SELECT COUNT(*) FROM memories_fts WHERE memory_id = ?", m.ID.String()).
		Scan(&n).Error; err != nil {
		return fmt.Errorf("fts lookup: %w", err)
	}
	if n > 0 {
		return tx.Exec(
			"UPDATE memories_fts SET content = ?, user_id = ?, thread_id = ? WHERE memory_id = ?",
			m.Content, m.UserID, m.ThreadID, m.ID.String()).Error
	}
	return tx.Exec(
		"INSERT INTO memories_fts (content, memory_id, user_id, thread_id) VALUES (?, ?, ?, ?)",
		m.Content, m.ID.String(), m.UserID, m.ThreadID).Error
}

func deleteFTS(tx *gorm.DB, id uuid.UUID) error {
	return tx.Exec("DELETE FROM memories_fts WHERE memory_id = ?", id.String()).Error
}

// SearchKeywordFTS runs an FTS5 MATCH over the user's live memories. The
// relevance is the negated bm25 rank (bm25 reports better matches as smaller
// values), floored at zero.
func (s *Store) SearchKeywordFTS(ctx context.Context, userID string, match string, limit int) ([]registrystore.KeywordHit, error) {
	if strings.TrimSpace(match) == "" {
		return nil, nil
	}
	type row struct {
		MemoryID string  `gorm:"column:memory_id"`
		Rank     float64 `gorm:"column:rank"`
	}
	var rows []row
	err := s.read.WithContext(ctx).Raw(`
		SELECT f.memory_id AS memory_id, bm25(memories_fts) AS rank
		FROM memories_fts f
		WHERE memories_fts MATCH ? AND f.user_id = ?
		ORDER BY rank
		LIMIT ?`, match, userID, limit).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}

	ids := make([]string, len(rows))
	rank := make(map[string]float64, len(rows))
	for i, r := range rows {
		ids[i] = r.MemoryID
		rank[r.MemoryID] = r.Rank
	}
	var ms []model.Memory
	err = s.read.WithContext(ctx).
		Where("id IN ? AND user_id = ? AND deleted_at IS NULL", ids, userID).
		Find(&ms).Error
	if err != nil {
		return nil, err
	}

	hits := make([]registrystore.KeywordHit, 0, len(ms))
	for _, m := range ms {
		relevance := -rank[m.ID.String()]
		if relevance < 0 {
			relevance = 0
		}
		hits = append(hits, registrystore.KeywordHit{Memory: m, Relevance: relevance})
	}
	return hits, nil
}

// SearchKeywordLike is the fallback when the FTS index is unusable: live
// memories whose content contains any of the terms, case-insensitively.
func (s *Store) SearchKeywordLike(ctx context.Context, userID string, terms []string, limit int) ([]model.Memory, error) {
	if len(terms) == 0 {
		return nil, nil
	}
	db := s.read.WithContext(ctx).
		Where("user_id = ? AND deleted_at IS NULL", userID)

	var clauses []string
	var args []any
	for _, term := range terms {
		clauses = append(clauses, `content LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(term)+"%")
	}
	db = db.Where(strings.Join(clauses, " OR "), args...)

	var ms []model.Memory
	err := db.Order("updated_at DESC").Limit(limit).Find(&ms).Error
	return ms, err
}

// RebuildFTS re-derives the user's FTS rows from the memories table. Runs as
// a write-batch job when the keyword pass reports index trouble.
func (s *Store) RebuildFTS(ctx context.Context, userID string) error {
	return s.write.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("DELETE FROM memories_fts WHERE user_id = ?", userID).Error; err != nil {
			return err
		}
		return tx.Exec(`
			INSERT INTO memories_fts (content, memory_id, user_id, thread_id)
			SELECT content, id, user_id, thread_id
			FROM memories
			WHERE user_id = ? AND deleted_at IS NULL`, userID).Error
	})
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	return strings.ReplaceAll(s, "_", `\_`)
}
