package sqlite

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mranderson01901234/5.0-sub004/internal/model"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ registrystore.MemoryStore = (*Store)(nil)

func (s *Store) InsertMemory(ctx context.Context, m *model.Memory) error {
	return s.write.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(m).Error; err != nil {
			return err
		}
		return syncFTS(tx, m)
	})
}

// InsertMemories inserts a batch in one transaction, the bulk primitive used
// by seeding and the FTS rebuild path.
func (s *Store) InsertMemories(ctx context.Context, ms []*model.Memory) error {
	if len(ms) == 0 {
		return nil
	}
	return s.write.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, m := range ms {
			if err := tx.Create(m).Error; err != nil {
				return err
			}
			if err := syncFTS(tx, m); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) UpdateMemory(ctx context.Context, m *model.Memory) error {
	return s.write.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Save(m)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return registrystore.ErrNotFound
		}
		if m.DeletedAt != nil {
			return deleteFTS(tx, m.ID)
		}
		return syncFTS(tx, m)
	})
}

func (s *Store) GetMemory(ctx context.Context, userID string, id uuid.UUID) (*model.Memory, error) {
	var m model.Memory
	err := s.read.WithContext(ctx).
		Where("id = ? AND user_id = ?", id, userID).
		First(&m).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, registrystore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) ListMemories(ctx context.Context, q registrystore.ListMemoriesQuery) ([]model.Memory, int64, error) {
	db := s.read.WithContext(ctx).Model(&model.Memory{}).Where("user_id = ?", q.UserID)
	if !q.IncludeDeleted {
		db = db.Where("deleted_at IS NULL")
	}
	if q.ThreadID != nil {
		db = db.Where("thread_id = ?", *q.ThreadID)
	}
	if q.MinPriority != nil {
		db = db.Where("priority >= ?", *q.MinPriority)
	}

	var total int64
	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 50
	}
	var ms []model.Memory
	err := db.Order("created_at DESC").Limit(limit).Offset(q.Offset).Find(&ms).Error
	return ms, total, err
}

func (s *Store) SoftDeleteMemory(ctx context.Context, userID string, id uuid.UUID, now time.Time) error {
	return s.write.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Memory{}).
			Where("id = ? AND user_id = ? AND deleted_at IS NULL", id, userID).
			Updates(map[string]any{"deleted_at": now, "updated_at": now})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return registrystore.ErrNotFound
		}
		return deleteFTS(tx, id)
	})
}

func (s *Store) RecentMemories(ctx context.Context, userID string, limit int) ([]model.Memory, error) {
	var ms []model.Memory
	err := s.read.WithContext(ctx).
		Where("user_id = ? AND deleted_at IS NULL", userID).
		Order("updated_at DESC").
		Limit(limit).
		Find(&ms).Error
	return ms, err
}

func (s *Store) TopMemories(ctx context.Context, userID string, limit int) ([]model.Memory, error) {
	var ms []model.Memory
	err := s.read.WithContext(ctx).
		Where("user_id = ? AND deleted_at IS NULL", userID).
		Order("priority DESC").
		Limit(limit).
		Find(&ms).Error
	return ms, err
}

func (s *Store) LiveMemoriesBatch(ctx context.Context, afterID string, limit int) ([]model.Memory, error) {
	var ms []model.Memory
	err := s.read.WithContext(ctx).
		Where("deleted_at IS NULL AND id > ?", afterID).
		Order("id ASC").
		Limit(limit).
		Find(&ms).Error
	return ms, err
}

func (s *Store) SetEmbedding(ctx context.Context, id uuid.UUID, vec []byte, at time.Time) error {
	return s.write.WithContext(ctx).Model(&model.Memory{}).
		Where("id = ?", id).
		Updates(map[string]any{"embedding": vec, "embedding_updated_at": at}).Error
}

func (s *Store) InsertAudit(ctx context.Context, a *model.MemoryAudit) error {
	return s.write.WithContext(ctx).Create(a).Error
}

func (s *Store) ListAuditedThreads(ctx context.Context, userID string, excludeThreadID string, limit int) ([]registrystore.AuditedThread, error) {
	if limit <= 0 {
		limit = 10
	}
	type row struct {
		ThreadID    string     `gorm:"column:thread_id"`
		Audits      int        `gorm:"column:audits"`
		Saved       int        `gorm:"column:saved"`
		LastAuditAt time.Time  `gorm:"column:last_audit_at"`
		Summary     *string    `gorm:"column:summary"`
		SummaryAt   *time.Time `gorm:"column:summary_at"`
	}
	var rows []row
	err := s.read.WithContext(ctx).Raw(`
		SELECT a.thread_id AS thread_id,
		       COUNT(*) AS audits,
		       COALESCE(SUM(a.saved), 0) AS saved,
		       MAX(a.created_at) AS last_audit_at,
		       s.summary AS summary,
		       s.updated_at AS summary_at
		FROM memory_audits a
		LEFT JOIN thread_summaries s
		       ON s.thread_id = a.thread_id AND s.user_id = a.user_id AND s.deleted = 0
		WHERE a.user_id = ? AND a.thread_id != ?
		GROUP BY a.thread_id
		ORDER BY last_audit_at DESC
		LIMIT ?`, userID, excludeThreadID, limit).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]registrystore.AuditedThread, len(rows))
	for i, r := range rows {
		out[i] = registrystore.AuditedThread{
			ThreadID:    r.ThreadID,
			Audits:      r.Audits,
			Saved:       r.Saved,
			LastAuditAt: r.LastAuditAt,
			Summary:     r.Summary,
			SummaryAt:   r.SummaryAt,
		}
	}
	return out, nil
}

func (s *Store) UpsertThreadSummary(ctx context.Context, sum *model.ThreadSummary) error {
	return s.write.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "thread_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"summary", "updated_at", "deleted"}),
	}).Create(sum).Error
}

func (s *Store) UpsertUserProfile(ctx context.Context, p *model.UserProfile) error {
	return s.write.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"profile", "last_updated"}),
	}).Create(p).Error
}

func (s *Store) GetUserProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	var p model.UserProfile
	err := s.read.WithContext(ctx).Where("user_id = ?", userID).First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, registrystore.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) EnqueueEmbedding(ctx context.Context, item *model.EmbeddingQueueItem) error {
	return s.write.WithContext(ctx).Create(item).Error
}

func (s *Store) PendingEmbeddings(ctx context.Context, limit int) ([]model.EmbeddingQueueItem, error) {
	var items []model.EmbeddingQueueItem
	err := s.read.WithContext(ctx).
		Where("processed_at IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}

func (s *Store) MarkEmbeddingProcessed(ctx context.Context, id uuid.UUID, at time.Time, errMsg *string) error {
	return s.write.WithContext(ctx).Model(&model.EmbeddingQueueItem{}).
		Where("id = ?", id).
		Updates(map[string]any{"processed_at": at, "error": errMsg}).Error
}

func (s *Store) BumpEmbeddingRetry(ctx context.Context, id uuid.UUID) error {
	return s.write.WithContext(ctx).Exec(
		"UPDATE embedding_queue SET retry_count = retry_count + 1 WHERE id = ?", id).Error
}

func (s *Store) MemoryCounts(ctx context.Context) (registrystore.MemoryCounts, error) {
	counts := registrystore.MemoryCounts{ByTier: map[model.Tier]int64{}}
	db := s.read.WithContext(ctx).Model(&model.Memory{})

	if err := db.Count(&counts.Total).Error; err != nil {
		return counts, err
	}
	if err := s.read.WithContext(ctx).Model(&model.Memory{}).
		Where("deleted_at IS NULL").Count(&counts.Live).Error; err != nil {
		return counts, err
	}
	counts.Deleted = counts.Total - counts.Live

	type tierRow struct {
		Tier model.Tier `gorm:"column:tier"`
		N    int64      `gorm:"column:n"`
	}
	var tiers []tierRow
	err := s.read.WithContext(ctx).Raw(
		"SELECT tier, COUNT(*) AS n FROM memories WHERE deleted_at IS NULL GROUP BY tier").
		Scan(&tiers).Error
	if err != nil {
		return counts, err
	}
	for _, t := range tiers {
		counts.ByTier[t.Tier] = t.N
	}
	return counts, nil
}

func (s *Store) AuditStats(ctx context.Context) (registrystore.AuditStats, error) {
	var stats registrystore.AuditStats
	if err := s.read.WithContext(ctx).Model(&model.MemoryAudit{}).Count(&stats.Total).Error; err != nil {
		return stats, err
	}
	if stats.Total > 0 {
		var last time.Time
		err := s.read.WithContext(ctx).Raw("SELECT MAX(created_at) FROM memory_audits").Scan(&last).Error
		if err != nil {
			return stats, err
		}
		stats.LastAt = &last
	}
	return stats, nil
}

func (s *Store) DBSizeMB(ctx context.Context) (float64, error) {
	var bytes int64
	err := s.read.WithContext(ctx).Raw(
		"SELECT page_count * page_size FROM pragma_page_count(), pragma_page_size()").
		Scan(&bytes).Error
	if err != nil {
		return 0, err
	}
	return float64(bytes) / (1024 * 1024), nil
}
