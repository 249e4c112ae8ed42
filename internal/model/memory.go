package model

import (
	"time"

	"github.com/google/uuid"
)

// Tier is the retention class of a memory. Tiers differ in TTL, weekly
// decay rate and promotion/demotion rules (see the retention engine).
type Tier string

const (
	// Tier1 holds cross-thread-worthy facts: identity, durable preferences
	// that should survive a long time and surface in any thread.
	Tier1 Tier = "T1"

	// Tier2 holds preferences and goals.
	Tier2 Tier = "T2"

	// Tier3 holds general conversational facts. New automatic saves land
	// here unless the classifier says otherwise.
	Tier3 Tier = "T3"
)

// ParseTier validates a wire-level tier string.
func ParseTier(s string) (Tier, bool) {
	switch Tier(s) {
	case Tier1, Tier2, Tier3:
		return Tier(s), true
	}
	return "", false
}

// Rank orders tiers for ranking purposes: T1 ranks highest (1).
func (t Tier) Rank() int {
	switch t {
	case Tier1:
		return 1
	case Tier2:
		return 2
	case Tier3:
		return 3
	default:
		return 4
	}
}

// Memory is a single per-user stored fact.
// The active set for a user is the rows where DeletedAt IS NULL.
type Memory struct {
	// ID is the primary key (UUID, stored as text).
	ID uuid.UUID `json:"id" gorm:"primaryKey;type:text"`

	// UserID partitions everything; no read or write crosses users.
	UserID string `json:"userId" gorm:"not null;column:user_id"`

	// ThreadID is the thread this memory was created in.
	ThreadID string `json:"threadId" gorm:"not null;column:thread_id"`

	// Content is the memory text, stored after redaction, at most 1024 chars.
	Content string `json:"content" gorm:"not null"`

	// Entities optionally records the attribute/value the topic detector
	// extracted from the content at save time.
	Entities []string `json:"entities,omitempty" gorm:"type:text;serializer:json"`

	// Priority in [0,1]. Decayed weekly by the retention engine.
	Priority float64 `json:"priority" gorm:"not null;default:0.5"`

	// Confidence in [0,1] is the quality score the save was admitted at.
	Confidence float64 `json:"confidence" gorm:"not null;default:0.5"`

	// RedactionMap maps placeholder to original for reversible PII masking.
	// Nil when the content had no PII. Never returned to clients.
	RedactionMap map[string]string `json:"-" gorm:"type:text;serializer:json;column:redaction_map"`

	// Tier is the retention class.
	Tier Tier `json:"tier" gorm:"not null;default:'T3'"`

	// SourceThreadID is the thread of first observation; never changed.
	SourceThreadID string `json:"sourceThreadId" gorm:"column:source_thread_id"`

	// Repeats counts observations of this fact, 1 on insert.
	Repeats int `json:"repeats" gorm:"not null;default:1"`

	// ThreadSet lists the threads this memory was observed in.
	ThreadSet []string `json:"threadSet" gorm:"type:text;serializer:json;column:thread_set"`

	// LastSeenTs is the time of the most recent observation.
	LastSeenTs time.Time `json:"lastSeenTs" gorm:"not null;column:last_seen_ts"`

	// CreatedAt and UpdatedAt are managed explicitly. UpdatedAt moves only
	// on real writes (save, supercede, patch, observation, tier change);
	// decay alone never touches it, or the TTL clock would restart weekly.
	CreatedAt time.Time `json:"createdAt" gorm:"not null;autoCreateTime:false"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime:false"`

	// DecayedWeeks records how many whole weeks of priority decay have been
	// applied since UpdatedAt. Reset to zero by every write that bumps
	// UpdatedAt, so the retention engine can decay incrementally without
	// moving the timestamp.
	DecayedWeeks int `json:"-" gorm:"not null;default:0;column:decayed_weeks"`

	// DeletedAt soft-deletes: set by TTL expiry, PATCH deleted=true, or admin.
	// Deleted rows are invisible to recall, list and FTS.
	DeletedAt *time.Time `json:"deletedAt,omitempty"`

	// Embedding is the vector as little-endian float32 bytes, always of the
	// dimension fixed at service start. Nil until the worker fills it.
	Embedding []byte `json:"-" gorm:"column:embedding"`

	// EmbeddingUpdatedAt tracks vector freshness. Nil means pending.
	EmbeddingUpdatedAt *time.Time `json:"-" gorm:"column:embedding_updated_at"`
}

// TableName implements gorm.Tabler.
func (Memory) TableName() string { return "memories" }

// Live reports whether the memory is visible to recall and list.
func (m *Memory) Live() bool { return m.DeletedAt == nil }

// HasEmbedding reports whether a vector is stored for this memory.
func (m *Memory) HasEmbedding() bool { return len(m.Embedding) > 0 }

// InThreadSet reports whether threadID was already observed.
func (m *Memory) InThreadSet(threadID string) bool {
	for _, id := range m.ThreadSet {
		if id == threadID {
			return true
		}
	}
	return false
}

// ObserveThread adds threadID to the thread set if new and reports
// whether it was added.
func (m *Memory) ObserveThread(threadID string) bool {
	if threadID == "" || m.InThreadSet(threadID) {
		return false
	}
	m.ThreadSet = append(m.ThreadSet, threadID)
	return true
}
