package model

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message observed by the cadence tracker. Turns are buffered
// in memory only; a restart loses the pending window by design.
type Turn struct {
	MsgID        string    `json:"msgId"`
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	InputTokens  int       `json:"inputTokens"`
	OutputTokens int       `json:"outputTokens"`
	Timestamp    time.Time `json:"timestamp"`
}

// MemoryAudit records one audit run over a thread window. Append-only.
type MemoryAudit struct {
	ID         uuid.UUID `json:"id"                   gorm:"primaryKey;type:text"`
	UserID     string    `json:"userId"               gorm:"not null;column:user_id"`
	ThreadID   string    `json:"threadId"             gorm:"not null;column:thread_id"`
	StartMsgID *string   `json:"startMsgId,omitempty" gorm:"column:start_msg_id"`
	EndMsgID   *string   `json:"endMsgId,omitempty"   gorm:"column:end_msg_id"`
	TokenCount int       `json:"tokenCount"           gorm:"not null;default:0;column:token_count"`
	Score      float64   `json:"score"                gorm:"not null;default:0"`
	Saved      int       `json:"saved"                gorm:"not null;default:0"`
	CreatedAt  time.Time `json:"createdAt"            gorm:"not null;autoCreateTime:false"`
}

func (MemoryAudit) TableName() string { return "memory_audits" }

// ThreadSummary is the optional LLM-produced summary of a thread. Upsert.
type ThreadSummary struct {
	ThreadID  string    `json:"threadId"  gorm:"primaryKey;column:thread_id"`
	UserID    string    `json:"userId"    gorm:"not null;column:user_id"`
	Summary   string    `json:"summary"   gorm:"not null"`
	UpdatedAt time.Time `json:"updatedAt" gorm:"not null;autoUpdateTime:false"`
	Deleted   bool      `json:"-"         gorm:"not null;default:false"`
}

func (ThreadSummary) TableName() string { return "thread_summaries" }

// Expertise and communication style values produced by the profile builder.
const (
	ExpertiseBeginner     = "beginner"
	ExpertiseIntermediate = "intermediate"
	ExpertiseExpert       = "expert"

	StyleConcise  = "concise"
	StyleDetailed = "detailed"
)

// TechStackItem ranks one technology by summed memory priority.
type TechStackItem struct {
	Name   string  `json:"name"`
	Weight float64 `json:"weight"`
}

// Profile is the derived per-user profile built from T1/T2 memories.
type Profile struct {
	TechStack          []TechStackItem `json:"techStack,omitempty"`
	DomainInterests    []string        `json:"domainInterests,omitempty"`
	ExpertiseLevel     string          `json:"expertiseLevel,omitempty"`
	CommunicationStyle string          `json:"communicationStyle,omitempty"`
	MemoryCount        int             `json:"memoryCount"`
	GeneratedAt        time.Time       `json:"generatedAt"`
}

// UserProfile is the persisted form of Profile. Upsert-only.
type UserProfile struct {
	UserID      string    `json:"userId"      gorm:"primaryKey;column:user_id"`
	Profile     *Profile  `json:"profile"     gorm:"type:text;serializer:json"`
	LastUpdated time.Time `json:"lastUpdated" gorm:"not null;column:last_updated;autoUpdateTime:false"`
}

func (UserProfile) TableName() string { return "user_profiles" }

// EmbeddingQueueItem is a persistent request to embed one memory later.
type EmbeddingQueueItem struct {
	ID          uuid.UUID  `json:"id"                    gorm:"primaryKey;type:text"`
	MemoryID    uuid.UUID  `json:"memoryId"              gorm:"not null;type:text;column:memory_id"`
	Content     string     `json:"content"               gorm:"not null"`
	RetryCount  int        `json:"retryCount"            gorm:"not null;default:0;column:retry_count"`
	CreatedAt   time.Time  `json:"createdAt"             gorm:"not null;autoCreateTime:false"`
	ProcessedAt *time.Time `json:"processedAt,omitempty" gorm:"column:processed_at"`
	Error       *string    `json:"error,omitempty"       gorm:"column:error"`
}

func (EmbeddingQueueItem) TableName() string { return "embedding_queue" }
