package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/mranderson01901234/5.0-sub004/internal/cadence"
	"github.com/mranderson01901234/5.0-sub004/internal/engine"
	"github.com/mranderson01901234/5.0-sub004/internal/jobs"
	"github.com/mranderson01901234/5.0-sub004/internal/model"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
	"github.com/mranderson01901234/5.0-sub004/internal/scoring"
	"github.com/mranderson01901234/5.0-sub004/internal/security"
)

// Auditor turns a cadence window into memories: each turn is quality-scored,
// admitted turns go through the supercede-or-create path, and the run is
// recorded as an append-only audit row.
type Auditor struct {
	engine     *engine.Engine
	store      registrystore.MemoryStore
	tracker    *cadence.Tracker
	summarizer *Summarizer
}

// NewAuditor wires the audit job handler. summarizer may be nil.
func NewAuditor(eng *engine.Engine, store registrystore.MemoryStore, tracker *cadence.Tracker, summarizer *Summarizer) *Auditor {
	return &Auditor{engine: eng, store: store, tracker: tracker, summarizer: summarizer}
}

// Handle processes one audit job.
func (a *Auditor) Handle(ctx context.Context, job *jobs.Job) error {
	payload, ok := job.Payload.(*AuditPayload)
	if !ok {
		return fmt.Errorf("audit job %s: unexpected payload %T", job.ID, job.Payload)
	}
	w := payload.Window

	saved := 0
	var scoreSum float64
	for i, turn := range w.Turns {
		score := scoring.Quality(turn, i, len(w.Turns))
		scoreSum += score
		if score < scoring.QualityThreshold {
			continue
		}
		_, err := a.engine.Save(ctx, engine.SaveRequest{
			UserID:     w.UserID,
			ThreadID:   w.ThreadID,
			Content:    turn.Content,
			Confidence: score,
		})
		if err != nil {
			if errors.Is(err, engine.ErrAllRedacted) {
				continue
			}
			return fmt.Errorf("audit save: %w", err)
		}
		saved++
	}

	avgScore := 0.0
	if len(w.Turns) > 0 {
		avgScore = scoreSum / float64(len(w.Turns))
	}
	audit := &model.MemoryAudit{
		ID:         uuid.New(),
		UserID:     w.UserID,
		ThreadID:   w.ThreadID,
		StartMsgID: w.StartMsgID,
		EndMsgID:   w.EndMsgID,
		TokenCount: w.TokenCount,
		Score:      avgScore,
		Saved:      saved,
		CreatedAt:  time.Now().UTC(),
	}
	if err := a.store.InsertAudit(ctx, audit); err != nil {
		return fmt.Errorf("audit record: %w", err)
	}

	a.tracker.MarkAuditComplete(w.UserID, w.ThreadID)
	if security.AuditsTotal != nil {
		security.AuditsTotal.Inc()
	}
	log.Info("Audit complete", "userId", w.UserID, "threadId", w.ThreadID, "turns", len(w.Turns), "saved", saved)

	if saved > 0 && a.summarizer != nil {
		if err := a.summarizer.Summarize(ctx, w); err != nil {
			// Summaries are best-effort; the audit itself succeeded.
			log.Warn("Thread summary failed", "threadId", w.ThreadID, "error", err)
		}
	}
	return nil
}
