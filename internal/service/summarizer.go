package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mranderson01901234/5.0-sub004/internal/cadence"
	"github.com/mranderson01901234/5.0-sub004/internal/model"
	registrycomplete "github.com/mranderson01901234/5.0-sub004/internal/registry/complete"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
)

const (
	summarySystemPrompt = "You summarize a conversation window into two or three sentences. " +
		"Keep concrete facts, preferences and decisions; drop small talk."
	summaryMaxTokens = 256
)

// Summarizer regenerates a thread's summary after an audit that saved
// something, using the configured text completion provider.
type Summarizer struct {
	completer registrycomplete.Completer
	store     registrystore.MemoryStore
}

// NewSummarizer wires the summarizer. Returns nil when no provider is
// configured, which disables summaries.
func NewSummarizer(completer registrycomplete.Completer, store registrystore.MemoryStore) *Summarizer {
	if completer == nil {
		return nil
	}
	return &Summarizer{completer: completer, store: store}
}

// Summarize builds a summary from the window's turns and upserts it.
func (s *Summarizer) Summarize(ctx context.Context, w cadence.Window) error {
	var b strings.Builder
	for _, turn := range w.Turns {
		b.WriteString(string(turn.Role))
		b.WriteString(": ")
		b.WriteString(turn.Content)
		b.WriteString("\n")
	}

	summary, err := s.completer.Complete(ctx, summarySystemPrompt, b.String(), summaryMaxTokens)
	if err != nil {
		return fmt.Errorf("summarize thread %s: %w", w.ThreadID, err)
	}
	if summary == "" {
		return nil
	}

	return s.store.UpsertThreadSummary(ctx, &model.ThreadSummary{
		ThreadID:  w.ThreadID,
		UserID:    w.UserID,
		Summary:   summary,
		UpdatedAt: time.Now().UTC(),
	})
}
