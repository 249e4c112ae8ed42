package service

import (
	"context"
	"fmt"

	"github.com/charmbracelet/log"

	"github.com/mranderson01901234/5.0-sub004/internal/jobs"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
)

// WriteBatchHandler executes the low-priority write-behind jobs. Today that
// is the per-user FTS rebuild scheduled when the keyword pass detects a
// desynchronized index.
type WriteBatchHandler struct {
	store registrystore.MemoryStore
}

// NewWriteBatchHandler wires the write-batch job handler.
func NewWriteBatchHandler(store registrystore.MemoryStore) *WriteBatchHandler {
	return &WriteBatchHandler{store: store}
}

// Handle dispatches one write-batch job by payload type.
func (h *WriteBatchHandler) Handle(ctx context.Context, job *jobs.Job) error {
	switch p := job.Payload.(type) {
	case *RebuildFTSPayload:
		if err := h.store.RebuildFTS(ctx, p.UserID); err != nil {
			return fmt.Errorf("rebuild fts for %s: %w", p.UserID, err)
		}
		log.Info("FTS index rebuilt", "userId", p.UserID)
		return nil
	default:
		return fmt.Errorf("write-batch job %s: unexpected payload %T", job.ID, job.Payload)
	}
}
