package service

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mranderson01901234/5.0-sub004/internal/embedding"
	"github.com/mranderson01901234/5.0-sub004/internal/model"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
)

const embedMaxRetries = 3

// EmbedWorker drains the persistent embedding backlog: memories saved while
// the provider was unavailable get their vectors here.
type EmbedWorker struct {
	store    registrystore.MemoryStore
	embedder *embedding.Service
	interval time.Duration
	batch    int

	running atomic.Bool
}

// NewEmbedWorker builds the worker.
func NewEmbedWorker(store registrystore.MemoryStore, embedder *embedding.Service, interval time.Duration, batchSize int) *EmbedWorker {
	return &EmbedWorker{store: store, embedder: embedder, interval: interval, batch: batchSize}
}

// Start runs one drain immediately and then on the interval. Returns when
// ctx is cancelled.
func (w *EmbedWorker) Start(ctx context.Context) {
	if w.embedder == nil || !w.embedder.Enabled() {
		log.Info("Embedding worker disabled (no provider)")
		return
	}

	w.drain(ctx)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.drain(ctx)
		}
	}
}

// drain processes up to one batch. The atomic flag keeps overlapping ticks
// from doubling up when the provider is slow.
func (w *EmbedWorker) drain(ctx context.Context) {
	if !w.running.CompareAndSwap(false, true) {
		return
	}
	defer w.running.Store(false)

	pending, err := w.store.PendingEmbeddings(ctx, w.batch)
	if err != nil {
		log.Error("Embed worker: list pending failed", "err", err)
		return
	}
	if len(pending) == 0 {
		return
	}

	now := time.Now().UTC()
	var items []model.EmbeddingQueueItem
	for _, item := range pending {
		if item.RetryCount > embedMaxRetries {
			msg := "retries exhausted"
			if err := w.store.MarkEmbeddingProcessed(ctx, item.ID, now, &msg); err != nil {
				log.Error("Embed worker: mark exhausted failed", "itemId", item.ID, "err", err)
			}
			continue
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return
	}

	texts := make([]string, len(items))
	for i, item := range items {
		texts[i] = item.Content
	}
	vecs, err := w.embedder.GenerateBatch(ctx, texts)
	if err != nil {
		log.Warn("Embed worker: batch embed failed", "count", len(items), "err", err)
		for _, item := range items {
			if berr := w.store.BumpEmbeddingRetry(ctx, item.ID); berr != nil {
				log.Error("Embed worker: bump retry failed", "itemId", item.ID, "err", berr)
			}
		}
		return
	}

	done := 0
	for i, item := range items {
		if err := w.store.SetEmbedding(ctx, item.MemoryID, embedding.EncodeVector(vecs[i]), now); err != nil {
			log.Error("Embed worker: set embedding failed", "memoryId", item.MemoryID, "err", err)
			continue
		}
		if err := w.store.MarkEmbeddingProcessed(ctx, item.ID, now, nil); err != nil {
			log.Error("Embed worker: mark processed failed", "itemId", item.ID, "err", err)
			continue
		}
		done++
	}
	if done > 0 {
		log.Info("Embed worker: vectors written", "count", done)
	}
}
