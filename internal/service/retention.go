package service

import (
	"context"
	"math"
	"time"

	"github.com/charmbracelet/log"

	"github.com/mranderson01901234/5.0-sub004/internal/model"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
)

// tierPolicy holds one tier's TTL, weekly decay and demotion floor.
type tierPolicy struct {
	ttlDays      int
	decayPerWeek float64
	demoteFloor  float64
	demote       bool
}

// T3 never demotes; its floor only clamps decay so general facts do not
// vanish by decay alone before the TTL gets them.
var tierPolicies = map[model.Tier]tierPolicy{
	model.Tier1: {ttlDays: 120, decayPerWeek: 0.01, demoteFloor: 0.35, demote: true},
	model.Tier2: {ttlDays: 365, decayPerWeek: 0.005, demoteFloor: 0.50, demote: true},
	model.Tier3: {ttlDays: 90, decayPerWeek: 0.02, demoteFloor: 0.30, demote: false},
}

const retentionBatchSize = 500

// Retention ages the live memory set: TTL expiry, weekly priority decay,
// T3→T1 promotion and priority-floor demotion. Decay never touches
// updatedAt: DecayedWeeks tracks how many weeks have already been applied
// since the last real write, which keeps the TTL clock honest and makes
// repeated passes within the same week no-ops.
type Retention struct {
	store    registrystore.MemoryStore
	interval time.Duration

	now func() time.Time
}

// NewRetention builds the retention engine.
func NewRetention(store registrystore.MemoryStore, interval time.Duration) *Retention {
	return &Retention{store: store, interval: interval, now: time.Now}
}

// Start runs one pass immediately and then on the interval. Returns when ctx
// is cancelled.
func (r *Retention) Start(ctx context.Context) {
	r.Run(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Run(ctx)
		}
	}
}

// Run executes one full retention pass over all live memories.
func (r *Retention) Run(ctx context.Context) {
	start := r.now()
	var scanned, expired, decayed, promoted, demoted int

	afterID := ""
	for {
		batch, err := r.store.LiveMemoriesBatch(ctx, afterID, retentionBatchSize)
		if err != nil {
			log.Error("Retention: batch read failed", "err", err)
			return
		}
		if len(batch) == 0 {
			break
		}
		afterID = batch[len(batch)-1].ID.String()

		for i := range batch {
			scanned++
			outcome, err := r.apply(ctx, &batch[i])
			if err != nil {
				log.Error("Retention: apply failed", "memoryId", batch[i].ID, "err", err)
				continue
			}
			switch outcome {
			case outcomeExpired:
				expired++
			case outcomeDecayed:
				decayed++
			case outcomePromoted:
				promoted++
			case outcomeDemoted:
				demoted++
			}
		}
		if len(batch) < retentionBatchSize {
			break
		}
	}

	log.Info("Retention pass complete",
		"scanned", scanned, "expired", expired, "decayed", decayed,
		"promoted", promoted, "demoted", demoted,
		"elapsedMs", time.Since(start).Milliseconds())
}

type outcome int

const (
	outcomeNone outcome = iota
	outcomeExpired
	outcomeDecayed
	outcomePromoted
	outcomeDemoted
)

// apply runs the per-memory procedure: TTL, decay, promotion, demotion.
func (r *Retention) apply(ctx context.Context, m *model.Memory) (outcome, error) {
	policy, ok := tierPolicies[m.Tier]
	if !ok {
		policy = tierPolicies[model.Tier3]
	}

	now := r.now().UTC()
	age := now.Sub(m.UpdatedAt)
	ageDays := age.Hours() / 24
	ageWeeks := int(math.Floor(ageDays / 7))

	if ageDays > float64(policy.ttlDays) {
		if err := r.store.SoftDeleteMemory(ctx, m.UserID, m.ID, now); err != nil {
			return outcomeNone, err
		}
		return outcomeExpired, nil
	}

	changed := outcomeNone

	// Only the weeks not yet applied decay; DecayedWeeks remembers how far
	// previous passes got without moving updatedAt.
	if delta := ageWeeks - m.DecayedWeeks; delta > 0 {
		next := m.Priority - policy.decayPerWeek*float64(delta)
		if next < 0 {
			next = 0
		}
		if m.Tier == model.Tier3 && next < policy.demoteFloor {
			next = policy.demoteFloor
		}
		m.DecayedWeeks = ageWeeks
		if next != m.Priority {
			m.Priority = next
		}
		changed = outcomeDecayed
	}

	if m.Tier == model.Tier3 && len(m.ThreadSet) >= 2 && m.Repeats >= 2 {
		m.Tier = model.Tier1
		changed = outcomePromoted
	} else if policy.demote && m.Priority < policy.demoteFloor {
		m.Tier = model.Tier3
		changed = outcomeDemoted
	}

	if changed == outcomeNone {
		return outcomeNone, nil
	}

	// Tier moves are real writes and restart the age clock; decay alone
	// persists the new priority and week marker but leaves updatedAt as-is.
	if changed == outcomePromoted || changed == outcomeDemoted {
		m.UpdatedAt = now
		m.DecayedWeeks = 0
	}
	if err := r.store.UpdateMemory(ctx, m); err != nil {
		return outcomeNone, err
	}
	return changed, nil
}
