// Package cadence decides when a thread is due for an audit. State is held
// in memory only: a restart loses pending counters and the next messages
// start a fresh window.
package cadence

import (
	"context"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/mranderson01901234/5.0-sub004/internal/config"
	"github.com/mranderson01901234/5.0-sub004/internal/model"
)

// maxBufferedTurns bounds the per-thread turn buffer handed to audits.
const maxBufferedTurns = 50

// Window is the snapshot handed to an audit when the cadence fires.
type Window struct {
	UserID     string
	ThreadID   string
	Turns      []model.Turn
	MsgCount   int
	TokenCount int
	StartMsgID *string
	EndMsgID   *string
}

type stateKey struct {
	userID   string
	threadID string
}

type threadState struct {
	msgCount      int
	tokenCount    int
	firstMsgTime  time.Time
	lastMsgTime   time.Time
	lastAuditTime time.Time
	turns         []model.Turn
}

// Tracker keeps per-(user,thread) counters and fires audit windows.
// Safe for concurrent callers.
type Tracker struct {
	mu     sync.Mutex
	states map[stateKey]*threadState

	msgThreshold   int
	tokenThreshold int
	window         time.Duration
	debounce       time.Duration
	sweepInterval  time.Duration
	idleExpiry     time.Duration

	now func() time.Time
}

// NewTracker builds a tracker from the cadence thresholds in cfg.
func NewTracker(cfg *config.Config) *Tracker {
	return &Tracker{
		states:         map[stateKey]*threadState{},
		msgThreshold:   cfg.CadenceMsgCount,
		tokenThreshold: cfg.CadenceTokenCount,
		window:         cfg.CadenceWindow,
		debounce:       cfg.CadenceDebounce,
		sweepInterval:  cfg.CadenceSweepInterval,
		idleExpiry:     cfg.CadenceIdleExpiry,
		now:            time.Now,
	}
}

// RecordMessage updates the thread's counters and buffers the turn. When a
// threshold crosses outside the debounce interval it returns the window to
// audit; the returned snapshot owns its turns.
func (t *Tracker) RecordMessage(userID, threadID string, turn model.Turn) (*Window, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	k := stateKey{userID: userID, threadID: threadID}
	st := t.states[k]
	if st == nil {
		st = &threadState{}
		t.states[k] = st
	}

	if st.msgCount == 0 {
		st.firstMsgTime = now
	}
	st.msgCount++
	st.tokenCount += turn.InputTokens + turn.OutputTokens
	st.lastMsgTime = now
	if len(st.turns) < maxBufferedTurns {
		st.turns = append(st.turns, turn)
	}

	crossed := st.msgCount >= t.msgThreshold ||
		st.tokenCount >= t.tokenThreshold ||
		now.Sub(st.firstMsgTime) >= t.window
	if !crossed {
		return nil, false
	}
	if !st.lastAuditTime.IsZero() && now.Sub(st.lastAuditTime) < t.debounce {
		return nil, false
	}

	w := &Window{
		UserID:     userID,
		ThreadID:   threadID,
		Turns:      append([]model.Turn(nil), st.turns...),
		MsgCount:   st.msgCount,
		TokenCount: st.tokenCount,
	}
	if len(w.Turns) > 0 {
		if id := w.Turns[0].MsgID; id != "" {
			w.StartMsgID = &id
		}
		if id := w.Turns[len(w.Turns)-1].MsgID; id != "" {
			w.EndMsgID = &id
		}
	}

	// Stamp the audit time at fire so queued work is not double-triggered
	// by messages arriving before MarkAuditComplete.
	st.lastAuditTime = now
	st.turns = nil
	return w, true
}

// ForceWindow snapshots whatever the thread has buffered, bypassing the
// thresholds and the debounce. Nil when nothing is buffered. Used by the
// explicit audit endpoint.
func (t *Tracker) ForceWindow(userID, threadID string) *Window {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.states[stateKey{userID: userID, threadID: threadID}]
	if st == nil || len(st.turns) == 0 {
		return nil
	}

	w := &Window{
		UserID:     userID,
		ThreadID:   threadID,
		Turns:      append([]model.Turn(nil), st.turns...),
		MsgCount:   st.msgCount,
		TokenCount: st.tokenCount,
	}
	if id := w.Turns[0].MsgID; id != "" {
		w.StartMsgID = &id
	}
	if id := w.Turns[len(w.Turns)-1].MsgID; id != "" {
		w.EndMsgID = &id
	}

	st.lastAuditTime = t.now()
	st.turns = nil
	return w
}

// MarkAuditComplete zeroes the thread's counters and restarts its window.
func (t *Tracker) MarkAuditComplete(userID, threadID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	st := t.states[stateKey{userID: userID, threadID: threadID}]
	if st == nil {
		return
	}
	now := t.now()
	st.msgCount = 0
	st.tokenCount = 0
	st.turns = nil
	st.firstMsgTime = now
	st.lastAuditTime = now
}

// Sweep drops states idle longer than the expiry and reports how many.
func (t *Tracker) Sweep() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	cutoff := t.now().Add(-t.idleExpiry)
	removed := 0
	for k, st := range t.states {
		if st.lastMsgTime.Before(cutoff) {
			delete(t.states, k)
			removed++
		}
	}
	return removed
}

// ActiveThreads returns the number of tracked (user,thread) states.
func (t *Tracker) ActiveThreads() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.states)
}

// StartSweeper runs the idle-state sweeper until ctx is done.
func (t *Tracker) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(t.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := t.Sweep(); removed > 0 {
					log.Debug("Swept idle cadence states", "removed", removed)
				}
			}
		}
	}()
}
