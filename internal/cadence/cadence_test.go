package cadence

import (
	"fmt"
	"testing"
	"time"

	"github.com/mranderson01901234/5.0-sub004/internal/config"
	"github.com/mranderson01901234/5.0-sub004/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testTracker(t *testing.T) (*Tracker, *time.Time) {
	t.Helper()
	cfg := config.DefaultConfig()
	tr := NewTracker(&cfg)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }
	return tr, &now
}

func turn(i int, tokens int) model.Turn {
	return model.Turn{
		MsgID:       fmt.Sprintf("m%d", i),
		Role:        model.RoleUser,
		Content:     "message number padding padding padding!",
		InputTokens: tokens,
	}
}

func TestRecordMessage_FiresOnSixthMessage(t *testing.T) {
	tr, now := testTracker(t)

	fires := 0
	var window *Window
	for i := 1; i <= 6; i++ {
		*now = now.Add(100 * time.Millisecond)
		w, fired := tr.RecordMessage("u1", "t1", turn(i, 100))
		if fired {
			fires++
			window = w
		}
	}
	require.Equal(t, 1, fires)
	require.NotNil(t, window)
	assert.Equal(t, 6, window.MsgCount)
	assert.Equal(t, 600, window.TokenCount)
	assert.Len(t, window.Turns, 6)
	require.NotNil(t, window.StartMsgID)
	require.NotNil(t, window.EndMsgID)
	assert.Equal(t, "m1", *window.StartMsgID)
	assert.Equal(t, "m6", *window.EndMsgID)
}

func TestRecordMessage_DebounceSuppressesRefire(t *testing.T) {
	tr, now := testTracker(t)

	fires := 0
	for i := 1; i <= 12; i++ {
		*now = now.Add(100 * time.Millisecond)
		if _, fired := tr.RecordMessage("u1", "t1", turn(i, 100)); fired {
			fires++
		}
	}
	require.Equal(t, 1, fires)

	*now = now.Add(30 * time.Second)
	_, fired := tr.RecordMessage("u1", "t1", turn(13, 100))
	assert.True(t, fired)
}

func TestRecordMessage_SecondBatchWaitsForDebounce(t *testing.T) {
	tr, now := testTracker(t)

	for i := 1; i <= 6; i++ {
		*now = now.Add(100 * time.Millisecond)
		tr.RecordMessage("u1", "t1", turn(i, 100))
	}
	tr.MarkAuditComplete("u1", "t1")

	fires := 0
	for i := 7; i <= 12; i++ {
		*now = now.Add(100 * time.Millisecond)
		if _, fired := tr.RecordMessage("u1", "t1", turn(i, 100)); fired {
			fires++
		}
	}
	assert.Equal(t, 0, fires)

	*now = now.Add(31 * time.Second)
	_, fired := tr.RecordMessage("u1", "t1", turn(13, 100))
	assert.True(t, fired)
}

func TestRecordMessage_TokenThresholdFires(t *testing.T) {
	tr, now := testTracker(t)
	*now = now.Add(time.Second)
	_, fired := tr.RecordMessage("u1", "t1", turn(1, 1500))
	assert.True(t, fired)
}

func TestRecordMessage_WindowAgeFires(t *testing.T) {
	tr, now := testTracker(t)

	fires := 0
	for i := 1; i <= 4; i++ {
		if _, fired := tr.RecordMessage("u1", "t1", turn(i, 10)); fired {
			fires++
		}
		*now = now.Add(time.Minute)
	}
	// Fourth message arrives 3 minutes after the first.
	require.Equal(t, 1, fires)
}

func TestMarkAuditComplete_ResetsCounters(t *testing.T) {
	tr, now := testTracker(t)

	for i := 1; i <= 6; i++ {
		*now = now.Add(100 * time.Millisecond)
		tr.RecordMessage("u1", "t1", turn(i, 100))
	}
	tr.MarkAuditComplete("u1", "t1")

	st := tr.states[stateKey{userID: "u1", threadID: "t1"}]
	require.NotNil(t, st)
	assert.Zero(t, st.msgCount)
	assert.Zero(t, st.tokenCount)
	assert.Empty(t, st.turns)
}

func TestRecordMessage_ThreadsAreIndependent(t *testing.T) {
	tr, now := testTracker(t)

	for i := 1; i <= 5; i++ {
		*now = now.Add(100 * time.Millisecond)
		_, fired := tr.RecordMessage("u1", "t1", turn(i, 100))
		require.False(t, fired)
	}
	_, fired := tr.RecordMessage("u1", "t2", turn(1, 100))
	assert.False(t, fired)
	assert.Equal(t, 2, tr.ActiveThreads())
}

func TestSweep_DropsIdleStates(t *testing.T) {
	tr, now := testTracker(t)

	tr.RecordMessage("u1", "t1", turn(1, 10))
	*now = now.Add(2 * time.Hour)
	tr.RecordMessage("u2", "t2", turn(1, 10))

	*now = now.Add(23 * time.Hour)
	removed := tr.Sweep()
	assert.Equal(t, 1, removed)
	assert.Equal(t, 1, tr.ActiveThreads())
}

func TestRecordMessage_TurnBufferBounded(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.CadenceMsgCount = 1000
	cfg.CadenceTokenCount = 1 << 30
	cfg.CadenceWindow = time.Hour
	tr := NewTracker(&cfg)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr.now = func() time.Time { return now }

	for i := 0; i < 80; i++ {
		now = now.Add(time.Millisecond)
		_, fired := tr.RecordMessage("u1", "t1", turn(i, 1))
		require.False(t, fired)
	}
	st := tr.states[stateKey{userID: "u1", threadID: "t1"}]
	require.NotNil(t, st)
	assert.Len(t, st.turns, maxBufferedTurns)
}
