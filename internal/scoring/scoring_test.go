package scoring

import (
	"testing"

	"github.com/mranderson01901234/5.0-sub004/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userTurn(content string) model.Turn {
	return model.Turn{Role: model.RoleUser, Content: content}
}

func TestQuality_PreferenceStatementClearsThreshold(t *testing.T) {
	turn := userTurn("my favorite color is blue")
	for i := 0; i < 6; i++ {
		got := Quality(turn, i, 6)
		assert.GreaterOrEqual(t, got, QualityThreshold, "index %d", i)
	}
}

func TestQuality_SmallTalkStaysBelow(t *testing.T) {
	got := Quality(userTurn("ok thanks"), 5, 6)
	assert.Less(t, got, QualityThreshold)
}

func TestQuality_UserOutscoresAssistant(t *testing.T) {
	content := "the deadline for the migration is next friday"
	user := Quality(model.Turn{Role: model.RoleUser, Content: content}, 3, 6)
	assistant := Quality(model.Turn{Role: model.RoleAssistant, Content: content}, 3, 6)
	assert.Greater(t, user, assistant)
}

func TestQuality_LongContentPenalized(t *testing.T) {
	long := make([]byte, 600)
	for i := range long {
		long[i] = 'a'
	}
	short := userTurn("i work on the payments service most days")
	require.Greater(t, Quality(short, 0, 1), Quality(userTurn(string(long)), 0, 1))
}

func TestQuality_Deterministic(t *testing.T) {
	turn := userTurn("remember that I prefer tabs over spaces")
	assert.Equal(t, Quality(turn, 2, 6), Quality(turn, 2, 6))
}

func TestQuality_Bounded(t *testing.T) {
	turn := userTurn("my name is Sam, I am a backend dev, i prefer Go, always remember the deadline")
	got := Quality(turn, 5, 6)
	assert.LessOrEqual(t, got, 1.0)
	assert.GreaterOrEqual(t, got, 0.0)
}

func TestDetectTier(t *testing.T) {
	cases := []struct {
		content string
		want    model.Tier
	}{
		{"my name is Sam and I live in Lisbon", model.Tier1},
		{"i work at a logistics startup", model.Tier1},
		{"i prefer dark mode everywhere", model.Tier2},
		{"my favorite editor is neovim", model.Tier2},
		{"the deploy finished around noon", model.Tier3},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, DetectTier(c.content), "content: %s", c.content)
	}
}
