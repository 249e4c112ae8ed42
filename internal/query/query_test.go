package query

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMode(t *testing.T) {
	m, ok := ParseMode("")
	require.True(t, ok)
	assert.Equal(t, ModeNormal, m)

	m, ok = ParseMode("strict")
	require.True(t, ok)
	assert.Equal(t, ModeStrict, m)

	_, ok = ParseMode("fuzzy")
	assert.False(t, ok)
}

func TestModeThresholdsAndWeights(t *testing.T) {
	cases := []struct {
		mode      Mode
		threshold float64
		wSem      float64
		wKw       float64
	}{
		{ModeStrict, 0.85, 0.4, 0.6},
		{ModeNormal, 0.75, 0.6, 0.4},
		{ModeAggressive, 0.65, 0.8, 0.2},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.threshold, tc.mode.SemanticThreshold(), string(tc.mode))
		wSem, wKw := tc.mode.Weights()
		assert.Equal(t, tc.wSem, wSem, string(tc.mode))
		assert.Equal(t, tc.wKw, wKw, string(tc.mode))
	}
}

func TestProcessQuestionStripping(t *testing.T) {
	p := Process("What's my favorite color?", ModeNormal)

	assert.True(t, p.IsQuestion)
	assert.Equal(t, "favorite color", p.Normalized)
	assert.Equal(t, []string{"favorite color"}, p.Phrases)
	assert.Empty(t, p.Keywords)
	assert.False(t, p.Empty())
}

func TestProcessQuestionSuffixWithoutQuestionWord(t *testing.T) {
	p := Process("tell me the plan?", ModeNormal)

	assert.True(t, p.IsQuestion)
	assert.Contains(t, p.Keywords, "plan")
	assert.NotContains(t, p.Keywords, "the")
	assert.NotContains(t, p.Keywords, "me")
}

func TestProcessContractionExpansion(t *testing.T) {
	p := Process("I don't like slow databases", ModeNormal)

	assert.False(t, p.IsQuestion)
	assert.Equal(t, "i do not like slow databases", p.Normalized)
	assert.Contains(t, p.Keywords, "databases")
}

func TestCuratedPhraseBeforeKeywords(t *testing.T) {
	p := Process("favorite color db", ModeNormal)

	assert.Equal(t, []string{"favorite color"}, p.Phrases)
	assert.Equal(t, []string{"db"}, p.Keywords)
	assert.Equal(t, []string{"favorite color", "db"}, p.SearchTerms)
	assert.Equal(t, []string{"database"}, p.Expanded)
	assert.Equal(t, `"favorite color" OR "db" OR "database"`, p.FTSQuery())
}

func TestExpansionPerMode(t *testing.T) {
	assert.Nil(t, Process("like", ModeStrict).Expanded)
	assert.Equal(t, []string{"love"}, Process("like", ModeNormal).Expanded)
	assert.Equal(t, []string{"love", "prefer", "enjoy"}, Process("like", ModeAggressive).Expanded)
}

func TestStopWordOnlyQueryKeepsTokens(t *testing.T) {
	// A query of nothing but stop words still has to search for something.
	p := Process("is it", ModeNormal)

	assert.Equal(t, []string{"is", "it"}, p.Keywords)
	assert.False(t, p.Empty())
}

func TestEmptyQuery(t *testing.T) {
	assert.True(t, Process("", ModeNormal).Empty())
	assert.True(t, Process("  ?!  ", ModeNormal).Empty())
}
