// Package scoring turns raw turns into save decisions: a deterministic
// quality score in [0,1] gated by QualityThreshold, and a tier classifier.
package scoring

import (
	"strings"

	"github.com/mranderson01901234/5.0-sub004/internal/model"
)

// QualityThreshold gates persistence: turns scoring below it are dropped.
const QualityThreshold = 0.65

// Score contributions. Role, length, salience and recency sum to at most 1.0.
const (
	roleUserScore      = 0.30
	roleAssistantScore = 0.10
	lengthScore        = 0.20
	lengthLongScore    = 0.10
	strongCueScore     = 0.20
	weakCueScore       = 0.10
	salienceCap        = 0.40
	recencyCap         = 0.10

	minLength = 10
	maxLength = 500
)

// Strong cues mark identity and durable preference statements.
var strongCues = []string{
	"my name is", "i am ", "i'm ", "call me", "my favorite", "my preferred",
	"i prefer", "i live", "i work", "my goal", "my email", "my birthday",
	"i was born",
}

// Weak cues mark statements worth keeping but less defining.
var weakCues = []string{
	"i like", "i love", "i hate", "i use", "i need", "i want", "i enjoy",
	"always", "never", "important", "remember", "don't forget", "note that",
	"keep in mind", "deadline", "we decided", "my team", "my project",
}

// Quality scores one turn within its audit window. index is the turn's
// position in the window of windowSize turns; later turns score higher.
func Quality(turn model.Turn, index, windowSize int) float64 {
	score := 0.0

	if turn.Role == model.RoleUser {
		score += roleUserScore
	} else {
		score += roleAssistantScore
	}

	switch n := len([]rune(turn.Content)); {
	case n < minLength:
		// too short to carry a fact
	case n <= maxLength:
		score += lengthScore
	default:
		score += lengthLongScore
	}

	score += salience(turn.Content)

	if windowSize > 0 && index >= 0 && index < windowSize {
		score += recencyCap * float64(index+1) / float64(windowSize)
	}

	if score > 1.0 {
		score = 1.0
	}
	return score
}

func salience(content string) float64 {
	lower := strings.ToLower(content)
	total := 0.0
	for _, cue := range strongCues {
		if strings.Contains(lower, cue) {
			total += strongCueScore
		}
	}
	for _, cue := range weakCues {
		if strings.Contains(lower, cue) {
			total += weakCueScore
		}
	}
	if total > salienceCap {
		total = salienceCap
	}
	return total
}

// Tier classification cues. Identity outranks preference.
var tier1Cues = []string{
	"my name", "i am ", "i'm ", "call me", "i live", "i work", "my email",
	"my phone", "my birthday", "i was born", "years old", "my wife",
	"my husband", "my kids",
}

var tier2Cues = []string{
	"i prefer", "my favorite", "my preferred", "i like", "i love", "i hate",
	"i enjoy", "my goal", "i want to", "i plan to", "i'm learning", "i use",
	"i always", "i never",
}

// DetectTier classifies content: T1 for identity and durable facts, T2 for
// preferences and goals, T3 otherwise. Explicit saves default to T1 at the
// engine, not here.
func DetectTier(content string) model.Tier {
	lower := strings.ToLower(content)
	for _, cue := range tier1Cues {
		if strings.Contains(lower, cue) {
			return model.Tier1
		}
	}
	for _, cue := range tier2Cues {
		if strings.Contains(lower, cue) {
			return model.Tier2
		}
	}
	return model.Tier3
}
