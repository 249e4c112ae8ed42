// Package topic extracts a coarse topic from memory content and scores
// textual similarity. The supercede path groups candidates by topic before
// comparing text; recall uses the same detector for post-search dedup.
package topic

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	KindAttribute = "attribute"
	KindAction    = "action"
)

// Topic is the extracted subject of a memory.
type Topic struct {
	Kind      string
	Attribute string // attribute kind: normalized attribute, e.g. "favorite color"
	Value     string // attribute kind: the stated value
	Verb      string // action kind
	Object    string // action kind: normalized object
}

var (
	attrRe   = regexp.MustCompile(`(?i)\bmy\s+((?:[\w']+\s+){0,3}[\w']+)\s+(?:is|are|was|were)\s+(.+)`)
	actionRe = regexp.MustCompile(`(?i)\bi\s+(prefer|like|love|hate|enjoy|use|need|want|work|live|study|play)\s+(.+)`)

	incompleteLeadRe = regexp.MustCompile(`(?i)^\s*my\s+(?:favorite|favourite|preferred)\b`)
)

// Detect extracts the topic of content: "my <attr> is <value>" yields an
// attribute topic, "I <verb> <object>" an action topic.
func Detect(content string) (Topic, bool) {
	if m := attrRe.FindStringSubmatch(content); m != nil {
		return Topic{
			Kind:      KindAttribute,
			Attribute: Normalize(m[1]),
			Value:     Normalize(m[2]),
		}, true
	}
	if m := actionRe.FindStringSubmatch(content); m != nil {
		return Topic{
			Kind:   KindAction,
			Verb:   strings.ToLower(m[1]),
			Object: Normalize(m[2]),
		}, true
	}
	return Topic{}, false
}

// Key is the grouping key: equal keys mean "the same topic". The value side
// of an attribute is deliberately excluded so restatements collide.
func (t Topic) Key() string {
	switch t.Kind {
	case KindAttribute:
		return "attr:" + t.Attribute
	case KindAction:
		return "act:" + t.Verb + ":" + objectHead(t.Object)
	default:
		return ""
	}
}

// objectHead returns the first non-preposition word of an action object.
func objectHead(object string) string {
	for _, w := range strings.Fields(object) {
		switch w {
		case "at", "in", "on", "with", "for", "to", "a", "an", "the":
			continue
		}
		return w
	}
	return object
}

// Incomplete reports whether content states a preference with no value
// ("my favorite color"). Recall filters these out of results.
func Incomplete(content string) bool {
	if attrRe.MatchString(content) {
		return false
	}
	return incompleteLeadRe.MatchString(content)
}

// Similarity scores two texts in [0,1]: exact match 1.0, containment 0.9,
// else a 0.7·Jaccard-keyword + 0.3·length-ratio blend.
func Similarity(a, b string) float64 {
	na, nb := Normalize(a), Normalize(b)
	if na == "" || nb == "" {
		return 0
	}
	if na == nb {
		return 1.0
	}
	if strings.Contains(na, nb) || strings.Contains(nb, na) {
		return 0.9
	}
	return 0.7*jaccard(Tokens(na), Tokens(nb)) + 0.3*lengthRatio(na, nb)
}

// Normalize lowercases, collapses whitespace and strips terminal punctuation.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimRight(s, ".!?,;: ")
}

// Tokens splits normalized text into lowercase word tokens.
func Tokens(s string) []string {
	return strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 0
	}
	set := make(map[string]uint8, len(a)+len(b))
	for _, w := range a {
		set[w] |= 1
	}
	for _, w := range b {
		set[w] |= 2
	}
	var union, both int
	for _, bits := range set {
		union++
		if bits == 3 {
			both++
		}
	}
	return float64(both) / float64(union)
}

func lengthRatio(a, b string) float64 {
	la, lb := len([]rune(a)), len([]rune(b))
	if la == 0 || lb == 0 {
		return 0
	}
	if la > lb {
		la, lb = lb, la
	}
	return float64(la) / float64(lb)
}
