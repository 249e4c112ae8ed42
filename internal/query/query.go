// Package query normalizes free-text recall queries into phrases, keywords
// and synonym expansions, and carries the per-mode thresholds and weights
// used by hybrid search.
package query

import (
	"sort"
	"strings"
)

// Mode selects how far keyword matching stretches beyond the literal query.
type Mode string

const (
	// ModeStrict disables synonym expansion and rejects memories that share
	// neither a keyword nor a phrase with the query.
	ModeStrict Mode = "strict"
	// ModeNormal expands a limited set of curated synonyms.
	ModeNormal Mode = "normal"
	// ModeAggressive expands the full curated synonym set.
	ModeAggressive Mode = "aggressive"
)

// ParseMode validates a wire-level expansion mode. Empty means normal.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case "":
		return ModeNormal, true
	case ModeStrict, ModeNormal, ModeAggressive:
		return Mode(s), true
	}
	return "", false
}

// SemanticThreshold is the minimum cosine similarity admitted by the mode.
func (m Mode) SemanticThreshold() float64 {
	switch m {
	case ModeStrict:
		return 0.85
	case ModeAggressive:
		return 0.65
	default:
		return 0.75
	}
}

// Weights returns the hybrid combination weights (semantic, keyword).
func (m Mode) Weights() (float64, float64) {
	switch m {
	case ModeStrict:
		return 0.4, 0.6
	case ModeAggressive:
		return 0.8, 0.2
	default:
		return 0.6, 0.4
	}
}

// maxSearchTerms caps phrases plus keywords.
const maxSearchTerms = 10

// Processed is the outcome of preprocessing one query.
type Processed struct {
	Original   string
	Normalized string
	IsQuestion bool
	Phrases    []string
	Keywords   []string
	// SearchTerms is phrases then keywords, capped at 10.
	SearchTerms []string
	// Expanded holds synonym variants of the keywords, per mode. They join
	// keyword matching at single weight but never count as search terms.
	Expanded []string
}

// Empty reports whether preprocessing found nothing to search for.
func (p Processed) Empty() bool { return len(p.SearchTerms) == 0 }

// FTSQuery builds an FTS5 MATCH expression: quoted phrases, keywords and
// expansions OR-joined.
func (p Processed) FTSQuery() string {
	terms := make([]string, 0, len(p.Phrases)+len(p.Keywords)+len(p.Expanded))
	for _, ph := range p.Phrases {
		terms = append(terms, `"`+ph+`"`)
	}
	for _, kw := range p.Keywords {
		terms = append(terms, `"`+kw+`"`)
	}
	for _, ex := range p.Expanded {
		terms = append(terms, `"`+ex+`"`)
	}
	return strings.Join(terms, " OR ")
}

var contractions = map[string]string{
	"what's": "what is", "who's": "who is", "where's": "where is",
	"when's": "when is", "how's": "how is", "that's": "that is",
	"there's": "there is", "it's": "it is", "i'm": "i am", "i've": "i have",
	"i'd": "i would", "i'll": "i will", "don't": "do not",
	"doesn't": "does not", "didn't": "did not", "can't": "cannot",
	"won't": "will not", "isn't": "is not", "aren't": "are not",
	"wasn't": "was not", "we're": "we are", "they're": "they are",
	"you're": "you are",
}

var questionWords = wordSet("what", "who", "where", "when", "why", "how", "which", "whose", "whom")

var (
	articles    = wordSet("a", "an", "the")
	possessives = wordSet("my", "your", "his", "her", "its", "our", "their")
	copulas     = wordSet("is", "are", "was", "were", "am", "be", "been", "being")
	preps       = wordSet("in", "on", "at", "by", "for", "with", "from", "to", "of", "about", "into", "over", "under", "after", "before")
	pronouns    = wordSet("i", "you", "he", "she", "it", "we", "they", "me", "him", "us", "them", "this", "that", "these", "those")
	auxVerbs    = wordSet("do", "does", "did", "can", "could", "will", "would", "shall", "should", "may", "might", "must", "have", "has", "had")
)

// curatedPhrases are matched longest-first before n-gram extraction.
var curatedPhrases = []string{
	"favorite programming language",
	"favorite color", "favorite food", "favorite movie", "favorite editor",
	"programming language", "tech stack", "machine learning", "code review",
	"unit test", "pull request", "side project", "home office", "time zone",
	"dark mode", "open source",
}

var synonyms = map[string][]string{
	"favorite":  {"preferred", "favourite"},
	"preferred": {"favorite"},
	"color":     {"colour"},
	"colour":    {"color"},
	"like":      {"love", "prefer", "enjoy"},
	"love":      {"like"},
	"fast":      {"quick", "performant"},
	"bug":       {"issue", "defect"},
	"error":     {"failure", "bug"},
	"db":        {"database"},
	"database":  {"db"},
	"config":    {"configuration", "settings"},
	"deploy":    {"deployment", "release"},
	"job":       {"task"},
	"goal":      {"objective", "plan"},
	"editor":    {"ide"},
	"laptop":    {"computer", "machine"},
}

// Process normalizes raw and extracts phrases, keywords and expansions.
func Process(raw string, mode Mode) Processed {
	p := Processed{Original: raw}

	trimmed := strings.TrimSpace(strings.ToLower(raw))
	if trimmed == "" {
		return p
	}
	endsQuestion := strings.HasSuffix(trimmed, "?")

	trimmed = strings.ReplaceAll(trimmed, "-", " ")
	var tokens []string
	for _, tok := range strings.Fields(trimmed) {
		tok = strings.Trim(tok, ".,!?;:()[]{}\"'")
		if tok == "" {
			continue
		}
		if expanded, ok := contractions[tok]; ok {
			tokens = append(tokens, strings.Fields(expanded)...)
			continue
		}
		tok = strings.TrimSuffix(tok, "'s")
		tokens = append(tokens, tok)
	}
	if len(tokens) == 0 {
		return p
	}

	p.IsQuestion = endsQuestion || questionWords[tokens[0]]
	if p.IsQuestion {
		kept := tokens[:0]
		for _, tok := range tokens {
			if questionWords[tok] || possessives[tok] || copulas[tok] {
				continue
			}
			kept = append(kept, tok)
		}
		tokens = kept
	}
	p.Normalized = strings.Join(tokens, " ")

	tokens, p.Phrases = extractPhrases(tokens)
	p.Keywords = filterStopWords(tokens)

	p.SearchTerms = append(append([]string{}, p.Phrases...), p.Keywords...)
	if len(p.SearchTerms) > maxSearchTerms {
		p.SearchTerms = p.SearchTerms[:maxSearchTerms]
	}

	p.Expanded = expand(p.Keywords, mode)
	return p
}

// extractPhrases consumes curated phrases longest-first, then 2-3 word runs
// of non-stop tokens. Returns the unconsumed tokens and the phrases.
func extractPhrases(tokens []string) ([]string, []string) {
	consumed := make([]bool, len(tokens))
	var phrases []string

	curated := append([]string(nil), curatedPhrases...)
	sort.Slice(curated, func(i, j int) bool { return len(curated[i]) > len(curated[j]) })
	for _, phrase := range curated {
		words := strings.Fields(phrase)
		for start := 0; start+len(words) <= len(tokens); start++ {
			if anyConsumed(consumed, start, len(words)) || !matchAt(tokens, start, words) {
				continue
			}
			phrases = append(phrases, phrase)
			markConsumed(consumed, start, len(words))
		}
	}

	for _, n := range []int{3, 2} {
		for start := 0; start+n <= len(tokens); start++ {
			if anyConsumed(consumed, start, n) {
				continue
			}
			run := tokens[start : start+n]
			if !allContentWords(run) {
				continue
			}
			phrases = append(phrases, strings.Join(run, " "))
			markConsumed(consumed, start, n)
		}
	}

	var rest []string
	for i, tok := range tokens {
		if !consumed[i] {
			rest = append(rest, tok)
		}
	}
	return rest, phrases
}

// filterStopWords drops articles always and the remaining categories when
// something survives; a query made only of stop words keeps its non-article
// tokens so the search still has terms.
func filterStopWords(tokens []string) []string {
	var loose []string
	var kept []string
	for _, tok := range tokens {
		if articles[tok] {
			continue
		}
		loose = append(loose, tok)
		if stopWord(tok) {
			continue
		}
		kept = append(kept, tok)
	}
	if len(kept) == 0 {
		return loose
	}
	return kept
}

func stopWord(tok string) bool {
	return possessives[tok] || copulas[tok] || preps[tok] || pronouns[tok] || auxVerbs[tok]
}

func allContentWords(tokens []string) bool {
	for _, tok := range tokens {
		if articles[tok] || stopWord(tok) || questionWords[tok] {
			return false
		}
	}
	return true
}

func expand(keywords []string, mode Mode) []string {
	if mode == ModeStrict {
		return nil
	}
	var out []string
	seen := map[string]bool{}
	for _, kw := range keywords {
		seen[kw] = true
	}
	for _, kw := range keywords {
		variants := synonyms[kw]
		if mode == ModeNormal && len(variants) > 1 {
			variants = variants[:1]
		}
		for _, v := range variants {
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
		}
	}
	return out
}

func matchAt(tokens []string, start int, words []string) bool {
	for i, w := range words {
		if tokens[start+i] != w {
			return false
		}
	}
	return true
}

func anyConsumed(consumed []bool, start, n int) bool {
	for i := start; i < start+n; i++ {
		if consumed[i] {
			return true
		}
	}
	return false
}

func markConsumed(consumed []bool, start, n int) {
	for i := start; i < start+n; i++ {
		consumed[i] = true
	}
}

func wordSet(words ...string) map[string]bool {
	set := make(map[string]bool, len(words))
	for _, w := range words {
		set[w] = true
	}
	return set
}
