// Package redact masks PII in memory content before it is stored. Masking is
// reversible: each occurrence is replaced by a unique placeholder and the
// placeholder→original mapping is kept alongside the memory.
package redact

import (
	"crypto/rand"
	"encoding/hex"
	"net"
	"regexp"
	"sort"
	"strings"
)

// Result is the outcome of masking one text.
type Result struct {
	// Redacted is the text with every detected occurrence replaced by a
	// [KIND_<hex8>] placeholder.
	Redacted string

	// Map holds placeholder → original. Nil when no PII was found.
	Map map[string]string

	// HadPII reports whether anything was masked.
	HadPII bool
}

type kind struct {
	name string
	re   *regexp.Regexp
	// keep returns false to skip a syntactic match (private IPs, plain words).
	keep func(match string) bool
}

// Kinds are matched in this order against the original text; an earlier
// kind's span claims its range, so JWT segments are never re-read as generic
// tokens and card digit groups are never re-read as phone numbers.
var kinds = []kind{
	{name: "JWT", re: regexp.MustCompile(`\b[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}\b`)},
	{name: "EMAIL", re: regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)},
	{name: "CARD", re: regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{4}\b`)},
	{name: "SSN", re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	{name: "PHONE", re: regexp.MustCompile(`(?:\+?1[-. ])?\(?\d{3}\)?[-. ]?\d{3}[-. ]?\d{4}\b`)},
	{name: "TOKEN", re: regexp.MustCompile(`\b[A-Za-z0-9_-]{32,}\b`), keep: tokenLike},
	{name: "IP", re: regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`), keep: publicIPv4},
}

var placeholderRe = regexp.MustCompile(`\[[A-Z]+_[0-9a-f]{8}\]`)

type span struct {
	start, end int
	kind       string
}

// PII masks all supported PII kinds in text.
func PII(text string) Result {
	var spans []span
	for _, k := range kinds {
		for _, loc := range k.re.FindAllStringIndex(text, -1) {
			if claimed(spans, loc[0], loc[1]) {
				continue
			}
			if k.keep != nil && !k.keep(text[loc[0]:loc[1]]) {
				continue
			}
			spans = append(spans, span{start: loc[0], end: loc[1], kind: k.name})
		}
	}
	if len(spans) == 0 {
		return Result{Redacted: text}
	}

	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	var b strings.Builder
	m := make(map[string]string, len(spans))
	prev := 0
	for _, s := range spans {
		ph := placeholder(s.kind)
		m[ph] = text[s.start:s.end]
		b.WriteString(text[prev:s.start])
		b.WriteString(ph)
		prev = s.end
	}
	b.WriteString(text[prev:])

	return Result{Redacted: b.String(), Map: m, HadPII: true}
}

// Restore replaces placeholders with their originals. It is the left inverse
// of PII: Restore(PII(t).Redacted, PII(t).Map) == t.
func Restore(text string, m map[string]string) string {
	for ph, original := range m {
		text = strings.ReplaceAll(text, ph, original)
	}
	return text
}

// IsAllRedacted reports whether the trimmed text consists only of
// placeholders. Such content carries no signal and must be rejected.
func IsAllRedacted(text string) bool {
	rest := strings.TrimSpace(text)
	if rest == "" {
		return false
	}
	for {
		loc := placeholderRe.FindStringIndex(rest)
		if loc == nil || loc[0] != 0 {
			return false
		}
		rest = strings.TrimSpace(rest[loc[1]:])
		if rest == "" {
			return true
		}
	}
}

func claimed(spans []span, start, end int) bool {
	for _, s := range spans {
		if start < s.end && end > s.start {
			return true
		}
	}
	return false
}

func placeholder(kindName string) string {
	var b [4]byte
	_, _ = rand.Read(b[:])
	return "[" + kindName + "_" + hex.EncodeToString(b[:]) + "]"
}

// tokenLike admits long opaque strings: at least one digit, or mixed case.
// Purely alphabetic single-case words are prose, not secrets.
func tokenLike(s string) bool {
	var hasDigit, hasUpper, hasLower bool
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
			hasDigit = true
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		}
	}
	return hasDigit || (hasUpper && hasLower)
}

// publicIPv4 admits only routable addresses; loopback, private, link-local
// and unspecified addresses stay in the clear.
func publicIPv4(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil || ip.To4() == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
		return false
	}
	return true
}
