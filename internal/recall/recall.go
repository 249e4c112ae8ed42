// Package recall runs the read path: hybrid semantic+keyword search under a
// hard deadline, re-ranking boosts, dedup and truncation. Recall never
// mutates; a deadline expiry returns whatever completed.
package recall

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/errgroup"

	"github.com/mranderson01901234/5.0-sub004/internal/embedding"
	"github.com/mranderson01901234/5.0-sub004/internal/model"
	"github.com/mranderson01901234/5.0-sub004/internal/query"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
	"github.com/mranderson01901234/5.0-sub004/internal/security"
	"github.com/mranderson01901234/5.0-sub004/internal/topic"
)

const (
	// MinDeadline/MaxDeadline clamp the caller's budget.
	MinDeadline = 1 * time.Millisecond
	MaxDeadline = 500 * time.Millisecond

	// MinItems/MaxItems clamp the result size.
	MinItems = 1
	MaxItems = 20

	// dedupThreshold is the similarity above which two results are the same fact.
	dedupThreshold = 0.85

	SearchTypeHybrid  = "hybrid"
	SearchTypeKeyword = "keyword"
)

// Request is one recall invocation, already identity-checked.
type Request struct {
	UserID   string
	ThreadID string
	Query    string
	MaxItems int
	Deadline time.Duration
	Mode     query.Mode
}

// Result is the ranked outcome.
type Result struct {
	Memories   []model.Memory
	Count      int
	ElapsedMs  int64
	TimedOut   bool
	SearchType string
}

// Engine runs recalls against the store. Safe for concurrent use.
type Engine struct {
	store    registrystore.MemoryStore
	embedder *embedding.Service

	// OnFTSError is called (asynchronously safe) when the FTS pass fails,
	// so the caller can schedule an index rebuild for the user.
	OnFTSError func(userID string)
}

// New builds a recall engine. embedder may be disabled; recall then runs
// keyword-only.
func New(store registrystore.MemoryStore, embedder *embedding.Service) *Engine {
	return &Engine{store: store, embedder: embedder}
}

// candidate accumulates a memory's scores across passes.
type candidate struct {
	mem      model.Memory
	semantic float64
	keyword  float64
	combined float64
}

// Recall executes the pipeline within the request deadline.
func (e *Engine) Recall(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	maxItems := clampInt(req.MaxItems, MinItems, MaxItems)
	deadline := clampDur(req.Deadline, MinDeadline, MaxDeadline)

	ctx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	processed := query.Process(req.Query, req.Mode)

	var (
		queryVec []float32
		semHits  []registrystore.SemanticHit
		kwHits   []model.Memory
		timedOut bool
	)

	// Query embedding failures are silent: recall degrades to keyword-only.
	if e.embedder != nil && e.embedder.Enabled() && strings.TrimSpace(req.Query) != "" {
		vec, err := e.embedder.Generate(ctx, req.Query)
		if err != nil {
			log.Debug("recall query embedding failed", "error", err)
		} else {
			queryVec = vec
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if queryVec != nil {
		g.Go(func() error {
			hits, err := e.store.SemanticSearch(gctx, req.UserID, queryVec, 2*maxItems)
			if err != nil {
				return err
			}
			threshold := req.Mode.SemanticThreshold()
			for _, h := range hits {
				if h.Similarity >= threshold {
					semHits = append(semHits, h)
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		var err error
		kwHits, err = e.keywordPass(gctx, req.UserID, processed, 2*maxItems)
		return err
	})
	if err := g.Wait(); err != nil {
		if ctx.Err() != nil {
			timedOut = true
		} else {
			return nil, err
		}
	}

	searchType := SearchTypeKeyword
	if queryVec != nil {
		searchType = SearchTypeHybrid
	}

	merged := e.merge(semHits, kwHits, processed, req.Mode)
	ranked := e.rank(merged, processed, time.Now().UTC())
	ranked = e.dedup(ranked)
	if len(ranked) > maxItems {
		ranked = ranked[:maxItems]
	}

	memories := make([]model.Memory, len(ranked))
	for i, c := range ranked {
		memories[i] = c.mem
	}

	elapsed := time.Since(start)
	if security.RecallDuration != nil {
		security.RecallDuration.WithLabelValues(searchType).Observe(elapsed.Seconds())
	}
	if timedOut && security.RecallTimeouts != nil {
		security.RecallTimeouts.Inc()
	}

	return &Result{
		Memories:   memories,
		Count:      len(memories),
		ElapsedMs:  elapsed.Milliseconds(),
		TimedOut:   timedOut,
		SearchType: searchType,
	}, nil
}

// keywordPass prefers FTS5 and falls back to LIKE on error or empty result.
// An empty query lists recent memories so queryless recall still returns
// something useful.
func (e *Engine) keywordPass(ctx context.Context, userID string, processed query.Processed, limit int) ([]model.Memory, error) {
	if processed.Empty() {
		return e.store.RecentMemories(ctx, userID, limit)
	}

	hits, err := e.store.SearchKeywordFTS(ctx, userID, processed.FTSQuery(), limit)
	if err == nil && len(hits) > 0 {
		out := make([]model.Memory, len(hits))
		for i, h := range hits {
			out[i] = h.Memory
		}
		return out, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return nil, err
		}
		log.Warn("FTS search failed, falling back to LIKE", "error", err)
		if e.OnFTSError != nil {
			e.OnFTSError(userID)
		}
	}

	terms := append(append([]string{}, processed.SearchTerms...), processed.Expanded...)
	return e.store.SearchKeywordLike(ctx, userID, terms, limit)
}

// merge joins both passes by memory id and computes the combined base score.
// Keyword relevance is re-scored in Go with phrases at double weight, so FTS
// and LIKE results rank identically.
func (e *Engine) merge(semHits []registrystore.SemanticHit, kwHits []model.Memory, processed query.Processed, mode query.Mode) []*candidate {
	wSem, wKw := mode.Weights()

	byID := map[string]*candidate{}
	for _, h := range semHits {
		byID[h.Memory.ID.String()] = &candidate{mem: h.Memory, semantic: h.Similarity}
	}
	for _, m := range kwHits {
		c, ok := byID[m.ID.String()]
		if !ok {
			c = &candidate{mem: m}
			byID[m.ID.String()] = c
		}
		c.keyword = keywordRelevance(m.Content, processed)
	}

	out := make([]*candidate, 0, len(byID))
	for _, c := range byID {
		if mode == query.ModeStrict && !processed.Empty() && c.keyword == 0 {
			// Strict mode rejects memories with no keyword/phrase overlap.
			continue
		}
		c.combined = c.semantic*wSem + c.keyword*wKw
		out = append(out, c)
	}
	return out
}

// keywordRelevance is the share of the query's weighted terms present in the
// content: phrases count double, keywords and expansions single.
func keywordRelevance(content string, processed query.Processed) float64 {
	if processed.Empty() {
		return 0
	}
	lower := strings.ToLower(content)

	total := 2.0*float64(len(processed.Phrases)) + float64(len(processed.Keywords))
	matched := 0.0
	for _, ph := range processed.Phrases {
		if strings.Contains(lower, ph) {
			matched += 2.0
		}
	}
	seenKw := false
	for _, kw := range processed.Keywords {
		if containsWord(lower, kw) {
			matched++
			seenKw = true
		}
	}
	// Expansions can satisfy a keyword but never dilute the denominator.
	if !seenKw {
		for _, ex := range processed.Expanded {
			if containsWord(lower, ex) {
				matched++
				break
			}
		}
	}
	if total == 0 {
		return 0
	}
	if matched > total {
		matched = total
	}
	return matched / total
}

// rank applies the multiplicative boosts, caps at 1.0 and sorts with the
// deterministic tie-break, then drops incomplete-pattern content.
func (e *Engine) rank(cands []*candidate, processed query.Processed, now time.Time) []*candidate {
	for _, c := range cands {
		boost := phraseBoost(c.mem.Content, processed.Phrases) *
			positionBoost(c.mem.Content, processed.Keywords) *
			tierBoost(c.mem.Tier) *
			priorityBoost(c.mem.Priority) *
			recencyBoost(now.Sub(c.mem.UpdatedAt))
		c.combined *= boost
		if c.combined > 1.0 {
			c.combined = 1.0
		}
	}

	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.combined != b.combined {
			return a.combined > b.combined
		}
		aRecent := now.Sub(a.mem.UpdatedAt) < 24*time.Hour
		bRecent := now.Sub(b.mem.UpdatedAt) < 24*time.Hour
		if aRecent != bRecent {
			return aRecent
		}
		if !a.mem.UpdatedAt.Equal(b.mem.UpdatedAt) {
			return a.mem.UpdatedAt.After(b.mem.UpdatedAt)
		}
		if a.mem.Tier != b.mem.Tier {
			return a.mem.Tier.Rank() < b.mem.Tier.Rank()
		}
		if a.mem.Priority != b.mem.Priority {
			return a.mem.Priority > b.mem.Priority
		}
		return a.mem.ID.String() < b.mem.ID.String()
	})

	out := cands[:0]
	for _, c := range cands {
		if topic.Incomplete(c.mem.Content) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// dedup collapses same-topic results, then near-duplicates at 0.85. The list
// is already rank-ordered; the keep rules decide which of a pair survives.
func (e *Engine) dedup(cands []*candidate) []*candidate {
	byTopic := map[string]*candidate{}
	var order []*candidate
	for _, c := range cands {
		t, ok := topic.Detect(c.mem.Content)
		if !ok {
			order = append(order, c)
			continue
		}
		key := t.Key()
		prev, seen := byTopic[key]
		if !seen {
			byTopic[key] = c
			order = append(order, c)
			continue
		}
		if keep(c, prev) {
			*prev = *c
		}
	}

	var out []*candidate
	for _, c := range order {
		dup := false
		for _, kept := range out {
			if similar(c, kept) {
				if keep(c, kept) {
					*kept = *c
				}
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, c)
		}
	}
	return out
}

// similar reports whether two candidates describe the same fact, by vector
// when both carry one, else textually.
func similar(a, b *candidate) bool {
	if a.mem.HasEmbedding() && b.mem.HasEmbedding() {
		va := embedding.DecodeVector(a.mem.Embedding)
		vb := embedding.DecodeVector(b.mem.Embedding)
		return embedding.Cosine(va, vb) >= dedupThreshold
	}
	return topic.Similarity(a.mem.Content, b.mem.Content) >= dedupThreshold
}

var updateLanguage = []string{"now", "actually", "instead", "changed", "updated", "no longer"}

// keep reports whether a should replace b when the two are duplicates:
// tier, then update-language, then a clear priority gap, then recency.
func keep(a, b *candidate) bool {
	if a.mem.Tier.Rank() != b.mem.Tier.Rank() {
		return a.mem.Tier.Rank() < b.mem.Tier.Rank()
	}
	aUpd, bUpd := hasUpdateLanguage(a.mem.Content), hasUpdateLanguage(b.mem.Content)
	if aUpd != bUpd {
		return aUpd
	}
	if diff := a.mem.Priority - b.mem.Priority; diff > 0.1 || diff < -0.1 {
		return diff > 0
	}
	return a.mem.UpdatedAt.After(b.mem.UpdatedAt)
}

func hasUpdateLanguage(content string) bool {
	lower := strings.ToLower(content)
	for _, cue := range updateLanguage {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

// phraseBoost: exact phrase 2.0, near-complete 1.5, partial 1.2; max wins.
func phraseBoost(content string, phrases []string) float64 {
	if len(phrases) == 0 {
		return 1.0
	}
	lower := strings.ToLower(content)
	boost := 1.0
	for _, ph := range phrases {
		switch {
		case strings.Contains(lower, ph):
			boost = max64(boost, 2.0)
		case wordShare(lower, ph) >= 0.75:
			boost = max64(boost, 1.5)
		case wordShare(lower, ph) >= 0.5:
			boost = max64(boost, 1.2)
		}
	}
	return boost
}

// positionBoost averages per-keyword boosts: first third of the content 1.5,
// middle third 1.2, else 1.0. Keywords absent from the content contribute
// nothing.
func positionBoost(content string, keywords []string) float64 {
	if len(keywords) == 0 || content == "" {
		return 1.0
	}
	lower := strings.ToLower(content)
	var sum float64
	var n int
	for _, kw := range keywords {
		idx := strings.Index(lower, kw)
		if idx < 0 {
			continue
		}
		rel := float64(idx) / float64(len(lower))
		switch {
		case rel < 1.0/3:
			sum += 1.5
		case rel < 2.0/3:
			sum += 1.2
		default:
			sum += 1.0
		}
		n++
	}
	if n == 0 {
		return 1.0
	}
	return sum / float64(n)
}

func tierBoost(t model.Tier) float64 {
	switch t {
	case model.Tier1:
		return 1.2
	case model.Tier2:
		return 1.1
	default:
		return 1.0
	}
}

func priorityBoost(p float64) float64 {
	switch {
	case p >= 0.9:
		return 1.2
	case p >= 0.8:
		return 1.1
	case p >= 0.7:
		return 1.05
	default:
		return 1.0
	}
}

func recencyBoost(age time.Duration) float64 {
	switch {
	case age < 24*time.Hour:
		return 1.1
	case age < 7*24*time.Hour:
		return 1.05
	default:
		return 1.0
	}
}

// wordShare is the fraction of a phrase's words present in the content.
func wordShare(lowerContent, phrase string) float64 {
	words := strings.Fields(phrase)
	if len(words) == 0 {
		return 0
	}
	found := 0
	for _, w := range words {
		if containsWord(lowerContent, w) {
			found++
		}
	}
	return float64(found) / float64(len(words))
}

// containsWord is a cheap word-boundary check over lowercase content.
func containsWord(lowerContent, word string) bool {
	idx := 0
	for {
		i := strings.Index(lowerContent[idx:], word)
		if i < 0 {
			return false
		}
		start := idx + i
		end := start + len(word)
		beforeOK := start == 0 || !isWordByte(lowerContent[start-1])
		afterOK := end == len(lowerContent) || !isWordByte(lowerContent[end])
		if beforeOK && afterOK {
			return true
		}
		idx = end
	}
}

func isWordByte(b byte) bool {
	return b >= 'a' && b <= 'z' || b >= 'A' && b <= 'Z' || b >= '0' && b <= '9'
}

func clampInt(v, lo, hi int) int {
	if v == 0 {
		v = 5
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func clampDur(v, lo, hi time.Duration) time.Duration {
	if v == 0 {
		v = 200 * time.Millisecond
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func max64(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
