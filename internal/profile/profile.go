// Package profile derives a per-user profile from high-priority T1/T2
// memories: tech stack, domain interests, expertise and communication style.
// Profiles are cached and rebuilt on demand after invalidation.
package profile

import (
	"context"
	"encoding/json"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"golang.org/x/sync/singleflight"

	"github.com/mranderson01901234/5.0-sub004/internal/model"
	registrycache "github.com/mranderson01901234/5.0-sub004/internal/registry/cache"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
	"github.com/mranderson01901234/5.0-sub004/internal/security"
)

const (
	// topMemoryLimit bounds how many memories feed a profile build.
	topMemoryLimit = 100

	// styleMinCues is the minimum cue-bearing memories before a
	// communication style is inferred.
	styleMinCues = 3
)

// techPatterns is the curated tech-stack regex set. Order fixes the output
// order for equal weights.
var techPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"go", regexp.MustCompile(`(?i)\b(golang|go)\b`)},
	{"python", regexp.MustCompile(`(?i)\bpython\b`)},
	{"typescript", regexp.MustCompile(`(?i)\btypescript\b`)},
	{"javascript", regexp.MustCompile(`(?i)\b(javascript|node\.?js)\b`)},
	{"rust", regexp.MustCompile(`(?i)\brust\b`)},
	{"java", regexp.MustCompile(`(?i)\bjava\b`)},
	{"kubernetes", regexp.MustCompile(`(?i)\b(kubernetes|k8s)\b`)},
	{"docker", regexp.MustCompile(`(?i)\bdocker\b`)},
	{"postgres", regexp.MustCompile(`(?i)\b(postgres(ql)?)\b`)},
	{"sqlite", regexp.MustCompile(`(?i)\bsqlite\b`)},
	{"redis", regexp.MustCompile(`(?i)\bredis\b`)},
	{"react", regexp.MustCompile(`(?i)\breact\b`)},
	{"aws", regexp.MustCompile(`(?i)\baws\b`)},
	{"terraform", regexp.MustCompile(`(?i)\bterraform\b`)},
	{"vim", regexp.MustCompile(`(?i)\b(neovim|vim)\b`)},
}

var domainPatterns = []struct {
	name string
	re   *regexp.Regexp
}{
	{"machine learning", regexp.MustCompile(`(?i)\b(machine learning|ml model|neural|llm)\b`)},
	{"web development", regexp.MustCompile(`(?i)\b(frontend|backend|web app|website)\b`)},
	{"devops", regexp.MustCompile(`(?i)\b(devops|ci/cd|deploy|infrastructure)\b`)},
	{"data engineering", regexp.MustCompile(`(?i)\b(data pipeline|etl|warehouse)\b`)},
	{"security", regexp.MustCompile(`(?i)\b(security|pentest|encryption)\b`)},
	{"gaming", regexp.MustCompile(`(?i)\b(game dev|gaming|game engine)\b`)},
	{"music", regexp.MustCompile(`(?i)\b(music|guitar|piano)\b`)},
	{"cooking", regexp.MustCompile(`(?i)\b(cooking|recipe|baking)\b`)},
}

var expertCues = []string{
	"architect", "lead", "senior", "staff engineer", "principal", "years of experience",
	"expert", "in depth", "performance tuning", "i maintain", "i built",
}

var beginnerCues = []string{
	"learning", "beginner", "new to", "just started", "tutorial", "how do i",
	"first time", "getting started",
}

var conciseCues = []string{"concise", "brief", "short answers", "to the point", "tldr", "summary only"}

var detailedCues = []string{"detailed", "in detail", "explain thoroughly", "step by step", "verbose", "examples please"}

// Builder builds, caches and persists user profiles.
type Builder struct {
	store    registrystore.MemoryStore
	cache    registrycache.KV
	cacheTTL time.Duration
	group    singleflight.Group
}

// NewBuilder wires the profile builder. cache may be unavailable.
func NewBuilder(store registrystore.MemoryStore, cache registrycache.KV, cacheTTL time.Duration) *Builder {
	return &Builder{store: store, cache: cache, cacheTTL: cacheTTL}
}

func cacheKey(userID string) string { return "profile:" + userID }

// Get returns the user's profile, serving the cache when possible and
// building under singleflight otherwise. A nil profile with nil error means
// the user has no T1/T2 memories.
func (b *Builder) Get(ctx context.Context, userID string) (*model.Profile, error) {
	if p, ok := b.cached(ctx, userID); ok {
		return p, nil
	}

	v, err, _ := b.group.Do(userID, func() (any, error) {
		return b.build(ctx, userID)
	})
	if err != nil {
		return nil, err
	}
	return v.(*model.Profile), nil
}

// Invalidate drops the cached profile so the next Get rebuilds it.
func (b *Builder) Invalidate(ctx context.Context, userID string) {
	if b.cache == nil || !b.cache.Available() {
		return
	}
	if err := b.cache.Del(ctx, cacheKey(userID)); err != nil {
		log.Debug("profile cache invalidation failed", "userId", userID, "error", err)
	}
}

func (b *Builder) cached(ctx context.Context, userID string) (*model.Profile, bool) {
	if b.cache == nil || !b.cache.Available() {
		return nil, false
	}
	raw, ok, err := b.cache.Get(ctx, cacheKey(userID))
	if err != nil || !ok {
		if err != nil {
			log.Debug("profile cache get failed", "error", err)
		}
		if security.CacheMissesTotal != nil {
			security.CacheMissesTotal.WithLabelValues("profile").Inc()
		}
		return nil, false
	}
	var p model.Profile
	if jerr := json.Unmarshal(raw, &p); jerr != nil {
		return nil, false
	}
	if security.CacheHitsTotal != nil {
		security.CacheHitsTotal.WithLabelValues("profile").Inc()
	}
	return &p, true
}

// build reads the top memories, derives the profile, caches and persists it.
func (b *Builder) build(ctx context.Context, userID string) (*model.Profile, error) {
	top, err := b.store.TopMemories(ctx, userID, topMemoryLimit)
	if err != nil {
		return nil, err
	}

	var t12 []model.Memory
	for _, m := range top {
		if m.Tier == model.Tier1 || m.Tier == model.Tier2 {
			t12 = append(t12, m)
		}
	}
	if len(t12) == 0 {
		return nil, nil
	}

	p := &model.Profile{
		TechStack:          techStack(t12),
		DomainInterests:    domainInterests(t12),
		ExpertiseLevel:     expertise(t12),
		CommunicationStyle: style(t12),
		MemoryCount:        len(t12),
		GeneratedAt:        time.Now().UTC(),
	}

	b.persist(ctx, userID, p)
	b.cacheSet(ctx, userID, p)
	return p, nil
}

func (b *Builder) persist(ctx context.Context, userID string, p *model.Profile) {
	err := b.store.UpsertUserProfile(ctx, &model.UserProfile{
		UserID:      userID,
		Profile:     p,
		LastUpdated: p.GeneratedAt,
	})
	if err != nil {
		log.Error("profile persist failed", "userId", userID, "error", err)
	}
}

func (b *Builder) cacheSet(ctx context.Context, userID string, p *model.Profile) {
	if b.cache == nil || !b.cache.Available() {
		return
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := b.cache.Set(ctx, cacheKey(userID), raw, b.cacheTTL); err != nil {
		log.Debug("profile cache set failed", "error", err)
	}
}

// techStack ranks technologies by summed priority of the memories that
// mention them.
func techStack(ms []model.Memory) []model.TechStackItem {
	weights := map[string]float64{}
	for _, m := range ms {
		for _, tp := range techPatterns {
			if tp.re.MatchString(m.Content) {
				weights[tp.name] += m.Priority
			}
		}
	}
	var out []model.TechStackItem
	for _, tp := range techPatterns {
		if w, ok := weights[tp.name]; ok {
			out = append(out, model.TechStackItem{Name: tp.name, Weight: w})
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Weight > out[j].Weight })
	return out
}

// domainInterests is T2-only: interests live in preferences, not identity.
func domainInterests(ms []model.Memory) []string {
	var out []string
	seen := map[string]bool{}
	for _, m := range ms {
		if m.Tier != model.Tier2 {
			continue
		}
		for _, dp := range domainPatterns {
			if !seen[dp.name] && dp.re.MatchString(m.Content) {
				seen[dp.name] = true
				out = append(out, dp.name)
			}
		}
	}
	return out
}

// expertise compares expert/beginner cue counts normalized by memory count.
func expertise(ms []model.Memory) string {
	var expert, beginner int
	for _, m := range ms {
		lower := strings.ToLower(m.Content)
		if containsAny(lower, expertCues) {
			expert++
		}
		if containsAny(lower, beginnerCues) {
			beginner++
		}
	}
	n := float64(len(ms))
	switch {
	case float64(expert)/n >= 0.2 && expert > beginner:
		return model.ExpertiseExpert
	case float64(beginner)/n >= 0.2 && beginner > expert:
		return model.ExpertiseBeginner
	default:
		return model.ExpertiseIntermediate
	}
}

// style infers concise vs detailed, but only when enough memories carry a cue.
func style(ms []model.Memory) string {
	var concise, detailed int
	for _, m := range ms {
		lower := strings.ToLower(m.Content)
		if containsAny(lower, conciseCues) {
			concise++
		}
		if containsAny(lower, detailedCues) {
			detailed++
		}
	}
	if concise+detailed < styleMinCues {
		return ""
	}
	if concise >= detailed {
		return model.StyleConcise
	}
	return model.StyleDetailed
}

func containsAny(lower string, cues []string) bool {
	for _, cue := range cues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}
