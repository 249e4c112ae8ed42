package config

import (
	"context"
	"time"
)

// ListenerConfig holds the network settings for a single listener (main or management).
type ListenerConfig struct {
	Port              int
	ReadHeaderTimeout time.Duration
}

type contextKey struct{}

// WithContext returns a new context carrying the given Config.
func WithContext(ctx context.Context, cfg *Config) context.Context {
	return context.WithValue(ctx, contextKey{}, cfg)
}

// FromContext retrieves the Config from the context.
func FromContext(ctx context.Context) *Config {
	cfg, _ := ctx.Value(contextKey{}).(*Config)
	return cfg
}

const (
	ModeProd    = "prod"
	ModeTesting = "testing"
)

// Config holds all configuration for the memory service.
type Config struct {
	// Mode controls identity enforcement: "prod" (default) or "testing".
	// In testing mode the X-Memory-User header is optional.
	Mode string

	// Database
	DBPath string

	// Run datastore migrations on startup.
	DatastoreMigrateAtStart bool

	// Datastore backend type
	DatastoreType string // "sqlite"

	// Size of the read connection pool. Writes always use one connection.
	DBMaxReadConns int

	// Cache backend type
	CacheType string // "memory", "redis", or "none"

	// Redis (cache and pubsub backends)
	RedisURL string

	// Embedding cache entry TTL.
	EmbeddingCacheTTL time.Duration

	// Profile cache entry TTL.
	ProfileCacheTTL time.Duration

	// Embedding provider type
	EmbedType string // "openai" or "none"

	// OpenAI
	OpenAIAPIKey     string
	OpenAIModelName  string
	OpenAIBaseURL    string
	OpenAIDimensions int

	// Text completion provider type (thread summaries)
	CompleteType string // "openai" or "none"

	// Completion model used for thread summaries.
	OpenAICompletionModel string

	// PubSub backend for research capsule publishing
	PubSubType string // "redis" or "none"

	// Channel research capsule requests are published on.
	ResearchChannel string

	// Cadence thresholds: an audit fires when any of message count, token
	// count or window age crosses, outside the debounce interval.
	CadenceMsgCount      int
	CadenceTokenCount    int
	CadenceWindow        time.Duration
	CadenceDebounce      time.Duration
	CadenceSweepInterval time.Duration
	CadenceIdleExpiry    time.Duration

	// Retention engine run interval.
	RetentionInterval time.Duration

	// Embedding worker
	EmbedWorkerInterval  time.Duration
	EmbedWorkerBatchSize int

	// Recall defaults, used when the request omits the parameters.
	RecallDefaultMaxItems int
	RecallDefaultDeadline time.Duration

	// MetricsLabels is a comma-separated list of key=value pairs added as
	// constant labels to all Prometheus metrics. Values support ${VAR}
	// expansion. Defaults to "service=memoryd".
	MetricsLabels string

	// Server
	Listener           ListenerConfig
	ManagementListener ListenerConfig
	// ManagementListenerEnabled is true when --management-port (or
	// MEMORYD_MANAGEMENT_PORT) was explicitly provided. When false,
	// management endpoints are served on the main port.
	ManagementListenerEnabled bool
	// ManagementAccessLog enables HTTP access logging for management
	// endpoints (/health, /ready, /metrics). Disabled by default to keep
	// probe noise out of the access log.
	ManagementAccessLog bool

	// Body size limit (bytes)
	MaxBodySize int64

	// Graceful shutdown drain timeout (seconds)
	DrainTimeout int
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Mode:                    ModeProd,
		DBPath:                  "memoryd.db",
		DatastoreType:           "sqlite",
		DatastoreMigrateAtStart: true,
		DBMaxReadConns:          4,
		CacheType:               "memory",
		EmbeddingCacheTTL:       time.Hour,
		ProfileCacheTTL:         time.Hour,
		EmbedType:               "none",
		OpenAIModelName:         "text-embedding-3-small",
		OpenAIBaseURL:           "https://api.openai.com/v1",
		OpenAIDimensions:        1536,
		CompleteType:            "none",
		OpenAICompletionModel:   "gpt-4o-mini",
		PubSubType:              "none",
		ResearchChannel:         "memoryd.research",
		CadenceMsgCount:         6,
		CadenceTokenCount:       1500,
		CadenceWindow:           3 * time.Minute,
		CadenceDebounce:         30 * time.Second,
		CadenceSweepInterval:    time.Hour,
		CadenceIdleExpiry:       24 * time.Hour,
		RetentionInterval:       24 * time.Hour,
		EmbedWorkerInterval:     30 * time.Second,
		EmbedWorkerBatchSize:    100,
		RecallDefaultMaxItems:   5,
		RecallDefaultDeadline:   200 * time.Millisecond,
		MetricsLabels:           "service=memoryd",
		Listener: ListenerConfig{
			Port:              8080,
			ReadHeaderTimeout: 5 * time.Second,
		},
		MaxBodySize:  1 << 20, // 1 MB; event and memory bodies are small
		DrainTimeout: 30,
	}
}
