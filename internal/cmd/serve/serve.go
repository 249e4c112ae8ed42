package serve

import (
	"context"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/urfave/cli/v3"

	"github.com/mranderson01901234/5.0-sub004/internal/config"
	registrycache "github.com/mranderson01901234/5.0-sub004/internal/registry/cache"
	registrycomplete "github.com/mranderson01901234/5.0-sub004/internal/registry/complete"
	registryembed "github.com/mranderson01901234/5.0-sub004/internal/registry/embed"
	registrypubsub "github.com/mranderson01901234/5.0-sub004/internal/registry/pubsub"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"

	// Import all plugins to trigger init() registration
	_ "github.com/mranderson01901234/5.0-sub004/internal/plugin/cache/memory"
	_ "github.com/mranderson01901234/5.0-sub004/internal/plugin/cache/noop"
	_ "github.com/mranderson01901234/5.0-sub004/internal/plugin/cache/redis"
	_ "github.com/mranderson01901234/5.0-sub004/internal/plugin/complete/disabled"
	_ "github.com/mranderson01901234/5.0-sub004/internal/plugin/complete/openai"
	_ "github.com/mranderson01901234/5.0-sub004/internal/plugin/embed/disabled"
	_ "github.com/mranderson01901234/5.0-sub004/internal/plugin/embed/openai"
	_ "github.com/mranderson01901234/5.0-sub004/internal/plugin/pubsub/noop"
	_ "github.com/mranderson01901234/5.0-sub004/internal/plugin/pubsub/redis"
	_ "github.com/mranderson01901234/5.0-sub004/internal/plugin/route/system"
	_ "github.com/mranderson01901234/5.0-sub004/internal/plugin/store/sqlite"
)

// Command returns the serve sub-command.
func Command() *cli.Command {
	cfg := config.DefaultConfig()
	var readHeaderTimeoutSecs int = 5
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the memory daemon HTTP server",
		Flags: flags(&cfg, &readHeaderTimeoutSecs),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg.Listener.ReadHeaderTimeout = time.Duration(readHeaderTimeoutSecs) * time.Second
			cfg.ManagementListener.ReadHeaderTimeout = cfg.Listener.ReadHeaderTimeout
			cfg.ManagementListenerEnabled = cmd.IsSet("management-port")
			return run(config.WithContext(ctx, &cfg), cfg)
		},
	}
}

func flags(cfg *config.Config, readHeaderTimeoutSecs *int) []cli.Flag {
	return []cli.Flag{

		// ── Server ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "mode",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORYD_MODE"),
			Destination: &cfg.Mode,
			Value:       cfg.Mode,
			Usage:       "Identity enforcement mode (prod|testing); testing makes X-Memory-User optional",
		},
		&cli.IntFlag{
			Name:        "port",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORYD_PORT"),
			Destination: &cfg.Listener.Port,
			Value:       cfg.Listener.Port,
			Usage:       "HTTP server port",
		},
		&cli.IntFlag{
			Name:        "management-port",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORYD_MANAGEMENT_PORT"),
			Destination: &cfg.ManagementListener.Port,
			Value:       cfg.ManagementListener.Port,
			Usage:       "Dedicated port for health and metrics (0 = OS-assigned random port); when unset, served on the main port",
		},
		&cli.BoolFlag{
			Name:        "management-access-log",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORYD_MANAGEMENT_ACCESS_LOG"),
			Destination: &cfg.ManagementAccessLog,
			Usage:       "Enable HTTP access logging for management endpoints (/health, /ready, /metrics)",
		},
		&cli.IntFlag{
			Name:        "read-header-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORYD_READ_HEADER_TIMEOUT_SECONDS"),
			Destination: readHeaderTimeoutSecs,
			Value:       *readHeaderTimeoutSecs,
			Usage:       "HTTP read header timeout in seconds",
		},
		&cli.IntFlag{
			Name:        "drain-timeout-seconds",
			Category:    "Server:",
			Sources:     cli.EnvVars("MEMORYD_DRAIN_TIMEOUT_SECONDS"),
			Destination: &cfg.DrainTimeout,
			Value:       cfg.DrainTimeout,
			Usage:       "Seconds to wait for in-flight requests and queued jobs at shutdown",
		},

		// ── Database ───────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "db-kind",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORYD_DB_KIND"),
			Destination: &cfg.DatastoreType,
			Value:       cfg.DatastoreType,
			Usage:       "Backend store (" + strings.Join(registrystore.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "db-path",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORYD_DB_PATH"),
			Destination: &cfg.DBPath,
			Value:       cfg.DBPath,
			Usage:       "SQLite database file path",
		},
		&cli.IntFlag{
			Name:        "db-max-read-conns",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORYD_DB_MAX_READ_CONNS"),
			Destination: &cfg.DBMaxReadConns,
			Value:       cfg.DBMaxReadConns,
			Usage:       "Size of the read connection pool; writes always use a single connection",
		},
		&cli.BoolFlag{
			Name:        "db-migrate-at-start",
			Category:    "Database:",
			Sources:     cli.EnvVars("MEMORYD_DB_MIGRATE_AT_START"),
			Destination: &cfg.DatastoreMigrateAtStart,
			Value:       cfg.DatastoreMigrateAtStart,
			Usage:       "Run datastore migrations on startup",
		},

		// ── Cache ─────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "cache-kind",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORYD_CACHE_KIND"),
			Destination: &cfg.CacheType,
			Value:       cfg.CacheType,
			Usage:       "Cache backend (" + strings.Join(registrycache.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "redis-url",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORYD_REDIS_URL"),
			Destination: &cfg.RedisURL,
			Usage:       "Redis connection URL (cache and pubsub backends)",
		},
		&cli.DurationFlag{
			Name:        "embedding-cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORYD_EMBEDDING_CACHE_TTL"),
			Destination: &cfg.EmbeddingCacheTTL,
			Value:       cfg.EmbeddingCacheTTL,
			Usage:       "TTL for cached embedding vectors",
		},
		&cli.DurationFlag{
			Name:        "profile-cache-ttl",
			Category:    "Cache:",
			Sources:     cli.EnvVars("MEMORYD_PROFILE_CACHE_TTL"),
			Destination: &cfg.ProfileCacheTTL,
			Value:       cfg.ProfileCacheTTL,
			Usage:       "TTL for cached user profiles",
		},

		// ── Embedding ─────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "embedding-kind",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMORYD_EMBEDDING_KIND"),
			Destination: &cfg.EmbedType,
			Value:       cfg.EmbedType,
			Usage:       "Embedding provider (" + strings.Join(registryembed.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "openai-api-key",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMORYD_OPENAI_API_KEY", "OPENAI_API_KEY"),
			Destination: &cfg.OpenAIAPIKey,
			Usage:       "OpenAI API key",
		},
		&cli.StringFlag{
			Name:        "openai-model",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMORYD_OPENAI_MODEL"),
			Destination: &cfg.OpenAIModelName,
			Value:       cfg.OpenAIModelName,
			Usage:       "OpenAI embedding model name",
		},
		&cli.StringFlag{
			Name:        "openai-base-url",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMORYD_OPENAI_BASE_URL"),
			Destination: &cfg.OpenAIBaseURL,
			Value:       cfg.OpenAIBaseURL,
			Usage:       "OpenAI-compatible API base URL",
		},
		&cli.IntFlag{
			Name:        "openai-dimensions",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMORYD_OPENAI_DIMENSIONS"),
			Destination: &cfg.OpenAIDimensions,
			Value:       cfg.OpenAIDimensions,
			Usage:       "Embedding vector dimensionality",
		},
		&cli.DurationFlag{
			Name:        "embed-worker-interval",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMORYD_EMBED_WORKER_INTERVAL"),
			Destination: &cfg.EmbedWorkerInterval,
			Value:       cfg.EmbedWorkerInterval,
			Usage:       "Background embedding worker drain interval",
		},
		&cli.IntFlag{
			Name:        "embed-worker-batch-size",
			Category:    "Embedding:",
			Sources:     cli.EnvVars("MEMORYD_EMBED_WORKER_BATCH_SIZE"),
			Destination: &cfg.EmbedWorkerBatchSize,
			Value:       cfg.EmbedWorkerBatchSize,
			Usage:       "Queued items embedded per worker tick",
		},

		// ── Completion ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "completion-kind",
			Category:    "Completion:",
			Sources:     cli.EnvVars("MEMORYD_COMPLETION_KIND"),
			Destination: &cfg.CompleteType,
			Value:       cfg.CompleteType,
			Usage:       "Text completion provider for thread summaries (" + strings.Join(registrycomplete.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "openai-completion-model",
			Category:    "Completion:",
			Sources:     cli.EnvVars("MEMORYD_OPENAI_COMPLETION_MODEL"),
			Destination: &cfg.OpenAICompletionModel,
			Value:       cfg.OpenAICompletionModel,
			Usage:       "Completion model used for thread summaries",
		},

		// ── PubSub ────────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "pubsub-kind",
			Category:    "PubSub:",
			Sources:     cli.EnvVars("MEMORYD_PUBSUB_KIND"),
			Destination: &cfg.PubSubType,
			Value:       cfg.PubSubType,
			Usage:       "Research request publisher (" + strings.Join(registrypubsub.Names(), "|") + ")",
		},
		&cli.StringFlag{
			Name:        "research-channel",
			Category:    "PubSub:",
			Sources:     cli.EnvVars("MEMORYD_RESEARCH_CHANNEL"),
			Destination: &cfg.ResearchChannel,
			Value:       cfg.ResearchChannel,
			Usage:       "Channel research requests are published on",
		},

		// ── Cadence ───────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "cadence-message-count",
			Category:    "Cadence:",
			Sources:     cli.EnvVars("MEMORYD_CADENCE_MESSAGE_COUNT"),
			Destination: &cfg.CadenceMsgCount,
			Value:       cfg.CadenceMsgCount,
			Usage:       "Buffered messages that trigger an audit",
		},
		&cli.IntFlag{
			Name:        "cadence-token-count",
			Category:    "Cadence:",
			Sources:     cli.EnvVars("MEMORYD_CADENCE_TOKEN_COUNT"),
			Destination: &cfg.CadenceTokenCount,
			Value:       cfg.CadenceTokenCount,
			Usage:       "Buffered tokens that trigger an audit",
		},
		&cli.DurationFlag{
			Name:        "cadence-window",
			Category:    "Cadence:",
			Sources:     cli.EnvVars("MEMORYD_CADENCE_WINDOW"),
			Destination: &cfg.CadenceWindow,
			Value:       cfg.CadenceWindow,
			Usage:       "Window age that triggers an audit",
		},
		&cli.DurationFlag{
			Name:        "cadence-debounce",
			Category:    "Cadence:",
			Sources:     cli.EnvVars("MEMORYD_CADENCE_DEBOUNCE"),
			Destination: &cfg.CadenceDebounce,
			Value:       cfg.CadenceDebounce,
			Usage:       "Minimum interval between audits of the same thread",
		},
		&cli.DurationFlag{
			Name:        "cadence-sweep-interval",
			Category:    "Cadence:",
			Sources:     cli.EnvVars("MEMORYD_CADENCE_SWEEP_INTERVAL"),
			Destination: &cfg.CadenceSweepInterval,
			Value:       cfg.CadenceSweepInterval,
			Usage:       "How often idle thread state is swept",
		},
		&cli.DurationFlag{
			Name:        "cadence-idle-expiry",
			Category:    "Cadence:",
			Sources:     cli.EnvVars("MEMORYD_CADENCE_IDLE_EXPIRY"),
			Destination: &cfg.CadenceIdleExpiry,
			Value:       cfg.CadenceIdleExpiry,
			Usage:       "Idle age after which thread state is dropped",
		},

		// ── Retention ─────────────────────────────────────────────
		&cli.DurationFlag{
			Name:        "retention-interval",
			Category:    "Retention:",
			Sources:     cli.EnvVars("MEMORYD_RETENTION_INTERVAL"),
			Destination: &cfg.RetentionInterval,
			Value:       cfg.RetentionInterval,
			Usage:       "Interval between retention runs (TTL expiry, decay, tier moves)",
		},

		// ── Recall ────────────────────────────────────────────────
		&cli.IntFlag{
			Name:        "recall-default-max-items",
			Category:    "Recall:",
			Sources:     cli.EnvVars("MEMORYD_RECALL_DEFAULT_MAX_ITEMS"),
			Destination: &cfg.RecallDefaultMaxItems,
			Value:       cfg.RecallDefaultMaxItems,
			Usage:       "Default maxItems when the request omits it",
		},
		&cli.DurationFlag{
			Name:        "recall-default-deadline",
			Category:    "Recall:",
			Sources:     cli.EnvVars("MEMORYD_RECALL_DEFAULT_DEADLINE"),
			Destination: &cfg.RecallDefaultDeadline,
			Value:       cfg.RecallDefaultDeadline,
			Usage:       "Default deadline when the request omits it",
		},

		// ── Monitoring ────────────────────────────────────────────
		&cli.StringFlag{
			Name:        "metrics-labels",
			Category:    "Monitoring:",
			Sources:     cli.EnvVars("MEMORYD_METRICS_LABELS"),
			Destination: &cfg.MetricsLabels,
			Value:       cfg.MetricsLabels,
			Usage:       "Comma-separated key=value pairs added as constant labels to all Prometheus metrics. Supports ${VAR} expansion.",
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	srv, err := StartServer(ctx, &cfg)
	if err != nil {
		return err
	}

	<-ctx.Done()
	log.Info("Shutting down...")

	drainCtx, drainCancel := context.WithTimeout(context.Background(), time.Duration(cfg.DrainTimeout)*time.Second)
	defer drainCancel()
	if err := srv.Shutdown(drainCtx); err != nil {
		log.Error("Shutdown error", "err", err)
	}
	log.Info("Server stopped")
	return nil
}
