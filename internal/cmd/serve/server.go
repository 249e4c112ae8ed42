package serve

import (
	"context"
	"fmt"
	"net"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"

	"github.com/mranderson01901234/5.0-sub004/internal/cadence"
	"github.com/mranderson01901234/5.0-sub004/internal/config"
	"github.com/mranderson01901234/5.0-sub004/internal/embedding"
	"github.com/mranderson01901234/5.0-sub004/internal/engine"
	"github.com/mranderson01901234/5.0-sub004/internal/jobs"
	"github.com/mranderson01901234/5.0-sub004/internal/plugin/route/admin"
	"github.com/mranderson01901234/5.0-sub004/internal/plugin/route/conversations"
	"github.com/mranderson01901234/5.0-sub004/internal/plugin/route/events"
	"github.com/mranderson01901234/5.0-sub004/internal/plugin/route/memories"
	"github.com/mranderson01901234/5.0-sub004/internal/plugin/route/profiles"
	recallroute "github.com/mranderson01901234/5.0-sub004/internal/plugin/route/recall"
	routesystem "github.com/mranderson01901234/5.0-sub004/internal/plugin/route/system"
	storemetrics "github.com/mranderson01901234/5.0-sub004/internal/plugin/store/metrics"
	"github.com/mranderson01901234/5.0-sub004/internal/profile"
	"github.com/mranderson01901234/5.0-sub004/internal/recall"
	registrycache "github.com/mranderson01901234/5.0-sub004/internal/registry/cache"
	registrycomplete "github.com/mranderson01901234/5.0-sub004/internal/registry/complete"
	registryembed "github.com/mranderson01901234/5.0-sub004/internal/registry/embed"
	registrymigrate "github.com/mranderson01901234/5.0-sub004/internal/registry/migrate"
	registrypubsub "github.com/mranderson01901234/5.0-sub004/internal/registry/pubsub"
	registryroute "github.com/mranderson01901234/5.0-sub004/internal/registry/route"
	registrystore "github.com/mranderson01901234/5.0-sub004/internal/registry/store"
	"github.com/mranderson01901234/5.0-sub004/internal/security"
	"github.com/mranderson01901234/5.0-sub004/internal/service"
)

// Server holds the running server and its subsystems.
type Server struct {
	Config          *config.Config
	Store           registrystore.MemoryStore
	Router          *gin.Engine
	Queue           *jobs.Queue
	Addr            net.Addr
	closeMain       func(context.Context) error
	closeManagement func(context.Context) error
}

// Shutdown stops accepting requests, drains the job queue, and closes the
// store.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.closeManagement != nil {
		_ = s.closeManagement(ctx)
	}
	var firstErr error
	if s.closeMain != nil {
		firstErr = s.closeMain(ctx)
	}
	if err := s.Queue.Drain(ctx); err != nil && firstErr == nil {
		firstErr = err
	}
	if err := s.Store.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

// StartServer initializes all subsystems and starts the HTTP server.
// Use cfg.Listener.Port=0 for a random port. Actual address: Server.Addr.
func StartServer(ctx context.Context, cfg *config.Config) (*Server, error) {
	log.Info("Starting memoryd",
		"port", cfg.Listener.Port,
		"db", cfg.DatastoreType,
		"cache", cfg.CacheType,
		"embedding", cfg.EmbedType,
		"completion", cfg.CompleteType,
		"pubsub", cfg.PubSubType,
	)

	// Initialize Prometheus metrics with configured constant labels.
	metricsLabels, err := security.ParseMetricsLabels(cfg.MetricsLabels)
	if err != nil {
		return nil, fmt.Errorf("invalid --metrics-labels: %w", err)
	}
	security.InitMetrics(metricsLabels)

	// Run migrations
	if cfg.DatastoreMigrateAtStart {
		if err := registrymigrate.RunAll(ctx); err != nil {
			return nil, fmt.Errorf("migrations failed: %w", err)
		}
	}

	// Initialize the cache backend. Cache trouble is never fatal; the
	// embedding and profile layers treat every lookup as best-effort.
	kv := loadCache(ctx, cfg)

	// Initialize store
	storeLoader, err := registrystore.Select(cfg.DatastoreType)
	if err != nil {
		return nil, err
	}
	store, err := storeLoader(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}
	store = storemetrics.Wrap(store)

	// Embedding provider behind the cache and circuit breaker.
	embedder := loadEmbedder(ctx, cfg)
	embSvc := embedding.NewService(embedder, kv, store, cfg.EmbeddingCacheTTL)

	// Core engines.
	profileBuilder := profile.NewBuilder(store, kv, cfg.ProfileCacheTTL)
	eng := engine.New(store, embSvc, profileBuilder)
	rec := recall.New(store, embSvc)

	// Job queue and its handlers.
	queue := jobs.New()

	// A broken FTS index repairs itself: the keyword pass falls back to
	// LIKE and a rebuild lands on the write-batch lane.
	rec.OnFTSError = func(userID string) {
		queue.Enqueue(jobs.TypeWriteBatch, &service.RebuildFTSPayload{UserID: userID})
	}

	tracker := cadence.NewTracker(cfg)

	var completer registrycomplete.Completer
	if loader, err := registrycomplete.Select(cfg.CompleteType); err != nil {
		log.Warn("Completion provider not available", "kind", cfg.CompleteType, "err", err)
	} else if completer, err = loader(ctx); err != nil {
		log.Warn("Failed to initialize completion provider", "kind", cfg.CompleteType, "err", err)
		completer = nil
	}
	summarizer := service.NewSummarizer(completer, store)

	auditor := service.NewAuditor(eng, store, tracker, summarizer)
	queue.Register(jobs.TypeAudit, auditor.Handle)

	bus := loadPubSub(ctx, cfg)
	publisher := service.NewResearchPublisher(bus, cfg.ResearchChannel)
	queue.Register(jobs.TypeResearch, publisher.Handle)

	writeBatch := service.NewWriteBatchHandler(store)
	queue.Register(jobs.TypeWriteBatch, writeBatch.Handle)

	queue.Start(ctx)

	// Background services.
	go tracker.StartSweeper(ctx)

	retention := service.NewRetention(store, cfg.RetentionInterval)
	go retention.Start(ctx)

	embedWorker := service.NewEmbedWorker(store, embSvc, cfg.EmbedWorkerInterval, cfg.EmbedWorkerBatchSize)
	go embedWorker.Start(ctx)

	// Set up gin
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	if cfg.ManagementAccessLog {
		router.Use(security.AccessLogMiddleware())
	} else {
		router.Use(security.AccessLogMiddleware("/health", "/ready", "/metrics"))
	}
	router.Use(security.MetricsMiddleware())
	router.Use(maxBodySizeMiddleware(cfg.MaxBodySize))

	// Mount main route plugins on the main router.
	for _, loader := range registryroute.MainRouteLoaders() {
		if err := loader(router); err != nil {
			return nil, fmt.Errorf("failed to load routes: %w", err)
		}
	}

	auth := security.IdentityMiddleware(cfg)

	events.MountRoutes(router, tracker, queue, auth)
	memories.MountRoutes(router, eng, auth)
	recallroute.MountRoutes(router, rec, cfg, auth)
	conversations.MountRoutes(router, store, auth)
	profiles.MountRoutes(router, profileBuilder, auth)
	admin.MountRoutes(router, store, queue, eng, auth)

	// Mount management route plugins. If a dedicated management port is
	// configured, run them on a bare gin engine served by the management
	// server. Otherwise, mount them on the main router so single-port
	// behaviour is unchanged.
	var closeManagement func(context.Context) error
	if cfg.ManagementListenerEnabled {
		mgmtRouter := gin.New()
		mgmtRouter.Use(gin.Recovery())
		if cfg.ManagementAccessLog {
			mgmtRouter.Use(security.AccessLogMiddleware())
		}
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(mgmtRouter); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
		mgmtAddr, closeFn, err := startHTTPServer(cfg.ManagementListener, mgmtRouter)
		if err != nil {
			return nil, fmt.Errorf("failed to start management server: %w", err)
		}
		log.Info("Management server listening", "addr", mgmtAddr)
		closeManagement = closeFn
	} else {
		for _, loader := range registryroute.ManagementRouteLoaders() {
			if err := loader(router); err != nil {
				return nil, fmt.Errorf("failed to load management routes: %w", err)
			}
		}
	}

	addr, closeMain, err := startHTTPServer(cfg.Listener, router)
	if err != nil {
		return nil, err
	}

	log.Info("Server listening", "addr", addr, "mode", cfg.Mode)

	routesystem.MarkReady()
	return &Server{
		Config:          cfg,
		Store:           store,
		Router:          router,
		Queue:           queue,
		Addr:            addr,
		closeMain:       closeMain,
		closeManagement: closeManagement,
	}, nil
}

// loadCache resolves the configured cache backend, falling back to the
// no-op backend when it cannot be initialized.
func loadCache(ctx context.Context, cfg *config.Config) registrycache.KV {
	loader, err := registrycache.Select(cfg.CacheType)
	if err != nil {
		log.Warn("Cache not available", "cache", cfg.CacheType, "err", err)
		return noopCache(ctx)
	}
	kv, err := loader(ctx)
	if err != nil {
		log.Warn("Failed to initialize cache", "cache", cfg.CacheType, "err", err)
		return noopCache(ctx)
	}
	return kv
}

func noopCache(ctx context.Context) registrycache.KV {
	loader, err := registrycache.Select("none")
	if err != nil {
		panic("noop cache plugin not registered")
	}
	kv, _ := loader(ctx)
	return kv
}

// loadEmbedder resolves the configured embedding provider, falling back to
// the disabled provider so the service degrades to keyword-only recall.
func loadEmbedder(ctx context.Context, cfg *config.Config) registryembed.Embedder {
	loader, err := registryembed.Select(cfg.EmbedType)
	if err != nil {
		log.Warn("Embedder not available", "kind", cfg.EmbedType, "err", err)
		return disabledEmbedder(ctx)
	}
	embedder, err := loader(ctx)
	if err != nil {
		log.Warn("Failed to initialize embedder", "kind", cfg.EmbedType, "err", err)
		return disabledEmbedder(ctx)
	}
	return embedder
}

func disabledEmbedder(ctx context.Context) registryembed.Embedder {
	loader, err := registryembed.Select("none")
	if err != nil {
		panic("disabled embedder plugin not registered")
	}
	embedder, _ := loader(ctx)
	return embedder
}

// loadPubSub resolves the configured pubsub backend, falling back to the
// no-op backend that drops research requests.
func loadPubSub(ctx context.Context, cfg *config.Config) registrypubsub.PubSub {
	loader, err := registrypubsub.Select(cfg.PubSubType)
	if err != nil {
		log.Warn("PubSub not available", "kind", cfg.PubSubType, "err", err)
		return noopPubSub(ctx)
	}
	bus, err := loader(ctx)
	if err != nil {
		log.Warn("Failed to initialize pubsub", "kind", cfg.PubSubType, "err", err)
		return noopPubSub(ctx)
	}
	return bus
}

func noopPubSub(ctx context.Context) registrypubsub.PubSub {
	loader, err := registrypubsub.Select("none")
	if err != nil {
		panic("noop pubsub plugin not registered")
	}
	bus, _ := loader(ctx)
	return bus
}

func maxBodySizeMiddleware(maxBodySize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBodySize)
		c.Next()
	}
}
