package security

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// StoreLatency is recorded by the store metrics wrapper per operation.
	StoreLatency *prometheus.HistogramVec

	// CacheHitsTotal / CacheMissesTotal cover the embedding and profile caches.
	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec

	// Job queue counters, labeled by job type.
	JobsProcessed     *prometheus.CounterVec
	JobsFailed        *prometheus.CounterVec
	JobLatencySeconds *prometheus.HistogramVec
	JobQueueDepth     prometheus.Gauge

	// Recall pipeline.
	RecallDuration *prometheus.HistogramVec
	RecallTimeouts prometheus.Counter

	// Audit pipeline.
	AuditsTotal       prometheus.Counter
	MemoriesSaved     *prometheus.CounterVec
	MemoriesRejected  *prometheus.CounterVec
	EmbeddingRequests *prometheus.CounterVec
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseMetricsLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseMetricsLabels(s string) (prometheus.Labels, error) {
	s = os.Expand(s, os.Getenv)
	if s == "" {
		return nil, nil
	}
	labels := prometheus.Labels{}
	for _, pair := range strings.Split(s, ",") {
		idx := strings.IndexByte(pair, '=')
		if idx < 0 {
			return nil, fmt.Errorf("invalid label %q: expected key=value", pair)
		}
		k, v := pair[:idx], pair[idx+1:]
		if !validLabelKey.MatchString(k) {
			return nil, fmt.Errorf("invalid label key %q: must match [a-zA-Z_][a-zA-Z0-9_]*", k)
		}
		labels[k] = v
	}
	return labels, nil
}

var initMetricsOnce sync.Once

// InitMetrics registers all Prometheus metrics with the given constant labels.
// Must be called before starting the HTTP server or any subsystem that records
// metrics. Safe to call multiple times; only the first call registers.
func InitMetrics(constLabels prometheus.Labels) {
	initMetricsOnce.Do(func() {
		initMetricsInner(constLabels)
	})
}

func initMetricsInner(constLabels prometheus.Labels) {
	reg := prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer)
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "memoryd_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memoryd_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	StoreLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "memoryd_store_latency_seconds",
			Help:    "Store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	CacheHitsTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_cache_hits_total",
		Help: "Total cache hits",
	}, []string{"cache"})

	CacheMissesTotal = f.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_cache_misses_total",
		Help: "Total cache misses",
	}, []string{"cache"})

	JobsProcessed = f.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_jobs_processed_total",
		Help: "Jobs completed successfully",
	}, []string{"type"})

	JobsFailed = f.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_jobs_failed_total",
		Help: "Jobs that exhausted their retries",
	}, []string{"type"})

	JobLatencySeconds = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "memoryd_job_latency_seconds",
		Help:    "Job handler latency in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	JobQueueDepth = f.NewGauge(prometheus.GaugeOpts{
		Name: "memoryd_job_queue_depth",
		Help: "Jobs queued plus staged",
	})

	RecallDuration = f.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "memoryd_recall_duration_seconds",
		Help:    "Recall pipeline duration in seconds",
		Buckets: []float64{.005, .01, .025, .05, .1, .2, .3, .5},
	}, []string{"searchType"})

	RecallTimeouts = f.NewCounter(prometheus.CounterOpts{
		Name: "memoryd_recall_timeouts_total",
		Help: "Recalls that hit their deadline",
	})

	AuditsTotal = f.NewCounter(prometheus.CounterOpts{
		Name: "memoryd_audits_total",
		Help: "Audit runs completed",
	})

	MemoriesSaved = f.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_memories_saved_total",
		Help: "Memories created or superceded",
	}, []string{"outcome"})

	MemoriesRejected = f.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_memories_rejected_total",
		Help: "Save candidates rejected",
	}, []string{"reason"})

	EmbeddingRequests = f.NewCounterVec(prometheus.CounterOpts{
		Name: "memoryd_embedding_requests_total",
		Help: "Embedding provider calls",
	}, []string{"result"})
}

// MetricsMiddleware records HTTP request metrics for Prometheus.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if httpRequestsTotal == nil {
			c.Next()
			return
		}
		start := time.Now()
		c.Next()
		duration := time.Since(start)

		httpRequestsTotal.WithLabelValues(c.Request.Method, strconv.Itoa(c.Writer.Status())).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method).Observe(duration.Seconds())
	}
}
