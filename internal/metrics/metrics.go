package metrics

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

	migrationRunsTotal      *prometheus.CounterVec
	migrationRecordsCopied  prometheus.Counter
	migrationSourcesDeleted prometheus.Counter
	migrationState          prometheus.Gauge

	embedCacheHits   prometheus.Counter
	embedCacheMisses prometheus.Counter

	storeLatency       *prometheus.HistogramVec
	dbPoolOpenConns    prometheus.Gauge
	dbPoolMaxOpenConns prometheus.Gauge
)

var validLabelKey = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ParseLabels parses a comma-separated list of key=value pairs into
// Prometheus labels. Values support ${VAR} / $VAR environment variable expansion.
// Label values may not contain commas. Returns nil for an empty string.
func ParseLabels(s string) (prometheus.Labels, error) {
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

var initOnce sync.Once

// Init registers all Prometheus metrics with the given constant labels.
// Recording functions are no-ops until Init has run. Safe to call multiple
// times; only the first call registers.
func Init(constLabels prometheus.Labels) {
	initOnce.Do(func() {
		initInner(prometheus.WrapRegistererWith(constLabels, prometheus.DefaultRegisterer))
	})
}

func initInner(reg prometheus.Registerer) {
	f := promauto.With(reg)

	httpRequestsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_memory_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	httpRequestDuration = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_memory_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	migrationRunsTotal = f.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chat_memory_migration_runs_total",
			Help: "Memory migration runs by outcome",
		},
		[]string{"outcome"},
	)

	migrationRecordsCopied = f.NewCounter(prometheus.CounterOpts{
		Name: "chat_memory_migration_records_copied_total",
		Help: "Legacy memory records copied into the consolidated index",
	})

	migrationSourcesDeleted = f.NewCounter(prometheus.CounterOpts{
		Name: "chat_memory_migration_sources_deleted_total",
		Help: "Document memory source tracking records deleted by the migration",
	})

	migrationState = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_memory_migration_state",
		Help: "Current migration state (0 idle, 1 claiming, 2 migrating, 3 completed, 4 skipped, 5 failed)",
	})

	embedCacheHits = f.NewCounter(prometheus.CounterOpts{
		Name: "chat_memory_embed_cache_hits_total",
		Help: "Total embedding cache hits",
	})

	embedCacheMisses = f.NewCounter(prometheus.CounterOpts{
		Name: "chat_memory_embed_cache_misses_total",
		Help: "Total embedding cache misses",
	})

	storeLatency = f.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "chat_memory_store_operation_seconds",
			Help:    "Chat store operation latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	dbPoolOpenConns = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_memory_db_pool_open_connections",
		Help: "Open connections in the chat store database pool",
	})

	dbPoolMaxOpenConns = f.NewGauge(prometheus.GaugeOpts{
		Name: "chat_memory_db_pool_max_connections",
		Help: "Configured maximum connections of the chat store database pool",
	})
}

// ObserveStoreLatency records how long a chat store operation took.
func ObserveStoreLatency(op string, start time.Time) {
	if storeLatency != nil {
		storeLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}
}

// SetDBPool records the database pool size.
func SetDBPool(open, max int) {
	if dbPoolOpenConns == nil {
		return
	}
	dbPoolOpenConns.Set(float64(open))
	dbPoolMaxOpenConns.Set(float64(max))
}

// ObserveMigrationRun counts a finished migration run.
func ObserveMigrationRun(outcome string) {
	if migrationRunsTotal != nil {
		migrationRunsTotal.WithLabelValues(outcome).Inc()
	}
}

// AddRecordsCopied adds n to the copied-records counter.
func AddRecordsCopied(n int) {
	if migrationRecordsCopied != nil && n > 0 {
		migrationRecordsCopied.Add(float64(n))
	}
}

// AddSourcesDeleted adds n to the deleted-sources counter.
func AddSourcesDeleted(n int) {
	if migrationSourcesDeleted != nil && n > 0 {
		migrationSourcesDeleted.Add(float64(n))
	}
}

// SetMigrationState records the numeric migration state.
func SetMigrationState(state int) {
	if migrationState != nil {
		migrationState.Set(float64(state))
	}
}

// ObserveEmbedCache counts an embedding cache lookup.
func ObserveEmbedCache(hit bool) {
	if hit {
		if embedCacheHits != nil {
			embedCacheHits.Inc()
		}
		return
	}
	if embedCacheMisses != nil {
		embedCacheMisses.Inc()
	}
}

// Middleware records HTTP request metrics for Prometheus.
func Middleware() gin.HandlerFunc {
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
