package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Query metrics
	QueriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mygram_queries_total",
			Help: "Total number of queries by command and status",
		},
		[]string{"command", "status"},
	)

	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mygram_query_duration_seconds",
			Help:    "Query duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"command"},
	)

	// Table metrics
	DocumentsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygram_documents_total",
			Help: "Mirrored documents per table",
		},
		[]string{"table"},
	)

	TermsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygram_terms_total",
			Help: "Distinct index terms per table",
		},
		[]string{"table"},
	)

	MemoryBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "mygram_memory_bytes",
			Help: "Estimated memory usage per table and structure",
		},
		[]string{"table", "structure"},
	)

	// Cache metrics
	CacheHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mygram_cache_hits_total",
			Help: "Query cache hits",
		},
	)

	CacheMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mygram_cache_misses_total",
			Help: "Query cache misses",
		},
	)

	CacheEvictionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mygram_cache_evictions_total",
			Help: "Query cache LRU evictions",
		},
	)

	CacheEntries = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mygram_cache_entries",
			Help: "Live query cache entries",
		},
	)

	// Replication metrics
	ReplicationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mygram_replication_events_total",
			Help: "Applied binlog events by kind",
		},
		[]string{"kind"},
	)

	ReplicationRunning = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mygram_replication_running",
			Help: "Whether the binlog follower is running (1 = running)",
		},
	)

	// Connection metrics
	ConnectionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "mygram_connections_active",
			Help: "Active TCP connections",
		},
	)

	RequestsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "mygram_requests_total",
			Help: "Total TCP protocol requests",
		},
	)
)

// Register registers all metrics with the default registry.
func Register() {
	prometheus.MustRegister(
		QueriesTotal,
		QueryDuration,
		DocumentsTotal,
		TermsTotal,
		MemoryBytes,
		CacheHitsTotal,
		CacheMissesTotal,
		CacheEvictionsTotal,
		CacheEntries,
		ReplicationEventsTotal,
		ReplicationRunning,
		ConnectionsActive,
		RequestsTotal,
	)
}

// Handler returns the Prometheus exposition handler (text format v0.0.4).
func Handler() http.Handler {
	return promhttp.Handler()
}
