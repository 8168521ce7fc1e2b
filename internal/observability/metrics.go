package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// All metrics live in the default registry. A binary that never builds still
// exports the builder series with zero values.

// namespace prefixes every metric (bifrost_...).
const namespace = "bifrost"

// buildBuckets covers a few milliseconds for small projects up to a minute.
var buildBuckets = []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60}

var (
	// -------------------------------------------------------------------------
	// CONTROL PLANE (HTTP)
	// -------------------------------------------------------------------------

	// ControlPlaneReqDuration measures the latency of HTTP requests.
	// Metric: bifrost_control_plane_http_handling_seconds
	ControlPlaneReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in the control plane",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "route"})

	// ControlPlaneReqTotal counts HTTP requests by route pattern and status.
	// Metric: bifrost_control_plane_http_requests_total
	ControlPlaneReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in the control plane",
	}, []string{"method", "route", "code"})

	// -------------------------------------------------------------------------
	// BUILDER
	// -------------------------------------------------------------------------

	// BuildDuration measures a full build across all environments.
	// Metric: bifrost_builder_build_duration_seconds
	BuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "builder",
		Name:      "build_duration_seconds",
		Help:      "Time taken to run a build",
		Buckets:   buildBuckets,
	})

	// BuildsTotal counts builds by status (success, invalid, fail).
	BuildsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "builder",
		Name:      "builds_total",
		Help:      "Total builds by status",
	}, []string{"status"})

	// RulesCompiledTotal counts compiled rules by outcome and rebucket reason.
	RulesCompiledTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "builder",
		Name:      "rules_compiled_total",
		Help:      "Total rules compiled by outcome and reason",
	}, []string{"environment", "outcome", "reason"})

	// TruncationsTotal counts rules that asked for more space than their group slot holds.
	TruncationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "builder",
		Name:      "allocation_truncations_total",
		Help:      "Total rules whose allocation was truncated by available capacity",
	}, []string{"environment"})

	// StateRevision exposes the revision of the last saved snapshot per environment.
	StateRevision = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "builder",
		Name:      "state_revision",
		Help:      "Revision of the last saved build state",
	}, []string{"environment"})

	// DatafilesPublishedTotal counts datafiles pushed to Redis.
	DatafilesPublishedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "builder",
		Name:      "datafiles_published_total",
		Help:      "Total datafiles published to Redis",
	}, []string{"environment", "status"})

	// -------------------------------------------------------------------------
	// SYNCER
	// -------------------------------------------------------------------------

	// SyncerChecksTotal counts ticks by result (unchanged, built, skipped, fail).
	SyncerChecksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "syncer",
		Name:      "checks_total",
		Help:      "Total definition checks by result",
	}, []string{"result"})

	// -------------------------------------------------------------------------
	// L1 DATAFILE CACHE (otter)
	// -------------------------------------------------------------------------

	DatafileCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "l1_cache_hits_total",
		Help:      "Total L1 datafile cache hits",
	})

	DatafileCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "l1_cache_misses_total",
		Help:      "Total L1 datafile cache misses",
	})

	// DatafileCacheEvictions tracks entries removed because the cache was full.
	DatafileCacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "l1_cache_evictions_total",
		Help:      "Total L1 datafile cache evictions",
	})

	DatafileCacheItems = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "l1_cache_items_count",
		Help:      "Current number of datafiles in the L1 cache",
	})

	// DatafileInvalidations counts update notifications received over Pub/Sub.
	DatafileInvalidations = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "control_plane",
		Name:      "l1_invalidations_total",
		Help:      "Total L1 invalidations received via Pub/Sub",
	})

	// -------------------------------------------------------------------------
	// CONNECTION POOLS (sampled by RunPoolMonitor)
	// -------------------------------------------------------------------------

	DatabasePoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_connections",
		Help:      "PostgreSQL pool connections by state (total, idle, in_use, max)",
	}, []string{"state"})

	DatabasePoolAcquireCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_count",
		Help:      "Cumulative successful acquires from the PostgreSQL pool",
	})

	DatabasePoolWaitCount = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_empty_acquire_count",
		Help:      "Cumulative acquires that had to wait for a connection",
	})

	RedisPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_connections",
		Help:      "Redis pool connections by state (total, idle, stale)",
	}, []string{"state"})

	RedisPoolEvents = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "redis",
		Name:      "pool_events",
		Help:      "Cumulative Redis pool events by type (hits, misses, timeouts)",
	}, []string{"type"})
)
