// Package observability exposes Prometheus metrics for the event log,
// projections, bridge, and HTTP surface.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Collector holds all Prometheus metrics for the application
type Collector struct {
	registry *prometheus.Registry

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPDuration *prometheus.HistogramVec

	// Event log metrics
	EventsAppended   *prometheus.CounterVec
	AppendConflicts  prometheus.Counter
	FetchesStarted   prometheus.Counter
	FetchesPartial   prometheus.Counter
	ChainCorruptions *prometheus.CounterVec

	// Snapshot metrics
	SnapshotsWritten  prometheus.Counter
	SnapshotFallbacks prometheus.Counter

	// Projection metrics
	ProjectionApplied  prometheus.Counter
	ProjectionRebuilds prometheus.Counter
	ProjectionLag      prometheus.Gauge

	// Bridge metrics
	BridgeCommands      prometheus.Counter
	BridgeEventsDropped prometheus.Counter

	// Publication metrics
	PublishFailures prometheus.Counter

	// Cache metrics
	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter
}

// NewCollector creates a metrics collector with its own registry
func NewCollector(namespace string) *Collector {
	registry := prometheus.NewRegistry()

	c := &Collector{
		registry: registry,

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests",
			},
			[]string{"method", "route", "status"},
		),
		HTTPDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "route"},
		),

		EventsAppended: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "events_appended_total",
				Help:      "Events durably appended to the log, by event type",
			},
			[]string{"event_type"},
		),
		AppendConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "append_conflicts_total",
			Help:      "Appends rejected by optimistic concurrency checks",
		}),
		FetchesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_transactions_total",
			Help:      "Fetch transactions started",
		}),
		FetchesPartial: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_transactions_partial_total",
			Help:      "Fetch transactions truncated by limit or timeout",
		}),
		ChainCorruptions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chain_corruptions_total",
				Help:      "Chain verification failures, by kind",
			},
			[]string{"kind"},
		),

		SnapshotsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshots_written_total",
			Help:      "Aggregate snapshots persisted",
		}),
		SnapshotFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "snapshot_fallbacks_total",
			Help:      "Recoveries that discarded a snapshot and replayed in full",
		}),

		ProjectionApplied: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_events_applied_total",
			Help:      "Events folded into the read model",
		}),
		ProjectionRebuilds: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "projection_rebuilds_total",
			Help:      "Forced full rebuilds of a projected aggregate",
		}),
		ProjectionLag: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "projection_lag_events",
			Help:      "Events buffered ahead of the projection watermark",
		}),

		BridgeCommands: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_commands_total",
			Help:      "Commands accepted by the async bridge",
		}),
		BridgeEventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bridge_events_dropped_total",
			Help:      "Buffered events dropped because the bridge buffer was full",
		}),

		PublishFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_failures_total",
			Help:      "Event publications that exhausted retries",
		}),

		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_hits_total",
			Help:      "Read-model cache hits",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_misses_total",
			Help:      "Read-model cache misses",
		}),
	}

	registry.MustRegister(
		c.HTTPRequests,
		c.HTTPDuration,
		c.EventsAppended,
		c.AppendConflicts,
		c.FetchesStarted,
		c.FetchesPartial,
		c.ChainCorruptions,
		c.SnapshotsWritten,
		c.SnapshotFallbacks,
		c.ProjectionApplied,
		c.ProjectionRebuilds,
		c.ProjectionLag,
		c.BridgeCommands,
		c.BridgeEventsDropped,
		c.PublishFailures,
		c.CacheHits,
		c.CacheMisses,
	)
	return c
}

// Registry returns the collector's registry for the /metrics handler
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
