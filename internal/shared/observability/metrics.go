package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics definitions, exposed over --metrics-addr.
var (
	ParsingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "al_parsing_seconds",
		Help:    "Time spent parsing a single AL source file.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})

	GraphDefinitions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "al_graph_definitions_total",
		Help: "Total number of definitions (procedures, triggers, external procedures) held in the call graph.",
	})

	GraphCallSites = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "al_graph_call_sites_total",
		Help: "Total number of live (non-tombstoned) call sites held in the call graph.",
	})

	GraphUnresolvedCallSites = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "al_graph_unresolved_call_sites_total",
		Help: "Number of call sites whose target could not be bound.",
	})

	IndexDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "al_index_seconds",
		Help:    "Time spent on a full workspace index or a dependency resolution pass.",
		Buckets: prometheus.DefBuckets,
	}, []string{"task"})

	WatcherEventsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "al_watcher_events_total",
		Help: "Total number of .al file change batches delivered by the watcher.",
	})

	ReindexTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "al_reindex_total",
		Help: "Total number of single-file reindex operations, by outcome.",
	}, []string{"outcome"})

	DependenciesResolvedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "al_dependencies_resolved_total",
		Help: "Total number of app.json dependency declarations resolved to a package.",
	})

	DependenciesMissingTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "al_dependencies_missing_total",
		Help: "Total number of app.json dependency declarations that could not be resolved.",
	})

	LSPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "al_lsp_request_seconds",
		Help:    "Time spent handling an LSP request, by method.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method"})

	LSPRequestsThrottledTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "al_lsp_requests_throttled_total",
		Help: "Total number of LSP requests or reindex operations delayed by a rate limiter.",
	})
)
