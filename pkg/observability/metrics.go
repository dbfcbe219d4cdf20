// Package observability collects Prometheus counters for the pipeline's
// outbound traffic and cache behavior. The registry is exposed by the debug
// HTTP server when one is configured.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics handles application metrics and monitoring
type Metrics struct {
	registry *prometheus.Registry

	WikiRequests  *prometheus.CounterVec
	LLMCalls      *prometheus.CounterVec
	CacheLookups  *prometheus.CounterVec
	NodesMerged   prometheus.Counter
	NodesDropped  prometheus.Counter
	RelsDeleted   prometheus.Counter
	QuotaExceeded *prometheus.CounterVec
}

// NewMetrics creates a new metrics instance backed by its own registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()

	m := &Metrics{
		registry: reg,
		WikiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphweaver_wiki_requests_total",
			Help: "Wiki API and raw-content requests by outcome.",
		}, []string{"endpoint", "outcome"}),
		LLMCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphweaver_llm_calls_total",
			Help: "LLM calls by task and outcome.",
		}, []string{"task", "outcome"}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphweaver_cache_lookups_total",
			Help: "Cache lookups by cache name and hit/miss.",
		}, []string{"cache", "result"}),
		NodesMerged: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "graphweaver_nodes_merged_total",
			Help: "Fragment nodes merged into the master graph.",
		}),
		NodesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "graphweaver_nodes_dropped_total",
			Help: "Fragment nodes dropped during identity resolution.",
		}),
		RelsDeleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "graphweaver_relationships_deleted_total",
			Help: "Relationships removed by maintenance.",
		}),
		QuotaExceeded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "graphweaver_daily_quota_exceeded_total",
			Help: "Calls skipped because a model's daily budget was exhausted.",
		}, []string{"model"}),
	}

	reg.MustRegister(
		m.WikiRequests, m.LLMCalls, m.CacheLookups,
		m.NodesMerged, m.NodesDropped, m.RelsDeleted, m.QuotaExceeded,
	)
	return m
}

// Registry returns the backing registry for exposition.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
