package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// StateCollector exposes metrics about tree snapshots and validations of
// the configuration state.
type StateCollector struct {
	gatherer prometheus.Gatherer

	TreeBuildDuration prometheus.Histogram
	TreeNodes         *prometheus.GaugeVec
	Validations       *prometheus.CounterVec
	SnapshotCache     *prometheus.CounterVec
}

// NewStateCollector registers state metrics against the provided registerer.
func NewStateCollector(reg prometheus.Registerer) (*StateCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	buildHistogram := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "mounts_tree_build_duration_seconds",
		Help:    "Duration of building a configuration tree for a reference date.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	})
	buildHistogram, err := register(reg, buildHistogram)
	if err != nil {
		return nil, err
	}

	nodes := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "mounts_tree_nodes",
		Help: "Number of nodes in the most recently built tree, per configuration.",
	}, []string{"configuration"})
	nodes, err = register(reg, nodes)
	if err != nil {
		return nil, err
	}

	validations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mounts_validations_total",
		Help: "Mount and unmount validations, labeled by kind and outcome.",
	}, []string{"kind", "outcome"})
	validations, err = register(reg, validations)
	if err != nil {
		return nil, err
	}

	cache := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "mounts_snapshot_cache_total",
		Help: "Tree snapshot cache lookups, labeled by result (hit or miss).",
	}, []string{"result"})
	cache, err = register(reg, cache)
	if err != nil {
		return nil, err
	}

	return &StateCollector{
		gatherer:          gatherer,
		TreeBuildDuration: buildHistogram,
		TreeNodes:         nodes,
		Validations:       validations,
		SnapshotCache:     cache,
	}, nil
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *StateCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// ObserveTreeBuild records how long a tree took to build and its size.
func (c *StateCollector) ObserveTreeBuild(configID string, d time.Duration, nodes int) {
	if c == nil {
		return
	}
	if c.TreeBuildDuration != nil {
		c.TreeBuildDuration.Observe(d.Seconds())
	}
	if c.TreeNodes != nil {
		c.TreeNodes.WithLabelValues(configID).Set(float64(nodes))
	}
}

// RecordValidation counts a validation; kind is "mount" or "unmount" and
// outcome one of "ok", "conflict", "unavailable" or "blocked".
func (c *StateCollector) RecordValidation(kind, outcome string) {
	if c == nil || c.Validations == nil {
		return
	}
	c.Validations.WithLabelValues(kind, outcome).Inc()
}

// RecordSnapshotCache counts a cache lookup.
func (c *StateCollector) RecordSnapshotCache(hit bool) {
	if c == nil || c.SnapshotCache == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	c.SnapshotCache.WithLabelValues(result).Inc()
}
