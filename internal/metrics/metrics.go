// Package metrics exposes the switch's runtime counters and gauges.
//
// Grounded on control/metrics.go's MetricsRegistry (a named-key collector
// surfaced through a single Stats() call), backed here by
// prometheus/client_golang instead of a hand-rolled map so values are
// real Prometheus collectors rather than snapshot-only any values.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Registry bundles every metric the switch reports, registered against its
// own prometheus.Registry so multiple switch instances in one process
// don't collide on metric names.
type Registry struct {
	reg *prometheus.Registry

	QueueDepth   *prometheus.GaugeVec
	BindTotal    prometheus.Counter
	UnbindTotal  prometheus.Counter
	CCIDispatch  *prometheus.CounterVec
	RouterMisses *prometheus.CounterVec
}

// New constructs a Registry with every collector registered.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cxlfabric",
			Name:      "queue_depth",
			Help:      "Current item count of a FIFO lane.",
		}, []string{"port", "ld", "class", "direction"}),
		BindTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cxlfabric",
			Name:      "bind_total",
			Help:      "Number of successful vPPB bind operations.",
		}),
		UnbindTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "cxlfabric",
			Name:      "unbind_total",
			Help:      "Number of successful vPPB unbind operations.",
		}),
		CCIDispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cxlfabric",
			Name:      "cci_dispatch_total",
			Help:      "CCI requests dispatched, by opcode.",
		}, []string{"opcode"}),
		RouterMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cxlfabric",
			Name:      "router_miss_total",
			Help:      "Routing-table misses, by traffic class.",
		}, []string{"class"}),
	}
	reg.MustRegister(r.QueueDepth, r.BindTotal, r.UnbindTotal, r.CCIDispatch, r.RouterMisses)
	return r
}

// Gatherer exposes the underlying registry for an HTTP /metrics handler.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
