package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

type serverMetrics struct {
	operations       *prometheus.CounterVec
	deniedAccesses   *prometheus.CounterVec
	invalidatedEdges prometheus.Counter
}

func newServerMetrics() *serverMetrics {
	return &serverMetrics{
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stackmem_operations_total",
			Help: "Total number of store operations served, by procedure",
		}, []string{"op"}),
		deniedAccesses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stackmem_denied_accesses_total",
			Help: "Total number of read or write checks that the borrow stacks denied",
		}, []string{"access"}),
		invalidatedEdges: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stackmem_invalidated_edges_total",
			Help: "Total number of edges left with no coverage by an invalidation",
		}),
	}
}

func (p *serverMetrics) register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		p.operations,
		p.deniedAccesses,
		p.invalidatedEdges,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (p *serverMetrics) denied(access string) {
	p.deniedAccesses.WithLabelValues(access).Inc()
}
