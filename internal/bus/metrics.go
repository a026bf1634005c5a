package bus

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts bus activity. Each bus instance owns its own set; pass a
// registerer to expose them, or nil to keep them local.
type Metrics struct {
	Published     prometheus.Counter
	Delivered     prometheus.Counter
	HandlerErrors prometheus.Counter
	Rejected      prometheus.Counter
	Evicted       prometheus.Counter
}

// NewMetrics creates bus metrics, registering them when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Published: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bus_events_published_total",
			Help: "Total number of events accepted by Publish",
		}),
		Delivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bus_events_delivered_total",
			Help: "Total number of successful handler invocations",
		}),
		HandlerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bus_handler_errors_total",
			Help: "Total number of handler errors and panics",
		}),
		Rejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bus_events_rejected_total",
			Help: "Total number of events rejected by middleware",
		}),
		Evicted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bus_history_evictions_total",
			Help: "Total number of events evicted from the history buffer",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Published, m.Delivered, m.HandlerErrors, m.Rejected, m.Evicted)
	}
	return m
}
