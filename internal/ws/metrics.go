package ws

import "github.com/prometheus/client_golang/prometheus"

// Metrics counts registry activity. Each registry owns its own set.
type Metrics struct {
	ActiveConnections prometheus.Gauge
	FramesSent        prometheus.Counter
	FramesDropped     prometheus.Counter
	SendErrors        prometheus.Counter
	IdleEvictions     prometheus.Counter
}

// NewMetrics creates registry metrics, registering them when reg is non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ws_active_connections",
			Help: "Current number of live client connections",
		}),
		FramesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_frames_sent_total",
			Help: "Total number of frames written to clients",
		}),
		FramesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_frames_dropped_total",
			Help: "Total number of frames dropped for slow clients",
		}),
		SendErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_send_errors_total",
			Help: "Total number of failed client writes",
		}),
		IdleEvictions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ws_idle_evictions_total",
			Help: "Total number of connections evicted for inactivity",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.ActiveConnections, m.FramesSent, m.FramesDropped, m.SendErrors, m.IdleEvictions)
	}
	return m
}
