package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type metrics struct {
	connects     prometheus.Counter
	reconnects   prometheus.Counter
	exhausted    prometheus.Counter
	droppedSends prometheus.Counter
	frames       *prometheus.CounterVec
	connected    prometheus.Gauge
}

// newMetrics builds the channel's instruments. A nil registerer keeps them
// unregistered (multiple channels in one process, tests).
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		connects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "freework",
			Subsystem: "realtime",
			Name:      "connects_total",
			Help:      "Successful WebSocket connects.",
		}),
		reconnects: f.NewCounter(prometheus.CounterOpts{
			Namespace: "freework",
			Subsystem: "realtime",
			Name:      "reconnect_attempts_total",
			Help:      "Scheduled reconnect attempts.",
		}),
		exhausted: f.NewCounter(prometheus.CounterOpts{
			Namespace: "freework",
			Subsystem: "realtime",
			Name:      "reconnect_exhausted_total",
			Help:      "Times the reconnect budget ran out.",
		}),
		droppedSends: f.NewCounter(prometheus.CounterOpts{
			Namespace: "freework",
			Subsystem: "realtime",
			Name:      "dropped_sends_total",
			Help:      "Outbound frames dropped because the channel was not connected.",
		}),
		frames: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "freework",
			Subsystem: "realtime",
			Name:      "frames_total",
			Help:      "Inbound frames by discriminant type.",
		}, []string{"type"}),
		connected: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "freework",
			Subsystem: "realtime",
			Name:      "connected",
			Help:      "1 while the channel is connected.",
		}),
	}
}
