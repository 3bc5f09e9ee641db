package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	outcomeSuccess   = "success"
	outcomeTransient = "transient"
	outcomeRejected  = "rejected"
)

type metrics struct {
	logins    prometheus.Counter
	logouts   prometheus.Counter
	refreshes *prometheus.CounterVec
}

// newMetrics builds the manager's instruments. A nil registerer keeps them
// unregistered (multiple managers in one process, tests).
func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		logins: f.NewCounter(prometheus.CounterOpts{
			Namespace: "freework",
			Subsystem: "session",
			Name:      "logins_total",
			Help:      "Successful logins.",
		}),
		logouts: f.NewCounter(prometheus.CounterOpts{
			Namespace: "freework",
			Subsystem: "session",
			Name:      "logouts_total",
			Help:      "Logouts, explicit or forced.",
		}),
		refreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "freework",
			Subsystem: "session",
			Name:      "refreshes_total",
			Help:      "Token refresh attempts by outcome.",
		}, []string{"outcome"}),
	}
}
