package machine

import (
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "wifip2p"

type metrics struct {
	transitions *prometheus.CounterVec
	formations  prometheus.Counter
	failures    *prometheus.CounterVec
	removals    prometheus.Counter
	state       prometheus.Gauge
	peers       prometheus.Gauge
}

// newMetrics registers the machine collectors on reg. A nil reg keeps them unregistered.
func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "state_transitions_total",
			Help:      "State transitions by destination state.",
		}, []string{"to"}),
		formations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "groups_formed_total",
			Help:      "Groups that reached the formed state.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "group_creation_failures_total",
			Help:      "Aborted group creation attempts by reason.",
		}, []string{"reason"}),
		removals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "groups_removed_total",
			Help:      "Formed groups that were torn down.",
		}),
		state: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "state",
			Help:      "Numeric id of the current state.",
		}),
		peers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "peers",
			Help:      "Devices in the peer registry.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.transitions, m.formations, m.failures, m.removals, m.state, m.peers)
	}
	return m
}

func (m *metrics) observeTransition(to State) {
	m.transitions.WithLabelValues(to.String()).Inc()
	m.state.Set(float64(to))
}
