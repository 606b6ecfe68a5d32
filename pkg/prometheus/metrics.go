// Package prometheus exports ferry commit and feed metrics to Prometheus.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zoobzio/ferry"
)

var states = []ferry.State{
	ferry.StateLoading,
	ferry.StateHealthy,
	ferry.StateDegraded,
	ferry.StateEmpty,
	ferry.StateInconsistent,
}

// Metrics implements ferry.MetricsProvider with Prometheus collectors.
type Metrics struct {
	changes       prometheus.Counter
	commits       *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	modifications prometheus.Counter
	reverts       *prometheus.CounterVec
	unreverted    prometheus.Gauge
	state         *prometheus.GaugeVec
	transitions   *prometheus.CounterVec
}

// New creates the collectors under namespace and registers them with reg.
// A nil reg uses prometheus.DefaultRegisterer.
func New(reg prometheus.Registerer, namespace string) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		changes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "changes_received_total",
			Help:      "Raw documents received from the watcher.",
		}),
		commits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "total",
			Help:      "Commit operations by result and failing stage.",
		}, []string{"result", "stage"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "duration_seconds",
			Help:      "Commit duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		modifications: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "commit",
			Name:      "modifications_total",
			Help:      "Modifications applied by successful commits.",
		}),
		reverts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "revert",
			Name:      "total",
			Help:      "Revert attempts by result.",
		}, []string{"result"}),
		unreverted: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "revert",
			Name:      "unreverted_modifications",
			Help:      "Modifications left applied by the last revert.",
		}),
		state: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "state",
			Help:      "Current feed state; the active state is 1.",
		}, []string{"state"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "state_transitions_total",
			Help:      "Feed state transitions.",
		}, []string{"from", "to"}),
	}
	for _, c := range []prometheus.Collector{
		m.changes, m.commits, m.duration, m.modifications,
		m.reverts, m.unreverted, m.state, m.transitions,
	} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	for _, s := range states {
		m.state.WithLabelValues(s.String()).Set(0)
	}
	m.state.WithLabelValues(ferry.StateLoading.String()).Set(1)
	return m, nil
}

// OnStateChange implements ferry.MetricsProvider.
func (m *Metrics) OnStateChange(from, to ferry.State) {
	m.state.WithLabelValues(from.String()).Set(0)
	m.state.WithLabelValues(to.String()).Set(1)
	m.transitions.WithLabelValues(from.String(), to.String()).Inc()
}

// OnCommitSuccess implements ferry.MetricsProvider.
func (m *Metrics) OnCommitSuccess(count int, d time.Duration) {
	m.commits.WithLabelValues("success", "").Inc()
	m.duration.WithLabelValues("success").Observe(d.Seconds())
	m.modifications.Add(float64(count))
}

// OnCommitFailure implements ferry.MetricsProvider.
func (m *Metrics) OnCommitFailure(stage string, d time.Duration) {
	m.commits.WithLabelValues("failure", stage).Inc()
	m.duration.WithLabelValues("failure").Observe(d.Seconds())
}

// OnRevert implements ferry.MetricsProvider.
func (m *Metrics) OnRevert(unreverted int) {
	result := "succeeded"
	if unreverted > 0 {
		result = "failed"
	}
	m.reverts.WithLabelValues(result).Inc()
	m.unreverted.Set(float64(unreverted))
}

// OnChangeReceived implements ferry.MetricsProvider.
func (m *Metrics) OnChangeReceived() {
	m.changes.Inc()
}

var _ ferry.MetricsProvider = (*Metrics)(nil)
