package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"drawdown/internal/domain"
)

// Metrics holds the workflow collectors on a private registry. A nil *Metrics
// records nothing.
type Metrics struct {
	Registry            *prometheus.Registry
	transitions         *prometheus.CounterVec
	transitionDuration  *prometheus.HistogramVec
	notificationsFailed *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drawdown_transitions_total",
				Help: "Workflow operations by action and result code",
			},
			[]string{"action", "result"},
		),
		transitionDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "drawdown_transition_duration_seconds",
				Help:    "Duration of workflow operations",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
		notificationsFailed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "drawdown_notifications_failed_total",
				Help: "Notifications that could not be delivered",
			},
			[]string{"kind"},
		),
	}
	m.Registry.MustRegister(
		m.transitions,
		m.transitionDuration,
		m.notificationsFailed,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// ObserveTransition records one operation outcome.
func (m *Metrics) ObserveTransition(action domain.Action, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(string(action), domain.ErrorCode(err)).Inc()
	m.transitionDuration.WithLabelValues(string(action)).Observe(elapsed.Seconds())
}

func (m *Metrics) NotificationFailed(kind string) {
	if m == nil {
		return
	}
	m.notificationsFailed.WithLabelValues(kind).Inc()
}

func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})
}
