// Package metrics exposes Prometheus instrumentation for the game services.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "mathquest"

// Metrics holds Prometheus metrics for the service. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	SessionsCreated    *prometheus.CounterVec
	SessionsCompleted  *prometheus.CounterVec
	Answers            *prometheus.CounterVec
	Rejections         *prometheus.CounterVec
	TimerActions       *prometheus.CounterVec
	CheckpointFailures *prometheus.CounterVec
	Connections        prometheus.Gauge
	PracticeSessions   *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

// New registers every collector on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector(), prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Live sessions created, by play mode.",
		}, []string{"mode"}),
		SessionsCompleted: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_completed_total",
			Help:      "Live sessions completed, by play mode.",
		}, []string{"mode"}),
		Answers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "answers_total",
			Help:      "Accepted answers, by correctness.",
		}, []string{"result"}),
		Rejections: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejections_total",
			Help:      "Rejected client actions, by error code.",
		}, []string{"code"}),
		TimerActions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "timer_actions_total",
			Help:      "Timer transitions applied, by action.",
		}, []string{"action"}),
		CheckpointFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_failures_total",
			Help:      "Durable checkpoints that exhausted their retries.",
		}, []string{"kind"}),
		Connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "websocket_connections",
			Help:      "Open websocket connections.",
		}),
		PracticeSessions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "practice_sessions_total",
			Help:      "Practice sessions, by lifecycle event.",
		}, []string{"event"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// Handler serves the private registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry, mostly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) SessionCreated(mode string) {
	if m != nil {
		m.SessionsCreated.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) SessionCompleted(mode string) {
	if m != nil {
		m.SessionsCompleted.WithLabelValues(mode).Inc()
	}
}

func (m *Metrics) AnswerAccepted(correct bool) {
	if m == nil {
		return
	}
	result := "incorrect"
	if correct {
		result = "correct"
	}
	m.Answers.WithLabelValues(result).Inc()
}

func (m *Metrics) Rejected(code string) {
	if m != nil {
		m.Rejections.WithLabelValues(code).Inc()
	}
}

func (m *Metrics) TimerAction(action string) {
	if m != nil {
		m.TimerActions.WithLabelValues(action).Inc()
	}
}

func (m *Metrics) CheckpointFailed(kind string) {
	if m != nil {
		m.CheckpointFailures.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) ConnectionOpened() {
	if m != nil {
		m.Connections.Inc()
	}
}

func (m *Metrics) ConnectionClosed() {
	if m != nil {
		m.Connections.Dec()
	}
}

func (m *Metrics) Practice(event string) {
	if m != nil {
		m.PracticeSessions.WithLabelValues(event).Inc()
	}
}

// ObserveRequest records one HTTP request.
func (m *Metrics) ObserveRequest(method, route, status string, d time.Duration) {
	if m != nil {
		m.RequestDuration.WithLabelValues(method, route, status).Observe(d.Seconds())
	}
}
