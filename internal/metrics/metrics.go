// Package metrics exposes the tutor's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dakarenzi/AI-Tutor/internal/coordinator"
	"github.com/dakarenzi/AI-Tutor/internal/domain"
)

// Metrics groups every collector.
//
//   - Turns: chat turns by final capability and outcome (ok|fallback|error)
//   - Fallbacks: capability failures answered by the tutor, by failed capability
//   - Repairs: repair passes, by result (safe|unsafe)
//   - PersistFailures: memory writes that failed, by operation
//   - RateLimited: rejected requests, by scope and binding window
//   - ModelLatency: model calls in seconds, by backend and outcome
type Metrics struct {
	Turns           *prometheus.CounterVec
	Fallbacks       *prometheus.CounterVec
	Repairs         *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
	RateLimited     *prometheus.CounterVec
	ModelLatency    *prometheus.HistogramVec

	gatherer prometheus.Gatherer
}

var _ coordinator.Observer = (*Metrics)(nil)

// New registers the collectors with reg. A nil reg uses a fresh registry.
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Turns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tutor_chat_turns_total",
			Help: "Chat turns processed, by final capability and outcome",
		}, []string{"capability", "outcome"}),

		Fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tutor_capability_fallbacks_total",
			Help: "Capability failures answered by the tutor fallback",
		}, []string{"capability"}),

		Repairs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tutor_safety_repairs_total",
			Help: "Safety repair passes, by whether the result was still unsafe",
		}, []string{"result"}),

		PersistFailures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tutor_persist_failures_total",
			Help: "Failed memory writes, by operation",
		}, []string{"op"}),

		RateLimited: f.NewCounterVec(prometheus.CounterOpts{
			Name: "tutor_rate_limited_total",
			Help: "Requests rejected by the rate limiter, by scope and window",
		}, []string{"scope", "window"}),

		ModelLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "tutor_model_request_duration_seconds",
			Help:    "Model call latency in seconds, including retries",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"backend", "outcome"}),

		gatherer: reg,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveTurn implements coordinator.Observer.
func (m *Metrics) ObserveTurn(c domain.Capability, outcome string) {
	m.Turns.WithLabelValues(string(c), outcome).Inc()
}

// ObserveFallback implements coordinator.Observer.
func (m *Metrics) ObserveFallback(from domain.Capability) {
	m.Fallbacks.WithLabelValues(string(from)).Inc()
}

// ObserveRepair implements coordinator.Observer.
func (m *Metrics) ObserveRepair(unsafeAfter bool) {
	result := "safe"
	if unsafeAfter {
		result = "unsafe"
	}
	m.Repairs.WithLabelValues(result).Inc()
}

// ObservePersistFailure implements coordinator.Observer.
func (m *Metrics) ObservePersistFailure(op string) {
	m.PersistFailures.WithLabelValues(op).Inc()
}

// ObserveRateLimited counts a rejected request.
func (m *Metrics) ObserveRateLimited(scope, window string) {
	m.RateLimited.WithLabelValues(scope, window).Inc()
}

// ObserveModelCall matches llm.Observer.
func (m *Metrics) ObserveModelCall(backend, outcome string, elapsed time.Duration) {
	m.ModelLatency.WithLabelValues(backend, outcome).Observe(elapsed.Seconds())
}
