// Package metrics provides Prometheus metrics for humansign.
//
// Every Metrics value owns its registry so tests and multiple servers in
// one process never collide on registration. All methods are safe on a nil
// *Metrics, which lets callers treat metrics as optional.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "humansign"

// Seal triggers.
const (
	TriggerSize     = "size"
	TriggerTimer    = "timer"
	TriggerFinalize = "finalize"
)

// Metrics holds all humansign collectors.
type Metrics struct {
	registry *prometheus.Registry

	EventsTotal        prometheus.Counter
	BlocksSealedTotal  *prometheus.CounterVec
	SealsTotal         *prometheus.CounterVec
	VerificationsTotal *prometheus.CounterVec
	VerifyFailures     *prometheus.CounterVec
	ActiveSessions     prometheus.Gauge

	SealDuration   prometheus.Histogram
	VerifyDuration prometheus.Histogram

	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New creates and registers all collectors on a fresh registry, along with
// the standard Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,

		EventsTotal: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_total",
			Help:      "Total number of keystroke events recorded",
		}),
		BlocksSealedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_sealed_total",
			Help:      "Total number of blocks sealed by trigger",
		}, []string{"trigger"}),
		SealsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "seals_total",
			Help:      "Total number of document seal attempts by result",
		}, []string{"result"}),
		VerificationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Total number of token verifications by verdict",
		}, []string{"verdict"}),
		VerifyFailures: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verify_failures_total",
			Help:      "Verification failures by kind",
		}, []string{"kind"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of capture sessions currently open",
		}),
		SealDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "seal_duration_seconds",
			Help:      "Time to finalize, sign and persist a document seal",
			Buckets:   prometheus.DefBuckets,
		}),
		VerifyDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verify_duration_seconds",
			Help:      "Time to verify a token",
			Buckets:   prometheus.DefBuckets,
		}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),
	}
}

// Registry returns the registry the collectors live in.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEvent counts one recorded keystroke event.
func (m *Metrics) ObserveEvent() {
	if m == nil {
		return
	}
	m.EventsTotal.Inc()
}

// ObserveBlockSealed counts a sealed block.
func (m *Metrics) ObserveBlockSealed(trigger string) {
	if m == nil {
		return
	}
	m.BlocksSealedTotal.WithLabelValues(trigger).Inc()
}

// ObserveSeal records a document seal attempt.
func (m *Metrics) ObserveSeal(d time.Duration, err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	}
	m.SealsTotal.WithLabelValues(result).Inc()
	m.SealDuration.Observe(d.Seconds())
}

// ObserveVerification records a verification outcome and its failure kinds.
func (m *Metrics) ObserveVerification(verdict string, failureKinds []string, d time.Duration) {
	if m == nil {
		return
	}
	m.VerificationsTotal.WithLabelValues(verdict).Inc()
	for _, k := range failureKinds {
		m.VerifyFailures.WithLabelValues(k).Inc()
	}
	m.VerifyDuration.Observe(d.Seconds())
}

// SessionStarted increments the active session gauge.
func (m *Metrics) SessionStarted() {
	if m == nil {
		return
	}
	m.ActiveSessions.Inc()
}

// SessionEnded decrements the active session gauge.
func (m *Metrics) SessionEnded() {
	if m == nil {
		return
	}
	m.ActiveSessions.Dec()
}
