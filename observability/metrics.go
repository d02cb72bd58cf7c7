package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type apiMetrics struct {
	requests *prometheus.CounterVec
	errors   *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

type paymentMetrics struct {
	payments *prometheus.CounterVec
	amounts  *prometheus.HistogramVec
	rejected *prometheus.CounterVec
}

type consentMetrics struct {
	transitions *prometheus.CounterVec
	checks      *prometheus.CounterVec
}

var (
	apiMetricsOnce sync.Once
	apiRegistry    *apiMetrics

	paymentMetricsOnce sync.Once
	paymentRegistry    *paymentMetrics

	consentMetricsOnce sync.Once
	consentRegistry    *consentMetrics
)

// API returns the lazily-initialised metrics registry used to record HTTP
// handler activity.
func API() *apiMetrics {
	apiMetricsOnce.Do(func() {
		apiRegistry = &apiMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vbank",
				Subsystem: "api",
				Name:      "requests_total",
				Help:      "Total HTTP requests segmented by route and outcome.",
			}, []string{"route", "method", "outcome"}),
			errors: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vbank",
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total HTTP errors segmented by route and status class.",
			}, []string{"route", "method", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vbank",
				Subsystem: "api",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for HTTP handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route", "method"}),
		}
		prometheus.MustRegister(
			apiRegistry.requests,
			apiRegistry.errors,
			apiRegistry.latency,
		)
	})
	return apiRegistry
}

// Observe records the outcome of an HTTP request. The status code should be
// the HTTP status that was ultimately written to the response writer.
func (m *apiMetrics) Observe(route, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	outcome := "success"
	if status >= 400 {
		outcome = "error"
	}
	m.requests.WithLabelValues(route, method, outcome).Inc()
	if status >= 400 {
		m.errors.WithLabelValues(route, method, statusLabel(status)).Inc()
	}
	m.latency.WithLabelValues(route, method).Observe(duration.Seconds())
}

// Payments returns the singleton metrics registry for the payment engine.
func Payments() *paymentMetrics {
	paymentMetricsOnce.Do(func() {
		paymentRegistry = &paymentMetrics{
			payments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vbank",
				Subsystem: "payments",
				Name:      "executed_total",
				Help:      "Count of executed payments segmented by kind and destination scope.",
			}, []string{"kind", "scope"}),
			amounts: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vbank",
				Subsystem: "payments",
				Name:      "amount",
				Help:      "Distribution of executed payment amounts in major currency units.",
				Buckets:   prometheus.ExponentialBuckets(1, 10, 8),
			}, []string{"kind"}),
			rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vbank",
				Subsystem: "payments",
				Name:      "rejected_total",
				Help:      "Count of rejected payments segmented by kind and reason.",
			}, []string{"kind", "reason"}),
		}
		prometheus.MustRegister(
			paymentRegistry.payments,
			paymentRegistry.amounts,
			paymentRegistry.rejected,
		)
	})
	return paymentRegistry
}

// RecordExecuted increments the executed counter and observes the amount.
func (m *paymentMetrics) RecordExecuted(kind, scope string, amount float64) {
	if m == nil {
		return
	}
	m.payments.WithLabelValues(labelOrUnknown(kind), labelOrUnknown(scope)).Inc()
	m.amounts.WithLabelValues(labelOrUnknown(kind)).Observe(amount)
}

// RecordRejected increments the rejection counter. Reasons should be stable
// strings such as "insufficient_funds" or "consent_required" so dashboards
// stay consistent.
func (m *paymentMetrics) RecordRejected(kind, reason string) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(labelOrUnknown(kind), labelOrUnknown(reason)).Inc()
}

// Consents returns the singleton metrics registry for the consent registry.
func Consents() *consentMetrics {
	consentMetricsOnce.Do(func() {
		consentRegistry = &consentMetrics{
			transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vbank",
				Subsystem: "consents",
				Name:      "transitions_total",
				Help:      "Count of consent status transitions segmented by kind and target status.",
			}, []string{"kind", "status"}),
			checks: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vbank",
				Subsystem: "consents",
				Name:      "checks_total",
				Help:      "Count of consent checks segmented by kind and outcome.",
			}, []string{"kind", "outcome"}),
		}
		prometheus.MustRegister(consentRegistry.transitions, consentRegistry.checks)
	})
	return consentRegistry
}

// RecordTransition increments the transition counter for a consent kind.
func (m *consentMetrics) RecordTransition(kind, status string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(labelOrUnknown(kind), labelOrUnknown(status)).Inc()
}

// RecordCheck increments the check counter with the given outcome.
func (m *consentMetrics) RecordCheck(kind, outcome string) {
	if m == nil {
		return
	}
	m.checks.WithLabelValues(labelOrUnknown(kind), labelOrUnknown(outcome)).Inc()
}

func labelOrUnknown(value string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return "unknown"
	}
	return strings.ToLower(trimmed)
}

func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	default:
		return "2xx"
	}
}
