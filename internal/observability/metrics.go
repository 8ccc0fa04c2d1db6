package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce    sync.Once
	attemptsTotal   *prometheus.CounterVec
	scoreHistogram  *prometheus.HistogramVec
	auditFailures   prometheus.Counter
	probeAlerts     prometheus.Counter
	httpRequests    *prometheus.CounterVec
	httpLatencySecs *prometheus.HistogramVec
)

// RegisterMetrics registers the collectors with the default registry once.
func RegisterMetrics() {
	registerOnce.Do(func() {
		attemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "verification_attempts_total",
			Help: "Verification attempts by terminal verdict and reason.",
		}, []string{"verdict", "reason"})

		scoreHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "verification_scores",
			Help:    "Distribution of biometric similarity scores.",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}, []string{"modality"})

		auditFailures = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verification_audit_failures_total",
			Help: "Attempt records that could not be written.",
		})

		probeAlerts = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "verification_probe_alerts_total",
			Help: "Students that crossed the repeated-rejection limit.",
		})

		httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests served.",
		}, []string{"method", "route", "status"})

		httpLatencySecs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.0},
		}, []string{"method", "route"})

		prometheus.MustRegister(attemptsTotal, scoreHistogram, auditFailures, probeAlerts, httpRequests, httpLatencySecs)
	})
}

// ObserveAttempt counts a terminal verdict.
func ObserveAttempt(verdict, reason string) {
	RegisterMetrics()
	if reason == "" {
		reason = "none"
	}
	attemptsTotal.WithLabelValues(verdict, reason).Inc()
}

// ObserveScore records a similarity score for modality ("face" or "fingerprint").
func ObserveScore(modality string, score float64) {
	RegisterMetrics()
	scoreHistogram.WithLabelValues(modality).Observe(score)
}

// AuditFailure counts a failed attempt write.
func AuditFailure() {
	RegisterMetrics()
	auditFailures.Inc()
}

// ProbeAlert counts a repeated-rejection alert.
func ProbeAlert() {
	RegisterMetrics()
	probeAlerts.Inc()
}

// HTTPRequests exposes the request counter.
func HTTPRequests() *prometheus.CounterVec {
	RegisterMetrics()
	return httpRequests
}

// HTTPLatency exposes the request latency histogram.
func HTTPLatency() *prometheus.HistogramVec {
	RegisterMetrics()
	return httpLatencySecs
}
