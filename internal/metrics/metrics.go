// Package metrics provides Prometheus metrics for the realitycam
// verification core: a Collector wraps metric registration and exposes the
// counters, gauges, and histograms each component records against.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collector owns the Prometheus registry and every metric family recorded
// by the verification core.
type Collector struct {
	namespace string
	subsystem string
	registry  *prometheus.Registry

	challengesIssued      *prometheus.CounterVec
	challengesRateLimited prometheus.Counter
	attestations          *prometheus.CounterVec
	assertions            *prometheus.CounterVec
	confidenceLevels      *prometheus.CounterVec
	depthAnalysisDuration *prometheus.HistogramVec
	hashChainVerifications *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	httpRequestsInFlight  prometheus.Gauge
}

// NewCollector creates a Collector, registering all metric families under
// namespace/subsystem. If registry is nil a fresh prometheus.Registry is
// used rather than the global DefaultRegisterer, so that multiple test
// instances never collide.
func NewCollector(namespace, subsystem string, registry *prometheus.Registry) *Collector {
	if namespace == "" {
		namespace = "realitycam"
	}
	if subsystem == "" {
		subsystem = "core"
	}
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	c := &Collector{
		namespace: namespace,
		subsystem: subsystem,
		registry:  registry,
	}

	c.challengesIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "challenges_issued_total",
		Help:      "Challenges issued by the challenge store, by source.",
	}, []string{"source"})

	c.challengesRateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "challenges_rate_limited_total",
		Help:      "Challenge issuance requests rejected by the per-IP rate limiter.",
	})

	c.attestations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "attestations_total",
		Help:      "Device attestation verifications, by platform, attestation level, and result.",
	}, []string{"platform", "level", "result"})

	c.assertions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "assertions_total",
		Help:      "Per-request and per-capture assertion verifications, by kind and result.",
	}, []string{"kind", "result"})

	c.confidenceLevels = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "confidence_level_total",
		Help:      "Evidence assembler confidence decisions, by capture type and level.",
	}, []string{"capture_type", "level"})

	c.depthAnalysisDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "depth_analysis_duration_seconds",
		Help:      "Time spent analyzing a depth buffer, by capture type.",
		Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"capture_type"})

	c.hashChainVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "hash_chain_verifications_total",
		Help:      "Video frame hash chain verifications, by outcome (pass_intact, pass_partial, fail).",
	}, []string{"status"})

	c.httpRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency, by route and status class.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "status"})

	c.httpRequestsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      "http_requests_in_flight",
		Help:      "HTTP requests currently being served.",
	})

	registry.MustRegister(
		c.challengesIssued,
		c.challengesRateLimited,
		c.attestations,
		c.assertions,
		c.confidenceLevels,
		c.depthAnalysisDuration,
		c.hashChainVerifications,
		c.httpRequestDuration,
		c.httpRequestsInFlight,
	)

	return c
}

// RecordChallengeIssued records a successfully issued challenge (C1).
func (c *Collector) RecordChallengeIssued(source string) {
	c.challengesIssued.WithLabelValues(source).Inc()
}

// RecordChallengeRateLimited records a challenge request rejected by the
// per-IP token bucket.
func (c *Collector) RecordChallengeRateLimited() {
	c.challengesRateLimited.Inc()
}

// RecordAttestation records a device attestation outcome (C2). platform is
// "apple" or "android"; result is "success" or "failure".
func (c *Collector) RecordAttestation(platform, level, result string) {
	c.attestations.WithLabelValues(platform, level, result).Inc()
}

// RecordAssertion records an assertion verification outcome (C3). kind is
// one of "request", "capture_full", "capture_hash_only"; result is
// "success", "replay", or "invalid".
func (c *Collector) RecordAssertion(kind, result string) {
	c.assertions.WithLabelValues(kind, result).Inc()
}

// RecordConfidenceLevel records the evidence assembler's final decision (C6).
func (c *Collector) RecordConfidenceLevel(captureType, level string) {
	c.confidenceLevels.WithLabelValues(captureType, level).Inc()
}

// ObserveDepthAnalysisDuration records how long depth-buffer analysis took (C4).
func (c *Collector) ObserveDepthAnalysisDuration(captureType string, seconds float64) {
	c.depthAnalysisDuration.WithLabelValues(captureType).Observe(seconds)
}

// RecordHashChainVerification records a hash chain verification outcome (C5).
func (c *Collector) RecordHashChainVerification(status string) {
	c.hashChainVerifications.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest records one completed HTTP request.
func (c *Collector) ObserveHTTPRequest(route, statusClass string, seconds float64) {
	c.httpRequestDuration.WithLabelValues(route, statusClass).Observe(seconds)
}

// IncInFlight / DecInFlight track concurrently-served HTTP requests.
func (c *Collector) IncInFlight() { c.httpRequestsInFlight.Inc() }
func (c *Collector) DecInFlight() { c.httpRequestsInFlight.Dec() }

// Registry returns the underlying Prometheus registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler returns an HTTP handler exposing the registry in Prometheus
// exposition format, for mounting at the configured metrics address.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		ErrorHandling: promhttp.ContinueOnError,
	})
}
