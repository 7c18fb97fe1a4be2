// Package metrics exposes the service's Prometheus collectors.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"multimodal-agent/internal/services/intent"
)

// Metrics groups the collectors on a private registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	requests        *prometheus.CounterVec
	stageFailures   *prometheus.CounterVec
	upstreamLatency *prometheus.HistogramVec
	extractLatency  *prometheus.HistogramVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multimodal_agent",
			Name:      "requests_total",
			Help:      "Processed requests by classified intent and outcome.",
		}, []string{"intent", "outcome"}),
		stageFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "multimodal_agent",
			Name:      "stage_failures_total",
			Help:      "Request failures by pipeline stage and error kind.",
		}, []string{"stage", "kind"}),
		upstreamLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "multimodal_agent",
			Name:      "upstream_request_duration_seconds",
			Help:      "Duration of each remote model attempt.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 20, 40, 60},
		}, []string{"intent", "outcome"}),
		extractLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "multimodal_agent",
			Name:      "extraction_duration_seconds",
			Help:      "Duration of file extraction by source kind.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"source_kind"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.requests,
		m.stageFailures,
		m.upstreamLatency,
		m.extractLatency,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRequest(in intent.Intent, outcome string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(string(in), outcome).Inc()
}

func (m *Metrics) ObserveStageFailure(stage, kind string) {
	if m == nil {
		return
	}
	m.stageFailures.WithLabelValues(stage, kind).Inc()
}

// ObserveUpstream satisfies task.Observer.
func (m *Metrics) ObserveUpstream(in intent.Intent, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.upstreamLatency.WithLabelValues(string(in), outcome).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveExtraction(sourceKind string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.extractLatency.WithLabelValues(sourceKind).Observe(elapsed.Seconds())
}
