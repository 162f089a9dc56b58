package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records ingestion and model gateway activity.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	ingestTotal     *prometheus.CounterVec
	ingestDuration  *prometheus.HistogramVec
	gatewayCalls    *prometheus.CounterVec
	gatewayDuration *prometheus.HistogramVec
	fallbacks       *prometheus.CounterVec
	verdicts        *prometheus.CounterVec
	renderFailures  prometheus.Counter
}

// New creates a Metrics backed by its own registry
func New() *Metrics {
	registry := prometheus.NewRegistry()

	ingestTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "file_cabinet",
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Total ingested documents by outcome.",
		},
		[]string{"outcome"},
	)
	ingestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "file_cabinet",
			Subsystem: "ingest",
			Name:      "duration_seconds",
			Help:      "Document ingestion duration in seconds by outcome.",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
		},
		[]string{"outcome"},
	)
	gatewayCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "file_cabinet",
			Subsystem: "gateway",
			Name:      "calls_total",
			Help:      "Vision model calls by model and outcome.",
		},
		[]string{"model", "outcome"},
	)
	gatewayDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "file_cabinet",
			Subsystem: "gateway",
			Name:      "call_duration_seconds",
			Help:      "Vision model call latency in seconds by model.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"model"},
	)
	fallbacks := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "file_cabinet",
			Subsystem: "gateway",
			Name:      "fallbacks_total",
			Help:      "Requests retried against the fallback model, by rejected model.",
		},
		[]string{"model"},
	)
	verdicts := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "file_cabinet",
			Subsystem: "dedupe",
			Name:      "verdicts_total",
			Help:      "Duplicate verdicts by certainty.",
		},
		[]string{"certainty"},
	)
	renderFailures := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "file_cabinet",
			Subsystem: "render",
			Name:      "failures_total",
			Help:      "Documents that could not be rendered and fell back to text.",
		},
	)

	registry.MustRegister(ingestTotal, ingestDuration, gatewayCalls, gatewayDuration, fallbacks, verdicts, renderFailures)

	return &Metrics{
		registry:        registry,
		ingestTotal:     ingestTotal,
		ingestDuration:  ingestDuration,
		gatewayCalls:    gatewayCalls,
		gatewayDuration: gatewayDuration,
		fallbacks:       fallbacks,
		verdicts:        verdicts,
		renderFailures:  renderFailures,
	}
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveIngest(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ingestTotal.WithLabelValues(outcome).Inc()
	m.ingestDuration.WithLabelValues(outcome).Observe(d.Seconds())
}

func (m *Metrics) ObserveGatewayCall(model, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(model, outcome).Inc()
	m.gatewayDuration.WithLabelValues(model).Observe(d.Seconds())
}

func (m *Metrics) IncFallback(model string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(model).Inc()
}

func (m *Metrics) IncVerdict(certainty string) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(certainty).Inc()
}

func (m *Metrics) IncRenderFailure() {
	if m == nil {
		return
	}
	m.renderFailures.Inc()
}
