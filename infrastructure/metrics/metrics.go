// Package metrics provides Prometheus metrics collection for the orchestrator.
package metrics

import (
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus collectors exposed at GET /metrics.
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge
	ErrorsTotal      *prometheus.CounterVec

	QueryDuration     *prometheus.HistogramVec
	QueryComplexity   *prometheus.CounterVec
	RetrievalDuration *prometheus.HistogramVec
	RerankDuration    *prometheus.HistogramVec

	CacheHitsTotal   *prometheus.CounterVec
	CacheMissesTotal *prometheus.CounterVec
	CacheSize        *prometheus.GaugeVec

	CircuitBreakerState *prometheus.GaugeVec
	CircuitBreakerTrips *prometheus.CounterVec

	IngestDuration        *prometheus.HistogramVec
	IngestEntitiesTotal   *prometheus.CounterVec
	OutboxPendingEvents   prometheus.Gauge
	OutboxDrainedTotal    *prometheus.CounterVec
	OutboxDiscardedTotal  prometheus.Counter
	PromptInjectionBlocks prometheus.Counter
}

// New creates a new Metrics instance registered against the default registry.
func New(serviceName string) *Metrics {
	return NewWithRegistry(serviceName, prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new Metrics instance with a custom registry.
func NewWithRegistry(serviceName string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "http_requests_total", Help: "Total number of HTTP requests"},
			[]string{"service", "method", "path", "status"},
		),
		RequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "HTTP request duration in seconds",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"service", "method", "path"},
		),
		RequestsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_requests_in_flight", Help: "Current number of in-flight HTTP requests",
		}),
		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "errors_total", Help: "Total number of errors by kind"},
			[]string{"service", "kind"},
		),
		QueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "query_node_duration_seconds",
				Help:    "Duration of each query DAG node",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"node"},
		),
		QueryComplexity: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "query_complexity_total", Help: "Classified query complexity"},
			[]string{"complexity"},
		),
		RetrievalDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "retrieval_path_duration_seconds", Help: "Retrieval path duration", Buckets: prometheus.DefBuckets},
			[]string{"path"},
		),
		RerankDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "rerank_duration_seconds", Help: "Reranker duration", Buckets: prometheus.DefBuckets},
			[]string{"strategy"},
		),
		CacheHitsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "cache_hits_total", Help: "Cache hits"}, []string{"cache"},
		),
		CacheMissesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "cache_misses_total", Help: "Cache misses"}, []string{"cache"},
		),
		CacheSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "cache_size", Help: "Current cache entry count"}, []string{"cache"},
		),
		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "circuit_breaker_state", Help: "0=closed 1=half_open 2=open"}, []string{"name"},
		),
		CircuitBreakerTrips: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "circuit_breaker_trips_total", Help: "Circuit breaker OPEN transitions"}, []string{"name"},
		),
		IngestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{Name: "ingest_duration_seconds", Help: "Ingestion pipeline stage duration", Buckets: prometheus.DefBuckets},
			[]string{"stage"},
		),
		IngestEntitiesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "ingest_entities_total", Help: "Entities extracted during ingestion"}, []string{"tenant_id"},
		),
		OutboxPendingEvents: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_events", Help: "Vector-sync events awaiting drain",
		}),
		OutboxDrainedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "outbox_drained_total", Help: "Vector-sync events drained"}, []string{"operation"},
		),
		OutboxDiscardedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "outbox_discarded_total", Help: "Vector-sync events discarded after exceeding max retries",
		}),
		PromptInjectionBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prompt_injection_blocks_total", Help: "Requests blocked by the prompt-injection guardrail",
		}),
	}

	collectors := []prometheus.Collector{
		m.RequestsTotal, m.RequestDuration, m.RequestsInFlight, m.ErrorsTotal,
		m.QueryDuration, m.QueryComplexity, m.RetrievalDuration, m.RerankDuration,
		m.CacheHitsTotal, m.CacheMissesTotal, m.CacheSize,
		m.CircuitBreakerState, m.CircuitBreakerTrips,
		m.IngestDuration, m.IngestEntitiesTotal, m.OutboxPendingEvents,
		m.OutboxDrainedTotal, m.OutboxDiscardedTotal, m.PromptInjectionBlocks,
	}
	for _, c := range collectors {
		_ = registerer.Register(c)
	}

	return m
}

// RecordHTTPRequest records a completed HTTP request.
func (m *Metrics) RecordHTTPRequest(service, method, path, status string, duration time.Duration) {
	m.RequestsTotal.WithLabelValues(service, method, path, status).Inc()
	m.RequestDuration.WithLabelValues(service, method, path).Observe(duration.Seconds())
}

// RecordError increments the error counter for a given error kind.
func (m *Metrics) RecordError(service, kind string) {
	m.ErrorsTotal.WithLabelValues(service, kind).Inc()
}

// IncrementInFlight increments the in-flight requests counter.
func (m *Metrics) IncrementInFlight() { m.RequestsInFlight.Inc() }

// DecrementInFlight decrements the in-flight requests counter.
func (m *Metrics) DecrementInFlight() { m.RequestsInFlight.Dec() }

// Enabled returns whether Prometheus metrics should be exposed.
//
// Defaults: production disables metrics unless METRICS_ENABLED is set;
// non-production enables them unless explicitly disabled.
func Enabled() bool {
	raw := strings.ToLower(strings.TrimSpace(os.Getenv("METRICS_ENABLED")))
	if raw == "" {
		return !isProduction()
	}
	switch raw {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

func isProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("DEPLOYMENT_MODE")), "production")
}
