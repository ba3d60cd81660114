package observability

import (
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics carries every Prometheus collector the service exports. One
// instance per process, wired explicitly; the registry is private so tests
// can build isolated instances.
type Metrics struct {
	registry *prometheus.Registry

	apiRequests *prometheus.CounterVec
	apiLatency  *prometheus.HistogramVec
	apiInflight prometheus.Gauge

	ingestDocuments *prometheus.CounterVec
	ingestLatency   *prometheus.HistogramVec
	ingestFragments *prometheus.CounterVec

	answerTotal   *prometheus.CounterVec
	answerLatency *prometheus.HistogramVec

	vectorOps       *prometheus.CounterVec
	vectorOpLatency *prometheus.HistogramVec
	indexSize       prometheus.Gauge
}

// Enabled reports whether METRICS_ENABLED asks for the /metrics endpoint.
func Enabled() bool {
	v := strings.TrimSpace(strings.ToLower(os.Getenv("METRICS_ENABLED")))
	if v == "" {
		return false
	}
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

var latencyBuckets = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		apiRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docqa_api_requests_total",
			Help: "HTTP requests by method, route and status.",
		}, []string{"method", "route", "status"}),
		apiLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docqa_api_request_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: latencyBuckets,
		}, []string{"method", "route"}),
		apiInflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docqa_api_inflight_requests",
			Help: "HTTP requests currently being served.",
		}),
		ingestDocuments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docqa_ingest_documents_total",
			Help: "Ingested documents by source kind and outcome.",
		}, []string{"kind", "status"}),
		ingestLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docqa_ingest_seconds",
			Help:    "Whole-document ingestion latency by source kind.",
			Buckets: latencyBuckets,
		}, []string{"kind"}),
		ingestFragments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docqa_ingest_fragments_total",
			Help: "Fragments committed by fragment type.",
		}, []string{"type"}),
		answerTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docqa_answers_total",
			Help: "Answered questions by routing mode and outcome.",
		}, []string{"rag_mode", "status"}),
		answerLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docqa_answer_seconds",
			Help:    "Question answering latency by routing mode.",
			Buckets: latencyBuckets,
		}, []string{"rag_mode"}),
		vectorOps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "docqa_vector_store_operations_total",
			Help: "Vector store operations by operation and outcome.",
		}, []string{"operation", "status"}),
		vectorOpLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docqa_vector_store_operation_seconds",
			Help:    "Vector store operation latency.",
			Buckets: latencyBuckets,
		}, []string{"operation"}),
		indexSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "docqa_index_fragments",
			Help: "Fragments resident in the in-memory vector index.",
		}),
	}

	reg.MustRegister(
		m.apiRequests, m.apiLatency, m.apiInflight,
		m.ingestDocuments, m.ingestLatency, m.ingestFragments,
		m.answerTotal, m.answerLatency,
		m.vectorOps, m.vectorOpLatency, m.indexSize,
	)
	return m
}

// Handler serves this instance's registry in Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ApiInflightInc() {
	if m == nil {
		return
	}
	m.apiInflight.Inc()
}

func (m *Metrics) ApiInflightDec() {
	if m == nil {
		return
	}
	m.apiInflight.Dec()
}

func (m *Metrics) ObserveAPI(method, route, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.apiRequests.WithLabelValues(method, route, status).Inc()
	m.apiLatency.WithLabelValues(method, route).Observe(dur.Seconds())
}

func (m *Metrics) ObserveIngest(kind, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.ingestDocuments.WithLabelValues(kind, status).Inc()
	m.ingestLatency.WithLabelValues(kind).Observe(dur.Seconds())
}

func (m *Metrics) AddFragments(fragmentType string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.ingestFragments.WithLabelValues(fragmentType).Add(float64(n))
}

func (m *Metrics) ObserveAnswer(ragMode, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.answerTotal.WithLabelValues(ragMode, status).Inc()
	m.answerLatency.WithLabelValues(ragMode).Observe(dur.Seconds())
}

func (m *Metrics) ObserveVectorStore(operation, status string, dur time.Duration) {
	if m == nil {
		return
	}
	m.vectorOps.WithLabelValues(operation, status).Inc()
	m.vectorOpLatency.WithLabelValues(operation).Observe(dur.Seconds())
}

func (m *Metrics) SetIndexSize(n int) {
	if m == nil {
		return
	}
	m.indexSize.Set(float64(n))
}
