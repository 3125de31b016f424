package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ingestion and enrichment Prometheus metrics.
var (
	IngestStagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "noesis",
			Name:      "ingest_stages_total",
			Help:      "Ingestion pipeline stage outcomes",
		},
		[]string{"stage", "status"}, // status: "ok" / "degraded" / "error"
	)

	IngestDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "noesis",
			Name:      "ingest_documents_total",
			Help:      "Documents ingested by terminal status",
		},
		[]string{"status"}, // "completed" / "failed"
	)

	EnrichmentRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "noesis",
			Name:      "enrichment_requests_total",
			Help:      "Enrichment provider requests",
		},
		[]string{"operation", "status"}, // operation: summarize/extract/embed/generate/title
	)

	EnrichmentRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "noesis",
			Name:      "enrichment_request_duration_seconds",
			Help:      "Enrichment request duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	EmbeddingCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "noesis",
			Name:      "embedding_cache_total",
			Help:      "Embedding cache hits and misses",
		},
		[]string{"result"}, // "hit" / "miss"
	)

	RetrievalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "noesis",
			Name:      "retrieval_requests_total",
			Help:      "Retrieval requests by mode actually used",
		},
		[]string{"mode"}, // "hybrid" / "lexical_only" / "empty"
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(IngestStagesTotal)
	prometheus.MustRegister(IngestDocumentsTotal)
	prometheus.MustRegister(EnrichmentRequestsTotal)
	prometheus.MustRegister(EnrichmentRequestDuration)
	prometheus.MustRegister(EmbeddingCacheTotal)
	prometheus.MustRegister(RetrievalRequestsTotal)
	pipelineMetricsRegistered = true
}
