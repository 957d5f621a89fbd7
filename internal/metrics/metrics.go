// Package metrics provides Prometheus metrics for the docs-expert service
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the docs-expert service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	// Ingestion metrics
	DocumentsProcessed  prometheus.Counter
	DocumentsSkipped    prometheus.Counter
	ChunksCreated       prometheus.Counter
	ChunksPruned        prometheus.Counter
	EmbeddingsGenerated prometheus.Counter
	IngestionDuration   prometheus.Histogram
	IngestionErrors     prometheus.Counter
	ActiveIngestions    prometheus.Gauge
	StoredChunks        prometheus.Gauge

	// Query metrics
	RequestDuration   *prometheus.HistogramVec
	RequestErrors     *prometheus.CounterVec
	SearchResultCount prometheus.Histogram
	ActiveSessions    prometheus.Gauge

	// Provider metrics
	EmbeddingDuration prometheus.Histogram
	APICallsCount     *prometheus.CounterVec
	APICallErrors     *prometheus.CounterVec
	CacheHits         prometheus.Counter
	CacheMisses       prometheus.Counter

	// Cognitive metrics
	CognitiveLoad       prometheus.Gauge
	ProcessingLatency   prometheus.Gauge
	SemanticConsistency prometheus.Gauge
	ErrorRate           prometheus.Gauge
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		// Ingestion metrics
		DocumentsProcessed: factory.NewCounter(prometheus.CounterOpts{
			Name: "docs_expert_documents_processed_total",
			Help: "Total number of documents ingested",
		}),
		DocumentsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Name: "docs_expert_documents_skipped_total",
			Help: "Total number of documents skipped because they could not be read",
		}),
		ChunksCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "docs_expert_chunks_created_total",
			Help: "Total number of chunks written to the vector store",
		}),
		ChunksPruned: factory.NewCounter(prometheus.CounterOpts{
			Name: "docs_expert_chunks_pruned_total",
			Help: "Total number of chunks removed for deleted documents",
		}),
		EmbeddingsGenerated: factory.NewCounter(prometheus.CounterOpts{
			Name: "docs_expert_embeddings_generated_total",
			Help: "Total number of embeddings generated",
		}),
		IngestionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docs_expert_ingestion_duration_seconds",
			Help:    "Duration of ingestion runs in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 500ms to ~17min
		}),
		IngestionErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "docs_expert_ingestion_errors_total",
			Help: "Total number of failed ingestion runs",
		}),
		ActiveIngestions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docs_expert_active_ingestions",
			Help: "Number of ingestion runs in progress",
		}),
		StoredChunks: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docs_expert_stored_chunks",
			Help: "Number of chunks in the vector store after the last ingestion",
		}),

		// Query metrics
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "docs_expert_request_duration_seconds",
			Help:    "Duration of answer, chat and search operations in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		}, []string{"operation"}),
		RequestErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docs_expert_request_errors_total",
			Help: "Total number of failed operations by operation and error kind",
		}, []string{"operation", "kind"}),
		SearchResultCount: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docs_expert_search_results_count",
			Help:    "Number of results returned per search",
			Buckets: prometheus.LinearBuckets(0, 5, 11), // 0 to 50 results
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docs_expert_active_sessions",
			Help: "Number of chat sessions held in memory",
		}),

		// Provider metrics
		EmbeddingDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "docs_expert_embedding_duration_seconds",
			Help:    "Duration of embedding provider calls in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10), // 50ms to ~25s
		}),
		APICallsCount: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docs_expert_api_calls_total",
			Help: "Total number of model provider calls by provider and operation",
		}, []string{"provider", "operation"}),
		APICallErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "docs_expert_api_call_errors_total",
			Help: "Total number of failed model provider calls by provider and operation",
		}, []string{"provider", "operation"}),
		CacheHits: factory.NewCounter(prometheus.CounterOpts{
			Name: "docs_expert_embedding_cache_hits_total",
			Help: "Total number of embedding cache hits",
		}),
		CacheMisses: factory.NewCounter(prometheus.CounterOpts{
			Name: "docs_expert_embedding_cache_misses_total",
			Help: "Total number of embedding cache misses",
		}),

		// Cognitive metrics
		CognitiveLoad: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docs_expert_cognitive_load_index",
			Help: "Most recent cognitive load index (0-1)",
		}),
		ProcessingLatency: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docs_expert_processing_latency_ms",
			Help: "Most recent answer latency in milliseconds",
		}),
		SemanticConsistency: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docs_expert_semantic_consistency",
			Help: "Most recent semantic consistency score (0-1)",
		}),
		ErrorRate: factory.NewGauge(prometheus.GaugeOpts{
			Name: "docs_expert_error_rate",
			Help: "Most recent error rate sample (0-1)",
		}),
	}
}

// RecordIngestionMetrics records metrics for an ingestion run
func (m *Metrics) RecordIngestionMetrics(docs, skipped, chunks, pruned int64, duration time.Duration, err error) {
	if m == nil {
		return
	}
	m.DocumentsProcessed.Add(float64(docs))
	m.DocumentsSkipped.Add(float64(skipped))
	m.ChunksCreated.Add(float64(chunks))
	m.ChunksPruned.Add(float64(pruned))
	m.IngestionDuration.Observe(duration.Seconds())

	if err != nil {
		m.IngestionErrors.Inc()
	}
}

// IngestionStarted tracks a running ingestion; the returned func marks it done
func (m *Metrics) IngestionStarted() func() {
	if m == nil {
		return func() {}
	}
	m.ActiveIngestions.Inc()
	return m.ActiveIngestions.Dec
}

// SetStoredChunks records the current store size
func (m *Metrics) SetStoredChunks(n int64) {
	if m == nil {
		return
	}
	m.StoredChunks.Set(float64(n))
}

// RecordRequest records the duration and outcome of a query-path operation
func (m *Metrics) RecordRequest(operation string, duration time.Duration, errKind string) {
	if m == nil {
		return
	}
	m.RequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
	if errKind != "" {
		m.RequestErrors.WithLabelValues(operation, errKind).Inc()
	}
}

// RecordSearchResults records how many results a search returned
func (m *Metrics) RecordSearchResults(n int) {
	if m == nil {
		return
	}
	m.SearchResultCount.Observe(float64(n))
}

// SetActiveSessions records the size of the session registry
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.ActiveSessions.Set(float64(n))
}

// RecordAPICall records a model provider call
func (m *Metrics) RecordAPICall(provider, operation string, err error) {
	if m == nil {
		return
	}
	m.APICallsCount.WithLabelValues(provider, operation).Inc()
	if err != nil {
		m.APICallErrors.WithLabelValues(provider, operation).Inc()
	}
}

// RecordEmbedding records embedding generation
func (m *Metrics) RecordEmbedding(count int, duration time.Duration) {
	if m == nil {
		return
	}
	m.EmbeddingsGenerated.Add(float64(count))
	m.EmbeddingDuration.Observe(duration.Seconds())
}

// RecordCacheLookup records an embedding cache hit or miss
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheHits.Inc()
		return
	}
	m.CacheMisses.Inc()
}

// SetCognitiveMetrics publishes the latest cognitive measurement
func (m *Metrics) SetCognitiveMetrics(load, latencyMs, consistency, errorRate float64) {
	if m == nil {
		return
	}
	m.CognitiveLoad.Set(load)
	m.ProcessingLatency.Set(latencyMs)
	m.SemanticConsistency.Set(consistency)
	m.ErrorRate.Set(errorRate)
}
