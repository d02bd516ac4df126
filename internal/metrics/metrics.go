package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecommendRequestsTotal counts recommendation requests by outcome
	RecommendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fashionrec_recommend_requests_total",
			Help: "The total number of processed recommendation requests",
		},
		[]string{"status"},
	)

	// RecommendDurationSeconds measures end-to-end recommendation latency
	RecommendDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fashionrec_recommend_duration_seconds",
			Help:    "Duration of recommendation requests",
			Buckets: prometheus.DefBuckets,
		},
	)

	// StageDurationSeconds measures each pipeline stage (extract, similarity, rank)
	StageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fashionrec_stage_duration_seconds",
			Help:    "Duration of recommendation pipeline stages",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		},
		[]string{"stage"},
	)

	// ModelPredictionsTotal counts model invocations by backend and status
	ModelPredictionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fashionrec_model_predictions_total",
			Help: "Total number of feature model invocations",
		},
		[]string{"backend", "status"},
	)

	// ImageDecodeFailuresTotal counts uploads that could not be decoded
	ImageDecodeFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fashionrec_image_decode_failures_total",
			Help: "Total number of images that failed to decode or resize",
		},
	)

	// ComputationErrorsTotal counts failures inside similarity or ranking
	ComputationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fashionrec_computation_errors_total",
			Help: "Total number of similarity or ranking failures",
		},
		[]string{"stage"},
	)

	// ImagesServedTotal counts catalog image requests by status
	ImagesServedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fashionrec_images_served_total",
			Help: "Total number of catalog image requests",
		},
		[]string{"status"},
	)

	// HTTPRequestsTotal counts HTTP requests by route, method and code
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fashionrec_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "method", "code"},
	)

	// HTTPDurationSeconds measures HTTP handler latency by route
	HTTPDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fashionrec_http_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	// RateLimitRequestsTotal counts rate limiter decisions
	RateLimitRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fashionrec_rate_limit_requests_total",
			Help: "Total number of requests seen by the rate limiter",
		},
		[]string{"result"},
	)
)

// Corpus gauges
var (
	// CorpusSize tracks the number of reference embeddings loaded
	CorpusSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fashionrec_corpus_size",
			Help: "Number of embeddings in the reference corpus",
		},
	)

	// CorpusDimension tracks the embedding dimensionality
	CorpusDimension = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fashionrec_corpus_dimension",
			Help: "Dimensionality of reference corpus embeddings",
		},
	)

	// CorpusZeroNormVectors tracks degenerate embeddings in the corpus
	CorpusZeroNormVectors = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fashionrec_corpus_zero_norm_vectors",
			Help: "Number of corpus embeddings with zero L2 norm",
		},
	)

	// CorpusLoadDurationSeconds measures corpus loading at startup
	CorpusLoadDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fashionrec_corpus_load_duration_seconds",
			Help:    "Time taken to load the reference corpus",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
	)

	// CandidateIndexBuildSeconds measures HNSW candidate index construction
	CandidateIndexBuildSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "fashionrec_candidate_index_build_seconds",
			Help:    "Time taken to build the candidate index",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
	)
)

// Logging metrics
var (
	// LogEntriesTotal counts log entries by level
	LogEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fashionrec_log_entries_total",
			Help: "Total number of log entries by level",
		},
		[]string{"level"},
	)

	// LogErrorsTotal counts error-level log entries specifically
	LogErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fashionrec_log_errors_total",
			Help: "Total number of error log entries",
		},
	)
)

// Health metrics
var (
	// HealthCheckDurationSeconds measures component health checks
	HealthCheckDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "fashionrec_health_check_duration_seconds",
			Help:    "Duration of health checks",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"component"},
	)

	// ComponentHealthStatus tracks component status (1=healthy, 0.5=degraded, 0=unhealthy)
	ComponentHealthStatus = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fashionrec_component_health_status",
			Help: "Current component health status (1=healthy, 0.5=degraded, 0=unhealthy)",
		},
		[]string{"component"},
	)
)

// Model resilience metrics
var (
	// ModelBreakerState tracks the model circuit breaker (0=closed, 1=open, 2=half_open)
	ModelBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "fashionrec_model_breaker_state",
			Help: "Current model circuit breaker state (0=closed, 1=open, 2=half_open)",
		},
		[]string{"name"},
	)

	// ModelBreakerTransitionsTotal counts breaker state changes by target state
	ModelBreakerTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fashionrec_model_breaker_transitions_total",
			Help: "Total number of model circuit breaker state transitions",
		},
		[]string{"name", "to"},
	)

	// ModelBreakerRejectionsTotal counts calls failed fast by an open breaker
	ModelBreakerRejectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fashionrec_model_breaker_rejections_total",
			Help: "Total number of model calls rejected by the circuit breaker",
		},
		[]string{"name"},
	)
)

// Embedding cache metrics
var (
	// EmbeddingCacheRequestsTotal counts cache lookups by result (hit, miss)
	EmbeddingCacheRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fashionrec_embedding_cache_requests_total",
			Help: "Total number of upload embedding cache lookups",
		},
		[]string{"result"},
	)

	// EmbeddingCacheEvictionsTotal counts entries dropped for capacity or age
	EmbeddingCacheEvictionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "fashionrec_embedding_cache_evictions_total",
			Help: "Total number of upload embedding cache evictions",
		},
	)

	// EmbeddingCacheEntries tracks the number of cached embeddings
	EmbeddingCacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "fashionrec_embedding_cache_entries",
			Help: "Number of embeddings held in the upload cache",
		},
	)
)
