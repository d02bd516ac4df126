package main

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"

	"github.com/brittybidari/FashionRecSys/internal/ann"
	"github.com/brittybidari/FashionRecSys/internal/api"
	"github.com/brittybidari/FashionRecSys/internal/core"
	"github.com/brittybidari/FashionRecSys/internal/corpus"
	"github.com/brittybidari/FashionRecSys/internal/extractor"
	"github.com/brittybidari/FashionRecSys/internal/limiter"
	"github.com/brittybidari/FashionRecSys/internal/ranking"
	"github.com/brittybidari/FashionRecSys/internal/recommend"
	"github.com/brittybidari/FashionRecSys/internal/storage"
)

// envPrefix namespaces every environment variable, e.g. FASHIONREC_LISTEN_ADDR.
const envPrefix = "FASHIONREC"

// Config validation errors
var (
	ErrInvalidListenAddr      = errors.New("listen_addr cannot be empty")
	ErrInvalidMetricsAddr     = errors.New("metrics_addr cannot be empty")
	ErrInvalidLogFormat       = errors.New("log_format must be 'json' or 'console'")
	ErrInvalidLogLevel        = errors.New("log_level must be debug, info, warn, or error")
	ErrInvalidCorpusURI       = errors.New("corpus_uri cannot be empty")
	ErrInvalidCatalogURI      = errors.New("catalog_uri cannot be empty")
	ErrInvalidImageSize       = errors.New("image_width and image_height must be positive")
	ErrInvalidTopN            = errors.New("top_n must be positive and not exceed max_top_n")
	ErrInvalidCandidatePool   = errors.New("candidate_pool must be positive")
	ErrInvalidMinScore        = errors.New("ranking_min_score must be a number in [-1, 1]")
	ErrInvalidExtractTimeout  = errors.New("extract_timeout must be positive")
	ErrInvalidMaxUploadBytes  = errors.New("max_upload_bytes must be positive")
	ErrInvalidMaxImagePixels  = errors.New("max_image_pixels must be positive")
	ErrInvalidShutdownTimeout = errors.New("shutdown_timeout must be positive")
	ErrInvalidSampleRatio     = errors.New("otel_sample_ratio must be within [0, 1]")
	ErrInvalidModelBreaker    = errors.New("model_breaker_failures cannot be negative and model_breaker_cooldown must be positive")
	ErrInvalidEmbeddingCache  = errors.New("embedding_cache_size and embedding_cache_ttl cannot be negative")
	ErrMissingModelEndpoint   = errors.New("model_endpoint is required for the http backend")
	ErrMissingSageMaker       = errors.New("sagemaker_endpoint is required for the sagemaker backend")
)

// Config is the process configuration, read from FASHIONREC_* variables.
type Config struct {
	ListenAddr     string `envconfig:"LISTEN_ADDR"`
	MetricsAddr    string `envconfig:"METRICS_ADDR"`
	GRPCHealthAddr string `envconfig:"GRPC_HEALTH_ADDR"` // empty disables the gRPC health listener

	LogFormat string `envconfig:"LOG_FORMAT"`
	LogLevel  string `envconfig:"LOG_LEVEL"`

	CorpusURI        string `envconfig:"CORPUS_URI"` // feature matrix object, local path or s3://bucket/key
	CorpusFormat     string `envconfig:"CORPUS_FORMAT"`
	CorpusManifest   string `envconfig:"CORPUS_MANIFEST"` // key next to the matrix
	CatalogURI       string `envconfig:"CATALOG_URI"`     // image directory or s3://bucket/prefix
	CatalogPattern   string `envconfig:"CATALOG_PATTERN"`
	AllowEmptyCorpus bool   `envconfig:"ALLOW_EMPTY_CORPUS"`

	ModelBackend      string        `envconfig:"MODEL_BACKEND"`
	ModelEndpoint     string        `envconfig:"MODEL_ENDPOINT"`
	ModelInstances    bool          `envconfig:"MODEL_INSTANCES"`
	ModelTimeout      time.Duration `envconfig:"MODEL_TIMEOUT"`
	SageMakerEndpoint string        `envconfig:"SAGEMAKER_ENDPOINT"`
	AWSRegion         string        `envconfig:"AWS_REGION"`

	// remote backends only; 0 failures disables the breaker
	ModelBreakerFailures int           `envconfig:"MODEL_BREAKER_FAILURES"`
	ModelBreakerCooldown time.Duration `envconfig:"MODEL_BREAKER_COOLDOWN"`

	EmbeddingCacheSize int           `envconfig:"EMBEDDING_CACHE_SIZE"` // 0 disables
	EmbeddingCacheTTL  time.Duration `envconfig:"EMBEDDING_CACHE_TTL"`

	S3 storage.S3Config `envconfig:"S3"`

	ImageWidth    int    `envconfig:"IMAGE_WIDTH"`
	ImageHeight   int    `envconfig:"IMAGE_HEIGHT"`
	ChannelOrder  string `envconfig:"CHANNEL_ORDER"`
	Normalization string `envconfig:"NORMALIZATION"`

	TopN              int     `envconfig:"TOP_N"`
	MaxTopN           int     `envconfig:"MAX_TOP_N"`
	RankingDuplicates string  `envconfig:"RANKING_DUPLICATES"`
	RankingMinScore   string  `envconfig:"RANKING_MIN_SCORE"` // empty disables the floor
	RankingMode       string  `envconfig:"RANKING_MODE"`
	CandidatePool     int     `envconfig:"CANDIDATE_POOL"`
	HNSWM             int     `envconfig:"HNSW_M"`
	HNSWEfSearch      int     `envconfig:"HNSW_EF_SEARCH"`
	SimilarityChunk   int     `envconfig:"SIMILARITY_CHUNK_SIZE"`
	SimilarityWorkers int     `envconfig:"SIMILARITY_PARALLELISM"`
	DuplicateEpsilon  float64 `envconfig:"RANKING_DUPLICATE_EPSILON"`

	ExtractTimeout  time.Duration `envconfig:"EXTRACT_TIMEOUT"`
	MaxUploadBytes  int64         `envconfig:"MAX_UPLOAD_BYTES"`
	MaxImagePixels  int           `envconfig:"MAX_IMAGE_PIXELS"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT"`

	RateLimitRPS   int `envconfig:"RATE_LIMIT_RPS"`
	RateLimitBurst int `envconfig:"RATE_LIMIT_BURST"`

	OTelEndpoint    string  `envconfig:"OTEL_ENDPOINT"`
	OTelStdout      bool    `envconfig:"OTEL_STDOUT"`
	OTelSampleRatio float64 `envconfig:"OTEL_SAMPLE_RATIO"`
}

// DefaultConfig returns a Config with default values
func DefaultConfig() Config {
	return Config{
		ListenAddr:  "0.0.0.0:5000",
		MetricsAddr: "0.0.0.0:9090",

		LogFormat: "json",
		LogLevel:  "info",

		CorpusURI:      "./raw_features_MainDataset_80x80.npy",
		CatalogURI:     "./images",
		CatalogPattern: corpus.DefaultCatalogPattern,

		ModelBackend: string(extractor.BackendIdentity),
		ModelTimeout: extractor.DefaultTimeout,

		ModelBreakerFailures: 5,
		ModelBreakerCooldown: 30 * time.Second,
		EmbeddingCacheSize:   256,
		EmbeddingCacheTTL:    10 * time.Minute,

		S3: storage.S3Config{Region: "us-east-1"},

		ImageWidth:    extractor.DefaultWidth,
		ImageHeight:   extractor.DefaultHeight,
		ChannelOrder:  string(extractor.ChannelsBGR),
		Normalization: string(extractor.NormMobileNet),

		TopN:              recommend.DefaultTopN,
		MaxTopN:           recommend.DefaultMaxTopN,
		RankingDuplicates: string(core.DuplicatesKeep),
		RankingMode:       string(core.RankingExact),
		CandidatePool:     recommend.DefaultCandidatePool,
		HNSWM:             ann.DefaultOptions().M,
		HNSWEfSearch:      ann.DefaultOptions().EfSearch,
		DuplicateEpsilon:  ranking.DefaultDuplicateEpsilon,

		ExtractTimeout:  extractor.DefaultTimeout,
		MaxUploadBytes:  api.DefaultMaxUploadBytes,
		MaxImagePixels:  extractor.DefaultMaxPixels,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    60 * time.Second,
		ShutdownTimeout: 15 * time.Second,

		OTelSampleRatio: 1,
	}
}

// LoadConfig reads an optional dotenv file, then FASHIONREC_* variables on
// top of the defaults. Variables already set in the environment win over the
// file. A missing envFile is not an error unless it was named explicitly.
func LoadConfig(envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil {
			return Config{}, fmt.Errorf("failed to load %s: %w", envFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return Config{}, fmt.Errorf("failed to load .env: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := envconfig.Process(envPrefix, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to process environment: %w", err)
	}
	return cfg, nil
}

// ValidateConfig validates the configuration and returns an error if invalid
func ValidateConfig(cfg *Config) error {
	if cfg.ListenAddr == "" {
		return ErrInvalidListenAddr
	}
	if cfg.MetricsAddr == "" {
		return ErrInvalidMetricsAddr
	}
	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return ErrInvalidLogFormat
	}
	if cfg.LogLevel != "debug" && cfg.LogLevel != "info" && cfg.LogLevel != "warn" && cfg.LogLevel != "error" {
		return ErrInvalidLogLevel
	}
	if cfg.CorpusURI == "" {
		return ErrInvalidCorpusURI
	}
	if cfg.CatalogURI == "" {
		return ErrInvalidCatalogURI
	}
	if cfg.ImageWidth <= 0 || cfg.ImageHeight <= 0 {
		return ErrInvalidImageSize
	}
	if cfg.TopN <= 0 || cfg.MaxTopN <= 0 || cfg.TopN > cfg.MaxTopN {
		return ErrInvalidTopN
	}
	if cfg.CandidatePool <= 0 {
		return ErrInvalidCandidatePool
	}
	if _, _, err := cfg.minScore(); err != nil {
		return err
	}
	if cfg.ExtractTimeout <= 0 {
		return ErrInvalidExtractTimeout
	}
	if cfg.MaxUploadBytes <= 0 {
		return ErrInvalidMaxUploadBytes
	}
	if cfg.MaxImagePixels <= 0 {
		return ErrInvalidMaxImagePixels
	}
	if cfg.ShutdownTimeout <= 0 {
		return ErrInvalidShutdownTimeout
	}
	if cfg.OTelSampleRatio < 0 || cfg.OTelSampleRatio > 1 {
		return ErrInvalidSampleRatio
	}
	if cfg.ModelBreakerFailures < 0 || cfg.ModelBreakerCooldown <= 0 {
		return ErrInvalidModelBreaker
	}
	if cfg.EmbeddingCacheSize < 0 || cfg.EmbeddingCacheTTL < 0 {
		return ErrInvalidEmbeddingCache
	}

	if _, err := corpus.ParseFormat(cfg.CorpusFormat); err != nil {
		return err
	}
	if _, err := extractor.ParseChannelOrder(cfg.ChannelOrder); err != nil {
		return err
	}
	if _, err := extractor.ParseNormalization(cfg.Normalization); err != nil {
		return err
	}
	if _, err := core.ParseDuplicatePolicy(cfg.RankingDuplicates); err != nil {
		return err
	}
	if _, err := core.ParseRankingMode(cfg.RankingMode); err != nil {
		return err
	}

	backend, err := extractor.ParseBackend(cfg.ModelBackend)
	if err != nil {
		return err
	}
	switch backend {
	case extractor.BackendHTTP:
		if cfg.ModelEndpoint == "" {
			return ErrMissingModelEndpoint
		}
	case extractor.BackendSageMaker:
		if cfg.SageMakerEndpoint == "" {
			return ErrMissingSageMaker
		}
	}
	return nil
}

func (cfg *Config) minScore() (float64, bool, error) {
	if cfg.RankingMinScore == "" {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(cfg.RankingMinScore, 64)
	if err != nil || v < -1 || v > 1 {
		return 0, false, ErrInvalidMinScore
	}
	return v, true, nil
}

// Preprocessor builds the extractor preprocessing from the image settings.
func (cfg *Config) Preprocessor() extractor.Preprocessor {
	order, _ := extractor.ParseChannelOrder(cfg.ChannelOrder)
	norm, _ := extractor.ParseNormalization(cfg.Normalization)
	return extractor.Preprocessor{
		Width:         cfg.ImageWidth,
		Height:        cfg.ImageHeight,
		Order:         order,
		Normalization: norm,
	}
}

// RecommendConfig builds the per-request ranking policy.
func (cfg *Config) RecommendConfig() recommend.Config {
	dup, _ := core.ParseDuplicatePolicy(cfg.RankingDuplicates)
	mode, _ := core.ParseRankingMode(cfg.RankingMode)
	floor, enabled, _ := cfg.minScore()
	return recommend.Config{
		DefaultTopN: cfg.TopN,
		MaxTopN:     cfg.MaxTopN,
		Ranking: ranking.Options{
			Duplicates:       dup,
			DuplicateEpsilon: cfg.DuplicateEpsilon,
			MinScore:         floor,
			MinScoreEnabled:  enabled,
		},
		Mode:          mode,
		CandidatePool: cfg.CandidatePool,
	}
}

// IndexOptions builds the HNSW graph parameters.
func (cfg *Config) IndexOptions() ann.Options {
	opts := ann.DefaultOptions()
	if cfg.HNSWM > 0 {
		opts.M = cfg.HNSWM
	}
	if cfg.HNSWEfSearch > 0 {
		opts.EfSearch = cfg.HNSWEfSearch
	}
	return opts
}

// LimiterConfig builds the inbound rate limit settings.
func (cfg *Config) LimiterConfig() limiter.Config {
	return limiter.Config{RPS: cfg.RateLimitRPS, Burst: cfg.RateLimitBurst}
}
