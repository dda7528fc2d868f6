package config

import (
	"fmt"
	"time"

	"github.com/cloo-solutions/kbindex/internal/textsplit"
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Debug       bool   `envconfig:"DEBUG" default:"false"`
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogMode     string `envconfig:"LOG_MODE" default:"dev"`

	DatabaseURL        string        `envconfig:"DATABASE_URL" required:"true"`
	DBMaxConns         int32         `envconfig:"DB_MAX_CONNS" default:"20"`
	DBMinConns         int32         `envconfig:"DB_MIN_CONNS" default:"2"`
	DBAcquireTimeout   time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"5s"`
	DBStatementTimeout time.Duration `envconfig:"DB_STATEMENT_TIMEOUT" default:"60s"`
	MigrationsSource   string        `envconfig:"MIGRATIONS_SOURCE" default:"file://migrations"`

	OpenAIAPIKey  string  `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL string  `envconfig:"OPENAI_BASE_URL"`
	EmbeddingRPS  float64 `envconfig:"EMBEDDING_RPS" default:"20"`
	ModelsFile    string  `envconfig:"MODELS_FILE"`

	DefaultVectorModel string `envconfig:"DEFAULT_VECTOR_MODEL" default:"text-embedding-3-small"`
	DefaultQAModel     string `envconfig:"DEFAULT_QA_MODEL" default:"gpt-4o-mini"`

	VectorDimensions int    `envconfig:"VECTOR_DIMENSIONS" default:"1536"`
	VectorPrecision  string `envconfig:"VECTOR_PRECISION" default:"full"`
	VectorIndex      string `envconfig:"VECTOR_INDEX" default:"hnsw"`
	VectorMetric     string `envconfig:"VECTOR_METRIC" default:"cosine"`
	VectorProbes     int    `envconfig:"VECTOR_PROBES" default:"100"`
	HNSWM            int    `envconfig:"HNSW_M" default:"32"`
	HNSWEfConstruct  int    `envconfig:"HNSW_EF_CONSTRUCTION" default:"128"`
	IVFFlatLists     int    `envconfig:"IVFFLAT_LISTS" default:"100"`

	Workers            int           `envconfig:"WORKERS" default:"10"`
	LeaseDuration      time.Duration `envconfig:"LEASE_DURATION" default:"3m"`
	LeaseRenewInterval time.Duration `envconfig:"LEASE_RENEW_INTERVAL" default:"1m"`
	IdleBackoffMin     time.Duration `envconfig:"IDLE_BACKOFF_MIN" default:"500ms"`
	IdleBackoffMax     time.Duration `envconfig:"IDLE_BACKOFF_MAX" default:"10s"`
	DispatcherPause    time.Duration `envconfig:"DISPATCHER_PAUSE" default:"5s"`
	JobRetryCount      int           `envconfig:"JOB_RETRY_COUNT" default:"5"`
	JobRetryDelay      time.Duration `envconfig:"JOB_RETRY_DELAY" default:"0s"`
	ChunkSize          int           `envconfig:"CHUNK_SIZE" default:"512"`
	ChunkOverlap       float64       `envconfig:"CHUNK_OVERLAP" default:"0.15"`

	RebuildBatchSize    int           `envconfig:"REBUILD_BATCH_SIZE" default:"20"`
	RebuildRetryCount   int           `envconfig:"REBUILD_RETRY_COUNT" default:"50"`
	RebuildPollInterval time.Duration `envconfig:"REBUILD_POLL_INTERVAL" default:"5s"`

	SearchDefaultLimit     int `envconfig:"SEARCH_DEFAULT_LIMIT" default:"10"`
	SearchDefaultMaxTokens int `envconfig:"SEARCH_DEFAULT_MAX_TOKENS" default:"3000"`

	// API_KEYS is a comma separated list of token:team pairs
	APIKeys map[string]string `envconfig:"API_KEYS"`

	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD"`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	TeamTokenQuota  int64         `envconfig:"TEAM_TOKEN_QUOTA" default:"0"`
	TeamQuotaWindow time.Duration `envconfig:"TEAM_QUOTA_WINDOW" default:"24h"`

	S3Endpoint       string `envconfig:"S3_ENDPOINT"`
	S3AccessKey      string `envconfig:"S3_ACCESS_KEY_ID"`
	S3SecretKey      string `envconfig:"S3_SECRET_ACCESS_KEY"`
	S3Bucket         string `envconfig:"S3_BUCKET" default:"kbindex-imports"`
	S3Region         string `envconfig:"S3_REGION" default:"us-east-1"`
	S3MaxObjectBytes int64  `envconfig:"S3_MAX_OBJECT_BYTES" default:"20971520"`

	SentryDSN        string  `envconfig:"SENTRY_DSN"`
	SentrySampleRate float64 `envconfig:"SENTRY_SAMPLE_RATE" default:"0"`

	MetricsEnabled bool `envconfig:"METRICS_ENABLED" default:"true"`
	// MetricsPort serves /metrics from the worker command, which has no API listener.
	MetricsPort string `envconfig:"METRICS_PORT"`
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("KBINDEX", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate rejects combinations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.Workers <= 0 {
		return fmt.Errorf("invalid config: WORKERS must be positive")
	}
	if c.LeaseDuration <= 0 {
		return fmt.Errorf("invalid config: LEASE_DURATION must be positive")
	}
	if c.LeaseRenewInterval <= 0 || c.LeaseRenewInterval >= c.LeaseDuration {
		return fmt.Errorf("invalid config: LEASE_RENEW_INTERVAL must be positive and shorter than LEASE_DURATION")
	}
	if c.IdleBackoffMin <= 0 || c.IdleBackoffMax < c.IdleBackoffMin {
		return fmt.Errorf("invalid config: IDLE_BACKOFF_MIN/MAX out of order")
	}
	if c.JobRetryCount <= 0 || c.RebuildRetryCount <= 0 {
		return fmt.Errorf("invalid config: retry counts must be positive")
	}
	if c.RebuildBatchSize <= 0 {
		return fmt.Errorf("invalid config: REBUILD_BATCH_SIZE must be positive")
	}
	if c.VectorDimensions <= 0 {
		return fmt.Errorf("invalid config: VECTOR_DIMENSIONS must be positive")
	}
	switch c.VectorPrecision {
	case "full", "half":
	default:
		return fmt.Errorf("invalid config: VECTOR_PRECISION must be full or half")
	}
	switch c.VectorIndex {
	case "hnsw", "ivfflat":
	default:
		return fmt.Errorf("invalid config: VECTOR_INDEX must be hnsw or ivfflat")
	}
	switch c.VectorMetric {
	case "cosine", "ip":
	default:
		return fmt.Errorf("invalid config: VECTOR_METRIC must be cosine or ip")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap > textsplit.MaxOverlapRatio {
		return fmt.Errorf("invalid config: CHUNK_OVERLAP must be within [0, %g]", textsplit.MaxOverlapRatio)
	}
	return nil
}

func (c *Config) HasS3() bool {
	return c.S3Endpoint != "" && c.S3AccessKey != "" && c.S3SecretKey != ""
}

func (c *Config) HasOpenAI() bool {
	return c.OpenAIAPIKey != ""
}

func (c *Config) HasRedis() bool {
	return c.RedisAddr != ""
}

func (c *Config) HasSentry() bool {
	return c.SentryDSN != ""
}

// SentrySampling defaults to full sampling in development and 10% elsewhere.
func (c *Config) SentrySampling() float64 {
	if c.SentrySampleRate > 0 {
		return c.SentrySampleRate
	}
	if c.Environment == "development" {
		return 1.0
	}
	return 0.1
}

// DispatcherConfig groups the training queue worker settings.
type DispatcherConfig struct {
	Workers            int
	LeaseDuration      time.Duration
	LeaseRenewInterval time.Duration
	IdleBackoffMin     time.Duration
	IdleBackoffMax     time.Duration
	Pause              time.Duration
	RetryCount         int
	RetryDelay         time.Duration
}

func (c *Config) DispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		Workers:            c.Workers,
		LeaseDuration:      c.LeaseDuration,
		LeaseRenewInterval: c.LeaseRenewInterval,
		IdleBackoffMin:     c.IdleBackoffMin,
		IdleBackoffMax:     c.IdleBackoffMax,
		Pause:              c.DispatcherPause,
		RetryCount:         c.JobRetryCount,
		RetryDelay:         c.JobRetryDelay,
	}
}

// VectorConfig describes the vector table and its ANN index.
type VectorConfig struct {
	Dimensions         int
	Precision          string
	Index              string
	Metric             string
	Probes             int
	HNSWM              int
	HNSWEfConstruction int
	IVFFlatLists       int
}

func (c *Config) VectorConfig() VectorConfig {
	return VectorConfig{
		Dimensions:         c.VectorDimensions,
		Precision:          c.VectorPrecision,
		Index:              c.VectorIndex,
		Metric:             c.VectorMetric,
		Probes:             c.VectorProbes,
		HNSWM:              c.HNSWM,
		HNSWEfConstruction: c.HNSWEfConstruct,
		IVFFlatLists:       c.IVFFlatLists,
	}
}

// RebuildConfig controls how fast flagged rows are turned back into jobs.
type RebuildConfig struct {
	BatchSize        int
	RetryCount       int
	PollInterval     time.Duration
	VectorDimensions int
}

func (c *Config) RebuildConfig() RebuildConfig {
	return RebuildConfig{
		BatchSize:        c.RebuildBatchSize,
		RetryCount:       c.RebuildRetryCount,
		PollInterval:     c.RebuildPollInterval,
		VectorDimensions: c.VectorDimensions,
	}
}

// TrainingConfig holds the defaults applied when chunks are enqueued.
type TrainingConfig struct {
	ChunkSize          int
	ChunkOverlap       float64
	RetryCount         int
	DefaultVectorModel string
	DefaultQAModel     string
	MaxObjectBytes     int64
}

func (c *Config) TrainingConfig() TrainingConfig {
	return TrainingConfig{
		ChunkSize:          c.ChunkSize,
		ChunkOverlap:       c.ChunkOverlap,
		RetryCount:         c.JobRetryCount,
		DefaultVectorModel: c.DefaultVectorModel,
		DefaultQAModel:     c.DefaultQAModel,
		MaxObjectBytes:     c.S3MaxObjectBytes,
	}
}

// SearchConfig holds search defaults used when a request leaves them unset.
type SearchConfig struct {
	DefaultLimit     int
	DefaultMaxTokens int
	Probes           int
}

func (c *Config) SearchConfig() SearchConfig {
	return SearchConfig{
		DefaultLimit:     c.SearchDefaultLimit,
		DefaultMaxTokens: c.SearchDefaultMaxTokens,
		Probes:           c.VectorProbes,
	}
}
