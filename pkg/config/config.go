package config

import (
	"context"
	"os"
	"path/filepath"
	"time"
)

// Config represents the complete configuration for the notebook service.
type Config struct {
	Server     ServerConfig     `koanf:"server"     validate:"required"`
	Upload     UploadConfig     `koanf:"upload"     validate:"required"`
	Embedder   EmbedderConfig   `koanf:"embedder"   validate:"required"`
	LLM        LLMConfig        `koanf:"llm"        validate:"required"`
	VectorDB   VectorDBConfig   `koanf:"vectordb"   validate:"required"`
	Retrieval  RetrievalConfig  `koanf:"retrieval"  validate:"required"`
	Ingest     IngestConfig     `koanf:"ingest"     validate:"required"`
	Chunk      ChunkConfig      `koanf:"chunk"      validate:"required"`
	Retry      RetryConfig      `koanf:"retry"      validate:"required"`
	Redis      RedisConfig      `koanf:"redis"`
	RateLimit  RateLimitConfig  `koanf:"ratelimit"`
	Monitoring MonitoringConfig `koanf:"monitoring"`
	Runtime    RuntimeConfig    `koanf:"runtime"    validate:"required"`
	CLI        CLIConfig        `koanf:"cli"`
}

// ServerConfig contains HTTP server configuration.
type ServerConfig struct {
	Host            string        `koanf:"host"             validate:"required"        env:"SERVER_HOST"`
	Port            int           `koanf:"port"             validate:"min=1,max=65535" env:"SERVER_PORT"`
	CORSEnabled     bool          `koanf:"cors_enabled"                                env:"SERVER_CORS_ENABLED"`
	AllowedOrigins  []string      `koanf:"allowed_origins"                             env:"SERVER_CORS_ALLOWED_ORIGINS"`
	ReadTimeout     time.Duration `koanf:"read_timeout"     validate:"min=0"           env:"SERVER_READ_TIMEOUT"`
	WriteTimeout    time.Duration `koanf:"write_timeout"    validate:"min=0"           env:"SERVER_WRITE_TIMEOUT"`
	IdleTimeout     time.Duration `koanf:"idle_timeout"     validate:"min=0"           env:"SERVER_IDLE_TIMEOUT"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"min=0"           env:"SERVER_SHUTDOWN_TIMEOUT"`
	MaxUploadBytes  int64         `koanf:"max_upload_bytes" validate:"min=1"           env:"SERVER_MAX_UPLOAD_BYTES"`
}

// UploadConfig controls where uploads are staged while they are indexed.
type UploadConfig struct {
	Dir string `koanf:"dir" validate:"required" env:"UPLOAD_DIR"`
}

// EmbedderConfig configures the remote embedding model.
type EmbedderConfig struct {
	Provider  string          `koanf:"provider"   validate:"oneof=openai google" env:"EMBEDDER_PROVIDER"`
	Model     string          `koanf:"model"      validate:"required"            env:"EMBEDDER_MODEL"`
	APIKey    SensitiveString `koanf:"api_key"                                   env:"EMBEDDER_API_KEY"  sensitive:"true"`
	BaseURL   string          `koanf:"base_url"                                  env:"EMBEDDER_BASE_URL"`
	Dimension int             `koanf:"dimension"  validate:"min=0"               env:"EMBEDDER_DIMENSION"`
	BatchSize int             `koanf:"batch_size" validate:"min=1"               env:"EMBEDDER_BATCH_SIZE"`
	Workers   int             `koanf:"workers"    validate:"min=1,max=64"        env:"EMBEDDER_WORKERS"`
	Timeout   time.Duration   `koanf:"timeout"    validate:"min=0"               env:"EMBEDDER_TIMEOUT"`
	Cache     CacheConfig     `koanf:"cache"`
}

// CacheConfig selects the embedding cache backend.
type CacheConfig struct {
	Backend string        `koanf:"backend" validate:"oneof=none memory redis" env:"EMBEDDER_CACHE_BACKEND"`
	Size    int           `koanf:"size"    validate:"min=0"                   env:"EMBEDDER_CACHE_SIZE"`
	TTL     time.Duration `koanf:"ttl"     validate:"min=0"                   env:"EMBEDDER_CACHE_TTL"`
}

// LLMConfig configures the chat-completion model used for answers.
type LLMConfig struct {
	Provider    string          `koanf:"provider"    validate:"oneof=openai google" env:"LLM_PROVIDER"`
	Model       string          `koanf:"model"       validate:"required"            env:"LLM_MODEL"`
	APIKey      SensitiveString `koanf:"api_key"                                    env:"OPENAI_API_KEY"  sensitive:"true"`
	BaseURL     string          `koanf:"base_url"                                   env:"GEMINI_BASE_URL"`
	Temperature float64         `koanf:"temperature" validate:"min=0,max=2"         env:"LLM_TEMPERATURE"`
	MaxTokens   int             `koanf:"max_tokens"  validate:"min=0"               env:"LLM_MAX_TOKENS"`
	Timeout     time.Duration   `koanf:"timeout"     validate:"min=0"               env:"LLM_TIMEOUT"`
}

// VectorDBConfig configures the vector index backend.
type VectorDBConfig struct {
	Provider   string          `koanf:"provider"   validate:"oneof=qdrant pgvector filesystem memory redis" env:"VECTORDB_PROVIDER"`
	URL        string          `koanf:"url"                                                                  env:"QDRANT_URL"`
	APIKey     SensitiveString `koanf:"api_key"                                                              env:"QDRANT_API_KEY"    sensitive:"true"`
	DSN        SensitiveString `koanf:"dsn"                                                                  env:"VECTORDB_DSN"      sensitive:"true"`
	Path       string          `koanf:"path"                                                                 env:"VECTORDB_PATH"`
	Collection string          `koanf:"collection" validate:"required"                                       env:"QDRANT_COLLECTION"`
	Metric     string          `koanf:"metric"     validate:"oneof=cosine dot euclidean"                     env:"VECTORDB_METRIC"`
	Timeout    time.Duration   `koanf:"timeout"    validate:"min=0"                                          env:"VECTORDB_TIMEOUT"`
}

// RetrievalConfig bounds top-k retrieval.
type RetrievalConfig struct {
	TopK     int     `koanf:"top_k"     validate:"min=1"       env:"RETRIEVAL_TOP_K"`
	MaxTopK  int     `koanf:"max_top_k" validate:"min=1"       env:"RETRIEVAL_MAX_TOP_K"`
	MinScore float64 `koanf:"min_score" validate:"min=-1,max=1" env:"RETRIEVAL_MIN_SCORE"`
}

// IngestConfig controls how uploads are written to the index.
type IngestConfig struct {
	BatchSize int  `koanf:"batch_size" validate:"min=1" env:"INGEST_BATCH_SIZE"`
	Dedupe    bool `koanf:"dedupe"                      env:"INGEST_DEDUPE"`
}

// ChunkConfig controls splitting of oversized pages and rows.
type ChunkConfig struct {
	MaxSize int `koanf:"max_size" validate:"min=1" env:"CHUNK_MAX_SIZE"`
	Overlap int `koanf:"overlap"  validate:"min=0" env:"CHUNK_OVERLAP"`
}

// RetryConfig is the backoff policy shared by all remote calls.
type RetryConfig struct {
	MaxAttempts    int           `koanf:"max_attempts"    validate:"min=1,max=10" env:"RETRY_MAX_ATTEMPTS"`
	InitialBackoff time.Duration `koanf:"initial_backoff" validate:"min=0"        env:"RETRY_INITIAL_BACKOFF"`
	MaxBackoff     time.Duration `koanf:"max_backoff"     validate:"min=0"        env:"RETRY_MAX_BACKOFF"`
	Jitter         bool          `koanf:"jitter"                                  env:"RETRY_JITTER"`
}

// RedisConfig is shared by the embedding cache and the rate limiter.
type RedisConfig struct {
	URL    string `koanf:"url"    env:"REDIS_URL"`
	Prefix string `koanf:"prefix" env:"REDIS_PREFIX"`
}

// RateLimitConfig contains rate limiting configuration.
type RateLimitConfig struct {
	Enabled bool          `koanf:"enabled"                                env:"RATELIMIT_ENABLED"`
	Store   string        `koanf:"store"   validate:"oneof=memory redis"  env:"RATELIMIT_STORE"`
	Limit   int64         `koanf:"limit"   validate:"min=1"               env:"RATELIMIT_LIMIT"`
	Period  time.Duration `koanf:"period"  validate:"min=0"               env:"RATELIMIT_PERIOD"`
	Prefix  string        `koanf:"prefix"                                 env:"RATELIMIT_PREFIX"`
}

// MonitoringConfig toggles the Prometheus endpoint.
type MonitoringConfig struct {
	Enabled bool   `koanf:"enabled" env:"MONITORING_ENABLED"`
	Path    string `koanf:"path"    env:"MONITORING_PATH"`
}

// RuntimeConfig contains runtime behavior configuration.
type RuntimeConfig struct {
	Environment string `koanf:"environment" validate:"oneof=development staging production" env:"RUNTIME_ENVIRONMENT"`
	LogLevel    string `koanf:"log_level"   validate:"oneof=debug info warn error disabled"  env:"RUNTIME_LOG_LEVEL"`
}

// CLIConfig contains settings used by the API client commands.
type CLIConfig struct {
	BaseURL string        `koanf:"base_url" env:"NOTEBOOK_BASE_URL"`
	Timeout time.Duration `koanf:"timeout"  env:"NOTEBOOK_TIMEOUT"`
	Format  string        `koanf:"format"   env:"NOTEBOOK_FORMAT"   validate:"omitempty,oneof=auto json text"`
}

// Service defines the configuration loading interface.
type Service interface {
	// Load loads configuration from the specified sources with precedence order.
	Load(ctx context.Context, sources ...Source) (*Config, error)
	// Validate checks struct tags and cross-field rules.
	Validate(config *Config) error
	// GetSource reports where a configuration key was last set from.
	GetSource(key string) SourceType
}

// Source is a configuration source applied on top of the defaults.
type Source interface {
	Load() (map[string]any, error)
	Type() SourceType
}

// SourceType identifies the origin of a configuration value.
type SourceType string

const (
	SourceDefault SourceType = "default"
	SourceYAML    SourceType = "yaml"
	SourceEnv     SourceType = "env"
	SourceCLI     SourceType = "cli"
)

// Metadata records which source provided each key.
type Metadata struct {
	Sources  map[string]SourceType
	LoadedAt time.Time
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            5001,
			CORSEnabled:     true,
			AllowedOrigins:  []string{"http://localhost:3000"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    2 * time.Minute,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 5 * time.Second,
			MaxUploadBytes:  20 << 20,
		},
		Upload: UploadConfig{
			Dir: filepath.Join(os.TempDir(), "notebook-uploads"),
		},
		Embedder: EmbedderConfig{
			Provider:  "google",
			Model:     "text-embedding-004",
			BatchSize: 16,
			Workers:   4,
			Timeout:   30 * time.Second,
			Cache: CacheConfig{
				Backend: "memory",
				Size:    2048,
				TTL:     24 * time.Hour,
			},
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gemini-2.5-pro",
			BaseURL:     "https://generativelanguage.googleapis.com/v1beta/openai/",
			Temperature: 0.2,
			Timeout:     90 * time.Second,
		},
		VectorDB: VectorDBConfig{
			Provider:   "qdrant",
			URL:        "http://localhost:6333",
			Collection: "ai_notebook",
			Metric:     "cosine",
			Timeout:    15 * time.Second,
		},
		Retrieval: RetrievalConfig{
			TopK:    3,
			MaxTopK: 20,
		},
		Ingest: IngestConfig{
			BatchSize: 64,
			Dedupe:    true,
		},
		Chunk: ChunkConfig{
			MaxSize: 4000,
			Overlap: 200,
		},
		Retry: RetryConfig{
			MaxAttempts:    3,
			InitialBackoff: 200 * time.Millisecond,
			MaxBackoff:     2 * time.Second,
			Jitter:         true,
		},
		Redis: RedisConfig{
			Prefix: "notebook:",
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			Store:   "memory",
			Limit:   60,
			Period:  time.Minute,
			Prefix:  "notebook:ratelimit:",
		},
		Monitoring: MonitoringConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Runtime: RuntimeConfig{
			Environment: "development",
			LogLevel:    "info",
		},
		CLI: CLIConfig{
			BaseURL: "http://localhost:5001",
			Timeout: 2 * time.Minute,
			Format:  "auto",
		},
	}
}

// SensitiveString hides secrets when printed or serialized.
type SensitiveString string

const redacted = "[REDACTED]"

func (s SensitiveString) String() string {
	if s == "" {
		return ""
	}
	return redacted
}

// Value returns the raw secret.
func (s SensitiveString) Value() string {
	return string(s)
}

func (s SensitiveString) MarshalJSON() ([]byte, error) {
	if s == "" {
		return []byte(`""`), nil
	}
	return []byte(`"` + redacted + `"`), nil
}
