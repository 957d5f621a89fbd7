// Package config handles configuration for the docs-expert service
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"github.com/developer-mesh/docs-expert/pkg/observability"
)

// Config represents the complete configuration for the docs-expert service
type Config struct {
	Service      ServiceConfig               `mapstructure:"service"`
	Database     DatabaseConfig              `mapstructure:"database"`
	Redis        RedisConfig                 `mapstructure:"redis"`
	Embedding    EmbeddingConfig             `mapstructure:"embedding"`
	Generation   GenerationConfig            `mapstructure:"generation"`
	Processing   ProcessingConfig            `mapstructure:"processing"`
	Retrieval    RetrievalConfig             `mapstructure:"retrieval"`
	Session      SessionConfig               `mapstructure:"session"`
	Knowledge    KnowledgeConfig             `mapstructure:"knowledge"`
	Monitor      MonitorConfig               `mapstructure:"monitor"`
	RateLimiting RateLimitingConfig          `mapstructure:"rate_limiting"`
	Tracing      observability.TracingConfig `mapstructure:"tracing"`
}

// ServiceConfig contains service-level configuration
type ServiceConfig struct {
	Name            string        `mapstructure:"name" validate:"required"`
	AgentID         string        `mapstructure:"agent_id" validate:"required"`
	Port            int           `mapstructure:"port" validate:"min=1,max=65535"`
	MetricsPort     int           `mapstructure:"metrics_port" validate:"min=1,max=65535"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	LogLevel        string        `mapstructure:"log_level" validate:"oneof=debug info warn warning error"`
}

// DatabaseConfig contains vector store connection settings. URL, when set,
// takes precedence over the individual fields.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver" validate:"oneof=postgres memory"`
	URL             string        `mapstructure:"url"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	Table           string        `mapstructure:"table" validate:"required"`
	Dimensions      int           `mapstructure:"dimensions" validate:"gt=0"`
	IVFLists        int           `mapstructure:"ivf_lists" validate:"gt=0"`
	MaxConns        int           `mapstructure:"max_conns" validate:"gt=0"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" validate:"gte=0"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectRetries  int           `mapstructure:"connect_retries" validate:"gte=0"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

// RedisConfig contains settings for the shared embedding cache
type RedisConfig struct {
	Enabled     bool          `mapstructure:"enabled"`
	Address     string        `mapstructure:"address"`
	Password    string        `mapstructure:"password"`
	Database    int           `mapstructure:"database"`
	DialTimeout time.Duration `mapstructure:"dial_timeout"`
	PoolSize    int           `mapstructure:"pool_size"`
	KeyPrefix   string        `mapstructure:"key_prefix"`
	TTL         time.Duration `mapstructure:"ttl"`
}

// CircuitBreakerConfig contains circuit breaker settings for an external provider
type CircuitBreakerConfig struct {
	MaxRequests         uint32        `mapstructure:"max_requests"`
	Interval            time.Duration `mapstructure:"interval"`
	Timeout             time.Duration `mapstructure:"timeout"`
	ConsecutiveFailures uint32        `mapstructure:"consecutive_failures"`
}

// EmbeddingConfig contains embedding provider settings
type EmbeddingConfig struct {
	Provider       string               `mapstructure:"provider" validate:"oneof=openai bedrock"`
	Model          string               `mapstructure:"model" validate:"required"`
	APIKey         string               `mapstructure:"api_key"`
	Endpoint       string               `mapstructure:"endpoint"`
	Region         string               `mapstructure:"region"`
	RequestTimeout time.Duration        `mapstructure:"request_timeout"`
	BatchSize      int                  `mapstructure:"batch_size" validate:"gt=0"`
	RateLimitRPM   int                  `mapstructure:"rate_limit_rpm" validate:"gte=0"`
	CacheSize      int                  `mapstructure:"cache_size" validate:"gte=0"`
	CircuitBreaker CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// GenerationConfig contains generative model settings
type GenerationConfig struct {
	Provider          string               `mapstructure:"provider" validate:"oneof=openai bedrock"`
	Model             string               `mapstructure:"model" validate:"required"`
	APIKey            string               `mapstructure:"api_key"`
	Endpoint          string               `mapstructure:"endpoint"`
	Region            string               `mapstructure:"region"`
	Temperature       float64              `mapstructure:"temperature" validate:"gte=0,lte=2"`
	MaxTokens         int                  `mapstructure:"max_tokens" validate:"gte=0"`
	RequestTimeout    time.Duration        `mapstructure:"request_timeout"`
	SuggestionTimeout time.Duration        `mapstructure:"suggestion_timeout"`
	CircuitBreaker    CircuitBreakerConfig `mapstructure:"circuit_breaker"`
}

// ProcessingConfig contains document chunking settings
type ProcessingConfig struct {
	ChunkSize    int `mapstructure:"chunk_size" validate:"gt=0"`
	ChunkOverlap int `mapstructure:"chunk_overlap" validate:"gte=0"`
}

// RetrievalConfig contains answer synthesis settings
type RetrievalConfig struct {
	TopK           int `mapstructure:"top_k" validate:"gt=0,lte=5"`
	ContextBudget  int `mapstructure:"context_budget" validate:"gt=0"`
	MaxSearchLimit int `mapstructure:"max_search_limit" validate:"gt=0"`
}

// SessionConfig contains the in-process session registry settings
type SessionConfig struct {
	MaxSessions   int           `mapstructure:"max_sessions" validate:"gt=0"`
	TTL           time.Duration `mapstructure:"ttl"`
	HistoryWindow int           `mapstructure:"history_window" validate:"gt=0,lte=5"`
}

// KnowledgeConfig describes the documentation corpus
type KnowledgeConfig struct {
	DocsPath        string        `mapstructure:"docs_path" validate:"required"`
	ProductName     string        `mapstructure:"product_name" validate:"required"`
	IngestOnStart   bool          `mapstructure:"ingest_on_start"`
	RefreshSchedule string        `mapstructure:"refresh_schedule"`
	Watch           bool          `mapstructure:"watch"`
	WatchDebounce   time.Duration `mapstructure:"watch_debounce"`
	RefreshTimeout  time.Duration `mapstructure:"refresh_timeout"`
	PruneMissing    bool          `mapstructure:"prune_missing"`
}

// MonitorConfig contains cognitive-load monitor settings
type MonitorConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	URL      string        `mapstructure:"url"`
	Timeout  time.Duration `mapstructure:"timeout"`
	RingSize int           `mapstructure:"ring_size" validate:"gt=0"`
}

// RateLimitingConfig contains API rate limiting settings
type RateLimitingConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	RequestsPerSecond float64 `mapstructure:"requests_per_second" validate:"gte=0"`
	Burst             int     `mapstructure:"burst" validate:"gte=0"`
}

// DSN returns the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	parts := []string{
		"host=" + d.Host,
		"port=" + strconv.Itoa(d.Port),
		"dbname=" + d.Database,
		"sslmode=" + d.SSLMode,
	}
	if d.Username != "" {
		parts = append(parts, "user="+d.Username)
	}
	if d.Password != "" {
		parts = append(parts, "password="+d.Password)
	}
	return strings.Join(parts, " ")
}

// Load loads configuration from defaults, an optional config file and the
// environment. An empty path searches the default config locations.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("docs-expert")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/configs")
	}

	setDefaults(v)
	bindEnvVars(v)

	if err := v.ReadInConfig(); err != nil {
		// It's okay if config file doesn't exist, we'll use defaults and env vars
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := overrideFromEnv(&config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

func setDefaults(v *viper.Viper) {
	// Service defaults
	v.SetDefault("service.name", "docs-expert")
	v.SetDefault("service.agent_id", "docs-expert")
	v.SetDefault("service.port", 3000)
	v.SetDefault("service.metrics_port", 9095)
	v.SetDefault("service.shutdown_timeout", "30s")
	v.SetDefault("service.log_level", "info")

	// Database defaults
	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "docs_expert")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.table", "documents")
	v.SetDefault("database.dimensions", 1536)
	v.SetDefault("database.ivf_lists", 100)
	v.SetDefault("database.max_conns", 10)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "30m")
	v.SetDefault("database.connect_retries", 5)
	v.SetDefault("database.query_timeout", "10s")

	// Redis defaults
	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.address", "localhost:6379")
	v.SetDefault("redis.database", 0)
	v.SetDefault("redis.dial_timeout", "5s")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.key_prefix", "docs-expert:")
	v.SetDefault("redis.ttl", "168h")

	// Embedding defaults
	v.SetDefault("embedding.provider", "openai")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.endpoint", "https://api.openai.com/v1")
	v.SetDefault("embedding.region", "us-east-1")
	v.SetDefault("embedding.request_timeout", "30s")
	v.SetDefault("embedding.batch_size", 64)
	v.SetDefault("embedding.rate_limit_rpm", 3000)
	v.SetDefault("embedding.cache_size", 10000)
	v.SetDefault("embedding.circuit_breaker.max_requests", 1)
	v.SetDefault("embedding.circuit_breaker.interval", "60s")
	v.SetDefault("embedding.circuit_breaker.timeout", "30s")
	v.SetDefault("embedding.circuit_breaker.consecutive_failures", 5)

	// Generation defaults
	v.SetDefault("generation.provider", "openai")
	v.SetDefault("generation.model", "gpt-4-turbo-preview")
	v.SetDefault("generation.endpoint", "https://api.openai.com/v1")
	v.SetDefault("generation.region", "us-east-1")
	v.SetDefault("generation.temperature", 0.7)
	v.SetDefault("generation.max_tokens", 0)
	v.SetDefault("generation.request_timeout", "60s")
	v.SetDefault("generation.suggestion_timeout", "15s")
	v.SetDefault("generation.circuit_breaker.max_requests", 1)
	v.SetDefault("generation.circuit_breaker.interval", "60s")
	v.SetDefault("generation.circuit_breaker.timeout", "30s")
	v.SetDefault("generation.circuit_breaker.consecutive_failures", 5)

	// Processing defaults
	v.SetDefault("processing.chunk_size", 1000)
	v.SetDefault("processing.chunk_overlap", 200)

	// Retrieval defaults
	v.SetDefault("retrieval.top_k", 5)
	v.SetDefault("retrieval.context_budget", 8000)
	v.SetDefault("retrieval.max_search_limit", 50)

	// Session defaults
	v.SetDefault("session.max_sessions", 1000)
	v.SetDefault("session.ttl", "30m")
	v.SetDefault("session.history_window", 5)

	// Knowledge defaults
	v.SetDefault("knowledge.docs_path", "./docs")
	v.SetDefault("knowledge.product_name", "Quartz")
	v.SetDefault("knowledge.ingest_on_start", false)
	v.SetDefault("knowledge.refresh_schedule", "")
	v.SetDefault("knowledge.watch", false)
	v.SetDefault("knowledge.watch_debounce", "2s")
	v.SetDefault("knowledge.refresh_timeout", "30m")
	v.SetDefault("knowledge.prune_missing", false)

	// Monitor defaults
	v.SetDefault("monitor.enabled", true)
	v.SetDefault("monitor.url", "http://localhost:3025")
	v.SetDefault("monitor.timeout", "2s")
	v.SetDefault("monitor.ring_size", 1000)

	// Rate limiting defaults
	v.SetDefault("rate_limiting.enabled", true)
	v.SetDefault("rate_limiting.requests_per_second", 20)
	v.SetDefault("rate_limiting.burst", 40)

	// Tracing defaults
	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.service_name", "docs-expert")
	v.SetDefault("tracing.endpoint", "localhost:4317")
}

func bindEnvVars(v *viper.Viper) {
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Service bindings
	_ = v.BindEnv("service.port", "PORT")
	_ = v.BindEnv("service.log_level", "LOG_LEVEL")

	// Database bindings
	_ = v.BindEnv("database.driver", "STORE_DRIVER")
	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("database.host", "DATABASE_HOST")
	_ = v.BindEnv("database.port", "DATABASE_PORT")
	_ = v.BindEnv("database.database", "DATABASE_NAME")
	_ = v.BindEnv("database.username", "DATABASE_USER")
	_ = v.BindEnv("database.password", "DATABASE_PASSWORD")
	_ = v.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	// Redis bindings
	_ = v.BindEnv("redis.address", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")

	// Model bindings
	_ = v.BindEnv("embedding.provider", "EMBEDDING_PROVIDER")
	_ = v.BindEnv("embedding.model", "EMBEDDING_MODEL")
	_ = v.BindEnv("embedding.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("embedding.region", "AWS_REGION")
	_ = v.BindEnv("generation.provider", "GENERATION_PROVIDER")
	_ = v.BindEnv("generation.model", "GENERATION_MODEL", "LLM_MODEL")
	_ = v.BindEnv("generation.api_key", "OPENAI_API_KEY")
	_ = v.BindEnv("generation.region", "AWS_REGION")

	// Processing bindings
	_ = v.BindEnv("processing.chunk_size", "CHUNK_SIZE")
	_ = v.BindEnv("processing.chunk_overlap", "CHUNK_OVERLAP")

	// Knowledge and monitor bindings
	_ = v.BindEnv("knowledge.docs_path", "DOCS_PATH")
	_ = v.BindEnv("monitor.url", "COGNICAP_URL")
}

// overrideFromEnv applies settings that need parsing rather than a plain binding
func overrideFromEnv(cfg *Config) error {
	// Format: redis://[:password@]host[:port][/database]
	if raw := os.Getenv("REDIS_URL"); raw != "" {
		u, err := url.Parse(raw)
		if err != nil {
			return fmt.Errorf("failed to parse REDIS_URL: %w", err)
		}
		cfg.Redis.Enabled = true
		cfg.Redis.Address = u.Host
		if pw, ok := u.User.Password(); ok {
			cfg.Redis.Password = pw
		}
		if db := strings.TrimPrefix(u.Path, "/"); db != "" {
			n, err := strconv.Atoi(db)
			if err != nil {
				return fmt.Errorf("invalid REDIS_URL database %q: %w", db, err)
			}
			cfg.Redis.Database = n
		}
	}
	return nil
}

func validate(cfg *Config) error {
	if err := validator.New().Struct(cfg); err != nil {
		return err
	}

	if cfg.Processing.ChunkOverlap >= cfg.Processing.ChunkSize {
		return fmt.Errorf("chunk_overlap (%d) must be smaller than chunk_size (%d)",
			cfg.Processing.ChunkOverlap, cfg.Processing.ChunkSize)
	}

	if cfg.Embedding.Provider == "openai" && cfg.Embedding.APIKey == "" {
		return fmt.Errorf("embedding.api_key (OPENAI_API_KEY) is required for the openai provider")
	}
	if cfg.Generation.Provider == "openai" && cfg.Generation.APIKey == "" {
		return fmt.Errorf("generation.api_key (OPENAI_API_KEY) is required for the openai provider")
	}

	if cfg.Database.Driver == "postgres" && cfg.Database.URL == "" && cfg.Database.Host == "" {
		return fmt.Errorf("database.url or database.host is required for the postgres driver")
	}

	for name, d := range map[string]time.Duration{
		"embedding.request_timeout":     cfg.Embedding.RequestTimeout,
		"generation.request_timeout":    cfg.Generation.RequestTimeout,
		"generation.suggestion_timeout": cfg.Generation.SuggestionTimeout,
		"monitor.timeout":               cfg.Monitor.Timeout,
		"database.query_timeout":        cfg.Database.QueryTimeout,
	} {
		if d <= 0 {
			return fmt.Errorf("%s must be positive", name)
		}
	}

	if cfg.Redis.Enabled && cfg.Redis.Address == "" {
		return fmt.Errorf("redis.address is required when redis is enabled")
	}

	return nil
}
