// Package config loads the service configuration from a YAML file layered
// with environment overrides, validates it, and supports hot reloading in
// development.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Environment names a deployment environment.
type Environment string

const (
	Development Environment = "development"
	Production  Environment = "production"
)

// Config is the full service configuration.
type Config struct {
	Environment   Environment         `yaml:"environment"`
	Server        ServerConfig        `yaml:"server"`
	Pipeline      PipelineConfig      `yaml:"pipeline"`
	Store         StoreConfig         `yaml:"store"`
	Keyword       KeywordConfig       `yaml:"keyword"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ObservabilityConfig configures trace export. An empty endpoint disables the
// exporter; spans stay no-op.
type ObservabilityConfig struct {
	TracingEndpoint string `yaml:"tracing_endpoint"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"gt=0,lte=65535"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// StageSettings is the per-stage execution policy as configured.
type StageSettings struct {
	TimeoutSeconds       int  `yaml:"timeout_seconds" validate:"gte=0"`
	Required             bool `yaml:"required"`
	ConcurrentComponents bool `yaml:"concurrent_components"`
	ValidationRequired   bool `yaml:"validation_required"`
	Retry                struct {
		MaxAttempts        int  `yaml:"max_attempts" validate:"gte=0"`
		DelaySeconds       int  `yaml:"delay_seconds" validate:"gte=0"`
		MaxDelaySeconds    int  `yaml:"max_delay_seconds" validate:"gte=0"`
		ExponentialBackoff bool `yaml:"exponential_backoff"`
	} `yaml:"retry"`
}

// PipelineConfig tunes the orchestrator and worker pool.
type PipelineConfig struct {
	MaxConcurrentPages  int                      `yaml:"max_concurrent_pages" validate:"gt=0"`
	DefaultTimeout      int                      `yaml:"default_timeout" validate:"gt=0"` // seconds
	EventLoggingEnabled bool                     `yaml:"event_logging_enabled"`
	QueueCapacity       int                      `yaml:"queue_capacity"`
	WorkerTimeout       int                      `yaml:"worker_timeout"` // seconds
	Stages              map[string]StageSettings `yaml:"stages"`
}

// TransactionConfig is the retry policy for the store transaction layer.
type TransactionConfig struct {
	MaxRetries        int           `yaml:"max_retries" validate:"gt=0"`
	InitialRetryDelay time.Duration `yaml:"initial_retry_delay"`
	MaxRetryDelay     time.Duration `yaml:"max_retry_delay"`
	BackoffFactor     float64       `yaml:"backoff_factor" validate:"gte=1"`
}

// StoreConfig configures the graph store connection.
type StoreConfig struct {
	URI                   string            `yaml:"uri" validate:"required"`
	Username              string            `yaml:"username"`
	Password              string            `yaml:"password"`
	Database              string            `yaml:"database"`
	MaxConnectionPoolSize int               `yaml:"max_connection_pool_size" validate:"gt=0"`
	ConnectionTimeout     time.Duration     `yaml:"connection_timeout"`
	QueryTimeout          time.Duration     `yaml:"query_timeout"`
	Transaction           TransactionConfig `yaml:"transaction"`
}

// ExtractorSettings bounds the built-in keyword extractors.
type ExtractorSettings struct {
	MinChars       int     `yaml:"min_chars" validate:"gt=0"`
	MaxWords       int     `yaml:"max_words" validate:"gt=0"`
	MinFrequency   int     `yaml:"min_frequency" validate:"gte=0"`
	ScoreThreshold float64 `yaml:"score_threshold" validate:"gte=0,lte=1"`
}

// KeywordConfig tunes the keyword engine.
type KeywordConfig struct {
	MinContentLength                int               `yaml:"min_content_length" validate:"gte=0"`
	MinKeywordScore                 float64           `yaml:"min_keyword_score" validate:"gte=0,lte=1"`
	MaxVariants                     int               `yaml:"max_variants" validate:"gte=0"`
	RelationshipConfidenceThreshold float64           `yaml:"relationship_confidence_threshold" validate:"gte=0,lte=1"`
	Extractor                       ExtractorSettings `yaml:"extractor"`
	SkipDomains                     []string          `yaml:"skip_domains"`
	ComplexDOMThreshold             int               `yaml:"complex_dom_threshold"`
	MaxJSScripts                    int               `yaml:"max_js_scripts"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: Development,
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			MaxConcurrentPages:  10,
			DefaultTimeout:      60,
			EventLoggingEnabled: true,
			QueueCapacity:       1000,
			WorkerTimeout:       90,
		},
		Store: StoreConfig{
			URI:                   "bolt://localhost:7687",
			Username:              "neo4j",
			MaxConnectionPoolSize: 50,
			ConnectionTimeout:     30 * time.Second,
			QueryTimeout:          15 * time.Second,
			Transaction: TransactionConfig{
				MaxRetries:        3,
				InitialRetryDelay: 1 * time.Second,
				MaxRetryDelay:     8 * time.Second,
				BackoffFactor:     2.0,
			},
		},
		Keyword: KeywordConfig{
			MinContentLength:                100,
			MinKeywordScore:                 0.3,
			MaxVariants:                     10,
			RelationshipConfidenceThreshold: 0.5,
			Extractor: ExtractorSettings{
				MinChars:       3,
				MaxWords:       4,
				MinFrequency:   1,
				ScoreThreshold: 0.3,
			},
			ComplexDOMThreshold: 5000,
			MaxJSScripts:        50,
		},
	}
}

// Load reads the YAML file at path (when it exists), applies environment
// overrides, and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config %s: %w", path, err)
			}
		case os.IsNotExist(err):
			// Defaults plus environment only.
		default:
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the loaded configuration.
func (c *Config) applyEnv() {
	if v := os.Getenv("APP_ENV"); v != "" {
		c.Environment = Environment(v)
	}
	setInt(&c.Server.Port, "PORT")
	setInt(&c.Pipeline.MaxConcurrentPages, "MAX_CONCURRENT_PAGES")
	setInt(&c.Pipeline.DefaultTimeout, "DEFAULT_TIMEOUT")
	if v := os.Getenv("EVENT_LOGGING_ENABLED"); v != "" {
		c.Pipeline.EventLoggingEnabled = v != "false"
	}

	setString(&c.Store.URI, "STORE_URI")
	setString(&c.Store.Username, "STORE_USERNAME")
	setString(&c.Store.Password, "STORE_PASSWORD")
	setString(&c.Store.Database, "STORE_DATABASE")
	setInt(&c.Store.MaxConnectionPoolSize, "STORE_MAX_POOL_SIZE")
	setDuration(&c.Store.ConnectionTimeout, "STORE_CONNECTION_TIMEOUT")
	setDuration(&c.Store.QueryTimeout, "STORE_QUERY_TIMEOUT")
	setInt(&c.Store.Transaction.MaxRetries, "STORE_TX_MAX_RETRIES")

	setString(&c.Observability.TracingEndpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")

	setInt(&c.Keyword.MinContentLength, "KEYWORD_MIN_CONTENT_LENGTH")
	setFloat(&c.Keyword.MinKeywordScore, "KEYWORD_MIN_SCORE")
	if v := os.Getenv("KEYWORD_SKIP_DOMAINS"); v != "" {
		c.Keyword.SkipDomains = splitAndTrim(v)
	}
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitAndTrim(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
