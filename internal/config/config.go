package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
)

// Global singleton for components that cannot take injected config (cron reload)
var globalConfig *Config

// Config holds all environment backed configuration for query-api.
type Config struct {
	// Operational listeners
	MetricsPort int `env:"METRICS_PORT" envDefault:"9091"`
	PprofPort   int `env:"PPROF_PORT" envDefault:"6060"`

	// PostgreSQL result cache
	DatabaseURL string `env:"DATABASE_URL,notEmpty"`

	// Reasoner (OpenAI compatible)
	ReasonerAPIKey      string        `env:"REASONER_API_KEY,notEmpty"`
	ReasonerBaseURL     string        `env:"REASONER_BASE_URL"`
	ReasonerModel       string        `env:"REASONER_MODEL" envDefault:"gpt-4o-mini"`
	ReasonerTemperature float32       `env:"REASONER_TEMPERATURE" envDefault:"0.2"`
	ReasonerTimeout     time.Duration `env:"REASONER_TIMEOUT" envDefault:"60s"`

	// Similarity search service
	SearchBaseURL string `env:"SEARCH_BASE_URL,notEmpty"`
	SearchAPIKey  string `env:"SEARCH_API_KEY"`
	SearchTopK    int    `env:"SEARCH_TOP_K" envDefault:"3"`

	// Structured document store (data API gateway)
	DocstoreBaseURL    string `env:"DOCSTORE_BASE_URL,notEmpty"`
	DocstoreAPIKey     string `env:"DOCSTORE_API_KEY"`
	DocstoreDataSource string `env:"DOCSTORE_DATA_SOURCE" envDefault:"forum-archive"`
	DocstoreDatabase   string `env:"DOCSTORE_DATABASE" envDefault:"forum"`

	// Corpus
	Community         string `env:"COMMUNITY" envDefault:"sgexams"`
	ThreadCollection  string `env:"THREAD_COLLECTION" envDefault:"threads"`
	CommentCollection string `env:"COMMENT_COLLECTION" envDefault:"comments"`

	// Orchestration
	CacheWindow   time.Duration `env:"CACHE_WINDOW" envDefault:"24h"`
	MaxAttempts   int           `env:"MAX_ATTEMPTS" envDefault:"3"`
	PlanRecordCap int           `env:"PLAN_RECORD_CAP" envDefault:"10"`

	// Retention
	SweepEnabled         bool          `env:"SWEEP_ENABLED" envDefault:"true"`
	SweepIntervalMinutes int           `env:"SWEEP_INTERVAL_MINUTES" envDefault:"60"`
	PurgeDeletedAfter    time.Duration `env:"PURGE_DELETED_AFTER" envDefault:"720h"`

	// Observability / Logging
	HTTPTimeout      time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`
	OTLPEndpoint     string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
	OTLPHeaders      string        `env:"OTEL_EXPORTER_OTLP_HEADERS"`
	ServiceName      string        `env:"SERVICE_NAME" envDefault:"query-api"`
	ServiceNamespace string        `env:"SERVICE_NAMESPACE" envDefault:"threadwise"`
	Environment      string        `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel         string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat        string        `env:"LOG_FORMAT" envDefault:"console"`

	// Features
	AutoMigrate bool `env:"AUTO_MIGRATE" envDefault:"true"`

	// Internal
	EnvReloadedAt time.Time
}

// Load parses environment variables into Config and performs minimal validation.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if _, err := url.ParseRequestURI(cfg.SearchBaseURL); err != nil {
		return nil, fmt.Errorf("invalid SEARCH_BASE_URL: %w", err)
	}
	if _, err := url.ParseRequestURI(cfg.DocstoreBaseURL); err != nil {
		return nil, fmt.Errorf("invalid DOCSTORE_BASE_URL: %w", err)
	}
	if cfg.ReasonerBaseURL != "" {
		if _, err := url.ParseRequestURI(cfg.ReasonerBaseURL); err != nil {
			return nil, fmt.Errorf("invalid REASONER_BASE_URL: %w", err)
		}
	}

	if cfg.MaxAttempts < 1 {
		return nil, errors.New("MAX_ATTEMPTS must be at least 1")
	}
	if cfg.CacheWindow <= 0 {
		return nil, errors.New("CACHE_WINDOW must be positive")
	}
	if cfg.SearchTopK < 1 {
		return nil, errors.New("SEARCH_TOP_K must be at least 1")
	}
	if cfg.PlanRecordCap < 1 {
		return nil, errors.New("PLAN_RECORD_CAP must be at least 1")
	}
	if cfg.Community == "" {
		return nil, errors.New("COMMUNITY must not be empty")
	}

	cfg.LogLevel = strings.ToLower(cfg.LogLevel)
	cfg.LogFormat = strings.ToLower(cfg.LogFormat)
	cfg.EnvReloadedAt = time.Now()

	globalConfig = cfg

	return cfg, nil
}

// GetGlobal returns the global config instance.
// Deprecated: Use dependency injection with Load() instead.
func GetGlobal() *Config {
	return globalConfig
}

var Version = "dev"

func IsDev() bool {
	return strings.HasPrefix(Version, "dev")
}
