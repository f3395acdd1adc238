// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is the prefix for every environment variable the CLI reads.
const EnvPrefix = "VULNGRAPH"

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Graph() GraphConfig
	LLM() LLMConfig
	Enrichment() EnrichmentConfig
	Ingest() IngestConfig
	Redis() RedisConfig
	Database() DatabaseConfig
	Analysis() AnalysisConfig

	SetIngestFingerprinting(bool)
	SetIngestFilter(expr string)
	SetEnrichmentLLMEnabled(bool)
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg     LoggerConfig     `mapstructure:"logger" yaml:"logger"`
	GraphCfg      GraphConfig      `mapstructure:"graph" yaml:"graph"`
	LLMCfg        LLMConfig        `mapstructure:"llm" yaml:"llm"`
	EnrichmentCfg EnrichmentConfig `mapstructure:"enrichment" yaml:"enrichment"`
	IngestCfg     IngestConfig     `mapstructure:"ingest" yaml:"ingest"`
	RedisCfg      RedisConfig      `mapstructure:"redis" yaml:"redis"`
	DatabaseCfg   DatabaseConfig   `mapstructure:"database" yaml:"database"`
	AnalysisCfg   AnalysisConfig   `mapstructure:"analysis" yaml:"analysis"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig         { return c.LoggerCfg }
func (c *Config) Graph() GraphConfig           { return c.GraphCfg }
func (c *Config) LLM() LLMConfig               { return c.LLMCfg }
func (c *Config) Enrichment() EnrichmentConfig { return c.EnrichmentCfg }
func (c *Config) Ingest() IngestConfig         { return c.IngestCfg }
func (c *Config) Redis() RedisConfig           { return c.RedisCfg }
func (c *Config) Database() DatabaseConfig     { return c.DatabaseCfg }
func (c *Config) Analysis() AnalysisConfig     { return c.AnalysisCfg }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetIngestFingerprinting(b bool) { c.IngestCfg.Fingerprinting = b }
func (c *Config) SetIngestFilter(expr string)    { c.IngestCfg.Filter = expr }
func (c *Config) SetEnrichmentLLMEnabled(b bool) { c.EnrichmentCfg.LLMEnabled = b }

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// GraphConfig holds the property-graph store connection details.
type GraphConfig struct {
	URI            string        `mapstructure:"uri" yaml:"uri"`
	User           string        `mapstructure:"user" yaml:"user"`
	Password       string        `mapstructure:"password" yaml:"-"`
	Database       string        `mapstructure:"database" yaml:"database"`
	ConnectTimeout time.Duration `mapstructure:"connect_timeout" yaml:"connect_timeout"`
	MaxPoolSize    int           `mapstructure:"max_pool_size" yaml:"max_pool_size"`
	EnsureSchema   bool          `mapstructure:"ensure_schema" yaml:"ensure_schema"`
}

// LLMProvider is the backend used for relationship inference and chat analysis.
type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai" // Any chat-completions compatible endpoint.
	ProviderGemini LLMProvider = "gemini"
)

// LLMConfig configures the optional language model. An incomplete
// configuration disables the model rather than failing.
type LLMConfig struct {
	Provider          LLMProvider   `mapstructure:"provider" yaml:"provider"`
	BaseURL           string        `mapstructure:"base_url" yaml:"base_url"`
	APIKey            string        `mapstructure:"api_key" yaml:"-"`
	FastModel         string        `mapstructure:"fast_model" yaml:"fast_model"`
	PowerfulModel     string        `mapstructure:"powerful_model" yaml:"powerful_model"`
	Temperature       float64       `mapstructure:"temperature" yaml:"temperature"`
	APITimeout        time.Duration `mapstructure:"api_timeout" yaml:"api_timeout"`
	MaxRetries        int           `mapstructure:"max_retries" yaml:"max_retries"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second" yaml:"requests_per_second"`
}

// Configured reports whether enough settings are present to reach the model.
func (l LLMConfig) Configured() bool {
	if strings.TrimSpace(l.APIKey) == "" {
		return false
	}
	switch l.Provider {
	case ProviderOpenAI:
		return strings.TrimSpace(l.BaseURL) != ""
	case ProviderGemini:
		return true
	default:
		return false
	}
}

// EnrichmentConfig tunes the enrichment plan.
type EnrichmentConfig struct {
	HeuristicsEnabled bool `mapstructure:"heuristics_enabled" yaml:"heuristics_enabled"`
	LLMEnabled        bool `mapstructure:"llm_enabled" yaml:"llm_enabled"`
	// MaxPairwiseGroup caps SHARED_SERVICE/SHARED_CVE cliques. Larger groups are
	// linked as a chain. Zero disables the cap.
	MaxPairwiseGroup int `mapstructure:"max_pairwise_group" yaml:"max_pairwise_group"`
}

// IngestConfig controls the ingestion coordinator.
type IngestConfig struct {
	Fingerprinting bool          `mapstructure:"fingerprinting" yaml:"fingerprinting"`
	LockBackend    string        `mapstructure:"lock_backend" yaml:"lock_backend"`
	LockTTL        time.Duration `mapstructure:"lock_ttl" yaml:"lock_ttl"`
	Filter         string        `mapstructure:"filter" yaml:"filter"`
	Archive        bool          `mapstructure:"archive" yaml:"archive"`
	Timeout        time.Duration `mapstructure:"timeout" yaml:"timeout"`
}

// Lock backends.
const (
	LockBackendLocal = "local"
	LockBackendRedis = "redis"
)

// RedisConfig holds the connection details for the distributed ingestion lock.
type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"-"`
	DB       int    `mapstructure:"db" yaml:"db"`
}

// DatabaseConfig holds the database connection details for the findings archive.
type DatabaseConfig struct {
	URL string `mapstructure:"url" yaml:"-"`
}

// AnalysisConfig tunes the read-only chat analysis plan.
type AnalysisConfig struct {
	TopN int `mapstructure:"top_n" yaml:"top_n"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "vulngraph")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- Graph --
	v.SetDefault("graph.uri", "neo4j://localhost:7687")
	v.SetDefault("graph.user", "neo4j")
	v.SetDefault("graph.database", "neo4j")
	v.SetDefault("graph.connect_timeout", "10s")
	v.SetDefault("graph.max_pool_size", 50)
	v.SetDefault("graph.ensure_schema", true)

	// -- LLM --
	v.SetDefault("llm.provider", string(ProviderOpenAI))
	v.SetDefault("llm.base_url", "")
	v.SetDefault("llm.fast_model", "gpt-4o-mini")
	v.SetDefault("llm.powerful_model", "gpt-4o")
	v.SetDefault("llm.temperature", 0.1)
	v.SetDefault("llm.api_timeout", "60s")
	v.SetDefault("llm.max_retries", 3)
	v.SetDefault("llm.requests_per_second", 2.0)

	// -- Enrichment --
	v.SetDefault("enrichment.heuristics_enabled", true)
	v.SetDefault("enrichment.llm_enabled", true)
	v.SetDefault("enrichment.max_pairwise_group", 50)

	// -- Ingest --
	v.SetDefault("ingest.fingerprinting", true)
	v.SetDefault("ingest.lock_backend", LockBackendLocal)
	v.SetDefault("ingest.lock_ttl", "15m")
	v.SetDefault("ingest.filter", "")
	v.SetDefault("ingest.archive", false)
	v.SetDefault("ingest.timeout", "10m")

	// -- Redis --
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.db", 0)

	// -- Analysis --
	v.SetDefault("analysis.top_n", 5)
}

// NewConfigFromViper creates a new configuration instance from a Viper instance.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	// Bind environment variables for sensitive data
	_ = v.BindEnv("graph.password", EnvPrefix+"_GRAPH_PASSWORD")
	_ = v.BindEnv("llm.api_key", EnvPrefix+"_LLM_API_KEY")
	_ = v.BindEnv("redis.password", EnvPrefix+"_REDIS_PASSWORD")
	_ = v.BindEnv("database.url", EnvPrefix+"_DATABASE_URL")

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.GraphCfg.URI) == "" {
		return fmt.Errorf("graph.uri is a required configuration field")
	}
	if c.GraphCfg.MaxPoolSize <= 0 {
		return fmt.Errorf("graph.max_pool_size must be a positive integer")
	}
	if err := c.LLMCfg.Validate(); err != nil {
		return fmt.Errorf("llm configuration invalid: %w", err)
	}
	if c.EnrichmentCfg.MaxPairwiseGroup < 0 {
		return fmt.Errorf("enrichment.max_pairwise_group must not be negative")
	}
	if err := c.IngestCfg.Validate(); err != nil {
		return fmt.Errorf("ingest configuration invalid: %w", err)
	}
	if c.IngestCfg.LockBackend == LockBackendRedis && c.RedisCfg.Addr == "" {
		return fmt.Errorf("redis.addr is required when ingest.lock_backend is redis")
	}
	if c.AnalysisCfg.TopN <= 0 {
		return fmt.Errorf("analysis.top_n must be a positive integer")
	}
	return nil
}

// Validate checks the LLM settings. Missing credentials are allowed.
func (l *LLMConfig) Validate() error {
	switch l.Provider {
	case ProviderOpenAI, ProviderGemini:
	default:
		return fmt.Errorf("unknown provider '%s'. Supported: [%s, %s]", l.Provider, ProviderOpenAI, ProviderGemini)
	}
	if l.Temperature < 0 || l.Temperature > 2 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("max_retries must not be negative")
	}
	return nil
}

// Validate checks the ingest settings.
func (i *IngestConfig) Validate() error {
	switch i.LockBackend {
	case LockBackendLocal, LockBackendRedis:
	default:
		return fmt.Errorf("lock_backend must be one of [%s, %s]", LockBackendLocal, LockBackendRedis)
	}
	if i.LockBackend == LockBackendRedis {
		if i.LockTTL <= 0 {
			return fmt.Errorf("lock_ttl must be a positive duration")
		}
		// A lock that expires mid-run lets a duplicate batch through.
		if i.Timeout > 0 && i.LockTTL < i.Timeout {
			return fmt.Errorf("lock_ttl (%s) must not be shorter than timeout (%s)", i.LockTTL, i.Timeout)
		}
	}
	return nil
}
