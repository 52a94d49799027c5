// Package config defines the runtime configuration and its viper-backed
// loader. Precedence: defaults < config file (sophia.yaml) < SOPHIA_* env
// < explicit flag overrides bound by the CLI.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// LLMConfig selects and parameterizes the model provider.
type LLMConfig struct {
	Provider    string  `mapstructure:"provider" yaml:"provider"` // openrouter, openai, mock
	Model       string  `mapstructure:"model" yaml:"model"`
	APIKey      string  `mapstructure:"api_key" yaml:"api_key"`
	BaseURL     string  `mapstructure:"base_url" yaml:"base_url"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	CacheSize   int     `mapstructure:"cache_size" yaml:"cache_size"`
	CacheTTL    int     `mapstructure:"cache_ttl_seconds" yaml:"cache_ttl_seconds"`
}

// PipelineConfig bounds the debate round loop.
type PipelineConfig struct {
	Generators              int     `mapstructure:"generators" yaml:"generators"`
	MaxRounds               int     `mapstructure:"max_rounds" yaml:"max_rounds"`
	TimeoutSeconds          int     `mapstructure:"timeout_seconds" yaml:"timeout_seconds"`
	GeneratorTimeoutSeconds int     `mapstructure:"generator_timeout_seconds" yaml:"generator_timeout_seconds"`
	AccuracyThreshold       float64 `mapstructure:"accuracy_threshold" yaml:"accuracy_threshold"`
	PromptTokenBudget       int     `mapstructure:"prompt_token_budget" yaml:"prompt_token_budget"`
}

// PatternConfig controls the pattern memory store.
type PatternConfig struct {
	Dir               string  `mapstructure:"dir" yaml:"dir"`
	MinQualityToStore float64 `mapstructure:"min_quality_for_pattern_storage" yaml:"min_quality_for_pattern_storage"`
	RetrieveTopK      int     `mapstructure:"retrieve_top_k" yaml:"retrieve_top_k"`
	MinSimilarity     float64 `mapstructure:"min_similarity" yaml:"min_similarity"`
	EmbedProvider     string  `mapstructure:"embed_provider" yaml:"embed_provider"` // openai, local
	EmbedModel        string  `mapstructure:"embed_model" yaml:"embed_model"`
	EmbedBaseURL      string  `mapstructure:"embed_base_url" yaml:"embed_base_url"`
	EmbedAPIKey       string  `mapstructure:"embed_api_key" yaml:"embed_api_key"`
}

// RunnerConfig gates write execution.
type RunnerConfig struct {
	WorkspaceRoot string `mapstructure:"workspace_root" yaml:"workspace_root"`
	DryRun        bool   `mapstructure:"dry_run" yaml:"dry_run"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host       string `mapstructure:"host" yaml:"host"`
	Port       int    `mapstructure:"port" yaml:"port"`
	EnableCORS bool   `mapstructure:"enable_cors" yaml:"enable_cors"`
	Debug      bool   `mapstructure:"debug" yaml:"debug"`
	TaskDir    string `mapstructure:"task_dir" yaml:"task_dir"`
}

// BreakerConfig holds one dependency class entry of the breaker table.
type BreakerConfig struct {
	FailureThreshold int `mapstructure:"failure_threshold" yaml:"failure_threshold"`
	CooldownSeconds  int `mapstructure:"cooldown_seconds" yaml:"cooldown_seconds"`
}

// TracingConfig configures OpenTelemetry export.
type TracingConfig struct {
	Enabled        bool    `mapstructure:"enabled" yaml:"enabled"`
	Exporter       string  `mapstructure:"exporter" yaml:"exporter"` // otlp, zipkin
	OTLPEndpoint   string  `mapstructure:"otlp_endpoint" yaml:"otlp_endpoint"`
	ZipkinEndpoint string  `mapstructure:"zipkin_endpoint" yaml:"zipkin_endpoint"`
	SampleRate     float64 `mapstructure:"sample_rate" yaml:"sample_rate"`
}

// Config is the root runtime configuration.
type Config struct {
	LLM      LLMConfig                `mapstructure:"llm" yaml:"llm"`
	Pipeline PipelineConfig           `mapstructure:"pipeline" yaml:"pipeline"`
	Pattern  PatternConfig            `mapstructure:"pattern" yaml:"pattern"`
	Runner   RunnerConfig             `mapstructure:"runner" yaml:"runner"`
	Server   ServerConfig             `mapstructure:"server" yaml:"server"`
	Breakers map[string]BreakerConfig `mapstructure:"breakers" yaml:"breakers"`
	Tracing  TracingConfig            `mapstructure:"tracing" yaml:"tracing"`
	LogLevel string                   `mapstructure:"log_level" yaml:"log_level"`
}

// TaskTimeout returns the wall-clock budget for one task.
func (c Config) TaskTimeout() time.Duration {
	return time.Duration(c.Pipeline.TimeoutSeconds) * time.Second
}

// GeneratorTimeout returns the per-generator budget inside a round.
func (c Config) GeneratorTimeout() time.Duration {
	return time.Duration(c.Pipeline.GeneratorTimeoutSeconds) * time.Second
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("llm.provider", "mock")
	v.SetDefault("llm.model", "openrouter/auto")
	v.SetDefault("llm.base_url", "https://openrouter.ai/api/v1")
	v.SetDefault("llm.temperature", 0.7)
	v.SetDefault("llm.max_tokens", 4096)
	v.SetDefault("llm.cache_size", 256)
	v.SetDefault("llm.cache_ttl_seconds", 300)

	v.SetDefault("pipeline.generators", 3)
	v.SetDefault("pipeline.max_rounds", 3)
	v.SetDefault("pipeline.timeout_seconds", 300)
	v.SetDefault("pipeline.generator_timeout_seconds", 60)
	v.SetDefault("pipeline.accuracy_threshold", 7.0)
	v.SetDefault("pipeline.prompt_token_budget", 6000)

	v.SetDefault("pattern.dir", "~/.sophia/patterns")
	v.SetDefault("pattern.min_quality_for_pattern_storage", 0.75)
	v.SetDefault("pattern.retrieve_top_k", 3)
	v.SetDefault("pattern.min_similarity", 0.35)
	v.SetDefault("pattern.embed_provider", "local")
	v.SetDefault("pattern.embed_model", "text-embedding-3-small")

	v.SetDefault("runner.workspace_root", ".")
	v.SetDefault("runner.dry_run", false)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8990)
	v.SetDefault("server.enable_cors", true)
	v.SetDefault("server.debug", false)
	v.SetDefault("server.task_dir", "~/.sophia/tasks")

	v.SetDefault("breakers.llm.failure_threshold", 10)
	v.SetDefault("breakers.llm.cooldown_seconds", 30)
	v.SetDefault("breakers.db.failure_threshold", 5)
	v.SetDefault("breakers.db.cooldown_seconds", 60)
	v.SetDefault("breakers.mcp.failure_threshold", 5)
	v.SetDefault("breakers.mcp.cooldown_seconds", 60)
	v.SetDefault("breakers.vector.failure_threshold", 5)
	v.SetDefault("breakers.vector.cooldown_seconds", 60)

	v.SetDefault("tracing.enabled", false)
	v.SetDefault("tracing.exporter", "otlp")
	v.SetDefault("tracing.sample_rate", 1.0)

	v.SetDefault("log_level", "info")
}

// NewViper builds a viper instance wired with defaults, config file lookup
// and the SOPHIA_ env prefix. The CLI binds its flags onto the same instance.
func NewViper() *viper.Viper {
	v := viper.New()
	setDefaults(v)

	v.SetConfigName("sophia")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.sophia")

	v.SetEnvPrefix("SOPHIA")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v
}

// Load reads configuration from the given viper instance. A missing config
// file is not an error; a malformed one is.
func Load(v *viper.Viper) (Config, error) {
	if v == nil {
		v = NewViper()
	}

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	normalize(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func normalize(cfg *Config) {
	cfg.LLM.Provider = strings.ToLower(strings.TrimSpace(cfg.LLM.Provider))
	cfg.LLM.Model = strings.TrimSpace(cfg.LLM.Model)
	cfg.LLM.APIKey = strings.TrimSpace(cfg.LLM.APIKey)
	cfg.LLM.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.LLM.BaseURL), "/")
	cfg.Pattern.EmbedProvider = strings.ToLower(strings.TrimSpace(cfg.Pattern.EmbedProvider))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	// A provider requiring credentials without any falls back to mock, the
	// same way the CLI behaves when no key is configured.
	if cfg.LLM.APIKey == "" && cfg.LLM.Provider != "mock" {
		cfg.LLM.Provider = "mock"
	}
	if cfg.Pattern.EmbedAPIKey == "" && cfg.Pattern.EmbedProvider == "openai" {
		cfg.Pattern.EmbedProvider = "local"
	}

	if cfg.Pipeline.Generators < 2 {
		cfg.Pipeline.Generators = 2
	}
	if cfg.Pipeline.Generators > 4 {
		cfg.Pipeline.Generators = 4
	}
}

// Validate rejects configurations that would make the pipeline misbehave.
func (c Config) Validate() error {
	if c.Pipeline.MaxRounds <= 0 {
		return fmt.Errorf("pipeline.max_rounds must be positive, got %d", c.Pipeline.MaxRounds)
	}
	if c.Pipeline.TimeoutSeconds <= 0 {
		return fmt.Errorf("pipeline.timeout_seconds must be positive, got %d", c.Pipeline.TimeoutSeconds)
	}
	if c.Pipeline.AccuracyThreshold < 0 || c.Pipeline.AccuracyThreshold > 10 {
		return fmt.Errorf("pipeline.accuracy_threshold must be in [0,10], got %v", c.Pipeline.AccuracyThreshold)
	}
	if c.Pattern.MinQualityToStore < 0 || c.Pattern.MinQualityToStore > 1 {
		return fmt.Errorf("pattern.min_quality_for_pattern_storage must be in [0,1], got %v", c.Pattern.MinQualityToStore)
	}
	for class, b := range c.Breakers {
		if b.FailureThreshold <= 0 {
			return fmt.Errorf("breakers.%s.failure_threshold must be positive", class)
		}
		if b.CooldownSeconds <= 0 {
			return fmt.Errorf("breakers.%s.cooldown_seconds must be positive", class)
		}
	}
	return nil
}
