package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(NewViper())
	require.NoError(t, err)

	assert.Equal(t, 3, cfg.Pipeline.MaxRounds)
	assert.Equal(t, 300, cfg.Pipeline.TimeoutSeconds)
	assert.Equal(t, 3, cfg.Pipeline.Generators)
	assert.InDelta(t, 7.0, cfg.Pipeline.AccuracyThreshold, 1e-9)
	assert.InDelta(t, 0.75, cfg.Pattern.MinQualityToStore, 1e-9)

	assert.Equal(t, 10, cfg.Breakers["llm"].FailureThreshold)
	assert.Equal(t, 30, cfg.Breakers["llm"].CooldownSeconds)
	assert.Equal(t, 5, cfg.Breakers["db"].FailureThreshold)
	assert.Equal(t, 60, cfg.Breakers["db"].CooldownSeconds)
	assert.Equal(t, 5, cfg.Breakers["mcp"].FailureThreshold)
	assert.Equal(t, 5, cfg.Breakers["vector"].FailureThreshold)

	assert.Equal(t, 5*time.Minute, cfg.TaskTimeout())
	assert.Equal(t, time.Minute, cfg.GeneratorTimeout())
}

func TestLoadConfigFile(t *testing.T) {
	dir := t.TempDir()
	content := []byte(`
pipeline:
  max_rounds: 5
  generators: 4
llm:
  provider: openrouter
  api_key: test-key-not-real
  model: meta-llama/llama-3-70b-instruct
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sophia.yaml"), content, 0o644))

	v := NewViper()
	v.AddConfigPath(dir)
	// Avoid picking up a file from the working directory first.
	v.SetConfigFile(filepath.Join(dir, "sophia.yaml"))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Pipeline.MaxRounds)
	assert.Equal(t, 4, cfg.Pipeline.Generators)
	assert.Equal(t, "openrouter", cfg.LLM.Provider)
	assert.Equal(t, "meta-llama/llama-3-70b-instruct", cfg.LLM.Model)
	// Untouched sections keep defaults.
	assert.Equal(t, 300, cfg.Pipeline.TimeoutSeconds)
}

func TestNormalizeFallsBackToMockWithoutKey(t *testing.T) {
	cfg := Config{
		LLM:      LLMConfig{Provider: "OpenRouter", APIKey: ""},
		Pipeline: PipelineConfig{Generators: 3, MaxRounds: 3, TimeoutSeconds: 300},
	}
	normalize(&cfg)
	assert.Equal(t, "mock", cfg.LLM.Provider)
}

func TestNormalizeClampsGeneratorCount(t *testing.T) {
	cfg := Config{Pipeline: PipelineConfig{Generators: 9, MaxRounds: 3, TimeoutSeconds: 300}}
	normalize(&cfg)
	assert.Equal(t, 4, cfg.Pipeline.Generators)

	cfg.Pipeline.Generators = 0
	normalize(&cfg)
	assert.Equal(t, 2, cfg.Pipeline.Generators)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero rounds", func(c *Config) { c.Pipeline.MaxRounds = 0 }},
		{"negative timeout", func(c *Config) { c.Pipeline.TimeoutSeconds = -1 }},
		{"threshold out of range", func(c *Config) { c.Pipeline.AccuracyThreshold = 11 }},
		{"quality gate out of range", func(c *Config) { c.Pattern.MinQualityToStore = 1.5 }},
		{"bad breaker threshold", func(c *Config) {
			c.Breakers = map[string]BreakerConfig{"llm": {FailureThreshold: 0, CooldownSeconds: 30}}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load(NewViper())
			require.NoError(t, err)
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}
