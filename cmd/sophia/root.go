package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"sophia/internal/config"
	sophiaerrors "sophia/internal/errors"
	"sophia/internal/llm"
	"sophia/internal/logging"
	"sophia/internal/observability"
	"sophia/internal/pattern"
	"sophia/internal/swarm"
)

const version = "0.1.0"

// NewRootCommand creates the root cobra command.
func NewRootCommand() *cobra.Command {
	v := config.NewViper()

	rootCmd := &cobra.Command{
		Use:   "sophia",
		Short: "Debate-style multi-agent task pipeline with quality gates",
		Long: `sophia runs engineering tasks through a debate pipeline: a planner
decomposes the goal, competing generators draft candidate solutions, a
critic scores them along fixed dimensions, and a judge accepts, merges,
rejects, or sends the round back for revision. Strategies that worked
are remembered and bias future plans.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (default: ./sophia.yaml, ~/.sophia/sophia.yaml)")
	flags.String("log-level", "", "Log level: debug, info, warn, error")
	flags.StringP("model", "m", "", "Model identifier")
	flags.String("api-key", "", "Provider API key")
	flags.String("provider", "", "LLM provider: openrouter, openai, mock")
	flags.Int("max-rounds", 0, "Debate round budget")
	flags.Int("generators", 0, "Competing generators per round (2-4)")
	flags.Int("timeout", 0, "Task wall-clock budget in seconds")

	mustBind(v, "log_level", flags.Lookup("log-level"))
	mustBind(v, "llm.model", flags.Lookup("model"))
	mustBind(v, "llm.api_key", flags.Lookup("api-key"))
	mustBind(v, "llm.provider", flags.Lookup("provider"))
	mustBind(v, "pipeline.max_rounds", flags.Lookup("max-rounds"))
	mustBind(v, "pipeline.generators", flags.Lookup("generators"))
	mustBind(v, "pipeline.timeout_seconds", flags.Lookup("timeout"))

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			v.SetConfigFile(path)
		}
		return nil
	}

	rootCmd.AddCommand(newRunCommand(v))
	rootCmd.AddCommand(newServeCommand(v))
	rootCmd.AddCommand(newPatternsCommand(v))
	rootCmd.AddCommand(newBreakersCommand(v))
	rootCmd.AddCommand(newMCPCommand(v))
	return rootCmd
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if flag == nil {
		panic(fmt.Sprintf("flag for %s not registered", key))
	}
	if err := v.BindPFlag(key, flag); err != nil {
		panic(err)
	}
}

// app bundles the wired runtime dependencies.
type app struct {
	cfg      config.Config
	logger   logging.Logger
	breakers *sophiaerrors.BreakerSet
	client   llm.Client
	store    pattern.Store
	tracer   *observability.TracerProvider
}

func buildApp(v *viper.Viper) (*app, error) {
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}

	logging.SetRootLevel(logging.ParseLevel(cfg.LogLevel))
	logger := logging.NewComponentLogger("cli")

	breakers := sophiaerrors.NewBreakerSet(breakerConfigs(cfg))

	client, err := buildLLMClient(cfg, breakers)
	if err != nil {
		return nil, err
	}

	store, err := buildPatternStore(cfg, breakers)
	if err != nil {
		return nil, err
	}

	tracer, err := observability.NewTracerProvider(observability.TracingConfig{
		Enabled:        cfg.Tracing.Enabled,
		Exporter:       cfg.Tracing.Exporter,
		OTLPEndpoint:   cfg.Tracing.OTLPEndpoint,
		ZipkinEndpoint: cfg.Tracing.ZipkinEndpoint,
		SampleRate:     cfg.Tracing.SampleRate,
		ServiceName:    "sophia",
		ServiceVersion: version,
	})
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	return &app{
		cfg:      cfg,
		logger:   logger,
		breakers: breakers,
		client:   client,
		store:    store,
		tracer:   tracer,
	}, nil
}

func (a *app) pipelineConfig() swarm.Config {
	return swarm.Config{
		MaxRounds:         a.cfg.Pipeline.MaxRounds,
		Timeout:           a.cfg.TaskTimeout(),
		Generators:        a.cfg.Pipeline.Generators,
		GeneratorTimeout:  a.cfg.GeneratorTimeout(),
		AccuracyThreshold: a.cfg.Pipeline.AccuracyThreshold,
		MinQualityToStore: a.cfg.Pattern.MinQualityToStore,
	}
}

func breakerConfigs(cfg config.Config) map[sophiaerrors.DependencyClass]sophiaerrors.CircuitBreakerConfig {
	out := make(map[sophiaerrors.DependencyClass]sophiaerrors.CircuitBreakerConfig, len(cfg.Breakers))
	for class, b := range cfg.Breakers {
		out[sophiaerrors.DependencyClass(class)] = sophiaerrors.CircuitBreakerConfig{
			FailureThreshold: b.FailureThreshold,
			Cooldown:         time.Duration(b.CooldownSeconds) * time.Second,
		}
	}
	return out
}

func buildLLMClient(cfg config.Config, breakers *sophiaerrors.BreakerSet) (llm.Client, error) {
	var base llm.Client
	switch cfg.LLM.Provider {
	case "openrouter", "openai":
		var err error
		base, err = llm.NewOpenAIClient(llm.OpenAIConfig{
			Model:   cfg.LLM.Model,
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
		})
		if err != nil {
			return nil, fmt.Errorf("create LLM client: %w", err)
		}
	case "mock":
		base = offlineClient()
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.LLM.Provider)
	}

	client := llm.NewRetryClient(base, sophiaerrors.DefaultRetryConfig(), breakers.For(sophiaerrors.ClassLLM))
	return llm.NewCachingClient(client, cfg.LLM.CacheSize, time.Duration(cfg.LLM.CacheTTL)*time.Second), nil
}

func buildPatternStore(cfg config.Config, breakers *sophiaerrors.BreakerSet) (pattern.Store, error) {
	embedder, err := pattern.NewEmbedder(pattern.EmbedderConfig{
		Provider: cfg.Pattern.EmbedProvider,
		Model:    cfg.Pattern.EmbedModel,
		BaseURL:  cfg.Pattern.EmbedBaseURL,
		APIKey:   cfg.Pattern.EmbedAPIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedder: %w", err)
	}
	return pattern.NewStore(pattern.StoreConfig{
		PersistDir:    expandHome(cfg.Pattern.Dir),
		MinQuality:    cfg.Pattern.MinQualityToStore,
		MinSimilarity: float32(cfg.Pattern.MinSimilarity),
	}, embedder, breakers)
}

func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
