package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/spf13/cobra"

	"github.com/jkaninda/kazi/internal/audit"
	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/llm"
	"github.com/jkaninda/kazi/internal/llm/anthropic"
	"github.com/jkaninda/kazi/internal/llm/gemini"
	"github.com/jkaninda/kazi/internal/llm/openai"
	"github.com/jkaninda/kazi/internal/observability"
	"github.com/jkaninda/kazi/internal/ratelimit"
	"github.com/jkaninda/kazi/internal/sandbox"
	"github.com/jkaninda/kazi/internal/secrets"
	"github.com/jkaninda/kazi/internal/tools"
	"github.com/jkaninda/kazi/internal/tools/code"
	"github.com/jkaninda/kazi/internal/tools/file"
)

var (
	flagConfig  string
	flagRoot    string
	flagVerbose bool
)

// components holds the subsystems every command builds from config.
// Built once by initShared, torn down by Cleanup.
type components struct {
	Config     *config.Config
	Logger     *slog.Logger
	Obs        *observability.Observability
	Registry   *tools.Registry
	Dispatcher tools.Dispatcher // Registry wrapped with audit and instrumentation.

	cleanups []func()
}

// Cleanup runs all deferred cleanup functions in reverse order.
func (c *components) Cleanup() {
	for i := len(c.cleanups) - 1; i >= 0; i-- {
		c.cleanups[i]()
	}
}

func (c *components) addCleanup(fn func()) {
	c.cleanups = append(c.cleanups, fn)
}

// loadConfig resolves the config path (--config wins over KAZI_CONFIG),
// loads it and applies the persistent CLI overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path := flagConfig
	if !cmd.Flags().Changed("config") {
		path = goutils.Env("KAZI_CONFIG", "")
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if flagRoot != "" {
		cfg.Sandbox.Root = flagRoot
	}
	if flagVerbose {
		cfg.Log.Level = "debug"
	}
	return cfg, nil
}

// newLogger builds the process logger on stderr; stdout carries results.
func newLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

// initShared builds observability, the sandbox root, the tool registry and
// the dispatcher chain. Callers must call Cleanup when done.
func initShared(cfg *config.Config) (*components, error) {
	logger := newLogger(cfg.Log)
	c := &components{Config: cfg, Logger: logger}

	observability.ServiceVersion = version
	obs, err := observability.New(cfg.Observability, logger)
	if err != nil {
		return nil, fmt.Errorf("initializing observability: %w", err)
	}
	c.Obs = obs
	c.addCleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		obs.Shutdown(shutdownCtx)
	})
	if obs != nil {
		logger.Debug("observability initialized",
			slog.Bool("metrics", obs.Metrics != nil),
			slog.Bool("tracing", obs.Tracer != nil),
		)
	}

	root, err := sandbox.NewRoot(cfg.Sandbox.Root)
	if err != nil {
		c.Cleanup()
		return nil, err
	}
	logger.Debug("sandbox root", slog.String("path", root.Path()))

	executor := newExecutor(cfg.Sandbox, logger)
	if obs != nil {
		executor = observability.NewInstrumentedExecutor(executor, obs.Metrics, obs.TracerOrNil())
	}

	reg := tools.NewRegistry(root, logger)
	reg.Register(file.NewListTool(logger))
	reg.Register(file.NewReadTool(file.Config{MaxChars: cfg.Sandbox.MaxChars}, logger))
	reg.Register(code.NewTool(code.Config{
		Interpreter: cfg.Sandbox.Interpreter,
		Extension:   cfg.Sandbox.Extension,
		Timeout:     cfg.Sandbox.Timeout(),
	}, executor, logger))
	reg.Register(file.NewWriteTool(logger))
	c.Registry = reg

	var d tools.Dispatcher = reg
	if cfg.Audit != nil {
		sink, err := audit.Open(cfg.Audit, logger)
		if err != nil {
			c.Cleanup()
			return nil, fmt.Errorf("initializing audit trail: %w", err)
		}
		c.addCleanup(func() {
			if err := sink.Close(); err != nil {
				logger.Error("closing audit trail", slog.String("error", err.Error()))
			}
		})
		d = audit.NewDispatcher(d, sink, logger)
		logger.Debug("audit trail enabled", slog.String("driver", cfg.Audit.Driver))
	}
	if obs != nil {
		d = observability.NewInstrumentedDispatcher(d, obs.Metrics, obs.TracerOrNil())
	}
	c.Dispatcher = d

	return c, nil
}

// newExecutor builds the run_file executor selected by sandbox.executor.
func newExecutor(cfg config.SandboxConfig, logger *slog.Logger) sandbox.Executor {
	if cfg.Executor == "docker" && cfg.Docker != nil {
		logger.Debug("using docker executor", slog.String("image", cfg.Docker.Image))
		return sandbox.NewDockerExecutor(sandbox.DockerConfig{
			Image:          cfg.Docker.Image,
			DefaultTimeout: cfg.Timeout(),
			MemoryMB:       cfg.Docker.MemoryMB,
			CPUCores:       cfg.Docker.CPUs,
			PIDsLimit:      cfg.Docker.PIDsLimit,
			NetworkAllowed: cfg.Docker.NetworkAllowed,
			MaxOutputBytes: cfg.MaxOutputBytes,
		}, logger)
	}
	return sandbox.NewProcessExecutor(sandbox.ProcessConfig{
		DefaultTimeout: cfg.Timeout(),
		MaxOutputBytes: cfg.MaxOutputBytes,
		InheritEnv:     cfg.InheritEnv,
	}, logger)
}

// resolveCredentials replaces env:// and vault:// references in provider
// API keys with their values.
func resolveCredentials(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	providers := []secrets.Provider{secrets.NewEnvProvider()}
	if v := cfg.Secrets.Vault; v != nil {
		vp, err := secrets.NewVaultProvider(secrets.VaultConfig{
			Address:       v.Address,
			Token:         v.Token,
			Namespace:     v.Namespace,
			Timeout:       time.Duration(v.TimeoutSeconds) * time.Second,
			TLSSkipVerify: v.TLSSkipVerify,
		})
		if err != nil {
			return fmt.Errorf("initializing vault: %w", err)
		}
		providers = append(providers, vp)
	}

	keys := []*string{
		&cfg.Providers.Gemini.APIKey,
		&cfg.Providers.OpenAI.APIKey,
		&cfg.Providers.Anthropic.APIKey,
	}
	if err := secrets.NewResolver(providers...).ResolveInPlace(ctx, keys...); err != nil {
		return fmt.Errorf("resolving provider credentials: %w", err)
	}
	logger.Debug("provider credentials resolved", slog.Int("backends", len(providers)))
	return nil
}

// newLLMProvider builds the default provider, wrapped in a fallback chain
// when fallbacks are configured. Every provider in the chain is paced by
// its own token bucket when providers.requests_per_minute is set.
func newLLMProvider(cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	var limiter *ratelimit.Limiter
	if cfg.Providers.RequestsPerMinute > 0 {
		limiter = ratelimit.NewLimiter(ratelimit.Config{
			RequestsPerMinute: cfg.Providers.RequestsPerMinute,
			BurstSize:         cfg.Providers.Burst,
		})
	}
	build := func(name string) (llm.Provider, error) {
		p, err := buildProvider(name, cfg, logger)
		if err != nil || limiter == nil {
			return p, err
		}
		return ratelimit.NewProvider(p, limiter, logger), nil
	}

	primary, err := build(cfg.Providers.Default)
	if err != nil {
		return nil, err
	}
	if len(cfg.Providers.Fallback) == 0 {
		return primary, nil
	}

	providers := []llm.Provider{primary}
	for _, name := range cfg.Providers.Fallback {
		fb, err := build(name)
		if err != nil {
			logger.Warn("skipping fallback provider",
				slog.String("provider", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		providers = append(providers, fb)
	}
	if len(providers) == 1 {
		return primary, nil
	}
	return llm.NewFallbackProvider(providers, logger)
}

// buildProvider creates a single LLM provider by name.
func buildProvider(name string, cfg *config.Config, logger *slog.Logger) (llm.Provider, error) {
	switch name {
	case "gemini", "":
		var opts []gemini.Option
		if cfg.Providers.Gemini.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(cfg.Providers.Gemini.BaseURL))
		}
		return gemini.NewClient(cfg.Providers.Gemini.APIKey, cfg.Providers.Gemini.Model, logger, opts...), nil
	case "openai":
		var opts []openai.Option
		if cfg.Providers.OpenAI.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.Providers.OpenAI.BaseURL))
		}
		return openai.NewClient(cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.Model, logger, opts...), nil
	case "anthropic":
		var opts []anthropic.Option
		if cfg.Providers.Anthropic.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(cfg.Providers.Anthropic.BaseURL))
		}
		return anthropic.NewClient(cfg.Providers.Anthropic.APIKey, cfg.Providers.Anthropic.Model, logger, opts...), nil
	case "ollama":
		// Ollama serves the OpenAI-compatible chat completions API.
		return openai.NewClient("", cfg.Providers.Ollama.Model, logger,
			openai.WithBaseURL(cfg.Providers.Ollama.BaseURL),
			openai.WithName("ollama"),
		), nil
	default:
		return nil, fmt.Errorf("unsupported provider %q", name)
	}
}
