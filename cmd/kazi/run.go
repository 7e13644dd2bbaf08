package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jkaninda/kazi/internal/agent"
	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/observability"
)

type runFlags struct {
	maxIterations int
	provider      string
	model         string
}

var flagsRun runFlags

var runCmd = &cobra.Command{
	Use:   "run [prompt]",
	Short: "Run the agent on a prompt (same as the root command)",
	Args:  cobra.ArbitraryArgs,
	RunE:  runPrompt,
}

func init() {
	addRunFlags(runCmd)
}

// addRunFlags registers the agent flags on cmd. The root command and run
// share one set of variables.
func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&flagsRun.maxIterations, "max-iterations", 0, "iteration ceiling (default 20)")
	cmd.Flags().StringVar(&flagsRun.provider, "provider", "", "oracle provider: gemini, openai, anthropic or ollama; env KAZI_PROVIDER")
	cmd.Flags().StringVar(&flagsRun.model, "model", "", "model of the selected provider; env KAZI_MODEL")
}

func runPrompt(cmd *cobra.Command, args []string) error {
	prompt := strings.TrimSpace(strings.Join(args, " "))
	if prompt == "" {
		_ = cmd.Usage()
		return errors.New("a prompt is required")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cfg)
	if err := cfg.ValidateProvider(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	c, err := initShared(cfg)
	if err != nil {
		return err
	}
	defer c.Cleanup()
	logger := c.Logger

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := resolveCredentials(ctx, cfg, logger); err != nil {
		return err
	}
	provider, err := newLLMProvider(cfg, logger)
	if err != nil {
		return fmt.Errorf("initializing LLM provider: %w", err)
	}
	if c.Obs != nil {
		provider = observability.NewInstrumentedProvider(provider, c.Obs.Metrics, c.Obs.TracerOrNil())
	}
	logger.Debug("llm provider initialized",
		slog.String("provider", provider.Name()),
		slog.String("model", provider.Model()),
	)

	oracle := agent.NewLLMOracle(provider, cfg.Agent.SystemPrompt, cfg.Agent.MaxTokens, logger)
	loop := agent.NewLoop(oracle, c.Dispatcher, logger).
		WithMaxIterations(cfg.Agent.MaxIterations).
		WithObservability(c.Obs)

	out, err := loop.Run(ctx, prompt)
	switch out.State {
	case agent.Done:
		fmt.Fprintln(cmd.OutOrStdout(), out.FinalText)
		return nil
	case agent.Exhausted:
		return &exitError{
			code: ExitExhausted,
			err:  fmt.Errorf("agent did not converge within %d iterations", loop.MaxIterations()),
		}
	default:
		return &exitError{code: ExitFailure, err: err}
	}
}

func applyRunFlags(cfg *config.Config) {
	if flagsRun.maxIterations > 0 {
		cfg.Agent.MaxIterations = flagsRun.maxIterations
	}
	if flagsRun.provider != "" {
		cfg.Providers.Default = flagsRun.provider
	}
	if flagsRun.model != "" {
		cfg.SetModel(flagsRun.model)
	}
}
