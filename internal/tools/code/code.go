// Package code implements run_file, which executes an interpreter file that
// sits directly in the sandbox root.
//
// Execution is stricter than the filesystem tools: the file's parent
// directory must be the root itself, so scripts in nested directories can
// be read and written but never run.
package code

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jkaninda/kazi/internal/sandbox"
	"github.com/jkaninda/kazi/internal/tools"
)

// Config configures the run_file tool.
type Config struct {
	Interpreter string        // Interpreter command. Default "python3".
	Extension   string        // Required file extension. Default ".py".
	Timeout     time.Duration // Per-run timeout. 0 = executor default.
}

// Tool runs interpreter files through an Executor.
type Tool struct {
	config   Config
	executor sandbox.Executor
	logger   *slog.Logger
}

// NewTool creates the run_file tool.
func NewTool(cfg Config, executor sandbox.Executor, logger *slog.Logger) *Tool {
	if cfg.Interpreter == "" {
		cfg.Interpreter = "python3"
	}
	if cfg.Extension == "" {
		cfg.Extension = ".py"
	}
	if !strings.HasPrefix(cfg.Extension, ".") {
		cfg.Extension = "." + cfg.Extension
	}
	return &Tool{config: cfg, executor: executor, logger: logger}
}

func (t *Tool) Name() string { return "run_file" }
func (t *Tool) Description() string {
	return fmt.Sprintf("Executes a %s file located directly in the working directory with %s and returns its output.",
		t.config.Extension, t.config.Interpreter)
}
func (t *Tool) InputSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"path": map[string]any{
				"type":        "string",
				"description": fmt.Sprintf("The %s file to execute, relative to the working directory. Must not be in a subdirectory.", t.config.Extension),
			},
		},
		"required": []string{"path"},
	}
}

func (t *Tool) Invoke(ctx context.Context, root *sandbox.Root, args map[string]any) *tools.Result {
	path, failed := tools.RequireString(args, "path", true)
	if failed != nil {
		return failed
	}

	resolved, err := root.ResolveDirect(path)
	if err != nil {
		t.logger.WarnContext(ctx, "run_file rejected path",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return tools.Fail(tools.KindSandboxViolation,
			"Cannot execute %q as it is outside the permitted working directory", path)
	}

	info, err := os.Stat(resolved)
	switch {
	case sandbox.IsNotExist(err):
		return tools.Fail(tools.KindNotFound, "File %q not found", path)
	case err != nil:
		return tools.Fail(tools.KindIOFailure, "Could not access %q: %v", path, err)
	case !info.Mode().IsRegular():
		return tools.Fail(tools.KindNotAFile, "%q is not a regular file", path)
	case filepath.Ext(resolved) != t.config.Extension:
		return tools.Fail(tools.KindNotExecutableKind, "%q is not a %s file", path, t.config.Extension)
	}

	t.logger.InfoContext(ctx, "run_file executing",
		slog.String("path", resolved),
		slog.String("interpreter", t.config.Interpreter),
	)

	res, err := t.executor.Run(ctx, sandbox.RunRequest{
		Interpreter: t.config.Interpreter,
		File:        resolved,
		Dir:         root.Path(),
		Timeout:     t.config.Timeout,
	})
	if err != nil {
		var launchErr *sandbox.LaunchError
		if errors.As(err, &launchErr) {
			return tools.Fail(tools.KindLaunchFailure, "executing %q: %v", path, launchErr)
		}
		return tools.Fail(tools.KindIOFailure, "executing %q: %v", path, err)
	}

	return tools.OK(tools.TruncateOutput(formatRun(res), tools.MaxOutputBytes), map[string]any{
		"path":      path,
		"exit_code": res.ExitCode,
		"timed_out": res.TimedOut,
		"duration":  res.Duration.String(),
	})
}

// formatRun renders a completed run the way the oracle sees it.
func formatRun(res *sandbox.RunResult) string {
	var parts []string
	if res.Stdout != "" {
		parts = append(parts, "STDOUT:\n"+res.Stdout)
	}
	if res.Stderr != "" {
		parts = append(parts, "STDERR:\n"+res.Stderr)
	}
	if res.TimedOut {
		parts = append(parts, "Process timed out and was killed")
	} else if res.ExitCode != 0 {
		parts = append(parts, fmt.Sprintf("Process exited with code %d", res.ExitCode))
	}
	if len(parts) == 0 {
		return "No output produced."
	}
	return strings.Join(parts, "\n")
}
