package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"syscall"
	"time"
)

// defaultMaxOutputBytes caps each of stdout/stderr.
const defaultMaxOutputBytes = 1 << 20 // 1 MB

// ProcessConfig configures the process executor.
type ProcessConfig struct {
	// DefaultTimeout bounds each run. Zero = no timeout.
	DefaultTimeout time.Duration

	// MaxOutputBytes caps each captured stream. Zero = 1 MB, negative = no cap.
	MaxOutputBytes int

	// InheritEnv passes the parent environment through instead of the
	// minimal sanitized set.
	InheritEnv bool
}

// ProcessExecutor runs interpreters as child processes.
//
// Each child gets its own process group so the whole group can be killed on
// timeout or cancellation, a private HOME/TMPDIR that is removed afterwards,
// and, unless InheritEnv is set, an environment that carries none of the
// parent's variables (API keys stay out of the child).
type ProcessExecutor struct {
	defaultTimeout time.Duration
	maxOutput      int
	inheritEnv     bool
	logger         *slog.Logger
}

// NewProcessExecutor creates a process executor.
func NewProcessExecutor(cfg ProcessConfig, logger *slog.Logger) *ProcessExecutor {
	maxOutput := cfg.MaxOutputBytes
	if maxOutput == 0 {
		maxOutput = defaultMaxOutputBytes
	}
	return &ProcessExecutor{
		defaultTimeout: cfg.DefaultTimeout,
		maxOutput:      maxOutput,
		inheritEnv:     cfg.InheritEnv,
		logger:         logger,
	}
}

// Run starts req.Interpreter with req.File as its only argument and waits
// for it. Failing to start is a *LaunchError; a non-zero exit is not.
func (e *ProcessExecutor) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.Interpreter == "" {
		return nil, &LaunchError{Interpreter: req.Interpreter, Err: errors.New("empty interpreter")}
	}

	bin, err := exec.LookPath(req.Interpreter)
	if err != nil {
		return nil, &LaunchError{Interpreter: req.Interpreter, Err: err}
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = e.defaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	home, err := os.MkdirTemp("", "kazi-run-*")
	if err != nil {
		return nil, &LaunchError{Interpreter: req.Interpreter, Err: fmt.Errorf("creating temp home: %w", err)}
	}
	defer func() {
		if rmErr := os.RemoveAll(home); rmErr != nil {
			e.logger.Warn("failed to remove temp home",
				slog.String("dir", home),
				slog.String("error", rmErr.Error()),
			)
		}
	}()

	cmd := exec.CommandContext(ctx, bin, req.File)
	cmd.Dir = req.Dir
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(req.File)
	}
	cmd.Env = e.buildEnv(home)

	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		// Negative PID targets the whole group, so grandchildren die too.
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = capture(&stdout, e.maxOutput)
	cmd.Stderr = capture(&stderr, e.maxOutput)

	e.logger.DebugContext(ctx, "starting process",
		slog.String("interpreter", bin),
		slog.String("file", req.File),
		slog.String("dir", cmd.Dir),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, &LaunchError{Interpreter: req.Interpreter, Err: err}
	}
	waitErr := cmd.Wait()
	duration := time.Since(start)

	result := &RunResult{Duration: duration}
	if waitErr != nil {
		var exitErr *exec.ExitError
		switch {
		case timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded):
			result.TimedOut = true
			result.ExitCode = -1
			e.logger.WarnContext(ctx, "process timed out",
				slog.String("file", req.File),
				slog.Duration("timeout", timeout),
			)
		case errors.As(waitErr, &exitErr):
			result.ExitCode = exitErr.ExitCode()
		default:
			return nil, fmt.Errorf("waiting for %s: %w", req.Interpreter, waitErr)
		}
	}
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	e.logger.DebugContext(ctx, "process completed",
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("duration", duration),
		slog.Int("stdout_bytes", stdout.Len()),
		slog.Int("stderr_bytes", stderr.Len()),
	)
	return result, nil
}

// capture wraps buf in a limitedWriter unless max is negative.
func capture(buf *bytes.Buffer, max int) io.Writer {
	if max < 0 {
		return buf
	}
	return &limitedWriter{w: buf, remaining: max}
}

// buildEnv returns the child environment. HOME and TMPDIR always point at
// the per-run temp directory.
func (e *ProcessExecutor) buildEnv(home string) []string {
	var env []string
	if e.inheritEnv {
		env = os.Environ()
	} else {
		env = []string{
			"PATH=/usr/local/bin:/usr/bin:/bin",
			"LANG=en_US.UTF-8",
			"TERM=dumb",
		}
	}
	return append(env, "HOME="+home, "TMPDIR="+home)
}

// limitedWriter discards everything past its byte budget without failing
// the write, so a chatty child is truncated rather than killed.
type limitedWriter struct {
	w         io.Writer
	remaining int
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.remaining <= 0 {
		return n, nil
	}
	if len(p) > lw.remaining {
		p = p[:lw.remaining]
	}
	written, err := lw.w.Write(p)
	lw.remaining -= written
	if err != nil {
		return written, err
	}
	return n, nil
}
