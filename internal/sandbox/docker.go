package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	defaultDockerImage     = "python:3.12-slim"
	defaultDockerMemoryMB  = 256
	defaultDockerCPUCores  = 1.0
	defaultDockerPIDsLimit = 64

	// containerWorkdir is where the run directory is mounted.
	containerWorkdir = "/workspace"
)

// DockerConfig configures the Docker executor.
type DockerConfig struct {
	Image          string        // Image providing the interpreter. Default: python:3.12-slim.
	DefaultTimeout time.Duration // Zero = no timeout.
	MemoryMB       int           // --memory hard limit.
	CPUCores       float64       // --cpus rate limit (e.g. 0.5 = half a core).
	PIDsLimit      int           // --pids-limit (prevents fork bombs).
	NetworkAllowed bool          // false = --network=none.
	MaxOutputBytes int           // Per stream. Zero = 1 MB, negative = no cap.
}

// DockerExecutor runs the interpreter inside an ephemeral container with
// the run directory bind-mounted at /workspace.
//
// Each run gets its own container (--rm, plus a docker rm -f safety net)
// with every capability dropped, a read-only root filesystem, no privilege
// escalation, the nobody user, memory/CPU/PID limits and, by default, no
// network. Only the mounted directory is visible from the host.
type DockerExecutor struct {
	config DockerConfig
	logger *slog.Logger
	docker string // docker CLI; overridden in tests.
}

// NewDockerExecutor creates a Docker-based executor.
func NewDockerExecutor(cfg DockerConfig, logger *slog.Logger) *DockerExecutor {
	if cfg.Image == "" {
		cfg.Image = defaultDockerImage
	}
	if cfg.MemoryMB <= 0 {
		cfg.MemoryMB = defaultDockerMemoryMB
	}
	if cfg.CPUCores <= 0 {
		cfg.CPUCores = defaultDockerCPUCores
	}
	if cfg.PIDsLimit <= 0 {
		cfg.PIDsLimit = defaultDockerPIDsLimit
	}
	if cfg.MaxOutputBytes == 0 {
		cfg.MaxOutputBytes = defaultMaxOutputBytes
	}
	return &DockerExecutor{config: cfg, logger: logger, docker: "docker"}
}

// Run executes req.Interpreter on req.File inside a fresh container. A
// missing docker CLI, a container that cannot be created, or an interpreter
// docker cannot start is a *LaunchError. The script's own exit code is a
// normal result.
func (e *DockerExecutor) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	if req.Interpreter == "" {
		return nil, &LaunchError{Interpreter: req.Interpreter, Err: errors.New("empty interpreter")}
	}
	bin, err := exec.LookPath(e.docker)
	if err != nil {
		return nil, &LaunchError{Interpreter: req.Interpreter, Err: fmt.Errorf("docker CLI: %w", err)}
	}

	dir := req.Dir
	if dir == "" {
		dir = filepath.Dir(req.File)
	}
	rel, err := filepath.Rel(dir, req.File)
	if err != nil || !filepath.IsLocal(rel) {
		return nil, &LaunchError{Interpreter: req.Interpreter, Err: fmt.Errorf("%s is not inside %s", req.File, dir)}
	}

	timeout := req.Timeout
	if timeout == 0 {
		timeout = e.config.DefaultTimeout
	}
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	name := "kazi-run-" + uuid.NewString()[:8]
	args := e.buildArgs(name, dir)
	args = append(args, req.Interpreter, path.Join(containerWorkdir, filepath.ToSlash(rel)))

	cmd := exec.CommandContext(ctx, bin, args...)
	// Killing the client makes docker stop the container.
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return cmd.Process.Kill()
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = capture(&stdout, e.config.MaxOutputBytes)
	cmd.Stderr = capture(&stderr, e.config.MaxOutputBytes)

	e.logger.DebugContext(ctx, "starting container",
		slog.String("container", name),
		slog.String("image", e.config.Image),
		slog.String("file", req.File),
		slog.Duration("timeout", timeout),
	)

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	// --rm does not fire on OOM kill or a cancel race.
	e.forceRemove(name)

	result := &RunResult{Duration: duration}
	if runErr != nil {
		var exitErr *exec.ExitError
		switch {
		case timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded):
			result.TimedOut = true
			result.ExitCode = -1
			e.logger.WarnContext(ctx, "container timed out",
				slog.String("container", name),
				slog.Duration("timeout", timeout),
			)
		case errors.As(runErr, &exitErr):
			if isDockerLaunchFailure(exitErr.ExitCode()) {
				return nil, &LaunchError{
					Interpreter: req.Interpreter,
					Err:         fmt.Errorf("docker run exited %d: %s", exitErr.ExitCode(), bytes.TrimSpace(stderr.Bytes())),
				}
			}
			result.ExitCode = exitErr.ExitCode()
		default:
			return nil, &LaunchError{Interpreter: req.Interpreter, Err: runErr}
		}
	}
	result.Stdout = stdout.String()
	result.Stderr = stderr.String()

	e.logger.DebugContext(ctx, "container completed",
		slog.String("container", name),
		slog.Int("exit_code", result.ExitCode),
		slog.Duration("duration", duration),
	)
	return result, nil
}

// isDockerLaunchFailure reports whether a docker run exit code means the
// interpreter never started: 125 is docker's own failure (bad image, daemon
// down), 126 an interpreter that cannot be invoked, 127 one not found in
// the image.
func isDockerLaunchFailure(code int) bool {
	return code == 125 || code == 126 || code == 127
}

// buildArgs returns the docker run arguments up to and including the
// image. The caller appends the interpreter command.
func (e *DockerExecutor) buildArgs(name, dir string) []string {
	memoryFlag := strconv.Itoa(e.config.MemoryMB) + "m"

	args := []string{
		"run", "--rm", "--interactive=false",
		"--name", name,

		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
		"--read-only",
		"--user=65534:65534",

		"--memory=" + memoryFlag,
		"--memory-swap=" + memoryFlag, // Equal to --memory: no swap.
		"--cpus=" + strconv.FormatFloat(e.config.CPUCores, 'f', 2, 64),
		"--pids-limit=" + strconv.Itoa(e.config.PIDsLimit),

		"--tmpfs", "/tmp:rw,noexec,nosuid,size=64m",
		"--volume", dir + ":" + containerWorkdir,
		"--workdir", containerWorkdir,

		"--env", "HOME=/tmp",
		"--env", "LANG=C.UTF-8",
		"--env", "TERM=dumb",
	}
	if e.config.NetworkAllowed {
		args = append(args, "--network=bridge")
	} else {
		args = append(args, "--network=none")
	}
	return append(args, e.config.Image)
}

// forceRemove removes a container by name. Best effort: "No such
// container" is the normal case once --rm has fired.
func (e *DockerExecutor) forceRemove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	out, err := exec.CommandContext(ctx, e.docker, "rm", "-f", name).CombinedOutput()
	if err != nil && !bytes.Contains(out, []byte("No such container")) {
		e.logger.Warn("docker rm -f failed",
			slog.String("container", name),
			slog.String("error", err.Error()),
			slog.String("output", string(out)),
		)
	}
}

var (
	_ Executor = (*DockerExecutor)(nil)
	_ Executor = (*ProcessExecutor)(nil)
)
