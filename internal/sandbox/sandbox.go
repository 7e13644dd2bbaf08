// Package sandbox confines tool operations to a single root directory.
//
// It has two halves:
//   - Root resolves caller-supplied paths and decides whether they stay
//     inside the sandbox root. Nothing touches the filesystem with a path
//     that Root has not admitted.
//   - Executor runs an interpreter against an admitted file and captures
//     its output, either as a child process or inside a throwaway Docker
//     container.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrOutsideRoot is returned when a path resolves outside the sandbox root.
	ErrOutsideRoot = errors.New("path is outside the sandbox root")

	// ErrNotDirectChild is returned by ResolveDirect when the resolved path's
	// parent directory is not the sandbox root itself.
	ErrNotDirectChild = errors.New("path is not directly inside the sandbox root")
)

// EscapeError describes a rejected path. It matches ErrOutsideRoot or
// ErrNotDirectChild through errors.Is.
type EscapeError struct {
	Path     string // As supplied by the caller.
	Resolved string // Canonical form that failed the check. May be empty.
	Reason   error
}

func (e *EscapeError) Error() string {
	if e.Resolved == "" {
		return fmt.Sprintf("%q: %v", e.Path, e.Reason)
	}
	return fmt.Sprintf("%q resolves to %q: %v", e.Path, e.Resolved, e.Reason)
}

func (e *EscapeError) Unwrap() error { return e.Reason }

// Executor runs an interpreter against a single file.
type Executor interface {
	Run(ctx context.Context, req RunRequest) (*RunResult, error)
}

// RunRequest names the interpreter and the file it should run.
type RunRequest struct {
	// Interpreter is the program to start (e.g. "python3"). Looked up in PATH
	// when it contains no separator.
	Interpreter string

	// File is the absolute, already admitted path passed as the sole argument.
	File string

	// Dir is the working directory of the child. Empty = the file's directory.
	Dir string

	// Timeout overrides the executor default. Zero = use default.
	Timeout time.Duration
}

// RunResult captures a process that started. A non-zero ExitCode is a
// normal outcome here; only a process that never started is an error.
type RunResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
	TimedOut bool
	Duration time.Duration
}

// LaunchError means the interpreter could not be started at all: missing
// binary, exec permission denied, bad working directory.
type LaunchError struct {
	Interpreter string
	Err         error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launching %s: %v", e.Interpreter, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }
