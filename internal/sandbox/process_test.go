package sandbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(body), 0640); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestProcessExecutor_CapturesOutput(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "hello.sh", "echo out\necho err >&2\n")

	e := NewProcessExecutor(ProcessConfig{}, discardLogger())
	res, err := e.Run(context.Background(), RunRequest{Interpreter: "sh", File: script})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("Stdout = %q", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("Stderr = %q", res.Stderr)
	}
}

func TestProcessExecutor_NonZeroExitIsResult(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "fail.sh", "echo failing\nexit 3\n")

	e := NewProcessExecutor(ProcessConfig{}, discardLogger())
	res, err := e.Run(context.Background(), RunRequest{Interpreter: "sh", File: script})
	if err != nil {
		t.Fatalf("non-zero exit must not be an error: %v", err)
	}
	if res.ExitCode != 3 {
		t.Errorf("ExitCode = %d, want 3", res.ExitCode)
	}
}

func TestProcessExecutor_RunsInWorkingDir(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "pwd.sh", "pwd\n")

	e := NewProcessExecutor(ProcessConfig{}, discardLogger())
	res, err := e.Run(context.Background(), RunRequest{Interpreter: "sh", File: script, Dir: dir})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(res.Stdout))
	want, _ := filepath.EvalSymlinks(dir)
	if got != want {
		t.Errorf("pwd = %q, want %q", got, want)
	}
}

func TestProcessExecutor_SanitizedEnv(t *testing.T) {
	t.Setenv("KAZI_TEST_SECRET", "leak")
	dir := t.TempDir()
	script := writeScript(t, dir, "env.sh", "echo \"secret=$KAZI_TEST_SECRET\"\n")

	e := NewProcessExecutor(ProcessConfig{}, discardLogger())
	res, err := e.Run(context.Background(), RunRequest{Interpreter: "sh", File: script})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if strings.Contains(res.Stdout, "leak") {
		t.Errorf("parent environment leaked into child: %q", res.Stdout)
	}

	e = NewProcessExecutor(ProcessConfig{InheritEnv: true}, discardLogger())
	res, err = e.Run(context.Background(), RunRequest{Interpreter: "sh", File: script})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !strings.Contains(res.Stdout, "leak") {
		t.Errorf("expected inherited env, got %q", res.Stdout)
	}
}

func TestProcessExecutor_MissingInterpreter(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "x.py", "print(1)\n")

	e := NewProcessExecutor(ProcessConfig{}, discardLogger())
	_, err := e.Run(context.Background(), RunRequest{Interpreter: "kazi-no-such-interpreter", File: script})
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected *LaunchError, got %v", err)
	}
	if launchErr.Interpreter != "kazi-no-such-interpreter" {
		t.Errorf("Interpreter = %q", launchErr.Interpreter)
	}
}

func TestProcessExecutor_BadWorkingDir(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "x.sh", "true\n")

	e := NewProcessExecutor(ProcessConfig{}, discardLogger())
	_, err := e.Run(context.Background(), RunRequest{
		Interpreter: "sh",
		File:        script,
		Dir:         filepath.Join(dir, "missing"),
	})
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected *LaunchError, got %v", err)
	}
}

func TestProcessExecutor_Timeout(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "sleep.sh", "sleep 5\n")

	e := NewProcessExecutor(ProcessConfig{DefaultTimeout: 100 * time.Millisecond}, discardLogger())
	start := time.Now()
	res, err := e.Run(context.Background(), RunRequest{Interpreter: "sh", File: script})
	if err != nil {
		t.Fatalf("timeout must not be a launch failure: %v", err)
	}
	if !res.TimedOut {
		t.Error("expected TimedOut")
	}
	if time.Since(start) > 3*time.Second {
		t.Errorf("process group not killed promptly: %s", time.Since(start))
	}
}

func TestProcessExecutor_OutputCap(t *testing.T) {
	dir := t.TempDir()
	script := writeScript(t, dir, "big.sh", "i=0\nwhile [ $i -lt 200 ]; do echo 0123456789; i=$((i+1)); done\n")

	e := NewProcessExecutor(ProcessConfig{MaxOutputBytes: 64}, discardLogger())
	res, err := e.Run(context.Background(), RunRequest{Interpreter: "sh", File: script})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(res.Stdout) != 64 {
		t.Errorf("len(Stdout) = %d, want 64", len(res.Stdout))
	}
	if res.ExitCode != 0 {
		t.Errorf("ExitCode = %d, want 0", res.ExitCode)
	}
}

func TestLimitedWriter(t *testing.T) {
	var sb strings.Builder
	lw := &limitedWriter{w: &sb, remaining: 5}

	n, err := lw.Write([]byte("abc"))
	if err != nil || n != 3 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	n, err = lw.Write([]byte("defgh"))
	if err != nil || n != 5 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	n, err = lw.Write([]byte("ijk"))
	if err != nil || n != 3 {
		t.Fatalf("Write = %d, %v", n, err)
	}
	if sb.String() != "abcde" {
		t.Errorf("got %q, want abcde", sb.String())
	}
}
