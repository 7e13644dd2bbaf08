package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"
)

// testImage is the Docker image used for integration tests.
const testImage = "busybox:latest"

// skipIfNoDocker skips the test if Docker is unavailable.
func skipIfNoDocker(t *testing.T) {
	t.Helper()
	if err := exec.Command("docker", "info").Run(); err != nil {
		t.Skip("docker not available, skipping integration test")
	}
}

// skipIfNoImage skips the test if the image has not been pulled.
func skipIfNoImage(t *testing.T) {
	t.Helper()
	out, err := exec.Command("docker", "images", "-q", testImage).Output()
	if err != nil || strings.TrimSpace(string(out)) == "" {
		t.Skipf("docker image %s not found, skipping (docker pull %s)", testImage, testImage)
	}
}

func newTestDockerExecutor(t *testing.T) *DockerExecutor {
	t.Helper()
	skipIfNoDocker(t)
	skipIfNoImage(t)

	return NewDockerExecutor(DockerConfig{
		Image:          testImage,
		DefaultTimeout: 30 * time.Second,
		MemoryMB:       64,
		CPUCores:       0.5,
		PIDsLimit:      32,
	}, discardLogger())
}

// worldReadableDir returns a temp dir the container's nobody user can read.
func worldReadableDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.Chmod(dir, 0755); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestNewDockerExecutor_Defaults(t *testing.T) {
	e := NewDockerExecutor(DockerConfig{}, discardLogger())
	if e.config.Image != defaultDockerImage || e.config.MemoryMB != defaultDockerMemoryMB ||
		e.config.CPUCores != defaultDockerCPUCores || e.config.PIDsLimit != defaultDockerPIDsLimit {
		t.Errorf("config = %+v", e.config)
	}
	if e.config.MaxOutputBytes != defaultMaxOutputBytes {
		t.Errorf("MaxOutputBytes = %d", e.config.MaxOutputBytes)
	}
}

func TestDockerExecutor_BuildArgs(t *testing.T) {
	e := NewDockerExecutor(DockerConfig{Image: "python:3.12-slim", MemoryMB: 128, CPUCores: 0.5, PIDsLimit: 16}, discardLogger())
	args := e.buildArgs("kazi-run-test", "/srv/project")

	for _, want := range []string{
		"--rm",
		"--cap-drop=ALL",
		"--security-opt=no-new-privileges",
		"--read-only",
		"--user=65534:65534",
		"--memory=128m",
		"--memory-swap=128m",
		"--cpus=0.50",
		"--pids-limit=16",
		"--network=none",
		"/srv/project:/workspace",
	} {
		if !slices.Contains(args, want) {
			t.Errorf("missing %q in %v", want, args)
		}
	}
	if args[len(args)-1] != "python:3.12-slim" {
		t.Errorf("image must be last, got %q", args[len(args)-1])
	}

	e.config.NetworkAllowed = true
	if args := e.buildArgs("n", "/d"); !slices.Contains(args, "--network=bridge") {
		t.Errorf("expected bridge network, got %v", args)
	}
}

func TestDockerExecutor_MissingDockerCLI(t *testing.T) {
	e := NewDockerExecutor(DockerConfig{}, discardLogger())
	e.docker = "kazi-no-such-docker"

	_, err := e.Run(context.Background(), RunRequest{Interpreter: "python3", File: "/tmp/main.py"})
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
}

func TestDockerExecutor_FileOutsideDir(t *testing.T) {
	e := NewDockerExecutor(DockerConfig{}, discardLogger())
	e.docker = "sh" // any binary on PATH gets past the CLI lookup

	_, err := e.Run(context.Background(), RunRequest{Interpreter: "sh", File: "/etc/passwd", Dir: "/srv/project"})
	var launchErr *LaunchError
	if !errors.As(err, &launchErr) {
		t.Fatalf("expected LaunchError, got %v", err)
	}
}

// fakeDockerCLI writes a docker stand-in that prints msg to stderr and
// exits with code for "run", and succeeds for anything else.
func fakeDockerCLI(t *testing.T, code int, msg string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "docker")
	script := fmt.Sprintf("#!/bin/sh\nif [ \"$1\" != run ]; then exit 0; fi\necho '%s' >&2\nexit %d\n", msg, code)
	if err := os.WriteFile(p, []byte(script), 0755); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestDockerExecutor_LaunchExitCodes(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "main.py")

	tests := []struct {
		name   string
		code   int
		launch bool
	}{
		{"daemon error", 125, true},
		{"not invokable", 126, true},
		{"interpreter missing", 127, true},
		{"script failed", 1, false},
		{"script exit 2", 2, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			e := NewDockerExecutor(DockerConfig{}, discardLogger())
			e.docker = fakeDockerCLI(t, tc.code, `exec: "python3": executable file not found in $PATH`)

			res, err := e.Run(context.Background(), RunRequest{Interpreter: "python3", File: file, Dir: dir})
			var launchErr *LaunchError
			if tc.launch {
				if !errors.As(err, &launchErr) {
					t.Fatalf("expected LaunchError, got res=%+v err=%v", res, err)
				}
				if !strings.Contains(err.Error(), "executable file not found") {
					t.Errorf("docker stderr missing from %q", err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if res.ExitCode != tc.code {
				t.Errorf("ExitCode = %d, want %d", res.ExitCode, tc.code)
			}
		})
	}
}

func TestDockerExecutor_BasicExecution(t *testing.T) {
	e := newTestDockerExecutor(t)
	dir := worldReadableDir(t)
	script := writeScript(t, dir, "hello.sh", "echo hello\necho oops >&2\npwd\n")
	if err := os.Chmod(script, 0644); err != nil {
		t.Fatal(err)
	}

	result, err := e.Run(context.Background(), RunRequest{Interpreter: "sh", File: script, Dir: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 0 {
		t.Errorf("exit code = %d, want 0 (stderr: %s)", result.ExitCode, result.Stderr)
	}
	if result.Stdout != "hello\n/workspace\n" {
		t.Errorf("stdout = %q", result.Stdout)
	}
	if result.Stderr != "oops\n" {
		t.Errorf("stderr = %q", result.Stderr)
	}
}

func TestDockerExecutor_NestedFile(t *testing.T) {
	e := newTestDockerExecutor(t)
	dir := worldReadableDir(t)
	sub := filepath.Join(dir, "pkg")
	if err := os.Mkdir(sub, 0755); err != nil {
		t.Fatal(err)
	}
	script := writeScript(t, sub, "run.sh", "echo nested\n")
	if err := os.Chmod(script, 0644); err != nil {
		t.Fatal(err)
	}

	result, err := e.Run(context.Background(), RunRequest{Interpreter: "sh", File: script, Dir: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Stdout != "nested\n" {
		t.Errorf("stdout = %q", result.Stdout)
	}
}

func TestDockerExecutor_NonZeroExit(t *testing.T) {
	e := newTestDockerExecutor(t)
	dir := worldReadableDir(t)
	script := writeScript(t, dir, "fail.sh", "exit 42\n")
	if err := os.Chmod(script, 0644); err != nil {
		t.Fatal(err)
	}

	result, err := e.Run(context.Background(), RunRequest{Interpreter: "sh", File: script, Dir: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode != 42 {
		t.Errorf("exit code = %d, want 42", result.ExitCode)
	}
}

func TestDockerExecutor_Timeout(t *testing.T) {
	e := newTestDockerExecutor(t)
	dir := worldReadableDir(t)
	script := writeScript(t, dir, "sleep.sh", "sleep 60\n")
	if err := os.Chmod(script, 0644); err != nil {
		t.Fatal(err)
	}

	result, err := e.Run(context.Background(), RunRequest{
		Interpreter: "sh",
		File:        script,
		Dir:         dir,
		Timeout:     2 * time.Second,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.TimedOut {
		t.Error("expected timeout")
	}
}

func TestDockerExecutor_NoNetwork(t *testing.T) {
	e := newTestDockerExecutor(t)
	dir := worldReadableDir(t)
	script := writeScript(t, dir, "net.sh", "wget -q -T 2 -O- http://example.com\n")
	if err := os.Chmod(script, 0644); err != nil {
		t.Fatal(err)
	}

	result, err := e.Run(context.Background(), RunRequest{Interpreter: "sh", File: script, Dir: dir})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ExitCode == 0 {
		t.Error("expected network access to fail with --network=none")
	}
}
