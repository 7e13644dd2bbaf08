package main

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/ratelimit"
	"github.com/jkaninda/kazi/internal/sandbox"
	"github.com/jkaninda/kazi/internal/tools"
)

func TestBuildProvider(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.Gemini.Model = "gemini-2.0-flash-001"
	cfg.Providers.OpenAI.Model = "gpt-4o-mini"
	cfg.Providers.Ollama.Model = "llama3.1"
	cfg.Providers.Ollama.BaseURL = "http://localhost:11434"
	logger := newLogger(config.LogConfig{Level: "error"})

	for name, want := range map[string]string{"gemini": "gemini", "openai": "openai", "anthropic": "anthropic", "ollama": "ollama"} {
		p, err := buildProvider(name, cfg, logger)
		if err != nil {
			t.Fatalf("buildProvider(%s): %v", name, err)
		}
		if p.Name() != want {
			t.Errorf("buildProvider(%s).Name() = %q", name, p.Name())
		}
	}
	if _, err := buildProvider("bedrock", cfg, logger); err == nil {
		t.Error("expected error for unsupported provider")
	}
}

func TestNewLLMProvider_Fallback(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.Default = "gemini"
	cfg.Providers.Fallback = []string{"ollama"}
	logger := newLogger(config.LogConfig{Level: "error"})

	p, err := newLLMProvider(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	if p.Name() != "gemini+fallback" {
		t.Errorf("Name() = %q", p.Name())
	}
}

func TestNewLLMProvider_RateLimited(t *testing.T) {
	cfg := &config.Config{}
	cfg.Providers.Default = "ollama"
	cfg.Providers.Ollama.Model = "llama3.1"
	cfg.Providers.RequestsPerMinute = 30
	logger := newLogger(config.LogConfig{Level: "error"})

	p, err := newLLMProvider(cfg, logger)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := p.(*ratelimit.Provider); !ok {
		t.Errorf("expected rate limited provider, got %T", p)
	}
	if p.Name() != "ollama" || p.Model() != "llama3.1" {
		t.Errorf("Name/Model = %q/%q", p.Name(), p.Model())
	}
}

func TestInitShared_RegistersToolsInOrder(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.Config{
		Sandbox: config.SandboxConfig{Root: dir, Interpreter: "python3", Extension: ".py", MaxChars: 100},
		Log:     config.LogConfig{Level: "error", Format: "text"},
		Audit:   &config.AuditConfig{Driver: "jsonl", Path: filepath.Join(dir, ".audit", "audit.jsonl")},
	}
	c, err := initShared(cfg)
	if err != nil {
		t.Fatalf("initShared: %v", err)
	}
	defer c.Cleanup()

	var names []string
	for _, d := range c.Dispatcher.Definitions() {
		names = append(names, d.Name)
	}
	want := []string{"list_files", "read_file", "run_file", "write_file"}
	if !slices.Equal(names, want) {
		t.Errorf("tools = %v, want %v", names, want)
	}
	if got := c.Registry.List(); !slices.Equal(got, want) {
		t.Errorf("List = %v, want %v", got, want)
	}

	if _, err := c.Dispatcher.Dispatch(t.Context(), tools.Call{Name: "list_files"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(cfg.Audit.Path); err != nil {
		t.Errorf("audit file not written: %v", err)
	}
}

func TestRunPrompt_RequiresPrompt(t *testing.T) {
	runCmd.SetOut(&bytes.Buffer{})
	runCmd.SetErr(&bytes.Buffer{})
	if err := runPrompt(runCmd, []string{"  "}); err == nil {
		t.Fatal("expected error for empty prompt")
	}
}

func TestNewExecutor(t *testing.T) {
	logger := newLogger(config.LogConfig{Level: "error"})

	if _, ok := newExecutor(config.SandboxConfig{Executor: "process"}, logger).(*sandbox.ProcessExecutor); !ok {
		t.Error("process executor expected")
	}
	docker := config.SandboxConfig{Executor: "docker", Docker: &config.DockerConfig{Image: "python:3.12-slim"}}
	if _, ok := newExecutor(docker, logger).(*sandbox.DockerExecutor); !ok {
		t.Error("docker executor expected")
	}
}

func TestResolveCredentials(t *testing.T) {
	t.Setenv("KAZI_TEST_OPENAI_KEY", "sk-from-env")
	cfg := &config.Config{}
	cfg.Providers.OpenAI.APIKey = "env://KAZI_TEST_OPENAI_KEY"
	cfg.Providers.Gemini.APIKey = "plain-key"
	logger := newLogger(config.LogConfig{Level: "error"})

	if err := resolveCredentials(t.Context(), cfg, logger); err != nil {
		t.Fatalf("resolveCredentials: %v", err)
	}
	if cfg.Providers.OpenAI.APIKey != "sk-from-env" || cfg.Providers.Gemini.APIKey != "plain-key" {
		t.Errorf("keys = %q / %q", cfg.Providers.OpenAI.APIKey, cfg.Providers.Gemini.APIKey)
	}

	cfg.Providers.Anthropic.APIKey = "vault://secret/data/kazi#anthropic"
	if err := resolveCredentials(t.Context(), cfg, logger); err == nil {
		t.Error("vault:// reference without a vault config must fail")
	}
}
