// Package config loads kazi's configuration: an optional JSON or YAML file,
// then .env, then environment overrides (env wins), then defaults.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults.
const (
	DefaultRoot          = "."
	DefaultInterpreter   = "python3"
	DefaultExtension     = ".py"
	DefaultMaxChars      = 10000
	DefaultMaxIterations = 20
	DefaultProvider      = "gemini"
	DefaultGeminiModel   = "gemini-2.0-flash-001"
	DefaultOpenAIModel   = "gpt-4o-mini"
	DefaultOllamaModel   = "llama3.1"
	DefaultClaudeModel   = "claude-sonnet-4-5"
	DefaultOllamaBaseURL = "http://localhost:11434"
)

// Config is the top-level configuration.
type Config struct {
	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Agent         AgentConfig          `json:"agent" yaml:"agent"`
	Providers     ProvidersConfig      `json:"providers" yaml:"providers"`
	Log           LogConfig            `json:"log" yaml:"log"`
	Audit         *AuditConfig         `json:"audit,omitempty" yaml:"audit,omitempty"`                 // nil = audit trail disabled
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
	Secrets       SecretsConfig        `json:"secrets" yaml:"secrets"`
}

// SandboxConfig fixes the sandbox root and the limits of the tools bound to it.
type SandboxConfig struct {
	Root           string `json:"root" yaml:"root"`                         // Sandbox root. Override: KAZI_ROOT. Default: ".".
	Interpreter    string `json:"interpreter" yaml:"interpreter"`           // run_file interpreter. Default: python3.
	Extension      string `json:"extension" yaml:"extension"`               // run_file extension. Default: .py.
	MaxChars       int    `json:"max_chars" yaml:"max_chars"`               // read_file ceiling in characters. Default: 10000.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"`   // Per-run timeout. 0 = none.
	MaxOutputBytes int    `json:"max_output_bytes" yaml:"max_output_bytes"` // Per-stream capture cap. 0 = 1 MB, negative = none.
	InheritEnv     bool   `json:"inherit_env" yaml:"inherit_env"`           // Pass the parent environment to child processes.

	Executor string        `json:"executor" yaml:"executor"`                 // "process" (default) or "docker". Override: KAZI_EXECUTOR.
	Docker   *DockerConfig `json:"docker,omitempty" yaml:"docker,omitempty"` // Used when executor is "docker".
}

// DockerConfig configures the container executor. The sandbox root is
// mounted at /workspace and the interpreter runs inside the image.
type DockerConfig struct {
	Image          string  `json:"image" yaml:"image"`                     // Must provide the interpreter. Default: python:3.12-slim.
	MemoryMB       int     `json:"memory_mb" yaml:"memory_mb"`             // Default: 256.
	CPUs           float64 `json:"cpus" yaml:"cpus"`                       // Default: 1.0.
	PIDsLimit      int     `json:"pids_limit" yaml:"pids_limit"`           // Default: 64.
	NetworkAllowed bool    `json:"network_allowed" yaml:"network_allowed"` // false = --network=none.
}

// Timeout returns the per-run timeout.
func (s SandboxConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

// AgentConfig bounds the agent loop.
type AgentConfig struct {
	MaxIterations int    `json:"max_iterations" yaml:"max_iterations"`                   // Iteration ceiling. Default: 20.
	MaxTokens     int    `json:"max_tokens" yaml:"max_tokens"`                           // Per-reply token cap. 0 = provider default.
	SystemPrompt  string `json:"system_prompt,omitempty" yaml:"system_prompt,omitempty"` // Empty = built-in prompt.
}

// ProvidersConfig selects the decision oracle.
type ProvidersConfig struct {
	Default  string   `json:"default" yaml:"default"`                       // "gemini", "openai", "anthropic" or "ollama". Override: KAZI_PROVIDER.
	Fallback []string `json:"fallback,omitempty" yaml:"fallback,omitempty"` // Tried in order when the default fails.

	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // Per-provider pacing. 0 = unlimited.
	Burst             int `json:"burst" yaml:"burst"`                             // Token bucket size. 0 = requests_per_minute.

	Gemini GeminiConfig `json:"gemini" yaml:"gemini"`
	OpenAI OpenAIConfig `json:"openai" yaml:"openai"`
	Ollama OllamaConfig `json:"ollama" yaml:"ollama"`
}

type GeminiConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`   // Override: GEMINI_API_KEY.
	Model   string `json:"model" yaml:"model"`       // Default: gemini-2.0-flash-001.
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://generativelanguage.googleapis.com.
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`   // Override: OPENAI_API_KEY.
	Model   string `json:"model" yaml:"model"`       // Default: gpt-4o-mini.
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.openai.com.
}

type AnthropicConfig struct {
	APIKey  string `json:"api_key" yaml:"api_key"`   // Override: ANTHROPIC_API_KEY.
	Model   string `json:"model" yaml:"model"`       // Default: claude-sonnet-4-5.
	BaseURL string `json:"base_url" yaml:"base_url"` // Optional. Defaults to https://api.anthropic.com.
}

type OllamaConfig struct {
	Model   string `json:"model" yaml:"model"`       // Default: llama3.1.
	BaseURL string `json:"base_url" yaml:"base_url"` // Override: OLLAMA_BASE_URL. Default: http://localhost:11434.
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`   // "debug", "info" (default), "warn", "error".
	Format string `json:"format" yaml:"format"` // "json" (default) or "text".
}

// AuditConfig enables the tool-call audit trail.
type AuditConfig struct {
	Driver string `json:"driver" yaml:"driver"`                 // "jsonl" (default), "sqlite" or "postgres".
	Path   string `json:"path,omitempty" yaml:"path,omitempty"` // jsonl / sqlite file. Default: ~/.kazi/audit.jsonl or ~/.kazi/audit.db.
	DSN    string `json:"dsn,omitempty" yaml:"dsn,omitempty"`   // postgres DSN. Override: KAZI_AUDIT_DSN.
}

// SecretsConfig configures how credential references in api_key fields
// ("env://NAME", "vault://path#field") are resolved.
type SecretsConfig struct {
	Vault *VaultConfig `json:"vault,omitempty" yaml:"vault,omitempty"` // nil = vault:// references are rejected.
}

// VaultConfig points at a HashiCorp Vault KV v2 server.
type VaultConfig struct {
	Address        string `json:"address" yaml:"address"`                 // Override: VAULT_ADDR.
	Token          string `json:"token" yaml:"token"`                     // Override: VAULT_TOKEN.
	Namespace      string `json:"namespace" yaml:"namespace"`             // Override: VAULT_NAMESPACE.
	TimeoutSeconds int    `json:"timeout_seconds" yaml:"timeout_seconds"` // Default: 5.
	TLSSkipVerify  bool   `json:"tls_skip_verify" yaml:"tls_skip_verify"`
}

// ObservabilityConfig holds metrics and tracing settings.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig enables Prometheus metrics. A CLI run has no scrape
// endpoint, so metrics are written to a node-exporter textfile on exit.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Textfile string `json:"textfile" yaml:"textfile"` // Output path. Empty = not written.
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "kazi"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0–1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// Load reads the config file at path (JSON or YAML by extension) if path is
// non-empty, applies .env and environment overrides and defaults, and
// validates the result. Provider credentials are checked separately by
// ValidateProvider since not every command consults the oracle.
func Load(path string) (*Config, error) {
	var cfg Config
	if path != "" {
		if err := readFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// A missing .env is the normal case.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("loading .env: %w", err)
	}

	cfg.applyEnv()
	cfg.applyDefaults()

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

func readFile(path string, cfg *Config) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return fmt.Errorf("resolving config path %s: %w", path, err)
	}
	data, err := os.ReadFile(resolved)
	if err != nil {
		return fmt.Errorf("reading config %s: %w", resolved, err)
	}

	switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing YAML config %s: %w", resolved, err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("parsing JSON config %s: %w", resolved, err)
		}
	}
	return nil
}

// applyEnv applies environment overrides. Env vars take precedence over
// config values.
func (c *Config) applyEnv() {
	c.Sandbox.Root = goutils.Env("KAZI_ROOT", c.Sandbox.Root)
	c.Sandbox.Executor = goutils.Env("KAZI_EXECUTOR", c.Sandbox.Executor)
	c.Providers.Default = goutils.Env("KAZI_PROVIDER", c.Providers.Default)
	c.Providers.Gemini.APIKey = goutils.Env("GEMINI_API_KEY", c.Providers.Gemini.APIKey)
	c.Providers.OpenAI.APIKey = goutils.Env("OPENAI_API_KEY", c.Providers.OpenAI.APIKey)
	c.Providers.Anthropic.APIKey = goutils.Env("ANTHROPIC_API_KEY", c.Providers.Anthropic.APIKey)
	c.Providers.Ollama.BaseURL = goutils.Env("OLLAMA_BASE_URL", c.Providers.Ollama.BaseURL)

	if model := goutils.Env("KAZI_MODEL", ""); model != "" {
		c.SetModel(model)
	}
	if dsn := goutils.Env("KAZI_AUDIT_DSN", ""); dsn != "" {
		if c.Audit == nil {
			c.Audit = &AuditConfig{Driver: "postgres"}
		}
		c.Audit.DSN = dsn
	}
}

// SetModel overrides the model of the default provider.
func (c *Config) SetModel(model string) {
	switch c.Providers.Default {
	case "openai":
		c.Providers.OpenAI.Model = model
	case "anthropic":
		c.Providers.Anthropic.Model = model
	case "ollama":
		c.Providers.Ollama.Model = model
	default:
		c.Providers.Gemini.Model = model
	}
}

func (c *Config) applyDefaults() {
	if c.Sandbox.Root == "" {
		c.Sandbox.Root = DefaultRoot
	}
	if c.Sandbox.Interpreter == "" {
		c.Sandbox.Interpreter = DefaultInterpreter
	}
	if c.Sandbox.Extension == "" {
		c.Sandbox.Extension = DefaultExtension
	}
	if !strings.HasPrefix(c.Sandbox.Extension, ".") {
		c.Sandbox.Extension = "." + c.Sandbox.Extension
	}
	if c.Sandbox.MaxChars == 0 {
		c.Sandbox.MaxChars = DefaultMaxChars
	}
	if c.Sandbox.Executor == "" {
		c.Sandbox.Executor = "process"
	}
	if c.Sandbox.Executor == "docker" && c.Sandbox.Docker == nil {
		c.Sandbox.Docker = &DockerConfig{}
	}
	if c.Agent.MaxIterations == 0 {
		c.Agent.MaxIterations = DefaultMaxIterations
	}
	if c.Providers.Default == "" {
		c.Providers.Default = DefaultProvider
	}
	if c.Providers.Gemini.Model == "" {
		c.Providers.Gemini.Model = DefaultGeminiModel
	}
	if c.Providers.OpenAI.Model == "" {
		c.Providers.OpenAI.Model = DefaultOpenAIModel
	}
	if c.Providers.Anthropic.Model == "" {
		c.Providers.Anthropic.Model = DefaultClaudeModel
	}
	if c.Providers.Ollama.Model == "" {
		c.Providers.Ollama.Model = DefaultOllamaModel
	}
	if c.Providers.Ollama.BaseURL == "" {
		c.Providers.Ollama.BaseURL = DefaultOllamaBaseURL
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Audit != nil {
		if c.Audit.Driver == "" {
			c.Audit.Driver = "jsonl"
		}
		if c.Audit.Path == "" {
			switch c.Audit.Driver {
			case "jsonl":
				c.Audit.Path = filepath.Join(dataDir(), "audit.jsonl")
			case "sqlite":
				c.Audit.Path = filepath.Join(dataDir(), "audit.db")
			}
		}
	}
}

func (c *Config) validate() error {
	if c.Sandbox.MaxChars < 0 {
		return fmt.Errorf("sandbox.max_chars must be positive")
	}
	if c.Sandbox.TimeoutSeconds < 0 {
		return fmt.Errorf("sandbox.timeout_seconds must not be negative")
	}
	switch c.Sandbox.Executor {
	case "process", "docker":
	default:
		return fmt.Errorf("sandbox.executor %q is not supported (use process or docker)", c.Sandbox.Executor)
	}
	if d := c.Sandbox.Docker; d != nil && (d.MemoryMB < 0 || d.CPUs < 0 || d.PIDsLimit < 0) {
		return fmt.Errorf("sandbox.docker limits must not be negative")
	}
	if c.Agent.MaxIterations < 0 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	if c.Agent.MaxTokens < 0 {
		return fmt.Errorf("agent.max_tokens must not be negative")
	}
	if c.Providers.RequestsPerMinute < 0 || c.Providers.Burst < 0 {
		return fmt.Errorf("providers.requests_per_minute and providers.burst must not be negative")
	}
	for _, name := range append([]string{c.Providers.Default}, c.Providers.Fallback...) {
		if !isProvider(name) {
			return fmt.Errorf("provider %q is not supported (use gemini, openai, anthropic, or ollama)", name)
		}
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("log.format %q is not supported (use json or text)", c.Log.Format)
	}
	if c.Audit != nil {
		switch c.Audit.Driver {
		case "jsonl", "sqlite":
		case "postgres":
			if c.Audit.DSN == "" {
				return fmt.Errorf("audit.dsn is required for the postgres driver (set KAZI_AUDIT_DSN env var)")
			}
		default:
			return fmt.Errorf("audit.driver %q is not supported (use jsonl, sqlite, or postgres)", c.Audit.Driver)
		}
	}
	if t := c.tracing(); t != nil && t.Enabled && t.Endpoint == "" {
		return fmt.Errorf("observability.tracing.endpoint is required when tracing is enabled")
	}
	return nil
}

// ValidateProvider checks that the default provider and every fallback
// have the credentials they need.
func (c *Config) ValidateProvider() error {
	for _, name := range append([]string{c.Providers.Default}, c.Providers.Fallback...) {
		switch name {
		case "gemini":
			if c.Providers.Gemini.APIKey == "" {
				return fmt.Errorf("providers.gemini.api_key is required (set GEMINI_API_KEY env var)")
			}
		case "openai":
			if c.Providers.OpenAI.APIKey == "" {
				return fmt.Errorf("providers.openai.api_key is required (set OPENAI_API_KEY env var)")
			}
		case "anthropic":
			if c.Providers.Anthropic.APIKey == "" {
				return fmt.Errorf("providers.anthropic.api_key is required (set ANTHROPIC_API_KEY env var)")
			}
		case "ollama":
			// Local server, no credentials.
		default:
			return fmt.Errorf("provider %q is not supported (use gemini, openai, anthropic, or ollama)", name)
		}
	}
	return nil
}

func (c *Config) tracing() *TracingConfig {
	if c.Observability == nil {
		return nil
	}
	return c.Observability.Tracing
}

func isProvider(name string) bool {
	switch name {
	case "gemini", "openai", "anthropic", "ollama":
		return true
	}
	return false
}

// dataDir returns ~/.kazi, or .kazi when there is no home directory.
func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".kazi"
	}
	return filepath.Join(home, ".kazi")
}

func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
