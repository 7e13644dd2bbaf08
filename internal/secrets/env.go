package secrets

import (
	"context"
	"fmt"
	"os"
	"strings"
)

// EnvProvider resolves "env://VARIABLE_NAME" references.
type EnvProvider struct{}

// NewEnvProvider creates an environment variable-based secret provider.
func NewEnvProvider() *EnvProvider { return &EnvProvider{} }

func (p *EnvProvider) Scheme() string { return "env" }

func (p *EnvProvider) Resolve(_ context.Context, ref string) (*Secret, error) {
	envVar, ok := strings.CutPrefix(ref, "env://")
	if !ok {
		return nil, fmt.Errorf("%w: env provider only handles env:// references, got %q", ErrSecretNotFound, ref)
	}
	if envVar == "" {
		return nil, fmt.Errorf("%w: empty environment variable name", ErrSecretNotFound)
	}
	value := os.Getenv(envVar)
	if value == "" {
		return nil, fmt.Errorf("%w: environment variable %q is not set or empty", ErrSecretNotFound, envVar)
	}
	return &Secret{
		Value:    value,
		Metadata: map[string]string{"source": "env", "variable": envVar},
	}, nil
}
