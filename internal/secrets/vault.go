package secrets

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"
)

// VaultConfig configures the Vault KV v2 provider. VAULT_ADDR, VAULT_TOKEN
// and VAULT_NAMESPACE override the corresponding fields.
type VaultConfig struct {
	Address       string
	Token         string
	Namespace     string        // Enterprise namespace.
	Timeout       time.Duration // Default: 5s.
	TLSSkipVerify bool
}

// VaultProvider resolves references from HashiCorp Vault KV v2:
//
//	vault://secret/data/kazi#gemini_api_key
//
// The path is the full KV v2 API path. The optional #field selects one
// value; without it the whole data map is returned as JSON.
type VaultProvider struct {
	address   string
	token     string
	namespace string
	client    *http.Client
}

// NewVaultProvider creates a Vault KV v2 secret provider.
func NewVaultProvider(cfg VaultConfig) (*VaultProvider, error) {
	address := strings.TrimRight(goutils.Env("VAULT_ADDR", cfg.Address), "/")
	if address == "" {
		return nil, fmt.Errorf("vault address is required (set secrets.vault.address or VAULT_ADDR)")
	}
	token := goutils.Env("VAULT_TOKEN", cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("vault token is required (set secrets.vault.token or VAULT_TOKEN)")
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSSkipVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	return &VaultProvider{
		address:   address,
		token:     token,
		namespace: goutils.Env("VAULT_NAMESPACE", cfg.Namespace),
		client:    &http.Client{Timeout: timeout, Transport: transport},
	}, nil
}

func (p *VaultProvider) Scheme() string { return "vault" }

func (p *VaultProvider) Resolve(ctx context.Context, ref string) (*Secret, error) {
	raw, ok := strings.CutPrefix(ref, "vault://")
	if !ok {
		return nil, fmt.Errorf("%w: vault provider only handles vault:// references, got %q", ErrSecretNotFound, ref)
	}

	path, field, _ := strings.Cut(raw, "#")
	if path == "" {
		return nil, fmt.Errorf("%w: empty vault path", ErrSecretNotFound)
	}

	url := fmt.Sprintf("%s/v1/%s", p.address, path)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building vault request: %w", err)
	}
	req.Header.Set("X-Vault-Token", p.token)
	if p.namespace != "" {
		req.Header.Set("X-Vault-Namespace", p.namespace)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("vault request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading vault response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: vault path %q not found", ErrSecretNotFound, path)
	case resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("vault access denied for path %q (check token permissions)", path)
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("vault server error %d for path %q", resp.StatusCode, path)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("vault returned status %d for path %q", resp.StatusCode, path)
	}

	// KV v2 envelope: {"data": {"data": {...}, "metadata": {...}}}
	var envelope struct {
		Data struct {
			Data map[string]any `json:"data"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("parsing vault response: %w", err)
	}

	data := envelope.Data.Data
	if data == nil {
		return nil, fmt.Errorf("%w: vault path %q returned no data", ErrSecretNotFound, path)
	}

	metadata := map[string]string{
		"source": "vault",
		"path":   path,
	}

	// Field selector: return a single value.
	if field != "" {
		metadata["field"] = field
		val, ok := data[field]
		if !ok {
			return nil, fmt.Errorf("%w: field %q not found in vault path %q",
				ErrSecretNotFound, field, path)
		}
		str, ok := val.(string)
		if !ok {
			return nil, fmt.Errorf("vault field %q in path %q is not a string", field, path)
		}
		return &Secret{Value: str, Metadata: metadata}, nil
	}

	// No field selector: return entire data map as JSON.
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("marshaling vault data: %w", err)
	}
	return &Secret{Value: string(jsonBytes), Metadata: metadata}, nil
}
