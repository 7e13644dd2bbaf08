package secrets

import (
	"context"
	"errors"
	"net/http"
	"testing"
)

func TestIsReference(t *testing.T) {
	tests := []struct {
		value string
		want  bool
	}{
		{"env://GEMINI_API_KEY", true},
		{"vault://secret/data/kazi#gemini", true},
		{"sk-plain-key", false},
		{"", false},
		{"://nothing", false},
		{"not a/scheme://x", false},
	}
	for _, tt := range tests {
		if got := IsReference(tt.value); got != tt.want {
			t.Errorf("IsReference(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestResolver_PlainValuePassesThrough(t *testing.T) {
	r := NewResolver(NewEnvProvider())
	v, err := r.Resolve(context.Background(), "sk-plain-key")
	if err != nil || v != "sk-plain-key" {
		t.Errorf("Resolve = %q, %v", v, err)
	}
}

func TestResolver_Env(t *testing.T) {
	t.Setenv("KAZI_TEST_SECRET", "from-env")
	r := NewResolver(NewEnvProvider())

	v, err := r.Resolve(context.Background(), "env://KAZI_TEST_SECRET")
	if err != nil || v != "from-env" {
		t.Errorf("Resolve = %q, %v", v, err)
	}
	if _, err := r.Resolve(context.Background(), "env://KAZI_TEST_MISSING"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("expected ErrSecretNotFound, got %v", err)
	}
}

func TestResolver_UnknownScheme(t *testing.T) {
	r := NewResolver(NewEnvProvider())
	if _, err := r.Resolve(context.Background(), "vault://secret/data/x#k"); !errors.Is(err, ErrSecretNotFound) {
		t.Errorf("expected ErrSecretNotFound without a vault provider, got %v", err)
	}
}

func TestResolver_ResolveInPlace(t *testing.T) {
	clearVaultEnv(t)
	srv := newTestVaultServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(kvV2Response(map[string]any{"openai": "sk-vault"}))
	})
	vp, err := NewVaultProvider(VaultConfig{Address: srv.URL, Token: "test-token"})
	if err != nil {
		t.Fatal(err)
	}
	t.Setenv("KAZI_TEST_GEMINI", "gm-env")
	r := NewResolver(NewEnvProvider(), vp)

	gemini, openai, plain, empty := "env://KAZI_TEST_GEMINI", "vault://secret/data/kazi#openai", "literal", ""
	if err := r.ResolveInPlace(context.Background(), &gemini, &openai, &plain, &empty, nil); err != nil {
		t.Fatalf("ResolveInPlace: %v", err)
	}
	if gemini != "gm-env" || openai != "sk-vault" || plain != "literal" || empty != "" {
		t.Errorf("resolved = %q %q %q %q", gemini, openai, plain, empty)
	}

	bad := "env://KAZI_TEST_UNSET"
	if err := r.ResolveInPlace(context.Background(), &bad); err == nil {
		t.Error("expected error for unresolvable reference")
	}
}
