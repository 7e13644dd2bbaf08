// Package secrets resolves credential references such as "env://NAME" or
// "vault://secret/data/kazi#gemini" so API keys need not sit in plain text
// in the config file. Values that are not references pass through as-is.
package secrets

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrSecretNotFound is returned when a credential reference cannot be resolved.
var ErrSecretNotFound = errors.New("secret not found")

// Secret holds resolved credential material. Never log Value.
type Secret struct {
	Value    string
	Metadata map[string]string // Source details safe to log (path, variable).
}

// Provider resolves references of a single scheme.
type Provider interface {
	Resolve(ctx context.Context, ref string) (*Secret, error)
	// Scheme is the reference prefix the provider owns, without "://".
	Scheme() string
}

// Resolver routes references to the provider owning their scheme.
type Resolver struct {
	providers map[string]Provider
}

// NewResolver creates a resolver over the given providers.
func NewResolver(providers ...Provider) *Resolver {
	r := &Resolver{providers: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		r.providers[p.Scheme()] = p
	}
	return r
}

// IsReference reports whether value looks like "scheme://...".
func IsReference(value string) bool {
	scheme, _, ok := strings.Cut(value, "://")
	return ok && scheme != "" && !strings.ContainsAny(scheme, " /")
}

// Resolve returns the secret value for ref, or ref itself when it is not a
// reference.
func (r *Resolver) Resolve(ctx context.Context, ref string) (string, error) {
	if !IsReference(ref) {
		return ref, nil
	}
	scheme, _, _ := strings.Cut(ref, "://")
	p, ok := r.providers[scheme]
	if !ok {
		return "", fmt.Errorf("%w: no provider for %s:// references", ErrSecretNotFound, scheme)
	}
	secret, err := p.Resolve(ctx, ref)
	if err != nil {
		return "", err
	}
	return secret.Value, nil
}

// ResolveInPlace replaces every reference among fields with its value.
// Empty fields are skipped.
func (r *Resolver) ResolveInPlace(ctx context.Context, fields ...*string) error {
	for _, f := range fields {
		if f == nil || *f == "" {
			continue
		}
		v, err := r.Resolve(ctx, *f)
		if err != nil {
			return err
		}
		*f = v
	}
	return nil
}
