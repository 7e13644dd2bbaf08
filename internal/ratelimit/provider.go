package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jkaninda/kazi/internal/llm"
)

// Provider paces requests to an inner llm.Provider, keyed by its name.
type Provider struct {
	inner   llm.Provider
	limiter *Limiter
	logger  *slog.Logger
}

// NewProvider wraps inner so that each SendMessage first waits for a token.
func NewProvider(inner llm.Provider, limiter *Limiter, logger *slog.Logger) *Provider {
	return &Provider{inner: inner, limiter: limiter, logger: logger}
}

func (p *Provider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	start := time.Now()
	if err := p.limiter.Wait(ctx, p.inner.Name()); err != nil {
		return nil, fmt.Errorf("%s: waiting for rate limit: %w", p.inner.Name(), err)
	}
	if waited := time.Since(start); waited > 100*time.Millisecond {
		p.logger.DebugContext(ctx, "request delayed by rate limit",
			slog.String("provider", p.inner.Name()),
			slog.Duration("waited", waited),
		)
	}
	return p.inner.SendMessage(ctx, req)
}

func (p *Provider) Name() string  { return p.inner.Name() }
func (p *Provider) Model() string { return p.inner.Model() }

var _ llm.Provider = (*Provider)(nil)
