package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// FallbackProvider consults providers in order until one answers.
// Cancellation of ctx stops the chain immediately.
type FallbackProvider struct {
	providers []Provider
	logger    *slog.Logger
}

// NewFallbackProvider creates a provider that tries each provider in order.
// At least one provider is required.
func NewFallbackProvider(providers []Provider, logger *slog.Logger) (*FallbackProvider, error) {
	if len(providers) == 0 {
		return nil, errors.New("fallback provider requires at least one provider")
	}
	return &FallbackProvider{providers: providers, logger: logger}, nil
}

// SendMessage returns the first successful response. The error wraps every
// provider's failure when all of them fail.
func (f *FallbackProvider) SendMessage(ctx context.Context, req *Request) (*Response, error) {
	var errs []error
	for i, p := range f.providers {
		resp, err := p.SendMessage(ctx, req)
		if err == nil {
			if i > 0 {
				f.logger.InfoContext(ctx, "provider fallback succeeded",
					slog.String("provider", p.Name()),
					slog.Int("attempt", i+1),
				)
			}
			return resp, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
		if i < len(f.providers)-1 {
			f.logger.WarnContext(ctx, "provider failed, trying next",
				slog.String("provider", p.Name()),
				slog.String("error", err.Error()),
				slog.Int("attempt", i+1),
			)
		}
	}
	return nil, fmt.Errorf("all %d providers failed: %w", len(f.providers), errors.Join(errs...))
}

// Name returns a composite name indicating fallback configuration.
func (f *FallbackProvider) Name() string {
	return f.providers[0].Name() + "+fallback"
}

// Model returns the primary provider's model.
func (f *FallbackProvider) Model() string {
	return f.providers[0].Model()
}
