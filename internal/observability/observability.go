// Package observability provides Prometheus metrics and OpenTelemetry
// tracing for kazi. Both are optional and nil-safe: when disabled, the
// wrappers skip recording with a single nil check per operation.
package observability

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jkaninda/kazi/internal/config"
)

// Observability is the top-level facade holding all observability components.
// Any field may be nil when that feature is disabled.
type Observability struct {
	Metrics  *MetricsCollector
	Tracer   *TracerSetup
	textfile string
	logger   *slog.Logger
}

// New creates an Observability instance from config.
// Returns nil when the config is nil (all features disabled).
func New(cfg *config.ObservabilityConfig, logger *slog.Logger) (*Observability, error) {
	if cfg == nil {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	obs := &Observability{logger: logger}

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		obs.Metrics = NewMetricsCollector()
		obs.textfile = cfg.Metrics.Textfile
	}

	if cfg.Tracing != nil && cfg.Tracing.Enabled {
		ts, err := NewTracerSetup(cfg.Tracing)
		if err != nil {
			return nil, fmt.Errorf("initializing tracing: %w", err)
		}
		obs.Tracer = ts
	}

	return obs, nil
}

// Shutdown flushes pending spans and writes the metrics textfile, if one
// is configured.
func (o *Observability) Shutdown(ctx context.Context) {
	if o == nil {
		return
	}
	if o.Metrics != nil && o.textfile != "" {
		if err := o.Metrics.WriteTextfile(o.textfile); err != nil {
			o.logger.Warn("writing metrics textfile", slog.String("path", o.textfile), slog.Any("error", err))
		}
	}
	if o.Tracer != nil {
		if err := o.Tracer.Shutdown(ctx); err != nil {
			o.logger.Warn("shutting down tracer", slog.Any("error", err))
		}
	}
}

// TracerOrNil returns the OTel tracer or nil if tracing is disabled.
func (o *Observability) TracerOrNil() *TracerSetup {
	if o == nil {
		return nil
	}
	return o.Tracer
}

// MetricsOrNil returns the metrics collector or nil if metrics are disabled.
func (o *Observability) MetricsOrNil() *MetricsCollector {
	if o == nil {
		return nil
	}
	return o.Metrics
}
