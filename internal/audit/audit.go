// Package audit records every tool call to an append-only trail: a JSONL
// file, or a SQLite/PostgreSQL table through GORM.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jkaninda/kazi/internal/config"
	"github.com/jkaninda/kazi/internal/tools"
)

// maxSummaryBytes caps the output excerpt kept per event.
const maxSummaryBytes = 1024

// Event is one audited tool call.
type Event struct {
	ID            string         `json:"id"`
	Time          time.Time      `json:"time"`
	CorrelationID string         `json:"correlation_id,omitempty"`
	CallID        string         `json:"call_id,omitempty"`
	Tool          string         `json:"tool"`
	Args          map[string]any `json:"args,omitempty"`
	Kind          string         `json:"kind"`
	Summary       string         `json:"summary,omitempty"` // Output excerpt.
	DurationMS    int64          `json:"duration_ms"`
	Error         string         `json:"error,omitempty"` // Dispatch error, not a tool failure.
}

// Querier lists recorded events, newest first. An empty correlationID
// matches every run; limit <= 0 means 100.
type Querier interface {
	Query(ctx context.Context, correlationID string, limit int) ([]Event, error)
}

// Sink persists audit events. Implementations must be safe for concurrent use.
type Sink interface {
	Record(ctx context.Context, event Event) error
	Close() error
}

// Open returns the sink selected by cfg.Driver.
func Open(cfg *config.AuditConfig, logger *slog.Logger) (Sink, error) {
	switch cfg.Driver {
	case "", "jsonl":
		return NewFileSink(cfg.Path, logger)
	case "sqlite":
		return OpenSQLite(cfg.Path, logger)
	case "postgres":
		return OpenPostgres(cfg.DSN, logger)
	default:
		return nil, fmt.Errorf("unsupported audit driver %q", cfg.Driver)
	}
}

// Dispatcher records every dispatch to a Sink. A failing sink is logged
// and never changes the dispatch outcome.
type Dispatcher struct {
	inner  tools.Dispatcher
	sink   Sink
	logger *slog.Logger
}

// NewDispatcher wraps inner so each call is audited to sink.
func NewDispatcher(inner tools.Dispatcher, sink Sink, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{inner: inner, sink: sink, logger: logger}
}

func (d *Dispatcher) Definitions() []tools.Definition { return d.inner.Definitions() }

func (d *Dispatcher) Dispatch(ctx context.Context, call tools.Call) (*tools.Result, error) {
	start := time.Now()
	res, err := d.inner.Dispatch(ctx, call)

	event := Event{
		ID:            uuid.NewString(),
		Time:          start.UTC(),
		CorrelationID: tools.CorrelationIDFromContext(ctx),
		CallID:        call.ID,
		Tool:          call.Name,
		Args:          call.Args,
		DurationMS:    time.Since(start).Milliseconds(),
	}
	switch {
	case err != nil:
		event.Kind = "no_result"
		event.Error = err.Error()
	case res != nil:
		event.Kind = res.Kind.String()
		event.Summary = tools.TruncateOutput(res.Output, maxSummaryBytes)
	}

	// The audit write must outlive a cancelled run.
	if recErr := d.sink.Record(context.WithoutCancel(ctx), event); recErr != nil {
		d.logger.WarnContext(ctx, "audit record failed",
			slog.String("tool", call.Name),
			slog.String("call_id", call.ID),
			slog.Any("error", recErr),
		)
	}
	return res, err
}

var _ tools.Dispatcher = (*Dispatcher)(nil)
