package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/kazi/internal/llm"
	"github.com/jkaninda/kazi/internal/sandbox"
	"github.com/jkaninda/kazi/internal/tools"
)

// --- InstrumentedProvider ---

// InstrumentedProvider wraps an llm.Provider with metrics and tracing.
type InstrumentedProvider struct {
	inner   llm.Provider
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedProvider wraps an LLM provider with observability.
func NewInstrumentedProvider(inner llm.Provider, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedProvider {
	return &InstrumentedProvider{inner: inner, metrics: metrics, tracer: tracerOf(ts)}
}

func (p *InstrumentedProvider) Name() string  { return p.inner.Name() }
func (p *InstrumentedProvider) Model() string { return p.inner.Model() }

func (p *InstrumentedProvider) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	provider, model := p.inner.Name(), p.inner.Model()

	ctx, end := startSpan(ctx, p.tracer, "llm.send_message",
		attribute.String("llm.provider", provider),
		attribute.String("llm.model", model),
		attribute.Int("llm.messages", len(req.Messages)),
	)

	start := time.Now()
	resp, err := p.inner.SendMessage(ctx, req)
	duration := time.Since(start).Seconds()
	end(err)

	if p.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		p.metrics.LLMRequestsTotal.WithLabelValues(provider, model, status).Inc()
		p.metrics.LLMRequestDuration.WithLabelValues(provider, model).Observe(duration)

		if resp != nil {
			p.metrics.LLMTokensUsed.WithLabelValues(provider, model, "input").Add(float64(resp.Usage.InputTokens))
			p.metrics.LLMTokensUsed.WithLabelValues(provider, model, "output").Add(float64(resp.Usage.OutputTokens))
		}
	}

	return resp, err
}

// --- InstrumentedExecutor ---

// InstrumentedExecutor wraps a sandbox.Executor with metrics and tracing.
type InstrumentedExecutor struct {
	inner   sandbox.Executor
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedExecutor wraps an executor with observability.
func NewInstrumentedExecutor(inner sandbox.Executor, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedExecutor {
	return &InstrumentedExecutor{inner: inner, metrics: metrics, tracer: tracerOf(ts)}
}

func (e *InstrumentedExecutor) Run(ctx context.Context, req sandbox.RunRequest) (*sandbox.RunResult, error) {
	ctx, end := startSpan(ctx, e.tracer, "executor.run",
		attribute.String("executor.interpreter", req.Interpreter),
	)

	start := time.Now()
	result, err := e.inner.Run(ctx, req)
	duration := time.Since(start).Seconds()
	end(err)

	if e.metrics != nil {
		e.metrics.ExecutorRunsTotal.WithLabelValues(runStatus(result, err)).Inc()
		e.metrics.ExecutorRunDuration.Observe(duration)
	}
	return result, err
}

// runStatus labels an executor outcome.
func runStatus(result *sandbox.RunResult, err error) string {
	switch {
	case err != nil:
		return "launch_error"
	case result == nil:
		return "unknown"
	case result.TimedOut:
		return "timeout"
	case result.ExitCode != 0:
		return "nonzero_exit"
	default:
		return "success"
	}
}

// --- InstrumentedDispatcher ---

// InstrumentedDispatcher wraps a tools.Dispatcher with metrics and tracing.
type InstrumentedDispatcher struct {
	inner   tools.Dispatcher
	metrics *MetricsCollector
	tracer  trace.Tracer
}

// NewInstrumentedDispatcher wraps a tool dispatcher with observability.
func NewInstrumentedDispatcher(inner tools.Dispatcher, metrics *MetricsCollector, ts *TracerSetup) *InstrumentedDispatcher {
	return &InstrumentedDispatcher{inner: inner, metrics: metrics, tracer: tracerOf(ts)}
}

func (d *InstrumentedDispatcher) Definitions() []tools.Definition { return d.inner.Definitions() }

func (d *InstrumentedDispatcher) Dispatch(ctx context.Context, call tools.Call) (*tools.Result, error) {
	ctx, end := startSpan(ctx, d.tracer, "tool.dispatch",
		attribute.String("tool.name", call.Name),
		attribute.String("tool.call_id", call.ID),
	)

	start := time.Now()
	res, err := d.inner.Dispatch(ctx, call)
	duration := time.Since(start).Seconds()
	end(err)

	if d.metrics != nil {
		kind := "no_result"
		if res != nil {
			kind = res.Kind.String()
		}
		d.metrics.ToolDispatchesTotal.WithLabelValues(call.Name, kind).Inc()
		d.metrics.ToolDispatchDuration.WithLabelValues(call.Name).Observe(duration)
	}
	return res, err
}

// --- Compile-time interface checks ---

var (
	_ llm.Provider     = (*InstrumentedProvider)(nil)
	_ sandbox.Executor = (*InstrumentedExecutor)(nil)
	_ tools.Dispatcher = (*InstrumentedDispatcher)(nil)
)
