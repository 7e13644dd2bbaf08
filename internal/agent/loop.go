package agent

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/jkaninda/kazi/internal/observability"
	"github.com/jkaninda/kazi/internal/tools"
)

// Loop is the agent loop controller. It owns the conversation of each Run
// and is the only thing that appends to it.
type Loop struct {
	oracle        Oracle
	dispatcher    tools.Dispatcher
	logger        *slog.Logger
	maxIterations int                          // 0 = DefaultMaxIterations
	obs           *observability.Observability // nil = observability disabled
}

// NewLoop creates a loop that consults oracle and routes calls through dispatcher.
func NewLoop(oracle Oracle, dispatcher tools.Dispatcher, logger *slog.Logger) *Loop {
	return &Loop{
		oracle:     oracle,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// WithMaxIterations sets the iteration ceiling.
func (l *Loop) WithMaxIterations(n int) *Loop {
	l.maxIterations = n
	return l
}

// WithObservability attaches metrics and tracing.
func (l *Loop) WithObservability(obs *observability.Observability) *Loop {
	l.obs = obs
	return l
}

// MaxIterations returns the effective iteration ceiling.
func (l *Loop) MaxIterations() int {
	if l.maxIterations <= 0 {
		return DefaultMaxIterations
	}
	return l.maxIterations
}

// Run drives one request to a terminal state. The returned Outcome is never
// nil. The error is non-nil only in the Failed state and equals Outcome.Err;
// Exhausted is a normal outcome.
func (l *Loop) Run(ctx context.Context, prompt string) (*Outcome, error) {
	correlationID := tools.CorrelationIDFromContext(ctx)
	if correlationID == "" {
		correlationID = uuid.NewString()
		ctx = tools.ContextWithCorrelationID(ctx, correlationID)
	}

	var span trace.Span
	if ts := l.obs.TracerOrNil(); ts != nil {
		ctx, span = ts.Tracer().Start(ctx, "agent.run",
			trace.WithAttributes(attribute.String("correlation_id", correlationID)))
		defer span.End()
	}

	l.logger.DebugContext(ctx, "user prompt",
		slog.String("prompt", prompt),
		slog.String("correlation_id", correlationID),
	)

	conv := NewConversation(prompt)
	out := l.run(ctx, conv)
	out.CorrelationID = correlationID
	out.Conversation = conv.Turns()

	l.obs.MetricsOrNil().RecordAgentRun(out.State.String(), out.Iterations)
	if span != nil {
		span.SetAttributes(
			attribute.String("agent.state", out.State.String()),
			attribute.Int("agent.iterations", out.Iterations),
		)
		if out.Err != nil {
			span.RecordError(out.Err)
			span.SetStatus(codes.Error, out.Err.Error())
		}
	}

	l.logger.InfoContext(ctx, "agent finished",
		slog.String("state", out.State.String()),
		slog.Int("iterations", out.Iterations),
		slog.Int("tokens_used", out.TokensUsed),
		slog.String("correlation_id", correlationID),
	)
	return out, out.Err
}

func (l *Loop) run(ctx context.Context, conv *Conversation) *Outcome {
	out := &Outcome{State: Running}
	defs := l.dispatcher.Definitions()
	maxIter := l.MaxIterations()

	for iter := 1; iter <= maxIter; iter++ {
		if err := ctx.Err(); err != nil {
			out.State, out.Err = Failed, fmt.Errorf("run cancelled: %w", err)
			return out
		}

		reply, err := l.oracle.Consult(ctx, conv.Turns(), defs)
		out.Iterations = iter
		if err != nil {
			out.State, out.Err = Failed, fmt.Errorf("%w: %w", ErrOracle, err)
			return out
		}
		out.TokensUsed += reply.Tokens

		conv.Append(Turn{Role: RoleAgent, Text: reply.Text, Calls: reply.Calls})

		if len(reply.Calls) == 0 {
			out.State, out.FinalText = Done, reply.Text
			return out
		}

		l.logger.InfoContext(ctx, "executing tool calls",
			slog.Int("iteration", iter),
			slog.Int("tool_calls", len(reply.Calls)),
			slog.String("correlation_id", tools.CorrelationIDFromContext(ctx)),
		)

		// Sequential, in the order requested. A failing tool does not stop
		// its siblings; only a missing result does.
		for _, call := range reply.Calls {
			res, err := l.dispatcher.Dispatch(ctx, call)
			if err == nil && res == nil {
				err = tools.ErrNoResult
			}
			if err != nil {
				out.State, out.Err = Failed, fmt.Errorf("dispatching %s: %w", call.Name, err)
				return out
			}
			conv.Append(Turn{Role: RoleTool, Result: res})

			l.logger.DebugContext(ctx, "tool result",
				slog.String("tool", call.Name),
				slog.String("call_id", call.ID),
				slog.String("kind", res.Kind.String()),
				slog.String("output", res.Output),
			)
		}
	}

	l.logger.WarnContext(ctx, "max tool-use iterations reached",
		slog.Int("max_iterations", maxIter),
	)
	out.State = Exhausted
	return out
}
