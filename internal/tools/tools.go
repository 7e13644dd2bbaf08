// Package tools defines the tool contract, the result taxonomy and the
// registry that routes oracle tool calls to sandboxed implementations.
//
// Tools never return Go errors: every filesystem or process failure comes
// back as a *Result with a non-empty Kind so the agent loop (and the oracle
// after it) can reason about it and retry.
package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/jkaninda/kazi/internal/sandbox"
)

// Tool is implemented by every sandboxed operation.
type Tool interface {
	// Name returns the tool's unique identifier (e.g. "read_file").
	Name() string

	// Description returns a human-readable description sent to the oracle.
	Description() string

	// InputSchema returns a JSON Schema object describing the arguments.
	// The sandbox root is never part of it.
	InputSchema() map[string]any

	// Invoke runs the tool against root. It must always return a non-nil
	// Result; failures are expressed through Result.Kind.
	Invoke(ctx context.Context, root *sandbox.Root, args map[string]any) *Result
}

// Call is a single tool invocation requested by the oracle.
type Call struct {
	ID   string         `json:"id,omitempty"`
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

// Kind classifies a tool result. The zero value means success.
type Kind string

const (
	KindOK                Kind = ""
	KindSandboxViolation  Kind = "sandbox_violation"
	KindNotFound          Kind = "not_found"
	KindNotADirectory     Kind = "not_a_directory"
	KindNotAFile          Kind = "not_a_file"
	KindNotExecutableKind Kind = "not_executable_kind"
	KindLaunchFailure     Kind = "launch_failure"
	KindUnknownTool       Kind = "unknown_tool"
	KindInvalidArguments  Kind = "invalid_arguments"
	KindIOFailure         Kind = "io_failure"
)

// String returns "ok" for the success kind.
func (k Kind) String() string {
	if k == KindOK {
		return "ok"
	}
	return string(k)
}

// Result is the outcome of one tool call.
type Result struct {
	CallID   string         `json:"call_id,omitempty"`
	Name     string         `json:"name"`
	Output   string         `json:"output"`
	Kind     Kind           `json:"kind,omitempty"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// IsError reports whether the result carries a failure kind.
func (r *Result) IsError() bool { return r.Kind != KindOK }

// OK builds a successful result.
func OK(output string, metadata map[string]any) *Result {
	return &Result{Output: output, Metadata: metadata}
}

// Fail builds an error result. The output is prefixed with "Error: " as the
// oracle expects.
func Fail(kind Kind, format string, args ...any) *Result {
	return &Result{Kind: kind, Output: "Error: " + fmt.Sprintf(format, args...)}
}

// Definition describes a tool to the decision oracle.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Dispatcher routes calls to tools. *Registry is the base implementation;
// audit and observability wrap it.
type Dispatcher interface {
	// Definitions returns the tool schema offered to the oracle.
	Definitions() []Definition

	// Dispatch runs one call. The error is reserved for the fatal case where
	// no result could be produced at all.
	Dispatch(ctx context.Context, call Call) (*Result, error)
}

// MaxOutputBytes caps any single tool output kept in conversation state.
const MaxOutputBytes = 1 << 20 // 1 MB

// TruncateOutput caps a string at maxBytes, appending a truncation notice if
// cut. The cut never splits a UTF-8 sequence.
func TruncateOutput(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	const suffix = "\n... [output truncated]"
	if maxBytes <= len(suffix) {
		return s[:runeBoundary(s, maxBytes)]
	}
	return s[:runeBoundary(s, maxBytes-len(suffix))] + suffix
}

// runeBoundary backs n off to the start of the rune it falls in.
func runeBoundary(s string, n int) int {
	for n > 0 && n < len(s) && !utf8.RuneStart(s[n]) {
		n--
	}
	return n
}

// StringArg extracts an optional string argument. ok is false when the key
// is present but not a string.
func StringArg(args map[string]any, key string) (value string, present, ok bool) {
	v, exists := args[key]
	if !exists || v == nil {
		return "", false, true
	}
	s, isString := v.(string)
	if !isString {
		return "", true, false
	}
	return s, true, true
}

// RequireString extracts a required string argument. Empty strings are
// allowed unless nonEmpty is set.
func RequireString(args map[string]any, key string, nonEmpty bool) (string, *Result) {
	s, present, ok := StringArg(args, key)
	switch {
	case !present:
		return "", Fail(KindInvalidArguments, "missing required parameter: %s", key)
	case !ok:
		return "", Fail(KindInvalidArguments, "parameter %s must be a string, got %T", key, args[key])
	case nonEmpty && strings.TrimSpace(s) == "":
		return "", Fail(KindInvalidArguments, "parameter %s must not be empty", key)
	}
	return s, nil
}

type contextKey int

const correlationIDKey contextKey = iota

// ContextWithCorrelationID returns a context carrying the request's correlation ID.
func ContextWithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationIDKey, id)
}

// CorrelationIDFromContext extracts the correlation ID, or "" if not set.
func CorrelationIDFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(correlationIDKey).(string); ok {
		return v
	}
	return ""
}
