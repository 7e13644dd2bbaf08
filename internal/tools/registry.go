package tools

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/jkaninda/kazi/internal/sandbox"
)

// ErrNoResult is returned by Dispatch when a tool produced nothing usable
// (nil result or panic). It ends the agent run.
var ErrNoResult = errors.New("tool produced no result")

// reservedArgs are stripped from oracle-supplied arguments. The sandbox
// root is bound by the registry and can never be chosen by the oracle.
var reservedArgs = []string{"working_directory", "root"}

// Registry holds available tools keyed by name and binds every invocation
// to one sandbox root.
// Thread-safe for concurrent reads; writes should only happen at startup.
type Registry struct {
	mu     sync.RWMutex
	root   *sandbox.Root
	tools  map[string]Tool
	order  []string
	logger *slog.Logger
}

// NewRegistry creates an empty registry bound to root.
func NewRegistry(root *sandbox.Root, logger *slog.Logger) *Registry {
	return &Registry{
		root:   root,
		tools:  make(map[string]Tool),
		logger: logger,
	}
}

// Root returns the sandbox root injected into every call.
func (r *Registry) Root() *sandbox.Root { return r.root }

// Register adds a tool. Panics on duplicate names (startup config error, not runtime).
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		panic("duplicate tool registration: " + t.Name())
	}
	r.tools[t.Name()] = t
	r.order = append(r.order, t.Name())
}

// Get returns the tool by name, or nil if not found.
func (r *Registry) Get(name string) Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

// List returns registered tool names in registration order.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Definitions returns the tool schema in registration order.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		t := r.tools[name]
		defs = append(defs, Definition{
			Name:        t.Name(),
			Description: t.Description(),
			InputSchema: t.InputSchema(),
		})
	}
	return defs
}

// Dispatch routes call to the named tool with the registry's root.
// Unknown names produce an UnknownTool result, not an error.
func (r *Registry) Dispatch(ctx context.Context, call Call) (res *Result, err error) {
	t := r.Get(call.Name)
	if t == nil {
		res = Fail(KindUnknownTool, "Unknown function: %s", call.Name)
		res.CallID = call.ID
		res.Name = call.Name
		return res, nil
	}

	args := r.sanitizeArgs(ctx, call)

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.ErrorContext(ctx, "tool panicked",
				slog.String("tool", call.Name),
				slog.Any("panic", rec),
			)
			res, err = nil, fmt.Errorf("%w: %s panicked: %v", ErrNoResult, call.Name, rec)
		}
	}()

	res = t.Invoke(ctx, r.root, args)
	if res == nil {
		return nil, fmt.Errorf("%w: %s returned nil", ErrNoResult, call.Name)
	}
	res.CallID = call.ID
	res.Name = call.Name

	r.logger.DebugContext(ctx, "tool dispatched",
		slog.String("tool", call.Name),
		slog.String("kind", res.Kind.String()),
		slog.Int("output_len", len(res.Output)),
	)
	return res, nil
}

// sanitizeArgs returns a copy of the call arguments without reserved keys.
func (r *Registry) sanitizeArgs(ctx context.Context, call Call) map[string]any {
	args := make(map[string]any, len(call.Args))
	for k, v := range call.Args {
		args[k] = v
	}
	for _, key := range reservedArgs {
		if _, ok := args[key]; ok {
			r.logger.WarnContext(ctx, "dropping oracle-supplied root argument",
				slog.String("tool", call.Name),
				slog.String("arg", key),
			)
			delete(args, key)
		}
	}
	return args
}
