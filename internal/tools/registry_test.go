package tools

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/jkaninda/kazi/internal/sandbox"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// echoTool records what it was invoked with.
type echoTool struct {
	name     string
	gotRoot  *sandbox.Root
	gotArgs  map[string]any
	result   *Result
	panicMsg string
}

func (e *echoTool) Name() string                { return e.name }
func (e *echoTool) Description() string         { return "echo " + e.name }
func (e *echoTool) InputSchema() map[string]any { return map[string]any{"type": "object"} }
func (e *echoTool) Invoke(_ context.Context, root *sandbox.Root, args map[string]any) *Result {
	if e.panicMsg != "" {
		panic(e.panicMsg)
	}
	e.gotRoot = root
	e.gotArgs = args
	return e.result
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	root, err := sandbox.NewRoot(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	return NewRegistry(root, discardLogger())
}

func TestRegistry_DefinitionsKeepOrder(t *testing.T) {
	reg := newTestRegistry(t)
	for _, name := range []string{"list_files", "read_file", "write_file", "run_file"} {
		reg.Register(&echoTool{name: name, result: OK("", nil)})
	}

	defs := reg.Definitions()
	if len(defs) != 4 {
		t.Fatalf("len(defs) = %d, want 4", len(defs))
	}
	want := []string{"list_files", "read_file", "write_file", "run_file"}
	for i, d := range defs {
		if d.Name != want[i] {
			t.Errorf("defs[%d] = %q, want %q", i, d.Name, want[i])
		}
	}
	if got := reg.List(); strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("List() = %v", got)
	}
}

func TestRegistry_DuplicatePanics(t *testing.T) {
	reg := newTestRegistry(t)
	reg.Register(&echoTool{name: "read_file"})
	defer func() {
		if recover() == nil {
			t.Error("expected panic on duplicate registration")
		}
	}()
	reg.Register(&echoTool{name: "read_file"})
}

func TestRegistry_UnknownTool(t *testing.T) {
	reg := newTestRegistry(t)

	res, err := reg.Dispatch(context.Background(), Call{ID: "c1", Name: "rm_rf"})
	if err != nil {
		t.Fatalf("unknown tool must not be an error: %v", err)
	}
	if res.Kind != KindUnknownTool {
		t.Errorf("Kind = %q, want %q", res.Kind, KindUnknownTool)
	}
	if res.CallID != "c1" || res.Name != "rm_rf" {
		t.Errorf("result not tagged with call: %+v", res)
	}
	if !strings.HasPrefix(res.Output, "Error: ") {
		t.Errorf("Output = %q", res.Output)
	}
}

func TestRegistry_InjectsRootAndStripsOverride(t *testing.T) {
	reg := newTestRegistry(t)
	tool := &echoTool{name: "read_file", result: OK("ok", nil)}
	reg.Register(tool)

	args := map[string]any{
		"path":              "main.py",
		"working_directory": "/",
		"root":              "/etc",
	}
	res, err := reg.Dispatch(context.Background(), Call{ID: "c2", Name: "read_file", Args: args})
	if err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if res.IsError() {
		t.Fatalf("unexpected error result: %+v", res)
	}
	if tool.gotRoot != reg.Root() {
		t.Error("tool did not receive the registry's root")
	}
	if _, ok := tool.gotArgs["working_directory"]; ok {
		t.Error("working_directory reached the tool")
	}
	if _, ok := tool.gotArgs["root"]; ok {
		t.Error("root reached the tool")
	}
	if tool.gotArgs["path"] != "main.py" {
		t.Errorf("path = %v", tool.gotArgs["path"])
	}
	if _, ok := args["working_directory"]; !ok {
		t.Error("caller's argument map was mutated")
	}
}

func TestRegistry_NilResultIsFatal(t *testing.T) {
	reg := newTestRegistry(t)
	reg.Register(&echoTool{name: "broken"})

	_, err := reg.Dispatch(context.Background(), Call{Name: "broken"})
	if !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
}

func TestRegistry_PanicIsFatal(t *testing.T) {
	reg := newTestRegistry(t)
	reg.Register(&echoTool{name: "boom", panicMsg: "kaboom"})

	_, err := reg.Dispatch(context.Background(), Call{Name: "boom"})
	if !errors.Is(err, ErrNoResult) {
		t.Fatalf("expected ErrNoResult, got %v", err)
	}
	if !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("error should carry panic value: %v", err)
	}
}

func TestRequireString(t *testing.T) {
	args := map[string]any{"path": "a.txt", "blank": "  ", "num": 3}

	if s, res := RequireString(args, "path", true); res != nil || s != "a.txt" {
		t.Errorf("path: %q, %+v", s, res)
	}
	if _, res := RequireString(args, "missing", true); res == nil || res.Kind != KindInvalidArguments {
		t.Errorf("missing: %+v", res)
	}
	if _, res := RequireString(args, "num", true); res == nil || res.Kind != KindInvalidArguments {
		t.Errorf("num: %+v", res)
	}
	if _, res := RequireString(args, "blank", true); res == nil {
		t.Error("blank must be rejected when nonEmpty")
	}
	if s, res := RequireString(args, "blank", false); res != nil || s != "  " {
		t.Errorf("blank allowed: %q, %+v", s, res)
	}
}

func TestTruncateOutput(t *testing.T) {
	if got := TruncateOutput("short", 100); got != "short" {
		t.Errorf("got %q", got)
	}
	long := strings.Repeat("x", 200)
	got := TruncateOutput(long, 100)
	if len(got) != 100 {
		t.Errorf("len = %d, want 100", len(got))
	}
	if !strings.HasSuffix(got, "[output truncated]") {
		t.Errorf("missing truncation notice: %q", got)
	}
}

func TestTruncateOutput_RuneBoundary(t *testing.T) {
	long := strings.Repeat("é", 100) // two bytes each

	for _, limit := range []int{5, 100, 101} {
		got := TruncateOutput(long, limit)
		if !utf8.ValidString(got) {
			t.Errorf("TruncateOutput(_, %d) split a rune: %q", limit, got)
		}
		if len(got) > limit {
			t.Errorf("TruncateOutput(_, %d) len = %d", limit, len(got))
		}
	}
	if got := TruncateOutput(long, 5); got != "éé" {
		t.Errorf("short cut = %q, want %q", got, "éé")
	}
}

func TestCorrelationID(t *testing.T) {
	ctx := context.Background()
	if got := CorrelationIDFromContext(ctx); got != "" {
		t.Errorf("got %q, want empty", got)
	}
	ctx = ContextWithCorrelationID(ctx, "abc")
	if got := CorrelationIDFromContext(ctx); got != "abc" {
		t.Errorf("got %q, want abc", got)
	}
}
