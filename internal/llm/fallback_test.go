package llm

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubProvider struct {
	name  string
	resp  *Response
	err   error
	calls int
}

func (s *stubProvider) SendMessage(_ context.Context, _ *Request) (*Response, error) {
	s.calls++
	return s.resp, s.err
}
func (s *stubProvider) Name() string  { return s.name }
func (s *stubProvider) Model() string { return s.name + "-model" }

func TestFallbackProvider_RequiresProviders(t *testing.T) {
	if _, err := NewFallbackProvider(nil, discardLogger()); err == nil {
		t.Fatal("expected error for empty provider list")
	}
}

func TestFallbackProvider_UsesFirstSuccess(t *testing.T) {
	primary := &stubProvider{name: "gemini", err: errors.New("503")}
	secondary := &stubProvider{name: "openai", resp: &Response{Blocks: []ContentBlock{TextBlock("ok")}}}
	third := &stubProvider{name: "ollama", resp: &Response{}}

	f, err := NewFallbackProvider([]Provider{primary, secondary, third}, discardLogger())
	if err != nil {
		t.Fatal(err)
	}
	resp, err := f.SendMessage(context.Background(), &Request{})
	if err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	if resp.Text() != "ok" {
		t.Errorf("Text() = %q", resp.Text())
	}
	if primary.calls != 1 || secondary.calls != 1 || third.calls != 0 {
		t.Errorf("calls = %d/%d/%d", primary.calls, secondary.calls, third.calls)
	}
	if f.Name() != "gemini+fallback" || f.Model() != "gemini-model" {
		t.Errorf("Name/Model = %q/%q", f.Name(), f.Model())
	}
}

func TestFallbackProvider_AllFail(t *testing.T) {
	errA := errors.New("boom a")
	errB := &APIError{Provider: "b", StatusCode: 500}
	f, _ := NewFallbackProvider([]Provider{
		&stubProvider{name: "a", err: errA},
		&stubProvider{name: "b", err: errB},
	}, discardLogger())

	_, err := f.SendMessage(context.Background(), &Request{})
	if !errors.Is(err, errA) {
		t.Errorf("expected first error to be wrapped: %v", err)
	}
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Errorf("expected APIError to be wrapped: %v", err)
	}
}

func TestFallbackProvider_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	first := &stubProvider{name: "a", err: context.Canceled}
	second := &stubProvider{name: "b", resp: &Response{}}
	f, _ := NewFallbackProvider([]Provider{first, second}, discardLogger())

	if _, err := f.SendMessage(ctx, &Request{}); err == nil {
		t.Fatal("expected error")
	}
	if second.calls != 0 {
		t.Error("fallback must not continue after cancellation")
	}
}

func TestResponse_ToolCallsInOrder(t *testing.T) {
	resp := &Response{Blocks: []ContentBlock{
		TextBlock("thinking "),
		ToolUseBlock("1", "list_files", nil),
		TextBlock("more"),
		ToolUseBlock("2", "read_file", map[string]any{"path": "notes.txt"}),
	}}
	calls := resp.ToolCalls()
	if len(calls) != 2 || calls[0].Name != "list_files" || calls[1].Name != "read_file" {
		t.Errorf("ToolCalls() = %+v", calls)
	}
	if !resp.HasToolUse() {
		t.Error("HasToolUse() = false")
	}
	if resp.Text() != "thinking more" {
		t.Errorf("Text() = %q", resp.Text())
	}
}

func TestUsage_Add(t *testing.T) {
	var u Usage
	u.Add(Usage{InputTokens: 3, OutputTokens: 4})
	u.Add(Usage{InputTokens: 1, OutputTokens: 2})
	if u.InputTokens != 4 || u.OutputTokens != 6 || u.Total() != 10 {
		t.Errorf("Usage = %+v", u)
	}
}

func TestPostJSON_TruncatesErrorBody(t *testing.T) {
	big := make([]byte, maxErrorBody*2)
	for i := range big {
		big[i] = 'x'
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write(big)
	}))
	defer srv.Close()

	var out map[string]any
	err := PostJSON(context.Background(), srv.Client(), "test", srv.URL, nil, map[string]string{"a": "b"}, &out)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if len(apiErr.Body) != maxErrorBody {
		t.Errorf("len(Body) = %d, want %d", len(apiErr.Body), maxErrorBody)
	}
}
