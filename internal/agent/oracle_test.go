package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/jkaninda/kazi/internal/llm"
	"github.com/jkaninda/kazi/internal/tools"
)

type stubProvider struct {
	resp *llm.Response
	err  error
	req  *llm.Request
}

func (s *stubProvider) SendMessage(_ context.Context, req *llm.Request) (*llm.Response, error) {
	s.req = req
	return s.resp, s.err
}
func (s *stubProvider) Name() string  { return "stub" }
func (s *stubProvider) Model() string { return "stub-1" }

func TestLLMOracle_Consult(t *testing.T) {
	p := &stubProvider{resp: &llm.Response{
		Blocks: []llm.ContentBlock{
			llm.TextBlock("Let me check."),
			llm.ToolUseBlock("call-1", "list_files", map[string]any{"path": "."}),
		},
		Usage: llm.Usage{InputTokens: 12, OutputTokens: 3},
	}}
	o := NewLLMOracle(p, "", 512, discardLogger())

	reply, err := o.Consult(context.Background(),
		[]Turn{{Role: RoleUser, Text: "what is here?"}},
		[]tools.Definition{{Name: "list_files", Description: "list", InputSchema: map[string]any{"type": "object"}}},
	)
	if err != nil {
		t.Fatalf("Consult: %v", err)
	}
	if p.req.SystemPrompt != DefaultSystemPrompt || p.req.MaxTokens != 512 {
		t.Errorf("request = %+v", p.req)
	}
	if len(p.req.Tools) != 1 || p.req.Tools[0].Name != "list_files" {
		t.Errorf("tools = %+v", p.req.Tools)
	}
	if reply.Text != "Let me check." || reply.Tokens != 15 {
		t.Errorf("reply = %+v", reply)
	}
	if len(reply.Calls) != 1 || reply.Calls[0].ID != "call-1" || reply.Calls[0].Args["path"] != "." {
		t.Errorf("calls = %+v", reply.Calls)
	}
}

func TestLLMOracle_ProviderError(t *testing.T) {
	boom := errors.New("503")
	o := NewLLMOracle(&stubProvider{err: boom}, "custom", 0, discardLogger())
	if _, err := o.Consult(context.Background(), []Turn{{Role: RoleUser, Text: "hi"}}, nil); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestToMessages_GroupsToolResults(t *testing.T) {
	turns := []Turn{
		{Role: RoleUser, Text: "summarize notes"},
		{Role: RoleAgent, Calls: []tools.Call{
			{ID: "1", Name: "list_files", Args: map[string]any{"path": "."}},
			{ID: "2", Name: "read_file", Args: map[string]any{"path": "notes.txt"}},
		}},
		{Role: RoleTool, Result: &tools.Result{CallID: "1", Name: "list_files", Output: "- notes.txt: file_size=5 bytes, is_dir=false"}},
		{Role: RoleTool, Result: &tools.Result{CallID: "2", Name: "read_file", Output: "Error: missing", Kind: tools.KindNotFound}},
		{Role: RoleAgent, Text: "Done."},
	}

	msgs := toMessages(turns)
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d: %+v", len(msgs), msgs)
	}
	if msgs[0].Role != llm.RoleUser || msgs[0].Text() != "summarize notes" {
		t.Errorf("msgs[0] = %+v", msgs[0])
	}
	if msgs[1].Role != llm.RoleAssistant || len(msgs[1].Blocks) != 2 || msgs[1].Blocks[0].Type != llm.BlockToolUse {
		t.Errorf("msgs[1] = %+v", msgs[1])
	}

	results := msgs[2]
	if results.Role != llm.RoleUser || len(results.Blocks) != 2 {
		t.Fatalf("msgs[2] = %+v", results)
	}
	if results.Blocks[0].ID != "1" || results.Blocks[0].Name != "list_files" || results.Blocks[0].IsError {
		t.Errorf("first result = %+v", results.Blocks[0])
	}
	if results.Blocks[1].ID != "2" || !results.Blocks[1].IsError {
		t.Errorf("second result = %+v", results.Blocks[1])
	}
	if msgs[3].Role != llm.RoleAssistant || msgs[3].Text() != "Done." {
		t.Errorf("msgs[3] = %+v", msgs[3])
	}
}

func TestConversation_TurnsIsACopy(t *testing.T) {
	c := NewConversation("hi")
	turns := c.Turns()
	turns[0].Text = "changed"
	c.Append(Turn{Role: RoleAgent, Text: "hello"})

	if c.Len() != 2 || c.Turns()[0].Text != "hi" {
		t.Errorf("conversation mutated through a copy: %+v", c.Turns())
	}
}

func TestState_String(t *testing.T) {
	for s, want := range map[State]string{Running: "running", Done: "done", Exhausted: "exhausted", Failed: "failed"} {
		if s.String() != want {
			t.Errorf("%d.String() = %q, want %q", s, s.String(), want)
		}
	}
}
