package agent

import (
	"context"
	"log/slog"

	"github.com/jkaninda/kazi/internal/llm"
	"github.com/jkaninda/kazi/internal/tools"
)

// LLMOracle consults an llm.Provider.
type LLMOracle struct {
	provider     llm.Provider
	systemPrompt string
	maxTokens    int
	logger       *slog.Logger
}

// NewLLMOracle creates an oracle backed by provider. An empty systemPrompt
// selects DefaultSystemPrompt; maxTokens 0 leaves the provider default.
func NewLLMOracle(provider llm.Provider, systemPrompt string, maxTokens int, logger *slog.Logger) *LLMOracle {
	if systemPrompt == "" {
		systemPrompt = DefaultSystemPrompt
	}
	return &LLMOracle{
		provider:     provider,
		systemPrompt: systemPrompt,
		maxTokens:    maxTokens,
		logger:       logger,
	}
}

func (o *LLMOracle) Consult(ctx context.Context, turns []Turn, defs []tools.Definition) (*Reply, error) {
	resp, err := o.provider.SendMessage(ctx, &llm.Request{
		SystemPrompt: o.systemPrompt,
		Messages:     toMessages(turns),
		MaxTokens:    o.maxTokens,
		Tools:        toToolDefinitions(defs),
	})
	if err != nil {
		return nil, err
	}

	o.logger.DebugContext(ctx, "oracle replied",
		slog.String("provider", o.provider.Name()),
		slog.Int("prompt_tokens", resp.Usage.InputTokens),
		slog.Int("response_tokens", resp.Usage.OutputTokens),
		slog.String("stop_reason", resp.StopReason),
	)

	reply := &Reply{Text: resp.Text(), Tokens: resp.Usage.Total()}
	for _, b := range resp.ToolCalls() {
		reply.Calls = append(reply.Calls, tools.Call{ID: b.ID, Name: b.Name, Args: b.Input})
	}
	return reply, nil
}

// toMessages maps turns to provider messages. Consecutive tool turns
// become one user message of tool_result blocks, in order.
func toMessages(turns []Turn) []llm.Message {
	var msgs []llm.Message
	for _, t := range turns {
		switch t.Role {
		case RoleUser:
			msgs = append(msgs, llm.UserText(t.Text))

		case RoleAgent:
			var blocks []llm.ContentBlock
			if t.Text != "" {
				blocks = append(blocks, llm.TextBlock(t.Text))
			}
			for _, c := range t.Calls {
				blocks = append(blocks, llm.ToolUseBlock(c.ID, c.Name, c.Args))
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Blocks: blocks})

		case RoleTool:
			if t.Result == nil {
				continue
			}
			block := llm.ToolResultBlock(
				t.Result.CallID,
				t.Result.Name,
				tools.TruncateOutput(t.Result.Output, tools.MaxOutputBytes),
				t.Result.IsError(),
			)
			if n := len(msgs); n > 0 && isToolResults(msgs[n-1]) {
				msgs[n-1].Blocks = append(msgs[n-1].Blocks, block)
				continue
			}
			msgs = append(msgs, llm.Message{Role: llm.RoleUser, Blocks: []llm.ContentBlock{block}})
		}
	}
	return msgs
}

func isToolResults(m llm.Message) bool {
	return m.Role == llm.RoleUser && len(m.Blocks) > 0 && m.Blocks[0].Type == llm.BlockToolResult
}

func toToolDefinitions(defs []tools.Definition) []llm.ToolDefinition {
	if len(defs) == 0 {
		return nil
	}
	out := make([]llm.ToolDefinition, len(defs))
	for i, d := range defs {
		out[i] = llm.ToolDefinition{Name: d.Name, Description: d.Description, InputSchema: d.InputSchema}
	}
	return out
}
