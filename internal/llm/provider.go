// Package llm defines the provider-agnostic model used to consult the
// decision oracle: a conversation of messages made of content blocks, the
// tool schema, and the reply.
package llm

import (
	"context"
	"strings"
)

// Provider is the abstraction over any LLM backend (Gemini, OpenAI, Ollama).
type Provider interface {
	// SendMessage sends a conversation to the LLM and returns its response.
	SendMessage(ctx context.Context, req *Request) (*Response, error)
	// Name returns the provider identifier (e.g. "gemini").
	Name() string
	// Model returns the model the provider talks to.
	Model() string
}

// Request represents a full conversation sent to the LLM.
type Request struct {
	SystemPrompt string
	Messages     []Message
	MaxTokens    int
	Tools        []ToolDefinition // nil = no tool use
}

// ToolDefinition describes a tool the LLM can invoke.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// Role identifies who sent a message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single turn in the conversation.
type Message struct {
	Role   Role
	Blocks []ContentBlock
}

// UserText builds a plain-text user message.
func UserText(text string) Message {
	return Message{Role: RoleUser, Blocks: []ContentBlock{TextBlock(text)}}
}

// Text returns the concatenated text of all text blocks.
func (m *Message) Text() string {
	var b strings.Builder
	for _, blk := range m.Blocks {
		if blk.Type == BlockText {
			b.WriteString(blk.Text)
		}
	}
	return b.String()
}

// BlockType tags a ContentBlock.
type BlockType string

const (
	BlockText       BlockType = "text"
	BlockToolUse    BlockType = "tool_use"
	BlockToolResult BlockType = "tool_result"
)

// ContentBlock is a tagged union representing a piece of message content.
// The Type field determines which other fields are meaningful.
type ContentBlock struct {
	Type BlockType `json:"type"`

	// text and tool_result
	Text string `json:"text,omitempty"`

	// tool_use (ID, Name, Input) and tool_result (ID of the call, Name)
	ID    string         `json:"id,omitempty"`
	Name  string         `json:"name,omitempty"`
	Input map[string]any `json:"input,omitempty"`

	// tool_result
	IsError bool `json:"is_error,omitempty"`
}

// TextBlock creates a text content block.
func TextBlock(text string) ContentBlock {
	return ContentBlock{Type: BlockText, Text: text}
}

// ToolUseBlock creates a tool_use content block.
func ToolUseBlock(id, name string, input map[string]any) ContentBlock {
	return ContentBlock{Type: BlockToolUse, ID: id, Name: name, Input: input}
}

// ToolResultBlock creates a tool_result content block answering the call
// with the given id. Gemini matches results by function name, OpenAI by id,
// so both are carried.
func ToolResultBlock(id, name, content string, isError bool) ContentBlock {
	return ContentBlock{Type: BlockToolResult, ID: id, Name: name, Text: content, IsError: isError}
}

// Response is what the LLM returns.
type Response struct {
	Blocks     []ContentBlock
	Usage      Usage
	StopReason string // "end_turn", "tool_use", "max_tokens", or the provider's raw reason
}

// Text returns the concatenated text content of the reply.
func (r *Response) Text() string {
	m := Message{Blocks: r.Blocks}
	return m.Text()
}

// ToolCalls returns the tool_use blocks in the order the model emitted them.
func (r *Response) ToolCalls() []ContentBlock {
	var calls []ContentBlock
	for _, b := range r.Blocks {
		if b.Type == BlockToolUse {
			calls = append(calls, b)
		}
	}
	return calls
}

// HasToolUse reports whether the reply requests any tool execution.
// Decided from the blocks, not StopReason: Gemini reports STOP either way.
func (r *Response) HasToolUse() bool {
	return len(r.ToolCalls()) > 0
}

// Usage tracks token consumption.
type Usage struct {
	InputTokens  int
	OutputTokens int
}

// Total returns input plus output tokens.
func (u Usage) Total() int { return u.InputTokens + u.OutputTokens }

// Add accumulates other into u.
func (u *Usage) Add(other Usage) {
	u.InputTokens += other.InputTokens
	u.OutputTokens += other.OutputTokens
}
