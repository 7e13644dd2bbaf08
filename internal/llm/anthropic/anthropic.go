// Package anthropic implements the LLM provider interface for the Anthropic Messages API.
package anthropic

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/jkaninda/kazi/internal/llm"
)

const (
	defaultBaseURL   = "https://api.anthropic.com"
	defaultModel     = "claude-sonnet-4-5"
	messagesPath     = "/v1/messages"
	apiVersion       = "2023-06-01"
	defaultMaxTokens = 4096
)

// Client implements llm.Provider using the Anthropic Messages API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// Option configures the Anthropic client.
type Option func(*Client)

// WithBaseURL overrides the API base URL (useful for testing).
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(url, "/") }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates an Anthropic provider. An empty model selects the default.
func NewClient(apiKey, model string, logger *slog.Logger, opts ...Option) *Client {
	if model == "" {
		model = defaultModel
	}
	c := &Client{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultBaseURL,
		httpClient: http.DefaultClient,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) Name() string  { return "anthropic" }
func (c *Client) Model() string { return c.model }

// SendMessage sends the conversation to the Anthropic Messages API.
func (c *Client) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	headers := map[string]string{
		"X-API-Key":         c.apiKey,
		"Anthropic-Version": apiVersion,
	}

	var apiResp apiResponse
	if err := llm.PostJSON(ctx, c.httpClient, c.Name(), c.baseURL+messagesPath, headers, c.buildRequest(req), &apiResp); err != nil {
		return nil, err
	}

	resp := toResponse(&apiResp)

	c.logger.DebugContext(ctx, "llm request completed",
		slog.String("provider", "anthropic"),
		slog.String("model", c.model),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.String("stop_reason", resp.StopReason),
	)
	return resp, nil
}

func (c *Client) buildRequest(req *llm.Request) apiRequest {
	messages := make([]apiMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		blocks := make([]apiContentBlock, 0, len(m.Blocks))
		for _, b := range m.Blocks {
			blocks = append(blocks, toAPIContentBlock(b))
		}
		messages = append(messages, apiMessage{Role: string(m.Role), Content: blocks})
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	apiReq := apiRequest{
		Model:     c.model,
		System:    req.SystemPrompt,
		Messages:  messages,
		MaxTokens: maxTokens,
	}
	for _, t := range req.Tools {
		schema := t.InputSchema
		if schema == nil {
			schema = map[string]any{"type": "object"}
		}
		apiReq.Tools = append(apiReq.Tools, apiTool{
			Name:        t.Name,
			Description: t.Description,
			InputSchema: schema,
		})
	}
	return apiReq
}

func toResponse(apiResp *apiResponse) *llm.Response {
	var blocks []llm.ContentBlock
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			blocks = append(blocks, llm.TextBlock(block.Text))
		case "tool_use":
			input, _ := block.Input.(map[string]any)
			if input == nil {
				input = map[string]any{}
			}
			blocks = append(blocks, llm.ToolUseBlock(block.ID, block.Name, input))
		}
	}

	return &llm.Response{
		Blocks:     blocks,
		StopReason: apiResp.StopReason,
		Usage: llm.Usage{
			InputTokens:  apiResp.Usage.InputTokens,
			OutputTokens: apiResp.Usage.OutputTokens,
		},
	}
}

// toAPIContentBlock converts an llm.ContentBlock to the Anthropic API format.
func toAPIContentBlock(b llm.ContentBlock) apiContentBlock {
	block := apiContentBlock{Type: string(b.Type)}
	switch b.Type {
	case llm.BlockText:
		block.Text = b.Text
	case llm.BlockToolUse:
		block.ID = b.ID
		block.Name = b.Name
		input := b.Input
		if input == nil {
			input = map[string]any{}
		}
		block.Input = input
	case llm.BlockToolResult:
		block.ToolUseID = b.ID
		block.Content = b.Text
		block.IsError = b.IsError
	}
	return block
}

// Wire types.

type apiRequest struct {
	Model     string       `json:"model"`
	System    string       `json:"system,omitempty"`
	Messages  []apiMessage `json:"messages"`
	MaxTokens int          `json:"max_tokens"`
	Tools     []apiTool    `json:"tools,omitempty"`
}

type apiTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Type      string `json:"type"`
	Text      string `json:"text,omitempty"`
	ID        string `json:"id,omitempty"`
	Name      string `json:"name,omitempty"`
	Input     any    `json:"input,omitempty"` // Always set on tool_use, even when empty.
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type apiResponse struct {
	Content    []apiContentBlock `json:"content"`
	StopReason string            `json:"stop_reason"`
	Usage      apiUsage          `json:"usage"`
}

type apiUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}
