// Package gemini implements the LLM provider interface for the Google Gemini
// generateContent API.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/jkaninda/kazi/internal/llm"
)

const (
	defaultBaseURL   = "https://generativelanguage.googleapis.com"
	defaultModel     = "gemini-2.0-flash-001"
	defaultMaxTokens = 4096
)

// Client implements llm.Provider using the Google Gemini API.
type Client struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger

	// Gemini function calls carry no ID; calls are numbered per client so
	// IDs stay unique across the whole conversation.
	callSeq atomic.Int64
}

// Option configures the Gemini client.
type Option func(*Client)

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Gemini provider. An empty model selects gemini-2.0-flash-001.
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

func (c *Client) Name() string  { return "gemini" }
func (c *Client) Model() string { return c.model }

// SendMessage sends the conversation to the Gemini generateContent API.
func (c *Client) SendMessage(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.model)
	headers := map[string]string{"x-goog-api-key": c.apiKey}

	var apiResp apiResponse
	if err := llm.PostJSON(ctx, c.httpClient, c.Name(), url, headers, buildRequest(req), &apiResp); err != nil {
		return nil, err
	}

	if len(apiResp.Candidates) == 0 && apiResp.PromptFeedback != nil && apiResp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("gemini blocked the prompt: %s", apiResp.PromptFeedback.BlockReason)
	}

	resp := c.toResponse(&apiResp)

	c.logger.DebugContext(ctx, "llm request completed",
		slog.String("provider", c.Name()),
		slog.String("model", c.model),
		slog.Int("input_tokens", resp.Usage.InputTokens),
		slog.Int("output_tokens", resp.Usage.OutputTokens),
		slog.String("stop_reason", resp.StopReason),
	)
	return resp, nil
}

func buildRequest(req *llm.Request) apiRequest {
	contents := make([]apiContent, 0, len(req.Messages))
	for _, m := range req.Messages {
		contents = append(contents, toContent(m))
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	apiReq := apiRequest{
		Contents:         contents,
		GenerationConfig: &apiGenerationConfig{MaxOutputTokens: maxTokens},
	}

	if req.SystemPrompt != "" {
		apiReq.SystemInstruction = &apiContent{Parts: []apiPart{{Text: req.SystemPrompt}}}
	}

	if len(req.Tools) > 0 {
		decls := make([]apiFunctionDeclaration, 0, len(req.Tools))
		for _, t := range req.Tools {
			decls = append(decls, apiFunctionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  parameters(t.InputSchema),
			})
		}
		apiReq.Tools = []apiToolDeclaration{{FunctionDeclarations: decls}}
	}
	return apiReq
}

// parameters adapts a JSON schema to Gemini's OpenAPI subset: an object
// schema without properties is rejected, so it is omitted entirely.
func parameters(schema map[string]any) map[string]any {
	props, _ := schema["properties"].(map[string]any)
	if len(props) == 0 {
		return nil
	}
	return schema
}

// toContent converts a message to one Gemini content entry. Tool results
// travel as functionResponse parts in a user turn, keyed by function name.
func toContent(m llm.Message) apiContent {
	role := "user"
	if m.Role == llm.RoleAssistant {
		role = "model"
	}

	parts := make([]apiPart, 0, len(m.Blocks))
	for _, b := range m.Blocks {
		switch b.Type {
		case llm.BlockText:
			parts = append(parts, apiPart{Text: b.Text})
		case llm.BlockToolUse:
			parts = append(parts, apiPart{FunctionCall: &apiFunctionCall{Name: b.Name, Args: b.Input}})
		case llm.BlockToolResult:
			key := "result"
			if b.IsError {
				key = "error"
			}
			parts = append(parts, apiPart{FunctionResponse: &apiFunctionResponse{
				Name:     b.Name,
				Response: map[string]any{key: b.Text},
			}})
		}
	}
	return apiContent{Role: role, Parts: parts}
}

func (c *Client) toResponse(apiResp *apiResponse) *llm.Response {
	resp := &llm.Response{Usage: extractUsage(apiResp)}
	if len(apiResp.Candidates) == 0 {
		return resp
	}

	candidate := apiResp.Candidates[0]
	for _, part := range candidate.Content.Parts {
		if part.Text != "" {
			resp.Blocks = append(resp.Blocks, llm.TextBlock(part.Text))
		}
		if part.FunctionCall != nil {
			id := fmt.Sprintf("gemini-call-%d", c.callSeq.Add(1))
			resp.Blocks = append(resp.Blocks, llm.ToolUseBlock(id, part.FunctionCall.Name, part.FunctionCall.Args))
		}
	}
	resp.StopReason = normalizeFinishReason(candidate.FinishReason, resp.HasToolUse())
	return resp
}

func extractUsage(apiResp *apiResponse) llm.Usage {
	if apiResp.UsageMetadata == nil {
		return llm.Usage{}
	}
	return llm.Usage{
		InputTokens:  apiResp.UsageMetadata.PromptTokenCount,
		OutputTokens: apiResp.UsageMetadata.CandidatesTokenCount,
	}
}

func normalizeFinishReason(reason string, hasToolCalls bool) string {
	if hasToolCalls {
		return "tool_use"
	}
	switch reason {
	case "STOP":
		return "end_turn"
	case "MAX_TOKENS":
		return "max_tokens"
	default:
		return reason
	}
}

// --- Gemini API wire types (unexported) ---

type apiRequest struct {
	Contents          []apiContent         `json:"contents"`
	SystemInstruction *apiContent          `json:"system_instruction,omitempty"`
	Tools             []apiToolDeclaration `json:"tools,omitempty"`
	GenerationConfig  *apiGenerationConfig `json:"generation_config,omitempty"`
}

type apiContent struct {
	Role  string    `json:"role,omitempty"`
	Parts []apiPart `json:"parts"`
}

type apiPart struct {
	Text             string               `json:"text,omitempty"`
	FunctionCall     *apiFunctionCall     `json:"functionCall,omitempty"`
	FunctionResponse *apiFunctionResponse `json:"functionResponse,omitempty"`
}

type apiFunctionCall struct {
	Name string         `json:"name"`
	Args map[string]any `json:"args,omitempty"`
}

type apiFunctionResponse struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type apiToolDeclaration struct {
	FunctionDeclarations []apiFunctionDeclaration `json:"function_declarations"`
}

type apiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type apiGenerationConfig struct {
	MaxOutputTokens int `json:"maxOutputTokens,omitempty"`
}

type apiResponse struct {
	Candidates     []apiCandidate     `json:"candidates"`
	UsageMetadata  *apiUsage          `json:"usageMetadata,omitempty"`
	PromptFeedback *apiPromptFeedback `json:"promptFeedback,omitempty"`
}

type apiCandidate struct {
	Content      apiContent `json:"content"`
	FinishReason string     `json:"finishReason"`
}

type apiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type apiPromptFeedback struct {
	BlockReason string `json:"blockReason"`
}
