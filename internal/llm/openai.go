package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/retry"
)

const (
	// DefaultOpenAIBaseURL is the base URL of the OpenAI API.
	DefaultOpenAIBaseURL = "https://api.openai.com/v1"
	// DefaultOpenAIModel is used when neither config nor request name a model.
	DefaultOpenAIModel = "gpt-4o-mini"
	// DefaultRequestTimeout is the default timeout for API requests
	DefaultRequestTimeout = 60 * time.Second
)

// OpenAIConfig contains configuration for an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	APIKey         string `json:"api_key"`
	BaseURL        string `json:"base_url"`
	Model          string `json:"model"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// OpenAIProvider talks to any /chat/completions endpoint speaking the
// OpenAI wire format.
type OpenAIProvider struct {
	client  *http.Client
	config  OpenAIConfig
	apiURL  string
	limiter *TokenBucket
	retry   *retry.Config
	logger  *logger.Logger
}

// OpenAIOption configures an OpenAIProvider.
type OpenAIOption func(*OpenAIProvider)

// WithRateLimiter throttles outgoing requests. A nil bucket disables it.
func WithRateLimiter(b *TokenBucket) OpenAIOption {
	return func(p *OpenAIProvider) { p.limiter = b }
}

// WithRetry retries rate-limited, 5xx and timed-out requests.
func WithRetry(cfg retry.Config) OpenAIOption {
	return func(p *OpenAIProvider) { p.retry = &cfg }
}

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) OpenAIOption {
	return func(p *OpenAIProvider) { p.client = c }
}

type openaiRequest struct {
	Messages    []openaiMessage `json:"messages"`
	Model       string          `json:"model"`
	Temperature float64         `json:"temperature,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Tools       []openaiTool    `json:"tools,omitempty"`
	ToolChoice  string          `json:"tool_choice,omitempty"`
}

type openaiMessage struct {
	Role             string           `json:"role"`
	Content          string           `json:"content"`
	ToolCallID       string           `json:"tool_call_id,omitempty"`
	ReasoningContent string           `json:"reasoning_content,omitempty"`
	ToolCalls        []openaiToolCall `json:"tool_calls,omitempty"`
}

type openaiTool struct {
	Type     string         `json:"type"`
	Function map[string]any `json:"function"`
}

type openaiResponse struct {
	ID      string          `json:"id"`
	Model   string          `json:"model"`
	Choices []openaiChoice  `json:"choices"`
	Usage   Usage           `json:"usage"`
	Error   *openaiAPIError `json:"error,omitempty"`
}

type openaiChoice struct {
	Index        int           `json:"index"`
	Message      openaiMessage `json:"message"`
	FinishReason string        `json:"finish_reason,omitempty"`
}

type openaiToolCall struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Function struct {
		Name      string `json:"name"`
		Arguments string `json:"arguments"`
	} `json:"function"`
}

type openaiAPIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// HTTPError is returned for non-2xx responses.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP error: status=%d, body=%s", e.StatusCode, e.Body)
}

// HTTPStatus returns the response status code.
func (e *HTTPError) HTTPStatus() int {
	return e.StatusCode
}

// NewOpenAIProvider creates an OpenAIProvider.
func NewOpenAIProvider(cfg OpenAIConfig, log *logger.Logger, opts ...OpenAIOption) *OpenAIProvider {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenAIBaseURL
	}

	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout == 0 {
		timeout = DefaultRequestTimeout
	}

	p := &OpenAIProvider{
		client: &http.Client{Timeout: timeout},
		config: cfg,
		apiURL: strings.TrimRight(cfg.BaseURL, "/") + "/chat/completions",
		logger: log.Component("llm"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *OpenAIProvider) doRequest(ctx context.Context, reqBody []byte) (*openaiResponse, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter: %w", err)
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.apiURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.config.APIKey)
	}

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		p.logger.ErrorCtx(ctx, "request to LLM endpoint failed", err)
		return nil, fmt.Errorf("failed to execute request: %w", err)
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		p.logger.ErrorCtx(ctx, "LLM endpoint returned error status", nil,
			logger.Field{Key: "status_code", Value: httpResp.StatusCode},
			logger.Field{Key: "response_body", Value: string(respBody)})
		return nil, &HTTPError{StatusCode: httpResp.StatusCode, Body: string(respBody)}
	}

	p.logger.DebugCtx(ctx, "raw LLM response body",
		logger.Field{Key: "response_body", Value: string(respBody)})

	var resp openaiResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("API error: %s (code: %v): %s",
			resp.Error.Type, resp.Error.Code, resp.Error.Message)
	}
	return &resp, nil
}

func (p *OpenAIProvider) mapChatRequest(req ChatRequest) openaiRequest {
	messages := make([]openaiMessage, len(req.Messages))
	for i, msg := range req.Messages {
		m := openaiMessage{
			Role:       string(msg.Role),
			Content:    msg.Content,
			ToolCallID: msg.ToolCallID,
		}
		for _, tc := range msg.ToolCalls {
			var call openaiToolCall
			call.ID = tc.ID
			call.Type = "function"
			call.Function.Name = tc.Name
			call.Function.Arguments = tc.Arguments
			m.ToolCalls = append(m.ToolCalls, call)
		}
		messages[i] = m
	}

	model := req.Model
	if model == "" {
		model = p.config.Model
	}

	out := openaiRequest{
		Messages:    messages,
		Model:       model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}

	if len(req.Tools) > 0 {
		out.Tools = make([]openaiTool, len(req.Tools))
		for i, tool := range req.Tools {
			out.Tools[i] = openaiTool{
				Type: "function",
				Function: map[string]any{
					"name":        tool.Name,
					"description": tool.Description,
					"parameters":  tool.Parameters,
				},
			}
		}
		out.ToolChoice = "auto"
	}
	return out
}

func mapChatResponse(resp *openaiResponse) *ChatResponse {
	if len(resp.Choices) == 0 {
		return &ChatResponse{
			FinishReason: FinishReasonError,
			ToolCalls:    []ToolCall{},
			Usage:        resp.Usage,
			Model:        resp.Model,
		}
	}

	choice := resp.Choices[0]
	toolCalls := make([]ToolCall, len(choice.Message.ToolCalls))
	for i, tc := range choice.Message.ToolCalls {
		toolCalls[i] = ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		}
	}

	// Reasoning models sometimes leave content empty.
	content := choice.Message.Content
	if content == "" && choice.Message.ReasoningContent != "" {
		content = choice.Message.ReasoningContent
	}

	return &ChatResponse{
		Content:      content,
		FinishReason: FinishReason(choice.FinishReason),
		ToolCalls:    toolCalls,
		Usage:        resp.Usage,
		Model:        resp.Model,
	}
}

// Chat sends a chat completion request.
func (p *OpenAIProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p.logger.DebugCtx(ctx, "sending chat request",
		logger.Field{Key: "model", Value: req.Model},
		logger.Field{Key: "messages_count", Value: len(req.Messages)},
		logger.Field{Key: "tools_count", Value: len(req.Tools)})

	body, err := json.Marshal(p.mapChatRequest(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	var resp *openaiResponse
	if p.retry != nil {
		resp, err = retry.Do(ctx, *p.retry, p.logger, func(ctx context.Context) (*openaiResponse, error) {
			return p.doRequest(ctx, body)
		})
	} else {
		resp, err = p.doRequest(ctx, body)
	}
	if err != nil {
		return nil, err
	}
	return mapChatResponse(resp), nil
}

// SupportsToolCalling returns true.
func (p *OpenAIProvider) SupportsToolCalling() bool {
	return true
}

// GetDefaultModel returns the configured model.
func (p *OpenAIProvider) GetDefaultModel() string {
	return p.config.Model
}
