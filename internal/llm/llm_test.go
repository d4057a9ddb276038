package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/retry"
)

func TestEchoProvider(t *testing.T) {
	p := NewEchoProvider()
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{
		{Role: RoleSystem, Content: "sys"},
		{Role: RoleUser, Content: "hello"},
	}})
	require.NoError(t, err)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(resp.Content), &body))
	assert.Equal(t, "hello", body["FINAL_ANSWER"])
	assert.Equal(t, 1, p.CallCount())
}

func TestScriptedProvider(t *testing.T) {
	p := NewScriptedProvider(
		TextReply("one"),
		ToolCallReply(ToolCall{ID: "c1", Name: "system_time", Arguments: "{}"}),
	)
	ctx := context.Background()

	r1, err := p.Chat(ctx, ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "one", r1.Content)

	r2, err := p.Chat(ctx, ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, FinishReasonToolCalls, r2.FinishReason)
	require.Len(t, r2.ToolCalls, 1)
	assert.Equal(t, "c1", r2.ToolCalls[0].ID)

	_, err = p.Chat(ctx, ChatRequest{})
	assert.ErrorIs(t, err, ErrMockExhausted)
	assert.Len(t, p.Requests(), 3)
}

func TestScriptedProvider_Concurrent(t *testing.T) {
	replies := make([]ChatResponse, 50)
	for i := range replies {
		replies[i] = TextReply("x")
	}
	p := NewScriptedProvider(replies...)

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Chat(context.Background(), ChatRequest{})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, 50, p.CallCount())
}

func TestErrorProvider(t *testing.T) {
	boom := errors.New("boom")
	_, err := NewErrorProvider(boom).Chat(context.Background(), ChatRequest{})
	assert.ErrorIs(t, err, boom)

	_, err = NewErrorProvider(nil).Chat(context.Background(), ChatRequest{})
	assert.Error(t, err)
}

func TestMockProvider_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewEchoProvider().Chat(ctx, ChatRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewOpenAIProvider_Defaults(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{}, logger.Discard())
	assert.Equal(t, DefaultOpenAIModel, p.GetDefaultModel())
	assert.Equal(t, DefaultOpenAIBaseURL+"/chat/completions", p.apiURL)
	assert.Equal(t, DefaultRequestTimeout, p.client.Timeout)
	assert.True(t, p.SupportsToolCalling())

	p = NewOpenAIProvider(OpenAIConfig{BaseURL: "http://x/v1/", TimeoutSeconds: 3, Model: "m"}, logger.Discard())
	assert.Equal(t, "http://x/v1/chat/completions", p.apiURL)
	assert.Equal(t, 3*time.Second, p.client.Timeout)
	assert.Equal(t, "m", p.GetDefaultModel())
}

func TestMapChatRequest(t *testing.T) {
	p := NewOpenAIProvider(OpenAIConfig{Model: "default"}, logger.Discard())
	out := p.mapChatRequest(ChatRequest{
		Messages: []Message{
			{Role: RoleUser, Content: "hi"},
			{Role: RoleAssistant, ToolCalls: []ToolCall{{ID: "c1", Name: "t", Arguments: `{"a":1}`}}},
			{Role: RoleTool, Content: "ok", ToolCallID: "c1"},
		},
		Tools: []ToolDefinition{{Name: "t", Description: "d", Parameters: map[string]any{"type": "object"}}},
	})

	assert.Equal(t, "default", out.Model)
	require.Len(t, out.Messages, 3)
	require.Len(t, out.Messages[1].ToolCalls, 1)
	assert.Equal(t, "function", out.Messages[1].ToolCalls[0].Type)
	assert.Equal(t, `{"a":1}`, out.Messages[1].ToolCalls[0].Function.Arguments)
	assert.Equal(t, "c1", out.Messages[2].ToolCallID)
	require.Len(t, out.Tools, 1)
	assert.Equal(t, "t", out.Tools[0].Function["name"])
	assert.Equal(t, "auto", out.ToolChoice)
}

func TestMapChatResponse(t *testing.T) {
	tests := []struct {
		name    string
		resp    openaiResponse
		content string
		finish  FinishReason
		calls   int
	}{
		{
			name:   "no choices",
			resp:   openaiResponse{Model: "m"},
			finish: FinishReasonError,
		},
		{
			name: "text",
			resp: openaiResponse{Choices: []openaiChoice{{
				Message:      openaiMessage{Content: "hello"},
				FinishReason: "stop",
			}}},
			content: "hello",
			finish:  FinishReasonStop,
		},
		{
			name: "reasoning fallback",
			resp: openaiResponse{Choices: []openaiChoice{{
				Message:      openaiMessage{ReasoningContent: "thought"},
				FinishReason: "stop",
			}}},
			content: "thought",
			finish:  FinishReasonStop,
		},
		{
			name: "tool calls",
			resp: openaiResponse{Choices: []openaiChoice{{
				Message:      openaiMessage{ToolCalls: []openaiToolCall{{ID: "a"}, {ID: "b"}}},
				FinishReason: "tool_calls",
			}}},
			finish: FinishReasonToolCalls,
			calls:  2,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mapChatResponse(&tt.resp)
			assert.Equal(t, tt.content, got.Content)
			assert.Equal(t, tt.finish, got.FinishReason)
			assert.Len(t, got.ToolCalls, tt.calls)
		})
	}
}

func TestOpenAIProvider_Chat(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		raw, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req openaiRequest
		require.NoError(t, json.Unmarshal(raw, &req))
		assert.Equal(t, "gpt-test", req.Model)

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "x", "model": "gpt-test",
			"choices": [{"index": 0, "finish_reason": "tool_calls", "message": {
				"role": "assistant", "content": "",
				"tool_calls": [{"id": "call_1", "type": "function",
					"function": {"name": "system_time", "arguments": "{}"}}]
			}}],
			"usage": {"prompt_tokens": 5, "completion_tokens": 2, "total_tokens": 7}
		}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{APIKey: "secret", BaseURL: srv.URL + "/v1", Model: "gpt-test"}, logger.Discard())
	resp, err := p.Chat(context.Background(), ChatRequest{Messages: []Message{{Role: RoleUser, Content: "time?"}}})
	require.NoError(t, err)

	assert.Equal(t, FinishReasonToolCalls, resp.FinishReason)
	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, ToolCall{ID: "call_1", Name: "system_time", Arguments: "{}"}, resp.ToolCalls[0])
	assert.Equal(t, 7, resp.Usage.TotalTokens)
}

func TestOpenAIProvider_Chat_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		check  func(t *testing.T, err error)
	}{
		{
			name:   "http error",
			status: http.StatusTooManyRequests,
			body:   `slow down`,
			check: func(t *testing.T, err error) {
				var httpErr *HTTPError
				require.ErrorAs(t, err, &httpErr)
				assert.Equal(t, http.StatusTooManyRequests, httpErr.StatusCode)
				assert.Equal(t, "slow down", httpErr.Body)
			},
		},
		{
			name:   "api error",
			status: http.StatusOK,
			body:   `{"error": {"message": "bad key", "type": "auth", "code": "401"}}`,
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "bad key")
			},
		},
		{
			name:   "invalid json",
			status: http.StatusOK,
			body:   `{not json`,
			check: func(t *testing.T, err error) {
				assert.ErrorContains(t, err, "unmarshal")
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL}, logger.Discard())
			_, err := p.Chat(context.Background(), ChatRequest{})
			require.Error(t, err)
			tt.check(t, err)
		})
	}
}

func TestOpenAIProvider_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	bucket := NewTokenBucket(1, time.Hour, 1)
	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL}, logger.Discard(), WithRateLimiter(bucket))

	_, err := p.Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = p.Chat(ctx, ChatRequest{})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestTokenBucket(t *testing.T) {
	now := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	b := NewTokenBucket(2, time.Second, 1)
	b.now = func() time.Time { return now }
	b.lastRefill = now

	ok, _ := b.TryAcquire()
	assert.True(t, ok)
	ok, _ = b.TryAcquire()
	assert.True(t, ok)
	ok, wait := b.TryAcquire()
	assert.False(t, ok)
	assert.Equal(t, time.Second, wait)

	now = now.Add(2500 * time.Millisecond)
	ok, _ = b.TryAcquire()
	assert.True(t, ok)
	ok, _ = b.TryAcquire()
	assert.True(t, ok)
	ok, wait = b.TryAcquire()
	assert.False(t, ok)
	assert.Equal(t, 500*time.Millisecond, wait)

	m := b.Metrics()
	assert.Equal(t, int64(6), m.TotalRequests)
	assert.Equal(t, int64(4), m.AllowedRequests)
	assert.Equal(t, int64(2), m.RejectedRequests)
}

func TestPerMinute(t *testing.T) {
	assert.Nil(t, PerMinute(0))
	b := PerMinute(60)
	require.NotNil(t, b)
	assert.Equal(t, time.Second, b.refillEvery)
	assert.Equal(t, 60, b.capacity)
}

func TestOpenAIProvider_Retry(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = io.WriteString(w, `{"choices":[{"message":{"content":"ok"},"finish_reason":"stop"}]}`)
	}))
	defer srv.Close()

	p := NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL}, logger.Discard(),
		WithRetry(retry.Config{MaxAttempts: 3, InitialBackoff: time.Millisecond}))
	resp, err := p.Chat(context.Background(), ChatRequest{})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.EqualValues(t, 3, calls.Load())

	calls.Store(0)
	p = NewOpenAIProvider(OpenAIConfig{BaseURL: srv.URL}, logger.Discard())
	_, err = p.Chat(context.Background(), ChatRequest{})
	var httpErr *HTTPError
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusServiceUnavailable, httpErr.HTTPStatus())
	assert.EqualValues(t, 1, calls.Load())
}
