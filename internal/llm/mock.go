package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
)

// ErrMockExhausted is returned by a scripted mock with no replies left.
var ErrMockExhausted = errors.New("mock provider: script exhausted")

// MockMode defines the operation mode of the mock provider.
type MockMode int

const (
	// MockModeEcho answers every request with a final answer quoting the
	// last user message.
	MockModeEcho MockMode = iota

	// MockModeScript replays pre-defined replies in order.
	MockModeScript

	// MockModeError always returns an error
	MockModeError
)

// MockProvider is a Provider for tests and dry runs. It records every
// request it receives and is safe for concurrent use.
type MockProvider struct {
	mu       sync.Mutex
	mode     MockMode
	script   []ChatResponse
	next     int
	requests []ChatRequest
	err      error
}

// NewEchoProvider creates a mock that echoes the last user message as a
// FINAL_ANSWER object.
func NewEchoProvider() *MockProvider {
	return &MockProvider{mode: MockModeEcho}
}

// NewScriptedProvider creates a mock returning replies in order.
func NewScriptedProvider(replies ...ChatResponse) *MockProvider {
	return &MockProvider{mode: MockModeScript, script: replies}
}

// NewErrorProvider creates a mock that always fails with err.
func NewErrorProvider(err error) *MockProvider {
	if err == nil {
		err = errors.New("mock provider error")
	}
	return &MockProvider{mode: MockModeError, err: err}
}

// TextReply builds a plain text reply.
func TextReply(content string) ChatResponse {
	return ChatResponse{Content: content, FinishReason: FinishReasonStop, Model: "mock"}
}

// ToolCallReply builds a reply requesting the given tool calls.
func ToolCallReply(calls ...ToolCall) ChatResponse {
	return ChatResponse{FinishReason: FinishReasonToolCalls, ToolCalls: calls, Model: "mock"}
}

// Chat implements Provider.
func (m *MockProvider) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)

	switch m.mode {
	case MockModeError:
		return nil, m.err
	case MockModeScript:
		if m.next >= len(m.script) {
			return nil, ErrMockExhausted
		}
		resp := m.script[m.next]
		m.next++
		return &resp, nil
	default:
		last := ""
		for i := len(req.Messages) - 1; i >= 0; i-- {
			if req.Messages[i].Role == RoleUser {
				last = req.Messages[i].Content
				break
			}
		}
		body, err := json.Marshal(map[string]string{"FINAL_ANSWER": last})
		if err != nil {
			return nil, fmt.Errorf("mock provider: %w", err)
		}
		resp := TextReply(string(body))
		return &resp, nil
	}
}

// Requests returns a copy of the requests received so far.
func (m *MockProvider) Requests() []ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ChatRequest(nil), m.requests...)
}

// CallCount returns the number of Chat calls.
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// SupportsToolCalling returns true.
func (m *MockProvider) SupportsToolCalling() bool {
	return true
}

// GetDefaultModel returns "mock".
func (m *MockProvider) GetDefaultModel() string {
	return "mock"
}
