package agent

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/nexbeat/internal/llm"
	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/tools"
)

type countingTool struct {
	name  string
	calls atomic.Int32
}

func (c *countingTool) descriptor() tools.Descriptor {
	return tools.Descriptor{
		Name:        c.name,
		Description: "counts calls",
		Invoke: func(_ context.Context, args string) tools.Result {
			c.calls.Add(1)
			return tools.Success(c.name + " ran with " + args)
		},
	}
}

func newTestRole(t *testing.T, cfg Config, provider llm.Provider, ds ...tools.Descriptor) *Role {
	t.Helper()
	tk := tools.NewToolkit()
	require.NoError(t, tk.AddBatch(ds...))
	return NewRole(cfg, provider, tk, logger.Discard())
}

func final(answer string) llm.ChatResponse {
	return llm.TextReply(`{"FINAL_ANSWER": "` + answer + `"}`)
}

func countByRole(m *Memory, role llm.Role) int {
	n := 0
	for _, msg := range m.Messages() {
		if msg.Role == role {
			n++
		}
	}
	return n
}

func TestRole_SingleToolPerTurn(t *testing.T) {
	t1 := &countingTool{name: "t1"}
	t2 := &countingTool{name: "t2"}
	provider := llm.NewScriptedProvider(
		llm.ToolCallReply(
			llm.ToolCall{ID: "c1", Name: "t1", Arguments: `{"n":1}`},
			llm.ToolCall{ID: "c2", Name: "t2", Arguments: `{"n":2}`},
		),
		final("done"),
	)
	role := newTestRole(t, Config{Name: "worker"}, provider, t1.descriptor(), t2.descriptor())

	answer, err := role.Run(context.Background(), "do it")
	require.NoError(t, err)
	assert.Equal(t, "done", answer)
	assert.Equal(t, int32(1), t1.calls.Load())
	assert.Equal(t, int32(0), t2.calls.Load())
	assert.Equal(t, 1, role.ReactCount())

	var results []ToolResult
	for _, m := range role.Memory().Messages() {
		switch b := m.Body.(type) {
		case ToolResult:
			results = append(results, b)
		case ToolCall:
			assert.Equal(t, "c1", b.ID)
		}
	}
	require.Len(t, results, 1)
	assert.Equal(t, "c1", results[0].ID)
	assert.True(t, results[0].OK)
	assert.Equal(t, `t1 ran with {"n":1}`, results[0].Payload)

	// The second request carries the pair in order.
	reqs := provider.Requests()
	require.Len(t, reqs, 2)
	msgs := reqs[1].Messages
	require.Len(t, msgs, 4)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Equal(t, llm.RoleUser, msgs[1].Role)
	assert.Equal(t, "c1", msgs[2].ToolCalls[0].ID)
	assert.Equal(t, llm.RoleTool, msgs[3].Role)
	assert.Equal(t, "c1", msgs[3].ToolCallID)
	assert.Len(t, reqs[0].Tools, 2)
}

func TestRole_SelfCorrectionKeepsBudget(t *testing.T) {
	provider := llm.NewScriptedProvider(
		llm.TextReply("hello"),
		llm.TextReply(`{"answer": "missing key"}`),
		final("ok"),
	)
	role := newTestRole(t, Config{Name: "writer", MaxReactLoop: 2}, provider)

	answer, err := role.Run(context.Background(), "write")
	require.NoError(t, err)
	assert.Equal(t, "ok", answer)
	assert.Equal(t, 0, role.ReactCount())

	// The task plus two corrections, then the answer.
	assert.Equal(t, 4, role.Memory().Len())
	assert.Equal(t, 3, countByRole(role.Memory(), llm.RoleUser))
	last := role.Memory().Last()
	assert.Equal(t, llm.RoleAssistant, last.Role)
	assert.Equal(t, "ok", last.Content())
}

func TestRole_MalformedReplyGrowsMemoryByOne(t *testing.T) {
	provider := llm.NewScriptedProvider(llm.TextReply("hello"))
	role := newTestRole(t, Config{Name: "writer"}, provider)
	role.Receive(NewUserMessage(UserSender, "task", "writer"))

	require.True(t, role.perceive())
	require.Equal(t, 1, role.Memory().Len())

	cont, out, err := role.think(context.Background())
	require.NoError(t, err)
	assert.True(t, cont)
	assert.Empty(t, out)
	assert.Equal(t, 1, role.Memory().Len(), "the malformed reply itself is not stored")
	assert.Equal(t, 1, role.buffer.Len())

	require.True(t, role.perceive())
	assert.Equal(t, 2, role.Memory().Len())
	assert.Contains(t, role.Memory().Last().Content(), "FINAL_ANSWER")
}

func TestRole_BudgetExhausted(t *testing.T) {
	tool := &countingTool{name: "probe"}
	provider := llm.NewScriptedProvider(
		llm.ToolCallReply(llm.ToolCall{ID: "a", Name: "probe", Arguments: "{}"}),
		llm.ToolCallReply(llm.ToolCall{ID: "b", Name: "probe", Arguments: `{"x":2}`}),
	)
	role := newTestRole(t, Config{Name: "r", MaxReactLoop: 2}, provider, tool.descriptor())

	answer, err := role.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, `probe ran with {"x":2}`, answer)
	assert.Equal(t, 2, role.ReactCount())
	assert.LessOrEqual(t, role.ReactCount(), 2)

	last, ok := role.Memory().Last().Body.(ToolResult)
	require.True(t, ok)
	assert.Equal(t, "b", last.ID)
}

func TestRole_ToolFailuresAreResults(t *testing.T) {
	provider := llm.NewScriptedProvider(
		llm.ToolCallReply(llm.ToolCall{ID: "x", Name: "missing", Arguments: "{}"}),
		llm.ToolCallReply(llm.ToolCall{ID: "y", Name: "missing", Arguments: "{broken"}),
		final("recovered"),
	)
	role := newTestRole(t, Config{Name: "r"}, provider)

	answer, err := role.Run(context.Background(), "go")
	require.NoError(t, err)
	assert.Equal(t, "recovered", answer)

	var payloads []ToolResult
	for _, m := range role.Memory().Messages() {
		if b, ok := m.Body.(ToolResult); ok {
			payloads = append(payloads, b)
		}
	}
	require.Len(t, payloads, 2)
	assert.False(t, payloads[0].OK)
	assert.Contains(t, payloads[0].Payload, tools.CodeNotFound)
	assert.Contains(t, payloads[1].Payload, tools.CodeInvalid)
}

func TestRole_Errors(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name     string
		provider llm.Provider
		cfg      Config
		want     error
	}{
		{
			name:     "empty reply",
			provider: llm.NewScriptedProvider(llm.ChatResponse{FinishReason: llm.FinishReasonStop}),
			want:     ErrUnexpectedLLMReply,
		},
		{
			name:     "error finish reason",
			provider: llm.NewScriptedProvider(llm.ChatResponse{Content: "x", FinishReason: llm.FinishReasonError}),
			want:     ErrUnexpectedLLMReply,
		},
		{
			name: "too many corrections",
			provider: llm.NewScriptedProvider(
				llm.TextReply("a"), llm.TextReply("b"), llm.TextReply("c"),
			),
			cfg:  Config{MaxCorrections: 2},
			want: ErrTooManyCorrections,
		},
		{
			name:     "provider failure",
			provider: llm.NewErrorProvider(boom),
			want:     boom,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			role := newTestRole(t, tt.cfg, tt.provider)
			_, err := role.Run(context.Background(), "go")
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestRole_NoNewsReturnsCurrentAnswer(t *testing.T) {
	provider := llm.NewScriptedProvider(final("first"))
	role := newTestRole(t, Config{Name: "r"}, provider)

	answer, err := role.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, answer)
	assert.Equal(t, 0, provider.CallCount())

	_, err = role.Run(context.Background(), "q")
	require.NoError(t, err)
	answer, err = role.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "first", answer)
}

func TestRole_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	role := newTestRole(t, Config{}, llm.NewEchoProvider())
	_, err := role.Run(ctx, "x")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRole_PerceiveFilters(t *testing.T) {
	role := newTestRole(t, Config{Name: "me", Addresses: []string{"team"}, Subscriptions: []string{"boss"}}, llm.NewEchoProvider())

	seen := NewUserMessage("x", "already seen", "me")
	role.Memory().Add(seen)
	role.Receive(
		seen,
		NewUserMessage("x", "direct", "me"),
		NewUserMessage("x", "to team", "team"),
		NewUserMessage("x", "broadcast"),
		NewUserMessage("boss", "from boss", "someone-else"),
		NewUserMessage("x", "not mine", "someone-else"),
	)

	require.True(t, role.perceive())
	var got []string
	for _, m := range role.Memory().Messages()[1:] {
		got = append(got, m.Content())
	}
	assert.Equal(t, []string{"direct", "to team", "broadcast", "from boss"}, got)
	assert.False(t, role.perceive())
}

func TestRole_BuildPromptPrunesOrphans(t *testing.T) {
	role := newTestRole(t, Config{Name: "me", Goal: "test pruning"}, llm.NewEchoProvider())
	role.Memory().Add(
		NewUserMessage(UserSender, "task", "me"),
		newMessage("me", llm.RoleAssistant, ToolCall{ID: "c1", Name: "t", Args: "{}"}, []string{"me"}),
		newMessage("me", llm.RoleTool, ToolResult{ID: "c1", Payload: "r1", OK: true}, []string{"me"}),
		newMessage("me", llm.RoleAssistant, ToolCall{ID: "c2", Name: "t", Args: "{}"}, []string{"me"}),
		newMessage("me", llm.RoleTool, ToolResult{ID: "c3", Payload: "r3", OK: true}, []string{"me"}),
		newMessage("other", llm.RoleAssistant, ToolCall{ID: "c4", Name: "t", Args: "{}"}, nil),
		NewAssistantMessage("peer", "peer says hi"),
	)

	msgs := role.buildPrompt()
	require.Len(t, msgs, 5)
	assert.Equal(t, llm.RoleSystem, msgs[0].Role)
	assert.Contains(t, msgs[0].Content, "Goal: test pruning")
	assert.Equal(t, "task", msgs[1].Content)
	assert.Equal(t, "c1", msgs[2].ToolCalls[0].ID)
	assert.Equal(t, "c1", msgs[3].ToolCallID)
	assert.Equal(t, llm.Message{Role: llm.RoleUser, Content: "[peer]: peer says hi"}, msgs[4])
}

func TestEnvironment_Publish(t *testing.T) {
	env := NewEnvironment("a writers' room")
	writer := newTestRole(t, Config{Name: "writer", SendTo: []string{"reviewer"}},
		llm.NewScriptedProvider(final("draft")))
	reviewer := newTestRole(t, Config{Name: "reviewer"}, llm.NewEchoProvider())
	observer := newTestRole(t, Config{Name: "observer", Subscriptions: []string{"writer"}}, llm.NewEchoProvider())
	bystander := newTestRole(t, Config{Name: "bystander"}, llm.NewEchoProvider())
	env.Add(writer, reviewer, observer, bystander)
	assert.Equal(t, []string{"bystander", "observer", "reviewer", "writer"}, env.Members())

	answer, err := writer.Run(context.Background(), "write a draft")
	require.NoError(t, err)
	assert.Equal(t, "draft", answer)

	require.Len(t, env.History(), 1)
	assert.Equal(t, 1, reviewer.buffer.Len())
	assert.Equal(t, 1, observer.buffer.Len())
	assert.Equal(t, 0, bystander.buffer.Len())
	assert.Equal(t, 0, writer.buffer.Len())

	review, err := reviewer.Run(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, "[writer]: draft", review)
	assert.Contains(t, reviewer.buildPrompt()[0].Content, "a writers' room")

	// The reviewer's reply is a broadcast.
	require.Len(t, env.History(), 2)
	assert.Equal(t, 1, writer.buffer.Len())
	assert.Equal(t, 2, observer.buffer.Len())

	writer.publish()
	assert.Len(t, env.History(), 2, "an answer is published once")
}
