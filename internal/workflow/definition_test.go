package workflow

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aatumaykin/nexbeat/internal/agent"
	"github.com/aatumaykin/nexbeat/internal/llm"
	"github.com/aatumaykin/nexbeat/internal/tools"
)

const reviewYAML = `
name: post_task
description: Draft a post and review it
start: draft
roles:
  writer:
    profile: You write short posts.
    goal: Produce one post.
    tools: [echo]
vertices:
  - id: draft
    action: role
    role: writer
    prompt: "Write about {{.Params.topic}}"
  - id: review
    action: llm
    system: You are an editor.
    prompt: "Approve or reject: {{.Previous}}"
  - id: publish
    action: template
    prompt: "PUBLISHED {{index .Results \"draft\"}}"
  - id: discard
    action: template
    prompt: "DISCARDED"
edges:
  - from: draft
    to: review
    when: {not_empty: true}
  - from: review
    to: publish
    when: {matches: "(?i)^approve"}
  - from: review
    to: discard
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(reviewYAML))
	require.NoError(t, err)
	assert.Equal(t, "post_task", def.Name)
	assert.Equal(t, "draft", def.Start)
	assert.Len(t, def.Vertices, 4)
	assert.Len(t, def.Edges, 3)
	assert.Equal(t, []string{"echo"}, def.Roles["writer"].Tools)
	require.NotNil(t, def.Edges[0].When)
	assert.True(t, def.Edges[0].When.NotEmpty)
}

func TestParseDefinition_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{name: "empty", yaml: "", want: "empty"},
		{name: "unknown field", yaml: "name: x\nstart: a\nbogus: 1\n", want: "bogus"},
		{name: "no name", yaml: "start: a\nvertices:\n  - {id: a, action: template, prompt: x}\n", want: "'name'"},
		{name: "no vertices", yaml: "name: x\nstart: a\n", want: "no vertices"},
		{
			name: "unknown start",
			yaml: "name: x\nstart: b\nvertices:\n  - {id: a, action: template, prompt: x}\n",
			want: "unknown vertex",
		},
		{
			name: "undefined role",
			yaml: "name: x\nstart: a\nvertices:\n  - {id: a, action: role, role: ghost}\n",
			want: "undefined role",
		},
		{
			name: "unknown action",
			yaml: "name: x\nstart: a\nvertices:\n  - {id: a, action: dance}\n",
			want: "unknown action",
		},
		{
			name: "edge to nowhere",
			yaml: "name: x\nstart: a\nvertices:\n  - {id: a, action: template, prompt: x}\nedges:\n  - {from: a, to: z}\n",
			want: "unknown vertex",
		},
		{
			name: "bad condition",
			yaml: "name: x\nstart: a\nvertices:\n  - {id: a, action: template, prompt: x}\n  - {id: b, action: template, prompt: y}\nedges:\n  - {from: a, to: b, when: {matches: \"(\"}}\n",
			want: "invalid pattern",
		},
		{
			name: "duplicate vertex",
			yaml: "name: x\nstart: a\nvertices:\n  - {id: a, action: template, prompt: x}\n  - {id: a, action: template, prompt: y}\n",
			want: "duplicate vertex",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func echoToolkit(t *testing.T) *tools.Toolkit {
	t.Helper()
	tk := tools.NewToolkit()
	require.NoError(t, tk.AddBatch(
		tools.Descriptor{
			Name:        "echo",
			Description: "echoes",
			Invoke: func(_ context.Context, args string) tools.Result {
				return tools.Success("echo:" + args)
			},
		},
		tools.Descriptor{
			Name:        "other",
			Description: "not granted to the writer",
			Invoke: func(context.Context, string) tools.Result {
				return tools.Success("")
			},
		},
	))
	return tk
}

func TestBuilder_Build(t *testing.T) {
	tests := []struct {
		name    string
		verdict string
		want    []string
		output  string
	}{
		{name: "approved", verdict: "Approve. Nice.", want: []string{"draft", "review", "publish"}, output: "PUBLISHED a post about go"},
		{name: "rejected", verdict: "Reject.", want: []string{"draft", "review", "discard"}, output: "DISCARDED"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := ParseDefinition([]byte(reviewYAML))
			require.NoError(t, err)

			provider := llm.NewScriptedProvider(
				llm.ToolCallReply(llm.ToolCall{ID: "c1", Name: "echo", Arguments: `{"q":1}`}),
				llm.TextReply(`{"FINAL_ANSWER": "a post about go"}`),
				llm.TextReply(tt.verdict),
			)
			b := NewBuilder(provider, echoToolkit(t), nil, WithRoleDefaults(agent.Config{MaxReactLoop: 3, Model: "m"}))
			c, err := b.Build(def)
			require.NoError(t, err)

			writer := c.Roles["writer"]
			require.NotNil(t, writer)
			assert.Equal(t, []string{"echo"}, writer.Toolkit().Names())
			assert.Equal(t, []string{"writer"}, c.Environment.Members())

			exec, err := c.Graph.Run(context.Background(), map[string]any{"topic": "go"})
			require.NoError(t, err)
			assert.Equal(t, tt.want, exec.Path)
			assert.Equal(t, tt.output, exec.Output())
			assert.Equal(t, 1, writer.ReactCount())

			reqs := provider.Requests()
			require.Len(t, reqs, 3)
			assert.Equal(t, "Write about go", reqs[0].Messages[1].Content)
			assert.Equal(t, "m", reqs[2].Model)
			assert.Equal(t, llm.Message{Role: llm.RoleSystem, Content: "You are an editor."}, reqs[2].Messages[0])
			assert.Equal(t, "Approve or reject: a post about go", reqs[2].Messages[1].Content)
			assert.Empty(t, reqs[2].Tools)
		})
	}
}

func TestBuilder_LLMActionRejectsToolCalls(t *testing.T) {
	def := &Definition{
		Name:     "direct",
		Start:    "ask",
		Vertices: []VertexSpec{{ID: "ask", Action: ActionLLM, Prompt: "hi"}},
	}
	provider := llm.NewScriptedProvider(llm.ToolCallReply(llm.ToolCall{ID: "x", Name: "echo"}))
	c, err := NewBuilder(provider, nil, nil).Build(def)
	require.NoError(t, err)

	_, err = c.Graph.Run(context.Background(), nil)
	assert.ErrorIs(t, err, agent.ErrUnexpectedLLMReply)
}

func TestBuilder_RejectsCycle(t *testing.T) {
	def := &Definition{
		Name:  "loop",
		Start: "a",
		Vertices: []VertexSpec{
			{ID: "a", Action: ActionTemplate, Prompt: "a"},
			{ID: "b", Action: ActionTemplate, Prompt: "b"},
		},
		Edges: []EdgeSpec{{From: "a", To: "b"}, {From: "b", To: "a"}},
	}
	_, err := NewBuilder(llm.NewEchoProvider(), nil, nil).Build(def)
	assert.ErrorIs(t, err, ErrCycle)
}

func TestGenericDefinition(t *testing.T) {
	tests := []struct {
		name   string
		params map[string]any
		want   string
	}{
		{name: "prompt wins", params: map[string]any{"prompt": "Say hi", "topic": "x"}, want: "Say hi"},
		{name: "topic", params: map[string]any{"topic": "cats"}, want: `Carry out the "post_task" task on the topic: cats.`},
		{name: "bare", params: nil, want: `Carry out the "post_task" task.`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := NewBuilder(llm.NewEchoProvider(), nil, nil).Build(GenericDefinition("post_task"))
			require.NoError(t, err)
			exec, err := c.Graph.Run(context.Background(), tt.params)
			require.NoError(t, err)
			assert.Equal(t, tt.want, exec.Output())
		})
	}
}

func TestLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "post.yaml"), []byte(reviewYAML), 0o644))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "nested", "thread.yml"), []byte(
		"name: thread_task\nstart: a\nvertices:\n  - {id: a, action: template, prompt: thread}\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignored"), 0o644))

	l := NewLoader(dir)
	names, err := l.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"post_task", "thread_task"}, names)

	def, err := l.Get("thread_task")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "nested", "thread.yml"), def.FilePath)

	generic, err := l.Get("like_task")
	require.NoError(t, err)
	assert.Equal(t, "like_task", generic.Name)
	assert.Equal(t, "agent", generic.Start)

	// New files show up after a reload only.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "like.yaml"), []byte(
		"name: like_task\nstart: b\nvertices:\n  - {id: b, action: template, prompt: like}\n"), 0o644))
	names, err = l.List()
	require.NoError(t, err)
	assert.Len(t, names, 2)
	defs, err := l.Reload()
	require.NoError(t, err)
	assert.Len(t, defs, 3)
}

func TestLoader_Errors(t *testing.T) {
	defs, err := NewLoader(filepath.Join(t.TempDir(), "missing")).Load()
	require.NoError(t, err)
	assert.Empty(t, defs)

	dir := t.TempDir()
	one := "name: same\nstart: a\nvertices:\n  - {id: a, action: template, prompt: x}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(one), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(one), 0o644))
	_, err = NewLoader(dir).Load()
	assert.ErrorContains(t, err, "defined twice")

	bad := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(bad, "bad.yaml"), []byte("name: [unclosed"), 0o644))
	_, err = NewLoader(bad).Load()
	assert.Error(t, err)
}
