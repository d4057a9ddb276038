package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/aatumaykin/nexbeat/internal/llm"
	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/tools"
)

const (
	DefaultMaxReactLoop   = 5
	DefaultMaxCorrections = 5
	DefaultMaxTokens      = 4096
)

var (
	// ErrUnexpectedLLMReply is returned when a reply is neither a tool call
	// nor text.
	ErrUnexpectedLLMReply = errors.New("unexpected LLM reply")

	// ErrTooManyCorrections is returned when the model keeps producing
	// malformed replies.
	ErrTooManyCorrections = errors.New("too many self-corrections")
)

// Config describes a role.
type Config struct {
	Name        string
	Profile     string
	Goal        string
	Constraints string

	Model       string
	MaxTokens   int
	Temperature float64

	MaxReactLoop   int
	MaxCorrections int

	// Addresses the role answers to besides its name.
	Addresses []string
	// Subscriptions lists senders whose messages the role always reads.
	Subscriptions []string
	// SendTo addresses the published final answer. Empty means broadcast.
	SendTo []string
}

type todo struct {
	call ToolCall
}

// Role is an agent identity bound to a provider and a toolkit.
// A Role is not safe for concurrent Run calls.
type Role struct {
	cfg      Config
	provider llm.Provider
	toolkit  *tools.Toolkit
	buffer   *Buffer
	memory   *Memory
	env      *Environment
	logger   *logger.Logger

	todos       []todo
	answer      string
	answerMsg   *Message
	lastResult  string
	reactCount  int
	corrections int
}

// NewRole creates a role. A nil toolkit means no tools.
func NewRole(cfg Config, provider llm.Provider, toolkit *tools.Toolkit, log *logger.Logger) *Role {
	if cfg.Name == "" {
		cfg.Name = "assistant"
	}
	if cfg.MaxReactLoop <= 0 {
		cfg.MaxReactLoop = DefaultMaxReactLoop
	}
	if cfg.MaxCorrections <= 0 {
		cfg.MaxCorrections = DefaultMaxCorrections
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if toolkit == nil {
		toolkit = tools.NewToolkit()
	}
	return &Role{
		cfg:      cfg,
		provider: provider,
		toolkit:  toolkit,
		buffer:   &Buffer{},
		memory:   NewMemory(),
		logger:   log.Component("agent").With(logger.Field{Key: "role", Value: cfg.Name}),
	}
}

// Name returns the role name.
func (r *Role) Name() string { return r.cfg.Name }

// Addresses returns every address the role answers to.
func (r *Role) Addresses() []string {
	return append([]string{r.cfg.Name}, r.cfg.Addresses...)
}

// Memory returns the role's memory.
func (r *Role) Memory() *Memory { return r.memory }

// Toolkit returns the role's toolkit.
func (r *Role) Toolkit() *tools.Toolkit { return r.toolkit }

// ReactCount returns how many react steps the last Run performed.
func (r *Role) ReactCount() int { return r.reactCount }

// Answer returns the last final answer.
func (r *Role) Answer() string { return r.answer }

// Receive queues messages for the next perceive.
func (r *Role) Receive(msgs ...*Message) {
	r.buffer.Push(msgs...)
}

// Run queues input (when non-empty) as a user message addressed to the role
// and drives the loop until a final answer, silence or an exhausted budget.
func (r *Role) Run(ctx context.Context, input string) (string, error) {
	if input != "" {
		r.Receive(NewUserMessage(UserSender, input, r.cfg.Name))
	}
	r.reactCount = 0
	r.corrections = 0
	r.lastResult = ""

	for r.reactCount < r.cfg.MaxReactLoop {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		if !r.perceive() {
			r.publish()
			return r.answer, nil
		}

		cont, final, err := r.think(ctx)
		if err != nil {
			return "", err
		}
		if !cont {
			r.publish()
			return final, nil
		}
		if len(r.todos) == 0 {
			// Self-correction queued; it costs no react budget.
			continue
		}
		r.react(ctx)
	}

	// Keep the last tool result in memory even though nobody thinks on it.
	r.perceive()
	r.logger.WarnCtx(ctx, "react budget exhausted",
		logger.Field{Key: "max_react_loop", Value: r.cfg.MaxReactLoop})
	return r.lastResult, nil
}

// perceive moves new messages addressed to the role from the buffer into
// memory and reports whether there were any.
func (r *Role) perceive() bool {
	addrs := r.Addresses()
	var news []*Message
	for _, m := range r.buffer.Drain() {
		if r.memory.Contains(m.ID) {
			continue
		}
		if m.AddressedTo(addrs...) || slices.Contains(r.cfg.Subscriptions, m.Sender) {
			news = append(news, m)
		}
	}
	r.memory.Add(news...)
	return len(news) > 0
}

// think asks the model for the next step. It returns cont=false with the
// final answer, or cont=true after queueing a tool call or a correction.
func (r *Role) think(ctx context.Context) (bool, string, error) {
	req := llm.ChatRequest{
		Messages:    r.buildPrompt(),
		Model:       r.cfg.Model,
		Temperature: r.cfg.Temperature,
		MaxTokens:   r.cfg.MaxTokens,
	}
	if r.provider.SupportsToolCalling() {
		req.Tools = r.toolkit.Schemas()
	}

	resp, err := r.provider.Chat(ctx, req)
	if err != nil {
		return false, "", fmt.Errorf("LLM call failed: %w", err)
	}
	r.logger.DebugCtx(ctx, "LLM reply",
		logger.Field{Key: "finish_reason", Value: resp.FinishReason},
		logger.Field{Key: "tool_calls_count", Value: len(resp.ToolCalls)},
		logger.Field{Key: "content_length", Value: len(resp.Content)})

	switch {
	case len(resp.ToolCalls) > 0:
		first := resp.ToolCalls[0]
		if len(resp.ToolCalls) > 1 {
			r.logger.DebugCtx(ctx, "ignoring extra tool calls",
				logger.Field{Key: "kept", Value: first.Name},
				logger.Field{Key: "dropped", Value: len(resp.ToolCalls) - 1})
		}
		call := ToolCall{ID: first.ID, Name: first.Name, Args: first.Arguments}
		if call.ID == "" {
			call.ID = "call_" + newShortID()
		}
		r.memory.Add(newMessage(r.cfg.Name, llm.RoleAssistant, call, []string{r.cfg.Name}))
		r.todos = append(r.todos, todo{call: call})
		return true, "", nil

	case resp.FinishReason == llm.FinishReasonError:
		return false, "", fmt.Errorf("%w: finish reason %q", ErrUnexpectedLLMReply, resp.FinishReason)

	case strings.TrimSpace(resp.Content) != "":
		answer, perr := parseFinalAnswer(resp.Content)
		if perr == nil {
			r.answer = answer
			r.answerMsg = NewAssistantMessage(r.cfg.Name, answer, r.cfg.SendTo...)
			r.memory.Add(r.answerMsg)
			return false, answer, nil
		}
		r.corrections++
		if r.corrections > r.cfg.MaxCorrections {
			return false, "", fmt.Errorf("%w: %d malformed replies", ErrTooManyCorrections, r.corrections)
		}
		r.logger.DebugCtx(ctx, "queueing self-correction",
			logger.Field{Key: "attempt", Value: r.corrections},
			logger.Field{Key: "cause", Value: perr.Error()})
		r.Receive(NewUserMessage(UserSender, correctionPrompt(resp.Content, perr), r.cfg.Name))
		return true, "", nil

	default:
		return false, "", fmt.Errorf("%w: empty reply without tool calls", ErrUnexpectedLLMReply)
	}
}

// react runs queued tool calls and feeds their results back to the role.
func (r *Role) react(ctx context.Context) {
	todos := r.todos
	r.todos = nil

	for _, t := range todos {
		var res tools.Result
		if args := strings.TrimSpace(t.call.Args); args != "" && !json.Valid([]byte(args)) {
			res = tools.Fail(tools.NewValidationError("tool arguments are not valid JSON",
				map[string]any{"arguments": t.call.Args}))
		} else {
			res = r.toolkit.Execute(ctx, t.call.Name, t.call.Args)
		}

		payload := res.Content()
		r.lastResult = payload
		r.logger.DebugCtx(ctx, "tool executed",
			logger.Field{Key: "tool", Value: t.call.Name},
			logger.Field{Key: "tool_call_id", Value: t.call.ID},
			logger.Field{Key: "ok", Value: res.OK()})

		r.Receive(newMessage(r.cfg.Name, llm.RoleTool,
			ToolResult{ID: t.call.ID, Payload: payload, OK: res.OK()},
			[]string{r.cfg.Name}))
	}
	r.reactCount++
}

// publish hands the current answer to the environment, once.
func (r *Role) publish() {
	if r.env == nil || r.answerMsg == nil {
		return
	}
	r.env.Publish(r.answerMsg)
	r.answerMsg = nil
}
