// Package agent implements the role runtime: addressed messages, per-role
// buffers and memories, a broadcasting environment and the
// perceive/think/react loop that drives a Role against an LLM provider.
package agent

import (
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/aatumaykin/nexbeat/internal/llm"
)

// Broadcast addresses a message to every role.
const Broadcast = "*"

// Body is the payload of a Message: Text, ToolCall or ToolResult.
type Body interface {
	isBody()
}

// Text is a plain textual payload.
type Text struct {
	Content string
}

// ToolCall is a single tool request emitted by a role.
type ToolCall struct {
	ID   string
	Name string
	Args string
}

// ToolResult answers the ToolCall with the same ID.
type ToolResult struct {
	ID      string
	Payload string
	OK      bool
}

func (Text) isBody()       {}
func (ToolCall) isBody()   {}
func (ToolResult) isBody() {}

// Message is the unit roles exchange. Messages are immutable once sent;
// identity is the ID.
type Message struct {
	ID        string
	Sender    string
	Receivers []string
	Role      llm.Role
	Body      Body
	CreatedAt time.Time
}

func newMessage(sender string, role llm.Role, body Body, receivers []string) *Message {
	if len(receivers) == 0 {
		receivers = []string{Broadcast}
	}
	return &Message{
		ID:        uuid.NewString(),
		Sender:    sender,
		Receivers: receivers,
		Role:      role,
		Body:      body,
		CreatedAt: time.Now(),
	}
}

// NewUserMessage creates a user text message. With no receivers it is a
// broadcast.
func NewUserMessage(sender, content string, receivers ...string) *Message {
	return newMessage(sender, llm.RoleUser, Text{Content: content}, receivers)
}

// NewAssistantMessage creates an assistant text message.
func NewAssistantMessage(sender, content string, receivers ...string) *Message {
	return newMessage(sender, llm.RoleAssistant, Text{Content: content}, receivers)
}

// Content returns the text carried by the message. Tool calls render as
// their arguments.
func (m *Message) Content() string {
	switch b := m.Body.(type) {
	case Text:
		return b.Content
	case ToolCall:
		return b.Args
	case ToolResult:
		return b.Payload
	default:
		return ""
	}
}

// AddressedTo reports whether any of addrs receives m.
func (m *Message) AddressedTo(addrs ...string) bool {
	for _, r := range m.Receivers {
		if r == Broadcast || slices.Contains(addrs, r) {
			return true
		}
	}
	return false
}

// toLLM converts m for the provider as seen by the role named self.
func (m *Message) toLLM(self string) llm.Message {
	switch b := m.Body.(type) {
	case ToolCall:
		return llm.Message{
			Role:      llm.RoleAssistant,
			ToolCalls: []llm.ToolCall{{ID: b.ID, Name: b.Name, Arguments: b.Args}},
		}
	case ToolResult:
		return llm.Message{Role: llm.RoleTool, Content: b.Payload, ToolCallID: b.ID}
	case Text:
		if m.Sender == self {
			return llm.Message{Role: llm.RoleAssistant, Content: b.Content}
		}
		role := m.Role
		if role == llm.RoleAssistant || role == "" {
			// Another role's reply is input for this one.
			role = llm.RoleUser
		}
		content := b.Content
		if m.Sender != "" && m.Sender != UserSender {
			content = "[" + m.Sender + "]: " + content
		}
		return llm.Message{Role: role, Content: content}
	default:
		return llm.Message{Role: m.Role}
	}
}

// UserSender is the sender of messages injected from outside any role.
const UserSender = "user"
