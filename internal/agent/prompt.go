package agent

import (
	"strings"

	"github.com/google/uuid"

	"github.com/aatumaykin/nexbeat/internal/llm"
)

func newShortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
}

// systemPrompt renders the role definition and the environment.
func (r *Role) systemPrompt() string {
	var b strings.Builder
	b.WriteString("You are " + r.cfg.Name + ".")
	if r.cfg.Profile != "" {
		b.WriteString(" " + r.cfg.Profile)
	}
	if r.cfg.Goal != "" {
		b.WriteString("\n\nGoal: " + r.cfg.Goal)
	}
	if r.cfg.Constraints != "" {
		b.WriteString("\n\nConstraints: " + r.cfg.Constraints)
	}
	if r.env != nil && r.env.Description() != "" {
		b.WriteString("\n\nEnvironment: " + r.env.Description())
	}
	if names := r.toolkit.Names(); len(names) > 0 {
		b.WriteString("\n\nAvailable tools: " + strings.Join(names, ", ") + ". Call at most one tool per reply.")
	}
	b.WriteString("\n\nWhen you are done, reply with only a JSON object of the form {\"" +
		FinalAnswerKey + "\": \"<your answer>\"}.")
	return b.String()
}

// buildPrompt serialises memory for the provider. Only complete
// call/result pairs made by this role survive, each at its original
// position; every other message, the newest included, is kept.
func (r *Role) buildPrompt() []llm.Message {
	history := r.memory.Messages()

	calls := make(map[string]bool)
	results := make(map[string]bool)
	for _, m := range history {
		switch b := m.Body.(type) {
		case ToolCall:
			calls[b.ID] = true
		case ToolResult:
			results[b.ID] = true
		}
	}

	out := make([]llm.Message, 0, len(history)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: r.systemPrompt()})
	for _, m := range history {
		switch b := m.Body.(type) {
		case ToolCall:
			if m.Sender != r.cfg.Name || !results[b.ID] {
				continue
			}
		case ToolResult:
			if m.Sender != r.cfg.Name || !calls[b.ID] {
				continue
			}
		}
		out = append(out, m.toLLM(r.cfg.Name))
	}
	return out
}
