package agent

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/aatumaykin/nexbeat/internal/llm"
)

// TranscriptEntry is one JSONL line of a transcript.
type TranscriptEntry struct {
	ID         string    `json:"id"`
	Role       string    `json:"role"`
	Sender     string    `json:"sender"`
	Receivers  []string  `json:"receivers,omitempty"`
	Kind       string    `json:"kind"`
	Content    string    `json:"content,omitempty"`
	ToolName   string    `json:"tool_name,omitempty"`
	ToolCallID string    `json:"tool_call_id,omitempty"`
	OK         *bool     `json:"ok,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

func entryOf(roleName string, m *Message) TranscriptEntry {
	e := TranscriptEntry{
		ID:        m.ID,
		Role:      roleName,
		Sender:    m.Sender,
		Receivers: m.Receivers,
		Timestamp: m.CreatedAt,
	}
	switch b := m.Body.(type) {
	case Text:
		e.Kind = "text"
		e.Content = b.Content
	case ToolCall:
		e.Kind = "tool_call"
		e.ToolName = b.Name
		e.ToolCallID = b.ID
		e.Content = b.Args
	case ToolResult:
		e.Kind = "tool_result"
		e.ToolCallID = b.ID
		e.Content = b.Payload
		ok := b.OK
		e.OK = &ok
	}
	return e
}

// Transcripts writes role memories as JSONL files, one per run.
type Transcripts struct {
	baseDir string
	mu      sync.Mutex
}

// NewTranscripts creates the directory if needed.
func NewTranscripts(baseDir string) (*Transcripts, error) {
	if baseDir == "" {
		return nil, fmt.Errorf("base directory cannot be empty")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create transcript directory: %w", err)
	}
	return &Transcripts{baseDir: baseDir}, nil
}

// Path returns the file for run id.
func (t *Transcripts) Path(id string) string {
	return filepath.Join(t.baseDir, id+".jsonl")
}

// Append writes the memory of role as JSON lines to the file of run id.
func (t *Transcripts) Append(id string, role *Role) error {
	var buf bytes.Buffer
	for _, m := range role.Memory().Messages() {
		data, err := json.Marshal(entryOf(role.Name(), m))
		if err != nil {
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		buf.Write(data)
		buf.WriteByte('\n')
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	file, err := os.OpenFile(t.Path(id), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()
	if _, err := file.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("failed to write transcript: %w", err)
	}
	return nil
}

// Read returns the entries of run id in order. Malformed lines are skipped.
func (t *Transcripts) Read(id string) ([]TranscriptEntry, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	file, err := os.Open(t.Path(id))
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript: %w", err)
	}
	defer file.Close()

	var out []TranscriptEntry
	sc := bufio.NewScanner(file)
	sc.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e TranscriptEntry
		if err := json.Unmarshal(line, &e); err != nil {
			continue
		}
		out = append(out, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transcript: %w", err)
	}
	return out, nil
}

// Message converts the entry back to a provider message.
func (e TranscriptEntry) Message() llm.Message {
	switch e.Kind {
	case "tool_call":
		return llm.Message{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: e.ToolCallID, Name: e.ToolName, Arguments: e.Content}}}
	case "tool_result":
		return llm.Message{Role: llm.RoleTool, Content: e.Content, ToolCallID: e.ToolCallID}
	}
	if e.Sender == e.Role {
		return llm.Message{Role: llm.RoleAssistant, Content: e.Content}
	}
	return llm.Message{Role: llm.RoleUser, Content: e.Content}
}
