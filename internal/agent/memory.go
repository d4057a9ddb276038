package agent

import (
	"slices"
	"sync"
)

// Buffer is a role's inbox. Anyone may push; only the owner drains.
type Buffer struct {
	mu   sync.Mutex
	msgs []*Message
}

// Push appends messages.
func (b *Buffer) Push(msgs ...*Message) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.msgs = append(b.msgs, msgs...)
}

// Drain removes and returns everything queued.
func (b *Buffer) Drain() []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.msgs
	b.msgs = nil
	return out
}

// Len returns the number of queued messages.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.msgs)
}

// Memory is the ordered history a role has perceived or produced.
type Memory struct {
	mu   sync.RWMutex
	msgs []*Message
	ids  map[string]struct{}
}

// NewMemory creates an empty Memory.
func NewMemory() *Memory {
	return &Memory{ids: make(map[string]struct{})}
}

// Add appends messages not already stored.
func (m *Memory) Add(msgs ...*Message) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, msg := range msgs {
		if _, ok := m.ids[msg.ID]; ok {
			continue
		}
		m.ids[msg.ID] = struct{}{}
		m.msgs = append(m.msgs, msg)
	}
}

// Contains reports whether a message with id is stored.
func (m *Memory) Contains(id string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.ids[id]
	return ok
}

// Messages returns a copy of the history.
func (m *Memory) Messages() []*Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.msgs)
}

// Len returns the number of stored messages.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.msgs)
}

// Last returns the newest message or nil.
func (m *Memory) Last() *Message {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if len(m.msgs) == 0 {
		return nil
	}
	return m.msgs[len(m.msgs)-1]
}
