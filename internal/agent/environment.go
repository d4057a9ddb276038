package agent

import (
	"slices"
	"sync"
)

// member is what an Environment knows about a role: its inbox and its
// addressing, never the role itself.
type member struct {
	buffer        *Buffer
	addresses     []string
	subscriptions []string
}

// Environment broadcasts published messages to member roles.
type Environment struct {
	mu          sync.RWMutex
	description string
	members     map[string]member
	history     []*Message
}

// NewEnvironment creates an Environment with a description that members
// include in their system prompt.
func NewEnvironment(description string) *Environment {
	return &Environment{
		description: description,
		members:     make(map[string]member),
	}
}

// Description returns the environment description.
func (e *Environment) Description() string {
	return e.description
}

// Add registers roles as members and gives them this environment as
// their publish target.
func (e *Environment) Add(roles ...*Role) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, r := range roles {
		e.members[r.Name()] = member{
			buffer:        r.buffer,
			addresses:     r.Addresses(),
			subscriptions: slices.Clone(r.cfg.Subscriptions),
		}
		r.env = e
	}
}

// Members returns member names.
func (e *Environment) Members() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.members))
	for n := range e.members {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Publish appends msg to the history and routes it to every member other
// than the sender that it is addressed to or that subscribes to the sender.
func (e *Environment) Publish(msg *Message) {
	e.mu.Lock()
	e.history = append(e.history, msg)
	var targets []*Buffer
	for name, m := range e.members {
		if name == msg.Sender {
			continue
		}
		if msg.AddressedTo(m.addresses...) || slices.Contains(m.subscriptions, msg.Sender) {
			targets = append(targets, m.buffer)
		}
	}
	e.mu.Unlock()

	for _, b := range targets {
		b.Push(msg)
	}
}

// History returns a copy of everything published.
func (e *Environment) History() []*Message {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return slices.Clone(e.history)
}
