package workflow

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Action kinds a vertex definition may use.
const (
	ActionRole     = "role"
	ActionLLM      = "llm"
	ActionTemplate = "template"
)

// Definition is the YAML form of a workflow.
//
//	name: post_task
//	description: Draft and review a post
//	start: draft
//	roles:
//	  writer:
//	    profile: You write short posts.
//	    tools: [system_time]
//	vertices:
//	  - id: draft
//	    action: role
//	    role: writer
//	    prompt: "Write about {{.Params.topic}}"
//	  - id: publish
//	    action: template
//	    prompt: "{{.Previous}}"
//	edges:
//	  - from: draft
//	    to: publish
//	    when: {not_empty: true}
type Definition struct {
	Name        string              `yaml:"name"`
	Description string              `yaml:"description,omitempty"`
	Start       string              `yaml:"start"`
	Roles       map[string]RoleSpec `yaml:"roles,omitempty"`
	Vertices    []VertexSpec        `yaml:"vertices"`
	Edges       []EdgeSpec          `yaml:"edges,omitempty"`

	// FilePath is set by the loader.
	FilePath string `yaml:"-"`
}

// RoleSpec describes an agent role used by role vertices.
type RoleSpec struct {
	Profile       string   `yaml:"profile,omitempty"`
	Goal          string   `yaml:"goal,omitempty"`
	Constraints   string   `yaml:"constraints,omitempty"`
	Tools         []string `yaml:"tools,omitempty"`
	MaxReactLoop  int      `yaml:"max_react_loop,omitempty"`
	Subscriptions []string `yaml:"subscriptions,omitempty"`
	SendTo        []string `yaml:"send_to,omitempty"`
}

// VertexSpec describes one vertex. Prompt and System are text/template
// sources rendered against the vertex input.
type VertexSpec struct {
	ID     string `yaml:"id"`
	Action string `yaml:"action"`
	Role   string `yaml:"role,omitempty"`
	System string `yaml:"system,omitempty"`
	Prompt string `yaml:"prompt,omitempty"`
}

// EdgeSpec describes one edge.
type EdgeSpec struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
	When *When  `yaml:"when,omitempty"`
}

// ParseDefinition decodes and validates a YAML definition.
func ParseDefinition(data []byte) (*Definition, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var def Definition
	if err := dec.Decode(&def); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("workflow definition is empty")
		}
		return nil, fmt.Errorf("failed to parse workflow YAML: %w", err)
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// Validate checks the definition's internal references. Acyclicity is
// checked when the graph is built.
func (d *Definition) Validate() error {
	var errs []error
	if d.Name == "" {
		errs = append(errs, fmt.Errorf("workflow must have a 'name' field"))
	}
	if len(d.Vertices) == 0 {
		errs = append(errs, fmt.Errorf("workflow %q has no vertices", d.Name))
	}

	ids := make(map[string]bool, len(d.Vertices))
	for i, v := range d.Vertices {
		if v.ID == "" {
			errs = append(errs, fmt.Errorf("vertex #%d has no id", i+1))
			continue
		}
		if ids[v.ID] {
			errs = append(errs, fmt.Errorf("%w: %q", ErrDuplicateVertex, v.ID))
		}
		ids[v.ID] = true

		switch v.Action {
		case ActionRole:
			if _, ok := d.Roles[v.Role]; !ok {
				errs = append(errs, fmt.Errorf("vertex %q uses undefined role %q", v.ID, v.Role))
			}
		case ActionLLM, ActionTemplate:
			if v.Prompt == "" {
				errs = append(errs, fmt.Errorf("vertex %q needs a prompt", v.ID))
			}
		default:
			errs = append(errs, fmt.Errorf("vertex %q has unknown action %q", v.ID, v.Action))
		}
	}

	if d.Start == "" {
		errs = append(errs, ErrNoStartVertex)
	} else if !ids[d.Start] {
		errs = append(errs, fmt.Errorf("start: %w: %q", ErrUnknownVertex, d.Start))
	}
	for _, e := range d.Edges {
		for _, id := range []string{e.From, e.To} {
			if !ids[id] {
				errs = append(errs, fmt.Errorf("edge %s->%s: %w: %q", e.From, e.To, ErrUnknownVertex, id))
			}
		}
		if _, err := e.When.Compile(); err != nil {
			errs = append(errs, fmt.Errorf("edge %s->%s: %w", e.From, e.To, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid workflow %q: %w", d.Name, errors.Join(errs...))
	}
	return nil
}

// genericPrompt asks the agent to carry out the task described by the
// schedule parameters.
const genericPrompt = `{{if .Params.prompt}}{{.Params.prompt}}{{else}}Carry out the "{{.Task}}" task{{with .Params.topic}} on the topic: {{.}}{{end}}.{{end}}`

// GenericDefinition is used for task names without a definition file:
// a single agent vertex prompted from params.prompt or params.topic.
func GenericDefinition(taskName string) *Definition {
	return &Definition{
		Name:        taskName,
		Description: "Single-agent workflow for the " + taskName + " task",
		Start:       "agent",
		Roles: map[string]RoleSpec{
			"assistant": {
				Profile: "You are a careful assistant that completes scheduled tasks.",
				Goal:    "Complete the task and report the outcome briefly.",
			},
		},
		Vertices: []VertexSpec{
			{ID: "agent", Action: ActionRole, Role: "assistant", Prompt: genericPrompt},
		},
	}
}
