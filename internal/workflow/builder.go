package workflow

import (
	"context"
	"fmt"
	"strings"
	"text/template"

	"github.com/aatumaykin/nexbeat/internal/agent"
	"github.com/aatumaykin/nexbeat/internal/llm"
	"github.com/aatumaykin/nexbeat/internal/logger"
	"github.com/aatumaykin/nexbeat/internal/tools"
)

// Compiled is a built workflow: the graph plus the roles its vertices
// drive, all members of one environment.
type Compiled struct {
	Graph       *Graph
	Environment *agent.Environment
	Roles       map[string]*agent.Role
}

// Builder turns definitions into graphs bound to a provider and a toolkit.
type Builder struct {
	provider llm.Provider
	toolkit  *tools.Toolkit
	logger   *logger.Logger
	defaults agent.Config
	hooks    Hooks
}

// BuilderOption configures a Builder.
type BuilderOption func(*Builder)

// WithRoleDefaults sets model and loop settings shared by every role.
// Name, profile, goal and addressing come from the definition.
func WithRoleDefaults(cfg agent.Config) BuilderOption {
	return func(b *Builder) { b.defaults = cfg }
}

// WithGraphHooks installs hooks on every built graph.
func WithGraphHooks(h Hooks) BuilderOption {
	return func(b *Builder) { b.hooks = h }
}

// NewBuilder creates a Builder. A nil toolkit means no tools.
func NewBuilder(provider llm.Provider, toolkit *tools.Toolkit, log *logger.Logger, opts ...BuilderOption) *Builder {
	if toolkit == nil {
		toolkit = tools.NewToolkit()
	}
	if log == nil {
		log = logger.Discard()
	}
	b := &Builder{provider: provider, toolkit: toolkit, logger: log}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build creates fresh roles and a graph for def. Roles live as long as the
// returned Compiled value. opts apply to the graph after the builder's own.
func (b *Builder) Build(def *Definition, opts ...Option) (*Compiled, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}

	graphOpts := append([]Option{WithLogger(b.logger), WithHooks(b.hooks)}, opts...)
	c := &Compiled{
		Graph:       NewGraph(def.Name, graphOpts...),
		Environment: agent.NewEnvironment(def.Description),
		Roles:       make(map[string]*agent.Role, len(def.Roles)),
	}

	for name, spec := range def.Roles {
		tk := b.toolkit.Clone()
		if spec.Tools != nil {
			tk.IntersectWith(spec.Tools...)
		}
		cfg := b.defaults
		cfg.Name = name
		cfg.Profile = spec.Profile
		cfg.Goal = spec.Goal
		cfg.Constraints = spec.Constraints
		cfg.Subscriptions = spec.Subscriptions
		cfg.SendTo = spec.SendTo
		cfg.Addresses = nil
		if spec.MaxReactLoop > 0 {
			cfg.MaxReactLoop = spec.MaxReactLoop
		}
		role := agent.NewRole(cfg, b.provider, tk, b.logger)
		c.Roles[name] = role
		c.Environment.Add(role)
	}

	for _, vs := range def.Vertices {
		action, err := b.action(vs, c.Roles)
		if err != nil {
			return nil, fmt.Errorf("vertex %q: %w", vs.ID, err)
		}
		if err := c.Graph.AddVertex(vs.ID, action); err != nil {
			return nil, err
		}
	}
	for _, es := range def.Edges {
		when, err := es.When.Compile()
		if err != nil {
			return nil, fmt.Errorf("edge %s->%s: %w", es.From, es.To, err)
		}
		if err := c.Graph.AddEdge(es.From, es.To, when); err != nil {
			return nil, err
		}
	}
	if err := c.Graph.SetStart(def.Start); err != nil {
		return nil, err
	}
	if err := c.Graph.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (b *Builder) action(vs VertexSpec, roles map[string]*agent.Role) (Action, error) {
	prompt, err := parseTemplate(vs.ID+".prompt", vs.Prompt)
	if err != nil {
		return nil, err
	}

	switch vs.Action {
	case ActionRole:
		return RoleAction(roles[vs.Role], prompt), nil
	case ActionLLM:
		system, err := parseTemplate(vs.ID+".system", vs.System)
		if err != nil {
			return nil, err
		}
		return LLMAction(b.provider, b.defaults.Model, system, prompt), nil
	case ActionTemplate:
		return TemplateAction(prompt), nil
	default:
		return nil, fmt.Errorf("unknown action %q", vs.Action)
	}
}

// templateData is what prompt templates see.
type templateData struct {
	Task     string
	Vertex   string
	Params   map[string]any
	Results  map[string]string
	Previous string
}

func parseTemplate(name, src string) (*template.Template, error) {
	if src == "" {
		return nil, nil
	}
	t, err := template.New(name).Parse(src)
	if err != nil {
		return nil, fmt.Errorf("invalid template: %w", err)
	}
	return t, nil
}

func render(t *template.Template, in *Input) (string, error) {
	if t == nil {
		return "", nil
	}
	var sb strings.Builder
	data := templateData{
		Task:     in.Task,
		Vertex:   in.VertexID,
		Params:   in.Params,
		Results:  in.Results,
		Previous: in.Previous(),
	}
	if err := t.Execute(&sb, data); err != nil {
		return "", fmt.Errorf("failed to render %s: %w", t.Name(), err)
	}
	return sb.String(), nil
}

// RoleAction runs role with the rendered prompt as new input. An empty
// prompt lets the role work from what it has already received.
func RoleAction(role *agent.Role, prompt *template.Template) Action {
	return func(ctx context.Context, in *Input) (string, error) {
		text, err := render(prompt, in)
		if err != nil {
			return "", err
		}
		return role.Run(ctx, strings.TrimSpace(text))
	}
}

// LLMAction asks the provider directly, without tools.
func LLMAction(provider llm.Provider, model string, system, prompt *template.Template) Action {
	return func(ctx context.Context, in *Input) (string, error) {
		sys, err := render(system, in)
		if err != nil {
			return "", err
		}
		user, err := render(prompt, in)
		if err != nil {
			return "", err
		}

		var msgs []llm.Message
		if sys != "" {
			msgs = append(msgs, llm.Message{Role: llm.RoleSystem, Content: sys})
		}
		msgs = append(msgs, llm.Message{Role: llm.RoleUser, Content: user})

		resp, err := provider.Chat(ctx, llm.ChatRequest{Messages: msgs, Model: model})
		if err != nil {
			return "", fmt.Errorf("LLM call failed: %w", err)
		}
		if resp.FinishReason == llm.FinishReasonError || len(resp.ToolCalls) > 0 {
			return "", fmt.Errorf("%w: finish reason %q", agent.ErrUnexpectedLLMReply, resp.FinishReason)
		}
		return strings.TrimSpace(resp.Content), nil
	}
}

// TemplateAction renders prompt and returns it.
func TemplateAction(prompt *template.Template) Action {
	return func(_ context.Context, in *Input) (string, error) {
		return render(prompt, in)
	}
}
