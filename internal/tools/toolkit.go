package tools

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/aatumaykin/nexbeat/internal/llm"
	"github.com/aatumaykin/nexbeat/internal/logger"
)

// DefaultTimeout bounds a single tool call when the Toolkit has no timeout.
const DefaultTimeout = 30 * time.Second

var (
	// ErrEmptyName is returned when registering a nameless tool.
	ErrEmptyName = errors.New("tool name cannot be empty")
	// ErrNilInvoke is returned when registering a tool without a body.
	ErrNilInvoke = errors.New("tool has no invoke function")
)

// Sanitizer filters output of external tools before the model sees it.
type Sanitizer interface {
	SanitizeToolOutput(output string) string
}

// Toolkit is an ordered set of tools keyed by name. It is safe for
// concurrent use.
type Toolkit struct {
	mu        sync.RWMutex
	order     []string
	tools     map[string]Descriptor
	timeout   time.Duration
	sanitizer Sanitizer
	logger    *logger.Logger
}

// ToolkitOption configures a Toolkit.
type ToolkitOption func(*Toolkit)

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ToolkitOption {
	return func(tk *Toolkit) {
		if d > 0 {
			tk.timeout = d
		}
	}
}

// WithSanitizer filters output of tools marked External.
func WithSanitizer(s Sanitizer) ToolkitOption {
	return func(tk *Toolkit) { tk.sanitizer = s }
}

// WithLogger sets the logger.
func WithLogger(l *logger.Logger) ToolkitOption {
	return func(tk *Toolkit) { tk.logger = l.Component("tools") }
}

// NewToolkit creates an empty Toolkit.
func NewToolkit(opts ...ToolkitOption) *Toolkit {
	tk := &Toolkit{
		tools:   make(map[string]Descriptor),
		timeout: DefaultTimeout,
		logger:  logger.Discard(),
	}
	for _, opt := range opts {
		opt(tk)
	}
	return tk
}

// Add registers d. A tool with the same name is replaced in place.
func (tk *Toolkit) Add(d Descriptor) error {
	if d.Name == "" {
		return ErrEmptyName
	}
	if d.Invoke == nil {
		return fmt.Errorf("%w: %s", ErrNilInvoke, d.Name)
	}

	tk.mu.Lock()
	defer tk.mu.Unlock()
	if _, ok := tk.tools[d.Name]; !ok {
		tk.order = append(tk.order, d.Name)
	}
	tk.tools[d.Name] = d
	return nil
}

// AddBatch registers every descriptor, stopping at the first invalid one.
func (tk *Toolkit) AddBatch(ds ...Descriptor) error {
	for _, d := range ds {
		if err := tk.Add(d); err != nil {
			return err
		}
	}
	return nil
}

// Remove drops the named tools. Unknown names are ignored.
func (tk *Toolkit) Remove(names ...string) {
	tk.mu.Lock()
	defer tk.mu.Unlock()
	for _, n := range names {
		delete(tk.tools, n)
	}
	tk.order = slices.DeleteFunc(tk.order, func(n string) bool {
		_, ok := tk.tools[n]
		return !ok
	})
}

// IntersectWith keeps only the named tools, preserving the current order.
func (tk *Toolkit) IntersectWith(names ...string) {
	keep := make(map[string]bool, len(names))
	for _, n := range names {
		keep[n] = true
	}

	tk.mu.Lock()
	defer tk.mu.Unlock()
	for n := range tk.tools {
		if !keep[n] {
			delete(tk.tools, n)
		}
	}
	tk.order = slices.DeleteFunc(tk.order, func(n string) bool { return !keep[n] })
}

// Clone returns an independent copy sharing the options.
func (tk *Toolkit) Clone() *Toolkit {
	tk.mu.RLock()
	defer tk.mu.RUnlock()
	out := &Toolkit{
		order:     slices.Clone(tk.order),
		tools:     make(map[string]Descriptor, len(tk.tools)),
		timeout:   tk.timeout,
		sanitizer: tk.sanitizer,
		logger:    tk.logger,
	}
	for k, v := range tk.tools {
		out.tools[k] = v
	}
	return out
}

// Get looks a tool up by name.
func (tk *Toolkit) Get(name string) (Descriptor, bool) {
	tk.mu.RLock()
	defer tk.mu.RUnlock()
	d, ok := tk.tools[name]
	return d, ok
}

// Names returns tool names in insertion order.
func (tk *Toolkit) Names() []string {
	tk.mu.RLock()
	defer tk.mu.RUnlock()
	return slices.Clone(tk.order)
}

// Len returns the number of tools.
func (tk *Toolkit) Len() int {
	tk.mu.RLock()
	defer tk.mu.RUnlock()
	return len(tk.order)
}

// Schemas converts the tools to function definitions in insertion order.
func (tk *Toolkit) Schemas() []llm.ToolDefinition {
	tk.mu.RLock()
	defer tk.mu.RUnlock()

	out := make([]llm.ToolDefinition, 0, len(tk.order))
	for _, n := range tk.order {
		d := tk.tools[n]
		params := d.Params
		if params == nil {
			params = objectSchema(map[string]any{})
		}
		out = append(out, llm.ToolDefinition{
			Name:        d.Name,
			Description: d.Description,
			Parameters:  params,
		})
	}
	return out
}

// Execute runs the named tool with a timeout. It never returns an error:
// unknown tools, timeouts, cancellation and panics all become Fail results.
func (tk *Toolkit) Execute(ctx context.Context, name, args string) Result {
	d, ok := tk.Get(name)
	if !ok {
		return Fail(NewNotFoundError(CodeNotFound,
			fmt.Sprintf("tool not found: %s", name),
			fmt.Sprintf("available tools: %v", tk.Names())))
	}

	execCtx, cancel := context.WithTimeout(ctx, tk.timeout)
	defer cancel()

	resultChan := make(chan Result, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				tk.logger.Error("tool panicked", nil,
					logger.Field{Key: "tool", Value: name},
					logger.Field{Key: "panic", Value: r},
					logger.Field{Key: "stack", Value: string(debug.Stack())})
				resultChan <- Fail(&ToolError{Code: CodeCrash, Message: fmt.Sprintf("tool %s panicked: %v", name, r)})
			}
		}()
		resultChan <- d.Invoke(execCtx, args)
	}()

	var res Result
	select {
	case res = <-resultChan:
	case <-execCtx.Done():
	}
	// A body that returns only because its context ended did not finish.
	if err := execCtx.Err(); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			res = Fail(NewTimeoutError(
				fmt.Sprintf("tool execution timed out after %v", tk.timeout),
				map[string]any{"tool": name}))
		} else {
			res = Fail(&ToolError{Code: CodeCancelled, Message: fmt.Sprintf("tool execution cancelled: %v", err)})
		}
	}

	if !res.OK() {
		tk.logger.WarnCtx(ctx, "tool failed", append(res.Err.LogFields(), logger.Field{Key: "tool", Value: name})...)
		return res
	}
	if d.External && tk.sanitizer != nil {
		res.Data = tk.sanitizer.SanitizeToolOutput(res.Data)
	}
	return res
}
