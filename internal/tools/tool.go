// Package tools holds the LLM-callable tool contract, the ordered Toolkit the
// agents execute tools through, and the built-in tools.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Result is the outcome of one tool invocation: either Success with a
// payload or Fail with a ToolError. Failures are ordinary results that the
// agent feeds back to the model.
type Result struct {
	Data string
	Err  *ToolError
}

// Success wraps a payload.
func Success(data string) Result {
	return Result{Data: data}
}

// Fail wraps a tool error.
func Fail(err *ToolError) Result {
	if err == nil {
		err = NewExecutionError("tool failed", "")
	}
	return Result{Err: err}
}

// OK reports whether the invocation succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Content renders the result for the model.
func (r Result) Content() string {
	if r.Err != nil {
		return r.Err.ToLLMContext()
	}
	return r.Data
}

// InvokeFunc runs a tool with JSON-encoded arguments.
type InvokeFunc func(ctx context.Context, args string) Result

// Descriptor is a tool value registered into a Toolkit.
type Descriptor struct {
	Name        string
	Description string

	// Params is a JSON Schema object describing the arguments.
	Params map[string]any

	Invoke InvokeFunc

	// External marks tools whose output comes from untrusted sources.
	// A Toolkit with a sanitizer filters their output.
	External bool
}

// Tool is implemented by stateful tools with their own types.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]any
	Execute(ctx context.Context, args string) (string, error)
}

// FromTool adapts a Tool into a Descriptor. A returned *ToolError is kept
// as is; any other error becomes an execution failure.
func FromTool(t Tool) Descriptor {
	return Descriptor{
		Name:        t.Name(),
		Description: t.Description(),
		Params:      t.Parameters(),
		Invoke: func(ctx context.Context, args string) Result {
			out, err := t.Execute(ctx, args)
			if err != nil {
				var te *ToolError
				if errors.As(err, &te) {
					return Fail(te)
				}
				return Fail(NewExecutionError(err.Error(), ""))
			}
			return Success(out)
		},
	}
}

// parseJSON is a helper function to parse JSON arguments. Empty input
// decodes as an empty object.
func parseJSON(jsonStr string, v any) error {
	if strings.TrimSpace(jsonStr) == "" {
		jsonStr = "{}"
	}
	decoder := json.NewDecoder(strings.NewReader(jsonStr))
	decoder.DisallowUnknownFields()
	return decoder.Decode(v)
}

func objectSchema(props map[string]any, required ...string) map[string]any {
	if required == nil {
		required = []string{}
	}
	return map[string]any{
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}
