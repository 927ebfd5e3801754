package live

import (
	"context"
	"fmt"

	"google.golang.org/genai"
)

// ToolHandler runs a tool call. An empty result is reported as "ok".
type ToolHandler func(ctx context.Context, args map[string]any) (string, error)

// Tool is a declared function and its local handler
type Tool struct {
	Declaration *genai.FunctionDeclaration
	Handler     ToolHandler

	// EndsSession stops the session once the call's response has been sent
	EndsSession bool
}

// Tool call outcomes
const (
	OutcomeOK      = "ok"
	OutcomeUnknown = "unknown"
	OutcomeError   = "error"
)

// ToolResult is the outcome of dispatching one call
type ToolResult struct {
	Result      string
	Outcome     string
	EndsSession bool
}

// ToolRegistry maps function names to handlers, preserving registration order
type ToolRegistry struct {
	order []string
	tools map[string]Tool
}

// NewToolRegistry creates an empty registry
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{tools: make(map[string]Tool)}
}

// Register adds a tool. Names must be unique.
func (r *ToolRegistry) Register(t Tool) error {
	if t.Declaration == nil || t.Declaration.Name == "" {
		return fmt.Errorf("tool declaration with a name is required")
	}
	name := t.Declaration.Name
	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %q already registered", name)
	}
	r.order = append(r.order, name)
	r.tools[name] = t
	return nil
}

// Declarations returns the function declarations in registration order
func (r *ToolRegistry) Declarations() []*genai.FunctionDeclaration {
	if r == nil {
		return nil
	}
	out := make([]*genai.FunctionDeclaration, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.tools[name].Declaration)
	}
	return out
}

// Names returns the registered function names in order
func (r *ToolRegistry) Names() []string {
	if r == nil {
		return nil
	}
	return append([]string(nil), r.order...)
}

// Dispatch runs the handler for call. It never fails: unknown names and handler
// errors are reported through the result string.
func (r *ToolRegistry) Dispatch(ctx context.Context, call *genai.FunctionCall) ToolResult {
	var t Tool
	ok := false
	if r != nil {
		t, ok = r.tools[call.Name]
	}
	if !ok || t.Handler == nil {
		return ToolResult{
			Result:  fmt.Sprintf("Unknown function: %s", call.Name),
			Outcome: OutcomeUnknown,
		}
	}

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}

	result, err := t.Handler(ctx, args)
	if err != nil {
		return ToolResult{
			Result:  "Error: " + err.Error(),
			Outcome: OutcomeError,
		}
	}
	if result == "" {
		result = "ok"
	}
	return ToolResult{Result: result, Outcome: OutcomeOK, EndsSession: t.EndsSession}
}

// StringArg returns a string argument, or "" when missing or not a string
func StringArg(args map[string]any, name string) string {
	s, _ := args[name].(string)
	return s
}
