package live

import (
	"context"
	"testing"

	"google.golang.org/genai"
)

func TestToolRegistry_Register(t *testing.T) {
	r := NewToolRegistry()

	names := []string{"capture", "openHub", "closeHub"}
	for _, n := range names {
		if err := r.Register(Tool{Declaration: &genai.FunctionDeclaration{Name: n}}); err != nil {
			t.Fatalf("Register(%s) failed: %v", n, err)
		}
	}

	if err := r.Register(Tool{Declaration: &genai.FunctionDeclaration{Name: "capture"}}); err == nil {
		t.Error("Expected duplicate registration to fail")
	}
	if err := r.Register(Tool{}); err == nil {
		t.Error("Expected registration without declaration to fail")
	}

	decls := r.Declarations()
	if len(decls) != len(names) {
		t.Fatalf("Expected %d declarations, got %d", len(names), len(decls))
	}
	for i, d := range decls {
		if d.Name != names[i] {
			t.Errorf("Declaration %d: expected %s, got %s", i, names[i], d.Name)
		}
	}
}

func TestToolRegistry_Dispatch(t *testing.T) {
	r := NewToolRegistry()
	r.Register(Tool{
		Declaration: &genai.FunctionDeclaration{Name: "addQuest"},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			if StringArg(args, "quest") == "" {
				return "missing quest", nil
			}
			return "", nil
		},
	})
	r.Register(Tool{Declaration: &genai.FunctionDeclaration{Name: "declaredOnly"}})

	tests := []struct {
		name    string
		call    *genai.FunctionCall
		result  string
		outcome string
	}{
		{"default ok", &genai.FunctionCall{Name: "addQuest", Args: map[string]any{"quest": "ship it"}}, "ok", OutcomeOK},
		{"nil args", &genai.FunctionCall{Name: "addQuest"}, "missing quest", OutcomeOK},
		{"unknown", &genai.FunctionCall{Name: "fly"}, "Unknown function: fly", OutcomeUnknown},
		{"no handler", &genai.FunctionCall{Name: "declaredOnly"}, "Unknown function: declaredOnly", OutcomeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Dispatch(context.Background(), tt.call)
			if got.Result != tt.result {
				t.Errorf("Expected result %q, got %q", tt.result, got.Result)
			}
			if got.Outcome != tt.outcome {
				t.Errorf("Expected outcome %s, got %s", tt.outcome, got.Outcome)
			}
		})
	}
}

func TestToolRegistry_NilDispatch(t *testing.T) {
	var r *ToolRegistry
	got := r.Dispatch(context.Background(), &genai.FunctionCall{Name: "capture"})
	if got.Result != "Unknown function: capture" {
		t.Errorf("Unexpected result %q", got.Result)
	}
	if r.Declarations() != nil || r.Names() != nil {
		t.Error("Expected nil registry to declare nothing")
	}
}
