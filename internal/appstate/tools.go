package appstate

import (
	"context"
	"fmt"

	"github.com/lexiqai/lounge-voice/internal/live"
	"github.com/lexiqai/lounge-voice/internal/persona"
	"google.golang.org/genai"
)

// declare builds a declaration with the description repeated on the parameter schema
func declare(name, description string, props map[string]*genai.Schema, required ...string) *genai.FunctionDeclaration {
	if props == nil {
		props = map[string]*genai.Schema{}
	}
	return &genai.FunctionDeclaration{
		Name:        name,
		Description: description,
		Parameters: &genai.Schema{
			Type:        genai.TypeObject,
			Description: description,
			Properties:  props,
			Required:    required,
		},
	}
}

func stringProp(description string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: description}
}

// Declarations returns the function declarations of every app-state tool by name
func Declarations() map[string]*genai.FunctionDeclaration {
	return map[string]*genai.FunctionDeclaration{
		"capture": declare("capture",
			"Captures a thought, idea, or to-do item into the user's inbox.",
			map[string]*genai.Schema{
				"item": stringProp(`The content of the item to capture. For example, "buy milk" or "new idea for the marketing campaign".`),
			},
			"item",
		),
		"openHub": declare("openHub",
			`Opens the view for a specific character or "hub".`,
			map[string]*genai.Schema{
				"characterName": stringProp(`The name of the character hub to open. Can be "Sonia", "Pep", "Sister Mary", "Fi-Nancy", "Jake", or "Bea".`),
			},
			"characterName",
		),
		"closeHub": declare("closeHub",
			"Closes the current character hub view and returns to the main lounge screen.", nil),
		"addQuest": declare("addQuest",
			"Adds a new quest directly to the user's quest log.",
			map[string]*genai.Schema{
				"quest": stringProp(`The content of the quest to add. For example, "finish the project proposal".`),
			},
			"quest",
		),
		"sparkJoy": declare("sparkJoy",
			"Triggers a delightful, brief celebration animation.", nil),
		"toggleSanctuaryMode": declare("toggleSanctuaryMode",
			"Toggles Sanctuary Mode on or off to provide a calmer, monochrome interface.", nil),
		"startHuddle": declare("startHuddle",
			`Initiates a "Team Huddle" with Sonia and Sister Mary Samuel for a quick piece of strategic advice.`, nil),
	}
}

// ToolSet binds the app-state tools to a store and persona catalog
type ToolSet struct {
	store   *Store
	catalog *persona.Catalog
}

// NewToolSet creates a tool set over store
func NewToolSet(store *Store, catalog *persona.Catalog) *ToolSet {
	return &ToolSet{store: store, catalog: catalog}
}

func (ts *ToolSet) handler(name string) (live.ToolHandler, bool) {
	switch name {
	case "capture":
		return func(ctx context.Context, args map[string]any) (string, error) {
			_, err := ts.store.Capture(live.StringArg(args, "item"))
			return "", err
		}, true
	case "addQuest":
		return func(ctx context.Context, args map[string]any) (string, error) {
			_, err := ts.store.AddQuest(live.StringArg(args, "quest"))
			return "", err
		}, true
	case "openHub":
		return func(ctx context.Context, args map[string]any) (string, error) {
			name := live.StringArg(args, "characterName")
			p, ok := ts.catalog.Lookup(name)
			if !ok {
				return fmt.Sprintf("Unknown character: %s", name), nil
			}
			ts.store.OpenHub(p.ID)
			return "", nil
		}, true
	case "closeHub":
		return func(ctx context.Context, args map[string]any) (string, error) {
			ts.store.CloseHub()
			return "", nil
		}, true
	case "sparkJoy":
		return func(ctx context.Context, args map[string]any) (string, error) {
			ts.store.SparkJoy()
			return "", nil
		}, true
	case "toggleSanctuaryMode":
		return func(ctx context.Context, args map[string]any) (string, error) {
			ts.store.ToggleSanctuary()
			return "", nil
		}, true
	case "startHuddle":
		return func(ctx context.Context, args map[string]any) (string, error) {
			ts.store.StartHuddle()
			return "", nil
		}, true
	}
	return nil, false
}

// Registry builds the tool registry for a persona from the tools it declares.
// Inside a character hub, closeHub also ends the voice session.
func (ts *ToolSet) Registry(p persona.Persona) (*live.ToolRegistry, error) {
	decls := Declarations()
	reg := live.NewToolRegistry()
	for _, name := range p.Tools {
		decl, ok := decls[name]
		if !ok {
			return nil, fmt.Errorf("persona %q declares unknown tool %q", p.ID, name)
		}
		h, _ := ts.handler(name)
		err := reg.Register(live.Tool{
			Declaration: decl,
			Handler:     h,
			EndsSession: name == "closeHub" && p.IsCharacter(),
		})
		if err != nil {
			return nil, err
		}
	}
	return reg, nil
}
