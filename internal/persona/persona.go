package persona

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ID identifies a persona. Character IDs double as hub IDs.
type ID string

const (
	Hub        ID = "hub"
	Sonia      ID = "sonia"
	Pep        ID = "pep"
	SisterMary ID = "sister-mary"
	FiNancy    ID = "fi-nancy"
	Jake       ID = "jake"
	Bea        ID = "bea"
)

// DefaultVoice is used for personas without an explicit voice mapping
const DefaultVoice = "Zephyr"

const voiceSuffix = `. You are in a voice conversation. Be concise. If the user says "go back" or "return to lounge", call the closeHub function.`

// Persona is the configuration a voice session is parameterized with
type Persona struct {
	ID            ID       `yaml:"id"`
	Name          string   `yaml:"name"`
	Title         string   `yaml:"title,omitempty"`
	Voice         string   `yaml:"voice,omitempty"`
	BasePrompt    string   `yaml:"base_prompt,omitempty"`
	Instructions  string   `yaml:"instructions,omitempty"`
	IntroDialogue string   `yaml:"intro_dialogue,omitempty"`
	Tools         []string `yaml:"tools,omitempty"`
	Transcription bool     `yaml:"transcription,omitempty"`
	Starters      []string `yaml:"conversation_starters,omitempty"`
}

// SystemInstruction returns the instruction text sent when a session opens.
// Explicit instructions win over the base prompt.
func (p Persona) SystemInstruction() string {
	if p.Instructions != "" {
		return p.Instructions
	}
	return p.BasePrompt + voiceSuffix
}

// IsCharacter reports whether the persona owns a hub that openHub can target
func (p Persona) IsCharacter() bool {
	return p.ID != Hub
}

// Catalog is an ordered set of personas
type Catalog struct {
	order []ID
	byID  map[ID]Persona
}

// NewCatalog builds a catalog preserving the given order
func NewCatalog(personas ...Persona) (*Catalog, error) {
	c := &Catalog{byID: make(map[ID]Persona, len(personas))}
	for _, p := range personas {
		if err := c.put(p); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (c *Catalog) put(p Persona) error {
	if p.ID == "" {
		return fmt.Errorf("persona id is required")
	}
	if p.Name == "" {
		return fmt.Errorf("persona %q: name is required", p.ID)
	}
	if _, exists := c.byID[p.ID]; !exists {
		c.order = append(c.order, p.ID)
	}
	c.byID[p.ID] = p
	return nil
}

// Get returns the persona with the given ID
func (c *Catalog) Get(id ID) (Persona, bool) {
	p, ok := c.byID[id]
	return p, ok
}

// Lookup finds a character by spoken name, e.g. "Sister Mary" or "financy"
func (c *Catalog) Lookup(name string) (Persona, bool) {
	key := Normalize(name)
	if key == "" {
		return Persona{}, false
	}
	for _, id := range c.order {
		p := c.byID[id]
		if !p.IsCharacter() {
			continue
		}
		if Normalize(string(p.ID)) == key || Normalize(p.Name) == key {
			return p, true
		}
	}
	return Persona{}, false
}

// Characters returns every persona except the global hub assistant, in catalog order
func (c *Catalog) Characters() []Persona {
	out := make([]Persona, 0, len(c.order))
	for _, id := range c.order {
		if p := c.byID[id]; p.IsCharacter() {
			out = append(out, p)
		}
	}
	return out
}

// All returns every persona in catalog order
func (c *Catalog) All() []Persona {
	out := make([]Persona, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// Normalize lowercases a name and strips whitespace and dashes
func Normalize(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if r == '-' || r == ' ' || r == '\t' || r == '\n' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

type file struct {
	Personas []Persona `yaml:"personas"`
}

// LoadFile reads persona overrides from a YAML file and merges them onto the defaults.
// Fields left empty in the file keep their default values.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file: %w", err)
	}
	return Parse(data)
}

// Parse merges YAML persona overrides onto the defaults
func Parse(data []byte) (*Catalog, error) {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse persona file: %w", err)
	}

	c := Default()
	for _, override := range f.Personas {
		base, ok := c.Get(override.ID)
		if !ok {
			if override.Voice == "" && override.ID != Hub {
				override.Voice = DefaultVoice
			}
			if err := c.put(override); err != nil {
				return nil, err
			}
			continue
		}
		if err := c.put(merge(base, override)); err != nil {
			return nil, err
		}
	}
	return c, nil
}

func merge(base, o Persona) Persona {
	if o.Name != "" {
		base.Name = o.Name
	}
	if o.Title != "" {
		base.Title = o.Title
	}
	if o.Voice != "" {
		base.Voice = o.Voice
	}
	if o.BasePrompt != "" {
		base.BasePrompt = o.BasePrompt
	}
	if o.Instructions != "" {
		base.Instructions = o.Instructions
	}
	if o.IntroDialogue != "" {
		base.IntroDialogue = o.IntroDialogue
	}
	if len(o.Tools) > 0 {
		base.Tools = o.Tools
	}
	if o.Transcription {
		base.Transcription = true
	}
	if len(o.Starters) > 0 {
		base.Starters = o.Starters
	}
	return base
}
