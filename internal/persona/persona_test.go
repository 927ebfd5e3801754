package persona

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefault_Voices(t *testing.T) {
	c := Default()

	tests := []struct {
		id    ID
		voice string
	}{
		{Sonia, "Zephyr"},
		{SisterMary, "Zephyr"},
		{Pep, "Kore"},
		{FiNancy, "Puck"},
		{Jake, "Charon"},
		{Bea, "Luna"},
		{Hub, ""},
	}

	for _, tt := range tests {
		p, ok := c.Get(tt.id)
		if !ok {
			t.Fatalf("Expected persona %q in default catalog", tt.id)
		}
		if p.Voice != tt.voice {
			t.Errorf("Persona %q: expected voice %q, got %q", tt.id, tt.voice, p.Voice)
		}
	}

	if len(c.Characters()) != 6 {
		t.Errorf("Expected 6 characters, got %d", len(c.Characters()))
	}
}

func TestLookup(t *testing.T) {
	c := Default()

	tests := []struct {
		name     string
		expected ID
		found    bool
	}{
		{"Sonia", Sonia, true},
		{"sister mary", SisterMary, true},
		{"Sister-Mary", SisterMary, true},
		{"Fi-Nancy", FiNancy, true},
		{"financy", FiNancy, true},
		{"BEA", Bea, true},
		{"Sister Mary Samuel", SisterMary, true},
		{"hub", "", false},
		{"Gandalf", "", false},
		{"", "", false},
	}

	for _, tt := range tests {
		p, ok := c.Lookup(tt.name)
		if ok != tt.found {
			t.Errorf("Lookup(%q): expected found=%v, got %v", tt.name, tt.found, ok)
			continue
		}
		if ok && p.ID != tt.expected {
			t.Errorf("Lookup(%q): expected %q, got %q", tt.name, tt.expected, p.ID)
		}
	}
}

func TestSystemInstruction(t *testing.T) {
	c := Default()

	sonia, _ := c.Get(Sonia)
	got := sonia.SystemInstruction()
	if !strings.HasPrefix(got, sonia.BasePrompt+". You are in a voice conversation.") {
		t.Errorf("Unexpected character instruction: %q", got)
	}
	if !strings.Contains(got, "call the closeHub function") {
		t.Error("Expected character instruction to mention closeHub")
	}

	hub, _ := c.Get(Hub)
	if !strings.Contains(hub.SystemInstruction(), `productivity app called "The Hub"`) {
		t.Errorf("Unexpected hub instruction: %q", hub.SystemInstruction())
	}
	if len(hub.Tools) != 7 {
		t.Errorf("Expected hub to declare 7 tools, got %d", len(hub.Tools))
	}
}

func TestParse_MergesOverrides(t *testing.T) {
	data := []byte(`
personas:
  - id: pep
    voice: Fenrir
  - id: coach
    name: Coach
    base_prompt: You are Coach
    tools: [closeHub]
`)

	c, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	pep, _ := c.Get(Pep)
	if pep.Voice != "Fenrir" {
		t.Errorf("Expected overridden voice Fenrir, got %q", pep.Voice)
	}
	if pep.Name != "Pep" || pep.BasePrompt == "" {
		t.Error("Expected unspecified fields to keep defaults")
	}

	coach, ok := c.Lookup("coach")
	if !ok {
		t.Fatal("Expected new persona to be added")
	}
	if coach.Voice != DefaultVoice {
		t.Errorf("Expected default voice for new persona, got %q", coach.Voice)
	}

	all := c.All()
	if all[len(all)-1].ID != "coach" {
		t.Errorf("Expected new persona appended last, got %q", all[len(all)-1].ID)
	}
}

func TestParse_Invalid(t *testing.T) {
	if _, err := Parse([]byte("personas: [")); err == nil {
		t.Error("Expected YAML syntax error")
	}
	if _, err := Parse([]byte("personas:\n  - id: ghost\n")); err == nil {
		t.Error("Expected error for persona without a name")
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "personas.yaml")
	if err := os.WriteFile(path, []byte("personas:\n  - id: jake\n    title: Studio Mate\n"), 0o644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	c, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	jake, _ := c.Get(Jake)
	if jake.Title != "Studio Mate" {
		t.Errorf("Expected title override, got %q", jake.Title)
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Expected error for missing file")
	}
}
