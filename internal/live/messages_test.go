package live

import (
	"errors"
	"testing"

	"github.com/lexiqai/lounge-voice/internal/persona"
)

func TestDecodeServerMessage(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr bool
	}{
		{"tool call", `{"toolCall":{"functionCalls":[{"id":"1","name":"sparkJoy"}]}}`, false},
		{"content", `{"serverContent":{"turnComplete":true}}`, false},
		{"setup complete", `{"setupComplete":{}}`, false},
		{"invalid json", `{"toolCall":`, true},
		{"array", `[1,2,3]`, true},
		{"unknown fields only", `{"usageMetadata":{"totalTokenCount":4}}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeServerMessage([]byte(tt.data))
			if tt.wantErr {
				var protoErr *ProtocolError
				if !errors.As(err, &protoErr) {
					t.Fatalf("Expected ProtocolError, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if msg == nil {
				t.Fatal("Expected message")
			}
		})
	}
}

func TestServerContent_AudioPayloads(t *testing.T) {
	msg, err := DecodeServerMessage([]byte(`{"serverContent":{"modelTurn":{"parts":[
		{"text":"thinking"},
		{"inlineData":{"data":"AAAA","mimeType":"audio/pcm;rate=24000"}},
		{"inlineData":{"data":""}},
		{"inlineData":{"data":"AQID"}}
	]}}}`))
	if err != nil {
		t.Fatalf("DecodeServerMessage failed: %v", err)
	}

	got := msg.ServerContent.AudioPayloads()
	if len(got) != 2 || got[0] != "AAAA" || got[1] != "AQID" {
		t.Errorf("Unexpected payloads: %v", got)
	}

	var nilContent *ServerContent
	if nilContent.AudioPayloads() != nil {
		t.Error("Expected nil payloads for nil content")
	}
}

func TestNewSetupMessage_HubPersona(t *testing.T) {
	hub := persona.Persona{ID: persona.Hub, Name: "The Hub", Instructions: "Manage tasks."}

	msg := NewSetupMessage(hub, nil)
	if msg.Config == nil {
		t.Fatal("Expected config message")
	}
	if msg.Config.SystemInstruction != "Manage tasks." {
		t.Errorf("Unexpected instruction %q", msg.Config.SystemInstruction)
	}
	if msg.Config.SpeechConfig != nil {
		t.Error("Expected no speech config without a voice")
	}
	if msg.Config.InputAudioTranscription != nil || msg.Config.OutputAudioTranscription != nil {
		t.Error("Expected no transcription config")
	}
	if msg.Config.Tools != nil {
		t.Error("Expected no tools without declarations")
	}
	if msg.ClientContent != nil || msg.FunctionResponses != nil {
		t.Error("Expected only the config field to be set")
	}
}

func TestTurn_Complete(t *testing.T) {
	var tr turn
	tr.addInput("Hel")
	tr.addInput("lo")
	tr.addOutput("Hi")
	tr.addOutput(" there")

	entries := tr.complete()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	if entries[0].Speaker != SpeakerUser || entries[0].Text != "Hello" {
		t.Errorf("Unexpected user entry %+v", entries[0])
	}
	if entries[1].Speaker != SpeakerAssistant || entries[1].Text != "Hi there" {
		t.Errorf("Unexpected assistant entry %+v", entries[1])
	}

	if in, out := tr.pending(); in != "" || out != "" {
		t.Errorf("Expected accumulators cleared, got %q / %q", in, out)
	}
}
