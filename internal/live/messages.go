package live

import (
	"encoding/json"

	"github.com/lexiqai/lounge-voice/internal/audio"
	"github.com/lexiqai/lounge-voice/internal/persona"
	"google.golang.org/genai"
)

// ClientMessage is the envelope for everything the client sends.
// Exactly one field is set per message.
type ClientMessage struct {
	Config            *SetupConfig            `json:"config,omitempty"`
	ClientContent     *ClientContent          `json:"clientContent,omitempty"`
	FunctionResponses *genai.FunctionResponse `json:"functionResponses,omitempty"`
}

// SetupConfig is sent once, immediately after the transport opens
type SetupConfig struct {
	ResponseModalities       []genai.Modality                `json:"responseModalities"`
	Tools                    []*genai.Tool                   `json:"tools,omitempty"`
	SystemInstruction        string                          `json:"systemInstruction,omitempty"`
	SpeechConfig             *genai.SpeechConfig             `json:"speechConfig,omitempty"`
	OutputAudioTranscription *genai.AudioTranscriptionConfig `json:"outputAudioTranscription,omitempty"`
	InputAudioTranscription  *genai.AudioTranscriptionConfig `json:"inputAudioTranscription,omitempty"`
}

// ClientContent carries one captured audio frame
type ClientContent struct {
	Media *Media `json:"media"`
}

// Media is a base64 payload with its mime type
type Media struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

// NewSetupMessage builds the configuration message for a persona
func NewSetupMessage(p persona.Persona, decls []*genai.FunctionDeclaration) ClientMessage {
	cfg := &SetupConfig{
		ResponseModalities: []genai.Modality{genai.ModalityAudio},
		SystemInstruction:  p.SystemInstruction(),
	}
	if len(decls) > 0 {
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}
	}
	if p.Voice != "" {
		cfg.SpeechConfig = &genai.SpeechConfig{
			VoiceConfig: &genai.VoiceConfig{
				PrebuiltVoiceConfig: &genai.PrebuiltVoiceConfig{VoiceName: p.Voice},
			},
		}
	}
	if p.Transcription {
		cfg.OutputAudioTranscription = &genai.AudioTranscriptionConfig{}
		cfg.InputAudioTranscription = &genai.AudioTranscriptionConfig{}
	}
	return ClientMessage{Config: cfg}
}

// NewMediaMessage wraps a captured frame
func NewMediaMessage(f audio.AudioFrame) ClientMessage {
	return ClientMessage{
		ClientContent: &ClientContent{
			Media: &Media{Data: f.Base64(), MimeType: f.MimeType()},
		},
	}
}

// NewToolResponseMessage answers one function call
func NewToolResponseMessage(id, name, result string) ClientMessage {
	return ClientMessage{
		FunctionResponses: &genai.FunctionResponse{
			ID:       id,
			Name:     name,
			Response: map[string]any{"result": result},
		},
	}
}

// ServerMessage is the envelope for everything the remote service sends
type ServerMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ToolCall      *ToolCall        `json:"toolCall,omitempty"`
	ServerContent *ServerContent   `json:"serverContent,omitempty"`
}

// ToolCall asks the client to run one or more functions
type ToolCall struct {
	FunctionCalls []*genai.FunctionCall `json:"functionCalls"`
}

// ServerContent carries transcription fragments, model audio and turn boundaries
type ServerContent struct {
	InputTranscription  *Transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *Transcription `json:"outputTranscription,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	ModelTurn           *ModelTurn     `json:"modelTurn,omitempty"`
}

// Transcription is a text fragment of the current turn
type Transcription struct {
	Text string `json:"text"`
}

// ModelTurn holds the parts of a model response
type ModelTurn struct {
	Parts []Part `json:"parts"`
}

// Part is one piece of model output
type Part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *InlineData `json:"inlineData,omitempty"`
}

// InlineData is base64-encoded audio
type InlineData struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType,omitempty"`
}

// AudioPayloads returns the inline audio parts in order
func (c *ServerContent) AudioPayloads() []string {
	if c == nil || c.ModelTurn == nil {
		return nil
	}
	var out []string
	for _, p := range c.ModelTurn.Parts {
		if p.InlineData != nil && p.InlineData.Data != "" {
			out = append(out, p.InlineData.Data)
		}
	}
	return out
}

// EncodeClientMessage serializes msg for the wire
func EncodeClientMessage(msg ClientMessage) ([]byte, error) {
	return json.Marshal(msg)
}

// DecodeServerMessage parses a server envelope. Messages that are not JSON
// objects or carry none of the known fields yield a ProtocolError.
func DecodeServerMessage(data []byte) (*ServerMessage, error) {
	var msg ServerMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, &ProtocolError{Reason: "invalid json", Err: err}
	}
	if msg.SetupComplete == nil && msg.ToolCall == nil && msg.ServerContent == nil {
		return nil, &ProtocolError{Reason: "unrecognized message"}
	}
	return &msg, nil
}
