package live

import "strings"

// Speaker tags a transcript entry
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// TranscriptEntry is one logged utterance
type TranscriptEntry struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
}

// turn accumulates transcription fragments until the remote signals turn completion
type turn struct {
	input  strings.Builder
	output strings.Builder
}

func (t *turn) addInput(s string)  { t.input.WriteString(s) }
func (t *turn) addOutput(s string) { t.output.WriteString(s) }

// complete returns the user and assistant entries for the turn and resets both
// accumulators. Empty accumulators still produce entries.
func (t *turn) complete() []TranscriptEntry {
	entries := []TranscriptEntry{
		{Speaker: SpeakerUser, Text: t.input.String()},
		{Speaker: SpeakerAssistant, Text: t.output.String()},
	}
	t.input.Reset()
	t.output.Reset()
	return entries
}

func (t *turn) pending() (string, string) {
	return t.input.String(), t.output.String()
}
