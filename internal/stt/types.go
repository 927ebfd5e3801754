package stt

// TranscriptionResult represents one recognition result
type TranscriptionResult struct {
	// Text is the transcribed text
	Text string

	// IsFinal indicates if this is a final transcription (true) or interim (false)
	IsFinal bool

	// Confidence is the confidence score (0.0 to 1.0) if available
	Confidence float64

	// StartTime is the start time of the utterance in seconds
	StartTime float64

	// Duration is the duration of the utterance in seconds
	Duration float64
}

// SpeechToText is a streaming speech recognizer fed with 16 kHz mono PCM16
type SpeechToText interface {
	// Start begins a new transcription stream
	Start() error

	// SendAudio sends one PCM16 chunk
	SendAudio(pcm []byte) error

	// Transcriptions delivers results as they arrive. The channel is never closed;
	// consumers stop reading on their own signal.
	Transcriptions() <-chan *TranscriptionResult

	// Stop flushes and ends the current stream. The recognizer may be started again.
	Stop() error

	// Close ends the stream and releases the recognizer for good
	Close() error
}
