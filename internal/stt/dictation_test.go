package stt

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/lexiqai/lounge-voice/internal/appstate"
	"github.com/lexiqai/lounge-voice/internal/audio"
	"github.com/lexiqai/lounge-voice/internal/audio/audiotest"
)

type fakeRecognizer struct {
	mu       sync.Mutex
	startErr error
	starts   int
	stops    int
	chunks   [][]byte
	results  chan *TranscriptionResult
}

func newFakeRecognizer() *fakeRecognizer {
	return &fakeRecognizer{results: make(chan *TranscriptionResult, 16)}
}

func (f *fakeRecognizer) Start() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts++
	return nil
}

func (f *fakeRecognizer) SendAudio(pcm []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.chunks = append(f.chunks, pcm)
	return nil
}

func (f *fakeRecognizer) Transcriptions() <-chan *TranscriptionResult { return f.results }

func (f *fakeRecognizer) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	return nil
}

func (f *fakeRecognizer) Close() error { return f.Stop() }

func (f *fakeRecognizer) chunkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func newTestDictation(rec SpeechToText, mic audio.MicrophoneSource) (*Dictation, *appstate.Store) {
	store := appstate.NewStore(nil)
	d := NewDictation(rec, mic, store)
	d.flushWait = 20 * time.Millisecond
	return d, store
}

func TestDictation_CapturesRecognizedText(t *testing.T) {
	rec := newFakeRecognizer()
	mic := audiotest.NewMicrophone(make([]float32, audio.FrameSize))
	d, store := newTestDictation(rec, mic)

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := d.Start(context.Background()); !errors.Is(err, ErrDictationActive) {
		t.Errorf("Expected ErrDictationActive, got %v", err)
	}

	waitFor(t, "audio streamed", func() bool { return rec.chunkCount() == 1 })

	rec.results <- &TranscriptionResult{Text: "buy", IsFinal: false}
	waitFor(t, "interim text", func() bool { return d.Text() == "buy" })

	rec.results <- &TranscriptionResult{Text: "buy oat milk", IsFinal: true}
	rec.results <- &TranscriptionResult{Text: "and", IsFinal: false}
	waitFor(t, "final plus interim", func() bool { return d.Text() == "buy oat milk and" })

	rec.results <- &TranscriptionResult{Text: "and bread", IsFinal: true}

	item, ok, err := d.Stop()
	if err != nil || !ok {
		t.Fatalf("Stop failed: ok=%v err=%v", ok, err)
	}
	if item.Text != "buy oat milk and bread" {
		t.Errorf("Unexpected captured text %q", item.Text)
	}

	inbox := store.Snapshot().Inbox
	if len(inbox) != 1 || inbox[0].ID != item.ID {
		t.Errorf("Expected item in inbox, got %+v", inbox)
	}
	if d.Active() {
		t.Error("Expected dictation stopped")
	}
	if rec.stops != 1 || mic.Closes() != 1 {
		t.Errorf("Expected recognizer and microphone closed, got %d/%d", rec.stops, mic.Closes())
	}
}

func TestDictation_NothingRecognized(t *testing.T) {
	rec := newFakeRecognizer()
	d, store := newTestDictation(rec, audiotest.NewMicrophone())

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	_, ok, err := d.Stop()
	if err != nil || ok {
		t.Errorf("Expected nothing captured, got ok=%v err=%v", ok, err)
	}
	if len(store.Snapshot().Inbox) != 0 {
		t.Error("Expected empty inbox")
	}

	if _, _, err := d.Stop(); !errors.Is(err, ErrDictationNotActive) {
		t.Errorf("Expected ErrDictationNotActive, got %v", err)
	}
}

func TestDictation_IgnoresLateResultsFromPreviousStream(t *testing.T) {
	rec := newFakeRecognizer()
	d, store := newTestDictation(rec, audiotest.NewMicrophone())

	// A final result that missed the previous dictation's flush window
	rec.results <- &TranscriptionResult{Text: "call the dentist", IsFinal: true}

	if err := d.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	rec.results <- &TranscriptionResult{Text: "water plants", IsFinal: true}
	waitFor(t, "new text", func() bool { return d.Text() == "water plants" })

	item, ok, err := d.Stop()
	if err != nil || !ok {
		t.Fatalf("Stop failed: ok=%v err=%v", ok, err)
	}
	if item.Text != "water plants" {
		t.Errorf("Expected only the new stream's text, got %q", item.Text)
	}
	if inbox := store.Snapshot().Inbox; len(inbox) != 1 {
		t.Errorf("Expected one inbox item, got %+v", inbox)
	}
}

func TestDictation_StartFailures(t *testing.T) {
	rec := newFakeRecognizer()
	rec.startErr = errors.New("circuit breaker is open")
	d, _ := newTestDictation(rec, audiotest.NewMicrophone())
	if err := d.Start(context.Background()); err == nil {
		t.Error("Expected recognizer start error")
	}

	rec = newFakeRecognizer()
	mic := audiotest.NewMicrophone()
	mic.OpenErr = errors.New("permission denied")
	d, _ = newTestDictation(rec, mic)
	err := d.Start(context.Background())
	if !errors.Is(err, audio.ErrCaptureUnavailable) {
		t.Errorf("Expected ErrCaptureUnavailable, got %v", err)
	}
	if rec.stops != 1 {
		t.Error("Expected recognizer stopped after capture failure")
	}
	if d.Active() {
		t.Error("Expected dictation inactive")
	}
}

func TestDictation_Restart(t *testing.T) {
	rec := newFakeRecognizer()
	d, store := newTestDictation(rec, audiotest.NewMicrophone())

	for _, phrase := range []string{"first idea", "second idea"} {
		if err := d.Start(context.Background()); err != nil {
			t.Fatalf("Start failed: %v", err)
		}
		rec.results <- &TranscriptionResult{Text: phrase, IsFinal: true}
		waitFor(t, phrase, func() bool { return d.Text() == phrase })
		if _, _, err := d.Stop(); err != nil {
			t.Fatalf("Stop failed: %v", err)
		}
	}

	inbox := store.Snapshot().Inbox
	if len(inbox) != 2 || inbox[1].Text != "second idea" {
		t.Errorf("Unexpected inbox %+v", inbox)
	}
}
