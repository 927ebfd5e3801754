package stt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lexiqai/lounge-voice/internal/appstate"
	"github.com/lexiqai/lounge-voice/internal/audio"
	"github.com/lexiqai/lounge-voice/internal/observability"
	"github.com/rs/zerolog"
)

var (
	ErrDictationActive    = errors.New("dictation already running")
	ErrDictationNotActive = errors.New("dictation is not running")
)

// Dictation streams microphone audio into a recognizer and captures the
// recognized text into the inbox when stopped.
type Dictation struct {
	recognizer SpeechToText
	mic        audio.MicrophoneSource
	store      *appstate.Store
	flushWait  time.Duration
	logger     zerolog.Logger

	mu        sync.Mutex
	active    bool
	stopping  bool
	capture   *audio.Capture
	finishing chan struct{}
	done      chan struct{}
	final     []string
	interim   string
}

// NewDictation wires a recognizer to a microphone and the app-state store
func NewDictation(recognizer SpeechToText, mic audio.MicrophoneSource, store *appstate.Store) *Dictation {
	return &Dictation{
		recognizer: recognizer,
		mic:        mic,
		store:      store,
		flushWait:  750 * time.Millisecond,
		logger:     observability.GetLogger().With().Str("component", "dictation").Logger(),
	}
}

// Start opens the microphone and the recognizer stream
func (d *Dictation) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return ErrDictationActive
	}

	d.discardStale()
	if err := d.recognizer.Start(); err != nil {
		return fmt.Errorf("start recognizer: %w", err)
	}

	capture, err := audio.StartCapture(context.WithoutCancel(ctx), d.mic)
	if err != nil {
		d.recognizer.Stop()
		return err
	}

	d.active = true
	d.capture = capture
	d.final = nil
	d.interim = ""
	d.finishing = make(chan struct{})
	d.done = make(chan struct{})

	go d.pump(capture.Frames(), d.finishing, d.done)

	d.logger.Info().Msg("Dictation started")
	return nil
}

// discardStale drops results a previous stream delivered after its flush window
func (d *Dictation) discardStale() {
	results := d.recognizer.Transcriptions()
	dropped := 0
	for {
		select {
		case _, ok := <-results:
			if ok {
				dropped++
				continue
			}
		default:
		}
		break
	}
	if dropped > 0 {
		d.logger.Debug().Int("results", dropped).Msg("Discarded late recognizer results")
	}
}

func (d *Dictation) pump(frames <-chan audio.AudioFrame, finishing <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	results := d.recognizer.Transcriptions()
	var flush <-chan time.Time

	for {
		select {
		case f, ok := <-frames:
			if !ok {
				frames = nil
				continue
			}
			if err := d.recognizer.SendAudio(f.PCM); err != nil {
				d.logger.Debug().Err(err).Uint64("seq", f.Seq).Msg("Dropped dictation frame")
			}

		case r := <-results:
			d.apply(r)

		case <-finishing:
			finishing = nil
			frames = nil
			flush = time.After(d.flushWait)

		case <-flush:
			return
		}
	}
}

func (d *Dictation) apply(r *TranscriptionResult) {
	if r == nil {
		return
	}
	text := strings.TrimSpace(r.Text)

	d.mu.Lock()
	defer d.mu.Unlock()
	if r.IsFinal {
		if text != "" {
			d.final = append(d.final, text)
		}
		d.interim = ""
		return
	}
	d.interim = text
}

// Text returns the recognized text so far: final results followed by the pending interim result
func (d *Dictation) Text() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.textLocked()
}

func (d *Dictation) textLocked() string {
	parts := d.final
	if d.interim != "" {
		parts = append(append([]string(nil), parts...), d.interim)
	}
	return strings.Join(parts, " ")
}

// Active reports whether dictation is running
func (d *Dictation) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

// Stop closes the microphone, waits for the recognizer to flush and captures the
// text into the inbox. The returned flag is false when nothing was recognized.
func (d *Dictation) Stop() (appstate.CapturedItem, bool, error) {
	d.mu.Lock()
	if !d.active || d.stopping {
		d.mu.Unlock()
		return appstate.CapturedItem{}, false, ErrDictationNotActive
	}
	d.stopping = true
	capture, finishing, done := d.capture, d.finishing, d.done
	d.mu.Unlock()

	capture.Close()
	if err := d.recognizer.Stop(); err != nil {
		d.logger.Warn().Err(err).Msg("Recognizer stop failed")
	}
	close(finishing)
	<-done

	d.mu.Lock()
	text := d.textLocked()
	d.active = false
	d.stopping = false
	d.capture = nil
	d.mu.Unlock()

	d.logger.Info().Int("chars", len(text)).Msg("Dictation stopped")
	if text == "" {
		return appstate.CapturedItem{}, false, nil
	}

	item, err := d.store.Capture(text)
	if err != nil {
		return appstate.CapturedItem{}, false, err
	}
	return item, true, nil
}
