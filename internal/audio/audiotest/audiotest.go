// Package audiotest provides in-memory microphone and speaker fakes.
package audiotest

import (
	"context"
	"sync"
	"time"

	"github.com/lexiqai/lounge-voice/internal/audio"
)

// Microphone replays fixed sample blocks
type Microphone struct {
	Rate    int
	Blocks  [][]float32
	OpenErr error

	mu     sync.Mutex
	opens  int
	closes int
	ch     chan []float32
}

// NewMicrophone returns a 16 kHz fake that delivers blocks on open
func NewMicrophone(blocks ...[]float32) *Microphone {
	return &Microphone{Rate: audio.CaptureSampleRate, Blocks: blocks}
}

// Open implements audio.MicrophoneSource
func (m *Microphone) Open(ctx context.Context) (<-chan []float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.OpenErr != nil {
		return nil, m.OpenErr
	}
	m.opens++
	m.ch = make(chan []float32, len(m.Blocks)+64)
	for _, b := range m.Blocks {
		m.ch <- b
	}
	return m.ch, nil
}

// Push delivers another block to the open stream
func (m *Microphone) Push(block []float32) {
	m.mu.Lock()
	ch := m.ch
	m.mu.Unlock()
	if ch != nil {
		ch <- block
	}
}

// SampleRate implements audio.MicrophoneSource
func (m *Microphone) SampleRate() int {
	if m.Rate == 0 {
		return audio.CaptureSampleRate
	}
	return m.Rate
}

// Close implements audio.MicrophoneSource
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closes++
	return nil
}

// Opens returns how many times the microphone was opened
func (m *Microphone) Opens() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.opens
}

// Closes returns how many times the microphone was released
func (m *Microphone) Closes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closes
}

// Play is one recorded call to Sink.Play
type Play struct {
	Buffer *audio.Buffer
	At     time.Duration

	done    func()
	stopped bool
}

// Sink records scheduled playback against a manually advanced clock
type Sink struct {
	mu      sync.Mutex
	now     time.Duration
	plays   []*Play
	PlayErr error
}

// NewSink returns a sink whose clock starts at zero
func NewSink() *Sink {
	return &Sink{}
}

// Now implements audio.AudioSink
func (s *Sink) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// SetNow moves the output clock
func (s *Sink) SetNow(d time.Duration) {
	s.mu.Lock()
	s.now = d
	s.mu.Unlock()
}

// Play implements audio.AudioSink
func (s *Sink) Play(buf *audio.Buffer, at time.Duration, done func()) (audio.Voice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.PlayErr != nil {
		return nil, s.PlayErr
	}
	p := &Play{Buffer: buf, At: at, done: done}
	s.plays = append(s.plays, p)
	return &voice{sink: s, play: p}, nil
}

// Plays returns a copy of the recorded calls
func (s *Sink) Plays() []Play {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Play, len(s.plays))
	for i, p := range s.plays {
		out[i] = *p
	}
	return out
}

// Finish completes the i-th scheduled buffer as if it played to the end
func (s *Sink) Finish(i int) {
	s.mu.Lock()
	p := s.plays[i]
	s.mu.Unlock()
	p.done()
}

// Stopped returns how many voices were stopped
func (s *Sink) Stopped() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, p := range s.plays {
		if p.stopped {
			n++
		}
	}
	return n
}

// Stopped reports whether this play was stopped
func (p Play) Stopped() bool {
	return p.stopped
}

type voice struct {
	sink *Sink
	play *Play
}

func (v *voice) Stop() {
	v.sink.mu.Lock()
	v.play.stopped = true
	v.sink.mu.Unlock()
}
