package audio

import (
	"fmt"
	"sync"
	"time"
)

// Voice is one scheduled buffer on an output device
type Voice interface {
	Stop()
}

// AudioSink is an output device with its own clock.
// Play schedules buf to start at the given clock time and calls done once playback ends
// naturally. done may be called from any goroutine, including before Play returns.
type AudioSink interface {
	Now() time.Duration
	Play(buf *Buffer, at time.Duration, done func()) (Voice, error)
}

// PlaybackChunk is one received audio payload placed on the output timeline
type PlaybackChunk struct {
	Seq      uint64
	Buffer   *Buffer
	Start    time.Duration
	Duration time.Duration
}

// End returns the clock time at which the chunk finishes
func (c PlaybackChunk) End() time.Duration {
	return c.Start + c.Duration
}

type activeSource struct {
	voice Voice
}

// Scheduler places received audio back to back on the sink's clock.
// Each chunk starts exactly where the previous one ends, never earlier than the clock.
// The timeline is kept in output frames so chunk boundaries never drift by a sample.
type Scheduler struct {
	sink AudioSink

	mu     sync.Mutex
	next   int64 // frame at PlaybackSampleRate
	seq    uint64
	active map[uint64]*activeSource
	idle   chan struct{}
}

// NewScheduler creates a scheduler for sink
func NewScheduler(sink AudioSink) *Scheduler {
	return &Scheduler{
		sink:   sink,
		active: make(map[uint64]*activeSource),
		idle:   make(chan struct{}, 1),
	}
}

// Schedule decodes a 24 kHz mono PCM16 payload and queues it after the previous chunk
func (s *Scheduler) Schedule(pcm []byte) (PlaybackChunk, error) {
	buf := PCM16ToFloat(pcm, PlaybackSampleRate, 1)

	s.mu.Lock()
	if now := durationToFrame(s.sink.Now()); s.next < now {
		s.next = now
	}
	s.seq++
	startFrame, endFrame := s.next, s.next+int64(buf.Frames())
	chunk := PlaybackChunk{
		Seq:    s.seq,
		Buffer: buf,
		Start:  frameToDuration(startFrame),
	}
	chunk.Duration = frameToDuration(endFrame) - chunk.Start
	s.next = endFrame
	s.active[chunk.Seq] = &activeSource{}
	s.mu.Unlock()

	voice, err := s.sink.Play(buf, chunk.Start, func() { s.finish(chunk.Seq) })

	s.mu.Lock()
	defer s.mu.Unlock()

	src, ok := s.active[chunk.Seq]
	if err != nil {
		if ok {
			delete(s.active, chunk.Seq)
			if s.next == endFrame {
				s.next = startFrame
			}
			s.signalIdleLocked()
		}
		return PlaybackChunk{}, fmt.Errorf("schedule chunk %d: %w", chunk.Seq, err)
	}
	if ok {
		src.voice = voice
	}
	return chunk, nil
}

// Active returns the number of chunks scheduled or playing
func (s *Scheduler) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

// NextStart returns the start time the next chunk would get if the clock stood still
func (s *Scheduler) NextStart() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return frameToDuration(s.next)
}

// Idle receives a signal whenever the active set drains to empty
func (s *Scheduler) Idle() <-chan struct{} {
	return s.idle
}

// Teardown stops every active source, clears the set and resets the timeline
func (s *Scheduler) Teardown() {
	s.mu.Lock()
	voices := make([]Voice, 0, len(s.active))
	for seq, src := range s.active {
		if src.voice != nil {
			voices = append(voices, src.voice)
		}
		delete(s.active, seq)
	}
	s.next = 0
	select {
	case <-s.idle:
	default:
	}
	s.mu.Unlock()

	for _, v := range voices {
		v.Stop()
	}
}

func (s *Scheduler) finish(seq uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.active[seq]; !ok {
		return
	}
	delete(s.active, seq)
	s.signalIdleLocked()
}

func (s *Scheduler) signalIdleLocked() {
	if len(s.active) != 0 {
		return
	}
	select {
	case s.idle <- struct{}{}:
	default:
	}
}

func frameToDuration(frame int64) time.Duration {
	return time.Duration(frame * int64(time.Second) / PlaybackSampleRate)
}

// durationToFrame rounds up so a clock reading between frames never maps into the past
func durationToFrame(d time.Duration) int64 {
	return (int64(d)*PlaybackSampleRate + int64(time.Second) - 1) / int64(time.Second)
}
