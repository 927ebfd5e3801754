package device

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/gen2brain/malgo"
	"github.com/lexiqai/lounge-voice/internal/audio"
)

// ErrSpeakerFull is returned when a buffer would be scheduled beyond the speaker capacity
var ErrSpeakerFull = fmt.Errorf("speaker buffer full")

// Speaker mixes scheduled buffers onto the default output device.
// Its clock is the number of frames rendered so far. It implements audio.AudioSink.
type Speaker struct {
	rate     int
	capacity int64 // frames that may be scheduled ahead of the clock

	device *malgo.Device

	mu       sync.Mutex
	rendered int64
	voices   []*speakerVoice
	closed   bool
}

type speakerVoice struct {
	owner   *Speaker
	start   int64
	samples []float32
	done    func()
	stopped bool
}

// Stop implements audio.Voice
func (v *speakerVoice) Stop() {
	v.owner.mu.Lock()
	defer v.owner.mu.Unlock()
	v.stopped = true
}

func (v *speakerVoice) end() int64 {
	return v.start + int64(len(v.samples))
}

func newSpeaker(rate, capacityMs int) *Speaker {
	if rate <= 0 {
		rate = audio.PlaybackSampleRate
	}
	if capacityMs <= 0 {
		capacityMs = 30000
	}
	return &Speaker{
		rate:     rate,
		capacity: int64(rate) * int64(capacityMs) / 1000,
	}
}

// Detached returns a speaker without an output device. Its clock stands still, so it
// only serves configurations that never reach playback.
func Detached(rate, capacityMs int) *Speaker {
	return newSpeaker(rate, capacityMs)
}

func (s *Speaker) open(c *Context) error {
	cfg := malgo.DefaultDeviceConfig(malgo.Playback)
	cfg.Playback.Format = malgo.FormatS16
	cfg.Playback.Channels = 1
	cfg.SampleRate = uint32(s.rate)
	cfg.PeriodSizeInMilliseconds = periodMs

	callbacks := malgo.DeviceCallbacks{
		Data: func(output, _ []byte, _ uint32) {
			s.render(output)
		},
	}

	dev, err := malgo.InitDevice(c.ctx.Context, cfg, callbacks)
	if err != nil {
		return fmt.Errorf("init playback device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("start playback device: %w", err)
	}
	s.device = dev
	c.logger.Info().Int("sample_rate", s.rate).Msg("Speaker opened")
	return nil
}

// Now implements audio.AudioSink
func (s *Speaker) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.framesToDuration(s.rendered)
}

func (s *Speaker) framesToDuration(frames int64) time.Duration {
	return time.Duration(frames) * time.Second / time.Duration(s.rate)
}

// durationToFrames rounds to the nearest frame
func (s *Speaker) durationToFrames(d time.Duration) int64 {
	return (int64(d)*int64(s.rate) + int64(time.Second)/2) / int64(time.Second)
}

// Play implements audio.AudioSink. Buffers at another rate are resampled; a start time
// in the past plays immediately.
func (s *Speaker) Play(buf *audio.Buffer, at time.Duration, done func()) (audio.Voice, error) {
	samples := buf.Samples()
	if buf != nil && buf.SampleRate != s.rate {
		samples = audio.Resample(samples, buf.SampleRate, s.rate)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, fmt.Errorf("speaker closed")
	}

	start := s.durationToFrames(at)
	if start < s.rendered {
		start = s.rendered
	}
	if start+int64(len(samples))-s.rendered > s.capacity {
		return nil, ErrSpeakerFull
	}

	v := &speakerVoice{owner: s, start: start, samples: samples, done: done}
	s.voices = append(s.voices, v)
	return v, nil
}

// render fills one device period of 16-bit mono output and retires finished voices
func (s *Speaker) render(out []byte) {
	frames := int64(len(out) / 2)

	s.mu.Lock()
	from := s.rendered
	to := from + frames

	for i := int64(0); i < frames; i++ {
		pos := from + i
		var mix float64
		for _, v := range s.voices {
			if v.stopped || pos < v.start || pos >= v.end() {
				continue
			}
			mix += float64(v.samples[pos-v.start])
		}
		sample := math.Max(-1, math.Min(1, mix)) * 32767
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(sample)))
	}
	s.rendered = to

	var finished []func()
	kept := s.voices[:0]
	for _, v := range s.voices {
		switch {
		case v.stopped:
		case v.end() <= to:
			if v.done != nil {
				finished = append(finished, v.done)
			}
		default:
			kept = append(kept, v)
		}
	}
	for i := len(kept); i < len(s.voices); i++ {
		s.voices[i] = nil
	}
	s.voices = kept
	s.mu.Unlock()

	// Completion callbacks take the scheduler lock; keep them off the audio thread
	if len(finished) > 0 {
		go func() {
			for _, fn := range finished {
				fn()
			}
		}()
	}
}

// Close stops the output device and drops every scheduled voice without completing it
func (s *Speaker) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.voices = nil
	s.mu.Unlock()

	if s.device == nil {
		return nil
	}
	err := s.device.Stop()
	s.device.Uninit()
	return err
}
