package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/lexiqai/lounge-voice/internal/observability"
	"github.com/rs/zerolog"
)

// ErrCaptureUnavailable is returned when microphone access is denied or no device exists
var ErrCaptureUnavailable = errors.New("audio capture unavailable")

// MicrophoneSource delivers mono float32 sample blocks from an input device.
// Blocks may be any length; the channel is closed when the source stops.
type MicrophoneSource interface {
	Open(ctx context.Context) (<-chan []float32, error)
	SampleRate() int
	Close() error
}

// AudioFrame is one fixed-size block of captured audio in wire format
type AudioFrame struct {
	Seq        uint64
	Samples    []float32
	PCM        []byte
	SampleRate int
}

// MimeType returns the wire mime type for the frame
func (f AudioFrame) MimeType() string {
	return fmt.Sprintf("audio/pcm;rate=%d", f.SampleRate)
}

// Base64 returns the frame's PCM bytes in transport encoding
func (f AudioFrame) Base64() string {
	return EncodeBase64(f.PCM)
}

// Capture frames a microphone stream into 4096-sample 16 kHz PCM16 frames.
// A frame the consumer is not ready for is dropped.
type Capture struct {
	src     MicrophoneSource
	frames  chan AudioFrame
	ring    *RingBuffer
	seq     uint64
	dropped atomic.Int64

	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
	logger    zerolog.Logger
}

// StartCapture opens src and begins framing its samples.
// Errors from the device are reported as ErrCaptureUnavailable.
func StartCapture(ctx context.Context, src MicrophoneSource) (*Capture, error) {
	if src == nil {
		return nil, fmt.Errorf("%w: no microphone source", ErrCaptureUnavailable)
	}

	ctx, cancel := context.WithCancel(ctx)
	blocks, err := src.Open(ctx)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("%w: %w", ErrCaptureUnavailable, err)
	}

	c := &Capture{
		src:    src,
		frames: make(chan AudioFrame, 1),
		ring:   NewRingBuffer(FrameSize*2 + 1),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: observability.GetLogger().With().Str("component", "capture").Logger(),
	}

	go c.run(ctx, blocks)

	c.logger.Debug().
		Int("source_rate", src.SampleRate()).
		Int("frame_size", FrameSize).
		Msg("Capture started")
	return c, nil
}

// Frames returns the channel of encoded frames in capture order
func (c *Capture) Frames() <-chan AudioFrame {
	return c.frames
}

// Dropped returns the number of frames dropped because the consumer was busy
func (c *Capture) Dropped() int64 {
	return c.dropped.Load()
}

// Close releases the microphone. Safe to call more than once.
func (c *Capture) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		err = c.src.Close()
		<-c.done
		c.logger.Debug().Int64("dropped", c.Dropped()).Msg("Capture closed")
	})
	return err
}

func (c *Capture) run(ctx context.Context, blocks <-chan []float32) {
	defer close(c.done)
	defer close(c.frames)

	rate := c.src.SampleRate()
	for {
		select {
		case <-ctx.Done():
			return
		case block, ok := <-blocks:
			if !ok {
				return
			}
			if rate != CaptureSampleRate {
				block = Resample(block, rate, CaptureSampleRate)
			}
			for len(block) > 0 {
				n := c.ring.Write(block)
				block = block[n:]
				c.emitFrames(ctx)
			}
		}
	}
}

func (c *Capture) emitFrames(ctx context.Context) {
	for c.ring.Available() >= FrameSize {
		samples := make([]float32, FrameSize)
		c.ring.Read(samples)
		c.seq++

		frame := AudioFrame{
			Seq:        c.seq,
			Samples:    samples,
			PCM:        FloatToPCM16(samples),
			SampleRate: CaptureSampleRate,
		}

		select {
		case c.frames <- frame:
		case <-ctx.Done():
			return
		default:
			c.dropped.Add(1)
		}
	}
}
