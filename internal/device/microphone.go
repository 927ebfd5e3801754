package device

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
	"github.com/lexiqai/lounge-voice/internal/audio"
)

// blockQueue is the number of device periods buffered between the callback and the reader
const blockQueue = 64

// Microphone captures mono float32 blocks from the default input device.
// It implements audio.MicrophoneSource.
type Microphone struct {
	owner *Context
	rate  int

	mu      sync.Mutex
	device  *malgo.Device
	blocks  chan []float32
	dropped atomic.Int64
}

func newMicrophone(owner *Context, rate int) *Microphone {
	if rate <= 0 {
		rate = audio.CaptureSampleRate
	}
	return &Microphone{owner: owner, rate: rate}
}

// Open starts the input device. The returned channel is closed by Close.
func (m *Microphone) Open(ctx context.Context) (<-chan []float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return nil, fmt.Errorf("microphone already open")
	}

	cfg := malgo.DefaultDeviceConfig(malgo.Capture)
	cfg.Capture.Format = malgo.FormatS16
	cfg.Capture.Channels = 1
	cfg.SampleRate = uint32(m.rate)
	cfg.PeriodSizeInMilliseconds = periodMs

	blocks := make(chan []float32, blockQueue)
	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			m.deliver(blocks, input)
		},
	}

	dev, err := malgo.InitDevice(m.owner.ctx.Context, cfg, callbacks)
	if err != nil {
		return nil, fmt.Errorf("init capture device: %w", err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	m.device = dev
	m.blocks = blocks
	m.dropped.Store(0)
	m.owner.logger.Info().Int("sample_rate", m.rate).Msg("Microphone opened")
	return blocks, nil
}

// deliver converts one device period and hands it to the reader without blocking the
// audio thread
func (m *Microphone) deliver(blocks chan<- []float32, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	samples := audio.PCM16ToFloat(pcm, m.rate, 1).Samples()
	select {
	case blocks <- samples:
	default:
		m.dropped.Add(1)
	}
}

// SampleRate implements audio.MicrophoneSource
func (m *Microphone) SampleRate() int {
	return m.rate
}

// Dropped returns the number of device periods discarded since Open
func (m *Microphone) Dropped() int64 {
	return m.dropped.Load()
}

// Close stops the device and closes the block channel. It is safe to call repeatedly.
func (m *Microphone) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device == nil {
		return nil
	}
	// Stop waits for the callback to return, so no send races the close below
	err := m.device.Stop()
	m.device.Uninit()
	close(m.blocks)

	if n := m.dropped.Load(); n > 0 {
		m.owner.logger.Warn().Int64("dropped_periods", n).Msg("Microphone dropped audio")
	}
	m.device = nil
	m.blocks = nil
	return err
}
