// Package device binds the audio pipeline to the host sound card through malgo.
package device

import (
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
	"github.com/lexiqai/lounge-voice/internal/observability"
	"github.com/rs/zerolog"
)

// periodMs is the device callback period for both directions
const periodMs = 20

// Context owns the malgo backend context shared by the microphone and the speaker
type Context struct {
	ctx    *malgo.AllocatedContext
	logger zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewContext initializes the default audio backend
func NewContext() (*Context, error) {
	logger := observability.GetLogger().With().Str("component", "device").Logger()

	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, cfg, func(msg string) {
		logger.Debug().Str("backend", msg).Msg("malgo")
	})
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}
	return &Context{ctx: ctx, logger: logger}, nil
}

// Microphone returns a capture source on the default input device
func (c *Context) Microphone(sampleRate int) *Microphone {
	return newMicrophone(c, sampleRate)
}

// Speaker opens and starts the default output device
func (c *Context) Speaker(sampleRate int, capacityMs int) (*Speaker, error) {
	s := newSpeaker(sampleRate, capacityMs)
	if err := s.open(c); err != nil {
		return nil, err
	}
	return s, nil
}

// Close releases the backend; devices must be closed first
func (c *Context) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	err := c.ctx.Uninit()
	c.ctx.Free()
	return err
}
