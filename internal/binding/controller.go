// Package binding exposes voice sessions to the presentation layer: start, stop, the
// current status and the ordered transcript, plus change notifications for live views.
package binding

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/lexiqai/lounge-voice/internal/appstate"
	"github.com/lexiqai/lounge-voice/internal/audio"
	"github.com/lexiqai/lounge-voice/internal/live"
	"github.com/lexiqai/lounge-voice/internal/observability"
	"github.com/lexiqai/lounge-voice/internal/persona"
	"github.com/rs/zerolog"
)

// ErrUnknownPersona is returned when Start names a persona missing from the catalog
var ErrUnknownPersona = errors.New("unknown persona")

// Labels shown for each state; IDLE shows nothing
var labels = map[live.State]string{
	live.StateIdle:       "",
	live.StateConnecting: "Connecting to the Executive Suite...",
	live.StateListening:  "Listening...",
	live.StateSpeaking:   "Speaking...",
	live.StateEnded:      "Session Ended.",
	live.StateError:      "Connection Error.",
}

// Label returns the display text for a state
func Label(s live.State) string {
	return labels[s]
}

// Status is the observable session status
type Status struct {
	State     live.State `json:"state"`
	Label     string     `json:"label"`
	Persona   persona.ID `json:"persona,omitempty"`
	SessionID string     `json:"session_id,omitempty"`
}

// Snapshot is the full view state pushed to subscribers
type Snapshot struct {
	Status
	Transcript    []live.TranscriptEntry `json:"transcript"`
	PendingInput  string                 `json:"pending_input,omitempty"`
	PendingOutput string                 `json:"pending_output,omitempty"`
}

// Options configures a Controller
type Options struct {
	Endpoint       string
	Catalog        *persona.Catalog
	Tools          *appstate.ToolSet
	Dialer         live.Dialer
	Microphone     audio.MicrophoneSource
	Speaker        audio.AudioSink
	Observers      []live.Observer
	DefaultPersona persona.ID
}

// Controller owns at most one live session at a time. Starting with a different
// persona stops the current session and replaces it.
type Controller struct {
	opts   Options
	logger zerolog.Logger

	// startMu serializes Start so a replaced session can never be started late
	startMu sync.Mutex

	mu      sync.RWMutex
	session *live.Session

	subsMu sync.Mutex
	subs   map[chan struct{}]struct{}
}

// NewController validates opts and returns a controller with no session
func NewController(opts Options) (*Controller, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("persona catalog is required")
	}
	if opts.Tools == nil {
		return nil, fmt.Errorf("tool set is required")
	}
	if opts.DefaultPersona == "" {
		opts.DefaultPersona = persona.Hub
	}
	if _, ok := opts.Catalog.Get(opts.DefaultPersona); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownPersona, opts.DefaultPersona)
	}
	return &Controller{
		opts:   opts,
		logger: observability.GetLogger().With().Str("component", "binding").Logger(),
		subs:   make(map[chan struct{}]struct{}),
	}, nil
}

// Start starts a session for persona id, or the default persona when id is empty.
// It is a no-op when a session for the same persona is already active.
func (c *Controller) Start(ctx context.Context, id persona.ID) error {
	if id == "" {
		id = c.opts.DefaultPersona
	}
	p, ok := c.resolve(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownPersona, id)
	}

	c.startMu.Lock()
	defer c.startMu.Unlock()

	s, err := c.sessionFor(p)
	if err != nil {
		return err
	}
	return s.Start(ctx)
}

// resolve accepts a persona ID or a character's spoken name
func (c *Controller) resolve(id persona.ID) (persona.Persona, bool) {
	if p, ok := c.opts.Catalog.Get(id); ok {
		return p, true
	}
	return c.opts.Catalog.Lookup(string(id))
}

// sessionFor returns the session for p, replacing the current one when it belongs to
// another persona
func (c *Controller) sessionFor(p persona.Persona) (*live.Session, error) {
	c.mu.Lock()
	current := c.session
	c.mu.Unlock()

	if current != nil && current.Persona().ID == p.ID {
		return current, nil
	}
	if current != nil {
		c.logger.Info().
			Str("from", string(current.Persona().ID)).
			Str("to", string(p.ID)).
			Msg("Switching persona")
		current.Stop()
	}

	tools, err := c.opts.Tools.Registry(p)
	if err != nil {
		return nil, err
	}
	observers := append(append([]live.Observer(nil), c.opts.Observers...), c)
	s, err := live.NewSession(live.Options{
		Endpoint:   c.opts.Endpoint,
		Persona:    p,
		Tools:      tools,
		Dialer:     c.opts.Dialer,
		Microphone: c.opts.Microphone,
		Speaker:    c.opts.Speaker,
		Observers:  observers,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.session = s
	c.mu.Unlock()
	c.notify()
	return s, nil
}

// Stop stops the current session, if any
func (c *Controller) Stop() {
	c.mu.RLock()
	s := c.session
	c.mu.RUnlock()
	if s != nil {
		s.Stop()
	}
}

// Active reports whether a session currently holds the microphone or transport
func (c *Controller) Active() bool {
	return c.Status().State.Active()
}

// Status returns the status of the current session; IDLE when there is none
func (c *Controller) Status() Status {
	c.mu.RLock()
	s := c.session
	c.mu.RUnlock()

	if s == nil {
		return Status{State: live.StateIdle, Label: Label(live.StateIdle)}
	}
	state := s.State()
	return Status{
		State:     state,
		Label:     Label(state),
		Persona:   s.Persona().ID,
		SessionID: s.ID(),
	}
}

// Transcript returns the ordered transcript of the current session
func (c *Controller) Transcript() []live.TranscriptEntry {
	c.mu.RLock()
	s := c.session
	c.mu.RUnlock()

	if s == nil {
		return []live.TranscriptEntry{}
	}
	entries := s.Transcript()
	if entries == nil {
		entries = []live.TranscriptEntry{}
	}
	return entries
}

// Snapshot returns status, transcript and in-progress fragments together
func (c *Controller) Snapshot() Snapshot {
	snap := Snapshot{
		Status:     c.Status(),
		Transcript: c.Transcript(),
	}
	c.mu.RLock()
	s := c.session
	c.mu.RUnlock()
	if s != nil {
		snap.PendingInput, snap.PendingOutput = s.Pending()
	}
	return snap
}

// Subscribe returns a channel that receives a signal after every change. Signals are
// coalesced; readers fetch the Snapshot themselves. cancel must be called when done.
func (c *Controller) Subscribe() (<-chan struct{}, func()) {
	ch := make(chan struct{}, 1)
	c.subsMu.Lock()
	c.subs[ch] = struct{}{}
	c.subsMu.Unlock()

	return ch, func() {
		c.subsMu.Lock()
		delete(c.subs, ch)
		c.subsMu.Unlock()
	}
}

func (c *Controller) notify() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	for ch := range c.subs {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// StateChanged implements live.Observer
func (c *Controller) StateChanged(ev live.StateChange) {
	c.notify()
}

// TranscriptAppended implements live.Observer
func (c *Controller) TranscriptAppended(sessionID string, p persona.ID, entry live.TranscriptEntry) {
	c.notify()
}

// ToolCalled implements live.Observer
func (c *Controller) ToolCalled(inv live.ToolInvocation) {
	c.notify()
}

// Close stops the current session
func (c *Controller) Close() {
	c.Stop()
}
