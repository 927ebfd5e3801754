package live

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/lexiqai/lounge-voice/internal/audio"
	"github.com/lexiqai/lounge-voice/internal/observability"
	"github.com/lexiqai/lounge-voice/internal/persona"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// State is the lifecycle state of a session
type State string

const (
	StateIdle       State = "IDLE"
	StateConnecting State = "CONNECTING"
	StateListening  State = "LISTENING"
	StateSpeaking   State = "SPEAKING"
	StateEnded      State = "ENDED"
	StateError      State = "ERROR"
)

// Active reports whether the state holds open resources
func (s State) Active() bool {
	return s == StateConnecting || s == StateListening || s == StateSpeaking
}

// StateChange describes one transition
type StateChange struct {
	SessionID string
	Persona   persona.ID
	From      State
	To        State
	Err       error
	At        time.Time
}

// ToolInvocation describes one dispatched tool call and its response
type ToolInvocation struct {
	SessionID string
	Persona   persona.ID
	CallID    string
	Name      string
	Args      map[string]any
	Result    string
	Outcome   string
}

// Observer receives session events. Methods are called from the goroutine that caused
// the event and must not block.
type Observer interface {
	StateChanged(ev StateChange)
	TranscriptAppended(sessionID string, p persona.ID, entry TranscriptEntry)
	ToolCalled(inv ToolInvocation)
}

// Options parameterizes a session
type Options struct {
	Endpoint   string
	Persona    persona.Persona
	Tools      *ToolRegistry
	Dialer     Dialer
	Microphone audio.MicrophoneSource
	Speaker    audio.AudioSink
	Observers  []Observer
}

// Session is a voice conversation with the remote model: it streams microphone audio
// out, plays model audio back, answers tool calls and assembles the transcript.
//
// All server events, capture frames and playback completions of a run are handled on a
// single event-loop goroutine.
type Session struct {
	opts   Options
	logger zerolog.Logger

	mu         sync.RWMutex
	state      State
	err        error
	id         string
	transcript []TranscriptEntry
	turn       turn
	run        *run
}

// NewSession validates opts and returns an IDLE session
func NewSession(opts Options) (*Session, error) {
	if opts.Endpoint == "" {
		return nil, fmt.Errorf("live endpoint is required")
	}
	if opts.Speaker == nil {
		return nil, fmt.Errorf("audio sink is required")
	}
	if opts.Dialer == nil {
		opts.Dialer = NewWebSocketDialer()
	}
	return &Session{
		opts:   opts,
		state:  StateIdle,
		logger: observability.GetLogger().With().Str("component", "live").Str("persona", string(opts.Persona.ID)).Logger(),
	}, nil
}

// run holds the resources of one Start..Stop cycle
type run struct {
	id      string
	ctx     context.Context
	cancel  context.CancelFunc
	logger  zerolog.Logger
	metrics *observability.Metrics
	span    trace.Span

	scheduler *audio.Scheduler

	mu       sync.Mutex
	released bool
	conn     Conn
	capture  *audio.Capture
	stop     chan struct{}
}

func (s *Session) newRun(parent context.Context) *run {
	id := uuid.New().String()
	correlationID := observability.NewCorrelationID()

	ctx, span := observability.Tracer().Start(context.WithoutCancel(parent), "live.session",
		trace.WithAttributes(
			attribute.String("session.id", id),
			attribute.String("persona", string(s.opts.Persona.ID)),
		),
	)
	ctx, cancel := context.WithCancel(ctx)

	logger := observability.WithCorrelationID(correlationID).
		With().
		Str("session_id", id).
		Str("persona", string(s.opts.Persona.ID)).
		Logger()

	return &run{
		id:        id,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
		metrics:   observability.NewSessionMetrics(id, string(s.opts.Persona.ID)),
		span:      span,
		scheduler: audio.NewScheduler(s.opts.Speaker),
		stop:      make(chan struct{}),
	}
}

// attach stores a freshly acquired resource unless the run was already released
func (r *run) attach(fn func()) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return false
	}
	fn()
	return true
}

func (r *run) isOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil && !r.released
}

func (r *run) isReleased() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.released
}

// release closes the transport, releases the microphone and stops all playback. Runs once.
func (r *run) release() {
	r.mu.Lock()
	if r.released {
		r.mu.Unlock()
		return
	}
	r.released = true
	close(r.stop)
	conn, capture := r.conn, r.capture
	r.mu.Unlock()

	r.cancel()
	if conn != nil {
		if err := conn.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("Error closing transport")
		}
	}
	if capture != nil {
		if err := capture.Close(); err != nil {
			r.logger.Debug().Err(err).Msg("Error releasing microphone")
		}
	}
	r.scheduler.Teardown()
}

func (r *run) send(ctx context.Context, kind string, msg ClientMessage) error {
	data, err := EncodeClientMessage(msg)
	if err != nil {
		return &SendError{Kind: kind, Err: err}
	}

	r.mu.Lock()
	conn, released := r.conn, r.released
	r.mu.Unlock()
	if conn == nil || released {
		return &SendError{Kind: kind, Err: ErrNotOpen}
	}

	if err := conn.Send(ctx, data); err != nil {
		return &SendError{Kind: kind, Err: err}
	}
	return nil
}

// read pumps transport messages to the event loop until the transport fails
func (r *run) read(msgs chan<- []byte, errs chan<- error) {
	for {
		data, err := r.conn.Receive()
		if err != nil {
			errs <- err
			return
		}
		select {
		case msgs <- data:
		case <-r.stop:
			return
		}
	}
}

// Start acquires the microphone, opens the transport and sends the configuration.
// It is a no-op while a run is active. Failures leave the session in ERROR and are
// also returned.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.state.Active() {
		s.mu.Unlock()
		s.logger.Debug().Str("state", string(s.state)).Msg("Start ignored, session already active")
		return nil
	}

	r := s.newRun(ctx)
	from := s.state
	s.run = r
	s.id = r.id
	s.err = nil
	s.state = StateConnecting
	s.transcript = nil
	if intro := s.opts.Persona.IntroDialogue; intro != "" {
		s.transcript = []TranscriptEntry{{Speaker: SpeakerAssistant, Text: intro}}
	}
	s.turn.input.Reset()
	s.turn.output.Reset()
	s.mu.Unlock()

	r.metrics.RecordSessionStart()
	r.metrics.RecordStateChange(string(StateConnecting))
	s.notifyState(r, from, StateConnecting, nil)
	r.logger.Info().Str("endpoint", s.opts.Endpoint).Msg("Starting voice session")

	capture, err := audio.StartCapture(r.ctx, s.opts.Microphone)
	if err != nil {
		s.finish(r, StateError, err)
		return err
	}
	if !r.attach(func() { r.capture = capture }) {
		capture.Close()
		return nil
	}

	conn, err := s.opts.Dialer.Dial(ctx, s.opts.Endpoint)
	if err != nil {
		err = &ConnectionError{Endpoint: s.opts.Endpoint, Err: err}
		s.finish(r, StateError, err)
		return err
	}
	if !r.attach(func() { r.conn = conn }) {
		conn.Close()
		return nil
	}

	setup := NewSetupMessage(s.opts.Persona, s.opts.Tools.Declarations())
	if err := r.send(r.ctx, "config", setup); err != nil {
		if r.isReleased() {
			return nil
		}
		s.finish(r, StateError, err)
		return err
	}
	r.logger.Debug().
		Strs("tools", s.opts.Tools.Names()).
		Str("voice", s.opts.Persona.Voice).
		Msg("Session configuration sent")

	if !s.transition(r, StateListening) {
		return nil
	}

	dropStaleFrames(r, capture.Frames())
	go s.loop(r)
	return nil
}

// Stop tears the session down and moves it to ENDED. Calling it without an active
// run does nothing.
func (s *Session) Stop() {
	s.mu.RLock()
	r := s.run
	s.mu.RUnlock()
	if r == nil {
		return
	}
	if s.finish(r, StateEnded, nil) {
		r.logger.Info().Msg("Voice session stopped")
	}
}

// finish moves run r to a terminal state and releases its resources.
// Only the first caller for a run wins.
func (s *Session) finish(r *run, to State, err error) bool {
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		r.release()
		return false
	}
	s.run = nil
	from := s.state
	s.state = to
	s.err = err
	s.mu.Unlock()

	r.release()

	if err != nil {
		r.logger.Error().Err(err).Str("from", string(from)).Msg("Voice session failed")
		r.metrics.RecordError(errorType(err), "live")
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	}
	r.metrics.RecordStateChange(string(to))
	r.metrics.RecordSessionEnd()
	r.span.SetAttributes(attribute.String("session.final_state", string(to)))
	r.span.End()

	s.notifyState(r, from, to, err)
	return true
}

// transition moves an active run to another active state
func (s *Session) transition(r *run, to State) bool {
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return false
	}
	from := s.state
	if from == to {
		s.mu.Unlock()
		return true
	}
	s.state = to
	s.mu.Unlock()

	r.metrics.RecordStateChange(string(to))
	s.notifyState(r, from, to, nil)
	return true
}

// transitionFrom is transition guarded on the current state
func (s *Session) transitionFrom(r *run, from, to State) {
	s.mu.RLock()
	current := s.state
	s.mu.RUnlock()
	if current != from {
		return
	}
	s.transition(r, to)
}

func (s *Session) loop(r *run) {
	msgs := make(chan []byte)
	readErrs := make(chan error, 1)
	go r.read(msgs, readErrs)

	frames := r.capture.Frames()
	for {
		select {
		case <-r.stop:
			return

		case data := <-msgs:
			s.handleMessage(r, data)

		case err := <-readErrs:
			if r.isReleased() {
				return
			}
			if errors.Is(err, io.EOF) {
				r.logger.Info().Msg("Remote closed the session")
				s.finish(r, StateEnded, nil)
			} else {
				s.finish(r, StateError, &ConnectionError{Endpoint: s.opts.Endpoint, Err: err})
			}
			return

		case f, ok := <-frames:
			if !ok {
				r.logger.Warn().Msg("Microphone stream ended")
				frames = nil
				continue
			}
			s.sendFrame(r, f)

		case <-r.scheduler.Idle():
			if r.scheduler.Active() == 0 {
				s.transitionFrom(r, StateSpeaking, StateListening)
			}
		}
	}
}

// dropStaleFrames discards frames captured before the transport opened
func dropStaleFrames(r *run, frames <-chan audio.AudioFrame) {
	for {
		select {
		case _, ok := <-frames:
			if !ok {
				return
			}
			r.metrics.RecordFrame(false, 0)
		default:
			return
		}
	}
}

func (s *Session) sendFrame(r *run, f audio.AudioFrame) {
	if !r.isOpen() {
		r.metrics.RecordFrame(false, 0)
		return
	}
	r.metrics.RecordCaptureLevel(audio.RMS(f.Samples))

	if err := r.send(r.ctx, "media", NewMediaMessage(f)); err != nil {
		r.metrics.RecordFrame(false, 0)
		r.logger.Debug().Err(err).Uint64("seq", f.Seq).Msg("Dropped audio frame")
		return
	}
	r.metrics.RecordFrame(true, len(f.PCM))
}

func (s *Session) handleMessage(r *run, data []byte) {
	msg, err := DecodeServerMessage(data)
	if err != nil {
		r.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Ignoring malformed server message")
		r.metrics.RecordError("protocol", "live")
		return
	}

	if msg.SetupComplete != nil {
		r.logger.Debug().Msg("Setup complete")
	}
	if msg.ToolCall != nil {
		if ended := s.handleToolCall(r, msg.ToolCall); ended {
			return
		}
	}
	if msg.ServerContent != nil {
		s.handleContent(r, msg.ServerContent)
	}
}

// handleToolCall answers every call in order before anything else is processed.
// It reports whether a tool ended the session.
func (s *Session) handleToolCall(r *run, tc *ToolCall) bool {
	endSession := false
	for _, call := range tc.FunctionCalls {
		if call == nil {
			continue
		}

		res := s.opts.Tools.Dispatch(r.ctx, call)
		r.metrics.RecordToolCall(call.Name, res.Outcome)

		ev := r.logger.Info()
		if res.Outcome != OutcomeOK {
			ev = r.logger.Warn()
		}
		ev.Str("call_id", call.ID).
			Str("tool", call.Name).
			Str("result", res.Result).
			Msg("Tool call dispatched")

		if err := r.send(r.ctx, "tool_response", NewToolResponseMessage(call.ID, call.Name, res.Result)); err != nil {
			r.logger.Warn().Err(err).Str("call_id", call.ID).Msg("Failed to send tool response")
		}

		inv := ToolInvocation{
			SessionID: r.id,
			Persona:   s.opts.Persona.ID,
			CallID:    call.ID,
			Name:      call.Name,
			Args:      call.Args,
			Result:    res.Result,
			Outcome:   res.Outcome,
		}
		for _, o := range s.opts.Observers {
			o.ToolCalled(inv)
		}

		endSession = endSession || res.EndsSession
	}

	if endSession {
		r.logger.Info().Msg("Tool requested end of session")
		s.finish(r, StateEnded, nil)
		return true
	}
	return false
}

func (s *Session) handleContent(r *run, sc *ServerContent) {
	s.mu.Lock()
	if s.run != r {
		s.mu.Unlock()
		return
	}
	if sc.InputTranscription != nil {
		s.turn.addInput(sc.InputTranscription.Text)
	}
	if sc.OutputTranscription != nil {
		s.turn.addOutput(sc.OutputTranscription.Text)
	}
	var entries []TranscriptEntry
	if sc.TurnComplete {
		entries = s.turn.complete()
		s.transcript = append(s.transcript, entries...)
	}
	s.mu.Unlock()

	for _, e := range entries {
		r.metrics.RecordTranscriptEntry(string(e.Speaker))
		for _, o := range s.opts.Observers {
			o.TranscriptAppended(r.id, s.opts.Persona.ID, e)
		}
	}

	for _, payload := range sc.AudioPayloads() {
		s.play(r, payload)
	}
}

func (s *Session) play(r *run, payload string) {
	pcm, err := audio.DecodeBase64(payload)
	if err != nil {
		r.logger.Warn().Err(err).Msg("Ignoring undecodable audio payload")
		r.metrics.RecordError("protocol", "live")
		return
	}
	if len(pcm) == 0 {
		return
	}

	chunk, err := r.scheduler.Schedule(pcm)
	if err != nil {
		r.logger.Error().Err(err).Msg("Failed to schedule playback")
		r.metrics.RecordError("playback", "live")
		return
	}
	r.metrics.RecordPlaybackChunk(len(pcm))
	r.logger.Debug().
		Uint64("seq", chunk.Seq).
		Dur("start", chunk.Start).
		Dur("duration", chunk.Duration).
		Msg("Playback chunk scheduled")

	s.transitionFrom(r, StateListening, StateSpeaking)
}

func (s *Session) notifyState(r *run, from, to State, err error) {
	ev := StateChange{
		SessionID: r.id,
		Persona:   s.opts.Persona.ID,
		From:      from,
		To:        to,
		Err:       err,
		At:        time.Now(),
	}
	for _, o := range s.opts.Observers {
		o.StateChanged(ev)
	}
}

func errorType(err error) string {
	var connErr *ConnectionError
	var sendErr *SendError
	switch {
	case errors.Is(err, audio.ErrCaptureUnavailable):
		return "capture"
	case errors.As(err, &connErr):
		return "transport"
	case errors.As(err, &sendErr):
		return "send"
	default:
		return "session"
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Err returns the error that moved the session to ERROR, if any
func (s *Session) Err() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.err
}

// ID returns the identifier of the current or most recent run
func (s *Session) ID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.id
}

// Persona returns the persona the session was created with
func (s *Session) Persona() persona.Persona {
	return s.opts.Persona
}

// Transcript returns a copy of the transcript in append order
func (s *Session) Transcript() []TranscriptEntry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]TranscriptEntry(nil), s.transcript...)
}

// Pending returns the input and output fragments of the turn in progress
func (s *Session) Pending() (input, output string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turn.pending()
}
