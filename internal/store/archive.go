package store

import (
	"context"
	"sync"
	"time"

	"github.com/lexiqai/lounge-voice/internal/live"
	"github.com/lexiqai/lounge-voice/internal/observability"
	"github.com/lexiqai/lounge-voice/internal/persona"
	"github.com/rs/zerolog"
)

type archiveOp struct {
	begin     bool
	end       bool
	sessionID string
	persona   string
	state     string
	speaker   string
	text      string
}

// Archiver persists session lifecycles and transcripts as a live.Observer.
// Writes happen on a single worker goroutine so observers never block the session on disk I/O.
type Archiver struct {
	store   *Store
	ops     chan archiveOp
	done    chan struct{}
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

// NewArchiver starts the archive worker. queue bounds pending writes; overflow is dropped and logged.
func NewArchiver(store *Store, queue int) *Archiver {
	if queue <= 0 {
		queue = 256
	}
	a := &Archiver{
		store:   store,
		ops:     make(chan archiveOp, queue),
		done:    make(chan struct{}),
		timeout: 5 * time.Second,
		logger:  observability.GetLogger().With().Str("component", "archiver").Logger(),
	}
	go a.worker()
	return a
}

// StateChanged implements live.Observer
func (a *Archiver) StateChanged(ev live.StateChange) {
	switch {
	case ev.To == live.StateConnecting:
		a.enqueue(archiveOp{begin: true, sessionID: ev.SessionID, persona: string(ev.Persona)})
	case ev.From.Active() && !ev.To.Active():
		a.enqueue(archiveOp{end: true, sessionID: ev.SessionID, state: string(ev.To)})
	}
}

// TranscriptAppended implements live.Observer
func (a *Archiver) TranscriptAppended(sessionID string, p persona.ID, entry live.TranscriptEntry) {
	a.enqueue(archiveOp{sessionID: sessionID, persona: string(p), speaker: string(entry.Speaker), text: entry.Text})
}

// ToolCalled implements live.Observer
func (a *Archiver) ToolCalled(inv live.ToolInvocation) {}

func (a *Archiver) enqueue(op archiveOp) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}
	select {
	case a.ops <- op:
	default:
		a.logger.Warn().Str("session_id", op.sessionID).Msg("Archive queue full, dropping write")
		observability.RecordError("queue_full", "archiver")
	}
}

func (a *Archiver) worker() {
	defer close(a.done)
	for op := range a.ops {
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		if err := a.apply(ctx, op); err != nil {
			a.logger.Error().Err(err).Str("session_id", op.sessionID).Msg("Archive write failed")
			observability.RecordError("write", "archiver")
		}
		cancel()
	}
}

func (a *Archiver) apply(ctx context.Context, op archiveOp) error {
	switch {
	case op.begin:
		return a.store.BeginSession(ctx, op.sessionID, op.persona)
	case op.end:
		return a.store.EndSession(ctx, op.sessionID, op.state)
	default:
		return a.store.AppendEntry(ctx, op.sessionID, op.speaker, op.text)
	}
}

// Close stops accepting events and waits for queued writes to finish
func (a *Archiver) Close() error {
	a.mu.Lock()
	if !a.closed {
		a.closed = true
		close(a.ops)
	}
	a.mu.Unlock()
	<-a.done
	return nil
}
