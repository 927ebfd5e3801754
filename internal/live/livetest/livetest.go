// Package livetest provides an in-memory transport for exercising live sessions.
package livetest

import (
	"context"
	"encoding/json"
	"io"
	"net"
	"sync"

	"github.com/lexiqai/lounge-voice/internal/live"
	"github.com/lexiqai/lounge-voice/internal/persona"
)

// Conn is a scripted live.Conn. Server messages are injected with Deliver.
type Conn struct {
	SendErr error

	incoming chan []byte
	errs     chan error
	closed   chan struct{}

	mu     sync.Mutex
	sent   [][]byte
	closes int
}

// NewConn returns an open connection
func NewConn() *Conn {
	return &Conn{
		incoming: make(chan []byte, 64),
		errs:     make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

// Send implements live.Conn
func (c *Conn) Send(ctx context.Context, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	select {
	case <-c.closed:
		return live.ErrNotOpen
	default:
	}
	if c.SendErr != nil {
		return c.SendErr
	}
	c.sent = append(c.sent, append([]byte(nil), data...))
	return nil
}

// Receive implements live.Conn
func (c *Conn) Receive() ([]byte, error) {
	select {
	case data := <-c.incoming:
		return data, nil
	case err := <-c.errs:
		return nil, err
	case <-c.closed:
		return nil, net.ErrClosed
	}
}

// Close implements live.Conn
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if c.closes == 1 {
		close(c.closed)
	}
	return nil
}

// Deliver queues a server message. Strings and byte slices are sent verbatim,
// anything else is JSON encoded.
func (c *Conn) Deliver(msg any) {
	var data []byte
	switch v := msg.(type) {
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		var err error
		if data, err = json.Marshal(v); err != nil {
			panic(err)
		}
	}
	c.incoming <- data
}

// Fail makes the next Receive return err
func (c *Conn) Fail(err error) {
	c.errs <- err
}

// RemoteClose simulates a clean close by the server
func (c *Conn) RemoteClose() {
	c.errs <- io.EOF
}

// Sent returns the raw messages written so far
func (c *Conn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

// SentMessages decodes the written messages into generic maps
func (c *Conn) SentMessages() []map[string]any {
	var out []map[string]any
	for _, raw := range c.Sent() {
		var m map[string]any
		if err := json.Unmarshal(raw, &m); err != nil {
			panic(err)
		}
		out = append(out, m)
	}
	return out
}

// Closes returns how many times Close was called
func (c *Conn) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Dialer hands out a fresh Conn per dial
type Dialer struct {
	Err error

	mu        sync.Mutex
	conns     []*Conn
	endpoints []string
}

// Dial implements live.Dialer
func (d *Dialer) Dial(ctx context.Context, endpoint string) (live.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.endpoints = append(d.endpoints, endpoint)
	if d.Err != nil {
		return nil, d.Err
	}
	c := NewConn()
	d.conns = append(d.conns, c)
	return c, nil
}

// Dials returns the number of dial attempts
func (d *Dialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.endpoints)
}

// Last returns the most recently opened connection
func (d *Dialer) Last() *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.conns) == 0 {
		return nil
	}
	return d.conns[len(d.conns)-1]
}

// Recorder is a live.Observer that keeps every event
type Recorder struct {
	mu          sync.Mutex
	states      []live.StateChange
	transcripts []live.TranscriptEntry
	tools       []live.ToolInvocation
}

// StateChanged implements live.Observer
func (r *Recorder) StateChanged(ev live.StateChange) {
	r.mu.Lock()
	r.states = append(r.states, ev)
	r.mu.Unlock()
}

// TranscriptAppended implements live.Observer
func (r *Recorder) TranscriptAppended(sessionID string, p persona.ID, e live.TranscriptEntry) {
	r.mu.Lock()
	r.transcripts = append(r.transcripts, e)
	r.mu.Unlock()
}

// ToolCalled implements live.Observer
func (r *Recorder) ToolCalled(inv live.ToolInvocation) {
	r.mu.Lock()
	r.tools = append(r.tools, inv)
	r.mu.Unlock()
}

// States returns the target states in order
func (r *Recorder) States() []live.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]live.State, len(r.states))
	for i, ev := range r.states {
		out[i] = ev.To
	}
	return out
}

// Transcripts returns the appended entries
func (r *Recorder) Transcripts() []live.TranscriptEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]live.TranscriptEntry(nil), r.transcripts...)
}

// Tools returns the recorded tool invocations
func (r *Recorder) Tools() []live.ToolInvocation {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]live.ToolInvocation(nil), r.tools...)
}
