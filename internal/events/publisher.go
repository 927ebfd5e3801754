package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lexiqai/lounge-voice/internal/live"
	"github.com/lexiqai/lounge-voice/internal/observability"
	"github.com/lexiqai/lounge-voice/internal/persona"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// Subject suffixes appended to the configured prefix
const (
	SubjectState      = "session.state"
	SubjectTranscript = "session.transcript"
	SubjectTool       = "session.tool"
)

// StateEvent is published on every session transition
type StateEvent struct {
	SessionID string    `json:"session_id"`
	Persona   string    `json:"persona"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// TranscriptEvent is published for each finished transcript entry
type TranscriptEvent struct {
	SessionID string `json:"session_id"`
	Persona   string `json:"persona"`
	Speaker   string `json:"speaker"`
	Text      string `json:"text"`
}

// ToolEvent is published for each dispatched tool call
type ToolEvent struct {
	SessionID string         `json:"session_id"`
	Persona   string         `json:"persona"`
	CallID    string         `json:"call_id"`
	Name      string         `json:"name"`
	Args      map[string]any `json:"args,omitempty"`
	Result    string         `json:"result"`
	Outcome   string         `json:"outcome"`
}

// Publisher mirrors session events onto NATS subjects. A nil *Publisher is a no-op observer.
type Publisher struct {
	conn   *nats.Conn
	prefix string
	logger zerolog.Logger
}

// Connect dials NATS and returns a publisher. An empty url disables publishing and returns nil.
func Connect(url, prefix string) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}

	conn, err := nats.Connect(url,
		nats.Name("lounge-voice"),
		nats.Timeout(5*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}

	logger := observability.GetLogger().With().Str("component", "events").Logger()
	logger.Info().Str("url", url).Str("prefix", prefix).Msg("Connected to NATS")

	return &Publisher{conn: conn, prefix: prefix, logger: logger}, nil
}

func (p *Publisher) subject(suffix string) string {
	if p.prefix == "" {
		return suffix
	}
	return p.prefix + "." + suffix
}

func (p *Publisher) publish(suffix string, v any) {
	if p == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		p.logger.Error().Err(err).Str("subject", suffix).Msg("Failed to encode event")
		return
	}
	if err := p.conn.Publish(p.subject(suffix), data); err != nil {
		p.logger.Warn().Err(err).Str("subject", suffix).Msg("Failed to publish event")
		observability.RecordError("publish", "events")
	}
}

// StateChanged implements live.Observer
func (p *Publisher) StateChanged(ev live.StateChange) {
	out := StateEvent{
		SessionID: ev.SessionID,
		Persona:   string(ev.Persona),
		From:      string(ev.From),
		To:        string(ev.To),
		At:        ev.At,
	}
	if ev.Err != nil {
		out.Error = ev.Err.Error()
	}
	p.publish(SubjectState, out)
}

// TranscriptAppended implements live.Observer
func (p *Publisher) TranscriptAppended(sessionID string, id persona.ID, entry live.TranscriptEntry) {
	p.publish(SubjectTranscript, TranscriptEvent{
		SessionID: sessionID,
		Persona:   string(id),
		Speaker:   string(entry.Speaker),
		Text:      entry.Text,
	})
}

// ToolCalled implements live.Observer
func (p *Publisher) ToolCalled(inv live.ToolInvocation) {
	p.publish(SubjectTool, ToolEvent{
		SessionID: inv.SessionID,
		Persona:   string(inv.Persona),
		CallID:    inv.CallID,
		Name:      inv.Name,
		Args:      inv.Args,
		Result:    inv.Result,
		Outcome:   inv.Outcome,
	})
}

// Healthy reports whether the connection is up
func (p *Publisher) Healthy() bool {
	return p != nil && p.conn != nil && p.conn.Status() == nats.CONNECTED
}

// Close flushes pending publishes and closes the connection
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	p.logger.Info().Msg("Closing NATS connection")
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
		return err
	}
	return nil
}
