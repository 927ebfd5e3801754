package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/lexiqai/lounge-voice/internal/appstate"
	"github.com/lexiqai/lounge-voice/internal/observability"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"
)

// SessionRecord is one archived voice session
type SessionRecord struct {
	ID         string    `json:"id"`
	Persona    string    `json:"persona"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at,omitzero"`
	FinalState string    `json:"final_state,omitempty"`
}

// Entry is one archived transcript line
type Entry struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Speaker   string    `json:"speaker"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the SQLite-backed transcript archive and app-state repository
type Store struct {
	db     *sql.DB
	clock  func() time.Time
	logger zerolog.Logger
}

// Open opens or creates the database at path and applies the schema.
// maxSessions > 0 prunes older sessions on open.
func Open(ctx context.Context, path string, maxSessions int) (*Store, error) {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{
		db:     db,
		clock:  time.Now,
		logger: observability.GetLogger().With().Str("component", "store").Logger(),
	}
	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("init schema: %w", err)
	}

	if maxSessions > 0 {
		if err := s.Prune(ctx, maxSessions); err != nil {
			s.logger.Warn().Err(err).Msg("Prune on open failed")
		}
	}
	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS sessions (
    session_id TEXT PRIMARY KEY,
    persona TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    ended_at INTEGER,
    final_state TEXT
);
CREATE TABLE IF NOT EXISTS transcript_entries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    speaker TEXT NOT NULL,
    text TEXT NOT NULL,
    created_at INTEGER NOT NULL,
    FOREIGN KEY(session_id) REFERENCES sessions(session_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_entries_session ON transcript_entries(session_id, id);
CREATE TABLE IF NOT EXISTS app_state (
    id INTEGER PRIMARY KEY CHECK (id = 1),
    payload BLOB NOT NULL,
    updated_at INTEGER NOT NULL
);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the database
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping reports whether the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// BeginSession records the start of a session. Repeated calls keep the first start time.
func (s *Store) BeginSession(ctx context.Context, sessionID, persona string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions(session_id, persona, started_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET persona=excluded.persona`,
		sessionID, persona, s.clock().UnixNano())
	return err
}

// EndSession records the terminal state of a session
func (s *Store) EndSession(ctx context.Context, sessionID, finalState string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET ended_at = ?, final_state = ? WHERE session_id = ?`,
		s.clock().UnixNano(), finalState, sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s not found", sessionID)
	}
	return nil
}

// AppendEntry archives one transcript line
func (s *Store) AppendEntry(ctx context.Context, sessionID, speaker, text string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO transcript_entries(session_id, speaker, text, created_at) VALUES(?, ?, ?, ?)`,
		sessionID, speaker, text, s.clock().UnixNano())
	return err
}

// ListEntries returns a session's transcript in append order
func (s *Store) ListEntries(ctx context.Context, sessionID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, speaker, text, created_at
		 FROM transcript_entries WHERE session_id = ? ORDER BY id ASC`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var created int64
		if err := rows.Scan(&e.ID, &e.SessionID, &e.Speaker, &e.Text, &created); err != nil {
			return nil, err
		}
		e.CreatedAt = time.Unix(0, created).UTC()
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListSessions returns up to limit sessions, newest first
func (s *Store) ListSessions(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, persona, started_at, ended_at, final_state
		 FROM sessions ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SessionRecord
	for rows.Next() {
		var r SessionRecord
		var started int64
		var ended sql.NullInt64
		var final sql.NullString
		if err := rows.Scan(&r.ID, &r.Persona, &started, &ended, &final); err != nil {
			return nil, err
		}
		r.StartedAt = time.Unix(0, started).UTC()
		if ended.Valid {
			r.EndedAt = time.Unix(0, ended.Int64).UTC()
		}
		r.FinalState = final.String
		out = append(out, r)
	}
	return out, rows.Err()
}

// Prune keeps only the newest maxSessions sessions and their transcripts
func (s *Store) Prune(ctx context.Context, maxSessions int) error {
	if maxSessions <= 0 {
		return nil
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE session_id NOT IN (
			SELECT session_id FROM sessions ORDER BY started_at DESC LIMIT ?
		)`, maxSessions)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info().Int64("sessions", n).Msg("Pruned archived sessions")
	}
	return nil
}

// LoadState implements appstate.Repository
func (s *Store) LoadState(ctx context.Context) (appstate.Snapshot, bool, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `SELECT payload FROM app_state WHERE id = 1`).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return appstate.Snapshot{}, false, nil
	}
	if err != nil {
		return appstate.Snapshot{}, false, err
	}

	var snap appstate.Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return appstate.Snapshot{}, false, fmt.Errorf("decode app state: %w", err)
	}
	return snap, true, nil
}

// SaveState implements appstate.Repository
func (s *Store) SaveState(ctx context.Context, snap appstate.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode app state: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO app_state(id, payload, updated_at) VALUES(1, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET payload=excluded.payload, updated_at=excluded.updated_at`,
		payload, s.clock().UnixNano())
	return err
}
