package binding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/lounge-voice/internal/appstate"
	"github.com/lexiqai/lounge-voice/internal/focus"
	"github.com/lexiqai/lounge-voice/internal/live"
	"github.com/lexiqai/lounge-voice/internal/observability"
	"github.com/lexiqai/lounge-voice/internal/persona"
	"github.com/lexiqai/lounge-voice/internal/store"
	"github.com/lexiqai/lounge-voice/internal/stt"
	"github.com/rs/zerolog"
)

// ErrMicrophoneBusy is returned when voice and dictation both want the microphone
var ErrMicrophoneBusy = errors.New("microphone is in use")

// Dictation is the inbox dictation pipeline
type Dictation interface {
	Start(ctx context.Context) error
	Stop() (appstate.CapturedItem, bool, error)
	Active() bool
}

// Focuser picks the quest to focus on
type Focuser interface {
	Focus(ctx context.Context, state *appstate.Store) (appstate.CapturedItem, error)
}

// Archive lists recorded sessions
type Archive interface {
	ListSessions(ctx context.Context, limit int) ([]store.SessionRecord, error)
	ListEntries(ctx context.Context, sessionID string) ([]store.Entry, error)
}

// HandlerOptions wires the HTTP surface. Dictation, Focus and Archive are optional;
// their routes answer 503 when absent.
type HandlerOptions struct {
	Controller *Controller
	State      *appstate.Store
	Dictation  Dictation
	Focus      Focuser
	Archive    Archive
}

// Handler serves the local UI API
type Handler struct {
	opts   HandlerOptions
	logger zerolog.Logger

	// micMu serializes voice and dictation starts so the busy check and the start are atomic
	micMu sync.Mutex
}

const (
	eventsPingInterval = 30 * time.Second
	eventsWriteWait    = 10 * time.Second
)

var upgrader = websocket.Upgrader{
	// The UI is served by a dev server on another port
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
}

// NewHandler creates the UI API handler
func NewHandler(opts HandlerOptions) *Handler {
	return &Handler{
		opts:   opts,
		logger: observability.GetLogger().With().Str("component", "binding").Logger(),
	}
}

// Register mounts every route on mux
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /voice/start", h.startVoice)
	mux.HandleFunc("POST /voice/stop", h.stopVoice)
	mux.HandleFunc("GET /voice/status", h.status)
	mux.HandleFunc("GET /voice/transcript", h.transcript)
	mux.HandleFunc("GET /voice/events", h.events)

	mux.HandleFunc("POST /dictation/start", h.startDictation)
	mux.HandleFunc("POST /dictation/stop", h.stopDictation)

	mux.HandleFunc("POST /quests/focus", h.focusQuest)
	mux.HandleFunc("GET /app/state", h.appState)

	mux.HandleFunc("GET /sessions", h.sessions)
	mux.HandleFunc("GET /sessions/{id}/transcript", h.sessionTranscript)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (h *Handler) startVoice(w http.ResponseWriter, r *http.Request) {
	h.micMu.Lock()
	defer h.micMu.Unlock()

	if h.opts.Dictation != nil && h.opts.Dictation.Active() {
		writeError(w, http.StatusConflict, ErrMicrophoneBusy.Error())
		return
	}

	id := persona.ID(r.URL.Query().Get("persona"))
	err := h.opts.Controller.Start(r.Context(), id)
	switch {
	case errors.Is(err, ErrUnknownPersona):
		writeError(w, http.StatusNotFound, err.Error())
	case err != nil:
		// The failure is visible as the ERROR state
		h.logger.Warn().Err(err).Str("persona", string(id)).Msg("Voice session failed to start")
		writeJSON(w, http.StatusBadGateway, h.opts.Controller.Status())
	default:
		writeJSON(w, http.StatusOK, h.opts.Controller.Status())
	}
}

func (h *Handler) stopVoice(w http.ResponseWriter, r *http.Request) {
	h.opts.Controller.Stop()
	writeJSON(w, http.StatusOK, h.opts.Controller.Status())
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.opts.Controller.Status())
}

func (h *Handler) transcript(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]live.TranscriptEntry{
		"transcript": h.opts.Controller.Transcript(),
	})
}

// events pushes a snapshot on connect and after every change until the client leaves
func (h *Handler) events(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("Failed to upgrade events connection")
		return
	}
	defer conn.Close()

	changes, cancel := h.opts.Controller.Subscribe()
	defer cancel()

	// Reads only detect the client going away
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventsPingInterval)
	defer ping.Stop()

	send := func() bool {
		conn.SetWriteDeadline(time.Now().Add(eventsWriteWait))
		if err := conn.WriteJSON(h.opts.Controller.Snapshot()); err != nil {
			h.logger.Debug().Err(err).Msg("Events write failed")
			return false
		}
		return true
	}

	if !send() {
		return
	}
	for {
		select {
		case <-changes:
			if !send() {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(eventsWriteWait)); err != nil {
				return
			}
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handler) startDictation(w http.ResponseWriter, r *http.Request) {
	if h.opts.Dictation == nil {
		writeError(w, http.StatusServiceUnavailable, "dictation is not configured")
		return
	}
	h.micMu.Lock()
	defer h.micMu.Unlock()

	if h.opts.Controller.Active() {
		writeError(w, http.StatusConflict, ErrMicrophoneBusy.Error())
		return
	}

	err := h.opts.Dictation.Start(r.Context())
	switch {
	case errors.Is(err, stt.ErrDictationActive):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.logger.Warn().Err(err).Msg("Dictation failed to start")
		writeError(w, http.StatusBadGateway, err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]bool{"listening": true})
	}
}

type dictationResult struct {
	Captured bool                   `json:"captured"`
	Item     *appstate.CapturedItem `json:"item,omitempty"`
}

func (h *Handler) stopDictation(w http.ResponseWriter, r *http.Request) {
	if h.opts.Dictation == nil {
		writeError(w, http.StatusServiceUnavailable, "dictation is not configured")
		return
	}

	item, ok, err := h.opts.Dictation.Stop()
	switch {
	case errors.Is(err, stt.ErrDictationNotActive):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, err.Error())
	case !ok:
		writeJSON(w, http.StatusOK, dictationResult{})
	default:
		writeJSON(w, http.StatusOK, dictationResult{Captured: true, Item: &item})
	}
}

func (h *Handler) focusQuest(w http.ResponseWriter, r *http.Request) {
	if h.opts.Focus == nil {
		writeError(w, http.StatusServiceUnavailable, focus.UserMessage)
		return
	}

	quest, err := h.opts.Focus.Focus(r.Context(), h.opts.State)
	switch {
	case errors.Is(err, focus.ErrNoQuests):
		writeError(w, http.StatusConflict, err.Error())
	case err != nil:
		h.logger.Warn().Err(err).Msg("Quest focus failed")
		writeError(w, http.StatusBadGateway, focus.UserMessage)
	default:
		writeJSON(w, http.StatusOK, map[string]appstate.CapturedItem{"quest": quest})
	}
}

func (h *Handler) appState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.opts.State.Snapshot())
}

func (h *Handler) sessions(w http.ResponseWriter, r *http.Request) {
	if h.opts.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive is not configured")
		return
	}

	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	records, err := h.opts.Archive.ListSessions(r.Context(), limit)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list sessions")
		writeError(w, http.StatusInternalServerError, "failed to list sessions")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]store.SessionRecord{"sessions": records})
}

func (h *Handler) sessionTranscript(w http.ResponseWriter, r *http.Request) {
	if h.opts.Archive == nil {
		writeError(w, http.StatusServiceUnavailable, "archive is not configured")
		return
	}

	entries, err := h.opts.Archive.ListEntries(r.Context(), r.PathValue("id"))
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to list transcript")
		writeError(w, http.StatusInternalServerError, "failed to list transcript")
		return
	}
	writeJSON(w, http.StatusOK, map[string][]store.Entry{"transcript": entries})
}
