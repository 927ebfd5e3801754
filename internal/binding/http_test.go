package binding

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/lexiqai/lounge-voice/internal/appstate"
	"github.com/lexiqai/lounge-voice/internal/focus"
	"github.com/lexiqai/lounge-voice/internal/live"
	"github.com/lexiqai/lounge-voice/internal/store"
	"github.com/lexiqai/lounge-voice/internal/stt"
)

type fakeDictation struct {
	mu       sync.Mutex
	active   bool
	startErr error
	item     appstate.CapturedItem
	captured bool
	stopErr  error
	delay    time.Duration
	entered  chan struct{}
}

func (d *fakeDictation) Start(ctx context.Context) error {
	d.mu.Lock()
	delay, entered := d.delay, d.entered
	d.entered = nil
	d.mu.Unlock()
	if entered != nil {
		close(entered)
	}
	// Opening the microphone and the recognizer takes a while
	time.Sleep(delay)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startErr != nil {
		return d.startErr
	}
	d.active = true
	return nil
}

func (d *fakeDictation) Stop() (appstate.CapturedItem, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.active = false
	return d.item, d.captured, d.stopErr
}

func (d *fakeDictation) Active() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *fakeDictation) set(fn func(d *fakeDictation)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	fn(d)
}

type fakeFocus struct {
	quest appstate.CapturedItem
	err   error
}

func (f *fakeFocus) Focus(ctx context.Context, state *appstate.Store) (appstate.CapturedItem, error) {
	return f.quest, f.err
}

type fakeArchive struct {
	mu    sync.Mutex
	limit int
}

func (a *fakeArchive) ListSessions(ctx context.Context, limit int) ([]store.SessionRecord, error) {
	a.mu.Lock()
	a.limit = limit
	a.mu.Unlock()
	return []store.SessionRecord{{ID: "s1", Persona: "sonia", FinalState: "ENDED"}}, nil
}

func (a *fakeArchive) ListEntries(ctx context.Context, sessionID string) ([]store.Entry, error) {
	return []store.Entry{{SessionID: sessionID, Speaker: "user", Text: "hi"}}, nil
}

func newServer(t *testing.T, f *fixture, opts HandlerOptions) *httptest.Server {
	t.Helper()
	opts.Controller = f.controller
	opts.State = f.state
	mux := http.NewServeMux()
	NewHandler(opts).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func post(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Post(url, "application/json", nil)
	if err != nil {
		t.Fatalf("POST %s failed: %v", url, err)
	}
	return decode(t, resp)
}

func get(t *testing.T, url string) (*http.Response, map[string]any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s failed: %v", url, err)
	}
	return decode(t, resp)
}

func decode(t *testing.T, resp *http.Response) (*http.Response, map[string]any) {
	t.Helper()
	defer resp.Body.Close()
	var body map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("Invalid JSON: %v", err)
	}
	return resp, body
}

func TestHandler_VoiceLifecycle(t *testing.T) {
	f := newFixture(t)
	srv := newServer(t, f, HandlerOptions{})

	resp, body := post(t, srv.URL+"/voice/start?persona=sonia")
	if resp.StatusCode != http.StatusOK || body["state"] != "LISTENING" || body["persona"] != "sonia" {
		t.Fatalf("Unexpected start response %d %v", resp.StatusCode, body)
	}

	_, body = get(t, srv.URL+"/voice/status")
	if body["label"] != "Listening..." {
		t.Errorf("Unexpected status %v", body)
	}

	_, body = get(t, srv.URL+"/voice/transcript")
	entries, _ := body["transcript"].([]any)
	if len(entries) != 1 {
		t.Errorf("Expected intro entry, got %v", body)
	}

	_, body = post(t, srv.URL+"/voice/stop")
	if body["state"] != "ENDED" {
		t.Errorf("Unexpected stop response %v", body)
	}
}

func TestHandler_VoiceStartErrors(t *testing.T) {
	f := newFixture(t)
	srv := newServer(t, f, HandlerOptions{})

	resp, _ := post(t, srv.URL+"/voice/start?persona=nobody")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", resp.StatusCode)
	}

	f.dialer.Err = errors.New("connection refused")
	resp, body := post(t, srv.URL+"/voice/start?persona=bea")
	if resp.StatusCode != http.StatusBadGateway || body["state"] != "ERROR" || body["label"] != "Connection Error." {
		t.Errorf("Unexpected failure response %d %v", resp.StatusCode, body)
	}
}

func TestHandler_MicrophoneExclusive(t *testing.T) {
	f := newFixture(t)
	d := &fakeDictation{active: true}
	srv := newServer(t, f, HandlerOptions{Dictation: d})

	resp, _ := post(t, srv.URL+"/voice/start")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 while dictating, got %d", resp.StatusCode)
	}

	d.set(func(d *fakeDictation) { d.active = false })
	resp, _ = post(t, srv.URL+"/voice/start")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("Expected voice start, got %d", resp.StatusCode)
	}
	resp, _ = post(t, srv.URL+"/dictation/start")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 while in a voice session, got %d", resp.StatusCode)
	}
}

func TestHandler_ConcurrentStartsShareMicrophone(t *testing.T) {
	f := newFixture(t)
	entered := make(chan struct{})
	d := &fakeDictation{delay: 200 * time.Millisecond, entered: entered}
	srv := newServer(t, f, HandlerOptions{Dictation: d})

	dictation := make(chan int, 1)
	go func() {
		resp, err := http.Post(srv.URL+"/dictation/start", "application/json", nil)
		if err != nil {
			dictation <- 0
			return
		}
		resp.Body.Close()
		dictation <- resp.StatusCode
	}()
	<-entered

	resp, _ := post(t, srv.URL+"/voice/start")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409 while dictation is starting, got %d", resp.StatusCode)
	}
	if f.dialer.Dials() != 0 {
		t.Errorf("Expected no voice session, got %d dials", f.dialer.Dials())
	}
	if code := <-dictation; code != http.StatusOK {
		t.Errorf("Expected dictation to start, got %d", code)
	}
}

func TestHandler_Dictation(t *testing.T) {
	f := newFixture(t)
	d := &fakeDictation{item: appstate.CapturedItem{ID: "i1", Text: "call mom"}, captured: true}
	srv := newServer(t, f, HandlerOptions{Dictation: d})

	resp, body := post(t, srv.URL+"/dictation/start")
	if resp.StatusCode != http.StatusOK || body["listening"] != true {
		t.Fatalf("Unexpected start response %d %v", resp.StatusCode, body)
	}

	resp, body = post(t, srv.URL+"/dictation/stop")
	item, _ := body["item"].(map[string]any)
	if resp.StatusCode != http.StatusOK || body["captured"] != true || item["text"] != "call mom" {
		t.Errorf("Unexpected stop response %d %v", resp.StatusCode, body)
	}

	d.set(func(d *fakeDictation) { d.stopErr = stt.ErrDictationNotActive })
	resp, _ = post(t, srv.URL+"/dictation/stop")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409, got %d", resp.StatusCode)
	}

	d.set(func(d *fakeDictation) { d.startErr = stt.ErrDictationActive })
	resp, _ = post(t, srv.URL+"/dictation/start")
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("Expected 409, got %d", resp.StatusCode)
	}
}

func TestHandler_OptionalRoutesUnavailable(t *testing.T) {
	f := newFixture(t)
	srv := newServer(t, f, HandlerOptions{})

	for _, path := range []string{"/dictation/start", "/dictation/stop", "/quests/focus"} {
		resp, _ := post(t, srv.URL+path)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s: expected 503, got %d", path, resp.StatusCode)
		}
	}
	resp, _ := get(t, srv.URL+"/sessions")
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 without archive, got %d", resp.StatusCode)
	}
}

func TestHandler_FocusQuest(t *testing.T) {
	tests := []struct {
		name       string
		focus      *fakeFocus
		wantStatus int
		wantError  string
	}{
		{"chosen", &fakeFocus{quest: appstate.CapturedItem{ID: "q1", Text: "ship it"}}, http.StatusOK, ""},
		{"no quests", &fakeFocus{err: focus.ErrNoQuests}, http.StatusConflict, focus.ErrNoQuests.Error()},
		{"model failure", &fakeFocus{err: errors.New("503 unavailable")}, http.StatusBadGateway, focus.UserMessage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			srv := newServer(t, f, HandlerOptions{Focus: tt.focus})

			resp, body := post(t, srv.URL+"/quests/focus")
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("Expected %d, got %d", tt.wantStatus, resp.StatusCode)
			}
			if tt.wantError != "" && body["error"] != tt.wantError {
				t.Errorf("Expected error %q, got %v", tt.wantError, body["error"])
			}
			if tt.wantError == "" {
				quest, _ := body["quest"].(map[string]any)
				if quest["id"] != "q1" {
					t.Errorf("Unexpected quest %v", body)
				}
			}
		})
	}
}

func TestHandler_AppStateAndArchive(t *testing.T) {
	f := newFixture(t)
	f.state.Capture("water the plants")
	archive := &fakeArchive{}
	srv := newServer(t, f, HandlerOptions{Archive: archive})

	_, body := get(t, srv.URL+"/app/state")
	inbox, _ := body["inbox"].([]any)
	if len(inbox) != 1 {
		t.Errorf("Expected one inbox item, got %v", body)
	}

	_, body = get(t, srv.URL+"/sessions?limit=5")
	sessions, _ := body["sessions"].([]any)
	archive.mu.Lock()
	limit := archive.limit
	archive.mu.Unlock()
	if len(sessions) != 1 || limit != 5 {
		t.Errorf("Unexpected sessions %v (limit %d)", body, limit)
	}

	resp, _ := get(t, srv.URL+"/sessions?limit=x")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("Expected 400, got %d", resp.StatusCode)
	}

	_, body = get(t, srv.URL+"/sessions/s1/transcript")
	entries, _ := body["transcript"].([]any)
	first, _ := entries[0].(map[string]any)
	if first["session_id"] != "s1" || first["text"] != "hi" {
		t.Errorf("Unexpected transcript %v", body)
	}
}

func TestHandler_EventsStream(t *testing.T) {
	f := newFixture(t)
	srv := newServer(t, f, HandlerOptions{})

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/voice/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial failed: %v", err)
	}
	defer conn.Close()
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))

	var snap Snapshot
	if err := conn.ReadJSON(&snap); err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if snap.State != live.StateIdle {
		t.Errorf("Expected initial IDLE snapshot, got %s", snap.State)
	}

	if err := f.controller.Start(context.Background(), "pep"); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	for snap.State != live.StateListening {
		if err := conn.ReadJSON(&snap); err != nil {
			t.Fatalf("Expected LISTENING snapshot: %v", err)
		}
	}
	if snap.Persona != "pep" || len(snap.Transcript) != 1 {
		t.Errorf("Unexpected snapshot %+v", snap)
	}
}
