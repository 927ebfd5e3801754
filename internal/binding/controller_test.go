package binding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/lexiqai/lounge-voice/internal/appstate"
	"github.com/lexiqai/lounge-voice/internal/audio/audiotest"
	"github.com/lexiqai/lounge-voice/internal/live"
	"github.com/lexiqai/lounge-voice/internal/live/livetest"
	"github.com/lexiqai/lounge-voice/internal/persona"
)

type fixture struct {
	controller *Controller
	dialer     *livetest.Dialer
	mic        *audiotest.Microphone
	state      *appstate.Store
	recorder   *livetest.Recorder
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	catalog := persona.Default()
	f := &fixture{
		dialer:   &livetest.Dialer{},
		mic:      audiotest.NewMicrophone(),
		state:    appstate.NewStore(nil),
		recorder: &livetest.Recorder{},
	}
	c, err := NewController(Options{
		Endpoint:   "ws://upstream.test/live",
		Catalog:    catalog,
		Tools:      appstate.NewToolSet(f.state, catalog),
		Dialer:     f.dialer,
		Microphone: f.mic,
		Speaker:    audiotest.NewSink(),
		Observers:  []live.Observer{f.recorder},
	})
	if err != nil {
		t.Fatalf("NewController failed: %v", err)
	}
	f.controller = c
	t.Cleanup(c.Close)
	return f
}

func TestNewController_Validation(t *testing.T) {
	catalog := persona.Default()
	tools := appstate.NewToolSet(appstate.NewStore(nil), catalog)

	tests := []struct {
		name string
		opts Options
	}{
		{"missing catalog", Options{Tools: tools}},
		{"missing tools", Options{Catalog: catalog}},
		{"unknown default", Options{Catalog: catalog, Tools: tools, DefaultPersona: "nobody"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewController(tt.opts); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestController_IdleStatus(t *testing.T) {
	f := newFixture(t)

	st := f.controller.Status()
	if st.State != live.StateIdle || st.Label != "" || st.SessionID != "" {
		t.Errorf("Unexpected idle status %+v", st)
	}
	if tr := f.controller.Transcript(); tr == nil || len(tr) != 0 {
		t.Errorf("Expected empty non-nil transcript, got %v", tr)
	}
	if f.controller.Active() {
		t.Error("Expected inactive controller")
	}
}

func TestController_StartStop(t *testing.T) {
	f := newFixture(t)

	if err := f.controller.Start(context.Background(), ""); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	st := f.controller.Status()
	if st.State != live.StateListening || st.Label != "Listening..." || st.Persona != persona.Hub {
		t.Errorf("Unexpected status %+v", st)
	}
	if st.SessionID == "" {
		t.Error("Expected session ID")
	}

	// Same persona again is a no-op
	if err := f.controller.Start(context.Background(), persona.Hub); err != nil {
		t.Fatalf("Second start failed: %v", err)
	}
	if f.dialer.Dials() != 1 {
		t.Errorf("Expected one dial, got %d", f.dialer.Dials())
	}

	f.controller.Stop()
	st = f.controller.Status()
	if st.State != live.StateEnded || st.Label != "Session Ended." {
		t.Errorf("Unexpected status after stop %+v", st)
	}
	if f.mic.Closes() != 1 {
		t.Errorf("Expected microphone released, got %d closes", f.mic.Closes())
	}
}

func TestController_SwitchPersona(t *testing.T) {
	f := newFixture(t)

	if err := f.controller.Start(context.Background(), persona.Sonia); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	first := f.dialer.Last()
	firstID := f.controller.Status().SessionID

	if tr := f.controller.Transcript(); len(tr) != 1 || tr[0].Speaker != live.SpeakerAssistant {
		t.Errorf("Expected intro dialogue, got %+v", tr)
	}

	// Spoken names resolve too
	if err := f.controller.Start(context.Background(), "Sister Mary"); err != nil {
		t.Fatalf("Switch failed: %v", err)
	}
	if f.dialer.Dials() != 2 {
		t.Fatalf("Expected a new session, got %d dials", f.dialer.Dials())
	}
	if first.Closes() == 0 {
		t.Error("Expected previous transport closed")
	}

	st := f.controller.Status()
	if st.Persona != persona.SisterMary || st.State != live.StateListening || st.SessionID == firstID {
		t.Errorf("Unexpected status after switch %+v", st)
	}
}

func TestController_UnknownPersona(t *testing.T) {
	f := newFixture(t)

	err := f.controller.Start(context.Background(), "nobody")
	if !errors.Is(err, ErrUnknownPersona) {
		t.Errorf("Expected ErrUnknownPersona, got %v", err)
	}
	if f.dialer.Dials() != 0 {
		t.Error("Expected no dial")
	}
}

func TestController_ConnectionErrorLabel(t *testing.T) {
	f := newFixture(t)
	f.dialer.Err = errors.New("connection refused")

	if err := f.controller.Start(context.Background(), persona.Pep); err == nil {
		t.Fatal("Expected start error")
	}
	st := f.controller.Status()
	if st.State != live.StateError || st.Label != "Connection Error." {
		t.Errorf("Unexpected status %+v", st)
	}
}

func TestController_SubscribeSignalsChanges(t *testing.T) {
	f := newFixture(t)

	changes, cancel := f.controller.Subscribe()
	defer cancel()

	if err := f.controller.Start(context.Background(), persona.Jake); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected change signal")
	}

	// Drain, then a transcript turn signals again
	select {
	case <-changes:
	default:
	}
	conn := f.dialer.Last()
	conn.Deliver(map[string]any{"serverContent": map[string]any{
		"inputTranscription": map[string]any{"text": "hello"},
		"turnComplete":       true,
	}})
	select {
	case <-changes:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected change signal for transcript")
	}

	snap := f.controller.Snapshot()
	if snap.Persona != persona.Jake || len(snap.Transcript) == 0 {
		t.Errorf("Unexpected snapshot %+v", snap)
	}
	if len(f.recorder.States()) == 0 {
		t.Error("Expected configured observers to receive events")
	}
}
