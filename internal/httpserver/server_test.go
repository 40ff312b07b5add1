package httpserver

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/Aryanpatel2001/voiceflow/internal/config"
	"github.com/Aryanpatel2001/voiceflow/internal/engine"
	"github.com/Aryanpatel2001/voiceflow/internal/flow"
	"github.com/Aryanpatel2001/voiceflow/internal/session"
	"github.com/Aryanpatel2001/voiceflow/internal/store"
)

func mustConfig(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	return raw
}

func bookingFlow(t *testing.T) *flow.Flow {
	t.Helper()
	return &flow.Flow{
		ID:   "booking",
		Name: "Booking",
		Nodes: []flow.Node{
			{ID: "start", Kind: flow.NodeStart, Config: mustConfig(t, flow.StartConfig{
				SpeaksFirst: true,
				Greeting:    &flow.Content{Mode: flow.ContentStatic, Text: "Hello, this is the booking line."},
			})},
			{ID: "ask", Kind: flow.NodeConversation, Config: mustConfig(t, flow.ConversationConfig{
				Content: flow.Content{Mode: flow.ContentStatic, Text: "How can I help you today?"},
				Transitions: []flow.Transition{
					{ID: "t1", Type: flow.TransitionPrompt, Condition: "user wants to book an appointment", OutputHandle: "book"},
				},
			})},
			{ID: "bye", Kind: flow.NodeEnd, Config: mustConfig(t, flow.EndConfig{
				SpeakDuringExecution: &flow.Content{Mode: flow.ContentStatic, Text: "Goodbye."},
				Reason:               "completed",
			})},
		},
		Edges: []flow.Edge{
			{ID: "e1", Source: "start", Target: "ask"},
			{ID: "e2", Source: "ask", Target: "bye", SourceHandle: "book"},
		},
	}
}

func testServer(t *testing.T) *Server {
	t.Helper()
	mem := store.NewMemory()
	if err := mem.RegisterFlow("booking", bookingFlow(t)); err != nil {
		t.Fatalf("register flow: %v", err)
	}
	cfg := config.Config{TwilioAuthToken: "token", DefaultFlowID: "booking"}
	return New(cfg, mem, engine.New(engine.SimulatedReasoner{}), nil, session.NewRegistry())
}

func TestServer_Healthz(t *testing.T) {
	srv := testServer(t)
	r := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

func TestCall_BadJSON(t *testing.T) {
	srv := testServer(t)
	r := httptest.NewRequest(http.MethodPost, "/call", strings.NewReader("not-json"))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestTwilioVoice_Unsigned(t *testing.T) {
	srv := testServer(t)
	r := httptest.NewRequest(http.MethodPost, "/twilio/voice", strings.NewReader("CallSid=CA1"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestSimulate_RunsFlowToEnd(t *testing.T) {
	srv := testServer(t)
	body := `{"flow_id":"booking","messages":["I want to book an appointment for tomorrow"]}`
	r := httptest.NewRequest(http.MethodPost, "/simulate", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp simulateResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.EndReason != "completed" {
		t.Fatalf("end reason = %q, want completed", resp.EndReason)
	}
	var sawGreeting, sawGoodbye bool
	for _, turn := range resp.Turns {
		if turn.Role == "assistant" && strings.Contains(turn.Text, "booking line") {
			sawGreeting = true
		}
		if turn.Role == "assistant" && turn.Text == "Goodbye." {
			sawGoodbye = true
		}
	}
	if !sawGreeting || !sawGoodbye {
		t.Fatalf("missing greeting or goodbye in turns: %+v", resp.Turns)
	}
}

func TestSimulate_UnknownFlow(t *testing.T) {
	srv := testServer(t)
	r := httptest.NewRequest(http.MethodPost, "/simulate", strings.NewReader(`{"flow_id":"nope"}`))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	srv.Echo.ServeHTTP(w, r)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}
