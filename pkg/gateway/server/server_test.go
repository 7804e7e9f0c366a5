package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/murmurhq/murmur/pkg/core"
	"github.com/murmurhq/murmur/pkg/core/hub"
	"github.com/murmurhq/murmur/pkg/core/session"
)

type fakeAgent struct {
	mu       sync.Mutex
	started  []string
	ended    []string
	plan     core.AskPlan
	startErr error
	planErr  error
	lastAsk  core.AskRequest
}

func (f *fakeAgent) HandleMeetingStarted(meetingID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, meetingID)
	return f.startErr
}

func (f *fakeAgent) HandleMeetingEnded(meetingID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ended = append(f.ended, meetingID)
}

func (f *fakeAgent) PlanQuestion(ctx context.Context, meetingID string, ask core.AskRequest) (core.AskPlan, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastAsk = ask
	return f.plan, f.planErr
}

type fakeRelays struct {
	mu       sync.Mutex
	started  map[string]string
	stopped  []string
	startErr error
}

func newFakeRelays() *fakeRelays {
	return &fakeRelays{started: make(map[string]string)}
}

func (f *fakeRelays) Start(ctx context.Context, meetingID, mediaURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.started[meetingID] = mediaURL
	return nil
}

func (f *fakeRelays) Stop(meetingID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = append(f.stopped, meetingID)
	delete(f.started, meetingID)
}

func (f *fakeRelays) Active(meetingID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.started[meetingID]
	return ok
}

type testEnv struct {
	server *Server
	agent  *fakeAgent
	relays *fakeRelays
	reg    *session.Registry
	hub    *hub.Hub
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	agent := &fakeAgent{}
	relays := newFakeRelays()
	reg := session.NewRegistry(session.Options{})
	h := hub.New(hub.Options{})
	s := New(Options{
		Agent:          agent,
		Relays:         relays,
		Sessions:       reg,
		Hub:            h,
		WSPingInterval: 50 * time.Millisecond,
		WSWriteTimeout: time.Second,
	})
	return &testEnv{server: s, agent: agent, relays: relays, reg: reg, hub: h}
}

func doJSON(t *testing.T, e *testEnv, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echoHeaderContentType, "application/json")
	}
	rec := httptest.NewRecorder()
	e.server.Echo().ServeHTTP(rec, req)
	return rec
}

const echoHeaderContentType = "Content-Type"

func TestHealthz(t *testing.T) {
	e := newTestEnv(t)
	rec := doJSON(t, e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookMeetingStarted(t *testing.T) {
	e := newTestEnv(t)
	rec := doJSON(t, e, http.MethodPost, "/webhooks/recall", `{"type":"meeting.started","meetingId":"m1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}
	if len(e.agent.started) != 1 || e.agent.started[0] != "m1" {
		t.Fatalf("started = %v", e.agent.started)
	}
}

func TestWebhookDuplicateStartStillAcks(t *testing.T) {
	e := newTestEnv(t)
	e.agent.startErr = core.ErrDuplicateSession
	rec := doJSON(t, e, http.MethodPost, "/webhooks/recall", `{"type":"meeting.started","meetingId":"m1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, duplicate must still be acknowledged", rec.Code)
	}
}

func TestWebhookMediaReadyStartsRelay(t *testing.T) {
	e := newTestEnv(t)
	rec := doJSON(t, e, http.MethodPost, "/webhooks/recall",
		`{"type":"media.ready","meetingId":"m1","mediaSocketUrl":"wss://media.example/m1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if got := e.relays.started["m1"]; got != "wss://media.example/m1" {
		t.Fatalf("relay url = %q", got)
	}
}

func TestWebhookMediaReadyRequiresURL(t *testing.T) {
	e := newTestEnv(t)
	rec := doJSON(t, e, http.MethodPost, "/webhooks/recall", `{"type":"media.ready","meetingId":"m1"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestWebhookMeetingEndedStopsRelayAndSession(t *testing.T) {
	e := newTestEnv(t)
	e.relays.started["m1"] = "wss://media.example/m1"
	rec := doJSON(t, e, http.MethodPost, "/webhooks/recall", `{"type":"meeting.ended","meetingId":"m1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(e.relays.stopped) != 1 || e.relays.stopped[0] != "m1" {
		t.Fatalf("stopped = %v", e.relays.stopped)
	}
	if len(e.agent.ended) != 1 || e.agent.ended[0] != "m1" {
		t.Fatalf("ended = %v", e.agent.ended)
	}
}

func TestWebhookUnknownTypeAcks(t *testing.T) {
	e := newTestEnv(t)
	rec := doJSON(t, e, http.MethodPost, "/webhooks/recall", `{"type":"recording.done","meetingId":"m1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestWebhookRequiresMeetingID(t *testing.T) {
	e := newTestEnv(t)
	rec := doJSON(t, e, http.MethodPost, "/webhooks/recall", `{"type":"meeting.started"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestAskHappyPath(t *testing.T) {
	e := newTestEnv(t)
	e.agent.plan = core.AskPlan{
		RefinedText:      "Could you clarify the timeline?",
		Strategy:         core.StrategyRaiseHand,
		OriginalPriority: core.PriorityPolite,
	}

	rec := doJSON(t, e, http.MethodPost, "/meetings/m1/ask", `{"text":"timeline?","priority":"polite"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body)
	}

	var resp struct {
		MeetingID string       `json:"meetingId"`
		Plan      core.AskPlan `json:"plan"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.MeetingID != "m1" || resp.Plan.Strategy != core.StrategyRaiseHand {
		t.Fatalf("response = %+v", resp)
	}
}

func TestAskDefaultsPriorityToPolite(t *testing.T) {
	e := newTestEnv(t)
	rec := doJSON(t, e, http.MethodPost, "/meetings/m1/ask", `{"text":"question"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if e.agent.lastAsk.Priority != core.PriorityPolite {
		t.Fatalf("priority = %q, want polite", e.agent.lastAsk.Priority)
	}
}

func TestAskValidation(t *testing.T) {
	e := newTestEnv(t)

	rec := doJSON(t, e, http.MethodPost, "/meetings/m1/ask", `{"priority":"polite"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("empty text status = %d, want 400", rec.Code)
	}

	rec = doJSON(t, e, http.MethodPost, "/meetings/m1/ask", `{"text":"q","priority":"urgent"}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("bad priority status = %d, want 400", rec.Code)
	}
}

func TestAskUnknownMeetingIs404(t *testing.T) {
	e := newTestEnv(t)
	e.agent.planErr = core.ErrUnknownSession
	rec := doJSON(t, e, http.MethodPost, "/meetings/ghost/ask", `{"text":"q"}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestAskPlanningFailureIs502(t *testing.T) {
	e := newTestEnv(t)
	e.agent.planErr = core.ErrPlanningFailed
	rec := doJSON(t, e, http.MethodPost, "/meetings/m1/ask", `{"text":"q"}`)
	if rec.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want 502", rec.Code)
	}
}

func TestMeetingStatus(t *testing.T) {
	e := newTestEnv(t)
	if _, err := e.reg.Create("m1"); err != nil {
		t.Fatalf("Create: %v", err)
	}
	e.relays.started["m1"] = "wss://media.example/m1"

	rec := doJSON(t, e, http.MethodGet, "/meetings/m1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Session     session.Session `json:"session"`
		RelayActive bool            `json:"relayActive"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Session.ID != "m1" || resp.Session.Status != session.StatusActive || !resp.RelayActive {
		t.Fatalf("response = %+v", resp)
	}

	rec = doJSON(t, e, http.MethodGet, "/meetings/ghost", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown meeting status = %d, want 404", rec.Code)
	}
}

func TestEventsWebSocketDeliversHubEvents(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.server.Echo())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/meetings/m1/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Subscription registers asynchronously with the upgrade.
	deadline := time.Now().Add(time.Second)
	for e.hub.SubscriberCount("m1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(time.Millisecond)
	}

	e.hub.Publish(hub.Event{
		Type:      hub.EventBriefUpdate,
		MeetingID: "m1",
		Payload:   core.Brief{Summary: "the launch date moved to friday"},
	})

	conn.SetReadDeadline(time.Now().Add(time.Second))
	var ev hub.Event
	if err := conn.ReadJSON(&ev); err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.Type != hub.EventBriefUpdate || ev.MeetingID != "m1" {
		t.Fatalf("event = %+v", ev)
	}
	if ev.Timestamp.IsZero() {
		t.Fatal("event timestamp not stamped")
	}
}

func TestEventsWebSocketUnsubscribesOnClose(t *testing.T) {
	e := newTestEnv(t)
	srv := httptest.NewServer(e.server.Echo())
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/meetings/m1/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}

	deadline := time.Now().Add(time.Second)
	for e.hub.SubscriberCount("m1") == 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber never registered")
		}
		time.Sleep(time.Millisecond)
	}

	conn.Close()
	deadline = time.Now().Add(2 * time.Second)
	for e.hub.SubscriberCount("m1") != 0 {
		if time.Now().After(deadline) {
			t.Fatal("subscriber not removed after close")
		}
		time.Sleep(time.Millisecond)
	}
}
