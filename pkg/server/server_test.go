package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/edelvalle/djhtmx/pkg/component"
	"github.com/edelvalle/djhtmx/pkg/dispatch"
	"github.com/edelvalle/djhtmx/pkg/protocol"
	"github.com/edelvalle/djhtmx/pkg/registry"
	"github.com/edelvalle/djhtmx/pkg/render"
	"github.com/edelvalle/djhtmx/pkg/signal"
	"github.com/edelvalle/djhtmx/pkg/store"
)

type testCounter struct {
	component.Base
	Count int `json:"count"`
}

func (c *testCounter) Subscriptions() []string { return []string{"counter.model"} }

func newTestTypes(t *testing.T) (*component.TypeRegistry, render.Renderer) {
	t.Helper()

	types := component.NewTypeRegistry()
	counter := component.Register(types, "Counter", func() *testCounter { return &testCounter{} })
	component.HandlerP(counter, "inc", func(c *testCounter, p struct {
		Amount int `json:"amount"`
	}) ([]component.Command, error) {
		c.Count += p.Amount
		return nil, nil
	})
	counter.Handler("boom", func(c *testCounter, p component.Params) ([]component.Command, error) {
		return nil, errors.New("kaput")
	})

	renderer := render.NewTemplateRenderer()
	renderer.MustRegister("Counter", `<div id="{{.this.id}}">{{.count}}</div>`)
	return types, renderer
}

func newTestManager(t *testing.T, mutate func(*Config)) (*Manager, *store.MemoryStore, *httptest.Server) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.SigningKey = "test-key"
	cfg.CheckOrigin = func(*http.Request) bool { return true }
	if mutate != nil {
		mutate(cfg)
	}

	types, renderer := newTestTypes(t)
	st := store.NewMemoryStore()
	t.Cleanup(func() { st.Close() })

	m := NewManager(types, renderer, st, cfg, WithRegisterer(prometheus.NewRegistry()))
	ts := httptest.NewServer(m.Routes())
	t.Cleanup(ts.Close)
	return m, st, ts
}

func dialWS(t *testing.T, ts *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	if sessionID != "" {
		wsURL += "?session=" + sessionID
	}
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func sendMessage(t *testing.T, conn *websocket.Conn, msg *protocol.ClientMessage) {
	t.Helper()

	data, err := msg.Encode()
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func readCommands(t *testing.T, conn *websocket.Conn) []protocol.Command {
	t.Helper()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var cmds []protocol.Command
	if err := json.Unmarshal(data, &cmds); err != nil {
		t.Fatalf("decode commands: %v", err)
	}
	return cmds
}

func signedCounter(t *testing.T, m *Manager, id string, count int) (blob, fingerprint string) {
	t.Helper()

	state := json.RawMessage(fmt.Sprintf(`{"id":%q,"count":%d}`, id, count))
	blob, err := m.Signer().SignState(id, "Counter", state)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	return blob, registry.Fingerprint(state)
}

func TestWebSocketEventRoundTrip(t *testing.T) {
	m, _, ts := newTestManager(t, nil)
	conn := dialWS(t, ts, "")

	blob, fp := signedCounter(t, m, "hx-c1", 1)
	sendMessage(t, conn, protocol.NewAdded([]string{blob}, map[string]string{"hx-c1": "counter.model"}))
	sendMessage(t, conn, protocol.NewEvent("hx-c1", "inc", map[string]any{"amount": 2}, fp))

	cmds := readCommands(t, conn)
	if len(cmds) != 1 {
		t.Fatalf("got %d commands, want 1: %+v", len(cmds), cmds)
	}
	if cmds[0].Command != protocol.CmdRender || cmds[0].ComponentID != "hx-c1" {
		t.Errorf("unexpected command: %+v", cmds[0])
	}
	if !strings.Contains(cmds[0].HTML, ">3<") {
		t.Errorf("HTML = %q, want count 3", cmds[0].HTML)
	}
}

func TestWebSocketStaleFingerprintResync(t *testing.T) {
	m, _, ts := newTestManager(t, nil)
	conn := dialWS(t, ts, "")

	blob, _ := signedCounter(t, m, "hx-c1", 1)
	sendMessage(t, conn, protocol.NewAdded([]string{blob}, nil))
	sendMessage(t, conn, protocol.NewEvent("hx-c1", "inc", map[string]any{"amount": 2}, "bogus"))

	cmds := readCommands(t, conn)
	if len(cmds) != 1 || cmds[0].Command != protocol.CmdSendState {
		t.Fatalf("got %+v, want a single send_state resync", cmds)
	}
	if cmds[0].ComponentID != "hx-c1" || cmds[0].State == "" {
		t.Errorf("resync frame incomplete: %+v", cmds[0])
	}

	// The state must be unchanged: replay with the real fingerprint.
	_, fp := signedCounter(t, m, "hx-c1", 1)
	sendMessage(t, conn, protocol.NewEvent("hx-c1", "inc", map[string]any{"amount": 2}, fp))
	cmds = readCommands(t, conn)
	if len(cmds) != 1 || !strings.Contains(cmds[0].HTML, ">3<") {
		t.Errorf("replay after resync = %+v, want count 3", cmds)
	}
}

func TestWebSocketSignalBroadcast(t *testing.T) {
	m, _, ts := newTestManager(t, nil)
	conn := dialWS(t, ts, "abc123")

	blob, _ := signedCounter(t, m, "hx-c1", 7)
	sendMessage(t, conn, protocol.NewAdded([]string{blob},
		map[string]string{"hx-c1": "counter.model,counter.model.55"}))

	sess := waitForSession(t, m, "abc123")
	waitFor(t, func() bool { return sess.Dispatcher().Registry().Len() == 1 })

	m.Broadcast("counter.model", "55", signal.Updated)
	cmds := readCommands(t, conn)
	if len(cmds) != 1 || cmds[0].Command != protocol.CmdRender {
		t.Fatalf("got %+v, want one render", cmds)
	}
	if !strings.Contains(cmds[0].HTML, ">7<") {
		t.Errorf("HTML = %q, want committed count 7", cmds[0].HTML)
	}

	// Deleting some other instance reaches this component only through
	// its entity-prefix subscription: a re-render, not a destroy.
	m.Broadcast("counter.model", "99", signal.Deleted)
	cmds = readCommands(t, conn)
	if len(cmds) != 1 || cmds[0].Command != protocol.CmdRender {
		t.Fatalf("got %+v, want one render", cmds)
	}
	if sess.Dispatcher().Registry().Len() != 1 {
		t.Fatal("foreign deletion destroyed the component")
	}

	// Deleting the instance it owns destroys it.
	m.Broadcast("counter.model", "55", signal.Deleted)
	cmds = readCommands(t, conn)
	if len(cmds) != 1 || cmds[0].Command != protocol.CmdDestroy {
		t.Fatalf("got %+v, want one destroy", cmds)
	}
	if sess.Dispatcher().Registry().Len() != 0 {
		t.Error("destroyed component still registered")
	}
}

func TestSessionDetachAndReattach(t *testing.T) {
	m, st, ts := newTestManager(t, nil)
	conn := dialWS(t, ts, "reattach-1")

	blob, fp := signedCounter(t, m, "hx-c1", 1)
	sendMessage(t, conn, protocol.NewAdded([]string{blob}, nil))
	sendMessage(t, conn, protocol.NewEvent("hx-c1", "inc", map[string]any{"amount": 4}, fp))
	readCommands(t, conn)

	conn.Close()
	waitFor(t, func() bool { return st.Count() == 1 })

	conn2 := dialWS(t, ts, "reattach-1")
	sess := waitForSession(t, m, "reattach-1")
	in, ok := sess.Dispatcher().Registry().Get("hx-c1")
	if !ok {
		t.Fatal("component not restored")
	}
	if !strings.Contains(string(in.State), `"count":5`) {
		t.Errorf("restored state = %s, want count 5", in.State)
	}

	// The restored fingerprint accepts events directly.
	sendMessage(t, conn2, protocol.NewEvent("hx-c1", "inc", map[string]any{"amount": 1}, in.Fingerprint))
	cmds := readCommands(t, conn2)
	if len(cmds) != 1 || !strings.Contains(cmds[0].HTML, ">6<") {
		t.Errorf("post-reattach render = %+v, want count 6", cmds)
	}
}

func TestMaxSessions(t *testing.T) {
	m, st, ts := newTestManager(t, func(c *Config) { c.MaxSessions = 1 })
	dialWS(t, ts, "")
	waitFor(t, func() bool { return m.Len() == 1 })

	// A detached snapshot about to expire, whose owner is trying to get
	// back in.
	ctx := context.Background()
	if err := st.Save(ctx, "waiting-1", []byte("snapshot"), time.Now().Add(50*time.Millisecond)); err != nil {
		t.Fatalf("save: %v", err)
	}

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws?session=waiting-1"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err == nil {
		t.Fatal("second dial succeeded past the session limit")
	}
	if resp == nil || resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("status = %v, want 503", resp)
	}

	// The refused reconnect extended the snapshot's expiry past its
	// original deadline.
	time.Sleep(100 * time.Millisecond)
	data, err := st.Load(ctx, "waiting-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if data == nil {
		t.Error("snapshot expired despite the reconnect attempt")
	}
}

func TestStatelessHTTPEvent(t *testing.T) {
	m, _, ts := newTestManager(t, nil)

	blob, fp := signedCounter(t, m, "hx-c1", 1)
	form := url.Values{}
	form.Add(fieldStates, blob)
	form.Set(fieldFingerprint, fp)
	form.Set(fieldParams, `{"amount":2}`)

	resp, err := http.PostForm(ts.URL+"/hx-c1/inc", form)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}

	var cmds []protocol.Command
	if err := json.NewDecoder(resp.Body).Decode(&cmds); err != nil {
		t.Fatalf("decode: %v", err)
	}

	var sawRender, sawState bool
	for _, cmd := range cmds {
		switch cmd.Command {
		case protocol.CmdRender:
			sawRender = true
			if !strings.Contains(cmd.HTML, ">3<") {
				t.Errorf("HTML = %q, want count 3", cmd.HTML)
			}
		case protocol.CmdSendState:
			sawState = true
			id, typeName, state, err := m.Signer().UnsignState(cmd.State)
			if err != nil {
				t.Fatalf("unsign refreshed state: %v", err)
			}
			if id != "hx-c1" || typeName != "Counter" || !strings.Contains(string(state), `"count":3`) {
				t.Errorf("refreshed state = %s %s %s", id, typeName, state)
			}
		}
	}
	if !sawRender || !sawState {
		t.Errorf("commands missing render or send_state: %+v", cmds)
	}
}

func TestStatelessHTTPStaleFingerprint(t *testing.T) {
	m, _, ts := newTestManager(t, nil)

	blob, _ := signedCounter(t, m, "hx-c1", 1)
	form := url.Values{}
	form.Add(fieldStates, blob)
	form.Set(fieldFingerprint, "bogus")

	resp, err := http.PostForm(ts.URL+"/hx-c1/inc", form)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("status = %d, want 409", resp.StatusCode)
	}
}

func TestStatelessHTTPTamperedState(t *testing.T) {
	m, _, ts := newTestManager(t, nil)

	blob, fp := signedCounter(t, m, "hx-c1", 1)
	form := url.Values{}
	form.Add(fieldStates, blob+"x")
	form.Set(fieldFingerprint, fp)

	resp, err := http.PostForm(ts.URL+"/hx-c1/inc", form)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestStatelessHTTPUnknownHandler(t *testing.T) {
	m, _, ts := newTestManager(t, nil)

	blob, fp := signedCounter(t, m, "hx-c1", 1)
	form := url.Values{}
	form.Add(fieldStates, blob)
	form.Set(fieldFingerprint, fp)

	resp, err := http.PostForm(ts.URL+"/hx-c1/nope", form)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestEventResult(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{nil, ResultOK},
		{dispatch.ErrIntegrity, ResultStale},
		{fmt.Errorf("wrap: %w", dispatch.ErrBadParams), ResultRejected},
		{errors.New("other"), ResultError},
	}
	for _, tc := range cases {
		if got := eventResult(tc.err); got != tc.want {
			t.Errorf("eventResult(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestSameOriginCheck(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "http://example.com/ws", nil)
	if !SameOriginCheck(req) {
		t.Error("missing origin rejected")
	}

	req.Header.Set("Origin", "http://example.com")
	if !SameOriginCheck(req) {
		t.Error("same origin rejected")
	}

	req.Header.Set("Origin", "http://evil.test")
	if SameOriginCheck(req) {
		t.Error("cross origin accepted")
	}
}

func waitForSession(t *testing.T, m *Manager, id string) *Session {
	t.Helper()

	var sess *Session
	waitFor(t, func() bool {
		s, err := m.Get(id)
		sess = s
		return err == nil
	})
	return sess
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition never met")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
