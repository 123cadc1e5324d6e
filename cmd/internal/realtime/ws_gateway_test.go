package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"tasker/cmd/internal/tasks"
	"tasker/cmd/security/token"
	v1 "tasker/shared/contracts/taskevents/v1"

	"github.com/coder/websocket"
)

type gatewayEnv struct {
	srv    *httptest.Server
	hub    *Hub
	tokens token.Manager
}

func newGatewayEnv(t *testing.T, cfg GatewayConfig) *gatewayEnv {
	t.Helper()

	tokens, err := token.NewManager(token.Config{
		Format: token.FormatPASETO,
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		Issuer: "tasker",
		TTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("token.NewManager: %v", err)
	}

	hub := NewHub(discardLogger())
	g, err := NewWSGateway(discardLogger(), hub, tokens, cfg)
	if err != nil {
		t.Fatalf("NewWSGateway: %v", err)
	}

	srv := httptest.NewServer(g)
	t.Cleanup(srv.Close)
	return &gatewayEnv{srv: srv, hub: hub, tokens: tokens}
}

func (e *gatewayEnv) tokenFor(t *testing.T, userID string) string {
	t.Helper()

	tok, _, err := e.tokens.Issue(token.Subject{UserID: userID, Email: userID + "@x.com"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	return tok
}

func (e *gatewayEnv) wsURL() string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http")
}

func (e *gatewayEnv) dial(t *testing.T, ctx context.Context, tok string) *websocket.Conn {
	t.Helper()

	conn, res, err := websocket.Dial(ctx, e.wsURL(), &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   http.Header{"Authorization": []string{"Bearer " + tok}},
	})
	if err != nil {
		status := 0
		if res != nil {
			status = res.StatusCode
		}
		t.Fatalf("dial: %v (status %d)", err, status)
	}
	t.Cleanup(func() { _ = conn.CloseNow() })
	return conn
}

func readEnv(t *testing.T, ctx context.Context, conn *websocket.Conn) v1.Envelope {
	t.Helper()

	_, data, err := conn.Read(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var env v1.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("decode %q: %v", data, err)
	}
	return env
}

func writeEnv(t *testing.T, ctx context.Context, conn *websocket.Conn, typ string) {
	t.Helper()

	b, _ := json.Marshal(v1.Envelope{V: v1.Version, Type: typ, TS: time.Now().UTC()})
	if err := conn.Write(ctx, websocket.MessageText, b); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func TestWSGateway_RejectsBeforeUpgrade(t *testing.T) {
	t.Parallel()

	env := newGatewayEnv(t, GatewayConfig{AllowedOrigins: []string{"http://localhost:3000"}})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cases := []struct {
		name   string
		header http.Header
		want   int
	}{
		{"no token", http.Header{}, http.StatusUnauthorized},
		{"bad token", http.Header{"Authorization": []string{"Bearer nope"}}, http.StatusUnauthorized},
		{
			"foreign origin",
			http.Header{
				"Authorization": []string{"Bearer " + env.tokenFor(t, "alice")},
				"Origin":        []string{"https://evil.example"},
			},
			http.StatusForbidden,
		},
	}
	for _, tc := range cases {
		_, res, err := websocket.Dial(ctx, env.wsURL(), &websocket.DialOptions{
			Subprotocols: []string{v1.Subprotocol},
			HTTPHeader:   tc.header,
		})
		if err == nil {
			t.Fatalf("%s: expected handshake failure", tc.name)
		}
		if res == nil || res.StatusCode != tc.want {
			t.Fatalf("%s: got response %+v want status %d", tc.name, res, tc.want)
		}
	}
}

func TestWSGateway_HelloAndOwnerScopedEvents(t *testing.T) {
	t.Parallel()

	env := newGatewayEnv(t, GatewayConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, env.tokenFor(t, "alice"))

	hello := readEnv(t, ctx, conn)
	if hello.Type != v1.TypeHello {
		t.Fatalf("first envelope=%s want hello", hello.Type)
	}
	var hp v1.HelloPayload
	if err := json.Unmarshal(hello.Payload, &hp); err != nil {
		t.Fatalf("hello payload: %v", err)
	}
	if hp.UserID != "alice" || hp.SessionID == "" {
		t.Fatalf("unexpected hello: %+v", hp)
	}

	env.hub.Publish(ctx, tasks.Event{Type: tasks.EventCreated, Task: tasks.Task{ID: "bobs", OwnerID: "bob"}})
	env.hub.Publish(ctx, tasks.Event{Type: tasks.EventUpdated, Task: tasks.Task{ID: "alices", OwnerID: "alice", Title: "t"}})

	got := readEnv(t, ctx, conn)
	if got.Type != v1.TypeTaskUpdated {
		t.Fatalf("got %s want %s", got.Type, v1.TypeTaskUpdated)
	}
	var tp v1.TaskPayload
	if err := json.Unmarshal(got.Payload, &tp); err != nil {
		t.Fatalf("task payload: %v", err)
	}
	if tp.ID != "alices" {
		t.Fatalf("received foreign event: %+v", tp)
	}

	writeEnv(t, ctx, conn, v1.TypeTaskCreated)
	if e := readEnv(t, ctx, conn); e.Type != v1.TypeError {
		t.Fatalf("client-sent task event must be refused, got %s", e.Type)
	}
}

func TestWSGateway_ListenOnlyClientOutlivesIdleWindow(t *testing.T) {
	t.Parallel()

	env := newGatewayEnv(t, GatewayConfig{
		HeartbeatInterval: 50 * time.Millisecond,
		HeartbeatTimeout:  time.Second,
		ReadIdleTimeout:   300 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, env.tokenFor(t, "dave"))
	if e := readEnv(t, ctx, conn); e.Type != v1.TypeHello {
		t.Fatalf("got %s want hello", e.Type)
	}

	type result struct {
		data []byte
		err  error
	}
	got := make(chan result, 1)
	// The pending Read answers server pings while the client sends nothing.
	go func() {
		_, data, err := conn.Read(ctx)
		got <- result{data, err}
	}()

	time.Sleep(800 * time.Millisecond)
	env.hub.Publish(ctx, tasks.Event{Type: tasks.EventCreated, Task: tasks.Task{ID: "d1", OwnerID: "dave", Title: "t"}})

	select {
	case r := <-got:
		if r.err != nil {
			t.Fatalf("session closed while listening: %v", r.err)
		}
		var e v1.Envelope
		if err := json.Unmarshal(r.data, &e); err != nil {
			t.Fatalf("decode %q: %v", r.data, err)
		}
		if e.Type != v1.TypeTaskCreated {
			t.Fatalf("got %s want %s", e.Type, v1.TypeTaskCreated)
		}
	case <-ctx.Done():
		t.Fatal("timed out waiting for event")
	}
}

func TestWSGateway_QueryToken(t *testing.T) {
	t.Parallel()

	env := newGatewayEnv(t, GatewayConfig{})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	u := env.wsURL() + "?" + url.Values{AccessTokenParam: []string{env.tokenFor(t, "carol")}}.Encode()
	conn, _, err := websocket.Dial(ctx, u, &websocket.DialOptions{Subprotocols: []string{v1.Subprotocol}})
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer func() { _ = conn.CloseNow() }()

	if e := readEnv(t, ctx, conn); e.Type != v1.TypeHello {
		t.Fatalf("got %s want hello", e.Type)
	}
}

func TestWSGateway_RateLimitClosesSession(t *testing.T) {
	t.Parallel()

	env := newGatewayEnv(t, GatewayConfig{RateEvents: 2, RateWindow: time.Minute})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn := env.dial(t, ctx, env.tokenFor(t, "dave"))
	_ = readEnv(t, ctx, conn) // hello

	for i := 0; i < 3; i++ {
		writeEnv(t, ctx, conn, v1.TypeHello)
	}

	sawLimit := false
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != websocket.StatusPolicyViolation {
				t.Fatalf("expected policy violation close, got %v", err)
			}
			break
		}
		var e v1.Envelope
		if err := json.Unmarshal(data, &e); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if e.Type == v1.TypeError {
			var p v1.ErrorPayload
			_ = json.Unmarshal(e.Payload, &p)
			if p.Code == "rate_limited" {
				sawLimit = true
			}
		}
	}
	if !sawLimit {
		t.Fatalf("expected a rate_limited error before close")
	}

	deadline := time.Now().Add(2 * time.Second)
	for env.hub.Sessions("dave") != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("session still registered after close")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDeriveOriginPatterns(t *testing.T) {
	t.Parallel()

	got := deriveOriginPatterns([]string{"http://localhost:3000", "https://App.example.com", "junk", ""})
	if len(got) != 2 || got[0] != "app.example.com" || got[1] != "localhost:3000" {
		t.Fatalf("unexpected patterns: %v", got)
	}
	if got := deriveOriginPatterns([]string{"http://a", "*"}); len(got) != 1 || got[0] != "*" {
		t.Fatalf("wildcard: %v", got)
	}
}
