package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"tasker/cmd/identity"
	"tasker/cmd/internal/httpx"
	"tasker/cmd/security/token"
	v1 "tasker/shared/contracts/taskevents/v1"

	"github.com/coder/websocket"
)

// AccessTokenParam carries the bearer token for clients that cannot set headers.
const AccessTokenParam = "access_token"

const wsDefaultAllowedOrigins = "http://localhost:3000"

// GatewayConfig controls the websocket event feed.
type GatewayConfig struct {
	AllowedOrigins []string
	OriginRequired bool

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration
	WriteTimeout      time.Duration
	// ReadIdleTimeout bounds how long a peer may go without sending a frame or
	// answering a ping. A client that only listens stays alive through pongs.
	ReadIdleTimeout time.Duration

	SendQueue  int
	RateEvents int
	RateWindow time.Duration
}

// LoadGatewayConfigFromEnv reads TASKER_WS_* with safe defaults.
func LoadGatewayConfigFromEnv() GatewayConfig {
	return GatewayConfig{
		AllowedOrigins:    envCSVWS("TASKER_WS_ALLOWED_ORIGINS", wsDefaultAllowedOrigins),
		OriginRequired:    envBoolWS("TASKER_WS_ORIGIN_REQUIRED", false),
		HeartbeatInterval: envDurationWS("TASKER_WS_HEARTBEAT_INTERVAL", heartbeatInterval),
		HeartbeatTimeout:  envDurationWS("TASKER_WS_HEARTBEAT_TIMEOUT", heartbeatTimeout),
		WriteTimeout:      envDurationWS("TASKER_WS_WRITE_TIMEOUT", writeTimeout),
		ReadIdleTimeout:   envDurationWS("TASKER_WS_READ_IDLE_TIMEOUT", readIdleTimeout),
		SendQueue:         envIntWS("TASKER_WS_SEND_QUEUE", defaultSendQueue),
		RateEvents:        envIntWS("TASKER_WS_RATE_EVENTS", rateLimitEvents),
		RateWindow:        envDurationWS("TASKER_WS_RATE_WINDOW", rateLimitWindow),
	}
}

func (c GatewayConfig) withDefaults() GatewayConfig {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = heartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = heartbeatTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = writeTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = readIdleTimeout
	}
	if c.SendQueue <= 0 {
		c.SendQueue = defaultSendQueue
	}
	if c.SendQueue < minSendQueue {
		c.SendQueue = minSendQueue
	}
	if c.RateEvents <= 0 {
		c.RateEvents = rateLimitEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = rateLimitWindow
	}
	return c
}

// WSGateway serves GET /task/events: it authenticates the caller, enforces the
// origin policy, upgrades to a websocket and streams the caller's task events.
type WSGateway struct {
	log      *slog.Logger
	hub      *Hub
	verifier token.Verifier
	cfg      GatewayConfig

	// Patterns for websocket.Accept's own cross-origin check, derived from AllowedOrigins
	// so both layers agree.
	originPatterns []string

	now func() time.Time
}

// NewWSGateway constructs a gateway.
func NewWSGateway(log *slog.Logger, hub *Hub, verifier token.Verifier, cfg GatewayConfig) (*WSGateway, error) {
	if hub == nil || verifier == nil {
		return nil, errors.New("realtime: nil dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	cfg = cfg.withDefaults()

	return &WSGateway{
		log:            log,
		hub:            hub,
		verifier:       verifier,
		cfg:            cfg,
		originPatterns: deriveOriginPatterns(cfg.AllowedOrigins),
		now:            func() time.Time { return time.Now().UTC() },
	}, nil
}

// ServeHTTP adapter so it can be mounted as http.Handler.
func (g *WSGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.HandleWS(w, r)
}

// HandleWS upgrades an authenticated request and runs the session until either side closes.
func (g *WSGateway) HandleWS(w http.ResponseWriter, r *http.Request) {
	if err := g.enforceOrigin(r); err != nil {
		g.log.Info("ws.reject.origin", "err", err, "origin", r.Header.Get("Origin"), "remote", r.RemoteAddr)
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "Origin not allowed")
		return
	}

	p, ok := g.authenticate(w, r)
	if !ok {
		return
	}

	// Server-level read/write timeouts must not apply to a long-lived session.
	rc := http.NewResponseController(w)
	_ = rc.SetReadDeadline(time.Time{})
	_ = rc.SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		Subprotocols:   []string{v1.Subprotocol},
		OriginPatterns: g.originPatterns,
	})
	if err != nil {
		g.log.Error("ws.accept.fail", "err", err)
		return
	}
	defer func() { _ = conn.Close(websocket.StatusNormalClosure, "bye") }()

	if sp := conn.Subprotocol(); sp != v1.Subprotocol {
		g.log.Info("ws.reject.subprotocol", "got", sp, "want", v1.Subprotocol)
		_ = conn.Close(websocket.StatusProtocolError, "subprotocol required")
		return
	}

	conn.SetReadLimit(maxFrameBytes)
	g.serve(r.Context(), conn, p)
}

func (g *WSGateway) serve(parent context.Context, conn *websocket.Conn, p identity.Principal) {
	client := NewClient(p.UserID, NewSessionID(), g.cfg.SendQueue)

	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	var closeOnce sync.Once
	shutdown := func(code websocket.StatusCode, reason string) {
		closeOnce.Do(func() {
			g.hub.Unregister(client)
			_ = conn.Close(code, reason)
			cancel()
		})
	}

	client.touch(g.now())
	g.hub.Register(client)
	g.sendHello(client)

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for {
			select {
			case <-ctx.Done():
				return
			case <-client.Done():
				return
			case env := <-client.Send:
				if err := writeEnvelope(ctx, conn, env, g.cfg.WriteTimeout); err != nil {
					g.log.Info("ws.write.fail", "session_id", client.SessionID, "close_status", websocket.CloseStatus(err), "err", err)
					shutdown(websocket.StatusAbnormalClosure, "write failed")
					return
				}
			}
		}
	}()

	heartbeatDone := make(chan struct{})
	go func() {
		defer close(heartbeatDone)
		g.heartbeat(ctx, conn, client, shutdown)
	}()

	// No sliding expiry: the session ends when the token that opened it expires.
	if !p.ExpiresAt.IsZero() {
		expiry := time.AfterFunc(time.Until(p.ExpiresAt), func() {
			shutdown(websocket.StatusPolicyViolation, "token expired")
		})
		defer expiry.Stop()
	}

	g.readLoop(ctx, conn, client, shutdown)

	shutdown(websocket.StatusNormalClosure, "bye")
	<-writerDone

	select {
	case <-heartbeatDone:
	case <-time.After(closeGrace):
	}
}

func (g *WSGateway) heartbeat(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	t := time.NewTicker(g.cfg.HeartbeatInterval)
	defer t.Stop()

	failures := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-client.Done():
			return
		case <-t.C:
			hbCtx, hbCancel := context.WithTimeout(ctx, g.cfg.HeartbeatTimeout)
			err := conn.Ping(hbCtx)
			hbCancel()

			if err == nil {
				failures = 0
				client.touch(g.now())
				continue
			}

			failures++
			g.log.Info("ws.ping.fail", "session_id", client.SessionID, "failures", failures, "err", err)
			if failures >= maxPingFailures {
				shutdown(websocket.StatusGoingAway, "heartbeat failed")
				return
			}
			if idle := client.idleFor(g.now()); idle > g.cfg.ReadIdleTimeout {
				g.log.Info("ws.idle", "session_id", client.SessionID, "idle", idle)
				shutdown(websocket.StatusGoingAway, "idle")
				return
			}
		}
	}
}

func (g *WSGateway) readLoop(ctx context.Context, conn *websocket.Conn, client *Client, shutdown func(websocket.StatusCode, string)) {
	rl := NewRateLimiter(g.cfg.RateEvents, g.cfg.RateWindow)

	for {
		// No per-read deadline: the feed is server-push, so a listening client may never
		// send a frame. Liveness is the heartbeat's job.
		data, err := readFrame(ctx, conn)

		if err != nil {
			switch classifyReadErr(err) {
			case readErrClose:
				shutdown(websocket.StatusNormalClosure, "peer closed")
			case readErrCtxDone:
				shutdown(websocket.StatusNormalClosure, "context done")
			case readErrConnClosed:
				shutdown(websocket.StatusAbnormalClosure, "conn closed")
			default:
				g.log.Info("ws.read.fail", "session_id", client.SessionID, "err", err)
				shutdown(websocket.StatusAbnormalClosure, "read failed")
			}
			return
		}

		client.touch(g.now())

		if !rl.Allow(g.now()) {
			g.log.Warn("ws.rate_limited", "session_id", client.SessionID, "user_id", client.UserID)
			// Written inline: the queue is abandoned once shutdown unregisters the client.
			_ = writeEnvelope(ctx, conn, g.errorEnvelope("rate_limited", "too many events"), g.cfg.WriteTimeout)
			shutdown(websocket.StatusPolicyViolation, "rate limited")
			return
		}

		var env v1.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			g.sendError(client, "bad_json", "invalid JSON")
			continue
		}
		if err := env.Validate(); err != nil {
			g.sendError(client, "bad_envelope", err.Error())
			continue
		}

		switch env.Type {
		case v1.TypeHello:
			g.sendHello(client)
		default:
			g.sendError(client, "unsupported", fmt.Sprintf("unsupported type: %s", env.Type))
		}
	}
}

// ---- authentication ----

func (g *WSGateway) authenticate(w http.ResponseWriter, r *http.Request) (identity.Principal, bool) {
	raw := httpx.BearerToken(r)
	if raw == "" {
		raw = strings.TrimSpace(r.URL.Query().Get(AccessTokenParam))
	}
	if raw == "" {
		w.Header().Set("WWW-Authenticate", "Bearer")
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", "No token provided")
		return identity.Principal{}, false
	}

	claims, err := g.verifier.Verify(raw, g.now())
	if err != nil {
		g.log.Info("ws.reject.token", "err", err, "remote", r.RemoteAddr)
		w.Header().Set("WWW-Authenticate", "Bearer")
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_token", "Failed to authenticate token")
		return identity.Principal{}, false
	}
	return identity.PrincipalFromClaims(claims), true
}

// ---- send helpers ----

func (g *WSGateway) sendHello(client *Client) {
	p, _ := json.Marshal(v1.HelloPayload{SessionID: client.SessionID, UserID: client.UserID})
	_ = client.offer(newEnvelope(v1.TypeHello, p, g.now()))
}

func (g *WSGateway) sendError(client *Client, code, msg string) {
	_ = client.offer(g.errorEnvelope(code, msg))
}

func (g *WSGateway) errorEnvelope(code, msg string) v1.Envelope {
	p, _ := json.Marshal(v1.ErrorPayload{Code: code, Message: msg})
	return newEnvelope(v1.TypeError, p, g.now())
}

// ---- envelope IO ----

func newEnvelope(typ string, payload json.RawMessage, ts time.Time) v1.Envelope {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return v1.Envelope{
		V:       v1.Version,
		Type:    typ,
		ID:      NewEnvelopeID(ts),
		TS:      ts,
		Payload: payload,
	}
}

func readFrame(ctx context.Context, conn *websocket.Conn) ([]byte, error) {
	mt, data, err := conn.Read(ctx)
	if err != nil {
		return nil, err
	}
	if mt != websocket.MessageText && mt != websocket.MessageBinary {
		return nil, fmt.Errorf("unsupported message type: %v", mt)
	}
	return data, nil
}

func writeEnvelope(parent context.Context, conn *websocket.Conn, env v1.Envelope, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	b, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return conn.Write(ctx, websocket.MessageText, b)
}

// ---- read error classification ----

type readErrKind uint8

const (
	readErrUnknown readErrKind = iota
	readErrClose
	readErrCtxDone
	readErrConnClosed
)

func classifyReadErr(err error) readErrKind {
	if websocket.CloseStatus(err) != -1 {
		return readErrClose
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return readErrCtxDone
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return readErrConnClosed
	}
	return readErrUnknown
}

// ---- origin policy ----

func (g *WSGateway) enforceOrigin(r *http.Request) error {
	origin := strings.TrimSpace(r.Header.Get("Origin"))
	if origin == "" {
		if g.cfg.OriginRequired {
			return errors.New("missing origin")
		}
		return nil
	}

	for _, a := range g.cfg.AllowedOrigins {
		a = strings.TrimSpace(a)
		switch {
		case a == "":
			continue
		case a == "*":
			return nil
		case strings.EqualFold(origin, a):
			return nil
		}
	}
	return fmt.Errorf("origin not allowed: %s", origin)
}

// deriveOriginPatterns maps allowed origins onto websocket.Accept's host[:port] patterns.
func deriveOriginPatterns(allowed []string) []string {
	seen := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		a = strings.TrimSpace(a)
		if a == "*" {
			return []string{"*"}
		}
		u, err := url.Parse(a)
		if err != nil || u.Host == "" {
			continue
		}
		seen[strings.ToLower(u.Host)] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for h := range seen {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// ---- env helpers ----

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	if raw == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
