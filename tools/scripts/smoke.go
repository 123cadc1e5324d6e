// Package main is an end-to-end smoke client for a running tasker server.
//
// It validates:
//   - register + login for two users
//   - event feed handshake, subprotocol and hello
//   - create -> task_created on the owner's feed
//   - cross-user read is 404 and update is 403
//   - delete -> task_deleted
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	v1 "tasker/shared/contracts/taskevents/v1"

	"github.com/coder/websocket"
)

const maxReadBytes = 1 << 20 // 1MiB

type apiClient struct {
	base  string
	http  *http.Client
	token string
}

type feed struct {
	conn  *websocket.Conn
	inbox chan v1.Envelope
	errCh chan error
}

func main() {
	var (
		baseURL = flag.String("url", "http://127.0.0.1:5000", "Server base URL including any base path (e.g. http://host/api)")
		origin  = flag.String("origin", "http://localhost:3000", "Origin header for the WebSocket handshake")
		timeout = flag.Duration("timeout", 7*time.Second, "Per-step timeout")
		verbose = flag.Bool("v", false, "Verbose output")
	)
	flag.Parse()

	base := strings.TrimRight(*baseURL, "/")
	if err := validateBaseURL(base); err != nil {
		fatalf("invalid -url: %v", err)
	}

	suffix := time.Now().UnixNano()
	alice := &apiClient{base: base, http: &http.Client{Timeout: *timeout}}
	bob := &apiClient{base: base, http: &http.Client{Timeout: *timeout}}

	alice.mustRegisterAndLogin("Alice", fmt.Sprintf("alice+%d@example.com", suffix))
	bob.mustRegisterAndLogin("Bob", fmt.Sprintf("bob+%d@example.com", suffix))

	root := context.Background()
	f := mustConnect(root, base, *origin, alice.token, *timeout)
	defer closeWS(f.conn)

	var created struct {
		ID string `json:"id"`
	}
	alice.mustDo(http.MethodPost, "/task/tasks", `{"title":"smoke","description":"end to end"}`, http.StatusCreated, &created)
	if created.ID == "" {
		fatalf("create: missing id")
	}

	ev := f.mustReadUntilType(root, v1.TypeTaskCreated, *timeout)
	mustTaskID(ev, created.ID)

	bob.mustDo(http.MethodGet, "/task/tasks/"+created.ID, "", http.StatusNotFound, nil)
	bob.mustDo(http.MethodPut, "/task/tasks/"+created.ID, `{"title":"hijack"}`, http.StatusForbidden, nil)

	alice.mustDo(http.MethodDelete, "/task/tasks/"+created.ID, "", http.StatusOK, nil)
	ev = f.mustReadUntilType(root, v1.TypeTaskDeleted, *timeout)
	mustTaskID(ev, created.ID)

	if *verbose {
		fmt.Printf("task %s created and deleted; feed events received\n", created.ID)
	}
	fmt.Printf("OK: task_id=%s\n", created.ID)
}

func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	if strings.TrimSpace(u.Host) == "" {
		return errors.New("missing host")
	}
	return nil
}

func (c *apiClient) mustRegisterAndLogin(name, email string) {
	const pw = "smoke-password-123"

	body := mustJSON(map[string]string{"name": name, "email": email, "password": pw})
	c.mustDo(http.MethodPost, "/auth/register", string(body), http.StatusCreated, nil)

	var login struct {
		Token string `json:"token"`
	}
	body = mustJSON(map[string]string{"email": email, "password": pw})
	c.mustDo(http.MethodPost, "/auth/login", string(body), http.StatusOK, &login)
	if login.Token == "" {
		fatalf("login %s: empty token", email)
	}
	c.token = login.Token
}

func (c *apiClient) mustDo(method, path, body string, wantStatus int, out any) {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	b, _ := io.ReadAll(io.LimitReader(resp.Body, maxReadBytes))
	if resp.StatusCode != wantStatus {
		fatalf("%s %s: status=%d want=%d body=%s", method, path, resp.StatusCode, wantStatus, b)
	}
	if out != nil {
		if err := json.Unmarshal(b, out); err != nil {
			fatalf("%s %s: decode: %v", method, path, err)
		}
	}
}

func mustConnect(parent context.Context, base, origin, token string, stepTimeout time.Duration) *feed {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(base, "http") + "/task/events"

	h := http.Header{}
	h.Set("Authorization", "Bearer "+token)
	if strings.TrimSpace(origin) != "" {
		h.Set("Origin", origin)
	}

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		Subprotocols: []string{v1.Subprotocol},
		HTTPHeader:   h,
	})
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		fatalf("connect %s: %v", wsURL, err)
	}
	if got := conn.Subprotocol(); got != v1.Subprotocol {
		fatalf("subprotocol mismatch: got=%q want=%q", got, v1.Subprotocol)
	}
	conn.SetReadLimit(maxReadBytes)

	f := &feed{
		conn:  conn,
		inbox: make(chan v1.Envelope, 64),
		errCh: make(chan error, 1),
	}
	f.startReadLoop()

	hello := f.mustReadUntilType(parent, v1.TypeHello, stepTimeout)
	var p v1.HelloPayload
	if err := json.Unmarshal(hello.Payload, &p); err != nil || p.SessionID == "" {
		fatalf("hello: bad payload: %v", err)
	}
	return f
}

func (f *feed) startReadLoop() {
	go func() {
		defer close(f.inbox)

		for {
			_, data, err := f.conn.Read(context.Background())
			if err != nil {
				f.fail(err)
				return
			}

			var env v1.Envelope
			if err := json.Unmarshal(data, &env); err != nil {
				f.fail(fmt.Errorf("bad json: %w", err))
				return
			}
			if err := env.Validate(); err != nil {
				f.fail(fmt.Errorf("bad envelope: %w", err))
				return
			}

			select {
			case f.inbox <- env:
			default:
				f.fail(errors.New("inbox overflow: consumer too slow"))
				return
			}
		}
	}()
}

func (f *feed) fail(err error) {
	select {
	case f.errCh <- err:
	default:
	}
}

func (f *feed) mustReadUntilType(parent context.Context, wantType string, stepTimeout time.Duration) v1.Envelope {
	ctx, cancel := context.WithTimeout(parent, stepTimeout)
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			fatalf("timeout waiting for %q: %v", wantType, ctx.Err())
		case err := <-f.errCh:
			fatalf("connection error while waiting for %q: %v", wantType, err)
		case env, ok := <-f.inbox:
			if !ok {
				fatalf("connection closed while waiting for %q", wantType)
			}
			if env.Type == wantType {
				return env
			}
			if env.Type == v1.TypeError {
				var ep v1.ErrorPayload
				_ = json.Unmarshal(env.Payload, &ep)
				fatalf("server error: code=%q msg=%q", ep.Code, ep.Message)
			}
			// Other task events (e.g. from a concurrent run) are skipped.
		}
	}
}

func mustTaskID(env v1.Envelope, want string) {
	var p v1.TaskPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil {
		fatalf("%s: bad payload: %v", env.Type, err)
	}
	if p.ID != want {
		fatalf("%s: task id=%q want=%q", env.Type, p.ID, want)
	}
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}

func closeWS(conn *websocket.Conn) {
	_ = conn.Close(websocket.StatusNormalClosure, "bye")
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "FAIL: "+format+"\n", args...)
	os.Exit(1)
}
