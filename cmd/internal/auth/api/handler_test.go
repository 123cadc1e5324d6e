package authapi

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"tasker/cmd/identity"
	"tasker/cmd/security/password"
	"tasker/cmd/security/token"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"golang.org/x/crypto/bcrypt"
)

type testEnv struct {
	srv    *httptest.Server
	tokens token.Manager
	events *prometheus.CounterVec
}

func newTestEnv(t *testing.T, cfg Config) *testEnv {
	t.Helper()

	pw := password.DefaultConfig()
	pw.Algorithm = password.AlgorithmBcrypt
	pw.BcryptCost = bcrypt.MinCost

	tokens, err := token.NewManager(token.Config{
		Format: token.FormatJWT,
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		Issuer: "tasker",
		TTL:    time.Hour,
	})
	if err != nil {
		t.Fatalf("token.NewManager: %v", err)
	}

	svc, err := identity.NewService(identity.NewMemoryStore(), pw, tokens)
	if err != nil {
		t.Fatalf("identity.NewService: %v", err)
	}

	events := prometheus.NewCounterVec(prometheus.CounterOpts{Name: "test_auth_events_total"}, []string{"event"})
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	h, err := NewHandler(log, svc, tokens, cfg, WithEventCounter(events))
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}

	mux := http.NewServeMux()
	h.Register(mux, "")
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, tokens: tokens, events: events}
}

func (e *testEnv) do(t *testing.T, method, path, bearer, body string) (int, http.Header, []byte) {
	t.Helper()

	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	res, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("do %s %s: %v", method, path, err)
	}
	defer func() { _ = res.Body.Close() }()

	b, err := io.ReadAll(res.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return res.StatusCode, res.Header, b
}

func decodeError(t *testing.T, b []byte) (msg, code string) {
	t.Helper()

	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	if err := json.Unmarshal(b, &body); err != nil {
		t.Fatalf("decode error body %q: %v", b, err)
	}
	return body.Error, body.Code
}

func (e *testEnv) registerAndLogin(t *testing.T, name, email, pw string) (userID, tok string) {
	t.Helper()

	status, _, b := e.do(t, http.MethodPost, "/auth/register", "",
		`{"name":"`+name+`","email":"`+email+`","password":"`+pw+`"}`)
	if status != http.StatusCreated {
		t.Fatalf("register status=%d body=%s", status, b)
	}
	var reg registerResponse
	if err := json.Unmarshal(b, &reg); err != nil {
		t.Fatalf("decode register: %v", err)
	}

	status, _, b = e.do(t, http.MethodPost, "/auth/login", "",
		`{"email":"`+email+`","password":"`+pw+`"}`)
	if status != http.StatusOK {
		t.Fatalf("login status=%d body=%s", status, b)
	}
	var login loginResponse
	if err := json.Unmarshal(b, &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	return reg.User.ID, login.Token
}

func TestRegisterThenLogin_TokenCarriesIdentity(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})

	status, _, b := env.do(t, http.MethodPost, "/auth/register", "",
		`{"name":"Alice","email":"a@x.com","password":"abcdefgh"}`)
	if status != http.StatusCreated {
		t.Fatalf("register status=%d body=%s", status, b)
	}
	var reg registerResponse
	if err := json.Unmarshal(b, &reg); err != nil {
		t.Fatalf("decode register: %v", err)
	}
	if reg.Message != msgRegistered || reg.User.ID == "" || reg.User.Email != "a@x.com" || reg.User.Name != "Alice" {
		t.Fatalf("unexpected register response: %+v", reg)
	}
	if strings.Contains(string(b), "password") {
		t.Fatalf("register response leaks password material: %s", b)
	}

	status, _, b = env.do(t, http.MethodPost, "/auth/login", "", `{"email":"A@X.com","password":"abcdefgh"}`)
	if status != http.StatusOK {
		t.Fatalf("login status=%d body=%s", status, b)
	}
	var login loginResponse
	if err := json.Unmarshal(b, &login); err != nil {
		t.Fatalf("decode login: %v", err)
	}
	if login.TokenType != "Bearer" || login.Token == "" || !login.ExpiresAt.After(time.Now()) {
		t.Fatalf("unexpected login response: %+v", login)
	}

	claims, err := env.tokens.Verify(login.Token, time.Now().UTC())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.UserID != reg.User.ID || claims.Email != "a@x.com" {
		t.Fatalf("claims do not match registered user: %+v", claims)
	}

	if got := testutil.ToFloat64(env.events.WithLabelValues(eventRegisterSuccess)); got != 1 {
		t.Fatalf("register.success count=%v", got)
	}
	if got := testutil.ToFloat64(env.events.WithLabelValues(eventLoginSuccess)); got != 1 {
		t.Fatalf("login.success count=%v", got)
	}
}

func TestRegister_Failures(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	if status, _, b := env.do(t, http.MethodPost, "/auth/register", "",
		`{"name":"Alice","email":"a@x.com","password":"abcdefgh"}`); status != http.StatusCreated {
		t.Fatalf("seed register status=%d body=%s", status, b)
	}

	cases := []struct {
		name     string
		body     string
		wantCode string
		wantMsg  string
	}{
		{
			name:     "duplicate email with valid password",
			body:     `{"name":"B","email":"A@x.com","password":"abcdefgh"}`,
			wantCode: "email_in_use",
			wantMsg:  identity.MsgEmailInUse,
		},
		{
			name:     "duplicate email with invalid password",
			body:     `{"name":"B","email":"a@x.com","password":"SHORT"}`,
			wantCode: "email_in_use",
			wantMsg:  identity.MsgEmailInUse,
		},
		{
			name:     "invalid email",
			body:     `{"name":"B","email":"not-an-email","password":"abcdefgh"}`,
			wantCode: "invalid_request",
			wantMsg:  identity.MsgInvalidEmail,
		},
		{
			name:     "password without lowercase",
			body:     `{"name":"B","email":"b@x.com","password":"ABCDEFGH1"}`,
			wantCode: "invalid_request",
			wantMsg:  identity.MsgPasswordPolicy,
		},
		{
			name:     "password too short",
			body:     `{"name":"B","email":"b@x.com","password":"abc"}`,
			wantCode: "invalid_request",
			wantMsg:  identity.MsgPasswordPolicy,
		},
		{
			name:     "malformed json",
			body:     `{"name":`,
			wantCode: "invalid_json",
			wantMsg:  msgInvalidBody,
		},
		{
			name:     "name too long",
			body:     `{"name":"` + strings.Repeat("n", 101) + `","email":"b@x.com","password":"abcdefgh"}`,
			wantCode: "invalid_request",
			wantMsg:  identity.MsgNameTooLong,
		},
	}

	for _, tc := range cases {
		status, _, b := env.do(t, http.MethodPost, "/auth/register", "", tc.body)
		if status != http.StatusBadRequest {
			t.Fatalf("%s: status=%d body=%s", tc.name, status, b)
		}
		msg, code := decodeError(t, b)
		if code != tc.wantCode || msg != tc.wantMsg {
			t.Fatalf("%s: got (%q, %q) want (%q, %q)", tc.name, msg, code, tc.wantMsg, tc.wantCode)
		}
	}

	// A rejected registration never creates the account.
	if status, _, _ := env.do(t, http.MethodPost, "/auth/login", "", `{"email":"b@x.com","password":"abcdefgh"}`); status != http.StatusUnauthorized {
		t.Fatalf("expected b@x.com to be absent, login status=%d", status)
	}
}

func TestRegister_WithoutName(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})

	for i, body := range []string{
		`{"email":"anon1@x.com","password":"abcdefgh"}`,
		`{"name":"","email":"anon2@x.com","password":"abcdefgh"}`,
	} {
		status, _, b := env.do(t, http.MethodPost, "/auth/register", "", body)
		if status != http.StatusCreated {
			t.Fatalf("case %d: status=%d body=%s", i, status, b)
		}
		var reg registerResponse
		if err := json.Unmarshal(b, &reg); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if reg.User.ID == "" || reg.User.Name != "" {
			t.Fatalf("case %d: unexpected user %+v", i, reg.User)
		}
	}

	if status, _, b := env.do(t, http.MethodPost, "/auth/login", "", `{"email":"anon1@x.com","password":"abcdefgh"}`); status != http.StatusOK {
		t.Fatalf("login without name: %d %s", status, b)
	}
}

func TestLogin_FailureDoesNotEnumerate(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	env.registerAndLogin(t, "Alice", "a@x.com", "abcdefgh")

	statusA, _, bodyA := env.do(t, http.MethodPost, "/auth/login", "", `{"email":"nobody@x.com","password":"abcdefgh"}`)
	statusB, _, bodyB := env.do(t, http.MethodPost, "/auth/login", "", `{"email":"a@x.com","password":"wrong-password"}`)

	if statusA != http.StatusUnauthorized || statusB != http.StatusUnauthorized {
		t.Fatalf("expected 401/401, got %d/%d", statusA, statusB)
	}
	if !bytes.Equal(bodyA, bodyB) {
		t.Fatalf("unknown email and wrong password must be indistinguishable: %s vs %s", bodyA, bodyB)
	}
	msg, code := decodeError(t, bodyA)
	if code != "invalid_credentials" || msg != msgInvalidCredentials {
		t.Fatalf("unexpected error: %q %q", msg, code)
	}
	if got := testutil.ToFloat64(env.events.WithLabelValues(eventLoginFailed)); got != 2 {
		t.Fatalf("login.failed count=%v", got)
	}

	if status, _, _ := env.do(t, http.MethodPost, "/auth/login", "", `not json`); status != http.StatusBadRequest {
		t.Fatalf("bad json status=%d", status)
	}
}

func TestGetUser_RequiresTokenByDefault(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{})
	id, tok := env.registerAndLogin(t, "Alice", "a@x.com", "abcdefgh")

	status, hdr, b := env.do(t, http.MethodGet, "/auth/user/"+id, "", "")
	if status != http.StatusUnauthorized {
		t.Fatalf("status=%d body=%s", status, b)
	}
	if hdr.Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("missing WWW-Authenticate challenge")
	}
	if msg, code := decodeError(t, b); code != "unauthenticated" || msg != msgNoToken {
		t.Fatalf("unexpected error: %q %q", msg, code)
	}

	status, _, b = env.do(t, http.MethodGet, "/auth/user/"+id, "not-a-token", "")
	if status != http.StatusUnauthorized {
		t.Fatalf("status=%d body=%s", status, b)
	}
	if msg, code := decodeError(t, b); code != "invalid_token" || msg != msgInvalidToken {
		t.Fatalf("unexpected error: %q %q", msg, code)
	}
	if got := testutil.ToFloat64(env.events.WithLabelValues(eventTokenRejected)); got != 2 {
		t.Fatalf("token.rejected count=%v", got)
	}

	status, _, b = env.do(t, http.MethodGet, "/auth/user/"+id, tok, "")
	if status != http.StatusOK {
		t.Fatalf("status=%d body=%s", status, b)
	}
	var got map[string]string
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["name"] != "Alice" || len(got) != 1 {
		t.Fatalf("user lookup must only expose the name, got %v", got)
	}

	status, _, b = env.do(t, http.MethodGet, "/auth/user/01ARZ3NDEKTSV4RRFFQ69G5FAV", tok, "")
	if status != http.StatusNotFound {
		t.Fatalf("status=%d body=%s", status, b)
	}
	if msg, code := decodeError(t, b); code != "not_found" || msg != msgUserNotFound {
		t.Fatalf("unexpected error: %q %q", msg, code)
	}
}

func TestGetUser_PublicLookup(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, Config{PublicUserLookup: true})
	id, _ := env.registerAndLogin(t, "Alice", "a@x.com", "abcdefgh")

	status, _, b := env.do(t, http.MethodGet, "/auth/user/"+id, "", "")
	if status != http.StatusOK {
		t.Fatalf("status=%d body=%s", status, b)
	}
}

func TestRequireAuth_AttachesPrincipal(t *testing.T) {
	t.Parallel()

	tokens, err := token.NewManager(token.Config{
		Secret: []byte("0123456789abcdef0123456789abcdef"),
		Issuer: "tasker",
		TTL:    time.Minute,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	var seen identity.Principal
	h := RequireAuth(tokens, nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := identity.PrincipalFromContext(r.Context())
		if !ok {
			t.Errorf("principal missing from context")
		}
		seen = p
		w.WriteHeader(http.StatusNoContent)
	}))

	tok, _, err := tokens.Issue(token.Subject{UserID: "01ARZ3NDEKTSV4RRFFQ69G5FAV", Email: "a@x.com"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "bearer "+tok)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)

	if w.Code != http.StatusNoContent {
		t.Fatalf("status=%d body=%s", w.Code, w.Body.String())
	}
	if seen.UserID != "01ARZ3NDEKTSV4RRFFQ69G5FAV" || seen.Email != "a@x.com" || seen.ExpiresAt.IsZero() {
		t.Fatalf("unexpected principal: %+v", seen)
	}

	// Expired token.
	old, _, err := tokens.Issue(token.Subject{UserID: "01ARZ3NDEKTSV4RRFFQ69G5FAV", Email: "a@x.com"}, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Authorization", "Bearer "+old)
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expired token status=%d", w.Code)
	}
}
