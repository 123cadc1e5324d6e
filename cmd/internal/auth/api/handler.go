package authapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"tasker/cmd/identity"
	"tasker/cmd/internal/httpx"
	"tasker/cmd/security/token"

	"github.com/prometheus/client_golang/prometheus"
)

// Client-facing messages.
const (
	msgRegistered         = "User registered successfully"
	msgInvalidCredentials = "Invalid credentials"
	msgUserNotFound       = "User not found"
	msgInvalidBody        = "Invalid request body"
	msgInternal           = "Internal server error"
)

// Accounts is the identity surface the handlers need. *identity.Service satisfies it.
type Accounts interface {
	Register(ctx context.Context, in identity.RegisterInput) (identity.User, error)
	Login(ctx context.Context, email, password string) (identity.LoginResult, error)
	GetUser(ctx context.Context, id string) (identity.User, error)
}

// Handler wires HTTP auth endpoints to the identity service.
type Handler struct {
	log      *slog.Logger
	cfg      Config
	accounts Accounts
	verifier token.Verifier

	// events counts audit events by name; nil disables counting.
	events *prometheus.CounterVec
}

// HandlerOption configures optional auth handler dependencies.
type HandlerOption func(*Handler)

// WithEventCounter counts audit events on c, labelled by event name.
func WithEventCounter(c *prometheus.CounterVec) HandlerOption {
	return func(h *Handler) {
		if h == nil || c == nil {
			return
		}
		h.events = c
	}
}

// NewHandler constructs an auth Handler.
func NewHandler(log *slog.Logger, accounts Accounts, verifier token.Verifier, cfg Config, opts ...HandlerOption) (*Handler, error) {
	if accounts == nil || verifier == nil {
		return nil, errors.New("auth: nil dependency")
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = httpx.DefaultMaxBodyBytes
	}

	h := &Handler{
		log:      log,
		cfg:      cfg,
		accounts: accounts,
		verifier: verifier,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(h)
	}
	return h, nil
}

// Register wires auth routes onto mux below prefix (e.g. "" or "/api").
func (h *Handler) Register(mux *http.ServeMux, prefix string) {
	if h == nil || mux == nil {
		return
	}
	mux.HandleFunc("POST "+prefix+"/auth/register", h.handleRegister)
	mux.HandleFunc("POST "+prefix+"/auth/login", h.handleLogin)

	var lookup http.Handler = http.HandlerFunc(h.handleGetUser)
	if !h.cfg.PublicUserLookup {
		lookup = h.RequireAuth(lookup)
	}
	mux.Handle("GET "+prefix+"/auth/user/{id}", lookup)
}

// RequireAuth is the package-level RequireAuth with rejections counted as audit events.
func (h *Handler) RequireAuth(next http.Handler) http.Handler {
	return requireAuth(h.verifier, h.log, func() {
		if h.events != nil {
			h.events.WithLabelValues(eventTokenRejected).Inc()
		}
	}, next)
}

// ---- handlers ----

func (h *Handler) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", msgInvalidBody)
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)

	u, err := h.accounts.Register(ctx, identity.RegisterInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		switch {
		case identity.IsConflict(err):
			h.auditRegisterFailed(ctx, ip, "email_in_use")
			httpx.WriteError(w, http.StatusBadRequest, "email_in_use", identity.MsgEmailInUse)
		case identity.IsInvalidInput(err):
			h.auditRegisterFailed(ctx, ip, "invalid_request")
			msg, ok := identity.ErrorMessage(err)
			if !ok {
				msg = msgInvalidBody
			}
			httpx.WriteError(w, http.StatusBadRequest, "invalid_request", msg)
		default:
			h.log.Error("auth.register.fail", "err", err, "request_id", httpx.RequestID(ctx))
			httpx.WriteError(w, http.StatusInternalServerError, "server_error", msgInternal)
		}
		return
	}

	h.auditRegisterSuccess(ctx, u.ID, ip)
	httpx.WriteJSON(w, http.StatusCreated, registerResponse{
		Message: msgRegistered,
		User:    toUserResponse(u),
	})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := httpx.DecodeJSON(w, r, h.cfg.MaxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", msgInvalidBody)
		return
	}

	ctx := r.Context()
	ip := clientIP(r, h.cfg.TrustProxy)

	res, err := h.accounts.Login(ctx, req.Email, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidCredentials) {
			h.auditLoginFailed(ctx, ip)
			httpx.WriteError(w, http.StatusUnauthorized, "invalid_credentials", msgInvalidCredentials)
			return
		}
		h.log.Error("auth.login.fail", "err", err, "request_id", httpx.RequestID(ctx))
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", msgInternal)
		return
	}

	h.auditLoginSuccess(ctx, res.User.ID, ip)
	httpx.WriteJSON(w, http.StatusOK, loginResponse{
		Token:     res.Token,
		TokenType: "Bearer",
		ExpiresAt: res.ExpiresAt,
	})
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	u, err := h.accounts.GetUser(ctx, r.PathValue("id"))
	if err != nil {
		if identity.IsNotFound(err) {
			httpx.WriteError(w, http.StatusNotFound, "not_found", msgUserNotFound)
			return
		}
		h.log.Error("auth.user.get.fail", "err", err, "request_id", httpx.RequestID(ctx))
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", msgInternal)
		return
	}

	httpx.WriteJSON(w, http.StatusOK, publicUserResponse{Name: u.Name})
}
