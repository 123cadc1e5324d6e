package authapi

import (
	"log/slog"
	"net/http"
	"time"

	"tasker/cmd/identity"
	"tasker/cmd/internal/httpx"
	"tasker/cmd/security/token"
)

const (
	msgNoToken      = "No token provided"
	msgInvalidToken = "Failed to authenticate token"
)

// RequireAuth rejects requests without a valid bearer token and attaches the
// caller's identity.Principal to the request context otherwise.
func RequireAuth(v token.Verifier, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return requireAuth(v, log, nil, next)
	}
}

func requireAuth(v token.Verifier, log *slog.Logger, onReject func(), next http.Handler) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	reject := func(w http.ResponseWriter, code, msg string) {
		if onReject != nil {
			onReject()
		}
		w.Header().Set("WWW-Authenticate", "Bearer")
		httpx.WriteError(w, http.StatusUnauthorized, code, msg)
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw := httpx.BearerToken(r)
		if raw == "" {
			reject(w, "unauthenticated", msgNoToken)
			return
		}

		claims, err := v.Verify(raw, time.Now().UTC())
		if err != nil {
			log.Debug("auth.token.rejected", "err", err, "request_id", httpx.RequestID(r.Context()))
			reject(w, "invalid_token", msgInvalidToken)
			return
		}

		ctx := identity.WithPrincipal(r.Context(), identity.PrincipalFromClaims(claims))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
