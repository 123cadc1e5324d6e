package authapi

import (
	"context"
	"log/slog"
	"net"

	"tasker/cmd/internal/httpx"
)

// Audit events. They double as the "event" label of tasker_auth_events_total.
const (
	eventRegisterSuccess = "register.success"
	eventRegisterFailed  = "register.failed"
	eventLoginSuccess    = "login.success"
	eventLoginFailed     = "login.failed"
	eventTokenRejected   = "token.rejected"
)

func (h *Handler) auditRegisterSuccess(ctx context.Context, userID string, ip net.IP) {
	h.audit(ctx, slog.LevelInfo, eventRegisterSuccess, ip, "user_id", userID)
}

func (h *Handler) auditRegisterFailed(ctx context.Context, ip net.IP, reason string) {
	h.audit(ctx, slog.LevelWarn, eventRegisterFailed, ip, "reason", reason)
}

func (h *Handler) auditLoginSuccess(ctx context.Context, userID string, ip net.IP) {
	h.audit(ctx, slog.LevelInfo, eventLoginSuccess, ip, "user_id", userID)
}

func (h *Handler) auditLoginFailed(ctx context.Context, ip net.IP) {
	h.audit(ctx, slog.LevelWarn, eventLoginFailed, ip)
}

// audit records an auth event as a structured log line and a counter increment.
// Emails and passwords are never logged.
func (h *Handler) audit(ctx context.Context, level slog.Level, event string, ip net.IP, attrs ...any) {
	if h == nil {
		return
	}
	if h.events != nil {
		h.events.WithLabelValues(event).Inc()
	}

	args := make([]any, 0, len(attrs)+4)
	if rid := httpx.RequestID(ctx); rid != "" {
		args = append(args, "request_id", rid)
	}
	if ip != nil {
		args = append(args, "ip", ip.String())
	}
	args = append(args, attrs...)
	h.log.Log(ctx, level, "auth."+event, args...)
}
