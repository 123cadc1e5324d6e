package app

import (
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"tasker/cmd/internal/httpx"
)

// routes registers every endpoint on a fresh mux below cfg.BasePath.
func (a *App) routes() *http.ServeMux {
	mux := http.NewServeMux()
	prefix := a.cfg.BasePath

	mux.HandleFunc("GET "+prefix+"/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	mux.HandleFunc("GET "+prefix+"/readyz", a.handleReady)

	if a.metrics != nil {
		mux.Handle("GET "+prefix+"/metrics", a.metrics.Handler())
	}

	a.auth.Register(mux, prefix)
	a.tasks.Register(mux, prefix, a.auth.RequireAuth)
	mux.Handle("GET "+prefix+"/task/events", a.ws)

	// Anything unmatched gets the JSON error shape instead of the mux's plain text.
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "Not found")
	})

	return mux
}

func (a *App) handleReady(w http.ResponseWriter, r *http.Request) {
	if a.cfg.ReadinessRequireDB && a.pool == nil {
		http.Error(w, "db not configured", http.StatusServiceUnavailable)
		return
	}

	if a.pool != nil {
		if err := PingDB(r.Context(), a.pool, 2*time.Second); err != nil {
			a.log.Warn("readyz.db.not_ready", "request_id", httpx.RequestID(r.Context()), "err", err)
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready\n"))
}

// Handler returns the full middleware chain around the route table.
// Outermost first: request id, logging, metrics, security headers, CORS.
func (a *App) Handler() http.Handler {
	var h http.Handler = a.routes()
	h = WithCORS(h, a.cfg, a.log)
	h = WithSecurityHeaders(h)
	h = WithMetrics(h, a.metrics)
	h = WithRequestLogging(h, a.log)
	h = httpx.WithRequestID(h)
	return h
}

// runtimeBaseURL turns a listen address into a URL a local client can dial.
func runtimeBaseURL(addr string) string {
	host, port, err := net.SplitHostPort(strings.TrimSpace(addr))
	if err != nil {
		return "http://" + strings.TrimSpace(addr)
	}
	switch host {
	case "", "0.0.0.0", "::":
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, port)
}

// wsBaseURL maps an http(s) base URL onto its ws(s) equivalent.
func wsBaseURL(base string) string {
	u, err := url.Parse(base)
	if err != nil || u.Host == "" {
		return "ws://" + strings.TrimPrefix(strings.TrimPrefix(base, "http://"), "https://")
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	return u.String()
}
