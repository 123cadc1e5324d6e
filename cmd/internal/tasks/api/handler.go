// Package tasksapi serves the task CRUD endpoints under /task/tasks.
// Every route requires an authenticated identity.Principal on the request context.
package tasksapi

import (
	"errors"
	"log/slog"
	"net/http"

	"tasker/cmd/identity"
	"tasker/cmd/internal/httpx"
	"tasker/cmd/internal/tasks"
)

const (
	msgDeleted      = "Task deleted"
	msgInvalidBody  = "Invalid request body"
	msgInternal     = "Internal server error"
	msgUnauthorized = "No token provided"
)

// Handler wires HTTP task endpoints to the task service.
type Handler struct {
	log          *slog.Logger
	svc          *tasks.Service
	maxBodyBytes int64
}

// NewHandler constructs a task Handler. maxBodyBytes <= 0 uses httpx.DefaultMaxBodyBytes.
func NewHandler(log *slog.Logger, svc *tasks.Service, maxBodyBytes int64) (*Handler, error) {
	if svc == nil {
		return nil, errors.New("tasksapi: nil service")
	}
	if log == nil {
		log = slog.Default()
	}
	if maxBodyBytes <= 0 {
		maxBodyBytes = httpx.DefaultMaxBodyBytes
	}
	return &Handler{log: log, svc: svc, maxBodyBytes: maxBodyBytes}, nil
}

// Register wires task routes onto mux below prefix, each wrapped by requireAuth.
func (h *Handler) Register(mux *http.ServeMux, prefix string, requireAuth func(http.Handler) http.Handler) {
	if h == nil || mux == nil || requireAuth == nil {
		return
	}
	mux.Handle("POST "+prefix+"/task/tasks", requireAuth(http.HandlerFunc(h.handleCreate)))
	mux.Handle("GET "+prefix+"/task/tasks", requireAuth(http.HandlerFunc(h.handleList)))
	mux.Handle("GET "+prefix+"/task/tasks/{id}", requireAuth(http.HandlerFunc(h.handleGet)))
	mux.Handle("PUT "+prefix+"/task/tasks/{id}", requireAuth(http.HandlerFunc(h.handleUpdate)))
	mux.Handle("DELETE "+prefix+"/task/tasks/{id}", requireAuth(http.HandlerFunc(h.handleDelete)))
}

// ---- handlers ----

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req createRequest
	if err := httpx.DecodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", msgInvalidBody)
		return
	}

	t, err := h.svc.Create(r.Context(), p, tasks.Input{
		Title:       deref(req.Title),
		Description: deref(req.Description),
	})
	if err != nil {
		h.writeServiceError(w, r, "task.create.fail", err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toTaskResponse(t))
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	list, err := h.svc.List(r.Context(), p)
	if err != nil {
		h.writeServiceError(w, r, "task.list.fail", err)
		return
	}

	out := make([]taskResponse, 0, len(list))
	for _, t := range list {
		out = append(out, toTaskResponse(t))
	}
	httpx.WriteJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	t, err := h.svc.Get(r.Context(), p, r.PathValue("id"))
	if err != nil {
		h.writeServiceError(w, r, "task.get.fail", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toTaskResponse(t))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	var req updateRequest
	if err := httpx.DecodeJSON(w, r, h.maxBodyBytes, &req); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid_json", msgInvalidBody)
		return
	}

	t, err := h.svc.Update(r.Context(), p, r.PathValue("id"), tasks.Patch{
		Title:       req.Title,
		Description: req.Description,
	})
	if err != nil {
		h.writeServiceError(w, r, "task.update.fail", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toTaskResponse(t))
}

func (h *Handler) handleDelete(w http.ResponseWriter, r *http.Request) {
	p, ok := principal(w, r)
	if !ok {
		return
	}

	if err := h.svc.Delete(r.Context(), p, r.PathValue("id")); err != nil {
		h.writeServiceError(w, r, "task.delete.fail", err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, httpx.MessageBody{Message: msgDeleted})
}

func principal(w http.ResponseWriter, r *http.Request) (identity.Principal, bool) {
	p, ok := identity.PrincipalFromContext(r.Context())
	if !ok {
		w.Header().Set("WWW-Authenticate", "Bearer")
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", msgUnauthorized)
		return identity.Principal{}, false
	}
	return p, true
}

func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, event string, err error) {
	switch {
	case errors.Is(err, tasks.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", tasks.MsgTaskNotFound)
	case errors.Is(err, tasks.ErrForbidden):
		httpx.WriteError(w, http.StatusForbidden, "forbidden", tasks.MsgForbidden)
	case errors.Is(err, tasks.ErrInvalidInput):
		msg, ok := identity.ErrorMessage(err)
		if !ok {
			msg = msgInvalidBody
		}
		httpx.WriteError(w, http.StatusBadRequest, "invalid_request", msg)
	case errors.Is(err, identity.ErrUnauthenticated):
		w.Header().Set("WWW-Authenticate", "Bearer")
		httpx.WriteError(w, http.StatusUnauthorized, "unauthenticated", msgUnauthorized)
	default:
		h.log.Error(event, "err", err, "request_id", httpx.RequestID(r.Context()))
		httpx.WriteError(w, http.StatusInternalServerError, "server_error", msgInternal)
	}
}
