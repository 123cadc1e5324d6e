package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"tasker/cmd/internal/tasks"
	v1 "tasker/shared/contracts/taskevents/v1"

	"github.com/prometheus/client_golang/prometheus"
)

// Hub tracks connected clients per user and fans task events out to the owner's sessions.
//
// Register/Unregister are safe under concurrent Publish. Publish never blocks:
// a full client queue drops the event for that client.
type Hub struct {
	log *slog.Logger

	// connections tracks open sessions; nil disables the gauge.
	connections prometheus.Gauge

	mu     sync.RWMutex
	byUser map[string]map[string]*Client
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithConnectionGauge reports the number of registered clients on g.
func WithConnectionGauge(g prometheus.Gauge) HubOption {
	return func(h *Hub) {
		if g != nil {
			h.connections = g
		}
	}
}

// NewHub constructs a Hub.
func NewHub(log *slog.Logger, opts ...HubOption) *Hub {
	if log == nil {
		log = slog.Default()
	}
	h := &Hub{
		log:    log,
		byUser: make(map[string]map[string]*Client),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Register adds c to its user's session set.
func (h *Hub) Register(c *Client) {
	if h == nil || c == nil || c.UserID == "" || c.SessionID == "" {
		return
	}

	h.mu.Lock()
	sessions, ok := h.byUser[c.UserID]
	if !ok {
		sessions = make(map[string]*Client)
		h.byUser[c.UserID] = sessions
	}
	_, dup := sessions[c.SessionID]
	sessions[c.SessionID] = c
	h.mu.Unlock()

	if !dup && h.connections != nil {
		h.connections.Inc()
	}
	h.log.Info("ws.session.open", "session_id", c.SessionID, "user_id", c.UserID)
}

// Unregister removes c and then signals it to shut down.
func (h *Hub) Unregister(c *Client) {
	if h == nil || c == nil {
		return
	}

	removed := false
	h.mu.Lock()
	if sessions, ok := h.byUser[c.UserID]; ok {
		if _, ok := sessions[c.SessionID]; ok {
			delete(sessions, c.SessionID)
			removed = true
		}
		if len(sessions) == 0 {
			delete(h.byUser, c.UserID)
		}
	}
	h.mu.Unlock()

	// Close after removal so no publisher holds c while it is torn down.
	c.Close()

	if removed {
		if h.connections != nil {
			h.connections.Dec()
		}
		h.log.Info("ws.session.close", "session_id", c.SessionID, "user_id", c.UserID)
	}
}

// Sessions returns the number of open sessions of userID.
func (h *Hub) Sessions(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}

// Publish delivers ev to every session of the task's owner. It implements tasks.Publisher.
func (h *Hub) Publish(_ context.Context, ev tasks.Event) {
	if h == nil {
		return
	}

	typ, ok := eventType(ev.Type)
	if !ok {
		h.log.Warn("ws.publish.unknown_event", "type", string(ev.Type))
		return
	}

	payload, err := json.Marshal(v1.TaskPayload{
		ID:          ev.Task.ID,
		Title:       ev.Task.Title,
		Description: ev.Task.Description,
		OwnerID:     ev.Task.OwnerID,
		CreatedAt:   ev.Task.CreatedAt,
		UpdatedAt:   ev.Task.UpdatedAt,
	})
	if err != nil {
		h.log.Error("ws.publish.marshal.fail", "err", err)
		return
	}
	env := newEnvelope(typ, payload, ev.At)

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.byUser[ev.Task.OwnerID] {
		if !c.offer(env) {
			h.log.Debug("ws.publish.drop", "session_id", c.SessionID, "type", typ)
		}
	}
}

func eventType(t tasks.EventType) (string, bool) {
	switch t {
	case tasks.EventCreated:
		return v1.TypeTaskCreated, true
	case tasks.EventUpdated:
		return v1.TypeTaskUpdated, true
	case tasks.EventDeleted:
		return v1.TypeTaskDeleted, true
	default:
		return "", false
	}
}
