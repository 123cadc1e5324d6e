package realtime

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"tasker/cmd/internal/tasks"
	v1 "tasker/shared/contracts/taskevents/v1"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestHub_PublishIsOwnerScoped(t *testing.T) {
	t.Parallel()

	h := NewHub(discardLogger())
	alice1 := NewClient("alice", "s1", 4)
	alice2 := NewClient("alice", "s2", 4)
	bob := NewClient("bob", "s3", 4)
	for _, c := range []*Client{alice1, alice2, bob} {
		h.Register(c)
	}

	at := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	h.Publish(context.Background(), tasks.Event{
		Type: tasks.EventCreated,
		Task: tasks.Task{ID: "t1", Title: "x", OwnerID: "alice"},
		At:   at,
	})

	for _, c := range []*Client{alice1, alice2} {
		select {
		case env := <-c.Send:
			if env.Type != v1.TypeTaskCreated || env.V != v1.Version || !env.TS.Equal(at) || env.ID == "" {
				t.Fatalf("unexpected envelope: %+v", env)
			}
			var p v1.TaskPayload
			if err := json.Unmarshal(env.Payload, &p); err != nil {
				t.Fatalf("payload: %v", err)
			}
			if p.ID != "t1" || p.OwnerID != "alice" {
				t.Fatalf("unexpected payload: %+v", p)
			}
		default:
			t.Fatalf("session %s did not receive the event", c.SessionID)
		}
	}

	select {
	case env := <-bob.Send:
		t.Fatalf("non-owner received %+v", env)
	default:
	}
}

func TestHub_PublishDropsWhenQueueFull(t *testing.T) {
	t.Parallel()

	h := NewHub(discardLogger())
	c := NewClient("alice", "s1", 1)
	h.Register(c)

	ev := tasks.Event{Type: tasks.EventUpdated, Task: tasks.Task{ID: "t1", OwnerID: "alice"}}
	done := make(chan struct{})
	go func() {
		h.Publish(context.Background(), ev)
		h.Publish(context.Background(), ev)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked on a full queue")
	}
	if n := len(c.Send); n != 1 {
		t.Fatalf("queue length=%d want 1", n)
	}
}

func TestHub_UnregisterClosesAndCounts(t *testing.T) {
	t.Parallel()

	gauge := prometheus.NewGauge(prometheus.GaugeOpts{Name: "test_realtime_connections"})
	h := NewHub(discardLogger(), WithConnectionGauge(gauge))

	c := NewClient("alice", "s1", 4)
	h.Register(c)
	h.Register(c)
	if got := testutil.ToFloat64(gauge); got != 1 {
		t.Fatalf("gauge=%v after register", got)
	}
	if h.Sessions("alice") != 1 {
		t.Fatalf("sessions=%d", h.Sessions("alice"))
	}

	h.Unregister(c)
	h.Unregister(c)
	if got := testutil.ToFloat64(gauge); got != 0 {
		t.Fatalf("gauge=%v after unregister", got)
	}
	if h.Sessions("alice") != 0 {
		t.Fatalf("sessions=%d", h.Sessions("alice"))
	}
	select {
	case <-c.Done():
	default:
		t.Fatalf("client not closed")
	}

	h.Publish(context.Background(), tasks.Event{Type: tasks.EventDeleted, Task: tasks.Task{ID: "t1", OwnerID: "alice"}})
	if len(c.Send) != 0 {
		t.Fatalf("closed client received an event")
	}
}
