package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// queueDepth bounds each recipient's in-flight backlog. A client that cannot
// drain this many events loses the oldest ones.
const queueDepth = 256

func streamKey(userID, userType string) string { return userID + ":" + userType }

// Hub fans queued notifications out to connected event-stream clients, one
// stream per (user id, user type). A reconnect replaces the previous stream.
type Hub struct {
	mu      sync.Mutex
	streams map[string]chan models.StreamEvent
}

func NewHub() *Hub {
	return &Hub{streams: make(map[string]chan models.StreamEvent)}
}

// Deliver enqueues the notification for the addressed recipient. It reports
// false when the recipient has no connected stream. The lock is held across
// the send: subscribe closes replaced channels under the same lock, so a
// channel looked up here cannot be closed before the send lands. Sends never
// block (the shed below frees a slot), so holding the lock is cheap.
func (h *Hub) Deliver(env models.NotificationEnvelope) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.streams[streamKey(env.RecipientID, env.RecipientType)]
	if !ok {
		return false
	}
	ev := models.StreamEvent{Message: env.Message, Status: env.Status, Params: env.Params}
	for {
		select {
		case ch <- ev:
			return true
		default:
		}
		// slow consumer: shed the oldest queued event and retry
		select {
		case <-ch:
		default:
		}
	}
}

func (h *Hub) subscribe(userID, userType string) chan models.StreamEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := streamKey(userID, userType)
	if old, ok := h.streams[key]; ok {
		close(old)
	} else {
		observability.StreamsActive.Inc()
	}
	ch := make(chan models.StreamEvent, queueDepth)
	h.streams[key] = ch
	return ch
}

func (h *Hub) unsubscribe(userID, userType string, ch chan models.StreamEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	key := streamKey(userID, userType)
	if cur, ok := h.streams[key]; ok && cur == ch {
		delete(h.streams, key)
		observability.StreamsActive.Dec()
	}
}

// Connected reports whether the recipient currently holds a live stream.
func (h *Hub) Connected(userID, userType string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.streams[streamKey(userID, userType)]
	return ok
}

// Stream writes server-sent events for the recipient until ctx ends or the
// stream is replaced by a newer connection.
func (h *Hub) Stream(ctx context.Context, w http.ResponseWriter, userID, userType string) error {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return errors.New("response writer does not support streaming")
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := h.subscribe(userID, userType)
	defer h.unsubscribe(userID, userType, ch)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				// replaced by a newer connection
				return nil
			}
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
				return err
			}
			flusher.Flush()
		}
	}
}
