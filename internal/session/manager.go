package session

import (
	"context"
	"errors"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/example/ride-dispatch/internal/observability"
)

// ErrNoSession reports that no live session exists for the customer.
var ErrNoSession = errors.New("no live session for customer")

// Transport is the send side of a customer connection. Implementations must
// be safe for use by one sender at a time; the manager serializes callers.
type Transport interface {
	SendJSON(v any) error
	SendText(msg string) error
	Close() error
}

// Manager tracks live customer booking sessions and the background dispatch
// task bound to each. At most one session per customer; a reconnect replaces
// the old session and cancels its task.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]Transport
	cancels  map[string]context.CancelFunc
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]Transport),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Register installs the transport as the customer's session. Any previous
// session is closed and its bound task cancelled.
func (m *Manager) Register(customerID string, t Transport) {
	m.mu.Lock()
	old, hadOld := m.sessions[customerID]
	oldCancel := m.cancels[customerID]
	m.sessions[customerID] = t
	delete(m.cancels, customerID)
	m.mu.Unlock()

	if oldCancel != nil {
		oldCancel()
	}
	if hadOld {
		_ = old.Close()
	} else {
		observability.SessionsActive.Inc()
	}
}

// BindTask derives a cancellable context for the customer's dispatch work.
// The context ends when the session is removed or replaced.
func (m *Manager) BindTask(ctx context.Context, customerID string) (context.Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[customerID]; !ok {
		return nil, false
	}
	if old := m.cancels[customerID]; old != nil {
		old()
	}
	taskCtx, cancel := context.WithCancel(ctx)
	m.cancels[customerID] = cancel
	return taskCtx, true
}

// Remove drops the session if t is still the current one. Stale removals
// from replaced connections are ignored.
func (m *Manager) Remove(customerID string, t Transport) {
	m.mu.Lock()
	cur, ok := m.sessions[customerID]
	if !ok || cur != t {
		m.mu.Unlock()
		return
	}
	cancel := m.cancels[customerID]
	delete(m.sessions, customerID)
	delete(m.cancels, customerID)
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	observability.SessionsActive.Dec()
}

// Has reports whether the customer currently holds a live session.
func (m *Manager) Has(customerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[customerID]
	return ok
}

// SendJSON delivers a JSON payload to the customer's session.
func (m *Manager) SendJSON(customerID string, v any) error {
	t, ok := m.transport(customerID)
	if !ok {
		return ErrNoSession
	}
	return t.SendJSON(v)
}

// SendText delivers a plain text frame to the customer's session.
func (m *Manager) SendText(customerID string, msg string) error {
	t, ok := m.transport(customerID)
	if !ok {
		return ErrNoSession
	}
	return t.SendText(msg)
}

func (m *Manager) transport(customerID string) (Transport, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.sessions[customerID]
	return t, ok
}

// WSTransport adapts a websocket connection to Transport. The gorilla
// connection allows only one concurrent writer, so writes take a mutex.
type WSTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func NewWSTransport(conn *websocket.Conn) *WSTransport {
	return &WSTransport{conn: conn}
}

func (t *WSTransport) SendJSON(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteJSON(v)
}

func (t *WSTransport) SendText(msg string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (t *WSTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Close()
}
