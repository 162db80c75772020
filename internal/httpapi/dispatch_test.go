package httpapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/httpapi"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/session"
	"github.com/example/ride-dispatch/internal/state"
)

const testSecret = "test-secret"

func signToken(t *testing.T, userID, userType string) string {
	t.Helper()
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, auth.Claims{
		UserID:   userID,
		UserType: userType,
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return tok
}

func testLogger(t *testing.T) *slog.Logger {
	return slog.New(slog.NewTextHandler(testWriter{t}, nil))
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

type recordingDispatcher struct {
	mu       sync.Mutex
	requests []models.TripRequest
	sessions *session.Manager
}

func (d *recordingDispatcher) Dispatch(_ context.Context, req models.TripRequest) error {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()
	return d.sessions.SendJSON(req.CustomerID, models.StatusMessage{Status: "success", Message: "matched"})
}

type fakeTransport struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeTransport) SendJSON(any) error { return nil }
func (f *fakeTransport) SendText(msg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, msg)
	return nil
}
func (f *fakeTransport) Close() error { return nil }

func newDispatchFixture(t *testing.T) (*httptest.Server, *session.Manager, *state.Store, *state.PairingStore, *recordingDispatcher) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
		mr.Close()
	})

	sessions := session.NewManager()
	states := state.NewStore(client)
	pairing := state.NewPairingStore(client)
	dispatcher := &recordingDispatcher{sessions: sessions}

	srv := httpapi.NewDispatchServer(context.Background(), testLogger(t),
		auth.NewVerifier(testSecret), sessions, dispatcher, pairing, states, nil, 5*time.Minute)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, sessions, states, pairing, dispatcher
}

func TestRequestBookingFlow(t *testing.T) {
	ts, _, _, _, dispatcher := newDispatchFixture(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/request-booking?token=" + signToken(t, "c1", auth.TypeCustomer)
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(models.TripRequest{
		SourceLocation: models.Coord{Lat: 12.97, Lon: 77.59},
		DestinationLoc: models.Coord{Lat: 12.99, Lon: 77.61},
	}))

	var out models.StatusMessage
	require.NoError(t, conn.ReadJSON(&out))
	require.Equal(t, "success", out.Status)

	dispatcher.mu.Lock()
	defer dispatcher.mu.Unlock()
	require.Len(t, dispatcher.requests, 1)
	require.Equal(t, "c1", dispatcher.requests[0].CustomerID, "customer id must come from the token")
}

func TestRequestBookingRejectsDriverToken(t *testing.T) {
	ts, _, _, _, _ := newDispatchFixture(t)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws/request-booking?token=" + signToken(t, "d1", auth.TypeDriver)
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func postDriverResponse(t *testing.T, ts *httptest.Server, token string, body models.DriverResponse) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/driver/response", bytes.NewReader(b))
	require.NoError(t, err)
	req.Header.Set("Token", token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestDriverResponseAccepted(t *testing.T) {
	ts, sessions, _, pairing, _ := newDispatchFixture(t)
	ft := &fakeTransport{}
	sessions.Register("c1", ft)

	resp := postDriverResponse(t, ts, signToken(t, "d1", auth.TypeDriver),
		models.DriverResponse{CustomerID: "c1", DriverID: "d1", Status: "accepted"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	ok, err := pairing.Accepted(context.Background(), "c1", "d1")
	require.NoError(t, err)
	require.True(t, ok)

	ft.mu.Lock()
	defer ft.mu.Unlock()
	require.Len(t, ft.texts, 1)
	require.Contains(t, ft.texts[0], "d1")
}

func TestDriverResponseAcceptedWithoutLiveRequest(t *testing.T) {
	ts, _, _, pairing, _ := newDispatchFixture(t)

	resp := postDriverResponse(t, ts, signToken(t, "d1", auth.TypeDriver),
		models.DriverResponse{CustomerID: "ghost", DriverID: "d1", Status: "accepted"})
	require.Equal(t, http.StatusConflict, resp.StatusCode)

	ok, err := pairing.Accepted(context.Background(), "ghost", "d1")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDriverResponseDeniedUnlocks(t *testing.T) {
	ts, _, states, _, _ := newDispatchFixture(t)
	ok, err := states.TryLock(context.Background(), "d1", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	resp := postDriverResponse(t, ts, signToken(t, "d1", auth.TypeDriver),
		models.DriverResponse{CustomerID: "c1", DriverID: "d1", Status: "denied"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	st, err := states.State(context.Background(), "d1")
	require.NoError(t, err)
	require.Equal(t, "free", st)
}

func TestDriverResponseTokenMismatch(t *testing.T) {
	ts, _, _, _, _ := newDispatchFixture(t)

	resp := postDriverResponse(t, ts, signToken(t, "d2", auth.TypeDriver),
		models.DriverResponse{CustomerID: "c1", DriverID: "d1", Status: "accepted"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestDriverResponseRequiresDriverToken(t *testing.T) {
	ts, _, _, _, _ := newDispatchFixture(t)

	resp := postDriverResponse(t, ts, signToken(t, "c1", auth.TypeCustomer),
		models.DriverResponse{CustomerID: "c1", DriverID: "d1", Status: "accepted"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}
