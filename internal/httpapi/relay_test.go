package httpapi_test

import (
	"bufio"
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/httpapi"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/stream"
)

func newRelayFixture(t *testing.T) (*httptest.Server, *stream.Hub) {
	t.Helper()
	hub := stream.NewHub()
	srv := httpapi.NewRelayServer(testLogger(t), auth.NewVerifier(testSecret), hub)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return ts, hub
}

func TestNotificationStreamDeliversFrames(t *testing.T) {
	ts, hub := newRelayFixture(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/notification-stream?token="+signToken(t, "c1", auth.TypeCustomer), nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return hub.Connected("c1", auth.TypeCustomer) }, 2*time.Second, 10*time.Millisecond)
	require.True(t, hub.Deliver(models.NotificationEnvelope{
		RecipientID:   "c1",
		RecipientType: auth.TypeCustomer,
		Status:        "info",
		Message:       "trip update",
	}))

	reader := bufio.NewReader(resp.Body)
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(line, "data: "))
	require.Contains(t, line, `"message":"trip update"`)
}

func TestManualNotifyAddressesCaller(t *testing.T) {
	ts, hub := newRelayFixture(t)

	// caller not connected: accepted but not delivered
	body := []byte(`{"status":"info","message_body":"hello"}`)
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/manual-notify", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Token", signToken(t, "d7", auth.TypeDriver))
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.False(t, hub.Connected("d7", auth.TypeDriver))
}

func TestNotificationStreamRequiresToken(t *testing.T) {
	ts, _ := newRelayFixture(t)

	resp, err := http.Get(ts.URL + "/notification-stream")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}
