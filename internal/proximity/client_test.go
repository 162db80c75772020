package proximity

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/models"
)

func newTestClient(t *testing.T, endpoint string) *Client {
	t.Helper()
	c := NewClient(endpoint, "tok", slog.New(slog.NewTextHandler(testWriter{t}, nil)))
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

func TestFindNearbyReturnsCandidates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var q Query
		require.NoError(t, json.NewDecoder(r.Body).Decode(&q))
		require.Equal(t, 2000.0, q.Radius)
		_ = json.NewEncoder(w).Encode(map[string]any{"drivers": []models.Candidate{
			{DriverID: "d1", Distance: 120.5},
			{DriverID: "d2", Distance: 340.0},
		}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	cands, err := c.FindNearby(context.Background(), 12.97, 77.59, 2000, "")
	require.NoError(t, err)
	require.Len(t, cands, 2)
	require.Equal(t, "d1", cands[0].DriverID)
}

func TestFindNearbyRetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"drivers": []models.Candidate{{DriverID: "d1"}}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	cands, err := c.FindNearby(context.Background(), 0, 0, 1000, "")
	require.NoError(t, err)
	require.Len(t, cands, 1)
	require.EqualValues(t, 3, calls.Load())
}

func TestFindNearbyUnavailableAfterExhaustion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	_, err := c.FindNearby(context.Background(), 0, 0, 1000, "")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestFindNearbyEmptyIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"drivers": []models.Candidate{}})
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	cands, err := c.FindNearby(context.Background(), 0, 0, 1000, "")
	require.NoError(t, err)
	require.Empty(t, cands)
}

func TestFindNearbyStopsOnCancellation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	c.sleep = sleepCtx
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FindNearby(ctx, 0, 0, 1000, "")
	require.ErrorIs(t, err, context.Canceled)
}
