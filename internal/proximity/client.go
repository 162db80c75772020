package proximity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
)

// ErrUnavailable reports that the proximity service could not be reached
// within the retry budget. Callers can distinguish a degraded service from a
// genuinely empty neighborhood.
var ErrUnavailable = errors.New("proximity service unavailable")

const maxAttempts = 3

// Query is the proximity request payload.
type Query struct {
	Lat          float64 `json:"latitude"`
	Lon          float64 `json:"longitude"`
	Radius       float64 `json:"radius"`
	VehicleClass string  `json:"vehicle_class,omitempty"`
}

// Client wraps the location service's proximity endpoint with bounded
// retries and backoff.
type Client struct {
	endpoint string
	token    string
	client   *http.Client
	logger   *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

func NewClient(endpoint, token string, logger *slog.Logger) *Client {
	return &Client{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 5 * time.Second},
		logger:   logger,
		sleep:    sleepCtx,
	}
}

// FindNearby queries for candidate drivers around the pickup point. An empty
// slice with a nil error means no drivers are nearby; ErrUnavailable means
// the service could not answer after all attempts.
func (c *Client) FindNearby(ctx context.Context, lat, lon, radius float64, vehicleClass string) ([]models.Candidate, error) {
	body, err := json.Marshal(Query{Lat: lat, Lon: lon, Radius: radius, VehicleClass: vehicleClass})
	if err != nil {
		return nil, fmt.Errorf("encode proximity query: %w", err)
	}

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			observability.ProximityRetries.Inc()
		}
		candidates, err := c.query(ctx, body)
		if err == nil {
			return candidates, nil
		}
		c.logger.Warn("proximity query failed", "attempt", attempt+1, "error", err)

		// 2^attempt + 0.1*attempt seconds between attempts
		delay := time.Duration((math.Pow(2, float64(attempt)) + 0.1*float64(attempt)) * float64(time.Second))
		if sleepErr := c.sleep(ctx, delay); sleepErr != nil {
			return nil, sleepErr
		}
	}
	return nil, ErrUnavailable
}

func (c *Client) query(ctx context.Context, body []byte) ([]models.Candidate, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Token", c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proximity service status %d", resp.StatusCode)
	}

	var out struct {
		Drivers []models.Candidate `json:"drivers"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode proximity response: %w", err)
	}
	return out.Drivers, nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
