package profile

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/ride-dispatch/internal/registry"
)

// Client fetches driver profile details from the account service. The
// registry uses it once per driver, on first sighting.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 5 * time.Second},
	}
}

func (c *Client) Lookup(ctx context.Context, driverID string) (registry.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/"+driverID, nil)
	if err != nil {
		return registry.Profile{}, err
	}
	if c.token != "" {
		req.Header.Set("Token", c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return registry.Profile{}, fmt.Errorf("fetch driver profile: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return registry.Profile{}, fmt.Errorf("profile service status %d for driver %s", resp.StatusCode, driverID)
	}

	var body struct {
		VehicleClass string `json:"vehicle_class"`
		Rating       string `json:"rating"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return registry.Profile{}, fmt.Errorf("decode driver profile: %w", err)
	}
	return registry.Profile{VehicleClass: body.VehicleClass, Rating: body.Rating}, nil
}
