package trips

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/example/ride-dispatch/internal/models"
)

// Client records accepted trips with the trip management service.
type Client struct {
	endpoint string
	token    string
	client   *http.Client
}

func NewClient(endpoint, token string) *Client {
	return &Client{
		endpoint: endpoint,
		token:    token,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

type createPayload struct {
	CustomerID         string       `json:"customer_id"`
	DriverID           string       `json:"driver_id"`
	SourceLocation     models.Coord `json:"source_location"`
	SourceAddress      string       `json:"source_address"`
	DestinationLoc     models.Coord `json:"destination_location"`
	DestinationAddress string       `json:"destination_address"`
	VehicleClass       string       `json:"vehicle_class"`
}

// Create posts the matched trip downstream. Trip ownership transfers to the
// trip management service from here on.
func (c *Client) Create(ctx context.Context, req models.TripRequest, driverID string) error {
	body, err := json.Marshal(createPayload{
		CustomerID:         req.CustomerID,
		DriverID:           driverID,
		SourceLocation:     req.SourceLocation,
		SourceAddress:      req.SourceAddress,
		DestinationLoc:     req.DestinationLoc,
		DestinationAddress: req.DestinationAddress,
		VehicleClass:       req.VehicleClass,
	})
	if err != nil {
		return fmt.Errorf("encode trip: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		httpReq.Header.Set("Token", c.token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("create trip: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("trip service status %d", resp.StatusCode)
	}
	return nil
}
