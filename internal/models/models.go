package models

import "time"

type Coord struct {
	Lat float64 `json:"latitude"`
	Lon float64 `json:"longitude"`
}

// TripRequest is the one inbound payload a customer session sends after
// connecting. CustomerID is filled from the verified token, never trusted
// from the payload.
type TripRequest struct {
	CustomerID         string `json:"customer_id,omitempty"`
	SourceLocation     Coord  `json:"source_location"`
	SourceAddress      string `json:"source_address,omitempty"`
	DestinationLoc     Coord  `json:"destination_location"`
	DestinationAddress string `json:"destination_address,omitempty"`
	VehicleClass       string `json:"vehicle_class,omitempty"`
}

// Candidate is one driver returned by a proximity query, ordered by the
// query's distance from the pickup point.
type Candidate struct {
	DriverID     string  `json:"driver_id"`
	Distance     float64 `json:"distance"`
	Lat          float64 `json:"latitude"`
	Lon          float64 `json:"longitude"`
	VehicleClass string  `json:"vehicle_class"`
	Rating       string  `json:"rating"`
	Status       string  `json:"status"`
}

// LocationUpdate is a driver position report, via WebSocket or REST.
type LocationUpdate struct {
	DriverID string  `json:"driver_id"`
	Lat      float64 `json:"latitude"`
	Lon      float64 `json:"longitude"`
}

// DriverRecord is a registry entry joined with its live position.
type DriverRecord struct {
	DriverID     string
	Lat          float64
	Lon          float64
	Distance     float64
	VehicleClass string
	Rating       string
	Status       string
	LastSeen     time.Time
}

// DriverResponse is a driver's answer to a trip offer.
type DriverResponse struct {
	CustomerID string `json:"customer_id"`
	DriverID   string `json:"driver_id"`
	Status     string `json:"status"` // accepted | denied
}

// StatusMessage is the terminal envelope delivered to the requesting
// customer's session.
type StatusMessage struct {
	Status  string `json:"status"` // success | failed
	Message string `json:"message"`
}

// NotificationEnvelope is the queue message schema: one message, one
// notification, addressed by recipient id and type.
type NotificationEnvelope struct {
	RecipientID   string         `json:"user_id"`
	RecipientType string         `json:"user_type"` // customer | driver
	Status        string         `json:"status"`
	Message       string         `json:"message_body"`
	Params        map[string]any `json:"params,omitempty"`
}

// StreamEvent is one SSE frame payload on a notification stream.
type StreamEvent struct {
	Message string         `json:"message"`
	Status  string         `json:"status"`
	Params  map[string]any `json:"params"`
}
