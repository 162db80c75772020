package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/registry"
)

// DriverRegistry is the location surface's view of the geospatial registry.
type DriverRegistry interface {
	Upsert(ctx context.Context, driverID string, lat, lon float64) error
	SetAvailability(ctx context.Context, driverID, status string) error
	Record(ctx context.Context, driverID string) (models.DriverRecord, error)
	QueryRadius(ctx context.Context, lat, lon, radiusMeters float64, vehicleClass string) ([]models.DriverRecord, error)
}

// LocationServer ingests driver positions and answers proximity queries.
type LocationServer struct {
	logger         *slog.Logger
	verifier       *auth.Verifier
	registry       DriverRegistry
	ready          Pinger
	trackingSecret string
	trackInterval  time.Duration

	upgrader websocket.Upgrader
	router   *mux.Router
}

func NewLocationServer(logger *slog.Logger, verifier *auth.Verifier, reg DriverRegistry, ready Pinger, trackingSecret string, trackInterval time.Duration) *LocationServer {
	s := &LocationServer{
		logger:         logger,
		verifier:       verifier,
		registry:       reg,
		ready:          ready,
		trackingSecret: trackingSecret,
		trackInterval:  trackInterval,
		upgrader:       websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		router:         mux.NewRouter(),
	}
	registerMiddleware(s.router, logger)
	s.routes()
	return s
}

func (s *LocationServer) routes() {
	s.router.HandleFunc("/ws/location", s.handleLocationWS).Methods(http.MethodGet)
	s.router.HandleFunc("/update-location-manual", s.handleManualUpdate).Methods(http.MethodPost)
	s.router.HandleFunc("/driver/status", s.handleDriverStatus).Methods(http.MethodPost)
	s.router.HandleFunc("/proximity", s.handleProximity).Methods(http.MethodPost)
	s.router.HandleFunc("/ws/track", s.handleTrack).Methods(http.MethodGet)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
}

func (s *LocationServer) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// handleLocationWS is the streaming ingest path. The driver id comes from the
// token, never the payload.
func (s *LocationServer) handleLocationWS(w http.ResponseWriter, r *http.Request) {
	claims, err := s.verifier.Verify(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if claims.UserType != auth.TypeDriver {
		writeError(w, http.StatusForbidden, "driver token required")
		return
	}
	driverID := claims.UserID
	logger := s.logger.With("driver_id", driverID)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	for {
		var upd models.LocationUpdate
		if err := conn.ReadJSON(&upd); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logger.Debug("location stream ended", "error", err)
			}
			return
		}
		if err := s.registry.Upsert(r.Context(), driverID, upd.Lat, upd.Lon); err != nil {
			logger.Warn("location upsert failed", "error", err)
			continue
		}
		observability.LocationUpdates.Inc()
	}
}

func (s *LocationServer) handleManualUpdate(w http.ResponseWriter, r *http.Request) {
	claims, err := s.verifier.Verify(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if claims.UserType != auth.TypeDriver && claims.UserType != auth.TypeInternal {
		writeError(w, http.StatusForbidden, "driver token required")
		return
	}

	var upd models.LocationUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		writeError(w, http.StatusBadRequest, "malformed location payload")
		return
	}
	driverID := upd.DriverID
	if claims.UserType == auth.TypeDriver {
		driverID = claims.UserID
	}
	if driverID == "" {
		writeError(w, http.StatusBadRequest, "driver_id is required")
		return
	}
	if err := s.registry.Upsert(r.Context(), driverID, upd.Lat, upd.Lon); err != nil {
		s.logger.Error("location upsert failed", "driver_id", driverID, "error", err)
		writeError(w, http.StatusInternalServerError, "could not store location")
		return
	}
	observability.LocationUpdates.Inc()
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

// handleDriverStatus is the out-of-band availability write used by other
// services, e.g. marking a driver booked when a trip starts elsewhere.
func (s *LocationServer) handleDriverStatus(w http.ResponseWriter, r *http.Request) {
	claims, err := s.verifier.Verify(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if claims.UserType != auth.TypeInternal {
		writeError(w, http.StatusForbidden, "internal token required")
		return
	}

	var body struct {
		DriverID string `json:"driver_id"`
		Status   string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "malformed status payload")
		return
	}
	if err := s.registry.SetAvailability(r.Context(), body.DriverID, body.Status); err != nil {
		if errors.Is(err, registry.ErrUnknownDriver) {
			writeError(w, http.StatusNotFound, "unknown driver")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *LocationServer) handleProximity(w http.ResponseWriter, r *http.Request) {
	claims, err := s.verifier.Verify(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if claims.UserType != auth.TypeCustomer && claims.UserType != auth.TypeInternal {
		writeError(w, http.StatusForbidden, "not allowed")
		return
	}

	var q struct {
		Lat          float64 `json:"latitude"`
		Lon          float64 `json:"longitude"`
		Radius       float64 `json:"radius"`
		VehicleClass string  `json:"vehicle_class"`
	}
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		writeError(w, http.StatusBadRequest, "malformed query payload")
		return
	}
	if q.Radius <= 0 {
		writeError(w, http.StatusBadRequest, "radius must be > 0")
		return
	}

	recs, err := s.registry.QueryRadius(r.Context(), q.Lat, q.Lon, q.Radius, q.VehicleClass)
	if err != nil {
		s.logger.Error("proximity query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "query failed")
		return
	}
	drivers := make([]models.Candidate, 0, len(recs))
	for _, rec := range recs {
		drivers = append(drivers, models.Candidate{
			DriverID:     rec.DriverID,
			Distance:     rec.Distance,
			Lat:          rec.Lat,
			Lon:          rec.Lon,
			VehicleClass: rec.VehicleClass,
			Rating:       rec.Rating,
			Status:       rec.Status,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"drivers": drivers})
}

// handleTrack streams one driver's position to the customer who holds a
// tracking grant for that driver. Two tokens gate the stream: the caller's own
// identity and a per-trip tracking token naming the driver.
func (s *LocationServer) handleTrack(w http.ResponseWriter, r *http.Request) {
	claims, err := s.verifier.Verify(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if claims.UserType != auth.TypeCustomer {
		writeError(w, http.StatusForbidden, "customer token required")
		return
	}
	tracking, err := auth.VerifyTracking(s.trackingSecret, r.URL.Query().Get("tracking_token"))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid tracking token")
		return
	}
	if tracking.CustomerID != "" && tracking.CustomerID != claims.UserID {
		writeError(w, http.StatusForbidden, "tracking token does not match caller")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	// reads only signal disconnect
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.trackInterval)
	defer ticker.Stop()
	for {
		rec, err := s.registry.Record(r.Context(), tracking.DriverID)
		if err == nil {
			if err := conn.WriteJSON(models.Candidate{
				DriverID:     rec.DriverID,
				Lat:          rec.Lat,
				Lon:          rec.Lon,
				VehicleClass: rec.VehicleClass,
				Rating:       rec.Rating,
				Status:       rec.Status,
			}); err != nil {
				return
			}
		}
		select {
		case <-done:
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *LocationServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "backing store not ready")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
