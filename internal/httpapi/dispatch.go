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
	"github.com/example/ride-dispatch/internal/session"
)

// Dispatcher runs one matching attempt for a trip request.
type Dispatcher interface {
	Dispatch(ctx context.Context, req models.TripRequest) error
}

// PairingWriter records a driver's acceptance for a waiting coordinator.
type PairingWriter interface {
	Accept(ctx context.Context, customerID, driverID string, ttl time.Duration) error
}

// DriverUnlocker releases a driver's dispatch lock after an explicit denial.
type DriverUnlocker interface {
	Unlock(ctx context.Context, driverID string) error
}

// Pinger reports backing-store connectivity for readiness checks.
type Pinger interface {
	Ping(ctx context.Context) error
}

// DispatchServer is the customer-facing booking surface plus the driver
// response endpoint.
type DispatchServer struct {
	logger     *slog.Logger
	verifier   *auth.Verifier
	sessions   *session.Manager
	dispatcher Dispatcher
	pairing    PairingWriter
	states     DriverUnlocker
	ready      Pinger

	pairingTTL time.Duration
	upgrader   websocket.Upgrader
	router     *mux.Router

	// root context for coordinator tasks so they outlive a single request
	// handler but end on process shutdown
	baseCtx context.Context
}

func NewDispatchServer(baseCtx context.Context, logger *slog.Logger, verifier *auth.Verifier, sessions *session.Manager, dispatcher Dispatcher, pairing PairingWriter, states DriverUnlocker, ready Pinger, pairingTTL time.Duration) *DispatchServer {
	s := &DispatchServer{
		logger:     logger,
		verifier:   verifier,
		sessions:   sessions,
		dispatcher: dispatcher,
		pairing:    pairing,
		states:     states,
		ready:      ready,
		pairingTTL: pairingTTL,
		upgrader:   websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
		router:     mux.NewRouter(),
		baseCtx:    baseCtx,
	}
	registerMiddleware(s.router, logger)
	s.routes()
	return s
}

func (s *DispatchServer) routes() {
	s.router.HandleFunc("/ws/request-booking", s.handleRequestBooking).Methods(http.MethodGet)
	s.router.HandleFunc("/driver/response", s.handleDriverResponse).Methods(http.MethodPost)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", s.handleReady).Methods(http.MethodGet)
}

func (s *DispatchServer) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// handleRequestBooking owns the life of one customer booking session: verify,
// upgrade, read the single trip request payload, run the coordinator bound to
// the session, and hold the read side open to detect disconnects.
func (s *DispatchServer) handleRequestBooking(w http.ResponseWriter, r *http.Request) {
	claims, err := s.verifier.Verify(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if claims.UserType != auth.TypeCustomer {
		writeError(w, http.StatusForbidden, "customer token required")
		return
	}
	customerID := claims.UserID
	logger := s.logger.With("customer_id", customerID)

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	transport := session.NewWSTransport(conn)
	s.sessions.Register(customerID, transport)
	defer s.sessions.Remove(customerID, transport)

	var req models.TripRequest
	if err := conn.ReadJSON(&req); err != nil {
		logger.Warn("malformed trip request, dropping session", "error", err)
		return
	}
	req.CustomerID = customerID

	taskCtx, ok := s.sessions.BindTask(s.baseCtx, customerID)
	if !ok {
		return
	}
	go func() {
		if err := s.dispatcher.Dispatch(taskCtx, req); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("dispatch failed", "error", err)
			_ = s.sessions.SendJSON(customerID, models.StatusMessage{
				Status:  "failed",
				Message: "Could not process the trip request.",
			})
		}
	}()

	// drain reads until the client goes away; Remove cancels the task
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// handleDriverResponse accepts or denies an offered trip. The caller may only
// answer for the driver id in its own token.
func (s *DispatchServer) handleDriverResponse(w http.ResponseWriter, r *http.Request) {
	claims, err := s.verifier.Verify(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if claims.UserType != auth.TypeDriver {
		writeError(w, http.StatusForbidden, "driver token required")
		return
	}

	var resp models.DriverResponse
	if err := json.NewDecoder(r.Body).Decode(&resp); err != nil {
		writeError(w, http.StatusBadRequest, "malformed response payload")
		return
	}
	if resp.DriverID == "" {
		resp.DriverID = claims.UserID
	}
	if resp.DriverID != claims.UserID {
		writeError(w, http.StatusForbidden, "token does not match driver")
		return
	}
	if resp.CustomerID == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required")
		return
	}

	logger := s.logger.With("customer_id", resp.CustomerID, "driver_id", resp.DriverID)

	switch resp.Status {
	case "accepted":
		// acceptance is only meaningful while the requester is still waiting
		if !s.sessions.Has(resp.CustomerID) {
			writeError(w, http.StatusConflict, "trip request is no longer active")
			return
		}
		if err := s.pairing.Accept(r.Context(), resp.CustomerID, resp.DriverID, s.pairingTTL); err != nil {
			logger.Error("pairing write failed", "error", err)
			writeError(w, http.StatusInternalServerError, "could not record acceptance")
			return
		}
		_ = s.sessions.SendText(resp.CustomerID, "Driver "+resp.DriverID+" is on the way.")
		logger.Info("driver accepted trip")
		writeJSON(w, http.StatusOK, map[string]string{"status": "accepted"})
	case "denied":
		if err := s.states.Unlock(r.Context(), resp.DriverID); err != nil {
			logger.Warn("unlock after denial failed, lock will expire", "error", err)
		}
		logger.Info("driver denied trip")
		writeJSON(w, http.StatusOK, map[string]string{"status": "denied"})
	default:
		writeError(w, http.StatusBadRequest, "status must be accepted or denied")
	}
}

func (s *DispatchServer) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "backing store not ready")
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

func handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
