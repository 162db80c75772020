package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/stream"
)

// RelayServer exposes the notification event-stream endpoint and an internal
// injection endpoint for other services to push a notification directly.
type RelayServer struct {
	logger   *slog.Logger
	verifier *auth.Verifier
	hub      *stream.Hub
	router   *mux.Router
}

func NewRelayServer(logger *slog.Logger, verifier *auth.Verifier, hub *stream.Hub) *RelayServer {
	s := &RelayServer{
		logger:   logger,
		verifier: verifier,
		hub:      hub,
		router:   mux.NewRouter(),
	}
	registerMiddleware(s.router, logger)
	s.routes()
	return s
}

func (s *RelayServer) routes() {
	s.router.HandleFunc("/notification-stream", s.handleStream).Methods(http.MethodGet)
	s.router.HandleFunc("/manual-notify", s.handleManualNotify).Methods(http.MethodPost)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", handleHealthz).Methods(http.MethodGet)
	s.router.HandleFunc("/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	}).Methods(http.MethodGet)
}

func (s *RelayServer) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.router.ServeHTTP(w, r) }

// handleStream opens a server-sent-events stream addressed by the caller's
// token identity.
func (s *RelayServer) handleStream(w http.ResponseWriter, r *http.Request) {
	claims, err := s.verifier.Verify(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}
	if claims.UserType != auth.TypeCustomer && claims.UserType != auth.TypeDriver {
		writeError(w, http.StatusForbidden, "not allowed")
		return
	}
	if err := s.hub.Stream(r.Context(), w, claims.UserID, claims.UserType); err != nil {
		s.logger.Warn("event stream ended with error",
			"user_id", claims.UserID, "user_type", claims.UserType, "error", err)
	}
}

// handleManualNotify pushes a notification onto the caller's own live stream
// without going through the queue. Internal callers may address any recipient.
func (s *RelayServer) handleManualNotify(w http.ResponseWriter, r *http.Request) {
	claims, err := s.verifier.Verify(bearerToken(r))
	if err != nil {
		writeError(w, http.StatusUnauthorized, "invalid token")
		return
	}

	var env models.NotificationEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeError(w, http.StatusBadRequest, "malformed notification payload")
		return
	}
	if claims.UserType != auth.TypeInternal {
		env.RecipientID = claims.UserID
		env.RecipientType = claims.UserType
	}
	if env.RecipientID == "" || env.RecipientType == "" {
		writeError(w, http.StatusBadRequest, "user_id and user_type are required")
		return
	}

	delivered := s.hub.Deliver(env)
	writeJSON(w, http.StatusOK, map[string]any{"delivered": delivered})
}
