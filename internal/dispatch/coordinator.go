package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/observability"
	"github.com/example/ride-dispatch/internal/proximity"
	"github.com/example/ride-dispatch/internal/session"
)

// StateStore is the advisory per-driver dispatch state.
type StateStore interface {
	State(ctx context.Context, driverID string) (string, error)
	TryLock(ctx context.Context, driverID string, ttl time.Duration) (bool, error)
	Unlock(ctx context.Context, driverID string) error
	Settle(ctx context.Context, driverID string, ttl time.Duration) error
}

// AcceptWaiter blocks until the driver accepts the pairing or the window ends.
type AcceptWaiter interface {
	AwaitAccept(ctx context.Context, customerID, driverID string, window, pollEvery time.Duration) (bool, error)
}

// Finder produces candidate drivers around a pickup point.
type Finder interface {
	FindNearby(ctx context.Context, lat, lon, radius float64, vehicleClass string) ([]models.Candidate, error)
}

// Notifier publishes driver-bound trip offers to the notification queue.
type Notifier interface {
	Publish(ctx context.Context, env models.NotificationEnvelope) error
}

// Sender delivers terminal outcomes to the requesting customer's session.
type Sender interface {
	SendJSON(customerID string, v any) error
}

// TripCreator records an accepted trip with the trip management service.
type TripCreator interface {
	Create(ctx context.Context, req models.TripRequest, driverID string) error
}

const (
	stateFree = "free"

	msgNoDrivers      = "No drivers available nearby."
	msgNoAcceptance   = "No driver accepted the trip request."
	msgSearchDegraded = "Driver search is temporarily unavailable. Please try again."
	msgDriverOnTheWay = "Driver accepted the trip request."

	statusSuccess = "success"
	statusFailed  = "failed"

	notifyTripRequest = "trip_request"
	recipientDriver   = "driver"
)

// Config holds the matching loop's timing parameters.
type Config struct {
	SearchRadiusM float64
	LockTTL       time.Duration
	AcceptWindow  time.Duration
	AcceptPoll    time.Duration
	BusyTTL       time.Duration
}

// Coordinator runs one sequential matching attempt per trip request. Candidates
// are offered strictly one at a time, so at most one driver is ever settled for
// a request and dispatch latency is bounded by candidates x accept window.
type Coordinator struct {
	cfg      Config
	states   StateStore
	pairing  AcceptWaiter
	finder   Finder
	notifier Notifier
	sessions Sender
	trips    TripCreator
	logger   *slog.Logger
}

func NewCoordinator(cfg Config, states StateStore, pairing AcceptWaiter, finder Finder, notifier Notifier, sessions Sender, trips TripCreator, logger *slog.Logger) *Coordinator {
	return &Coordinator{
		cfg:      cfg,
		states:   states,
		pairing:  pairing,
		finder:   finder,
		notifier: notifier,
		sessions: sessions,
		trips:    trips,
		logger:   logger,
	}
}

// Dispatch runs the full matching flow for one trip request. Terminal business
// outcomes (matched, nobody nearby, nobody accepted) return nil after the
// customer has been told; only cancellation surfaces as an error.
func (c *Coordinator) Dispatch(ctx context.Context, req models.TripRequest) error {
	start := time.Now()
	logger := c.logger.With("customer_id", req.CustomerID)

	candidates, err := c.finder.FindNearby(ctx, req.SourceLocation.Lat, req.SourceLocation.Lon, c.cfg.SearchRadiusM, req.VehicleClass)
	if err != nil {
		if errors.Is(err, proximity.ErrUnavailable) {
			logger.Error("proximity service unavailable, failing request")
			c.finish(logger, start, "unavailable", req.CustomerID, statusFailed, msgSearchDegraded)
			return nil
		}
		return err
	}
	if len(candidates) == 0 {
		logger.Info("no candidates nearby")
		c.finish(logger, start, "no_candidates", req.CustomerID, statusFailed, msgNoDrivers)
		return nil
	}

	// Cleanup for cancellation mid-offer. The request context is already dead
	// at that point, so the unlock runs on a detached one; the lock TTL is the
	// backstop if even that fails.
	var held string
	defer func() {
		if held == "" {
			return
		}
		cleanupCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := c.states.Unlock(cleanupCtx, held); err != nil {
			logger.Warn("cleanup unlock failed, lock will expire", "driver_id", held, "error", err)
		}
	}()

	for _, cand := range candidates {
		if err := ctx.Err(); err != nil {
			observability.DispatchOutcomes.WithLabelValues("cancelled").Inc()
			return err
		}

		st, err := c.states.State(ctx, cand.DriverID)
		if err != nil {
			logger.Warn("state read failed, skipping candidate", "driver_id", cand.DriverID, "error", err)
			continue
		}
		if st != stateFree {
			continue
		}
		ok, err := c.states.TryLock(ctx, cand.DriverID, c.cfg.LockTTL)
		if err != nil || !ok {
			continue
		}
		held = cand.DriverID
		observability.CandidatesOffered.Inc()
		logger.Info("driver locked, sending offer", "driver_id", cand.DriverID, "distance_m", cand.Distance)

		if err := c.offer(ctx, req, cand); err != nil {
			logger.Warn("offer publish failed, releasing driver", "driver_id", cand.DriverID, "error", err)
			_ = c.states.Unlock(ctx, cand.DriverID)
			held = ""
			continue
		}

		accepted, err := c.pairing.AwaitAccept(ctx, req.CustomerID, cand.DriverID, c.cfg.AcceptWindow, c.cfg.AcceptPoll)
		if err != nil && ctx.Err() != nil {
			observability.DispatchOutcomes.WithLabelValues("cancelled").Inc()
			return err
		}
		if !accepted {
			_ = c.states.Unlock(ctx, cand.DriverID)
			held = ""
			continue
		}

		// the requester hears about the match before the slower downstream
		// writes; trip creation and settle are not on the notification path
		logger.Info("trip matched", "driver_id", cand.DriverID)
		c.finish(logger, start, "matched", req.CustomerID, statusSuccess, msgDriverOnTheWay)
		if err := c.trips.Create(ctx, req, cand.DriverID); err != nil {
			logger.Error("trip creation failed", "driver_id", cand.DriverID, "error", err)
		}
		if err := c.states.Settle(ctx, cand.DriverID, c.cfg.BusyTTL); err != nil {
			logger.Error("settle failed, lock TTL will release the driver", "driver_id", cand.DriverID, "error", err)
		}
		held = ""
		return nil
	}

	logger.Info("candidate list exhausted without acceptance")
	c.finish(logger, start, "exhausted", req.CustomerID, statusFailed, msgNoAcceptance)
	return nil
}

func (c *Coordinator) offer(ctx context.Context, req models.TripRequest, cand models.Candidate) error {
	return c.notifier.Publish(ctx, models.NotificationEnvelope{
		RecipientID:   cand.DriverID,
		RecipientType: recipientDriver,
		Status:        notifyTripRequest,
		Message:       "New trip request",
		Params: map[string]any{
			"customer_id":          req.CustomerID,
			"source_location":      req.SourceLocation,
			"source_address":       req.SourceAddress,
			"destination_location": req.DestinationLoc,
			"destination_address":  req.DestinationAddress,
			"vehicle_class":        req.VehicleClass,
		},
	})
}

func (c *Coordinator) finish(logger *slog.Logger, start time.Time, result, customerID, status, msg string) {
	observability.DispatchOutcomes.WithLabelValues(result).Inc()
	observability.DispatchLatency.Observe(time.Since(start).Seconds())
	err := c.sessions.SendJSON(customerID, models.StatusMessage{Status: status, Message: msg})
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		logger.Warn("outcome delivery failed", "error", err)
	}
}
