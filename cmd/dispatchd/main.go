package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/httpapi"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/notify"
	"github.com/example/ride-dispatch/internal/proximity"
	"github.com/example/ride-dispatch/internal/session"
	"github.com/example/ride-dispatch/internal/state"
	"github.com/example/ride-dispatch/internal/trips"
)

func main() {
	cfg, err := config.LoadDispatchConfig()
	logger := logging.NewLogger("dispatchd", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rc.Close()

	serviceToken, err := auth.NewInternalToken(cfg.TokenSecret, "dispatch-service")
	if err != nil {
		logger.Error("could not mint service token", "error", err)
		os.Exit(1)
	}

	producer := notify.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	defer producer.Close()

	states := state.NewStore(rc)
	pairing := state.NewPairingStore(rc)
	sessions := session.NewManager()
	finder := proximity.NewClient(strings.TrimRight(cfg.ProximityURL, "/")+"/proximity", serviceToken, logger)
	tripsClient := trips.NewClient(cfg.TripsURL, serviceToken)

	coordinator := dispatch.NewCoordinator(dispatch.Config{
		SearchRadiusM: cfg.SearchRadiusM,
		LockTTL:       cfg.LockTTL,
		AcceptWindow:  cfg.AcceptWindow,
		AcceptPoll:    cfg.AcceptPoll,
		BusyTTL:       cfg.BusyTTL,
	}, states, pairing, finder, producer, sessions, tripsClient, logger)

	server := httpapi.NewDispatchServer(ctx, logger, auth.NewVerifier(cfg.TokenSecret),
		sessions, coordinator, pairing, states, redisPinger{rc}, cfg.PairingTTL)

	// no blanket read/write timeouts: booking sessions are long-lived websockets
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server,
		ReadHeaderTimeout: cfg.ReadTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}

	go func() {
		logger.Info("dispatchd listening", "addr", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server stopped", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", "error", err)
	}
}

type redisPinger struct{ c *redis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }
