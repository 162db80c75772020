package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/httpapi"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/profile"
	"github.com/example/ride-dispatch/internal/registry"
)

func main() {
	cfg, err := config.LoadLocationConfig()
	logger := logging.NewLogger("locationd", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rc := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer rc.Close()

	serviceToken, err := auth.NewInternalToken(cfg.TokenSecret, "location-service")
	if err != nil {
		logger.Error("could not mint service token", "error", err)
		os.Exit(1)
	}

	profiles := profile.NewClient(cfg.ProfileServiceURL, serviceToken)
	reg := registry.New(rc, profiles, cfg.FreshnessWindow)

	server := httpapi.NewLocationServer(logger, auth.NewVerifier(cfg.TokenSecret),
		reg, redisPinger{rc}, cfg.TrackingSecret, cfg.TrackInterval)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server,
	}

	go func() {
		logger.Info("locationd listening", "addr", cfg.HTTPAddr)
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
