package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/config"
	"github.com/example/ride-dispatch/internal/httpapi"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/relay"
	"github.com/example/ride-dispatch/internal/stream"
)

func main() {
	cfg, err := config.LoadRelayConfig()
	logger := logging.NewLogger("relayd", cfg.LogLevel)
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := stream.NewHub()
	source := relay.NewKafkaSource(cfg.KafkaBrokers, cfg.KafkaTopic, cfg.KafkaGroup)
	defer source.Close()
	consumer := relay.New(source, []relay.Delivery{hub}, cfg.FetchWait, cfg.ErrorDelay, logger)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("relay consuming", "topic", cfg.KafkaTopic, "group", cfg.KafkaGroup)
		consumer.Run(ctx)
	}()

	server := httpapi.NewRelayServer(logger, auth.NewVerifier(cfg.TokenSecret), hub)
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: server,
	}

	go func() {
		logger.Info("relayd listening", "addr", cfg.HTTPAddr)
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
	wg.Wait()
}
