package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/anyhui/aleeai-prompt/internal/adapters/http"
	"github.com/anyhui/aleeai-prompt/internal/adapters/http/handlers"
	"github.com/anyhui/aleeai-prompt/internal/adapters/id"
	"github.com/anyhui/aleeai-prompt/internal/adapters/tracing"
	"github.com/anyhui/aleeai-prompt/internal/application/services"
)

// shutdownTimeout bounds the graceful shutdown of the server and active runs.
const shutdownTimeout = 30 * time.Second

// serveCmd starts the HTTP API server
func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		Long: `Start the aleeai HTTP API server.

Runs started over the API execute in the background; progress is
streamed over Server-Sent Events (/api/v1/optimizations/{id}/stream)
or WebSocket with MessagePack frames (/api/v1/optimizations/{id}/ws).

Configuration:
  - Listen address (ALEEAI_SERVER_HOST, ALEEAI_SERVER_PORT)
  - Version store (ALEEAI_STORE_DRIVER, ALEEAI_STORE_PATH or ALEEAI_POSTGRES_URL)
  - Tracing (ALEEAI_TRACING_EXPORTER, ALEEAI_OTLP_ENDPOINT)`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context())
		},
	}
}

// runServer initializes and starts the HTTP API server
func runServer(ctx context.Context) error {
	remote := cfg.RemoteCall()
	log.Info().
		Str("addr", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Str("endpoint", remote.Endpoint).
		Str("model", remote.ModelID).
		Str("store", cfg.Store.Driver).
		Msg("starting aleeai API server")

	shutdownTracer, err := tracing.InitTracer(ctx, tracing.Options{
		ServiceName:    "aleeai",
		ServiceVersion: version,
		Exporter:       cfg.Tracing.Exporter,
		Endpoint:       cfg.Tracing.Endpoint,
	})
	if err != nil {
		log.Warn().Err(err).Msg("failed to initialize tracing")
	} else {
		defer func() {
			if err := shutdownTracer(context.Background()); err != nil {
				log.Error().Err(err).Msg("error shutting down tracer")
			}
		}()
	}

	versions, closeStore, err := openVersionService(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	templates, err := loadTemplates()
	if err != nil {
		return err
	}

	broadcaster := handlers.NewWebSocketBroadcaster()
	publisher := services.NewProgressPublisher(broadcaster)
	registry := services.NewRunRegistry(llmClient, templates, cfg.RemoteCall, versions, publisher, id.New())

	server := http.NewServer(cfg.Server, http.Dependencies{
		Runs:         registry,
		Publisher:    publisher,
		Broadcaster:  broadcaster,
		Versions:     versions,
		Checker:      llmClient,
		RemoteConfig: cfg.RemoteCall,
		Version:      version,
	})

	// Channel to listen for errors from the server
	serverErrors := make(chan error, 1)
	go func() {
		serverErrors <- server.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-serverErrors:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case sig := <-sigChan:
		log.Info().Str("signal", sig.String()).Msg("shutting down gracefully")
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("optimization runs did not finish before shutdown")
	}
	if err := server.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}

	log.Info().Msg("server stopped")
	return nil
}
