// Package main provides the metadata mutation API used by the catalog UI.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/raphaelgruber/datahub-gate/internal/client"
	"github.com/raphaelgruber/datahub-gate/internal/config"
	"github.com/raphaelgruber/datahub-gate/internal/ingest"
	"github.com/raphaelgruber/datahub-gate/internal/metrics"
	"github.com/raphaelgruber/datahub-gate/internal/server"
	"github.com/raphaelgruber/datahub-gate/internal/service"
	"github.com/raphaelgruber/datahub-gate/internal/telemetry"
	"github.com/raphaelgruber/datahub-gate/internal/token"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger, cleanup := config.SetupLogger(cfg)
	defer func() { _ = cleanup() }()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	logger.Info("ingest-api starting",
		"version", version,
		"gms_url", cfg.GMSURL,
		"addr", cfg.IngestAddr,
		"origins", cfg.AllowedOrigins(),
	)

	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelEndpoint, "ingest-api")
	if err != nil {
		logger.Error("failed to set up tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := shutdownTracing(context.Background()); err != nil {
			logger.Error("failed to flush traces", "error", err)
		}
	}()

	collector := metrics.NewCollector()
	issuer := token.NewIssuer(cfg.JWTSecret, cfg.TokenIssuer, cfg.TokenTTL)
	oracle := client.New(cfg.GraphQLURL(), issuer, cfg.SystemActor, cfg.QueryTimeout,
		client.WithLogger(logger),
		client.WithMetrics(collector),
	)
	emitter := ingest.NewRestEmitter(cfg.GMSURL, cfg.DispatchTimeout,
		ingest.WithLogger(logger),
		ingest.WithMetrics(collector),
	)
	mutations := service.NewMutationService(oracle, issuer, emitter, cfg.DispatchTimeout, logger, collector)

	srv := server.New(server.Options{
		Logger:         logger,
		Metrics:        collector,
		AllowedOrigins: cfg.AllowedOrigins(),
		MaxUploadBytes: cfg.MaxUploadBytes,
	})
	httpServer := &http.Server{
		Addr:              cfg.IngestAddr,
		Handler:           srv.MutationHandler(mutations),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      cfg.DispatchTimeout + 30*time.Second,
		IdleTimeout:       120 * time.Second,
	}

	if err := server.Serve(ctx, logger, httpServer); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
