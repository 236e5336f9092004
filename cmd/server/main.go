// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

// Package main is the entry point for the Coscribe relay server.
//
// Coscribe is the real-time fan-out layer of a collaborative document
// editor. Clients connect over WebSocket, join a document room, and
// exchange presence updates; admins push permission changes; anyone can
// request access, which notifies the document's admins by email.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: environment variables and optional YAML file (Koanf v2)
//  2. Database: DuckDB store for users, documents, roles, and access logs
//  3. Authorization: TTL-cached role service over the store
//  4. Audit: asynchronous access-log writer
//  5. Notifications: SMTP mailer behind a circuit breaker (optional)
//  6. Relay core: registry, engine, and hub
//  7. HTTP server: health, metrics, and the /ws endpoint
//
// The relay core and HTTP server run under a suture supervisor tree; a
// crash in one layer restarts that layer without taking down the other.
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins): COSCRIBE_* environment variables, config.yaml, then
// built-in defaults. The only required setting is the token secret:
//
//	export COSCRIBE_SECURITY_JWT_SECRET=$(openssl rand -base64 32)
//	./coscribe
//
// Email notifications are off until SMTP is configured:
//
//	export COSCRIBE_SMTP_ENABLED=true
//	export COSCRIBE_SMTP_HOST=smtp.example.com
//	export COSCRIBE_SMTP_FROM=noreply@example.com
//
// # Signal Handling
//
// The server shuts down gracefully on SIGINT and SIGTERM: the HTTP
// listener drains in-flight requests, every websocket connection is
// closed, and queued audit records are flushed before exit.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/tomtom215/coscribe/internal/api"
	"github.com/tomtom215/coscribe/internal/audit"
	"github.com/tomtom215/coscribe/internal/authz"
	"github.com/tomtom215/coscribe/internal/config"
	"github.com/tomtom215/coscribe/internal/database"
	"github.com/tomtom215/coscribe/internal/logging"
	"github.com/tomtom215/coscribe/internal/notify"
	"github.com/tomtom215/coscribe/internal/relay"
	"github.com/tomtom215/coscribe/internal/supervisor"
	"github.com/tomtom215/coscribe/internal/supervisor/services"
)

func main() {
	// Load configuration first to get logging settings.
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:     cfg.Logging.Level,
		Format:    cfg.Logging.Format,
		Caller:    cfg.Logging.Caller,
		Timestamp: true,
	})

	logging.Info().
		Str("db_path", cfg.Database.Path).
		Bool("smtp_enabled", cfg.SMTP.Enabled).
		Dur("ping_interval", cfg.Relay.PingInterval).
		Msg("Starting Coscribe")

	db, err := database.New(&cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer func() {
		if err := db.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing database")
		}
	}()

	// Collaborator services behind the relay's ports.
	authzService := authz.NewService(db)
	auditLogger := audit.NewLogger(db, cfg.Relay.AuditBufferSize)
	defer auditLogger.Close()
	mailer := notify.NewMailer(&cfg.SMTP)

	// Relay core.
	registry := relay.NewRegistry()
	engine := relay.NewEngine(registry, authzService, db, mailer, auditLogger, relay.EngineOptions{
		WorkerCount:     cfg.Relay.WorkerCount,
		WorkerQueueSize: cfg.Relay.WorkerQueueSize,
	})
	hub := relay.NewHub(registry, engine, relay.Options{
		PingInterval:   cfg.Relay.PingInterval,
		SendBufferSize: cfg.Relay.SendBufferSize,
		MaxMessageSize: cfg.Relay.MaxMessageSize,
		InboundRate:    cfg.Relay.InboundRate,
		InboundBurst:   cfg.Relay.InboundBurst,
	})

	verifier, err := api.NewJWTVerifier(&cfg.Security)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize token verifier")
	}
	handler := api.NewHandler(hub, registry, verifier, db, cfg.Security.CORSOrigins)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api.NewRouter(&cfg.Security, handler),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Bridge zerolog to slog for sutureslog.
	tree := supervisor.NewTree(logging.NewSlogLogger(), supervisor.TreeConfig{
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	})
	tree.AddRelayService(services.NewRelayService(hub, engine))
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Str("addr", server.Addr).Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("Relay stopped gracefully")
}
