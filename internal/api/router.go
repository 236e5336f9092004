// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

// Package api provides HTTP routing and websocket admission using Chi.
package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/tomtom215/coscribe/internal/config"
)

// NewRouter assembles the HTTP surface: health, Prometheus metrics, and
// the websocket endpoint.
func NewRouter(cfg *config.SecurityConfig, handler *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	rateWindow := cfg.RateLimitWindow
	if rateWindow <= 0 {
		rateWindow = time.Minute
	}
	rateReqs := cfg.RateLimitReqs
	if rateReqs <= 0 {
		rateReqs = 100
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httprate.LimitByIP(rateReqs, rateWindow))
		r.Get("/health", handler.Health)
	})

	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// The websocket handshake carries its own admission checks; the IP
	// rate limit only shields the upgrade path from connect storms.
	r.With(httprate.LimitByIP(rateReqs, rateWindow)).Get("/ws", handler.WebSocket)

	return r
}
