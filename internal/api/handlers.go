// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

package api

import (
	"context"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/tomtom215/coscribe/internal/logging"
	"github.com/tomtom215/coscribe/internal/relay"
)

// Pinger reports storage health for the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler carries the dependencies of the HTTP endpoints.
type Handler struct {
	hub      *relay.Hub
	registry *relay.Registry
	verifier *JWTVerifier
	store    Pinger
	upgrader websocket.Upgrader
}

// NewHandler wires the endpoint handlers. allowedOrigins gates websocket
// upgrades; "*" admits any origin.
func NewHandler(hub *relay.Hub, registry *relay.Registry, verifier *JWTVerifier, store Pinger, allowedOrigins []string) *Handler {
	h := &Handler{
		hub:      hub,
		registry: registry,
		verifier: verifier,
		store:    store,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     originChecker(allowedOrigins),
	}
	return h
}

// originChecker builds the upgrade origin policy. Browsers always send
// Origin on websocket handshakes; a missing header means a non-browser
// client, which the token check still gates.
func originChecker(allowed []string) func(*http.Request) bool {
	allowAll := false
	hosts := make(map[string]struct{}, len(allowed))
	for _, origin := range allowed {
		if origin == "*" {
			allowAll = true
			continue
		}
		if u, err := url.Parse(origin); err == nil && u.Host != "" {
			hosts[u.Host] = struct{}{}
		}
	}

	return func(r *http.Request) bool {
		if allowAll {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		_, ok := hosts[u.Host]
		return ok
	}
}

type healthResponse struct {
	Status      string `json:"status"`
	Connections int    `json:"connections"`
	Rooms       int    `json:"rooms"`
}

// Health reports liveness plus storage readiness.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:      "ok",
		Connections: h.registry.ClientCount(),
		Rooms:       h.registry.RoomCount(),
	}

	status := http.StatusOK
	if h.store != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := h.store.Ping(ctx); err != nil {
			logging.Warn().Err(err).Msg("health check database ping failed")
			resp.Status = "degraded"
			status = http.StatusServiceUnavailable
		}
	}

	writeJSON(w, status, resp)
}

// WebSocket is the collaboration endpoint. Admission requires a valid
// token and a documentId query parameter; both are checked before the
// connection is upgraded, so rejections are plain HTTP responses.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	claims, err := h.verifier.Authenticate(r)
	if err != nil {
		logging.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket auth rejected")
		writeError(w, http.StatusUnauthorized, "authentication required")
		return
	}

	documentID := r.URL.Query().Get("documentId")
	if documentID == "" {
		writeError(w, http.StatusBadRequest, "documentId query parameter is required")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		logging.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	h.hub.Connect(conn, claims.UserID, documentID)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.Warn().Err(err).Msg("failed to write response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
