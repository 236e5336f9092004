// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

package relay

import (
	"context"
	"time"

	"github.com/gorilla/websocket"

	"github.com/tomtom215/coscribe/internal/logging"
	"github.com/tomtom215/coscribe/internal/metrics"
)

// Options tunes hub and per-connection behavior.
type Options struct {
	// PingInterval is the liveness sweep period. Each sweep pings clients
	// that responded since the previous sweep and evicts those that did not.
	PingInterval time.Duration

	// SendBufferSize is the per-client outbound queue length. A client
	// whose queue is full misses broadcasts instead of blocking senders.
	SendBufferSize int

	// MaxMessageSize caps inbound frame size in bytes.
	MaxMessageSize int64

	// InboundRate and InboundBurst bound inbound frames per client,
	// in events per second.
	InboundRate  float64
	InboundBurst int
}

// DefaultOptions returns production defaults.
func DefaultOptions() Options {
	return Options{
		PingInterval:   30 * time.Second,
		SendBufferSize: 256,
		MaxMessageSize: 512 * 1024,
		InboundRate:    20,
		InboundBurst:   40,
	}
}

func (o Options) withDefaults() Options {
	d := DefaultOptions()
	if o.PingInterval <= 0 {
		o.PingInterval = d.PingInterval
	}
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = d.SendBufferSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = d.MaxMessageSize
	}
	if o.InboundRate <= 0 {
		o.InboundRate = d.InboundRate
	}
	if o.InboundBurst <= 0 {
		o.InboundBurst = d.InboundBurst
	}
	return o
}

// Hub owns the connection registry. All registry mutations happen on the
// hub goroutine inside RunWithContext; read pumps and HTTP handlers talk
// to it through channels. Reads (room snapshots, session lookups) go
// through the registry's lock directly.
type Hub struct {
	registry *Registry
	engine   *Engine
	opts     Options

	register   chan *Client
	unregister chan *Client
	pongs      chan *Client
}

// NewHub creates a hub around registry and engine. RunWithContext must be
// started before Connect is called.
func NewHub(registry *Registry, engine *Engine, opts Options) *Hub {
	return &Hub{
		registry:   registry,
		engine:     engine,
		opts:       opts.withDefaults(),
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		pongs:      make(chan *Client, 256),
	}
}

// Connect wraps an upgraded websocket connection in a client, registers
// it, and starts its pumps. The returned client is already live.
func (h *Hub) Connect(conn *websocket.Conn, userID, documentID string) *Client {
	c := newClient(h, conn, userID, documentID)
	h.register <- c
	c.start()
	return c
}

// pong records a liveness response. Called from the client's read pump;
// never blocks it: a full channel means a sweep is imminent anyway and
// the next pong will land.
func (h *Hub) pong(c *Client) {
	select {
	case h.pongs <- c:
	default:
	}
}

// RunWithContext runs the hub loop until ctx is canceled, then closes
// every remaining connection. Implements suture.Service-style blocking.
func (h *Hub) RunWithContext(ctx context.Context) error {
	ticker := time.NewTicker(h.opts.PingInterval)
	defer ticker.Stop()

	logging.Info().
		Dur("ping_interval", h.opts.PingInterval).
		Msg("relay hub started")

	for {
		// Drain registrations ahead of the shared select so a burst of
		// new connections is not starved by pong traffic.
		select {
		case c := <-h.register:
			h.handleRegister(c)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown()
			return ctx.Err()

		case c := <-h.register:
			h.handleRegister(c)

		case c := <-h.unregister:
			h.handleUnregister(c)

		case c := <-h.pongs:
			h.registry.MarkAlive(c)

		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) handleRegister(c *Client) {
	if err := h.registry.Register(c, c.userID, c.documentID); err != nil {
		logging.Warn().
			Err(err).
			Uint64("client_id", c.id).
			Str("user_id", c.userID).
			Msg("registration rejected")
		c.close()
		return
	}

	metrics.ConnectionsTotal.Inc()
	metrics.ActiveConnections.Set(float64(h.registry.ClientCount()))
	metrics.ActiveRooms.Set(float64(h.registry.RoomCount()))

	logging.Info().
		Uint64("client_id", c.id).
		Str("user_id", c.userID).
		Str("document_id", c.documentID).
		Int("room_size", len(h.registry.MembersOf(c.documentID))).
		Msg("client connected")

	h.engine.AnnounceJoin(c)
}

func (h *Hub) handleUnregister(c *Client) {
	sess := h.registry.Unregister(c)
	c.close()
	if sess == nil {
		// Already removed, e.g. evicted by the sweep before the read
		// pump noticed the closed connection.
		return
	}

	metrics.ActiveConnections.Set(float64(h.registry.ClientCount()))
	metrics.ActiveRooms.Set(float64(h.registry.RoomCount()))

	logging.Info().
		Uint64("client_id", c.id).
		Str("user_id", sess.UserID).
		Str("document_id", sess.DocumentID).
		Msg("client disconnected")

	h.engine.AnnounceLeave(sess.UserID, sess.DocumentID)
}

// sweep evicts clients that have not ponged since the previous sweep and
// pings the rest. Eviction before pinging: a dead peer never receives
// another probe.
func (h *Hub) sweep() {
	dead, probe := h.registry.SweepAndMarkDead()

	for _, c := range dead {
		sess := h.registry.Unregister(c)
		c.close()
		if sess == nil {
			continue
		}
		metrics.LivenessEvictions.Inc()
		logging.Warn().
			Uint64("client_id", c.id).
			Str("user_id", sess.UserID).
			Str("document_id", sess.DocumentID).
			Msg("client evicted, no pong for two sweep cycles")
		h.engine.AnnounceLeave(sess.UserID, sess.DocumentID)
	}

	for _, c := range probe {
		c.ping()
	}

	if len(dead) > 0 {
		metrics.ActiveConnections.Set(float64(h.registry.ClientCount()))
		metrics.ActiveRooms.Set(float64(h.registry.RoomCount()))
	}
}

// shutdown closes every connection without leave announcements. Peers
// observe the socket close; there is nobody left to notify.
func (h *Hub) shutdown() {
	clients := h.registry.All()
	for _, c := range clients {
		h.registry.Unregister(c)
		c.close()
	}

	metrics.ActiveConnections.Set(0)
	metrics.ActiveRooms.Set(0)

	logging.Info().Int("closed", len(clients)).Msg("relay hub stopped")
}
