// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

package relay

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/tomtom215/coscribe/internal/logging"
	"github.com/tomtom215/coscribe/internal/metrics"
)

const writeWait = 10 * time.Second

// clientIDCounter generates unique, monotonically increasing IDs for clients.
// DETERMINISM: This ensures clients can be sorted in a consistent order for
// broadcast operations, eliminating non-deterministic map iteration order.
var clientIDCounter atomic.Uint64

// Client is the middleman between one WebSocket connection and the hub.
// UserID and DocumentID are fixed at accept time.
type Client struct {
	// id is a unique identifier for this client, used for deterministic
	// broadcast ordering.
	id uint64

	hub  *Hub
	conn *websocket.Conn

	userID     string
	documentID string

	// send carries pre-serialized frames to the write pump. Serialization
	// happens once per broadcast, not per recipient.
	send chan []byte

	// done is closed exactly once when the client shuts down. Senders
	// select on it so nothing ever writes to a closed channel.
	done      chan struct{}
	closeOnce sync.Once

	// limiter shapes inbound frames; frames over the budget are dropped.
	limiter *rate.Limiter
}

func newClient(hub *Hub, conn *websocket.Conn, userID, documentID string) *Client {
	return &Client{
		id:         clientIDCounter.Add(1),
		hub:        hub,
		conn:       conn,
		userID:     userID,
		documentID: documentID,
		send:       make(chan []byte, hub.opts.SendBufferSize),
		done:       make(chan struct{}),
		limiter:    rate.NewLimiter(rate.Limit(hub.opts.InboundRate), hub.opts.InboundBurst),
	}
}

// ID returns the client's unique identifier for deterministic ordering.
func (c *Client) ID() uint64 { return c.id }

// UserID returns the authenticated user behind this connection.
func (c *Client) UserID() string { return c.userID }

// DocumentID returns the document this connection joined at accept time.
func (c *Client) DocumentID() string { return c.documentID }

// trySend queues a pre-serialized frame for delivery. Returns false when
// the client is closed or its queue is full; the frame is dropped either
// way, never retried.
func (c *Client) trySend(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// close tears down the transport. Safe to call from any goroutine and
// idempotent; the read pump's unregister path handles the departure
// broadcast.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.conn != nil {
			_ = c.conn.Close() // best-effort cleanup
		}
	})
}

// ping sends a liveness probe. WriteControl is safe to call concurrently
// with the write pump.
func (c *Client) ping() {
	if c.conn == nil {
		return
	}
	if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
		logging.Debug().Err(err).Uint64("client_id", c.id).Msg("liveness probe write failed")
	}
}

// start launches the read and write pumps.
func (c *Client) start() {
	go c.writePump()
	go c.readPump()
}

// readPump pumps frames from the connection into the engine. Frames from
// one connection are handled in order here; frames from other connections
// interleave freely on their own pumps.
func (c *Client) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.close()
	}()

	c.conn.SetReadLimit(c.hub.opts.MaxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.hub.pong(c)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("unexpected websocket close")
			}
			return
		}

		if !c.limiter.Allow() {
			metrics.FramesDropped.WithLabelValues(metrics.DropReasonRateLimited).Inc()
			logging.Warn().
				Uint64("client_id", c.id).
				Str("user_id", c.userID).
				Msg("inbound frame rate limit exceeded, dropping frame")
			continue
		}

		c.hub.engine.HandleFrame(c, data)
	}
}

// writePump pumps queued frames to the connection.
func (c *Client) writePump() {
	defer c.close()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("failed to set write deadline")
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				logging.Debug().Err(err).Uint64("client_id", c.id).Msg("failed to write frame")
				return
			}
		}
	}
}
