// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

package relay

import (
	"errors"
	"sync"
)

// ErrDuplicateClient is returned when a client handle is registered twice.
var ErrDuplicateClient = errors.New("client already registered")

// Session is the metadata attached to a registered client. UserID and
// DocumentID are immutable after registration; a client must reconnect to
// switch documents. The alive flag is owned by the registry and toggled
// only through MarkAlive and SweepAndMarkDead.
type Session struct {
	UserID     string
	DocumentID string

	alive bool
}

// Registry owns the mapping from client to session and the reverse index
// from document ID to room membership. The two maps are mutated together
// under one lock, so a client is in a room if and only if it is in the
// primary map.
//
// All mutation happens on the hub goroutine; the lock exists for the
// read-side (MembersOf, SessionOf, counters) which is called from client
// read pumps and HTTP handlers.
type Registry struct {
	mu      sync.RWMutex
	clients map[*Client]*Session
	rooms   map[string]map[*Client]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[*Client]*Session),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// Register inserts the client into the primary map and its document room.
// The new session starts alive. Returns ErrDuplicateClient if the handle
// is already registered.
func (r *Registry) Register(c *Client, userID, documentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.clients[c]; ok {
		return ErrDuplicateClient
	}

	r.clients[c] = &Session{UserID: userID, DocumentID: documentID, alive: true}

	room, ok := r.rooms[documentID]
	if !ok {
		room = make(map[*Client]struct{})
		r.rooms[documentID] = room
	}
	room[c] = struct{}{}

	return nil
}

// Unregister removes the client from both maps and returns its session,
// or nil if the client was not registered. A room whose last member is
// removed is deleted immediately so churn across many documents cannot
// grow the index without bound.
func (r *Registry) Unregister(c *Client) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.clients[c]
	if !ok {
		return nil
	}
	delete(r.clients, c)

	if room, ok := r.rooms[sess.DocumentID]; ok {
		delete(room, c)
		if len(room) == 0 {
			delete(r.rooms, sess.DocumentID)
		}
	}

	return sess
}

// SessionOf returns a copy of the client's session metadata.
func (r *Registry) SessionOf(c *Client) (Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sess, ok := r.clients[c]
	if !ok {
		return Session{}, false
	}
	return *sess, true
}

// MembersOf returns a snapshot of the clients currently in a document
// room. The snapshot may go stale immediately; senders re-check each
// target's open status at send time.
func (r *Registry) MembersOf(documentID string) []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	room, ok := r.rooms[documentID]
	if !ok {
		return nil
	}

	members := make([]*Client, 0, len(room))
	for c := range room {
		members = append(members, c)
	}
	return members
}

// MarkAlive records a liveness probe response. Returns false if the
// client is not registered.
func (r *Registry) MarkAlive(c *Client) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, ok := r.clients[c]
	if !ok {
		return false
	}
	sess.alive = true
	return true
}

// SweepAndMarkDead runs one liveness cycle: clients whose flag is still
// false since the previous cycle are returned as dead; the rest are
// flipped to false and returned for probing. The caller evicts the dead
// set and pings the probe set, so a connection is evicted only after
// failing to respond across one full interval.
func (r *Registry) SweepAndMarkDead() (dead, probe []*Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for c, sess := range r.clients {
		if !sess.alive {
			dead = append(dead, c)
			continue
		}
		sess.alive = false
		probe = append(probe, c)
	}
	return dead, probe
}

// All returns a snapshot of every registered client.
func (r *Registry) All() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()

	clients := make([]*Client, 0, len(r.clients))
	for c := range r.clients {
		clients = append(clients, c)
	}
	return clients
}

// ClientCount returns the number of registered clients.
func (r *Registry) ClientCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// RoomCount returns the number of rooms with at least one member.
func (r *Registry) RoomCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}
