// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

// Package authz answers role questions for the relay engine. It fronts
// the persistent role store with a short TTL cache so a burst of
// permission_change frames from one admin costs one store round trip,
// not one per frame.
package authz

import (
	"context"
	"sync"
	"time"

	"github.com/tomtom215/coscribe/internal/logging"
	"github.com/tomtom215/coscribe/internal/relay"
)

// Store is the persistent backend. Role matching is exact string
// comparison with no hierarchy.
type Store interface {
	HasRole(ctx context.Context, userID, documentID, role string) (bool, error)
	SetRole(ctx context.Context, userID, documentID, role string) error
	ListCollaboratorsWithRole(ctx context.Context, documentID, role string) ([]relay.Collaborator, error)
}

const (
	defaultTTL = 30 * time.Second

	// maxEntries caps the cache; a full cache evicts expired entries and,
	// failing that, stops admitting new ones until the next prune.
	maxEntries = 10000
)

type cacheKey struct {
	userID     string
	documentID string
	role       string
}

type cacheEntry struct {
	held      bool
	expiresAt time.Time
}

// Service implements relay.AuthorizationPort over a Store.
type Service struct {
	store Store
	ttl   time.Duration
	now   func() time.Time

	mu    sync.RWMutex
	cache map[cacheKey]cacheEntry
}

// Option configures a Service.
type Option func(*Service)

// WithTTL overrides the cache entry lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) { s.ttl = ttl }
}

// withClock injects a clock for tests.
func withClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates an authorization service over store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		ttl:   defaultTTL,
		now:   time.Now,
		cache: make(map[cacheKey]cacheEntry),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// HasRole reports whether userID holds exactly role on documentID.
// Negative answers are cached too: a rejected sender hammering
// permission_change does not hammer the store.
func (s *Service) HasRole(ctx context.Context, userID, documentID, role string) (bool, error) {
	key := cacheKey{userID: userID, documentID: documentID, role: role}

	s.mu.RLock()
	entry, ok := s.cache[key]
	s.mu.RUnlock()
	if ok && s.now().Before(entry.expiresAt) {
		return entry.held, nil
	}

	held, err := s.store.HasRole(ctx, userID, documentID, role)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if len(s.cache) >= maxEntries {
		s.pruneLocked()
	}
	if len(s.cache) < maxEntries {
		s.cache[key] = cacheEntry{held: held, expiresAt: s.now().Add(s.ttl)}
	}
	s.mu.Unlock()

	return held, nil
}

// SetRole persists the role change and drops every cached answer about
// the target user on that document, whichever role was asked about.
func (s *Service) SetRole(ctx context.Context, userID, documentID, role string) error {
	if err := s.store.SetRole(ctx, userID, documentID, role); err != nil {
		return err
	}

	s.mu.Lock()
	for key := range s.cache {
		if key.userID == userID && key.documentID == documentID {
			delete(s.cache, key)
		}
	}
	s.mu.Unlock()

	logging.Debug().
		Str("user_id", userID).
		Str("document_id", documentID).
		Str("role", role).
		Msg("role updated, cache invalidated")

	return nil
}

// ListCollaboratorsWithRole passes through uncached. Admin rosters feed
// notification fan-out and must reflect the change an admin just made.
func (s *Service) ListCollaboratorsWithRole(ctx context.Context, documentID, role string) ([]relay.Collaborator, error) {
	return s.store.ListCollaboratorsWithRole(ctx, documentID, role)
}

// pruneLocked removes expired entries. Caller holds s.mu.
func (s *Service) pruneLocked() {
	now := s.now()
	for key, entry := range s.cache {
		if !now.Before(entry.expiresAt) {
			delete(s.cache, key)
		}
	}
}
