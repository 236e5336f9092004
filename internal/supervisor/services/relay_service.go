// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

// Package services wraps the application components as suture services.
package services

import (
	"context"

	"github.com/tomtom215/coscribe/internal/relay"
)

// RelayService runs the hub loop and the engine's notification workers
// under one supervised lifetime. Both stop when the service's context is
// canceled; a hub crash restarts the workers with it so the two never
// run against different generations of state.
type RelayService struct {
	hub    *relay.Hub
	engine *relay.Engine
}

// NewRelayService wraps a hub and its engine.
func NewRelayService(hub *relay.Hub, engine *relay.Engine) *RelayService {
	return &RelayService{hub: hub, engine: engine}
}

// Serve implements suture.Service.
func (s *RelayService) Serve(ctx context.Context) error {
	s.engine.Start(ctx)
	return s.hub.RunWithContext(ctx)
}

// String implements fmt.Stringer for suture event logs.
func (s *RelayService) String() string {
	return "relay-hub"
}
