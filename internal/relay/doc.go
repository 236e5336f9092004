// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

// Package relay implements the real-time fan-out core: a registry of
// WebSocket connections grouped into document rooms, a liveness monitor
// that evicts dead peers, and an engine that validates and routes
// presence, permission-change, and access-request events between the
// members of a room.
//
// The relay is a pure message router. It performs no conflict resolution
// on document content, persists nothing except audit records (written
// through the AuditSink port), and delivers best-effort: a frame that
// cannot be queued for a recipient is dropped, never retried.
//
// # Structure
//
//   - Registry: the dual map from connection to session and from document
//     ID to room membership. Mutated only on the hub goroutine.
//   - Client: one per WebSocket connection; read and write pumps.
//   - Hub: the connection lifecycle manager. Owns registration,
//     departure broadcasts, and the periodic liveness sweep.
//   - Engine: the per-event-kind state machine with its authorization,
//     directory, mailer, and audit ports.
//
// # Failure model
//
// All relay-path failures are log-and-continue. Malformed frames are
// dropped without closing the connection; an unauthorized
// permission_change is dropped silently so role information never leaks
// to the sender; port failures during access-request processing skip the
// affected admin and continue with the rest.
package relay
