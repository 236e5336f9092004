// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

// Package metrics provides Prometheus instrumentation for the relay:
// connection and room population, event throughput by kind, drop reasons,
// liveness evictions, notification delivery outcomes, and audit queue depth.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coscribe_active_connections",
			Help: "Current number of registered WebSocket connections",
		},
	)

	ActiveRooms = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coscribe_active_rooms",
			Help: "Current number of document rooms with at least one member",
		},
	)

	ConnectionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coscribe_connections_total",
			Help: "Total number of accepted WebSocket connections",
		},
	)

	LivenessEvictions = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coscribe_liveness_evictions_total",
			Help: "Total connections evicted after failing two consecutive liveness probes",
		},
	)

	// Relay metrics
	EventsRelayed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coscribe_events_relayed_total",
			Help: "Total collaboration events accepted for relay, by kind",
		},
		[]string{"kind"},
	)

	FramesDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coscribe_frames_dropped_total",
			Help: "Total inbound frames dropped, by reason",
		},
		[]string{"reason"}, // "malformed", "unauthorized", "rate_limited", "queue_full", "unregistered"
	)

	BroadcastRecipients = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "coscribe_broadcast_recipients",
			Help:    "Number of recipients per broadcast",
			Buckets: []float64{0, 1, 2, 5, 10, 25, 50, 100},
		},
	)

	// Notification metrics
	NotificationEmails = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coscribe_notification_emails_total",
			Help: "Total access-request notification emails attempted, by outcome",
		},
		[]string{"outcome"}, // "sent", "failed", "skipped"
	)

	// Audit metrics
	AuditQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "coscribe_audit_queue_depth",
			Help: "Current number of audit records waiting in the async write buffer",
		},
	)

	AuditRecordsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "coscribe_audit_records_dropped_total",
			Help: "Total audit records dropped because the write buffer was full",
		},
	)
)

// Drop reasons for FramesDropped.
const (
	DropReasonMalformed    = "malformed"
	DropReasonUnauthorized = "unauthorized"
	DropReasonRateLimited  = "rate_limited"
	DropReasonQueueFull    = "queue_full"
	DropReasonUnregistered = "unregistered"
)
