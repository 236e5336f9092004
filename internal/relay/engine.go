// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

package relay

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/tomtom215/coscribe/internal/logging"
	"github.com/tomtom215/coscribe/internal/metrics"
)

// portCallTimeout bounds each authorization/directory/mailer call made
// while handling one event.
const portCallTimeout = 10 * time.Second

// accessRequestJob is one unit of out-of-band access-request processing.
// It carries no client reference: a connection closing mid-flight lets the
// notification loop run to completion.
type accessRequestJob struct {
	documentID    string
	requesterID   string
	requestedRole string
}

// Engine validates and routes inbound collaboration events. It embeds a
// small per-event-kind state machine:
//
//	presence           registered sender -> relay to room, sender excluded
//	permission_change  admin gate -> SetRole, audit, relay including sender
//	access_request     directory lookups -> email each admin, audit, no relay
//
// Access requests fan out to external ports (directory, mailer), so they
// run on a bounded worker pool instead of the sender's read pump; a burst
// of requests queues up rather than spawning unbounded concurrent calls.
type Engine struct {
	registry  *Registry
	authz     AuthorizationPort
	directory DirectoryPort
	mailer    MailerPort
	audit     AuditSink

	jobs    chan accessRequestJob
	workers int
}

// EngineOptions tunes the access-request worker pool.
type EngineOptions struct {
	WorkerCount     int
	WorkerQueueSize int
}

// DefaultEngineOptions returns production defaults.
func DefaultEngineOptions() EngineOptions {
	return EngineOptions{
		WorkerCount:     4,
		WorkerQueueSize: 256,
	}
}

// NewEngine creates a relay engine. Start must be called before the
// engine receives frames that carry access requests.
func NewEngine(registry *Registry, authz AuthorizationPort, directory DirectoryPort, mailer MailerPort, audit AuditSink, opts EngineOptions) *Engine {
	if opts.WorkerCount <= 0 {
		opts.WorkerCount = DefaultEngineOptions().WorkerCount
	}
	if opts.WorkerQueueSize <= 0 {
		opts.WorkerQueueSize = DefaultEngineOptions().WorkerQueueSize
	}

	return &Engine{
		registry:  registry,
		authz:     authz,
		directory: directory,
		mailer:    mailer,
		audit:     audit,
		jobs:      make(chan accessRequestJob, opts.WorkerQueueSize),
		workers:   opts.WorkerCount,
	}
}

// Start launches the access-request workers. They exit when ctx is
// canceled; in-flight jobs run to completion.
func (e *Engine) Start(ctx context.Context) {
	for i := 0; i < e.workers; i++ {
		go e.worker(ctx)
	}
}

func (e *Engine) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.jobs:
			e.processAccessRequest(job)
		}
	}
}

// HandleFrame decodes one inbound frame and dispatches it. Called from
// the sender's read pump, so one connection's events are handled in
// order. Every failure path logs and returns; the connection is never
// closed for a bad frame.
func (e *Engine) HandleFrame(c *Client, data []byte) {
	sess, ok := e.registry.SessionOf(c)
	if !ok {
		metrics.FramesDropped.WithLabelValues(metrics.DropReasonUnregistered).Inc()
		logging.Debug().Uint64("client_id", c.ID()).Msg("frame from unregistered client dropped")
		return
	}

	ev, err := DecodeEvent(data)
	if err != nil {
		metrics.FramesDropped.WithLabelValues(metrics.DropReasonMalformed).Inc()
		logging.Warn().
			Err(err).
			Str("user_id", sess.UserID).
			Str("document_id", sess.DocumentID).
			Msg("malformed frame dropped")
		return
	}

	switch ev.Kind {
	case KindPresence:
		metrics.EventsRelayed.WithLabelValues(string(KindPresence)).Inc()
		e.broadcast(ev, c)

	case KindPermissionChange:
		e.handlePermissionChange(&sess, ev, c)

	case KindAccessRequest:
		e.enqueueAccessRequest(&sess, ev)
	}
}

// handlePermissionChange gates the event against the authorization port.
// A sender without the admin role for the event's document gets no
// response at all: silent drop keeps role information from leaking.
func (e *Engine) handlePermissionChange(sess *Session, ev *Event, sender *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), portCallTimeout)
	defer cancel()

	isAdmin, err := e.authz.HasRole(ctx, sess.UserID, ev.DocumentID, RoleAdmin)
	if err != nil {
		// Fail closed: an unavailable authorization port denies the change.
		logging.Error().
			Err(err).
			Str("user_id", sess.UserID).
			Str("document_id", ev.DocumentID).
			Msg("permission check failed, dropping permission_change")
		return
	}
	if !isAdmin {
		metrics.FramesDropped.WithLabelValues(metrics.DropReasonUnauthorized).Inc()
		logging.Debug().
			Str("user_id", sess.UserID).
			Str("document_id", ev.DocumentID).
			Msg("permission_change from non-admin dropped")
		return
	}

	p := ev.PermissionChange
	if err := e.authz.SetRole(ctx, p.UserID, ev.DocumentID, p.Role); err != nil {
		logging.Error().
			Err(err).
			Str("target_user_id", p.UserID).
			Str("document_id", ev.DocumentID).
			Msg("role update failed, dropping permission_change")
		return
	}

	e.audit.Append(AuditRecord{
		DocumentID:  ev.DocumentID,
		Action:      AuditActionModified,
		PerformedBy: sess.UserID,
		Details:     fmt.Sprintf("Changed role of %s to %s", p.UserID, p.Role),
		Timestamp:   time.Now().UTC(),
	})

	metrics.EventsRelayed.WithLabelValues(string(KindPermissionChange)).Inc()

	// Include the sender so the admin's own UI confirms the change.
	e.broadcast(ev, nil)
}

// enqueueAccessRequest hands the event to the worker pool. A full queue
// drops the request; the client can re-request.
func (e *Engine) enqueueAccessRequest(sess *Session, ev *Event) {
	job := accessRequestJob{
		documentID:    ev.DocumentID,
		requesterID:   sess.UserID,
		requestedRole: ev.AccessRequest.RequestedRole,
	}

	select {
	case e.jobs <- job:
		metrics.EventsRelayed.WithLabelValues(string(KindAccessRequest)).Inc()
	default:
		metrics.FramesDropped.WithLabelValues(metrics.DropReasonQueueFull).Inc()
		logging.Warn().
			Str("user_id", sess.UserID).
			Str("document_id", ev.DocumentID).
			Msg("access-request queue full, dropping request")
	}
}

// processAccessRequest notifies every admin collaborator of the document
// by email and appends one audit record. Lookup and delivery failures are
// per-step: a missing document title or requester name falls back to a
// placeholder, an unresolvable admin is skipped, and a failed send never
// prevents attempting the next admin. Nothing is broadcast on the live
// channel.
func (e *Engine) processAccessRequest(job accessRequestJob) {
	ctx, cancel := context.WithTimeout(context.Background(), portCallTimeout)
	defer cancel()

	documentTitle := "the document"
	if doc, err := e.directory.LookupDocument(ctx, job.documentID); err != nil {
		logging.Warn().Err(err).Str("document_id", job.documentID).Msg("document lookup failed")
	} else if doc.Title != "" {
		documentTitle = doc.Title
	}

	requesterName := "A user"
	if user, err := e.directory.LookupUser(ctx, job.requesterID); err != nil {
		logging.Warn().Err(err).Str("user_id", job.requesterID).Msg("requester lookup failed")
	} else if user.Name != "" {
		requesterName = user.Name
	} else if user.Email != "" {
		requesterName = user.Email
	}

	admins, err := e.authz.ListCollaboratorsWithRole(ctx, job.documentID, RoleAdmin)
	if err != nil {
		logging.Error().Err(err).Str("document_id", job.documentID).Msg("admin enumeration failed")
	}

	for _, admin := range admins {
		info, err := e.directory.LookupUser(ctx, admin.UserID)
		if err != nil {
			metrics.NotificationEmails.WithLabelValues("skipped").Inc()
			logging.Warn().Err(err).Str("user_id", admin.UserID).Msg("admin lookup failed, skipping notification")
			continue
		}
		if info.Email == "" {
			metrics.NotificationEmails.WithLabelValues("skipped").Inc()
			logging.Debug().Str("user_id", admin.UserID).Msg("admin has no email, skipping notification")
			continue
		}

		if err := e.mailer.SendAccessRequest(ctx, info.Email, requesterName, documentTitle, job.requestedRole); err != nil {
			metrics.NotificationEmails.WithLabelValues("failed").Inc()
			logging.Error().
				Err(err).
				Str("admin_user_id", admin.UserID).
				Str("document_id", job.documentID).
				Msg("access-request notification failed")
			continue
		}
		metrics.NotificationEmails.WithLabelValues("sent").Inc()
	}

	e.audit.Append(AuditRecord{
		DocumentID:  job.documentID,
		Action:      AuditActionRequested,
		PerformedBy: job.requesterID,
		Details:     fmt.Sprintf("Requested %s access", job.requestedRole),
		Timestamp:   time.Now().UTC(),
	})
}

// AnnounceJoin relays a synthesized presence join for a client the hub
// just registered, to everyone else in the room.
func (e *Engine) AnnounceJoin(c *Client) {
	e.announcePresence(c, PresenceActionJoin)
}

// AnnounceLeave relays a synthesized presence leave after the hub removed
// a client, whether it disconnected or was evicted by the liveness sweep.
func (e *Engine) AnnounceLeave(userID, documentID string) {
	ev := &Event{
		Kind:       KindPresence,
		DocumentID: documentID,
		Presence: &PresencePayload{
			UserID: userID,
			Action: PresenceActionLeave,
		},
	}
	metrics.EventsRelayed.WithLabelValues(string(KindPresence)).Inc()
	e.broadcast(ev, nil)
}

func (e *Engine) announcePresence(c *Client, action string) {
	ev := &Event{
		Kind:       KindPresence,
		DocumentID: c.DocumentID(),
		Presence: &PresencePayload{
			UserID: c.UserID(),
			Action: action,
		},
	}
	metrics.EventsRelayed.WithLabelValues(string(KindPresence)).Inc()
	e.broadcast(ev, c)
}

// broadcast serializes the event once and delivers the same bytes to the
// members of its document room, excluding exclude when non-nil.
// DETERMINISM: recipients are sorted by client ID so delivery order is
// reproducible. Targets whose queue is closed or full are skipped; the
// room may have mutated since the snapshot and that is not an error.
func (e *Engine) broadcast(ev *Event, exclude *Client) {
	data, err := EncodeEvent(ev)
	if err != nil {
		logging.Error().Err(err).Str("document_id", ev.DocumentID).Msg("failed to encode event for broadcast")
		return
	}

	members := e.registry.MembersOf(ev.DocumentID)
	sort.Slice(members, func(i, j int) bool { return members[i].id < members[j].id })

	sent := 0
	for _, member := range members {
		if member == exclude {
			continue
		}
		if member.trySend(data) {
			sent++
		}
	}
	metrics.BroadcastRecipients.Observe(float64(sent))
}
