// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

package relay

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by directory lookups for unknown users or
// documents. Adapters translate their storage-specific miss into this
// sentinel so the engine can treat it as a skippable lookup failure.
var ErrNotFound = errors.New("not found")

// Collaborator identifies a user associated with a document.
type Collaborator struct {
	UserID string
}

// UserInfo is the directory view of a user. Name and Email may be empty.
type UserInfo struct {
	ID    string
	Name  string
	Email string
}

// DocumentInfo is the directory view of a document.
type DocumentInfo struct {
	ID    string
	Title string
}

// AuthorizationPort is the permission lookup/update contract the engine
// gates permission_change events against.
type AuthorizationPort interface {
	HasRole(ctx context.Context, userID, documentID, role string) (bool, error)
	SetRole(ctx context.Context, userID, documentID, role string) error
	ListCollaboratorsWithRole(ctx context.Context, documentID, role string) ([]Collaborator, error)
}

// DirectoryPort resolves user and document metadata for access-request
// notifications. Lookups return ErrNotFound for unknown IDs.
type DirectoryPort interface {
	LookupUser(ctx context.Context, userID string) (*UserInfo, error)
	LookupDocument(ctx context.Context, documentID string) (*DocumentInfo, error)
}

// MailerPort dispatches an access-request notification to one admin.
// Failures are per-call and non-fatal to the surrounding flow.
type MailerPort interface {
	SendAccessRequest(ctx context.Context, to, requesterName, documentTitle, requestedRole string) error
}

// Audit actions recorded by the engine.
const (
	AuditActionModified  = "modified"
	AuditActionRequested = "requested"
)

// AuditRecord is one append-only access-log entry. The relay writes these
// as a side effect and never reads them back.
type AuditRecord struct {
	DocumentID  string
	Action      string
	PerformedBy string
	Details     string
	Timestamp   time.Time
}

// AuditSink receives audit records fire-and-forget. Implementations must
// not block the caller.
type AuditSink interface {
	Append(rec AuditRecord)
}
