// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/coscribe/internal/logging"
	"github.com/tomtom215/coscribe/internal/relay"
)

// HasRole reports whether the user holds exactly role on the document.
func (db *DB) HasRole(ctx context.Context, userID, documentID, role string) (bool, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM document_collaborators
		 WHERE document_id = ? AND user_id = ? AND role = ?`,
		documentID, userID, role).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("failed to query role: %w", err)
	}
	return count > 0, nil
}

// SetRole creates or replaces the user's role on the document.
func (db *DB) SetRole(ctx context.Context, userID, documentID, role string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO document_collaborators (document_id, user_id, role, updated_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT (document_id, user_id)
		 DO UPDATE SET role = EXCLUDED.role, updated_at = EXCLUDED.updated_at`,
		documentID, userID, role, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to set role: %w", err)
	}
	return nil
}

// ListCollaboratorsWithRole returns every collaborator holding exactly
// role on the document, in stable order.
func (db *DB) ListCollaboratorsWithRole(ctx context.Context, documentID, role string) ([]relay.Collaborator, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT user_id FROM document_collaborators
		 WHERE document_id = ? AND role = ?
		 ORDER BY user_id`,
		documentID, role)
	if err != nil {
		return nil, fmt.Errorf("failed to list collaborators: %w", err)
	}
	defer closeRows(rows)

	var out []relay.Collaborator
	for rows.Next() {
		var c relay.Collaborator
		if err := rows.Scan(&c.UserID); err != nil {
			return nil, fmt.Errorf("failed to scan collaborator: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate collaborators: %w", err)
	}
	return out, nil
}

// LookupUser resolves a user's profile. Returns relay.ErrNotFound for
// unknown IDs.
func (db *DB) LookupUser(ctx context.Context, userID string) (*relay.UserInfo, error) {
	var u relay.UserInfo
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, name, email FROM users WHERE id = ?`, userID).
		Scan(&u.ID, &u.Name, &u.Email)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("user %s: %w", userID, relay.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}
	return &u, nil
}

// LookupDocument resolves a document's metadata. Returns relay.ErrNotFound
// for unknown IDs.
func (db *DB) LookupDocument(ctx context.Context, documentID string) (*relay.DocumentInfo, error) {
	var d relay.DocumentInfo
	err := db.conn.QueryRowContext(ctx,
		`SELECT id, title FROM documents WHERE id = ?`, documentID).
		Scan(&d.ID, &d.Title)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("document %s: %w", documentID, relay.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up document: %w", err)
	}
	return &d, nil
}

// SaveAccessLog appends one audit record.
func (db *DB) SaveAccessLog(ctx context.Context, rec relay.AuditRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO access_logs (id, document_id, action, performed_by, details, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), rec.DocumentID, rec.Action, rec.PerformedBy, rec.Details, ts)
	if err != nil {
		return fmt.Errorf("failed to save access log: %w", err)
	}
	return nil
}

// AccessLogEntry is one persisted audit row.
type AccessLogEntry struct {
	ID          string
	DocumentID  string
	Action      string
	PerformedBy string
	Details     string
	CreatedAt   time.Time
}

// ListAccessLogs returns the most recent audit rows for a document,
// newest first.
func (db *DB) ListAccessLogs(ctx context.Context, documentID string, limit int) ([]AccessLogEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.QueryContext(ctx,
		`SELECT id, document_id, action, performed_by, details, created_at
		 FROM access_logs
		 WHERE document_id = ?
		 ORDER BY created_at DESC
		 LIMIT ?`,
		documentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list access logs: %w", err)
	}
	defer closeRows(rows)

	var out []AccessLogEntry
	for rows.Next() {
		var e AccessLogEntry
		if err := rows.Scan(&e.ID, &e.DocumentID, &e.Action, &e.PerformedBy, &e.Details, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan access log: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate access logs: %w", err)
	}
	return out, nil
}

// CreateUser inserts or replaces a user profile.
func (db *DB) CreateUser(ctx context.Context, id, name, email string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO users (id, name, email)
		 VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, email = EXCLUDED.email`,
		id, name, email)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// CreateDocument inserts or replaces a document and grants the owner the
// admin role.
func (db *DB) CreateDocument(ctx context.Context, id, title, ownerID string) error {
	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO documents (id, title, owner_id)
		 VALUES (?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET title = EXCLUDED.title, owner_id = EXCLUDED.owner_id`,
		id, title, ownerID)
	if err != nil {
		return fmt.Errorf("failed to create document: %w", err)
	}
	if ownerID != "" {
		return db.SetRole(ctx, ownerID, id, relay.RoleAdmin)
	}
	return nil
}

func closeRows(rows *sql.Rows) {
	if err := rows.Close(); err != nil {
		logging.Warn().Err(err).Msg("failed to close result rows")
	}
}
