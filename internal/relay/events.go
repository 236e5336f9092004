// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

package relay

import (
	"errors"
	"fmt"

	"github.com/goccy/go-json"
)

// Kind identifies a collaboration event type.
type Kind string

// Collaboration event kinds.
const (
	KindPresence         Kind = "presence"
	KindPermissionChange Kind = "permission_change"
	KindAccessRequest    Kind = "access_request"
)

// Presence actions emitted by the lifecycle manager.
const (
	PresenceActionJoin  = "join"
	PresenceActionLeave = "leave"
)

// RoleAdmin is the role required to change permissions and the role whose
// holders are notified of access requests. Matching is exact: no role
// hierarchy is consulted.
const RoleAdmin = "admin"

// Event is a decoded collaboration event. Exactly one payload pointer is
// non-nil, matching Kind.
type Event struct {
	Kind       Kind
	DocumentID string

	Presence         *PresencePayload
	PermissionChange *PermissionChangePayload
	AccessRequest    *AccessRequestPayload
}

// PresencePayload carries a presence update. Join and leave events are
// synthesized by the hub; anything else is client-originated activity
// (cursor movement, selection) whose Meta blob the relay forwards without
// interpreting.
type PresencePayload struct {
	UserID string          `json:"userId"`
	Action string          `json:"action"`
	Meta   json.RawMessage `json:"meta,omitempty"`
}

// PermissionChangePayload carries a role change for a target user.
type PermissionChangePayload struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
}

// AccessRequestPayload carries a request for access to the event's document.
type AccessRequestPayload struct {
	RequestedRole string `json:"requestedRole"`
}

// envelope is the wire shape of every frame:
//
//	{"type": "...", "documentId": "...", "data": {...}}
type envelope struct {
	Type       string          `json:"type"`
	DocumentID string          `json:"documentId"`
	Data       json.RawMessage `json:"data,omitempty"`
}

// Decode errors.
var (
	ErrUnknownKind       = errors.New("unknown event kind")
	ErrMissingDocumentID = errors.New("event missing documentId")
)

// DecodeEvent parses a wire frame into a typed Event. The payload is
// decoded according to the declared kind; a frame whose payload does not
// match its kind is rejected.
func DecodeEvent(data []byte) (*Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed frame: %w", err)
	}
	if env.DocumentID == "" {
		return nil, ErrMissingDocumentID
	}

	ev := &Event{Kind: Kind(env.Type), DocumentID: env.DocumentID}

	switch ev.Kind {
	case KindPresence:
		var p PresencePayload
		if len(env.Data) > 0 {
			if err := json.Unmarshal(env.Data, &p); err != nil {
				return nil, fmt.Errorf("malformed presence payload: %w", err)
			}
		}
		ev.Presence = &p

	case KindPermissionChange:
		var p PermissionChangePayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("malformed permission_change payload: %w", err)
		}
		if p.UserID == "" || p.Role == "" {
			return nil, fmt.Errorf("permission_change payload missing userId or role")
		}
		ev.PermissionChange = &p

	case KindAccessRequest:
		var p AccessRequestPayload
		if err := json.Unmarshal(env.Data, &p); err != nil {
			return nil, fmt.Errorf("malformed access_request payload: %w", err)
		}
		if p.RequestedRole == "" {
			return nil, fmt.Errorf("access_request payload missing requestedRole")
		}
		ev.AccessRequest = &p

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}

	return ev, nil
}

// EncodeEvent serializes an Event back to its wire shape. Broadcasts
// serialize once and send the same bytes to every recipient.
func EncodeEvent(ev *Event) ([]byte, error) {
	var payload interface{}
	switch ev.Kind {
	case KindPresence:
		payload = ev.Presence
	case KindPermissionChange:
		payload = ev.PermissionChange
	case KindAccessRequest:
		payload = ev.AccessRequest
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, ev.Kind)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	return json.Marshal(envelope{
		Type:       string(ev.Kind),
		DocumentID: ev.DocumentID,
		Data:       data,
	})
}
