// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

package relay

import (
	"errors"
	"strings"
	"testing"
)

func TestDecodeEventPresence(t *testing.T) {
	frame := `{"type":"presence","documentId":"doc-1","data":{"userId":"u1","action":"cursor","meta":{"line":4}}}`

	ev, err := DecodeEvent([]byte(frame))
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	if ev.Kind != KindPresence {
		t.Errorf("Kind = %q, want %q", ev.Kind, KindPresence)
	}
	if ev.DocumentID != "doc-1" {
		t.Errorf("DocumentID = %q, want doc-1", ev.DocumentID)
	}
	if ev.Presence == nil {
		t.Fatal("Presence payload is nil")
	}
	if ev.Presence.UserID != "u1" || ev.Presence.Action != "cursor" {
		t.Errorf("Presence = %+v, want userId=u1 action=cursor", ev.Presence)
	}
	if len(ev.Presence.Meta) == 0 {
		t.Error("Presence.Meta dropped, want raw blob preserved")
	}
}

func TestDecodeEventPermissionChange(t *testing.T) {
	frame := `{"type":"permission_change","documentId":"doc-1","data":{"userId":"u2","role":"editor"}}`

	ev, err := DecodeEvent([]byte(frame))
	if err != nil {
		t.Fatalf("DecodeEvent() error = %v", err)
	}
	if ev.Kind != KindPermissionChange {
		t.Errorf("Kind = %q, want %q", ev.Kind, KindPermissionChange)
	}
	if ev.PermissionChange == nil {
		t.Fatal("PermissionChange payload is nil")
	}
	if ev.PermissionChange.UserID != "u2" || ev.PermissionChange.Role != "editor" {
		t.Errorf("PermissionChange = %+v, want userId=u2 role=editor", ev.PermissionChange)
	}
}

func TestDecodeEventRejects(t *testing.T) {
	tests := []struct {
		name    string
		frame   string
		wantErr error
	}{
		{
			name:    "not json",
			frame:   `{{{`,
			wantErr: nil, // any error is acceptable
		},
		{
			name:    "missing document id",
			frame:   `{"type":"presence","data":{"userId":"u1","action":"join"}}`,
			wantErr: ErrMissingDocumentID,
		},
		{
			name:    "unknown type",
			frame:   `{"type":"chat_message","documentId":"doc-1","data":{}}`,
			wantErr: ErrUnknownKind,
		},
		{
			name:  "permission change missing role",
			frame: `{"type":"permission_change","documentId":"doc-1","data":{"userId":"u2"}}`,
		},
		{
			name:  "access request missing role",
			frame: `{"type":"access_request","documentId":"doc-1","data":{}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := DecodeEvent([]byte(tt.frame))
			if err == nil {
				t.Fatalf("DecodeEvent() = %+v, want error", ev)
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("DecodeEvent() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestEncodeEventWireShape(t *testing.T) {
	ev := &Event{
		Kind:       KindPermissionChange,
		DocumentID: "doc-1",
		PermissionChange: &PermissionChangePayload{
			UserID: "u2",
			Role:   "viewer",
		},
	}

	data, err := EncodeEvent(ev)
	if err != nil {
		t.Fatalf("EncodeEvent() error = %v", err)
	}

	for _, want := range []string{`"type":"permission_change"`, `"documentId":"doc-1"`, `"userId":"u2"`, `"role":"viewer"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("encoded frame %s missing %s", data, want)
		}
	}

	// The encoded frame must round back through the decoder so receivers
	// and senders agree on wire shape.
	back, err := DecodeEvent(data)
	if err != nil {
		t.Fatalf("DecodeEvent(encoded) error = %v", err)
	}
	if back.PermissionChange.Role != "viewer" {
		t.Errorf("round-trip role = %q, want viewer", back.PermissionChange.Role)
	}
}
