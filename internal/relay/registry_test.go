// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

package relay

import (
	"errors"
	"testing"
)

// newTestClient builds a client with no transport. The send and done
// channels are real so broadcast paths behave as in production.
func newTestClient() *Client {
	return &Client{
		id:   clientIDCounter.Add(1),
		send: make(chan []byte, 16),
		done: make(chan struct{}),
	}
}

func TestRegistryRegisterAndLookup(t *testing.T) {
	r := NewRegistry()
	c := newTestClient()

	if err := r.Register(c, "u1", "doc-1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	sess, ok := r.SessionOf(c)
	if !ok {
		t.Fatal("SessionOf() not found after Register")
	}
	if sess.UserID != "u1" || sess.DocumentID != "doc-1" {
		t.Errorf("SessionOf() = %+v, want u1/doc-1", sess)
	}

	if got := r.ClientCount(); got != 1 {
		t.Errorf("ClientCount() = %d, want 1", got)
	}
	if got := r.RoomCount(); got != 1 {
		t.Errorf("RoomCount() = %d, want 1", got)
	}
}

func TestRegistryDuplicateRegister(t *testing.T) {
	r := NewRegistry()
	c := newTestClient()

	if err := r.Register(c, "u1", "doc-1"); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := r.Register(c, "u1", "doc-1"); !errors.Is(err, ErrDuplicateClient) {
		t.Errorf("second Register() error = %v, want ErrDuplicateClient", err)
	}
}

func TestRegistryUnregisterDeletesEmptyRoom(t *testing.T) {
	r := NewRegistry()
	c1 := newTestClient()
	c2 := newTestClient()

	mustRegister(t, r, c1, "u1", "doc-1")
	mustRegister(t, r, c2, "u2", "doc-1")

	sess := r.Unregister(c1)
	if sess == nil || sess.UserID != "u1" {
		t.Fatalf("Unregister(c1) = %+v, want session for u1", sess)
	}
	if got := r.RoomCount(); got != 1 {
		t.Errorf("RoomCount() after first leave = %d, want 1", got)
	}

	r.Unregister(c2)
	if got := r.RoomCount(); got != 0 {
		t.Errorf("RoomCount() after last leave = %d, want 0", got)
	}

	if sess := r.Unregister(c1); sess != nil {
		t.Errorf("Unregister() of removed client = %+v, want nil", sess)
	}
}

func TestRegistryMembersOfIsSnapshot(t *testing.T) {
	r := NewRegistry()
	c1 := newTestClient()
	c2 := newTestClient()
	other := newTestClient()

	mustRegister(t, r, c1, "u1", "doc-1")
	mustRegister(t, r, c2, "u2", "doc-1")
	mustRegister(t, r, other, "u3", "doc-2")

	members := r.MembersOf("doc-1")
	if len(members) != 2 {
		t.Fatalf("MembersOf(doc-1) has %d members, want 2", len(members))
	}
	for _, m := range members {
		if m == other {
			t.Error("MembersOf(doc-1) leaked a member of doc-2")
		}
	}

	// Mutating the registry must not affect the snapshot.
	r.Unregister(c2)
	if len(members) != 2 {
		t.Error("snapshot shrank after Unregister")
	}

	if got := r.MembersOf("doc-none"); len(got) != 0 {
		t.Errorf("MembersOf(unknown) = %d members, want 0", len(got))
	}
}

func TestRegistrySweepTwoCycleEviction(t *testing.T) {
	r := NewRegistry()
	c := newTestClient()
	mustRegister(t, r, c, "u1", "doc-1")

	// First sweep: freshly registered client is alive, so it is probed
	// and flipped to pending.
	dead, probe := r.SweepAndMarkDead()
	if len(dead) != 0 {
		t.Fatalf("first sweep evicted %d clients, want 0", len(dead))
	}
	if len(probe) != 1 || probe[0] != c {
		t.Fatalf("first sweep probed %v, want the registered client", probe)
	}

	// No pong arrives: the second sweep evicts.
	dead, probe = r.SweepAndMarkDead()
	if len(dead) != 1 || dead[0] != c {
		t.Fatalf("second sweep dead = %v, want the silent client", dead)
	}
	if len(probe) != 0 {
		t.Errorf("second sweep probed %d clients, want 0", len(probe))
	}
}

func TestRegistrySweepPongKeepsAlive(t *testing.T) {
	r := NewRegistry()
	c := newTestClient()
	mustRegister(t, r, c, "u1", "doc-1")

	for i := 0; i < 3; i++ {
		dead, probe := r.SweepAndMarkDead()
		if len(dead) != 0 {
			t.Fatalf("sweep %d evicted a responsive client", i)
		}
		if len(probe) != 1 {
			t.Fatalf("sweep %d probed %d clients, want 1", i, len(probe))
		}
		if !r.MarkAlive(c) {
			t.Fatalf("MarkAlive() = false for registered client")
		}
	}
}

func TestRegistryMarkAliveUnknownClient(t *testing.T) {
	r := NewRegistry()
	if r.MarkAlive(newTestClient()) {
		t.Error("MarkAlive() = true for unregistered client")
	}
}

func mustRegister(t *testing.T, r *Registry, c *Client, userID, documentID string) {
	t.Helper()
	if err := r.Register(c, userID, documentID); err != nil {
		t.Fatalf("Register(%s, %s) error = %v", userID, documentID, err)
	}
}
