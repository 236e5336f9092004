// Coscribe - Real-Time Document Collaboration Relay
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/coscribe

package relay

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/coscribe/internal/logging"
)

func TestMain(m *testing.M) {
	logging.Init(logging.Config{Level: "disabled", Output: io.Discard})
	os.Exit(m.Run())
}

type fakeAuthz struct {
	mu sync.Mutex
	// roles is documentID -> userID -> role
	roles    map[string]map[string]string
	hasErr   error
	setErr   error
	setCalls []string
}

func newFakeAuthz() *fakeAuthz {
	return &fakeAuthz{roles: make(map[string]map[string]string)}
}

func (f *fakeAuthz) grant(userID, documentID, role string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.roles[documentID] == nil {
		f.roles[documentID] = make(map[string]string)
	}
	f.roles[documentID][userID] = role
}

func (f *fakeAuthz) HasRole(_ context.Context, userID, documentID, role string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.hasErr != nil {
		return false, f.hasErr
	}
	return f.roles[documentID][userID] == role, nil
}

func (f *fakeAuthz) SetRole(_ context.Context, userID, documentID, role string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	if f.roles[documentID] == nil {
		f.roles[documentID] = make(map[string]string)
	}
	f.roles[documentID][userID] = role
	f.setCalls = append(f.setCalls, fmt.Sprintf("%s/%s=%s", documentID, userID, role))
	return nil
}

func (f *fakeAuthz) ListCollaboratorsWithRole(_ context.Context, documentID, role string) ([]Collaborator, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Collaborator
	for userID, r := range f.roles[documentID] {
		if r == role {
			out = append(out, Collaborator{UserID: userID})
		}
	}
	return out, nil
}

type fakeDirectory struct {
	users map[string]*UserInfo
	docs  map[string]*DocumentInfo
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		users: make(map[string]*UserInfo),
		docs:  make(map[string]*DocumentInfo),
	}
}

func (f *fakeDirectory) LookupUser(_ context.Context, userID string) (*UserInfo, error) {
	u, ok := f.users[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return u, nil
}

func (f *fakeDirectory) LookupDocument(_ context.Context, documentID string) (*DocumentInfo, error) {
	d, ok := f.docs[documentID]
	if !ok {
		return nil, ErrNotFound
	}
	return d, nil
}

type sentMail struct {
	to            string
	requesterName string
	documentTitle string
	requestedRole string
}

type fakeMailer struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (f *fakeMailer) SendAccessRequest(_ context.Context, to, requesterName, documentTitle, requestedRole string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, sentMail{to, requesterName, documentTitle, requestedRole})
	return nil
}

func (f *fakeMailer) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

type fakeAudit struct {
	mu   sync.Mutex
	recs []AuditRecord
}

func (f *fakeAudit) Append(rec AuditRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.recs = append(f.recs, rec)
}

func (f *fakeAudit) records() []AuditRecord {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]AuditRecord(nil), f.recs...)
}

type engineFixture struct {
	registry *Registry
	engine   *Engine
	authz    *fakeAuthz
	dir      *fakeDirectory
	mailer   *fakeMailer
	audit    *fakeAudit
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		registry: NewRegistry(),
		authz:    newFakeAuthz(),
		dir:      newFakeDirectory(),
		mailer:   &fakeMailer{},
		audit:    &fakeAudit{},
	}
	f.engine = NewEngine(f.registry, f.authz, f.dir, f.mailer, f.audit, EngineOptions{
		WorkerCount:     1,
		WorkerQueueSize: 8,
	})
	return f
}

// join registers a transport-less client in the fixture's registry.
func (f *engineFixture) join(t *testing.T, userID, documentID string) *Client {
	t.Helper()
	c := newTestClient()
	mustRegister(t, f.registry, c, userID, documentID)
	return c
}

// recvFrame pulls one queued frame off the client, or fails.
func recvFrame(t *testing.T, c *Client) []byte {
	t.Helper()
	select {
	case data := <-c.send:
		return data
	case <-time.After(time.Second):
		t.Fatal("no frame received within 1s")
		return nil
	}
}

// assertNoFrame asserts nothing is queued for the client.
func assertNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.send:
		t.Fatalf("unexpected frame: %s", data)
	default:
	}
}

func TestHandleFrameUnregisteredClientDropped(t *testing.T) {
	f := newEngineFixture(t)
	member := f.join(t, "u1", "doc-1")
	stranger := newTestClient()

	f.engine.HandleFrame(stranger, []byte(`{"type":"presence","documentId":"doc-1","data":{"userId":"x","action":"cursor"}}`))

	assertNoFrame(t, member)
}

func TestHandleFrameMalformedDropped(t *testing.T) {
	f := newEngineFixture(t)
	sender := f.join(t, "u1", "doc-1")
	peer := f.join(t, "u2", "doc-1")

	f.engine.HandleFrame(sender, []byte(`not json`))
	f.engine.HandleFrame(sender, []byte(`{"type":"presence","data":{"action":"cursor"}}`))

	assertNoFrame(t, peer)
}

func TestPresenceRelayedToRoomExcludingSender(t *testing.T) {
	f := newEngineFixture(t)
	sender := f.join(t, "u1", "doc-1")
	peer := f.join(t, "u2", "doc-1")
	outsider := f.join(t, "u3", "doc-2")

	f.engine.HandleFrame(sender, []byte(`{"type":"presence","documentId":"doc-1","data":{"userId":"u1","action":"cursor","meta":{"line":7}}}`))

	frame := string(recvFrame(t, peer))
	if !strings.Contains(frame, `"action":"cursor"`) || !strings.Contains(frame, `"userId":"u1"`) {
		t.Errorf("peer frame = %s, want relayed presence", frame)
	}
	assertNoFrame(t, sender)
	assertNoFrame(t, outsider)
}

func TestPermissionChangeFromNonAdminSilentlyDropped(t *testing.T) {
	f := newEngineFixture(t)
	sender := f.join(t, "u1", "doc-1")
	peer := f.join(t, "u2", "doc-1")
	f.authz.grant("u1", "doc-1", "editor")

	f.engine.HandleFrame(sender, []byte(`{"type":"permission_change","documentId":"doc-1","data":{"userId":"u2","role":"admin"}}`))

	assertNoFrame(t, sender)
	assertNoFrame(t, peer)
	if len(f.authz.setCalls) != 0 {
		t.Errorf("SetRole called %d times by non-admin, want 0", len(f.authz.setCalls))
	}
	if len(f.audit.records()) != 0 {
		t.Error("audit record written for rejected permission_change")
	}
}

func TestPermissionChangeAdminAppliesAuditsAndBroadcasts(t *testing.T) {
	f := newEngineFixture(t)
	sender := f.join(t, "admin-1", "doc-1")
	peer := f.join(t, "u2", "doc-1")
	f.authz.grant("admin-1", "doc-1", RoleAdmin)

	f.engine.HandleFrame(sender, []byte(`{"type":"permission_change","documentId":"doc-1","data":{"userId":"u2","role":"editor"}}`))

	// Both room members receive the update, the sender included.
	for _, c := range []*Client{sender, peer} {
		frame := string(recvFrame(t, c))
		if !strings.Contains(frame, `"role":"editor"`) {
			t.Errorf("frame = %s, want role change for u2", frame)
		}
	}

	if len(f.authz.setCalls) != 1 || f.authz.setCalls[0] != "doc-1/u2=editor" {
		t.Errorf("SetRole calls = %v, want [doc-1/u2=editor]", f.authz.setCalls)
	}

	recs := f.audit.records()
	if len(recs) != 1 {
		t.Fatalf("audit records = %d, want 1", len(recs))
	}
	rec := recs[0]
	if rec.Action != AuditActionModified || rec.DocumentID != "doc-1" || rec.PerformedBy != "admin-1" {
		t.Errorf("audit record = %+v, want modified/doc-1 by admin-1", rec)
	}
	if !strings.Contains(rec.Details, "u2") || !strings.Contains(rec.Details, "editor") {
		t.Errorf("audit details = %q, want target user and role", rec.Details)
	}
}

func TestPermissionChangeSetRoleFailureDropsSilently(t *testing.T) {
	f := newEngineFixture(t)
	sender := f.join(t, "admin-1", "doc-1")
	peer := f.join(t, "u2", "doc-1")
	f.authz.grant("admin-1", "doc-1", RoleAdmin)
	f.authz.setErr = fmt.Errorf("store unavailable")

	f.engine.HandleFrame(sender, []byte(`{"type":"permission_change","documentId":"doc-1","data":{"userId":"u2","role":"editor"}}`))

	assertNoFrame(t, sender)
	assertNoFrame(t, peer)
	if len(f.audit.records()) != 0 {
		t.Error("audit record written despite failed role update")
	}
}

func TestPermissionChangeAuthzErrorFailsClosed(t *testing.T) {
	f := newEngineFixture(t)
	sender := f.join(t, "admin-1", "doc-1")
	f.authz.grant("admin-1", "doc-1", RoleAdmin)
	f.authz.hasErr = fmt.Errorf("store unavailable")

	f.engine.HandleFrame(sender, []byte(`{"type":"permission_change","documentId":"doc-1","data":{"userId":"u2","role":"editor"}}`))

	assertNoFrame(t, sender)
	if len(f.authz.setCalls) != 0 {
		t.Error("SetRole called when the permission check errored")
	}
}

func TestAccessRequestNotifiesResolvableAdmins(t *testing.T) {
	f := newEngineFixture(t)
	f.authz.grant("admin-1", "doc-1", RoleAdmin)
	f.authz.grant("admin-2", "doc-1", RoleAdmin)
	f.authz.grant("u2", "doc-1", "editor")
	f.dir.docs["doc-1"] = &DocumentInfo{ID: "doc-1", Title: "Launch Plan"}
	f.dir.users["u1"] = &UserInfo{ID: "u1", Name: "Ada", Email: "ada@example.com"}
	f.dir.users["admin-1"] = &UserInfo{ID: "admin-1", Name: "Owner", Email: "owner@example.com"}
	// admin-2 resolves but has no email on file.
	f.dir.users["admin-2"] = &UserInfo{ID: "admin-2", Name: "Silent"}

	f.engine.processAccessRequest(accessRequestJob{
		documentID:    "doc-1",
		requesterID:   "u1",
		requestedRole: "editor",
	})

	if got := f.mailer.sentCount(); got != 1 {
		t.Fatalf("mails sent = %d, want 1", got)
	}
	mail := f.mailer.sent[0]
	if mail.to != "owner@example.com" {
		t.Errorf("mail.to = %q, want owner@example.com", mail.to)
	}
	if mail.requesterName != "Ada" || mail.documentTitle != "Launch Plan" || mail.requestedRole != "editor" {
		t.Errorf("mail = %+v, want Ada/Launch Plan/editor", mail)
	}

	recs := f.audit.records()
	if len(recs) != 1 {
		t.Fatalf("audit records = %d, want 1", len(recs))
	}
	if recs[0].Action != AuditActionRequested || recs[0].PerformedBy != "u1" {
		t.Errorf("audit record = %+v, want requested by u1", recs[0])
	}
}

func TestAccessRequestLookupFallbacks(t *testing.T) {
	f := newEngineFixture(t)
	f.authz.grant("admin-1", "doc-1", RoleAdmin)
	f.dir.users["admin-1"] = &UserInfo{ID: "admin-1", Email: "owner@example.com"}
	// Neither the document nor the requester resolve.

	f.engine.processAccessRequest(accessRequestJob{
		documentID:    "doc-1",
		requesterID:   "ghost",
		requestedRole: "viewer",
	})

	if got := f.mailer.sentCount(); got != 1 {
		t.Fatalf("mails sent = %d, want 1", got)
	}
	mail := f.mailer.sent[0]
	if mail.documentTitle != "the document" {
		t.Errorf("documentTitle = %q, want placeholder", mail.documentTitle)
	}
	if mail.requesterName != "A user" {
		t.Errorf("requesterName = %q, want placeholder", mail.requesterName)
	}
}

func TestAccessRequestRequesterEmailFallback(t *testing.T) {
	f := newEngineFixture(t)
	f.authz.grant("admin-1", "doc-1", RoleAdmin)
	f.dir.users["admin-1"] = &UserInfo{ID: "admin-1", Email: "owner@example.com"}
	f.dir.users["u1"] = &UserInfo{ID: "u1", Email: "ada@example.com"}

	f.engine.processAccessRequest(accessRequestJob{
		documentID:    "doc-1",
		requesterID:   "u1",
		requestedRole: "viewer",
	})

	if got := f.mailer.sentCount(); got != 1 {
		t.Fatalf("mails sent = %d, want 1", got)
	}
	if got := f.mailer.sent[0].requesterName; got != "ada@example.com" {
		t.Errorf("requesterName = %q, want email fallback", got)
	}
}

func TestAccessRequestMailFailureStillAudits(t *testing.T) {
	f := newEngineFixture(t)
	f.authz.grant("admin-1", "doc-1", RoleAdmin)
	f.dir.users["admin-1"] = &UserInfo{ID: "admin-1", Email: "owner@example.com"}
	f.mailer.err = fmt.Errorf("smtp down")

	f.engine.processAccessRequest(accessRequestJob{
		documentID:    "doc-1",
		requesterID:   "u1",
		requestedRole: "editor",
	})

	if len(f.audit.records()) != 1 {
		t.Errorf("audit records = %d, want 1 despite mail failure", len(f.audit.records()))
	}
}

func TestAccessRequestEndToEndThroughWorkers(t *testing.T) {
	f := newEngineFixture(t)
	sender := f.join(t, "u1", "doc-1")
	peer := f.join(t, "u2", "doc-1")
	f.authz.grant("admin-1", "doc-1", RoleAdmin)
	f.dir.users["admin-1"] = &UserInfo{ID: "admin-1", Email: "owner@example.com"}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.engine.Start(ctx)

	f.engine.HandleFrame(sender, []byte(`{"type":"access_request","documentId":"doc-1","data":{"requestedRole":"editor"}}`))

	deadline := time.Now().Add(2 * time.Second)
	for f.mailer.sentCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("no mail sent within 2s")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Access requests never hit the live channel.
	assertNoFrame(t, sender)
	assertNoFrame(t, peer)
}

func TestBroadcastSkipsFullAndClosedClients(t *testing.T) {
	f := newEngineFixture(t)
	sender := f.join(t, "u1", "doc-1")
	healthy := f.join(t, "u2", "doc-1")
	closed := f.join(t, "u3", "doc-1")
	closed.close()

	full := f.join(t, "u4", "doc-1")
	for i := 0; i < cap(full.send); i++ {
		full.send <- []byte("x")
	}

	f.engine.HandleFrame(sender, []byte(`{"type":"presence","documentId":"doc-1","data":{"userId":"u1","action":"cursor"}}`))

	recvFrame(t, healthy)
}
