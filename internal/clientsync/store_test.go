package clientsync

import (
	"encoding/json"
	"testing"

	"leadflow.org/internal/crm"
)

func leadEvent(t *testing.T, id, kind, leadID, name string) crm.Event {
	t.Helper()
	payload, err := json.Marshal(crm.Lead{ID: leadID, Name: name, Email: name + "@example.com", Owner: "u1"})
	if err != nil {
		t.Fatal(err)
	}
	return crm.Event{ID: id, Kind: crm.EventKind(kind), SubjectID: leadID, LeadID: leadID, LeadOwner: "u1", Payload: payload}
}

func TestOptimisticCommit(t *testing.T) {
	s := New()
	optimistic := crm.Lead{ID: "l1", Name: "Optimistic"}
	s.StageLead(optimistic)

	if s.LeadState("l1") != StatePending {
		t.Fatal("expected pending state while in flight")
	}
	got, ok := s.Lead("l1")
	if !ok || got.Name != "Optimistic" {
		t.Fatalf("optimistic value not visible: %#v", got)
	}

	authoritative := crm.Lead{ID: "l1", Name: "Server Truth"}
	if err := s.CommitLead("l1", authoritative); err != nil {
		t.Fatal(err)
	}
	if s.LeadState("l1") != StateClean {
		t.Fatal("expected clean state after commit")
	}
	got, _ = s.Lead("l1")
	if got.Name != "Server Truth" {
		t.Fatalf("authoritative value must replace optimistic one: %#v", got)
	}
}

func TestRevertRestoresPreMutationValue(t *testing.T) {
	s := New()
	s.StageLead(crm.Lead{ID: "l1", Name: "Original"})
	if err := s.CommitLead("l1", crm.Lead{ID: "l1", Name: "Original"}); err != nil {
		t.Fatal(err)
	}

	s.StageLead(crm.Lead{ID: "l1", Name: "Doomed Edit"})
	if err := s.RevertLead("l1"); err != nil {
		t.Fatal(err)
	}
	got, ok := s.Lead("l1")
	if !ok || got.Name != "Original" {
		t.Fatalf("expected pre-mutation value back, got %#v ok=%v", got, ok)
	}
	if s.LeadState("l1") != StateClean {
		t.Fatal("expected clean state after revert")
	}
}

func TestRevertOfOptimisticCreateRemovesEntry(t *testing.T) {
	s := New()
	s.StageLead(crm.Lead{ID: "l1", Name: "Never Existed"})
	if err := s.RevertLead("l1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Lead("l1"); ok {
		t.Fatal("reverted create must remove the cached entry")
	}
}

func TestCommitWithoutPendingFails(t *testing.T) {
	s := New()
	if err := s.CommitLead("l1", crm.Lead{ID: "l1"}); err != ErrNoPending {
		t.Fatalf("expected ErrNoPending, got %v", err)
	}
	if err := s.RevertLead("l1"); err != ErrNoPending {
		t.Fatalf("expected ErrNoPending, got %v", err)
	}
}

func TestStageDeleteAndRevert(t *testing.T) {
	s := New()
	s.StageLead(crm.Lead{ID: "l1", Name: "Keep Me"})
	if err := s.CommitLead("l1", crm.Lead{ID: "l1", Name: "Keep Me"}); err != nil {
		t.Fatal(err)
	}

	s.StageLeadDelete("l1")
	if _, ok := s.Lead("l1"); ok {
		t.Fatal("optimistic delete must hide the entry")
	}
	if err := s.RevertLead("l1"); err != nil {
		t.Fatal(err)
	}
	got, ok := s.Lead("l1")
	if !ok || got.Name != "Keep Me" {
		t.Fatalf("failed delete must restore the entry: %#v", got)
	}

	s.StageLeadDelete("l1")
	if err := s.CommitLeadDelete("l1"); err != nil {
		t.Fatal(err)
	}
	if _, ok := s.Lead("l1"); ok {
		t.Fatal("committed delete must keep the entry gone")
	}
}

func TestApplyEventUpsertsAndNotifies(t *testing.T) {
	s := New()
	s.ApplyEvent(leadEvent(t, "e1", "leadCreated", "l1", "Remote"))

	got, ok := s.Lead("l1")
	if !ok || got.Name != "Remote" {
		t.Fatalf("event should insert the lead: %#v ok=%v", got, ok)
	}
	notes := s.Notifications()
	if len(notes) != 1 || notes[0].Read {
		t.Fatalf("expected one unread notification, got %#v", notes)
	}

	s.ApplyEvent(leadEvent(t, "e2", "leadUpdated", "l1", "Remote v2"))
	got, _ = s.Lead("l1")
	if got.Name != "Remote v2" {
		t.Fatalf("event should replace by id: %#v", got)
	}
	if len(s.Notifications()) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(s.Notifications()))
	}
}

func TestApplyEventIdempotent(t *testing.T) {
	s := New()
	evt := leadEvent(t, "e1", "leadCreated", "l1", "Once")
	s.ApplyEvent(evt)
	s.ApplyEvent(evt)

	if len(s.Notifications()) != 1 {
		t.Fatalf("duplicate event produced %d notifications", len(s.Notifications()))
	}
	if _, ok := s.Lead("l1"); !ok {
		t.Fatal("lead missing after duplicate apply")
	}
}

func TestPendingResourceIgnoresPushEcho(t *testing.T) {
	s := New()
	s.StageLead(crm.Lead{ID: "l1", Name: "Local Intent"})

	s.ApplyEvent(leadEvent(t, "e1", "leadUpdated", "l1", "Stale Echo"))

	got, _ := s.Lead("l1")
	if got.Name != "Local Intent" {
		t.Fatalf("pending value must win over a push echo: %#v", got)
	}
	if len(s.Notifications()) != 0 {
		t.Fatal("ignored echo must not create a notification")
	}

	// Events for other resources still land while l1 is pending.
	s.ApplyEvent(leadEvent(t, "e2", "leadCreated", "l2", "Other"))
	if _, ok := s.Lead("l2"); !ok {
		t.Fatal("unrelated event should still apply")
	}
}

func TestApplyDeleteEvent(t *testing.T) {
	s := New()
	s.ApplyEvent(leadEvent(t, "e1", "leadCreated", "l1", "Short Lived"))
	s.ApplyEvent(crm.Event{ID: "e2", Kind: crm.EventLeadDeleted, SubjectID: "l1", LeadID: "l1", LeadOwner: "u1"})

	if _, ok := s.Lead("l1"); ok {
		t.Fatal("delete event must drop the cached entry")
	}
	if len(s.Notifications()) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(s.Notifications()))
	}
}

func TestActivityEventsAndReadFlags(t *testing.T) {
	s := New()
	payload, _ := json.Marshal(crm.Activity{ID: "a1", Lead: "l1", Title: "Call"})
	s.ApplyEvent(crm.Event{ID: "e1", Kind: crm.EventActivityCreated, SubjectID: "a1", LeadID: "l1", LeadOwner: "u1", Payload: payload})

	if _, ok := s.Activity("a1"); !ok {
		t.Fatal("activity event should insert the activity")
	}
	if s.Unread() != 1 {
		t.Fatalf("expected 1 unread, got %d", s.Unread())
	}
	if err := s.MarkRead("e1"); err != nil {
		t.Fatal(err)
	}
	if s.Unread() != 0 {
		t.Fatalf("expected 0 unread after MarkRead, got %d", s.Unread())
	}
	if err := s.MarkRead("missing"); err == nil {
		t.Fatal("expected error for unknown notification")
	}

	s.ApplyEvent(crm.Event{ID: "e2", Kind: crm.EventActivityDeleted, SubjectID: "a1", LeadID: "l1", LeadOwner: "u1"})
	if _, ok := s.Activity("a1"); ok {
		t.Fatal("activity delete event must drop the entry")
	}
	s.MarkAllRead()
	if s.Unread() != 0 {
		t.Fatal("MarkAllRead left unread notifications")
	}
}
