package crm

import (
	"encoding/json"
	"time"
)

// EventKind names the mutation a domain event describes.
type EventKind string

const (
	EventLeadCreated     EventKind = "leadCreated"
	EventLeadUpdated     EventKind = "leadUpdated"
	EventLeadDeleted     EventKind = "leadDeleted"
	EventActivityCreated EventKind = "activityCreated"
	EventActivityUpdated EventKind = "activityUpdated"
	EventActivityDeleted EventKind = "activityDeleted"
)

// Event is emitted exactly once per successful mutation and consumed
// at-most-once per connected session. It is ephemeral: no event is ever
// persisted or replayed.
//
// LeadOwner snapshots the affected lead's owner at emission time so push
// audience checks run without a store round-trip. SessionID identifies the
// originating push session, if any, so the hub can skip echoing an event back
// to the client that caused it.
type Event struct {
	ID         string          `json:"id"`
	Kind       EventKind       `json:"kind"`
	SubjectID  string          `json:"subject_id"`
	LeadID     string          `json:"lead_id"`
	LeadOwner  string          `json:"lead_owner"`
	SessionID  string          `json:"session_id,omitempty"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	OccurredAt time.Time       `json:"occurred_at"`
}

// EventSink receives domain events after a mutation commits. Publish must not
// block: the fan-out path may never delay the mutation path.
type EventSink interface {
	Publish(evt Event)
}

// discardSink drops every event. Used when no hub is wired.
type discardSink struct{}

func (discardSink) Publish(Event) {}
