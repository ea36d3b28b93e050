// Package clientsync is the client-local state container: a cached view of
// leads, activities and notifications, reconciled from three inputs that can
// interleave. Optimistic local mutations show immediately, the authoritative
// response then confirms or reverts them, and unsolicited push events merge
// into whatever is not currently in flight.
package clientsync

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"leadflow.org/internal/crm"
)

// State tracks a cached resource through an optimistic mutation.
type State string

const (
	// StateClean means the cached value matches the last authoritative one.
	StateClean State = "clean"
	// StatePending means a local mutation is in flight and the cache shows
	// its optimistic value.
	StatePending State = "pending"
)

// ErrNoPending is returned when committing or reverting a resource that has
// no mutation in flight.
var ErrNoPending = errors.New("clientsync: no pending mutation")

// Notification is a transient client-side record derived from a push event.
// It lives only in this cache and is never sent back to the server.
type Notification struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}

type leadSnapshot struct {
	value   crm.Lead
	existed bool
}

type activitySnapshot struct {
	value   crm.Activity
	existed bool
}

// Store reconciles the local cache. Methods are safe for concurrent use,
// though a typical client drives it from a single event loop.
type Store struct {
	mu sync.Mutex

	leads      map[string]crm.Lead
	activities map[string]crm.Activity

	pendingLeads      map[string]leadSnapshot
	pendingActivities map[string]activitySnapshot

	seenEvents    map[string]struct{}
	notifications []Notification

	now func() time.Time
}

// New creates an empty store.
func New() *Store {
	return &Store{
		leads:             make(map[string]crm.Lead),
		activities:        make(map[string]crm.Activity),
		pendingLeads:      make(map[string]leadSnapshot),
		pendingActivities: make(map[string]activitySnapshot),
		seenEvents:        make(map[string]struct{}),
		now:               func() time.Time { return time.Now().UTC() },
	}
}

// Lead returns the cached lead, optimistic value included.
func (s *Store) Lead(id string) (crm.Lead, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[id]
	return lead, ok
}

// Activity returns the cached activity, optimistic value included.
func (s *Store) Activity(id string) (crm.Activity, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	activity, ok := s.activities[id]
	return activity, ok
}

// LeadState reports whether a lead has a mutation in flight.
func (s *Store) LeadState(id string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pendingLeads[id]; ok {
		return StatePending
	}
	return StateClean
}

// ActivityState reports whether an activity has a mutation in flight.
func (s *Store) ActivityState(id string) State {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pendingActivities[id]; ok {
		return StatePending
	}
	return StateClean
}

// StageLead records an optimistic mutation: the cache shows optimistic while
// the request is in flight, and the pre-mutation value is kept for revert.
// Staging over an already pending lead keeps the original snapshot, so a
// revert always lands on the last authoritative value.
func (s *Store) StageLead(optimistic crm.Lead) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, inFlight := s.pendingLeads[optimistic.ID]; !inFlight {
		prev, existed := s.leads[optimistic.ID]
		s.pendingLeads[optimistic.ID] = leadSnapshot{value: prev, existed: existed}
	}
	s.leads[optimistic.ID] = optimistic
}

// StageLeadDelete optimistically removes a lead from the cache.
func (s *Store) StageLeadDelete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, inFlight := s.pendingLeads[id]; !inFlight {
		prev, existed := s.leads[id]
		s.pendingLeads[id] = leadSnapshot{value: prev, existed: existed}
	}
	delete(s.leads, id)
}

// CommitLead resolves a pending mutation with the authoritative server value.
func (s *Store) CommitLead(id string, authoritative crm.Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pendingLeads[id]; !ok {
		return ErrNoPending
	}
	delete(s.pendingLeads, id)
	s.leads[id] = authoritative
	return nil
}

// CommitLeadDelete resolves a pending delete: the lead stays gone.
func (s *Store) CommitLeadDelete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pendingLeads[id]; !ok {
		return ErrNoPending
	}
	delete(s.pendingLeads, id)
	delete(s.leads, id)
	return nil
}

// RevertLead restores the pre-mutation value after a failed request.
func (s *Store) RevertLead(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.pendingLeads[id]
	if !ok {
		return ErrNoPending
	}
	delete(s.pendingLeads, id)
	if snap.existed {
		s.leads[id] = snap.value
	} else {
		delete(s.leads, id)
	}
	return nil
}

// StageActivity records an optimistic activity mutation.
func (s *Store) StageActivity(optimistic crm.Activity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, inFlight := s.pendingActivities[optimistic.ID]; !inFlight {
		prev, existed := s.activities[optimistic.ID]
		s.pendingActivities[optimistic.ID] = activitySnapshot{value: prev, existed: existed}
	}
	s.activities[optimistic.ID] = optimistic
}

// StageActivityDelete optimistically removes an activity from the cache.
func (s *Store) StageActivityDelete(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, inFlight := s.pendingActivities[id]; !inFlight {
		prev, existed := s.activities[id]
		s.pendingActivities[id] = activitySnapshot{value: prev, existed: existed}
	}
	delete(s.activities, id)
}

// CommitActivity resolves a pending activity mutation with the server value.
func (s *Store) CommitActivity(id string, authoritative crm.Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pendingActivities[id]; !ok {
		return ErrNoPending
	}
	delete(s.pendingActivities, id)
	s.activities[id] = authoritative
	return nil
}

// CommitActivityDelete resolves a pending activity delete.
func (s *Store) CommitActivityDelete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pendingActivities[id]; !ok {
		return ErrNoPending
	}
	delete(s.pendingActivities, id)
	delete(s.activities, id)
	return nil
}

// RevertActivity restores the pre-mutation value after a failed request.
func (s *Store) RevertActivity(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, ok := s.pendingActivities[id]
	if !ok {
		return ErrNoPending
	}
	delete(s.pendingActivities, id)
	if snap.existed {
		s.activities[id] = snap.value
	} else {
		delete(s.activities, id)
	}
	return nil
}

// ApplyEvent merges an unsolicited push event into the cache. The same event
// applied twice lands once: dedupe runs on the event id. An event touching a
// resource with a mutation in flight is dropped, local intent wins over a
// stale remote echo; the client re-fetches on the next reconnect anyway.
func (s *Store) ApplyEvent(evt crm.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, seen := s.seenEvents[evt.ID]; seen {
		return
	}

	switch evt.Kind {
	case crm.EventLeadCreated, crm.EventLeadUpdated:
		if _, inFlight := s.pendingLeads[evt.SubjectID]; inFlight {
			return
		}
		var lead crm.Lead
		if err := json.Unmarshal(evt.Payload, &lead); err != nil || lead.ID == "" {
			return
		}
		s.leads[lead.ID] = lead
	case crm.EventLeadDeleted:
		if _, inFlight := s.pendingLeads[evt.SubjectID]; inFlight {
			return
		}
		delete(s.leads, evt.SubjectID)
	case crm.EventActivityCreated, crm.EventActivityUpdated:
		if _, inFlight := s.pendingActivities[evt.SubjectID]; inFlight {
			return
		}
		var activity crm.Activity
		if err := json.Unmarshal(evt.Payload, &activity); err != nil || activity.ID == "" {
			return
		}
		s.activities[activity.ID] = activity
	case crm.EventActivityDeleted:
		if _, inFlight := s.pendingActivities[evt.SubjectID]; inFlight {
			return
		}
		delete(s.activities, evt.SubjectID)
	default:
		return
	}

	s.seenEvents[evt.ID] = struct{}{}
	s.notifications = append(s.notifications, Notification{
		ID:        evt.ID,
		Type:      string(evt.Kind),
		Message:   messageFor(evt),
		CreatedAt: s.now(),
	})
}

// Notifications returns the notification list, newest last. The list is
// unbounded: nothing expires or rotates it.
func (s *Store) Notifications() []Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Notification(nil), s.notifications...)
}

// Unread counts notifications not yet marked read.
func (s *Store) Unread() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, note := range s.notifications {
		if !note.Read {
			n++
		}
	}
	return n
}

// MarkRead flags one notification as read.
func (s *Store) MarkRead(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		if s.notifications[i].ID == id {
			s.notifications[i].Read = true
			return nil
		}
	}
	return fmt.Errorf("clientsync: notification %s not found", id)
}

// MarkAllRead flags every notification as read.
func (s *Store) MarkAllRead() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.notifications {
		s.notifications[i].Read = true
	}
}

func messageFor(evt crm.Event) string {
	switch evt.Kind {
	case crm.EventLeadCreated:
		return "A lead was created"
	case crm.EventLeadUpdated:
		return "A lead was updated"
	case crm.EventLeadDeleted:
		return "A lead was deleted"
	case crm.EventActivityCreated:
		return "An activity was added"
	case crm.EventActivityUpdated:
		return "An activity was updated"
	case crm.EventActivityDeleted:
		return "An activity was removed"
	default:
		return string(evt.Kind)
	}
}
