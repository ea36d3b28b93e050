// Package hub fans domain events out to live push sessions. Delivery is
// fire-and-forget: there is no acknowledgment, no retry and no backlog, and a
// session disconnected at emission time permanently misses the event.
package hub

import (
	"context"
	"sync"

	"leadflow.org/internal/auth"
	"leadflow.org/internal/crm"
	"leadflow.org/internal/ids"
	"leadflow.org/internal/obs"
)

type session struct {
	id        string
	principal auth.Principal
	ch        chan crm.Event
}

// Hub is the in-process broadcaster between the mutation service and
// connected clients. It implements crm.EventSink.
type Hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

// New initialises an empty hub.
func New() *Hub {
	return &Hub{sessions: make(map[string]*session)}
}

var _ crm.EventSink = (*Hub)(nil)

// Subscription is a live push session handle.
type Subscription struct {
	// ID identifies this session. A client echoes it on mutations so its
	// own events are not pushed back to it.
	ID string
	// Events receives the events this session is entitled to see. Closed
	// when the subscribing context ends.
	Events <-chan crm.Event
}

// Subscribe registers a session for the given principal. The session is
// removed and its channel closed when ctx ends.
func (h *Hub) Subscribe(ctx context.Context, p auth.Principal) Subscription {
	s := &session{
		id:        ids.New(),
		principal: p,
		ch:        make(chan crm.Event, 16),
	}

	h.mu.Lock()
	h.sessions[s.id] = s
	h.mu.Unlock()
	obs.HubSessions.Inc()

	go func() {
		<-ctx.Done()
		h.mu.Lock()
		delete(h.sessions, s.id)
		close(s.ch)
		h.mu.Unlock()
		obs.HubSessions.Dec()
	}()

	return Subscription{ID: s.id, Events: s.ch}
}

// Publish fans the event out to every entitled session except the one that
// caused it. The audience check runs against each session's principal at
// delivery time, with the same ownership rule that guards reads, so push
// visibility can never drift from query visibility. Publish never blocks:
// a slow subscriber's event is dropped.
func (h *Hub) Publish(evt crm.Event) {
	obs.HubEventsPublished.Inc()

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.sessions {
		if s.id == evt.SessionID {
			continue
		}
		if d := auth.Authorize(s.principal, auth.OpRead, auth.OwnerRef{OwnerID: evt.LeadOwner}); !d.Allowed {
			continue
		}
		select {
		case s.ch <- evt:
			obs.HubEventsDelivered.Inc()
		default:
			// Drop when the subscriber is slow to avoid blocking.
			obs.HubEventsDropped.Inc()
		}
	}
}

// Sessions reports the number of live sessions.
func (h *Hub) Sessions() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}
