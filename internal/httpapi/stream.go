package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"leadflow.org/internal/session"
)

type ticketResponse struct {
	Ticket string `json:"ticket"`
}

// handleStreamTicket trades the caller's bearer token for a short-lived
// one-time connect ticket.
func (a *API) handleStreamTicket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}
	if a.tickets == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}

	ticket, err := a.tickets.Issue(r.Context(), p)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "ticket issue failed")
		return
	}
	writeJSON(w, http.StatusOK, ticketResponse{Ticket: ticket})
}

// Stream handles Server-Sent Events for domain events. The client connects
// with ?ticket= obtained from /v1/stream/ticket and receives the events its
// principal is entitled to see. The response also carries X-Session-ID; the
// client echoes it on mutations so its own events are not pushed back.
func (a *API) Stream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	if a.hub == nil || a.tickets == nil {
		writeError(w, r, http.StatusServiceUnavailable, "streaming disabled")
		return
	}

	ticket := strings.TrimSpace(r.URL.Query().Get("ticket"))
	if ticket == "" {
		writeError(w, r, http.StatusUnauthorized, "ticket is required")
		return
	}
	principal, err := a.tickets.Redeem(r.Context(), ticket)
	if err != nil {
		if errors.Is(err, session.ErrTicketInvalid) {
			writeError(w, r, http.StatusUnauthorized, "ticket invalid or expired")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "ticket redeem failed")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sub := a.hub.Subscribe(ctx, principal)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Session-ID", sub.ID)

	// Send an initial comment to establish the stream
	_, _ = w.Write([]byte(": stream started\n\n"))
	flusher.Flush()

	for event := range sub.Events {
		payload, err := json.Marshal(event)
		if err != nil {
			continue
		}
		_, _ = w.Write([]byte("event: "))
		_, _ = w.Write([]byte(event.Kind))
		_, _ = w.Write([]byte("\ndata: "))
		_, _ = w.Write(payload)
		_, _ = w.Write([]byte("\n\n"))
		flusher.Flush()
	}
}
