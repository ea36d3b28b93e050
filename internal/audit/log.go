// Package audit writes structured audit events for security-relevant actions:
// registrations, logins, and every mutation of an owned resource.
package audit

import (
	"context"
	"errors"
	"strings"

	"leadflow.org/internal/auth"
	"leadflow.org/internal/obs"
)

type ctxKey string

const requestIDKey ctxKey = "audit_request_id"

// WithRequestID attaches the request identifier used to correlate audit
// entries with request logs.
func WithRequestID(ctx context.Context, requestID string) context.Context {
	requestID = strings.TrimSpace(requestID)
	if requestID == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, requestID)
}

func requestIDFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if v, ok := ctx.Value(requestIDKey).(string); ok {
		return v
	}
	return ""
}

// LogEvent emits one audit line. The acting principal and request id are read
// from ctx so handlers only pass the event name and its domain fields.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}

	entry := map[string]any{
		"type":  "audit",
		"event": event,
	}
	if rid := requestIDFromContext(ctx); rid != "" {
		entry["request_id"] = rid
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		entry["user_id"] = p.ID
		entry["role"] = string(p.Role)
	}

	clean := make(map[string]any, len(fields))
	for k, v := range fields {
		clean[k] = v
	}
	entry["fields"] = clean

	obs.LogRequest(entry)
	return nil
}
