package crm

import "context"

// Store is the persistence contract the mutation service relies on. Every
// operation is atomic per document and maps an absent row to ErrNotFound.
// Nothing outside the mutation service may write through it, otherwise the
// authorization step could be bypassed.
type Store interface {
	GetLead(ctx context.Context, id string) (Lead, error)
	ListLeads(ctx context.Context, filter LeadFilter) (LeadPage, error)
	InsertLead(ctx context.Context, lead Lead) error
	UpdateLead(ctx context.Context, id string, patch LeadPatch) (Lead, error)
	DeleteLead(ctx context.Context, id string) error

	GetActivity(ctx context.Context, id string) (Activity, error)
	ListActivities(ctx context.Context, leadID string) ([]Activity, error)
	InsertActivity(ctx context.Context, activity Activity) error
	UpdateActivity(ctx context.Context, id string, patch ActivityPatch) (Activity, error)
	DeleteActivity(ctx context.Context, id string) error

	// LeadStats aggregates dashboard counters. An empty owner aggregates
	// across all owners.
	LeadStats(ctx context.Context, owner string) (Stats, error)

	// RecentActivities returns the newest activities visible to owner,
	// most recent first. Visible means the parent lead belongs to owner or
	// the activity was authored by owner; an empty owner spans everything.
	RecentActivities(ctx context.Context, owner string, limit int) ([]Activity, error)

	Ping(ctx context.Context) error
}

// Stats is the aggregate counter block of the dashboard.
type Stats struct {
	TotalLeads int                `json:"total_leads"`
	TotalValue int64              `json:"total_value"`
	ByStatus   map[LeadStatus]int `json:"by_status"`
	BySource   map[LeadSource]int `json:"by_source"`
}

// Overview is the full dashboard payload.
type Overview struct {
	Stats            Stats      `json:"stats"`
	RecentActivities []Activity `json:"recent_activities"`
}
