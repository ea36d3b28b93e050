package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"leadflow.org/internal/auth"
	"leadflow.org/internal/ids"
)

// Service is the single mutation path for leads and activities. Every write
// runs validation, then existence, then authorization, in that order, so a
// caller probing a missing resource learns "not found" rather than whether it
// would have been allowed. Successful mutations emit exactly one event.
type Service struct {
	store Store
	sink  EventSink
	now   func() time.Time
}

// Option customizes a Service.
type Option func(*Service)

// WithEventSink routes post-commit events to sink instead of dropping them.
func WithEventSink(sink EventSink) Option {
	return func(s *Service) {
		if sink != nil {
			s.sink = sink
		}
	}
}

// WithClock overrides the wall clock, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires a Service over the given store.
func NewService(store Store, opts ...Option) *Service {
	s := &Service{
		store: store,
		sink:  discardSink{},
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type originKey struct{}

// ContextWithOrigin tags ctx with the push session that caused the mutation,
// so the hub can avoid echoing the resulting event back to it.
func ContextWithOrigin(ctx context.Context, sessionID string) context.Context {
	if sessionID == "" {
		return ctx
	}
	return context.WithValue(ctx, originKey{}, sessionID)
}

func originFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(originKey{}).(string); ok {
		return v
	}
	return ""
}

// LeadInput carries the fields a client may set when creating a lead. Owner
// is accepted on the wire but always discarded: the created lead belongs to
// the caller no matter what the payload claims.
type LeadInput struct {
	Name    string     `json:"name"`
	Email   string     `json:"email"`
	Phone   string     `json:"phone"`
	Company string     `json:"company"`
	Source  LeadSource `json:"source"`
	Status  LeadStatus `json:"status"`
	Value   int64      `json:"value"`
	Notes   string     `json:"notes"`
	Owner   string     `json:"owner"`
}

// ActivityInput carries the fields a client may set when creating an
// activity. CreatedBy is always the caller.
type ActivityInput struct {
	Type          ActivityType `json:"type"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	ScheduledDate *time.Time   `json:"scheduled_date"`
}

// CreateLead records a new lead owned by the caller.
func (s *Service) CreateLead(ctx context.Context, p auth.Principal, in LeadInput) (Lead, error) {
	if strings.TrimSpace(in.Name) == "" {
		return Lead{}, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if strings.TrimSpace(in.Email) == "" {
		return Lead{}, fmt.Errorf("%w: email is required", ErrValidation)
	}
	if in.Value < 0 {
		return Lead{}, fmt.Errorf("%w: value must not be negative", ErrValidation)
	}
	if in.Status == "" {
		in.Status = StatusNew
	}
	if in.Source == "" {
		in.Source = SourceOther
	}
	if !in.Status.Valid() {
		return Lead{}, fmt.Errorf("%w: unknown status %q", ErrValidation, in.Status)
	}
	if !in.Source.Valid() {
		return Lead{}, fmt.Errorf("%w: unknown source %q", ErrValidation, in.Source)
	}

	now := s.now()
	lead := Lead{
		ID:        ids.New(),
		Name:      strings.TrimSpace(in.Name),
		Email:     strings.TrimSpace(in.Email),
		Phone:     strings.TrimSpace(in.Phone),
		Company:   strings.TrimSpace(in.Company),
		Source:    in.Source,
		Status:    in.Status,
		Value:     in.Value,
		Notes:     in.Notes,
		Owner:     p.ID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.store.InsertLead(ctx, lead); err != nil {
		return Lead{}, err
	}
	s.emit(ctx, EventLeadCreated, lead.ID, lead.ID, lead.Owner, lead)
	return lead, nil
}

// GetLead returns a single lead the caller is authorized to read.
func (s *Service) GetLead(ctx context.Context, p auth.Principal, id string) (Lead, error) {
	lead, err := s.store.GetLead(ctx, id)
	if err != nil {
		return Lead{}, err
	}
	if d := auth.Authorize(p, auth.OpRead, auth.OwnerRef{OwnerID: lead.Owner}); !d.Allowed {
		return Lead{}, ErrForbidden
	}
	return lead, nil
}

// ListLeads returns a page of leads visible to the caller. Non-elevated
// callers only ever see their own leads, whatever filter they pass.
func (s *Service) ListLeads(ctx context.Context, p auth.Principal, filter LeadFilter) (LeadPage, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return LeadPage{}, fmt.Errorf("%w: unknown status %q", ErrValidation, filter.Status)
	}
	if filter.Source != "" && !filter.Source.Valid() {
		return LeadPage{}, fmt.Errorf("%w: unknown source %q", ErrValidation, filter.Source)
	}
	if !p.Role.Elevated() {
		filter.Owner = p.ID
	}
	page, err := s.store.ListLeads(ctx, filter)
	if err != nil {
		return LeadPage{}, err
	}
	// An empty page serializes as [], never null.
	if page.Leads == nil {
		page.Leads = []Lead{}
	}
	return page, nil
}

// UpdateLead applies a partial update after authorizing against the stored
// owner. The owner itself can never be changed this way.
func (s *Service) UpdateLead(ctx context.Context, p auth.Principal, id string, patch LeadPatch) (Lead, error) {
	patch.Owner = nil
	if err := validateLeadPatch(patch); err != nil {
		return Lead{}, err
	}
	current, err := s.store.GetLead(ctx, id)
	if err != nil {
		return Lead{}, err
	}
	if d := auth.Authorize(p, auth.OpUpdate, auth.OwnerRef{OwnerID: current.Owner}); !d.Allowed {
		return Lead{}, ErrForbidden
	}
	updated, err := s.store.UpdateLead(ctx, id, patch)
	if err != nil {
		return Lead{}, err
	}
	s.emit(ctx, EventLeadUpdated, updated.ID, updated.ID, updated.Owner, updated)
	return updated, nil
}

// DeleteLead removes a lead. Its activities are left in place.
func (s *Service) DeleteLead(ctx context.Context, p auth.Principal, id string) error {
	current, err := s.store.GetLead(ctx, id)
	if err != nil {
		return err
	}
	if d := auth.Authorize(p, auth.OpDelete, auth.OwnerRef{OwnerID: current.Owner}); !d.Allowed {
		return ErrForbidden
	}
	if err := s.store.DeleteLead(ctx, id); err != nil {
		return err
	}
	s.emit(ctx, EventLeadDeleted, current.ID, current.ID, current.Owner, struct {
		ID string `json:"id"`
	}{current.ID})
	return nil
}

// CreateActivity attaches an activity to a lead the caller may write to. A
// missing parent lead surfaces as not found before any permission check.
func (s *Service) CreateActivity(ctx context.Context, p auth.Principal, leadID string, in ActivityInput) (Activity, error) {
	if !in.Type.Valid() {
		return Activity{}, fmt.Errorf("%w: unknown activity type %q", ErrValidation, in.Type)
	}
	if strings.TrimSpace(in.Title) == "" {
		return Activity{}, fmt.Errorf("%w: title is required", ErrValidation)
	}
	if strings.TrimSpace(in.Description) == "" {
		return Activity{}, fmt.Errorf("%w: description is required", ErrValidation)
	}
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return Activity{}, err
	}
	if d := auth.Authorize(p, auth.OpCreate, auth.OwnerRef{OwnerID: lead.Owner}); !d.Allowed {
		return Activity{}, ErrForbidden
	}

	now := s.now()
	activity := Activity{
		ID:            ids.New(),
		Lead:          lead.ID,
		CreatedBy:     p.ID,
		Type:          in.Type,
		Title:         strings.TrimSpace(in.Title),
		Description:   strings.TrimSpace(in.Description),
		ScheduledDate: in.ScheduledDate,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.InsertActivity(ctx, activity); err != nil {
		return Activity{}, err
	}
	s.emit(ctx, EventActivityCreated, activity.ID, lead.ID, lead.Owner, activity)
	return activity, nil
}

// GetActivity returns a single activity. Readable by its author, by the
// parent lead's owner and by elevated roles.
func (s *Service) GetActivity(ctx context.Context, p auth.Principal, id string) (Activity, error) {
	activity, err := s.store.GetActivity(ctx, id)
	if err != nil {
		return Activity{}, err
	}
	if d := auth.Authorize(p, auth.OpRead, auth.OwnerRef{OwnerID: activity.CreatedBy}); d.Allowed {
		return activity, nil
	}
	if lead, err := s.store.GetLead(ctx, activity.Lead); err == nil {
		if d := auth.Authorize(p, auth.OpRead, auth.OwnerRef{OwnerID: lead.Owner}); d.Allowed {
			return activity, nil
		}
	}
	return Activity{}, ErrForbidden
}

// ListActivities lists a lead's activities, authorized against the lead's
// owner.
func (s *Service) ListActivities(ctx context.Context, p auth.Principal, leadID string) ([]Activity, error) {
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return nil, err
	}
	if d := auth.Authorize(p, auth.OpRead, auth.OwnerRef{OwnerID: lead.Owner}); !d.Allowed {
		return nil, ErrForbidden
	}
	return s.store.ListActivities(ctx, leadID)
}

// UpdateActivity applies a partial update. Authorization runs against the
// activity's author, not the parent lead's owner.
func (s *Service) UpdateActivity(ctx context.Context, p auth.Principal, id string, patch ActivityPatch) (Activity, error) {
	if err := validateActivityPatch(patch); err != nil {
		return Activity{}, err
	}
	current, err := s.store.GetActivity(ctx, id)
	if err != nil {
		return Activity{}, err
	}
	if d := auth.Authorize(p, auth.OpUpdate, auth.OwnerRef{OwnerID: current.CreatedBy}); !d.Allowed {
		return Activity{}, ErrForbidden
	}
	updated, err := s.store.UpdateActivity(ctx, id, patch)
	if err != nil {
		return Activity{}, err
	}
	s.emit(ctx, EventActivityUpdated, updated.ID, updated.Lead, s.leadOwner(ctx, updated.Lead, updated.CreatedBy), updated)
	return updated, nil
}

// DeleteActivity removes an activity, authorized against its author.
func (s *Service) DeleteActivity(ctx context.Context, p auth.Principal, id string) error {
	current, err := s.store.GetActivity(ctx, id)
	if err != nil {
		return err
	}
	if d := auth.Authorize(p, auth.OpDelete, auth.OwnerRef{OwnerID: current.CreatedBy}); !d.Allowed {
		return ErrForbidden
	}
	if err := s.store.DeleteActivity(ctx, id); err != nil {
		return err
	}
	s.emit(ctx, EventActivityDeleted, current.ID, current.Lead, s.leadOwner(ctx, current.Lead, current.CreatedBy), struct {
		ID string `json:"id"`
	}{current.ID})
	return nil
}

const dashboardRecentLimit = 10

// Dashboard aggregates pipeline counters and the latest activity feed over
// the caller's visible leads.
func (s *Service) Dashboard(ctx context.Context, p auth.Principal) (Overview, error) {
	owner := p.ID
	if p.Role.Elevated() {
		owner = ""
	}
	stats, err := s.store.LeadStats(ctx, owner)
	if err != nil {
		return Overview{}, err
	}
	recent, err := s.store.RecentActivities(ctx, owner, dashboardRecentLimit)
	if err != nil {
		return Overview{}, err
	}
	if recent == nil {
		recent = []Activity{}
	}
	return Overview{Stats: stats, RecentActivities: recent}, nil
}

// leadOwner resolves the owner snapshot for an activity event. The parent
// lead may have been deleted already; the activity's author then stands in
// as the audience anchor.
func (s *Service) leadOwner(ctx context.Context, leadID, fallback string) string {
	lead, err := s.store.GetLead(ctx, leadID)
	if err != nil {
		return fallback
	}
	return lead.Owner
}

func (s *Service) emit(ctx context.Context, kind EventKind, subjectID, leadID, leadOwner string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		raw = nil
	}
	s.sink.Publish(Event{
		ID:         ids.New(),
		Kind:       kind,
		SubjectID:  subjectID,
		LeadID:     leadID,
		LeadOwner:  leadOwner,
		SessionID:  originFromContext(ctx),
		Payload:    raw,
		OccurredAt: s.now(),
	})
}

func validateLeadPatch(patch LeadPatch) error {
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return fmt.Errorf("%w: name must not be empty", ErrValidation)
	}
	if patch.Email != nil && strings.TrimSpace(*patch.Email) == "" {
		return fmt.Errorf("%w: email must not be empty", ErrValidation)
	}
	if patch.Status != nil && !patch.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrValidation, *patch.Status)
	}
	if patch.Source != nil && !patch.Source.Valid() {
		return fmt.Errorf("%w: unknown source %q", ErrValidation, *patch.Source)
	}
	if patch.Value != nil && *patch.Value < 0 {
		return fmt.Errorf("%w: value must not be negative", ErrValidation)
	}
	return nil
}

func validateActivityPatch(patch ActivityPatch) error {
	if patch.Type != nil && !patch.Type.Valid() {
		return fmt.Errorf("%w: unknown activity type %q", ErrValidation, *patch.Type)
	}
	if patch.Title != nil && strings.TrimSpace(*patch.Title) == "" {
		return fmt.Errorf("%w: title must not be empty", ErrValidation)
	}
	if patch.Description != nil && strings.TrimSpace(*patch.Description) == "" {
		return fmt.Errorf("%w: description must not be empty", ErrValidation)
	}
	return nil
}
