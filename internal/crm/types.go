package crm

import (
	"errors"
	"time"
)

// LeadStatus tracks where a lead sits in the pipeline. Any status may follow
// any other; no transition graph is enforced.
type LeadStatus string

const (
	StatusNew         LeadStatus = "new"
	StatusContacted   LeadStatus = "contacted"
	StatusQualified   LeadStatus = "qualified"
	StatusProposal    LeadStatus = "proposal"
	StatusNegotiation LeadStatus = "negotiation"
	StatusWon         LeadStatus = "won"
	StatusLost        LeadStatus = "lost"
)

// LeadSource records how the lead entered the pipeline.
type LeadSource string

const (
	SourceWebsite     LeadSource = "website"
	SourceReferral    LeadSource = "referral"
	SourceSocialMedia LeadSource = "social_media"
	SourceEmail       LeadSource = "email"
	SourcePhone       LeadSource = "phone"
	SourceOther       LeadSource = "other"
)

// ActivityType classifies an activity attached to a lead.
type ActivityType string

const (
	ActivityNote    ActivityType = "note"
	ActivityCall    ActivityType = "call"
	ActivityMeeting ActivityType = "meeting"
	ActivityEmail   ActivityType = "email"
	ActivityTask    ActivityType = "task"
)

var validStatuses = map[LeadStatus]struct{}{
	StatusNew: {}, StatusContacted: {}, StatusQualified: {}, StatusProposal: {},
	StatusNegotiation: {}, StatusWon: {}, StatusLost: {},
}

var validSources = map[LeadSource]struct{}{
	SourceWebsite: {}, SourceReferral: {}, SourceSocialMedia: {},
	SourceEmail: {}, SourcePhone: {}, SourceOther: {},
}

var validActivityTypes = map[ActivityType]struct{}{
	ActivityNote: {}, ActivityCall: {}, ActivityMeeting: {},
	ActivityEmail: {}, ActivityTask: {},
}

func (s LeadStatus) Valid() bool {
	_, ok := validStatuses[s]
	return ok
}

func (s LeadSource) Valid() bool {
	_, ok := validSources[s]
	return ok
}

func (t ActivityType) Valid() bool {
	_, ok := validActivityTypes[t]
	return ok
}

// Lead is the primary sales record. Exactly one owner at all times.
type Lead struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Email     string     `json:"email"`
	Phone     string     `json:"phone,omitempty"`
	Company   string     `json:"company,omitempty"`
	Source    LeadSource `json:"source"`
	Status    LeadStatus `json:"status"`
	Value     int64      `json:"value"`
	Notes     string     `json:"notes,omitempty"`
	Owner     string     `json:"owner"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Activity is a dated interaction attached to a lead. Its authorization is
// derived from the parent lead (create/list) or its author (update/delete),
// never stored redundantly.
type Activity struct {
	ID            string       `json:"id"`
	Lead          string       `json:"lead"`
	CreatedBy     string       `json:"created_by"`
	Type          ActivityType `json:"type"`
	Title         string       `json:"title"`
	Description   string       `json:"description"`
	ScheduledDate *time.Time   `json:"scheduled_date,omitempty"`
	CreatedAt     time.Time    `json:"created_at"`
	UpdatedAt     time.Time    `json:"updated_at"`
}

// LeadPatch carries a partial lead update. Nil fields are left untouched.
// Ownership is not patchable: an owner value is accepted on the wire but
// the mutation service discards it before the store ever sees the patch,
// and the guard always evaluates the stored owner.
type LeadPatch struct {
	Name    *string     `json:"name"`
	Email   *string     `json:"email"`
	Phone   *string     `json:"phone"`
	Company *string     `json:"company"`
	Source  *LeadSource `json:"source"`
	Status  *LeadStatus `json:"status"`
	Value   *int64      `json:"value"`
	Notes   *string     `json:"notes"`
	Owner   *string     `json:"owner"`
}

// ActivityPatch carries a partial activity update.
type ActivityPatch struct {
	Type          *ActivityType `json:"type"`
	Title         *string       `json:"title"`
	Description   *string       `json:"description"`
	ScheduledDate *time.Time    `json:"scheduled_date"`
}

// LeadFilter scopes and paginates lead listings.
type LeadFilter struct {
	Owner     string
	Status    LeadStatus
	Source    LeadSource
	Search    string
	Page      int
	Limit     int
	SortBy    string
	SortOrder string
}

// Pagination describes one page of a listing.
type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"total_pages"`
}

// LeadPage is a page of leads plus its pagination envelope.
type LeadPage struct {
	Leads      []Lead     `json:"leads"`
	Pagination Pagination `json:"pagination"`
}

var (
	ErrNotFound         = errors.New("resource not found")
	ErrForbidden        = errors.New("not authorized for this resource")
	ErrValidation       = errors.New("invalid input")
	ErrStoreUnavailable = errors.New("store unavailable")
)
