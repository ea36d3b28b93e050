package crm

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// InMemory implements Store with in-process concurrency safety. It backs
// tests and single-node deployments without Postgres.
type InMemory struct {
	mu         sync.RWMutex
	leads      map[string]*Lead
	activities map[string]*Activity
}

// NewInMemory creates an empty store.
func NewInMemory() *InMemory {
	return &InMemory{
		leads:      make(map[string]*Lead),
		activities: make(map[string]*Activity),
	}
}

var _ Store = (*InMemory)(nil)

func (s *InMemory) GetLead(ctx context.Context, id string) (Lead, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lead, ok := s.leads[id]
	if !ok {
		return Lead{}, ErrNotFound
	}
	return *lead, nil
}

func (s *InMemory) ListLeads(ctx context.Context, filter LeadFilter) (LeadPage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []Lead
	for _, lead := range s.leads {
		if filter.Owner != "" && lead.Owner != filter.Owner {
			continue
		}
		if filter.Status != "" && lead.Status != filter.Status {
			continue
		}
		if filter.Source != "" && lead.Source != filter.Source {
			continue
		}
		if filter.Search != "" && !matchesSearch(lead, filter.Search) {
			continue
		}
		matched = append(matched, *lead)
	}

	sortLeads(matched, filter.SortBy, filter.SortOrder)

	page, limit := normalizePage(filter.Page, filter.Limit)
	total := len(matched)
	start := (page - 1) * limit
	if start > total {
		start = total
	}
	end := start + limit
	if end > total {
		end = total
	}

	return LeadPage{
		Leads: matched[start:end],
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			Total:      total,
			TotalPages: (total + limit - 1) / limit,
		},
	}, nil
}

func (s *InMemory) InsertLead(ctx context.Context, lead Lead) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := lead
	s.leads[lead.ID] = &stored
	return nil
}

func (s *InMemory) UpdateLead(ctx context.Context, id string, patch LeadPatch) (Lead, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	lead, ok := s.leads[id]
	if !ok {
		return Lead{}, ErrNotFound
	}
	if patch.Name != nil {
		lead.Name = *patch.Name
	}
	if patch.Email != nil {
		lead.Email = *patch.Email
	}
	if patch.Phone != nil {
		lead.Phone = *patch.Phone
	}
	if patch.Company != nil {
		lead.Company = *patch.Company
	}
	if patch.Source != nil {
		lead.Source = *patch.Source
	}
	if patch.Status != nil {
		lead.Status = *patch.Status
	}
	if patch.Value != nil {
		lead.Value = *patch.Value
	}
	if patch.Notes != nil {
		lead.Notes = *patch.Notes
	}
	lead.UpdatedAt = time.Now().UTC()
	return *lead, nil
}

func (s *InMemory) DeleteLead(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.leads[id]; !ok {
		return ErrNotFound
	}
	// Activities are deliberately not cascade-deleted; orphans are allowed.
	delete(s.leads, id)
	return nil
}

func (s *InMemory) GetActivity(ctx context.Context, id string) (Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	activity, ok := s.activities[id]
	if !ok {
		return Activity{}, ErrNotFound
	}
	return *activity, nil
}

func (s *InMemory) ListActivities(ctx context.Context, leadID string) ([]Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var res []Activity
	for _, activity := range s.activities {
		if activity.Lead == leadID {
			res = append(res, *activity)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		return res[i].CreatedAt.After(res[j].CreatedAt)
	})
	return res, nil
}

func (s *InMemory) InsertActivity(ctx context.Context, activity Activity) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored := activity
	s.activities[activity.ID] = &stored
	return nil
}

func (s *InMemory) UpdateActivity(ctx context.Context, id string, patch ActivityPatch) (Activity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	activity, ok := s.activities[id]
	if !ok {
		return Activity{}, ErrNotFound
	}
	if patch.Type != nil {
		activity.Type = *patch.Type
	}
	if patch.Title != nil {
		activity.Title = *patch.Title
	}
	if patch.Description != nil {
		activity.Description = *patch.Description
	}
	if patch.ScheduledDate != nil {
		scheduled := *patch.ScheduledDate
		activity.ScheduledDate = &scheduled
	}
	activity.UpdatedAt = time.Now().UTC()
	return *activity, nil
}

func (s *InMemory) DeleteActivity(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.activities[id]; !ok {
		return ErrNotFound
	}
	delete(s.activities, id)
	return nil
}

func (s *InMemory) LeadStats(ctx context.Context, owner string) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	stats := Stats{
		ByStatus: make(map[LeadStatus]int),
		BySource: make(map[LeadSource]int),
	}
	for _, lead := range s.leads {
		if owner != "" && lead.Owner != owner {
			continue
		}
		stats.TotalLeads++
		stats.TotalValue += lead.Value
		stats.ByStatus[lead.Status]++
		stats.BySource[lead.Source]++
	}
	return stats, nil
}

func (s *InMemory) RecentActivities(ctx context.Context, owner string, limit int) ([]Activity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Activity
	for _, act := range s.activities {
		if owner != "" && act.CreatedBy != owner {
			lead, ok := s.leads[act.Lead]
			if !ok || lead.Owner != owner {
				continue
			}
		}
		out = append(out, *act)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *InMemory) Ping(ctx context.Context) error { return nil }

func matchesSearch(lead *Lead, term string) bool {
	term = strings.ToLower(term)
	return strings.Contains(strings.ToLower(lead.Name), term) ||
		strings.Contains(strings.ToLower(lead.Email), term) ||
		strings.Contains(strings.ToLower(lead.Company), term)
}

func sortLeads(leads []Lead, sortBy, order string) {
	asc := order == "asc"
	less := func(i, j int) bool {
		var cmp bool
		switch sortBy {
		case "name":
			cmp = leads[i].Name < leads[j].Name
		case "value":
			cmp = leads[i].Value < leads[j].Value
		case "updated_at":
			cmp = leads[i].UpdatedAt.Before(leads[j].UpdatedAt)
		default: // created_at
			cmp = leads[i].CreatedAt.Before(leads[j].CreatedAt)
		}
		if asc {
			return cmp
		}
		return !cmp
	}
	sort.SliceStable(leads, less)
}

func normalizePage(page, limit int) (int, int) {
	if page <= 0 {
		page = 1
	}
	if limit <= 0 || limit > 100 {
		limit = 10
	}
	return page, limit
}
