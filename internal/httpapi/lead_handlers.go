package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"leadflow.org/internal/audit"
	"leadflow.org/internal/crm"
	"leadflow.org/internal/ids"
)

// originContext tags the request context with the caller's push session so
// the hub does not echo the resulting event back to it.
func originContext(r *http.Request) context.Context {
	return crm.ContextWithOrigin(r.Context(), strings.TrimSpace(r.Header.Get("X-Session-ID")))
}

func (a *API) handleLeadsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		a.listLeads(w, r)
	case http.MethodPost:
		a.createLead(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleLeadResource(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/v1/leads/")
	if path == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	if strings.HasSuffix(path, "/activities") {
		id := strings.TrimSuffix(strings.TrimSuffix(path, "/activities"), "/")
		if !ids.IsValid(id) {
			writeError(w, r, http.StatusNotFound, "lead not found")
			return
		}
		a.handleLeadActivities(w, r, id)
		return
	}

	if strings.Contains(path, "/") || !ids.IsValid(path) {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getLead(w, r, path)
	case http.MethodPatch:
		a.updateLead(w, r, path)
	case http.MethodDelete:
		a.deleteLead(w, r, path)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) createLead(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}

	var req crm.LeadInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	lead, err := a.crm.CreateLead(originContext(r), p, req)
	if err != nil {
		handleCRMError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "lead.create", map[string]any{
		"lead_id": lead.ID,
	})

	w.Header().Set("Location", "/v1/leads/"+lead.ID)
	writeJSON(w, http.StatusCreated, lead)
}

func (a *API) getLead(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	lead, err := a.crm.GetLead(r.Context(), p, id)
	if err != nil {
		handleCRMError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, lead)
}

func (a *API) listLeads(w http.ResponseWriter, r *http.Request) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}

	q := r.URL.Query()
	filter := crm.LeadFilter{
		Status:    crm.LeadStatus(strings.TrimSpace(q.Get("status"))),
		Source:    crm.LeadSource(strings.TrimSpace(q.Get("source"))),
		Search:    strings.TrimSpace(q.Get("search")),
		SortBy:    strings.TrimSpace(q.Get("sort_by")),
		SortOrder: strings.TrimSpace(q.Get("sort_order")),
	}
	if q.Get("owner") != "" {
		// Honored for elevated callers only; the service scopes everyone
		// else to their own leads regardless.
		filter.Owner = strings.TrimSpace(q.Get("owner"))
	}
	var err error
	if filter.Page, err = parseIntParam(q.Get("page"), 1); err != nil {
		writeError(w, r, http.StatusBadRequest, "page must be a positive integer")
		return
	}
	if filter.Limit, err = parseIntParam(q.Get("limit"), 10); err != nil {
		writeError(w, r, http.StatusBadRequest, "limit must be a positive integer")
		return
	}

	page, err := a.crm.ListLeads(r.Context(), p, filter)
	if err != nil {
		handleCRMError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (a *API) updateLead(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}

	var patch crm.LeadPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	lead, err := a.crm.UpdateLead(originContext(r), p, id, patch)
	if err != nil {
		handleCRMError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "lead.update", map[string]any{
		"lead_id": lead.ID,
	})
	writeJSON(w, http.StatusOK, lead)
}

func (a *API) deleteLead(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}

	if err := a.crm.DeleteLead(originContext(r), p, id); err != nil {
		handleCRMError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "lead.delete", map[string]any{
		"lead_id": id,
	})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLeadActivities(w http.ResponseWriter, r *http.Request, leadID string) {
	switch r.Method {
	case http.MethodGet:
		a.listActivities(w, r, leadID)
	case http.MethodPost:
		a.createActivity(w, r, leadID)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) listActivities(w http.ResponseWriter, r *http.Request, leadID string) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	activities, err := a.crm.ListActivities(r.Context(), p, leadID)
	if err != nil {
		handleCRMError(w, r, err)
		return
	}
	if activities == nil {
		activities = []crm.Activity{}
	}
	writeJSON(w, http.StatusOK, activities)
}

func (a *API) createActivity(w http.ResponseWriter, r *http.Request, leadID string) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}

	var req crm.ActivityInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	activity, err := a.crm.CreateActivity(originContext(r), p, leadID, req)
	if err != nil {
		handleCRMError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "activity.create", map[string]any{
		"activity_id": activity.ID,
		"lead_id":     leadID,
	})

	w.Header().Set("Location", "/v1/activities/"+activity.ID)
	writeJSON(w, http.StatusCreated, activity)
}

func parseIntParam(raw string, def int) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil || val < 1 {
		return 0, errors.New("invalid integer parameter")
	}
	return val, nil
}
