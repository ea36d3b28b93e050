package httpapi

import (
	"net/http"
	"strings"

	"leadflow.org/internal/audit"
	"leadflow.org/internal/crm"
	"leadflow.org/internal/ids"
)

func (a *API) handleActivityResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/activities/")
	if strings.Contains(id, "/") || !ids.IsValid(id) {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		a.getActivity(w, r, id)
	case http.MethodPatch:
		a.updateActivity(w, r, id)
	case http.MethodDelete:
		a.deleteActivity(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPatch, http.MethodDelete)
	}
}

func (a *API) getActivity(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	activity, err := a.crm.GetActivity(r.Context(), p, id)
	if err != nil {
		handleCRMError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, activity)
}

func (a *API) updateActivity(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}

	var patch crm.ActivityPatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	activity, err := a.crm.UpdateActivity(originContext(r), p, id, patch)
	if err != nil {
		handleCRMError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "activity.update", map[string]any{
		"activity_id": activity.ID,
	})
	writeJSON(w, http.StatusOK, activity)
}

func (a *API) deleteActivity(w http.ResponseWriter, r *http.Request, id string) {
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}

	if err := a.crm.DeleteActivity(originContext(r), p, id); err != nil {
		handleCRMError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "activity.delete", map[string]any{
		"activity_id": id,
	})
	w.WriteHeader(http.StatusNoContent)
}
