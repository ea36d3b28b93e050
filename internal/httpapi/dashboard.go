package httpapi

import "net/http"

func (a *API) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	p, ok := principalFromRequest(w, r)
	if !ok {
		return
	}
	overview, err := a.crm.Dashboard(r.Context(), p)
	if err != nil {
		handleCRMError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, overview)
}
