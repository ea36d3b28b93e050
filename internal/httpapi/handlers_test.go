package httpapi

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"leadflow.org/internal/auth"
	"leadflow.org/internal/crm"
	"leadflow.org/internal/hub"
	"leadflow.org/internal/ids"
)

type apiClient struct {
	baseURL string
	client  *http.Client
	t       *testing.T
}

func newTestAPI(t *testing.T) *apiClient {
	t.Helper()

	t.Setenv("LEADFLOW_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	h := hub.New()
	crmSvc := crm.NewService(crm.NewInMemory(), crm.WithEventSink(h))
	users, err := auth.NewService(auth.NewMemoryUserStore())
	if err != nil {
		t.Fatalf("auth service: %v", err)
	}

	api := New(ReadyProbe{}, "test", crmSvc, users, h, nil)
	api.rateBurst = 100
	api.ratePerSec = 100

	srv := httptest.NewServer(api.Handler())
	t.Cleanup(srv.Close)

	return &apiClient{
		baseURL: srv.URL,
		client:  srv.Client(),
		t:       t,
	}
}

func (c *apiClient) do(method, path string, body any, headers map[string]string) *http.Response {
	c.t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			c.t.Fatalf("marshal body: %v", err)
		}
	}
	req, err := http.NewRequest(method, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("do request: %v", err)
	}
	return resp
}

func (c *apiClient) post(path string, body any, headers map[string]string) *http.Response {
	return c.do(http.MethodPost, path, body, headers)
}

func (c *apiClient) get(path string, params url.Values, headers map[string]string) *http.Response {
	c.t.Helper()
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		c.t.Fatalf("parse url: %v", err)
	}
	if params != nil {
		u.RawQuery = params.Encode()
	}
	req, err := http.NewRequest(http.MethodGet, u.String(), nil)
	if err != nil {
		c.t.Fatalf("new request: %v", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.t.Fatalf("get request: %v", err)
	}
	return resp
}

func (c *apiClient) register(name, email, role string) string {
	c.t.Helper()
	resp := c.post("/v1/auth/register", map[string]any{
		"name":     name,
		"email":    email,
		"password": "secret1",
		"role":     role,
	}, nil)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		c.t.Fatalf("unexpected register status: %d", resp.StatusCode)
	}
	var payload authResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		c.t.Fatalf("decode register response: %v", err)
	}
	if payload.Token == "" {
		c.t.Fatalf("empty token issued")
	}
	return payload.Token
}

func bearerHeader(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func decode[T any](t *testing.T, r *http.Response) T {
	t.Helper()
	defer r.Body.Close()
	var v T
	if err := json.NewDecoder(r.Body).Decode(&v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return v
}

func TestHealthAndInfo(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/healthz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("healthz status: %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["service"] != "leadflow-api" {
		t.Fatalf("unexpected service name: %v", body["service"])
	}

	resp = c.get("/readyz", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("readyz status: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestLeadCRUDFlow(t *testing.T) {
	c := newTestAPI(t)
	token := c.register("Jane", "jane@example.com", "sales_executive")

	resp := c.post("/v1/leads", map[string]any{
		"name":  "Acme Corp",
		"email": "contact@acme.io",
		"value": 5000,
	}, bearerHeader(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create lead status: %d", resp.StatusCode)
	}
	if resp.Header.Get("Location") == "" {
		t.Fatal("expected Location header")
	}
	lead := decode[crm.Lead](t, resp)
	if lead.Status != crm.StatusNew {
		t.Fatalf("expected default status, got %s", lead.Status)
	}

	resp = c.get("/v1/leads/"+lead.ID, nil, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get lead status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPatch, "/v1/leads/"+lead.ID, map[string]any{
		"status": "qualified",
	}, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch lead status: %d", resp.StatusCode)
	}
	updated := decode[crm.Lead](t, resp)
	if updated.Status != crm.StatusQualified {
		t.Fatalf("expected qualified, got %s", updated.Status)
	}

	resp = c.get("/v1/leads", url.Values{"status": {"qualified"}}, bearerHeader(token))
	page := decode[crm.LeadPage](t, resp)
	if page.Pagination.Total != 1 {
		t.Fatalf("expected 1 lead, got %d", page.Pagination.Total)
	}

	resp = c.do(http.MethodDelete, "/v1/leads/"+lead.ID, nil, bearerHeader(token))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete lead status: %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/leads/"+lead.ID, nil, bearerHeader(token))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestOwnershipEnforcedAcrossUsers(t *testing.T) {
	c := newTestAPI(t)
	owner := c.register("Owner", "owner@example.com", "sales_executive")
	peer := c.register("Peer", "peer@example.com", "sales_executive")
	manager := c.register("Manager", "manager@example.com", "manager")

	resp := c.post("/v1/leads", map[string]any{
		"name":  "Private Lead",
		"email": "p@l.io",
	}, bearerHeader(owner))
	lead := decode[crm.Lead](t, resp)

	// A peer cannot read, update or delete someone else's lead.
	resp = c.get("/v1/leads/"+lead.ID, nil, bearerHeader(peer))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("peer get: expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodDelete, "/v1/leads/"+lead.ID, nil, bearerHeader(peer))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("peer delete: expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// The lead is untouched afterwards.
	resp = c.get("/v1/leads/"+lead.ID, nil, bearerHeader(owner))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("lead gone after denied delete: %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Elevated roles pass.
	resp = c.get("/v1/leads/"+lead.ID, nil, bearerHeader(manager))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("manager get: expected 200, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// A missing lead answers 404 even for a caller who owns nothing.
	resp = c.get("/v1/leads/no-such-lead", nil, bearerHeader(peer))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing lead: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// Peers see only their own leads in listings, and an empty page
	// serializes leads as [] rather than null.
	resp = c.get("/v1/leads", nil, bearerHeader(peer))
	raw, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		t.Fatalf("read list body: %v", err)
	}
	var page crm.LeadPage
	if err := json.Unmarshal(raw, &page); err != nil {
		t.Fatalf("decode list body: %v", err)
	}
	if page.Pagination.Total != 0 {
		t.Fatalf("peer list: expected 0 leads, got %d", page.Pagination.Total)
	}
	if !strings.Contains(string(raw), `"leads":[]`) {
		t.Fatalf("empty listing must serialize leads as []: %s", raw)
	}
}

func TestMalformedResourceIDAnswersNotFound(t *testing.T) {
	c := newTestAPI(t)
	token := c.register("Val", "val@example.com", "sales_executive")

	// Path segments that cannot be identifiers never reach the store.
	for _, path := range []string{
		"/v1/leads/not-an-id",
		"/v1/leads/01J0000000000000000000000I", // I is outside the id alphabet
		"/v1/leads/not-an-id/activities",
		"/v1/activities/short",
	} {
		resp := c.get(path, nil, bearerHeader(token))
		if resp.StatusCode != http.StatusNotFound {
			t.Fatalf("%s: expected 404, got %d", path, resp.StatusCode)
		}
		resp.Body.Close()
	}

	// A well-formed but absent id answers the same way.
	resp := c.get("/v1/leads/"+ids.New(), nil, bearerHeader(token))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("absent lead: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestUserListingRequiresElevatedRole(t *testing.T) {
	c := newTestAPI(t)
	sales := c.register("Sales", "sales-list@example.com", "sales_executive")
	manager := c.register("Manager", "manager-list@example.com", "manager")

	resp := c.get("/v1/users", nil, bearerHeader(sales))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("sales listing users: expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/users", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous listing users: expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/users", nil, bearerHeader(manager))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("manager listing users: expected 200, got %d", resp.StatusCode)
	}
	body := decode[struct {
		Users []map[string]any `json:"users"`
	}](t, resp)
	if len(body.Users) != 2 {
		t.Fatalf("expected 2 users, got %d", len(body.Users))
	}
	for _, u := range body.Users {
		if _, ok := u["password_hash"]; ok {
			t.Fatalf("password hash leaked for %v", u["email"])
		}
	}
}

func TestCreateLeadIgnoresCallerSuppliedOwner(t *testing.T) {
	c := newTestAPI(t)

	reg := decode[authResponse](t, c.post("/v1/auth/register", map[string]any{
		"name":     "Jane",
		"email":    "jane2@example.com",
		"password": "secret1",
		"role":     "sales_executive",
	}, nil))
	token := reg.Token

	// An owner field in the payload is accepted and overridden, never honored.
	resp := c.post("/v1/leads", map[string]any{
		"name":  "Injected",
		"email": "x@y.z",
		"owner": "attacker-id",
	}, bearerHeader(token))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	lead := decode[crm.Lead](t, resp)
	if lead.Owner != reg.User.ID {
		t.Fatalf("owner must be the caller %q, got %q", reg.User.ID, lead.Owner)
	}

	// The same holds on update: the patch succeeds, the owner stays put.
	resp = c.do(http.MethodPatch, "/v1/leads/"+lead.ID, map[string]any{
		"owner":  "attacker-id",
		"status": "contacted",
	}, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	patched := decode[crm.Lead](t, resp)
	if patched.Owner != reg.User.ID {
		t.Fatalf("owner must stay %q, got %q", reg.User.ID, patched.Owner)
	}
	if patched.Status != crm.StatusContacted {
		t.Fatalf("patch fields beside owner must apply, got %q", patched.Status)
	}
}

func TestActivityFlowAndAuthorization(t *testing.T) {
	c := newTestAPI(t)
	owner := c.register("Owner", "o2@example.com", "sales_executive")
	peer := c.register("Peer", "p2@example.com", "sales_executive")

	resp := c.post("/v1/leads", map[string]any{
		"name":  "With Activities",
		"email": "wa@l.io",
	}, bearerHeader(owner))
	lead := decode[crm.Lead](t, resp)

	// Activity on a missing lead is 404, not 403.
	resp = c.post("/v1/leads/missing/activities", map[string]any{
		"type":        "call",
		"title":       "Intro",
		"description": "First call",
	}, bearerHeader(peer))
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing lead activity: expected 404, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	// A peer cannot attach activities to a foreign lead.
	resp = c.post("/v1/leads/"+lead.ID+"/activities", map[string]any{
		"type":        "call",
		"title":       "Intro",
		"description": "First call",
	}, bearerHeader(peer))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("peer activity: expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/v1/leads/"+lead.ID+"/activities", map[string]any{
		"type":        "call",
		"title":       "Intro",
		"description": "First call",
	}, bearerHeader(owner))
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create activity status: %d", resp.StatusCode)
	}
	activity := decode[crm.Activity](t, resp)

	resp = c.get("/v1/leads/"+lead.ID+"/activities", nil, bearerHeader(owner))
	activities := decode[[]crm.Activity](t, resp)
	if len(activities) != 1 {
		t.Fatalf("expected 1 activity, got %d", len(activities))
	}

	// Update and delete are author-gated.
	resp = c.do(http.MethodPatch, "/v1/activities/"+activity.ID, map[string]any{
		"title": "Renamed",
	}, bearerHeader(peer))
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("peer activity patch: expected 403, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.do(http.MethodPatch, "/v1/activities/"+activity.ID, map[string]any{
		"title": "Renamed",
	}, bearerHeader(owner))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("author activity patch: %d", resp.StatusCode)
	}
	renamed := decode[crm.Activity](t, resp)
	if renamed.Title != "Renamed" {
		t.Fatalf("unexpected title: %q", renamed.Title)
	}

	resp = c.do(http.MethodDelete, "/v1/activities/"+activity.ID, nil, bearerHeader(owner))
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("author activity delete: %d", resp.StatusCode)
	}
	resp.Body.Close()
}

func TestDashboard(t *testing.T) {
	c := newTestAPI(t)
	token := c.register("Jane", "dash@example.com", "sales_executive")

	created := decode[crm.Lead](t, c.post("/v1/leads", map[string]any{"name": "A", "email": "a@b.c", "value": 100}, bearerHeader(token)))
	c.post("/v1/leads", map[string]any{"name": "B", "email": "b@b.c", "value": 200}, bearerHeader(token)).Body.Close()
	c.post("/v1/leads/"+created.ID+"/activities", map[string]any{
		"type":        "call",
		"title":       "Kickoff",
		"description": "First contact",
	}, bearerHeader(token)).Body.Close()

	resp := c.get("/v1/dashboard", nil, bearerHeader(token))
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("dashboard status: %d", resp.StatusCode)
	}
	overview := decode[crm.Overview](t, resp)
	if overview.Stats.TotalLeads != 2 || overview.Stats.TotalValue != 300 {
		t.Fatalf("unexpected stats: %#v", overview.Stats)
	}
	if len(overview.RecentActivities) != 1 || overview.RecentActivities[0].Title != "Kickoff" {
		t.Fatalf("unexpected activity feed: %#v", overview.RecentActivities)
	}
}

func TestAuthRequiredOnProtectedPaths(t *testing.T) {
	c := newTestAPI(t)

	resp := c.get("/v1/leads", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.get("/v1/leads", nil, bearerHeader("garbage-token"))
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", resp.StatusCode)
	}
	body := decode[map[string]any](t, resp)
	if body["error"] != "invalid token" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestLoginFlow(t *testing.T) {
	c := newTestAPI(t)
	c.register("Jane", "login@example.com", "sales_executive")

	resp := c.post("/v1/auth/login", map[string]any{
		"email":    "login@example.com",
		"password": "secret1",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status: %d", resp.StatusCode)
	}
	payload := decode[authResponse](t, resp)
	if payload.Token == "" || payload.User.Email != "login@example.com" {
		t.Fatalf("unexpected login payload: %#v", payload)
	}

	resp = c.post("/v1/auth/login", map[string]any{
		"email":    "login@example.com",
		"password": "wrong",
	}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad password: expected 401, got %d", resp.StatusCode)
	}
	resp.Body.Close()

	resp = c.post("/v1/auth/register", map[string]any{
		"name":     "Jane Again",
		"email":    "login@example.com",
		"password": "secret1",
	}, nil)
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate register: expected 409, got %d", resp.StatusCode)
	}
	resp.Body.Close()
}
