package httpapi

import (
	"context"
	"database/sql"
	"net/http"

	"leadflow.org/internal/auth"
	"leadflow.org/internal/crm"
	"leadflow.org/internal/hub"
	"leadflow.org/internal/obs"
	"leadflow.org/internal/session"
)

// ReadyProbe checks backing dependencies before the service reports ready.
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

// API is the HTTP layer.
type API struct {
	mux        *http.ServeMux
	readyProbe ReadyProbe
	version    string

	crm     *crm.Service
	users   *auth.Service
	hub     *hub.Hub
	tickets *session.TicketStore

	rateBurst  int
	ratePerSec int
}

// New wires routes over the given services. hub and tickets may be nil, in
// which case the push endpoints answer 503.
func New(rp ReadyProbe, version string, crmSvc *crm.Service, users *auth.Service, h *hub.Hub, tickets *session.TicketStore) *API {
	a := &API{
		mux:        http.NewServeMux(),
		readyProbe: rp,
		version:    version,
		crm:        crmSvc,
		users:      users,
		hub:        h,
		tickets:    tickets,
		rateBurst:  20,
		ratePerSec: 10,
	}

	a.mux.HandleFunc("/healthz", a.Healthz)
	a.mux.HandleFunc("/readyz", a.Ready)
	a.mux.HandleFunc("/v1/info", a.Info)

	a.mux.HandleFunc("/v1/auth/register", a.handleRegister)
	a.mux.HandleFunc("/v1/auth/login", a.handleLogin)
	a.mux.Handle("/v1/users", RequireRole(auth.RoleAdmin, auth.RoleManager)(http.HandlerFunc(a.handleUsers)))

	a.mux.HandleFunc("/v1/leads", a.handleLeadsCollection)
	a.mux.HandleFunc("/v1/leads/", a.handleLeadResource)
	a.mux.HandleFunc("/v1/activities/", a.handleActivityResource)
	a.mux.HandleFunc("/v1/dashboard", a.handleDashboard)

	a.mux.HandleFunc("/v1/stream", a.Stream)
	a.mux.HandleFunc("/v1/stream/ticket", a.handleStreamTicket)

	a.mux.Handle("/metrics", obs.Handler())

	a.mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	return a
}

// Handler returns the fully wrapped http.Handler for the server.
func (a *API) Handler() http.Handler {
	h := a.withAuth(a.mux)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = LoggingJSON(h)
	h = RequestID(h)
	h = CORS(h)
	h = SecurityHeaders(h)
	return obs.Instrument(h)
}
