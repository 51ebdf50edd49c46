package app

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/odyssey-erp/custody/internal/cleanup"
	"github.com/odyssey-erp/custody/internal/custody"
	"github.com/odyssey-erp/custody/internal/ledger"
	"github.com/odyssey-erp/custody/internal/observability"
	"github.com/odyssey-erp/custody/internal/platform/httpx"
	"github.com/odyssey-erp/custody/internal/slips"
	"github.com/odyssey-erp/custody/internal/transfers"
	"github.com/odyssey-erp/custody/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger *slog.Logger
	Config *Config

	CustodyHandler  *custody.Handler
	LedgerHandler   *ledger.Handler
	SlipsHandler    *slips.Handler
	TransferHandler *transfers.Handler
	CleanupHandler  *cleanup.Handler
	JobHandler      *jobs.Handler

	// ChangeFeed serves the websocket change relay; nil disables it.
	ChangeFeed http.Handler
	Metrics    *observability.Metrics
}

// NewRouter constructs the chi.Router with custody defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP, chimw.RequestID)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}
	// Websocket clients outlive the request timeout.
	if params.ChangeFeed != nil {
		r.With(chimw.Recoverer).Handle("/api/changes", params.ChangeFeed)
	}

	r.Group(func(r chi.Router) {
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:  params.Logger,
			Config:  params.Config,
			Metrics: params.Metrics,
		}) {
			r.Use(mw)
		}
		r.Use(chimw.Logger)

		if params.CustodyHandler != nil {
			r.Route("/api/items", params.CustodyHandler.MountRoutes)
		}
		if params.LedgerHandler != nil {
			r.Route("/api/ledger", params.LedgerHandler.MountRoutes)
		}
		if params.SlipsHandler != nil {
			r.Route("/api/slips", params.SlipsHandler.MountRoutes)
		}
		if params.TransferHandler != nil {
			r.Route("/api/transfers", params.TransferHandler.MountRoutes)
		}
		if params.CleanupHandler != nil {
			r.Route("/api/cleanup", params.CleanupHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/api/jobs", params.JobHandler.MountRoutes)
		}
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		httpx.Problem(w, http.StatusNotFound, "Not Found", r.URL.Path)
	})
	return r
}
