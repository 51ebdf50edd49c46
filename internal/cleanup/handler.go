package cleanup

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/custody/internal/platform/httpx"
	"github.com/odyssey-erp/custody/internal/property"
)

// Handler exposes deletion checks and deletions over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the cleanup handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

func (h *Handler) target(w http.ResponseWriter, r *http.Request) (Entity, string, bool) {
	entity, err := ParseEntity(chi.URLParam(r, "entity"))
	if err != nil {
		httpx.RespondError(w, err)
		return "", "", false
	}
	return entity, chi.URLParam(r, "id"), true
}

func (h *Handler) Check(w http.ResponseWriter, r *http.Request) {
	entity, id, ok := h.target(w, r)
	if !ok {
		return
	}
	verdict, err := h.service.CanDelete(r.Context(), entity, id)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, verdict)
}

// Delete reads ?force=true to scrub dependents.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	entity, id, ok := h.target(w, r)
	if !ok {
		return
	}
	var opts Options
	if raw := r.URL.Query().Get("force"); raw != "" {
		force, err := strconv.ParseBool(raw)
		if err != nil {
			httpx.RespondError(w, property.Invalid("force", "must be a boolean"))
			return
		}
		opts.Force = force
	}
	report, err := h.service.Delete(r.Context(), entity, id, opts)
	if err != nil {
		h.logger.Warn("cleanup delete", slog.String("entity", string(entity)), slog.String("id", id), slog.Bool("force", opts.Force), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, report)
}
