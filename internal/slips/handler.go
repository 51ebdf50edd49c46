package slips

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/custody/internal/platform/httpx"
)

// Handler serves custodian slips over JSON.
type Handler struct {
	logger  *slog.Logger
	service *Service
}

// NewHandler constructs the slips handler.
func NewHandler(logger *slog.Logger, service *Service) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service}
}

func (h *Handler) Issue(w http.ResponseWriter, r *http.Request) {
	var in IssueInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	detail, err := h.service.Issue(r.Context(), in)
	if err != nil {
		h.logger.Warn("issue slip", slog.String("custodian_id", in.Custodian.ID), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, detail)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	detail, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, detail)
}
