package custody

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/custody/internal/platform/httpx"
	"github.com/odyssey-erp/custody/internal/property"
)

// Handler serves the item registry over JSON.
type Handler struct {
	logger   *slog.Logger
	registry *Registry
}

// NewHandler constructs the registry handler.
func NewHandler(logger *slog.Logger, registry *Registry) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, registry: registry}
}

type assignRequest struct {
	Custodian property.Custodian `json:"custodian"`
	At        time.Time          `json:"at"`
}

type conditionRequest struct {
	Condition property.Condition `json:"condition"`
}

type statusRequest struct {
	Status property.ItemStatus `json:"status"`
}

// itemRef reads {ref} as an id that falls back to a property number.
func itemRef(r *http.Request) property.ItemRef {
	ref := chi.URLParam(r, "ref")
	return property.ItemRef{ID: ref, PropertyNumber: ref}
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) (property.Item, bool) {
	item, err := h.registry.Item(r.Context(), itemRef(r))
	if err != nil {
		httpx.RespondError(w, err)
		return property.Item{}, false
	}
	return item, true
}

func (h *Handler) Intake(w http.ResponseWriter, r *http.Request) {
	var in IntakeInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	res, err := h.registry.Intake(r.Context(), in)
	if err != nil {
		h.logger.Warn("intake item", slog.String("property_number", in.PropertyNumber), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, res)
}

// List returns the holdings of ?custodian_id, or the available pool.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	var (
		items []property.Item
		err   error
	)
	if custodianID := r.URL.Query().Get("custodian_id"); custodianID != "" {
		items, err = h.registry.Holdings(r.Context(), custodianID)
	} else {
		items, err = h.registry.ListAvailable(r.Context())
	}
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if items == nil {
		items = []property.Item{}
	}
	httpx.JSON(w, http.StatusOK, items)
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	item, ok := h.resolve(w, r)
	if !ok {
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) Assigned(w http.ResponseWriter, r *http.Request) {
	item, ok := h.resolve(w, r)
	if !ok {
		return
	}
	assigned, err := h.registry.IsAssigned(r.Context(), item.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"item_id": item.ID, "assigned": assigned})
}

func (h *Handler) Assign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, ok := h.resolve(w, r)
	if !ok {
		return
	}
	item, err := h.registry.Assign(r.Context(), item.ID, req.Custodian, req.At)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) Release(w http.ResponseWriter, r *http.Request) {
	item, ok := h.resolve(w, r)
	if !ok {
		return
	}
	item, err := h.registry.Release(r.Context(), item.ID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) UpdateCondition(w http.ResponseWriter, r *http.Request) {
	var req conditionRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, ok := h.resolve(w, r)
	if !ok {
		return
	}
	item, err := h.registry.UpdateCondition(r.Context(), item.ID, req.Condition)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}

func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	item, ok := h.resolve(w, r)
	if !ok {
		return
	}
	item, err := h.registry.UpdateStatus(r.Context(), item.ID, req.Status)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, item)
}
