package ledger

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/custody/internal/platform/httpx"
	"github.com/odyssey-erp/custody/internal/property"
)

// Handler serves property cards over JSON.
type Handler struct {
	logger *slog.Logger
	engine *Engine
}

// NewHandler constructs the ledger handler.
func NewHandler(logger *slog.Logger, engine *Engine) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, engine: engine}
}

// CardView is a card with its lines in card order.
type CardView struct {
	Card    property.Card    `json:"card"`
	Entries []property.Entry `json:"entries"`
}

func view(card property.Card, entries []property.Entry) CardView {
	if entries == nil {
		entries = []property.Entry{}
	}
	return CardView{Card: card, Entries: entries}
}

func (h *Handler) Show(w http.ResponseWriter, r *http.Request) {
	card, entries, err := h.engine.Card(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view(card, entries))
}

func (h *Handler) ShowForItem(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")
	card, entries, err := h.engine.CardForItem(r.Context(), property.ItemRef{ID: ref, PropertyNumber: ref})
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view(card, entries))
}

func (h *Handler) AppendEntry(w http.ResponseWriter, r *http.Request) {
	var in EntryInput
	if err := httpx.DecodeJSON(r, &in); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.engine.AppendEntry(r.Context(), chi.URLParam(r, "id"), in)
	if err != nil {
		h.logger.Warn("append entry", slog.String("card_id", chi.URLParam(r, "id")), slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusCreated, entry)
}

func (h *Handler) Recompute(w http.ResponseWriter, r *http.Request) {
	cardID := chi.URLParam(r, "id")
	if _, err := h.engine.Recompute(r.Context(), cardID); err != nil {
		httpx.RespondError(w, err)
		return
	}
	card, entries, err := h.engine.Card(r.Context(), cardID)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view(card, entries))
}

func (h *Handler) EditEntry(w http.ResponseWriter, r *http.Request) {
	var patch EntryPatch
	if err := httpx.DecodeJSON(r, &patch); err != nil {
		httpx.RespondError(w, err)
		return
	}
	entry, err := h.engine.EditEntry(r.Context(), chi.URLParam(r, "id"), patch)
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, entry)
}
