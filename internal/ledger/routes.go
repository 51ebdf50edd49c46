package ledger

import "github.com/go-chi/chi/v5"

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/cards/{id}", h.Show)
	r.Get("/cards/by-item/{ref}", h.ShowForItem)
	r.Post("/cards/{id}/entries", h.AppendEntry)
	r.Post("/cards/{id}/recompute", h.Recompute)
	r.Patch("/entries/{id}", h.EditEntry)
}
