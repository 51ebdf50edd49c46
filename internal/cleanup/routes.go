package cleanup

import "github.com/go-chi/chi/v5"

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/{entity}/{id}", h.Check)
	r.Delete("/{entity}/{id}", h.Delete)
}
