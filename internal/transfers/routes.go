package transfers

import "github.com/go-chi/chi/v5"

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Route("/{id}", func(r chi.Router) {
		r.Get("/", h.Show)
		r.Delete("/", h.Delete)
		r.Get("/history", h.History)
		r.Post("/issue", h.Issue)
		r.Post("/complete", h.Complete)
		r.Post("/reject", h.Reject)
	})
}
