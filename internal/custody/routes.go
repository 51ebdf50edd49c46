package custody

import "github.com/go-chi/chi/v5"

func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Intake)
	r.Route("/{ref}", func(r chi.Router) {
		r.Get("/", h.Show)
		r.Get("/assigned", h.Assigned)
		r.Post("/assign", h.Assign)
		r.Post("/release", h.Release)
		r.Put("/condition", h.UpdateCondition)
		r.Put("/status", h.UpdateStatus)
	})
}
