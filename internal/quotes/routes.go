package quotes

import (
	"github.com/go-chi/chi/v5"
)

func (h *Handler) MountRoutes(r chi.Router) {
	r.Route("/quotations", func(r chi.Router) {
		r.Get("/", h.List)
		r.Post("/", h.Create)
		r.Post("/preview", h.Preview)
		r.Get("/summary", h.Summary)
		r.Get("/{id}", h.Show)
		r.Post("/{id}", h.Save)
		r.Post("/{id}/reissue", h.Reissue)
		r.Get("/{id}/revisions", h.Revisions)
		r.Get("/{id}/pdf", h.PDF)
		r.Post("/{id}/followups", h.CreateFollowup)
	})
	r.Route("/followups", func(r chi.Router) {
		r.Get("/due", h.DueFollowups)
		r.Post("/{id}/complete", h.CompleteFollowup)
	})
}
