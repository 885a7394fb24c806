package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Router assembles the inbound replication API. Every route runs behind the
// signature middleware; the four resources share one handler set.
func Router(h *Handler, auth AuthOptions) http.Handler {
	r := chi.NewRouter()
	r.Use(SignatureMiddleware(auth))

	r.Route("/{resource:posts|pages|media|terms}", func(r chi.Router) {
		r.Post("/", h.create)
		r.Route("/{id:[0-9]+}", func(r chi.Router) {
			r.Get("/", h.get)
			r.Post("/", h.update)
			r.Delete("/", h.remove)
			r.Get("/replicast", h.fieldGet)
			r.Post("/replicast", h.fieldUpdate)
		})
	})

	return r
}
