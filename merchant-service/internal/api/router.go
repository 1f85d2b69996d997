/**
 * @description
 * This file sets up the HTTP router for merchant-service, mirroring the
 * teacher's chi router layout (standard middleware stack, grouped routes).
 *
 * @dependencies
 * - github.com/go-chi/chi/v5, github.com/go-chi/chi/v5/middleware,
 *   github.com/go-chi/cors.
 */

package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/ucp-demo/merchant-service/internal/requestlog"
)

// NewRouter builds the merchant-service HTTP router.
func NewRouter(h *Handlers, rec *requestlog.Recorder) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	})

	r.Group(func(r chi.Router) {
		r.Use(RequestLogMiddleware(rec, "ucp"))

		r.Get("/.well-known/ucp", h.DiscoveryHandler)
		r.Get("/ucp/products/search", h.ProductSearchHandler)
		r.Post("/ucp/v1/device-credentials", h.RegisterDeviceCredentialHandler)

		r.Route("/ucp/v1/checkout-sessions", func(r chi.Router) {
			r.Post("/", h.CreateSessionHandler)
			r.Get("/{id}", h.GetSessionHandler)
			r.Put("/{id}", h.UpdateSessionHandler)
			r.Post("/{id}/complete", h.CompleteSessionHandler)
		})
	})

	return r
}
