/**
 * @description
 * HTTP router for shopper-service, mirroring merchant-service's chi router
 * layout (standard middleware stack, grouped routes).
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
)

// NewRouter builds the shopper-service HTTP router. jwtSecret, when
// non-empty, requires a valid bearer session token on the checkout routes.
func NewRouter(h *Handlers, jwtSecret string) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("healthy"))
	})

	r.Post("/users", h.CreateUserHandler)
	r.Post("/users/{email}/devices", h.EnrollDeviceHandler)
	r.Post("/users/{email}/instruments", h.EnrollInstrumentHandler)

	r.Group(func(r chi.Router) {
		r.Use(JWTAuthMiddleware(jwtSecret))

		r.Route("/checkout", func(r chi.Router) {
			r.Post("/prepare", h.PrepareCheckoutHandler)
			r.Post("/{session_id}/confirm", h.ConfirmCheckoutHandler)
			r.Post("/{session_id}/otp", h.SubmitOTPHandler)
		})
	})

	return r
}
