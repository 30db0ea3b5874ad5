package httpx

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter assembles the full route table behind the middleware chain.
// metricsHandler may be nil to leave /metrics unmounted.
func NewRouter(h *Handler, metricsHandler http.Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(WithRequestID)
	r.Use(WithRecover)
	r.Use(WithMetrics)
	r.Use(WithLogging)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/config-status", h.ConfigStatus)
		r.Get("/me", h.Me)
		r.Post("/logout", h.Logout)

		r.Post("/email/register", h.EmailRegister)
		r.Post("/email/login", h.EmailLogin)

		r.Get("/{provider}/login", h.Login)
		r.Get("/{provider}/callback", h.Callback)
		// Apple returns the authorization response as a form post.
		r.Post("/apple/callback", func(w http.ResponseWriter, req *http.Request) {
			chi.RouteContext(req.Context()).URLParams.Add("provider", "apple")
			h.Callback(w, req)
		})
	})

	r.Get("/readyz", h.Readyz)
	if metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", metricsHandler)
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		WriteError(w, ErrBadRequest.WithDetail("route not found"))
	})
	return r
}
