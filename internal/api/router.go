// Package api exposes the matching core over HTTP. The caller's identity is
// established upstream by the app gateway, which forwards the verified user
// id in the X-User-ID header; requests without one are rejected.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/litxtech/mytrabzon-match/internal/metrics"
	"github.com/litxtech/mytrabzon-match/internal/service"
)

// Handler bundles the HTTP handlers over the match service.
type Handler struct {
	svc *service.MatchService
}

// NewHandler creates the HTTP handler set.
func NewHandler(svc *service.MatchService) *Handler {
	return &Handler{svc: svc}
}

// NewRouter builds the matchserver's HTTP routes.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1/match", func(r chi.Router) {
		r.Use(requireUser)

		r.Post("/queue/join", h.JoinQueue)
		r.Post("/queue/leave", h.LeaveQueue)
		r.Get("/check", h.CheckMatch)
		r.Post("/sessions/{sessionID}", h.UpdateSession)
		r.Post("/report", h.ReportUser)
		r.Get("/limit", h.CheckDailyLimit)
		r.Post("/token", h.GenerateToken)
	})

	return r
}
