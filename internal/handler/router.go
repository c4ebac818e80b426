package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	custommiddleware "github.com/mmeshcher/clubpoints-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса баллов клуба.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Route("/api/user", func(r chi.Router) {
		r.Post("/register", h.Register)
		r.Post("/login", h.Login)
	})

	r.Route("/api/points", func(r chi.Router) {
		r.Use(h.authMiddleware.Middleware)

		r.Post("/grant", h.Grant)
		r.Post("/events/{eventID}/attendance", h.GrantAttendance)
		r.Delete("/events/{eventID}/attendance", h.RevokeAttendance)

		r.Get("/statistics", h.GetStatistics)
		r.Get("/history", h.GetHistory)
		r.Get("/leaderboard", h.GetLeaderboard)
		r.Get("/achievements", h.GetAchievements)

		r.Get("/rewards", h.GetRewards)
		r.Post("/redeem", h.Redeem)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
