package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/devaloi/giftline/internal/middleware"
)

// NewRouter creates and configures the HTTP router.
func NewRouter(logger zerolog.Logger, h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Metrics)
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimw.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/health", h.Health)
	if h.opts.FilesDir != "" {
		r.Handle("/files/*", http.StripPrefix("/files/", http.FileServer(http.Dir(h.opts.FilesDir))))
	}

	// The WebSocket handshake authenticates itself before upgrading.
	r.Get("/ws", h.ServeWS)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(h.auth))

		r.Post("/chat", h.CreateConversation)
		r.Get("/chat", h.ListConversations)
		r.Post("/chat/{conversationId}", h.SendMessage)
		r.Get("/chat/{conversationId}", h.GetConversation)
		r.Get("/users", h.ListUsers)
		r.Get("/users/{userId}", h.GetUser)
		r.Put("/users/me/avatar", h.UpdateAvatar)
	})

	return r
}
