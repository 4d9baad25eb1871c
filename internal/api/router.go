package api

import (
	"net/http"
	"time"

	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/api/handler"
	customMiddleware "github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/api/middleware"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/config"
	"github.com/Antobtez/Adverant-Nexus-Plugin-OpenClaw-sub000/internal/domain"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Dependencies are the components mounted by the router
type Dependencies struct {
	Auth      domain.Authenticator
	WebSocket http.Handler
	Skills    handler.SkillCatalog
	Ready     map[string]handler.Pinger
}

// NewRouter creates and configures the HTTP router
func NewRouter(cfg *config.Config, deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger)
	r.Use(middleware.Recoverer)

	origins := cfg.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// The websocket route is long-lived and must not be timed out
	if deps.WebSocket != nil {
		r.Handle("/ws", deps.WebSocket)
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))

		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.Ready, 5*time.Second))

		authMiddleware := customMiddleware.NewAuthMiddleware(deps.Auth)
		skillHandler := handler.NewSkillHandler(deps.Skills)

		r.Route("/api/v1", func(r chi.Router) {
			r.Get("/health", handler.HealthCheck)

			r.Group(func(r chi.Router) {
				r.Use(authMiddleware.Authenticate)
				r.Get("/skills", skillHandler.List)
			})
		})
	})

	return r
}
