package router

import (
	"pantry-api/internal/handler"
	"pantry-api/internal/middleware"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Config holds the configuration for creating a router.
type Config struct {
	Handler          *handler.Handler
	InventoryHandler *handler.InventoryHandler
	AdminHandler     *handler.AdminHandler
	AllowedOrigins   []string
}

// New creates and configures the HTTP router.
func New(cfg Config) *chi.Mux {
	r := chi.NewRouter()

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r.Use(middleware.Recovery)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logging)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-ID"},
		ExposedHeaders: []string{"X-Request-ID"},
		MaxAge:         300,
	}))

	if cfg.Handler != nil {
		r.Get("/api/status", cfg.Handler.Status)
	}

	r.Route("/api/v1", func(r chi.Router) {
		if cfg.Handler != nil {
			r.Get("/health", cfg.Handler.Health)
			r.Get("/ready", cfg.Handler.Ready)
		}

		if cfg.InventoryHandler != nil {
			r.Route("/users/{user_id}", func(r chi.Router) {
				r.Route("/inventory", func(r chi.Router) {
					r.Get("/", cfg.InventoryHandler.ListInventory)
					r.Post("/", cfg.InventoryHandler.AddItem)
					r.Put("/{ingredient_id}", cfg.InventoryHandler.UpdateItem)
					r.Delete("/{ingredient_id}", cfg.InventoryHandler.RemoveItem)
				})
				r.Get("/recipes/{recipe_id}/status", cfg.InventoryHandler.RecipeStatus)
				r.Route("/sync", func(r chi.Router) {
					r.Get("/pending", cfg.InventoryHandler.PendingSync)
					r.Post("/ack", cfg.InventoryHandler.AcknowledgeSync)
				})
			})
		}

		if cfg.AdminHandler != nil {
			r.Get("/admin/stats", cfg.AdminHandler.GetStats)
		}
	})

	return r
}
