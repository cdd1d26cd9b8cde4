package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/lokapos/terminal/internal/config"
	"github.com/lokapos/terminal/internal/database"
	"github.com/lokapos/terminal/internal/handler"
	mw "github.com/lokapos/terminal/internal/middleware"
	"github.com/lokapos/terminal/internal/service"
	syncer "github.com/lokapos/terminal/internal/sync"
	"github.com/lokapos/terminal/internal/ws"
)

// New creates a Chi router with all application routes wired up.
// Applies authentication, store scoping, and role-based middleware as needed.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool, hub *ws.Hub, worker *syncer.Worker, summaries *service.SummaryService) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// CORS configuration. The terminal UI runs next to this process, so
	// only local origins are expected.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{
			"http://localhost:5173", // terminal UI dev server
			"http://localhost:8080", // packaged terminal UI
		},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})

	// Auth routes (public)
	authHandler := handler.NewAuthHandler(queries, cfg.JWTSecret)
	authHandler.RegisterRoutes(r)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/stores/{sid}", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		// Store-scoped routes
		r.Route("/stores/{sid}", func(r chi.Router) {
			r.Use(mw.RequireStore)

			// Orders
			newOrderStore := func(db database.DBTX) service.OrderStore {
				return database.New(db)
			}
			orderService := service.NewOrderService(pool, queries, newOrderStore, ws.NewEvents(hub), cfg.TaxRate)
			orderHandler := handler.NewOrderHandler(orderService, queries)
			r.Route("/orders", orderHandler.RegisterRoutes)

			// Sync control (manager and admin only)
			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole("MANAGER", "ADMIN"))
				syncHandler := handler.NewSyncHandler(worker)
				r.Route("/sync", syncHandler.RegisterRoutes)
			})

			// Daily summary
			summaryHandler := handler.NewSummaryHandler(summaries)
			r.Route("/summary", summaryHandler.RegisterRoutes)
		})
	})

	return r
}
