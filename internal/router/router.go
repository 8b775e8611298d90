package router

import (
	"net/http"

	"github.com/dinelink/api/internal/config"
	"github.com/dinelink/api/internal/database"
	"github.com/dinelink/api/internal/handler"
	mw "github.com/dinelink/api/internal/middleware"
	"github.com/dinelink/api/internal/paystack"
	"github.com/dinelink/api/internal/redisclient"
	"github.com/dinelink/api/internal/service"
	"github.com/dinelink/api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// New creates a Chi router with all application routes wired up.
// Applies authentication, restaurant scoping, and role-based middleware as needed.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool, hub *ws.Hub, dedup *redisclient.Client) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	// CORS configuration
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:3000", "https://*.dinelink.app"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Services
	newOrderStore := func(db database.DBTX) service.OrderStore {
		return database.New(db)
	}
	newPaymentStore := func(db database.DBTX) service.PaymentStore {
		return database.New(db)
	}
	gateway := paystack.NewClient(cfg.Paystack.SecretKey, cfg.Paystack.BaseURL)

	orderService := service.NewOrderService(pool, newOrderStore, cfg.Orders)
	statusService := service.NewStatusService(queries)
	paymentService := service.NewPaymentService(
		pool, newPaymentStore, queries, gateway, dedup,
		cfg.Paystack.SecretKey, int64(cfg.Orders.CommissionBps),
	)

	orderHandler := handler.NewOrderHandler(orderService, statusService, queries, hub)
	paymentHandler := handler.NewPaymentHandler(paymentService, hub)
	trackHandler := handler.NewTrackHandler(queries)

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","version":"1.0.0"}`))
	})
	r.Handle("/metrics", promhttp.Handler())

	// Auth routes (public)
	authHandler := handler.NewAuthHandler(queries, cfg.Server.JWTSecret)
	authHandler.RegisterRoutes(r)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/restaurants/{rid}/orders", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.Server.JWTSecret, w, r)
	})

	// Customer-facing routes, rate-limited per IP
	r.Group(func(r chi.Router) {
		r.Use(mw.RateLimit("30-M"))

		orderHandler.RegisterPublicRoutes(r)
		paymentHandler.RegisterPublicRoutes(r)
		r.Get("/track-order", trackHandler.Track)
	})

	// Protected routes (require authentication)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.Server.JWTSecret))

		r.Route("/restaurants/{rid}", func(r chi.Router) {
			r.Use(mw.RequireRestaurant)

			r.Route("/orders", orderHandler.RegisterStaffRoutes)

			r.Group(func(r chi.Router) {
				r.Use(mw.RequireRole("ADMIN", "STAFF", "SUPER_ADMIN"))
				paymentHandler.RegisterStaffRoutes(r)
			})
		})
	})

	return r
}
