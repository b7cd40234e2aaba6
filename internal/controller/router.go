package controller

import (
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sparklean/bookings/internal/infrastructure/config"
	"github.com/sparklean/bookings/internal/infrastructure/observability"
	customMW "github.com/sparklean/bookings/internal/middleware"
	"github.com/sparklean/bookings/internal/service"
)

type RouterDeps struct {
	Pool             *pgxpool.Pool
	RedisClient      *redis.Client
	PaymentManager   *service.PaymentManager
	RefundCoord      *service.RefundCoordinator
	WebhookProcessor *service.WebhookProcessor
	Metrics          *observability.Metrics
	CORSConfig       config.CORSConfig
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	healthH := NewHealthController(deps.Pool, deps.RedisClient)
	paymentH := NewPaymentController(deps.PaymentManager, deps.RefundCoord)
	webhookH := NewWebhookController(deps.WebhookProcessor)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/payments", paymentH.CreateIntent)
		r.Get("/payments", paymentH.List)
		r.Get("/payments/{id}", paymentH.Get)
		r.Get("/payments/reference/{reference}", paymentH.GetByReference)
		r.Post("/payments/{id}/refund", paymentH.Refund)
	})

	// Providers retry aggressively on non-2xx responses, so webhook delivery
	// gets a generous per-IP budget instead of the API default.
	r.With(customMW.RateLimit(600)).Post("/webhooks/{provider}", webhookH.Receive)

	return r
}
