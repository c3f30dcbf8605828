package controller

import (
	"time"

	"github.com/cassiomorais/paycore/internal/infrastructure/config"
	"github.com/cassiomorais/paycore/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/paycore/internal/middleware"
	"github.com/cassiomorais/paycore/internal/providers"
	"github.com/cassiomorais/paycore/internal/service"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	ServiceName    string
	Checks         map[string]Check
	Outbox         BacklogCounter
	PaymentService *service.PaymentService
	Registry       *providers.Registry
	Webhooks       *WebhookController
	Metrics        *observability.Metrics
	Gatherer       prometheus.Gatherer
	CORSConfig     config.CORSConfig
	RateLimit      config.RateLimitConfig
	RequestTimeout time.Duration
	Logger         zerolog.Logger
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	timeout := deps.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(customMW.RequestLogger(deps.Logger))
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(timeout))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.CORSConfig.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "Idempotency-Key", "Stripe-Signature"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: deps.CORSConfig.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.RateLimit(deps.RateLimit.Requests, deps.RateLimit.Window))
	if deps.Metrics != nil {
		r.Use(customMW.Metrics(deps.Metrics))
	}
	if deps.ServiceName != "" {
		r.Use(customMW.Tracing(deps.ServiceName))
	}

	healthH := NewHealthController(deps.Checks, deps.Outbox)
	paymentH := NewPaymentController(deps.PaymentService)
	providerH := NewProviderController(deps.Registry)

	r.Get("/health", healthH.Health)
	r.Get("/health/live", healthH.Liveness)
	r.Get("/health/ready", healthH.Readiness)

	if deps.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Payments and intents
		r.Post("/payments", paymentH.ProcessPayment)
		r.Post("/intents", paymentH.CreateIntent)
		r.Get("/intents/{id}", paymentH.GetIntent)
		r.Post("/intents/{id}/confirm", paymentH.ConfirmIntent)

		// Transactions
		r.Get("/transactions/{id}", paymentH.GetTransaction)
		r.Post("/transactions/{id}/refunds", paymentH.RefundTransaction)
		r.Get("/customers/{id}/transactions", paymentH.ListCustomerTransactions)
		r.Get("/reservations/{id}/transactions", paymentH.ListReservationTransactions)

		r.Get("/providers", providerH.List)

		if deps.Webhooks != nil && deps.Webhooks.Enabled() {
			r.Post("/webhooks/{provider}", deps.Webhooks.Receive)
		}
	})

	return r
}
