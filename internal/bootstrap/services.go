package bootstrap

import (
	"github.com/cassiomorais/paycore/internal/controller"
	"github.com/cassiomorais/paycore/internal/infrastructure/config"
	"github.com/cassiomorais/paycore/internal/infrastructure/gateway"
	infraRedis "github.com/cassiomorais/paycore/internal/infrastructure/redis"
	"github.com/cassiomorais/paycore/internal/providers"
	"github.com/cassiomorais/paycore/internal/repository/postgres"
	"github.com/cassiomorais/paycore/internal/service"
	"github.com/cassiomorais/paycore/internal/validation"
	"github.com/rs/zerolog"
)

// Services is the payment core wired against PostgreSQL and Redis.
type Services struct {
	Transactions *postgres.TransactionRepository
	Intents      *postgres.IntentRepository
	Outbox       *postgres.OutboxRepository
	TxManager    *postgres.TxManager
	Providers    *providers.Registry
	Payments     *service.PaymentService
}

// NewServices builds the repositories, the provider registry and the
// payment service on top of the shared connections.
func (a *App) NewServices() *Services {
	cfg := a.Config.Payment
	// Load has already rejected unknown isolation names.
	isolation, _ := postgres.IsolationLevel(a.Config.Database.Isolation)
	s := &Services{
		Transactions: postgres.NewTransactionRepository(a.Pool),
		Intents:      postgres.NewIntentRepository(a.Pool),
		Outbox:       postgres.NewOutboxRepository(a.Pool),
		TxManager:    postgres.NewTxManager(a.Pool, postgres.WithIsolation(isolation)),
		Providers:    NewProviderRegistry(cfg, a.Redis, a.Logger, a.Metrics),
	}

	locker := infraRedis.NewLocker(a.Redis, cfg.LockTTL, cfg.LockRetries, cfg.LockRetryDelay)
	s.Payments = service.NewPaymentService(
		s.Transactions, s.Intents, s.Outbox, s.TxManager, s.Providers,
		validation.New(ValidationConfig(cfg)), locker,
		service.WithLogger(a.Logger), service.WithMetrics(a.Metrics),
	)
	return s
}

// ValidationConfig maps payment settings onto the request validator.
func ValidationConfig(cfg config.PaymentConfig) validation.Config {
	return validation.Config{
		MinAmount: cfg.MinAmount,
		MaxAmount: cfg.MaxAmount,
		Currency:  cfg.Currency,
	}
}

// NewWebhooks enables gateway webhooks when a signing secret is configured.
func NewWebhooks(cfg config.GatewayConfig, applier controller.EventApplier, logger zerolog.Logger) *controller.WebhookController {
	wh := controller.NewWebhookController(applier, logger)
	if cfg.WebhookSecret != "" {
		wh.Register(cfg.Name, "Stripe-Signature", gateway.NewStripeWebhookVerifier(cfg.WebhookSecret))
	}
	return wh
}
