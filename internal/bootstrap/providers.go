package bootstrap

import (
	"errors"

	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/cassiomorais/paycore/internal/infrastructure/config"
	"github.com/cassiomorais/paycore/internal/infrastructure/gateway"
	"github.com/cassiomorais/paycore/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/paycore/internal/infrastructure/redis"
	"github.com/cassiomorais/paycore/internal/providers"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"
)

// NewProviderRegistry registers the reference provider and the hosted
// gateway. rdb may be nil when the reference store is in memory. metrics
// may be nil.
func NewProviderRegistry(cfg config.PaymentConfig, rdb redis.Cmdable, logger zerolog.Logger, metrics *observability.Metrics) *providers.Registry {
	return providers.NewRegistry(logger,
		providers.Registration{
			Name:  string(payment.ProviderReference),
			Build: func() (providers.Provider, error) { return buildReference(cfg.Reference, rdb) },
		},
		providers.Registration{
			Name:  cfg.Gateway.Name,
			Build: func() (providers.Provider, error) { return buildGateway(cfg.Gateway, logger, metrics) },
		},
	)
}

func buildReference(cfg config.ReferenceConfig, rdb redis.Cmdable) (providers.Provider, error) {
	var store providers.ReferenceStore = providers.NewMemoryReferenceStore()
	if cfg.Store == "redis" {
		if rdb == nil {
			return nil, errors.New("reference store is redis but no redis client is configured")
		}
		store = infraRedis.NewReferenceStore(rdb, cfg.StoreTTL)
	}
	return providers.NewReferenceProvider(
		providers.WithReferenceStore(store),
		providers.WithStatusSynthesis(cfg.SynthesizeStatus),
	), nil
}

func buildGateway(cfg config.GatewayConfig, logger zerolog.Logger, metrics *observability.Metrics) (providers.Provider, error) {
	client := gateway.NewStripeGateway(gateway.StripeConfig{
		SecretKey:      cfg.SecretKey,
		RequestTimeout: cfg.Timeout,
	}, logger)

	opts := []providers.GatewayProviderOption{
		providers.WithStateListener(func(name string, from, to gobreaker.State) {
			logger.Warn().Str("provider", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Circuit breaker state changed")
			if metrics != nil {
				metrics.CircuitBreakerState.WithLabelValues(name).Set(float64(to))
			}
		}),
	}
	if cfg.Timeout > 0 {
		opts = append(opts, providers.WithGatewayTimeout(cfg.Timeout))
	}
	if cfg.BreakerMinRequests > 0 {
		opts = append(opts, providers.WithBreakerThresholds(cfg.BreakerMinRequests, cfg.BreakerFailureRatio, cfg.BreakerOpenTimeout))
	}

	p, err := providers.NewGatewayProvider(cfg.Name, cfg.SecretKey, client, opts...)
	if err != nil {
		return nil, err
	}
	return p, nil
}
