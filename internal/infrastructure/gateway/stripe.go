// Package gateway adapts hosted payment gateways to providers.Gateway.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cassiomorais/paycore/internal/infrastructure/observability"
	"github.com/cassiomorais/paycore/internal/providers"
	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
)

// StripeConfig configures the Stripe client. URL is only set in tests to
// point the client at a fake backend.
type StripeConfig struct {
	SecretKey      string
	RequestTimeout time.Duration
	URL            string
}

// StripeGateway talks to the Stripe PaymentIntents and Refunds APIs through
// a private client.API, never the package-level globals.
type StripeGateway struct {
	client *client.API
}

var _ providers.Gateway = (*StripeGateway)(nil)

func NewStripeGateway(cfg StripeConfig, logger zerolog.Logger) *StripeGateway {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	backendCfg := &stripe.BackendConfig{
		HTTPClient: &http.Client{Timeout: timeout},
		// Retries belong to the caller. The provider never retries.
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripeLogger{logger: observability.ComponentLogger(logger, observability.ComponentStripe)},
	}
	if cfg.URL != "" {
		backendCfg.URL = stripe.String(cfg.URL)
	}

	api := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)
	sc := &client.API{}
	sc.Init(cfg.SecretKey, &stripe.Backends{
		API:     api,
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendCfg),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendCfg),
	})
	return &StripeGateway{client: sc}
}

func (g *StripeGateway) CreateIntent(ctx context.Context, p providers.GatewayIntentParams) (*providers.GatewayIntent, error) {
	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(p.Amount),
		Currency:           stripe.String(strings.ToLower(p.Currency)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	if p.PaymentMethod != "" {
		params.PaymentMethod = stripe.String(p.PaymentMethod)
	}
	if p.Confirm {
		params.Confirm = stripe.Bool(true)
	}
	if len(p.Metadata) > 0 {
		params.Metadata = make(map[string]string, len(p.Metadata))
		for k, v := range p.Metadata {
			params.Metadata[k] = v
		}
	}
	if p.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(p.IdempotencyKey)
	}
	params.Context = ctx

	pi, err := g.client.PaymentIntents.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return fromPaymentIntent(pi), nil
}

// ConfirmIntent confirms an intent. An intent that already left the
// confirmable states is fetched and returned as-is so a repeated confirm
// after a webhook does not surface as an error.
func (g *StripeGateway) ConfirmIntent(ctx context.Context, id string) (*providers.GatewayIntent, error) {
	params := &stripe.PaymentIntentConfirmParams{}
	params.Context = ctx

	pi, err := g.client.PaymentIntents.Confirm(id, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.Code == stripe.ErrorCodePaymentIntentUnexpectedState {
			return g.RetrieveIntent(ctx, id)
		}
		return nil, mapStripeError(err)
	}
	return fromPaymentIntent(pi), nil
}

func (g *StripeGateway) RetrieveIntent(ctx context.Context, id string) (*providers.GatewayIntent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx

	pi, err := g.client.PaymentIntents.Get(id, params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return fromPaymentIntent(pi), nil
}

func (g *StripeGateway) CreateRefund(ctx context.Context, p providers.GatewayRefundParams) (*providers.GatewayRefund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(p.PaymentIntentID),
		Amount:        stripe.Int64(p.Amount),
	}
	// Stripe only accepts its own reason codes; free text goes to metadata.
	switch p.Reason {
	case "":
	case string(stripe.RefundReasonDuplicate), string(stripe.RefundReasonFraudulent), string(stripe.RefundReasonRequestedByCustomer):
		params.Reason = stripe.String(p.Reason)
	default:
		params.AddMetadata("reason", p.Reason)
	}
	if p.IdempotencyKey != "" {
		params.IdempotencyKey = stripe.String(p.IdempotencyKey)
	}
	params.Context = ctx

	r, err := g.client.Refunds.New(params)
	if err != nil {
		return nil, mapStripeError(err)
	}
	return &providers.GatewayRefund{ID: r.ID, Amount: r.Amount, Status: string(r.Status)}, nil
}

func fromPaymentIntent(pi *stripe.PaymentIntent) *providers.GatewayIntent {
	gi := &providers.GatewayIntent{
		ID:           pi.ID,
		Status:       string(pi.Status),
		ClientSecret: pi.ClientSecret,
		Amount:       pi.Amount,
		Currency:     strings.ToUpper(string(pi.Currency)),
		Metadata:     pi.Metadata,
	}
	if pi.LastPaymentError != nil {
		gi.LastError = pi.LastPaymentError.Msg
	}
	return gi
}

// mapStripeError keeps stripe types out of the provider layer. Card errors
// become ErrGatewayDeclined; everything else stays a gateway fault.
func mapStripeError(err error) error {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		return fmt.Errorf("stripe request failed: %w", err)
	}

	switch {
	case stripeErr.Type == stripe.ErrorTypeCard:
		return fmt.Errorf("%w: %s (%s)", providers.ErrGatewayDeclined, stripeErr.Msg, stripeErr.Code)
	case stripeErr.Code == stripe.ErrorCodeChargeAlreadyRefunded:
		return fmt.Errorf("%w: charge already refunded", providers.ErrGatewayDeclined)
	case stripeErr.HTTPStatusCode >= http.StatusInternalServerError:
		return fmt.Errorf("stripe unavailable (status %d): %s", stripeErr.HTTPStatusCode, stripeErr.Msg)
	case stripeErr.HTTPStatusCode == http.StatusBadRequest:
		return fmt.Errorf("%w: %s", providers.ErrGatewayDeclined, stripeErr.Msg)
	default:
		return fmt.Errorf("stripe error %s (status %d): %s", stripeErr.Code, stripeErr.HTTPStatusCode, stripeErr.Msg)
	}
}

// stripeLogger routes stripe-go client logs through zerolog.
type stripeLogger struct {
	logger zerolog.Logger
}

func (l *stripeLogger) Debugf(format string, v ...interface{}) { l.logger.Debug().Msgf(format, v...) }
func (l *stripeLogger) Infof(format string, v ...interface{})  { l.logger.Debug().Msgf(format, v...) }
func (l *stripeLogger) Warnf(format string, v ...interface{})  { l.logger.Warn().Msgf(format, v...) }
func (l *stripeLogger) Errorf(format string, v ...interface{}) { l.logger.Error().Msgf(format, v...) }
