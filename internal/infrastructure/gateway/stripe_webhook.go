package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/cassiomorais/paycore/internal/providers"
	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"
)

// StripeWebhookVerifier checks Stripe-Signature headers and normalizes the
// payment intent events paycore reacts to.
type StripeWebhookVerifier struct {
	secret string
}

func NewStripeWebhookVerifier(secret string) *StripeWebhookVerifier {
	return &StripeWebhookVerifier{secret: secret}
}

// Parse verifies the payload and returns the normalized event. Events that
// carry no payment intent outcome return nil, nil.
func (v *StripeWebhookVerifier) Parse(payload []byte, signature string) (*providers.GatewayEvent, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, v.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("stripe signature invalid: %w", err)
	}

	var kind providers.GatewayEventKind
	switch event.Type {
	case "payment_intent.succeeded":
		kind = providers.GatewayEventSucceeded
	case "payment_intent.payment_failed":
		kind = providers.GatewayEventFailed
	case "payment_intent.canceled":
		kind = providers.GatewayEventCanceled
	default:
		return nil, nil
	}

	var pi stripe.PaymentIntent
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return nil, fmt.Errorf("stripe event %s has no data", event.ID)
	}
	if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent from event %s: %w", event.ID, err)
	}

	ev := &providers.GatewayEvent{
		ID:                  event.ID,
		Provider:            payment.ProviderStripe,
		Kind:                kind,
		ExternalReferenceID: pi.ID,
	}
	if pi.LastPaymentError != nil {
		ev.Message = pi.LastPaymentError.Msg
	}
	if kind == providers.GatewayEventCanceled && pi.CancellationReason != "" {
		ev.Message = "cancelled: " + string(pi.CancellationReason)
	}
	return ev, nil
}
