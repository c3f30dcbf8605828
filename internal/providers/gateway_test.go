package providers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeGateway is an in-memory Gateway. Func fields override the default
// behaviour per call.
type fakeGateway struct {
	mu      sync.Mutex
	intents map[string]*GatewayIntent
	seq     int
	calls   int

	CreateIntentFunc   func(ctx context.Context, params GatewayIntentParams) (*GatewayIntent, error)
	ConfirmIntentFunc  func(ctx context.Context, id string) (*GatewayIntent, error)
	RetrieveIntentFunc func(ctx context.Context, id string) (*GatewayIntent, error)
	CreateRefundFunc   func(ctx context.Context, params GatewayRefundParams) (*GatewayRefund, error)
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{intents: make(map[string]*GatewayIntent)}
}

func (g *fakeGateway) CreateIntent(ctx context.Context, params GatewayIntentParams) (*GatewayIntent, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()
	if g.CreateIntentFunc != nil {
		return g.CreateIntentFunc(ctx, params)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	gi := &GatewayIntent{
		ID:           fmt.Sprintf("pi_%d", g.seq),
		Status:       "requires_payment_method",
		ClientSecret: fmt.Sprintf("pi_%d_secret", g.seq),
		Amount:       params.Amount,
		Currency:     params.Currency,
		Metadata:     params.Metadata,
	}
	if params.Confirm {
		gi.Status = "succeeded"
	}
	g.intents[gi.ID] = gi
	return gi, nil
}

func (g *fakeGateway) ConfirmIntent(ctx context.Context, id string) (*GatewayIntent, error) {
	if g.ConfirmIntentFunc != nil {
		return g.ConfirmIntentFunc(ctx, id)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	gi, ok := g.intents[id]
	if !ok {
		return nil, fmt.Errorf("no such payment_intent: %s", id)
	}
	gi.Status = "succeeded"
	return gi, nil
}

func (g *fakeGateway) RetrieveIntent(ctx context.Context, id string) (*GatewayIntent, error) {
	if g.RetrieveIntentFunc != nil {
		return g.RetrieveIntentFunc(ctx, id)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	gi, ok := g.intents[id]
	if !ok {
		return nil, fmt.Errorf("no such payment_intent: %s", id)
	}
	return gi, nil
}

func (g *fakeGateway) CreateRefund(ctx context.Context, params GatewayRefundParams) (*GatewayRefund, error) {
	if g.CreateRefundFunc != nil {
		return g.CreateRefundFunc(ctx, params)
	}
	return &GatewayRefund{ID: "re_1", Amount: params.Amount, Status: "succeeded"}, nil
}

func newTestGatewayProvider(t *testing.T, gw Gateway, opts ...GatewayProviderOption) *GatewayProvider {
	t.Helper()
	p, err := NewGatewayProvider("stripe", "sk_test_123", gw, opts...)
	require.NoError(t, err)
	return p
}

func gatewayProcessRequest(amount int64) payment.ProcessRequest {
	req := processRequest(amount)
	req.Provider = payment.ProviderStripe
	req.PaymentMethodToken = "pm_card_visa"
	return req
}

func TestNewGatewayProvider_MissingSecret(t *testing.T) {
	p, err := NewGatewayProvider("stripe", "", newFakeGateway())

	assert.Nil(t, p)
	assert.ErrorIs(t, err, domainErrors.ErrProviderNotConfigured)
	assert.Contains(t, err.Error(), "gateway secret key is not configured")
}

func TestGatewayProvider_Basics(t *testing.T) {
	p := newTestGatewayProvider(t, newFakeGateway())

	assert.Equal(t, "stripe", p.Name())
	assert.True(t, Supports(p, payment.MethodCard))
	assert.False(t, Supports(p, payment.MethodCash))
	assert.Equal(t, gobreaker.StateClosed, p.State())
}

func TestGatewayProvider_ProcessPayment_Succeeded(t *testing.T) {
	gw := newFakeGateway()
	var captured GatewayIntentParams
	gw.CreateIntentFunc = func(ctx context.Context, params GatewayIntentParams) (*GatewayIntent, error) {
		captured = params
		return &GatewayIntent{ID: "pi_ok", Status: "succeeded", Amount: params.Amount}, nil
	}
	p := newTestGatewayProvider(t, gw)

	req := gatewayProcessRequest(12000)
	req.IdempotencyKey = "idem-1"
	result, err := p.ProcessPayment(context.Background(), req)
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Equal(t, payment.StatusCompleted, result.Transaction.Status)
	assert.Equal(t, "pi_ok", *result.Transaction.ExternalReferenceID)
	assert.Equal(t, payment.NewTransactionID("idem-1"), result.Transaction.ID)

	assert.True(t, captured.Confirm)
	assert.Equal(t, "pm_card_visa", captured.PaymentMethod)
	assert.Equal(t, "idem-1", captured.IdempotencyKey)
	assert.Equal(t, "res_123", captured.Metadata[MetaReservationID])
	assert.Equal(t, "cust_123", captured.Metadata[MetaCustomerID])
}

func TestGatewayProvider_ProcessPayment_Processing(t *testing.T) {
	gw := newFakeGateway()
	gw.CreateIntentFunc = func(ctx context.Context, params GatewayIntentParams) (*GatewayIntent, error) {
		return &GatewayIntent{ID: "pi_slow", Status: "processing"}, nil
	}
	p := newTestGatewayProvider(t, gw)

	result, err := p.ProcessPayment(context.Background(), gatewayProcessRequest(5000))
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, payment.StatusProcessing, result.Transaction.Status)
}

func TestGatewayProvider_ProcessPayment_RequiresAction(t *testing.T) {
	gw := newFakeGateway()
	gw.CreateIntentFunc = func(ctx context.Context, params GatewayIntentParams) (*GatewayIntent, error) {
		return &GatewayIntent{ID: "pi_3ds", Status: "requires_action", ClientSecret: "pi_3ds_secret"}, nil
	}
	p := newTestGatewayProvider(t, gw)

	result, err := p.ProcessPayment(context.Background(), gatewayProcessRequest(5000))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.True(t, result.RequiresAction)
	assert.Equal(t, "pi_3ds_secret", result.ClientSecret)
	assert.Equal(t, payment.FailureRequiresAction, result.FailureCode)
}

func TestGatewayProvider_ProcessPayment_Declined(t *testing.T) {
	gw := newFakeGateway()
	gw.CreateIntentFunc = func(ctx context.Context, params GatewayIntentParams) (*GatewayIntent, error) {
		return nil, fmt.Errorf("%w: card was declined", ErrGatewayDeclined)
	}
	p := newTestGatewayProvider(t, gw)

	result, err := p.ProcessPayment(context.Background(), gatewayProcessRequest(5000))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, payment.FailureDeclined, result.FailureCode)
	assert.Contains(t, result.Error, "card was declined")
}

func TestGatewayProvider_ProcessPayment_UnknownStatusFailsClosed(t *testing.T) {
	gw := newFakeGateway()
	gw.CreateIntentFunc = func(ctx context.Context, params GatewayIntentParams) (*GatewayIntent, error) {
		return &GatewayIntent{ID: "pi_odd", Status: "mystery"}, nil
	}
	p := newTestGatewayProvider(t, gw)

	result, err := p.ProcessPayment(context.Background(), gatewayProcessRequest(5000))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, payment.StatusFailed, result.Transaction.Status)
}

func TestGatewayProvider_ProcessPayment_Timeout(t *testing.T) {
	gw := newFakeGateway()
	gw.CreateIntentFunc = func(ctx context.Context, params GatewayIntentParams) (*GatewayIntent, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	p := newTestGatewayProvider(t, gw, WithGatewayTimeout(20*time.Millisecond))

	result, err := p.ProcessPayment(context.Background(), gatewayProcessRequest(5000))
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, payment.FailureTimeout, result.FailureCode)
}

func TestGatewayProvider_BreakerOpensOnOutages(t *testing.T) {
	gw := newFakeGateway()
	gw.CreateIntentFunc = func(ctx context.Context, params GatewayIntentParams) (*GatewayIntent, error) {
		return nil, errors.New("503 service unavailable")
	}
	p := newTestGatewayProvider(t, gw, WithBreakerThresholds(3, 0.5, time.Minute))

	for i := 0; i < 3; i++ {
		result, err := p.ProcessPayment(context.Background(), gatewayProcessRequest(5000))
		require.NoError(t, err)
		assert.Equal(t, payment.FailureGatewayError, result.FailureCode)
	}

	result, err := p.ProcessPayment(context.Background(), gatewayProcessRequest(5000))
	require.NoError(t, err)
	assert.Equal(t, payment.FailureUnavailable, result.FailureCode)
	assert.Equal(t, gobreaker.StateOpen, p.State())
	assert.Equal(t, 3, gw.calls)
}

func TestGatewayProvider_DeclinesDoNotTripBreaker(t *testing.T) {
	gw := newFakeGateway()
	gw.CreateIntentFunc = func(ctx context.Context, params GatewayIntentParams) (*GatewayIntent, error) {
		return nil, fmt.Errorf("%w: insufficient funds", ErrGatewayDeclined)
	}
	p := newTestGatewayProvider(t, gw, WithBreakerThresholds(3, 0.5, time.Minute))

	for i := 0; i < 5; i++ {
		result, err := p.ProcessPayment(context.Background(), gatewayProcessRequest(5000))
		require.NoError(t, err)
		assert.Equal(t, payment.FailureDeclined, result.FailureCode)
	}
	assert.Equal(t, gobreaker.StateClosed, p.State())
}

func TestGatewayProvider_StateListener(t *testing.T) {
	gw := newFakeGateway()
	gw.CreateIntentFunc = func(ctx context.Context, params GatewayIntentParams) (*GatewayIntent, error) {
		return nil, errors.New("connection refused")
	}
	var transitions []gobreaker.State
	p := newTestGatewayProvider(t, gw,
		WithBreakerThresholds(1, 0.5, time.Minute),
		WithStateListener(func(name string, from, to gobreaker.State) {
			transitions = append(transitions, to)
		}),
	)

	_, err := p.ProcessPayment(context.Background(), gatewayProcessRequest(5000))
	require.NoError(t, err)

	assert.Equal(t, []gobreaker.State{gobreaker.StateOpen}, transitions)
}

func TestGatewayProvider_IntentFlow(t *testing.T) {
	gw := newFakeGateway()
	p := newTestGatewayProvider(t, gw)
	ctx := context.Background()

	req := intentRequest(10000)
	req.Method = payment.MethodCard
	intent, err := p.CreatePaymentIntent(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, payment.StatusPending, intent.Status)
	assert.Equal(t, payment.ProviderStripe, intent.Provider)
	assert.Equal(t, "pi_1", intent.ExternalReferenceID)
	require.NotNil(t, intent.ClientSecret)
	assert.Equal(t, "pi_1_secret", *intent.ClientSecret)

	result, err := p.ConfirmPaymentIntent(ctx, ConfirmRequest{ExternalReferenceID: intent.ExternalReferenceID, Intent: intent})
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Equal(t, payment.StatusCompleted, result.Transaction.Status)
	assert.Equal(t, intent.ID, *result.Transaction.PaymentIntentID)
	assert.Equal(t, "res_456", result.Transaction.ReservationID)
}

func TestGatewayProvider_ConfirmWithoutLocalIntent_UsesGatewayMetadata(t *testing.T) {
	gw := newFakeGateway()
	p := newTestGatewayProvider(t, gw)
	ctx := context.Background()

	req := intentRequest(7000)
	req.Method = payment.MethodCard
	intent, err := p.CreatePaymentIntent(ctx, req)
	require.NoError(t, err)

	result, err := p.ConfirmPaymentIntent(ctx, ConfirmRequest{ExternalReferenceID: intent.ExternalReferenceID})
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Equal(t, "res_456", result.Transaction.ReservationID)
	assert.Equal(t, "cust_456", result.Transaction.CustomerID)
	assert.Equal(t, int64(7000), result.Transaction.Amount)
}

func TestGatewayProvider_CreateIntent_GatewayErrorStillReturnsIntent(t *testing.T) {
	gw := newFakeGateway()
	gw.CreateIntentFunc = func(ctx context.Context, params GatewayIntentParams) (*GatewayIntent, error) {
		return nil, errors.New("invalid currency")
	}
	p := newTestGatewayProvider(t, gw)

	req := intentRequest(7000)
	req.Method = payment.MethodCard
	intent, err := p.CreatePaymentIntent(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, payment.StatusFailed, intent.Status)
	require.NotNil(t, intent.ErrorMessage)
	assert.Contains(t, *intent.ErrorMessage, "invalid currency")
}

func TestGatewayProvider_Refund_WithOriginal(t *testing.T) {
	gw := newFakeGateway()
	var captured GatewayRefundParams
	gw.CreateRefundFunc = func(ctx context.Context, params GatewayRefundParams) (*GatewayRefund, error) {
		captured = params
		return &GatewayRefund{ID: "re_9", Amount: params.Amount, Status: "succeeded"}, nil
	}
	p := newTestGatewayProvider(t, gw)

	ref := "pi_original"
	original := &payment.Transaction{
		ID: "tx_1", Amount: 12000, Currency: "JPY", Status: payment.StatusCompleted,
		Provider: payment.ProviderStripe, ExternalReferenceID: &ref,
	}
	amount := int64(3000)
	result, err := p.RefundPayment(context.Background(), RefundRequest{
		RefundRequest: payment.RefundRequest{TransactionID: "tx_1", Amount: &amount, Reason: "requested_by_customer"},
		Original:      original,
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Equal(t, "pi_original", captured.PaymentIntentID)
	assert.Equal(t, int64(3000), captured.Amount)
	assert.Equal(t, "requested_by_customer", captured.Reason)
	assert.Equal(t, payment.StatusRefunded, result.Transaction.Status)
	assert.Equal(t, int64(3000), result.Transaction.RefundAmount)
	assert.Equal(t, "re_9", result.Transaction.Metadata["gateway_refund_id"])
}

func TestGatewayProvider_Refund_GatewayAmountBeyondLocalRecord(t *testing.T) {
	gw := newFakeGateway()
	gw.CreateRefundFunc = func(ctx context.Context, params GatewayRefundParams) (*GatewayRefund, error) {
		return &GatewayRefund{ID: "re_over", Amount: 5000, Status: "succeeded"}, nil
	}
	p := newTestGatewayProvider(t, gw)

	ref := "pi_partial"
	original := &payment.Transaction{
		ID: "tx_3", Amount: 6000, RefundAmount: 2000, Currency: "JPY", Status: payment.StatusRefunded,
		Provider: payment.ProviderStripe, ExternalReferenceID: &ref,
	}
	result, err := p.RefundPayment(context.Background(), RefundRequest{
		RefundRequest: payment.RefundRequest{TransactionID: "tx_3"},
		Original:      original,
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Empty(t, result.FailureCode)
	assert.Equal(t, int64(5000), result.RefundAmount)
	assert.Equal(t, "re_over", result.Transaction.Metadata["gateway_refund_id"])
	assert.NotEmpty(t, result.Transaction.Metadata["refund_unreconciled"])
	assert.Equal(t, int64(2000), result.Transaction.RefundAmount)
}

func TestGatewayProvider_Refund_ExplicitProviderPaymentID(t *testing.T) {
	gw := newFakeGateway()
	var target string
	gw.CreateRefundFunc = func(ctx context.Context, params GatewayRefundParams) (*GatewayRefund, error) {
		target = params.PaymentIntentID
		return &GatewayRefund{ID: "re_1", Amount: params.Amount}, nil
	}
	p := newTestGatewayProvider(t, gw)

	amount := int64(500)
	result, err := p.RefundPayment(context.Background(), RefundRequest{
		RefundRequest: payment.RefundRequest{TransactionID: "tx_2", Amount: &amount, ProviderPaymentID: "pi_direct"},
	})
	require.NoError(t, err)

	assert.True(t, result.Success)
	assert.Equal(t, "pi_direct", target)
}

func TestGatewayProvider_Refund_UnresolvedTarget(t *testing.T) {
	gw := newFakeGateway()
	refundCalled := false
	gw.CreateRefundFunc = func(ctx context.Context, params GatewayRefundParams) (*GatewayRefund, error) {
		refundCalled = true
		return nil, nil
	}
	p := newTestGatewayProvider(t, gw)

	amount := int64(500)
	result, err := p.RefundPayment(context.Background(), RefundRequest{
		RefundRequest: payment.RefundRequest{TransactionID: "tx_3", Amount: &amount},
		Original:      &payment.Transaction{ID: "tx_3", Amount: 1000, Status: payment.StatusCompleted},
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, payment.FailureUnresolvedPayment, result.FailureCode)
	assert.False(t, refundCalled)
}

func TestGatewayProvider_Refund_GatewayRejects(t *testing.T) {
	gw := newFakeGateway()
	gw.CreateRefundFunc = func(ctx context.Context, params GatewayRefundParams) (*GatewayRefund, error) {
		return nil, fmt.Errorf("%w: charge already refunded", ErrGatewayDeclined)
	}
	p := newTestGatewayProvider(t, gw)

	amount := int64(500)
	result, err := p.RefundPayment(context.Background(), RefundRequest{
		RefundRequest: payment.RefundRequest{TransactionID: "tx_4", Amount: &amount, ProviderPaymentID: "pi_4"},
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, payment.FailureDeclined, result.FailureCode)
}

func TestGatewayProvider_GetPaymentStatus_Reconciles(t *testing.T) {
	gw := newFakeGateway()
	gw.RetrieveIntentFunc = func(ctx context.Context, id string) (*GatewayIntent, error) {
		return &GatewayIntent{ID: id, Status: "succeeded"}, nil
	}
	p := newTestGatewayProvider(t, gw)

	ref := "pi_slow"
	known := &payment.Transaction{ID: "tx_5", Status: payment.StatusProcessing, ExternalReferenceID: &ref}
	tx, err := p.GetPaymentStatus(context.Background(), StatusRequest{TransactionID: "tx_5", Known: known})
	require.NoError(t, err)

	assert.Equal(t, payment.StatusCompleted, tx.Status)
	assert.Equal(t, payment.StatusProcessing, known.Status)
}

func TestGatewayProvider_GetPaymentStatus_RefundedStaysRefunded(t *testing.T) {
	gw := newFakeGateway()
	gw.RetrieveIntentFunc = func(ctx context.Context, id string) (*GatewayIntent, error) {
		return &GatewayIntent{ID: id, Status: "succeeded"}, nil
	}
	p := newTestGatewayProvider(t, gw)

	ref := "pi_r"
	known := &payment.Transaction{ID: "tx_6", Status: payment.StatusRefunded, ExternalReferenceID: &ref}
	tx, err := p.GetPaymentStatus(context.Background(), StatusRequest{TransactionID: "tx_6", Known: known})
	require.NoError(t, err)

	assert.Equal(t, payment.StatusRefunded, tx.Status)
}

func TestGatewayProvider_GetPaymentStatus_Errors(t *testing.T) {
	gw := newFakeGateway()
	gw.RetrieveIntentFunc = func(ctx context.Context, id string) (*GatewayIntent, error) {
		return nil, errors.New("connection reset")
	}
	p := newTestGatewayProvider(t, gw)

	_, err := p.GetPaymentStatus(context.Background(), StatusRequest{TransactionID: "tx_x"})
	assert.ErrorIs(t, err, domainErrors.ErrTransactionNotFound)

	ref := "pi_x"
	_, err = p.GetPaymentStatus(context.Background(), StatusRequest{
		TransactionID: "tx_x",
		Known:         &payment.Transaction{ID: "tx_x", Status: payment.StatusProcessing, ExternalReferenceID: &ref},
	})
	assert.ErrorIs(t, err, domainErrors.ErrProviderUnavailable)
}
