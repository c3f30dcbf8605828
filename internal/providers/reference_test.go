package providers

import (
	"context"
	"testing"

	domainErrors "github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func processRequest(amount int64) payment.ProcessRequest {
	return payment.ProcessRequest{
		ReservationID: "res_123",
		CustomerID:    "cust_123",
		Amount:        amount,
		Currency:      "JPY",
		Method:        payment.MethodCard,
		Provider:      payment.ProviderReference,
		Metadata:      map[string]string{"channel": "front_desk"},
	}
}

func intentRequest(amount int64) payment.IntentRequest {
	return payment.IntentRequest{
		ReservationID: "res_456",
		CustomerID:    "cust_456",
		Amount:        amount,
		Currency:      "JPY",
		Method:        payment.MethodBankTransfer,
		Provider:      payment.ProviderReference,
	}
}

func TestReferenceProvider_Basics(t *testing.T) {
	p := NewReferenceProvider()

	assert.Equal(t, "reference", p.Name())
	assert.NoError(t, p.ValidateConfig())
	assert.True(t, Supports(p, payment.MethodCash))
	assert.True(t, Supports(p, payment.MethodBankTransfer))
	assert.True(t, Supports(p, payment.MethodCard))
	assert.False(t, Supports(p, payment.Method("crypto")))
}

func TestReferenceProvider_ProcessPayment(t *testing.T) {
	p := NewReferenceProvider()
	ctx := context.Background()

	result, err := p.ProcessPayment(ctx, processRequest(12000))
	require.NoError(t, err)
	require.True(t, result.Success)

	tx := result.Transaction
	assert.Equal(t, payment.StatusCompleted, tx.Status)
	assert.Equal(t, int64(12000), tx.Amount)
	assert.Equal(t, "res_123", tx.ReservationID)
	assert.Equal(t, "cust_123", tx.CustomerID)
	assert.Equal(t, payment.ProviderReference, tx.Provider)
	assert.Equal(t, "front_desk", tx.Metadata["channel"])
	require.NotNil(t, tx.ExternalReferenceID)
	assert.Contains(t, *tx.ExternalReferenceID, "ref_")
	assert.NotNil(t, tx.ProcessedAt)
}

func TestReferenceProvider_ProcessPayment_IdempotencyKeyGivesStableID(t *testing.T) {
	p := NewReferenceProvider()
	req := processRequest(5000)
	req.IdempotencyKey = "checkout-1"

	first, err := p.ProcessPayment(context.Background(), req)
	require.NoError(t, err)
	second, err := p.ProcessPayment(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
	assert.Equal(t, "checkout-1", *first.Transaction.IdempotencyKey)
}

func TestReferenceProvider_IntentLifecycle(t *testing.T) {
	p := NewReferenceProvider()
	ctx := context.Background()

	intent, err := p.CreatePaymentIntent(ctx, intentRequest(10000))
	require.NoError(t, err)
	assert.Equal(t, payment.StatusPending, intent.Status)
	assert.Contains(t, intent.ExternalReferenceID, "ref_pi_")
	assert.Nil(t, intent.ClientSecret)

	result, err := p.ConfirmPaymentIntent(ctx, ConfirmRequest{ExternalReferenceID: intent.ExternalReferenceID})
	require.NoError(t, err)
	require.True(t, result.Success)

	tx := result.Transaction
	assert.Equal(t, payment.StatusCompleted, tx.Status)
	require.NotNil(t, tx.PaymentIntentID)
	assert.Equal(t, intent.ID, *tx.PaymentIntentID)
	assert.Equal(t, int64(10000), tx.Amount)
	assert.Equal(t, "res_456", tx.ReservationID)
}

func TestReferenceProvider_ConfirmTwice_SameTransaction(t *testing.T) {
	p := NewReferenceProvider()
	ctx := context.Background()

	intent, err := p.CreatePaymentIntent(ctx, intentRequest(10000))
	require.NoError(t, err)

	first, err := p.ConfirmPaymentIntent(ctx, ConfirmRequest{ExternalReferenceID: intent.ExternalReferenceID})
	require.NoError(t, err)
	second, err := p.ConfirmPaymentIntent(ctx, ConfirmRequest{ExternalReferenceID: intent.ExternalReferenceID})
	require.NoError(t, err)

	require.True(t, second.Success)
	assert.Equal(t, first.Transaction.ID, second.Transaction.ID)
}

func TestReferenceProvider_ConfirmUnknownReference(t *testing.T) {
	p := NewReferenceProvider()

	result, err := p.ConfirmPaymentIntent(context.Background(), ConfirmRequest{ExternalReferenceID: "ref_pi_missing"})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, payment.FailureNotFound, result.FailureCode)
	assert.Contains(t, result.Error, "not found")
}

func TestReferenceProvider_ConfirmFallsBackToKnownIntent(t *testing.T) {
	ctx := context.Background()
	creator := NewReferenceProvider()
	intent, err := creator.CreatePaymentIntent(ctx, intentRequest(8000))
	require.NoError(t, err)

	// A fresh provider has an empty store, as after a restart.
	confirmer := NewReferenceProvider()
	result, err := confirmer.ConfirmPaymentIntent(ctx, ConfirmRequest{
		ExternalReferenceID: intent.ExternalReferenceID,
		Intent:              intent,
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, payment.NewTransactionID(intent.ID), result.Transaction.ID)
	assert.Equal(t, payment.StatusCompleted, result.Transaction.Status)
	assert.Equal(t, "res_456", result.Transaction.ReservationID)
	assert.Equal(t, int64(8000), result.Transaction.Amount)
	assert.Equal(t, payment.StatusPending, intent.Status, "caller's record must not be mutated")

	again, err := confirmer.ConfirmPaymentIntent(ctx, ConfirmRequest{ExternalReferenceID: intent.ExternalReferenceID})
	require.NoError(t, err)
	require.True(t, again.Success)
	assert.Equal(t, result.Transaction.ID, again.Transaction.ID)
}

func TestReferenceProvider_ConfirmIgnoresMismatchedKnownIntent(t *testing.T) {
	intent, err := payment.NewIntent("ref_pi_other", intentRequest(8000))
	require.NoError(t, err)

	result, err := NewReferenceProvider().ConfirmPaymentIntent(context.Background(), ConfirmRequest{
		ExternalReferenceID: "ref_pi_missing",
		Intent:              intent,
	})
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, payment.FailureNotFound, result.FailureCode)
}

func TestReferenceProvider_RefundWithOriginal(t *testing.T) {
	p := NewReferenceProvider()
	ctx := context.Background()

	processed, err := p.ProcessPayment(ctx, processRequest(12000))
	require.NoError(t, err)

	amount := int64(3000)
	result, err := p.RefundPayment(ctx, RefundRequest{
		RefundRequest: payment.RefundRequest{TransactionID: processed.Transaction.ID, Amount: &amount, Reason: "guest cancelled"},
		Original:      processed.Transaction,
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Equal(t, int64(3000), result.RefundAmount)
	assert.Equal(t, payment.StatusRefunded, result.Transaction.Status)
	assert.Equal(t, int64(3000), result.Transaction.RefundAmount)
	assert.Equal(t, "res_123", result.Transaction.ReservationID)
	assert.Equal(t, "guest cancelled", result.Transaction.Metadata["refund_reason"])
	assert.NotNil(t, result.Transaction.RefundedAt)

	// the caller's copy is untouched
	assert.Equal(t, payment.StatusCompleted, processed.Transaction.Status)
}

func TestReferenceProvider_RefundLinkedByMetadata(t *testing.T) {
	p := NewReferenceProvider()
	ctx := context.Background()

	processed, err := p.ProcessPayment(ctx, processRequest(8000))
	require.NoError(t, err)

	result, err := p.RefundPayment(ctx, RefundRequest{
		RefundRequest: payment.RefundRequest{
			TransactionID: "refund-request-1",
			Metadata:      map[string]string{OriginalTransactionKey: processed.Transaction.ID},
		},
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	// no amount means the full remainder
	assert.Equal(t, int64(8000), result.RefundAmount)
	assert.Equal(t, "cust_123", result.Transaction.CustomerID)
}

func TestReferenceProvider_RefundWithoutLink_ProducesStub(t *testing.T) {
	p := NewReferenceProvider()

	amount := int64(1500)
	result, err := p.RefundPayment(context.Background(), RefundRequest{
		RefundRequest: payment.RefundRequest{TransactionID: "tx_unknown", Amount: &amount},
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	assert.Equal(t, "tx_unknown", result.Transaction.ID)
	assert.Equal(t, payment.StatusRefunded, result.Transaction.Status)
	assert.Equal(t, int64(1500), result.Transaction.RefundAmount)
	assert.NotNil(t, result.Transaction.RefundedAt)
}

func TestReferenceProvider_RefundExceedsAmount(t *testing.T) {
	p := NewReferenceProvider()
	ctx := context.Background()

	processed, err := p.ProcessPayment(ctx, processRequest(1000))
	require.NoError(t, err)

	amount := int64(1001)
	result, err := p.RefundPayment(ctx, RefundRequest{
		RefundRequest: payment.RefundRequest{TransactionID: processed.Transaction.ID, Amount: &amount},
		Original:      processed.Transaction,
	})
	require.NoError(t, err)

	assert.False(t, result.Success)
	assert.Equal(t, payment.FailureExceedsAmount, result.FailureCode)
}

func TestReferenceProvider_GetPaymentStatus(t *testing.T) {
	p := NewReferenceProvider()
	ctx := context.Background()

	processed, err := p.ProcessPayment(ctx, processRequest(12000))
	require.NoError(t, err)

	tx, err := p.GetPaymentStatus(ctx, StatusRequest{TransactionID: processed.Transaction.ID})
	require.NoError(t, err)
	assert.Equal(t, processed.Transaction.ID, tx.ID)
	assert.Equal(t, payment.StatusCompleted, tx.Status)
}

func TestReferenceProvider_GetPaymentStatus_FallsBackToKnown(t *testing.T) {
	p := NewReferenceProvider()
	known := &payment.Transaction{ID: "tx_known", Status: payment.StatusRefunded, Amount: 100, RefundAmount: 100}

	tx, err := p.GetPaymentStatus(context.Background(), StatusRequest{TransactionID: "tx_known", Known: known})
	require.NoError(t, err)
	assert.Equal(t, payment.StatusRefunded, tx.Status)
}

func TestReferenceProvider_GetPaymentStatus_UnknownFailsClosed(t *testing.T) {
	p := NewReferenceProvider()

	_, err := p.GetPaymentStatus(context.Background(), StatusRequest{TransactionID: "tx_missing"})
	assert.ErrorIs(t, err, domainErrors.ErrTransactionNotFound)
}

func TestReferenceProvider_GetPaymentStatus_Synthesis(t *testing.T) {
	p := NewReferenceProvider(WithStatusSynthesis(true))

	tx, err := p.GetPaymentStatus(context.Background(), StatusRequest{TransactionID: "tx_missing"})
	require.NoError(t, err)
	assert.Equal(t, "tx_missing", tx.ID)
	assert.Equal(t, payment.StatusCompleted, tx.Status)
	assert.Equal(t, "true", tx.Metadata["synthesized"])
}

func TestReferenceProvider_CustomStore(t *testing.T) {
	store := NewMemoryReferenceStore()
	p := NewReferenceProvider(WithReferenceStore(store))

	intent, err := p.CreatePaymentIntent(context.Background(), intentRequest(2000))
	require.NoError(t, err)

	stored, err := store.GetIntent(context.Background(), intent.ExternalReferenceID)
	require.NoError(t, err)
	assert.Equal(t, intent.ID, stored.ID)
}

func TestReferenceProvider_NilStoreIsMisconfigured(t *testing.T) {
	p := NewReferenceProvider(WithReferenceStore(nil))

	assert.ErrorIs(t, p.ValidateConfig(), domainErrors.ErrProviderNotConfigured)
}
