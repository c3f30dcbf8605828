package providers

import (
	"context"

	"github.com/cassiomorais/paycore/internal/domain/payment"
)

// Provider is a payment backend. Expected business outcomes such as declines
// or unknown references come back as results with Success=false; a returned
// error means a programming or deployment fault.
type Provider interface {
	// Name returns the provider name.
	Name() string
	// SupportedMethods lists the payment methods the provider accepts.
	SupportedMethods() []payment.Method
	// ProcessPayment charges in a single step.
	ProcessPayment(ctx context.Context, req payment.ProcessRequest) (*payment.ProcessResult, error)
	// CreatePaymentIntent opens an intent for later confirmation.
	CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error)
	// ConfirmPaymentIntent confirms an intent by its external reference.
	ConfirmPaymentIntent(ctx context.Context, req ConfirmRequest) (*payment.ProcessResult, error)
	// RefundPayment refunds part or all of a transaction.
	RefundPayment(ctx context.Context, req RefundRequest) (*payment.RefundResult, error)
	// GetPaymentStatus returns the provider's view of a transaction.
	GetPaymentStatus(ctx context.Context, req StatusRequest) (*payment.Transaction, error)
	// ValidateConfig reports missing or invalid configuration.
	ValidateConfig() error
}

// ConfirmRequest identifies the intent to confirm. Intent is the locally
// stored record when the caller has one.
type ConfirmRequest struct {
	ExternalReferenceID string
	Intent              *payment.Intent
}

// RefundRequest carries the caller's refund request plus the original
// transaction when it is known.
type RefundRequest struct {
	payment.RefundRequest
	Original *payment.Transaction
}

// StatusRequest identifies the transaction to look up. Known is the locally
// stored record when the caller has one.
type StatusRequest struct {
	TransactionID string
	Known         *payment.Transaction
}

// Supports reports whether p accepts method.
func Supports(p Provider, method payment.Method) bool {
	for _, m := range p.SupportedMethods() {
		if m == method {
			return true
		}
	}
	return false
}
