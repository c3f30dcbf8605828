package providers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	domainErrors "github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/google/uuid"
)

// OriginalTransactionKey is the refund metadata key that links a refund to
// the transaction it reverses.
const OriginalTransactionKey = "original_transaction_id"

// ReferenceProvider settles payments locally without any outbound call. It
// records cash, bank transfers and card payments taken outside the system.
type ReferenceProvider struct {
	name       string
	store      ReferenceStore
	synthesize bool
	now        func() time.Time
}

type ReferenceProviderOption func(*ReferenceProvider)

// WithReferenceStore replaces the default in-memory store.
func WithReferenceStore(store ReferenceStore) ReferenceProviderOption {
	return func(p *ReferenceProvider) { p.store = store }
}

// WithStatusSynthesis makes GetPaymentStatus answer unknown ids with a
// completed stub instead of ErrTransactionNotFound. Demo and offline use only.
func WithStatusSynthesis(enabled bool) ReferenceProviderOption {
	return func(p *ReferenceProvider) { p.synthesize = enabled }
}

func NewReferenceProvider(opts ...ReferenceProviderOption) *ReferenceProvider {
	p := &ReferenceProvider{
		name:  string(payment.ProviderReference),
		store: NewMemoryReferenceStore(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *ReferenceProvider) Name() string { return p.name }

func (p *ReferenceProvider) SupportedMethods() []payment.Method {
	return []payment.Method{payment.MethodCash, payment.MethodBankTransfer, payment.MethodCard}
}

func (p *ReferenceProvider) ValidateConfig() error {
	if p.store == nil {
		return fmt.Errorf("%w: reference store is nil", domainErrors.ErrProviderNotConfigured)
	}
	return nil
}

func (p *ReferenceProvider) ProcessPayment(ctx context.Context, req payment.ProcessRequest) (*payment.ProcessResult, error) {
	tx, err := payment.NewTransaction(
		payment.NewTransactionID(req.IdempotencyKey),
		req.ReservationID,
		req.CustomerID,
		payment.Money{Amount: req.Amount, Currency: req.Currency},
		payment.Provider(p.name),
		req.Method,
	)
	if err != nil {
		return payment.Failed(payment.FailureGatewayError, err.Error()), nil
	}
	for k, v := range req.Metadata {
		tx.Metadata[k] = v
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		tx.IdempotencyKey = &key
	}
	if err := tx.MarkCompleted(newReference("ref")); err != nil {
		return nil, err
	}

	if err := p.store.SaveTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("save reference transaction: %w", err)
	}
	return &payment.ProcessResult{Success: true, Transaction: tx}, nil
}

func (p *ReferenceProvider) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	req.Provider = payment.Provider(p.name)
	intent, err := payment.NewIntent(newReference("ref_pi"), req)
	if err != nil {
		return nil, err
	}
	if err := p.store.SaveIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("save reference intent: %w", err)
	}
	return intent, nil
}

func (p *ReferenceProvider) ConfirmPaymentIntent(ctx context.Context, req ConfirmRequest) (*payment.ProcessResult, error) {
	intent, err := p.store.GetIntent(ctx, req.ExternalReferenceID)
	if errors.Is(err, domainErrors.ErrIntentNotFound) {
		// Another instance, or this one before a restart, created it.
		intent = p.knownIntent(req)
		if intent == nil {
			return payment.Failed(payment.FailureNotFound,
				fmt.Sprintf("payment intent %s not found", req.ExternalReferenceID)), nil
		}
	} else if err != nil {
		return nil, fmt.Errorf("load reference intent: %w", err)
	}

	// The transaction id is derived from the intent id so repeated
	// confirmations describe the same transaction.
	txID := payment.NewTransactionID(intent.ID)
	if intent.Status == payment.StatusCompleted {
		if tx, err := p.store.GetTransaction(ctx, txID); err == nil {
			return &payment.ProcessResult{Success: true, Transaction: tx}, nil
		}
	} else if err := intent.Complete(); err != nil {
		return payment.Failed(payment.FailureGatewayError, err.Error()), nil
	}
	tx := intent.ToTransaction(txID)
	if err := tx.MarkCompleted(intent.ExternalReferenceID); err != nil {
		return nil, err
	}

	if err := p.store.SaveIntent(ctx, intent); err != nil {
		return nil, fmt.Errorf("save reference intent: %w", err)
	}
	if err := p.store.SaveTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("save reference transaction: %w", err)
	}
	return &payment.ProcessResult{Success: true, Transaction: tx}, nil
}

func (p *ReferenceProvider) RefundPayment(ctx context.Context, req RefundRequest) (*payment.RefundResult, error) {
	original := req.Original
	if original == nil {
		if id := req.Metadata[OriginalTransactionKey]; id != "" {
			if tx, err := p.store.GetTransaction(ctx, id); err == nil {
				original = tx
			}
		}
	}
	if original == nil {
		if tx, err := p.store.GetTransaction(ctx, req.TransactionID); err == nil {
			original = tx
		}
	}

	if original == nil {
		// Without context there is nothing to bound the refund by, so the
		// stub records exactly what was asked for.
		return p.refundStub(req), nil
	}

	amount := original.Refundable()
	if req.Amount != nil {
		amount = *req.Amount
	}
	refunded := *original
	refunded.Metadata = mergeMetadata(original.Metadata, req.Metadata)
	if err := refunded.ApplyRefund(amount, p.now()); err != nil {
		if errors.Is(err, domainErrors.ErrRefundExceedsAmount) {
			return payment.RefundFailed(payment.FailureExceedsAmount, err.Error()), nil
		}
		return payment.RefundFailed(payment.FailureGatewayError, err.Error()), nil
	}
	if req.Reason != "" {
		refunded.Metadata["refund_reason"] = req.Reason
	}

	if err := p.store.SaveTransaction(ctx, &refunded); err != nil {
		return nil, fmt.Errorf("save reference refund: %w", err)
	}
	return &payment.RefundResult{Success: true, RefundAmount: amount, Transaction: &refunded}, nil
}

func (p *ReferenceProvider) refundStub(req RefundRequest) *payment.RefundResult {
	var amount int64
	if req.Amount != nil {
		amount = *req.Amount
	}
	now := p.now()
	ref := newReference("ref_rf")
	tx := &payment.Transaction{
		ID:                  req.TransactionID,
		Provider:            payment.Provider(p.name),
		Method:              payment.MethodCash,
		Status:              payment.StatusRefunded,
		Amount:              amount,
		RefundAmount:        amount,
		RefundedAt:          &now,
		ProcessedAt:         &now,
		ExternalReferenceID: &ref,
		Metadata:            mergeMetadata(nil, req.Metadata),
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if tx.ID == "" {
		tx.ID = uuid.NewString()
	}
	if req.Reason != "" {
		tx.Metadata["refund_reason"] = req.Reason
	}
	return &payment.RefundResult{Success: true, RefundAmount: amount, Transaction: tx}
}

func (p *ReferenceProvider) GetPaymentStatus(ctx context.Context, req StatusRequest) (*payment.Transaction, error) {
	tx, err := p.store.GetTransaction(ctx, req.TransactionID)
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, domainErrors.ErrTransactionNotFound) {
		return nil, fmt.Errorf("load reference transaction: %w", err)
	}
	if req.Known != nil {
		known := *req.Known
		return &known, nil
	}
	if !p.synthesize {
		return nil, domainErrors.ErrTransactionNotFound
	}

	now := p.now()
	return &payment.Transaction{
		ID:          req.TransactionID,
		Provider:    payment.Provider(p.name),
		Method:      payment.MethodCash,
		Status:      payment.StatusCompleted,
		Metadata:    map[string]string{"synthesized": "true"},
		ProcessedAt: &now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// knownIntent returns a copy of the caller's intent when it is one of ours
// and matches the reference being confirmed.
func (p *ReferenceProvider) knownIntent(req ConfirmRequest) *payment.Intent {
	if req.Intent == nil || req.Intent.ExternalReferenceID != req.ExternalReferenceID ||
		req.Intent.Provider != payment.Provider(p.name) {
		return nil
	}
	intent := *req.Intent
	intent.Metadata = mergeMetadata(req.Intent.Metadata, nil)
	return &intent
}

func newReference(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:16]
}

func mergeMetadata(base, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range extra {
		out[k] = v
	}
	return out
}
