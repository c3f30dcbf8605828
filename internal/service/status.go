package service

import (
	"context"
	"errors"
	"fmt"

	domainErrors "github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/cassiomorais/paycore/internal/domain/outbox"
	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/cassiomorais/paycore/internal/providers"
	"go.opentelemetry.io/otel/attribute"
)

// GetPaymentStatus asks the transaction's provider for its latest state and
// stores a changed status when the transition is legal. Gateway failures
// surface as ErrProviderUnavailable; the stored copy is never returned in
// their place.
func (s *PaymentService) GetPaymentStatus(ctx context.Context, transactionID string) (*payment.Transaction, error) {
	ctx, span := s.startSpan(ctx, "GetPaymentStatus", attribute.String("transaction_id", transactionID))
	defer span.End()

	stored, err := s.transactions.FindTransaction(ctx, transactionID)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	p, err := s.providers.Get(stored.Provider)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	latest, err := p.GetPaymentStatus(ctx, providers.StatusRequest{TransactionID: transactionID, Known: stored})
	if errors.Is(err, domainErrors.ErrTransactionNotFound) {
		// The provider has nothing to reconcile against; storage is authoritative.
		return stored, nil
	}
	if err != nil {
		if !errors.Is(err, domainErrors.ErrProviderUnavailable) {
			err = fmt.Errorf("%w: %v", domainErrors.ErrProviderUnavailable, err)
		}
		return nil, recordSpanError(span, err)
	}

	if latest.Status == stored.Status || !stored.CanTransitionTo(latest.Status) {
		return stored, nil
	}
	return s.syncStatus(ctx, stored, latest)
}

func (s *PaymentService) syncStatus(ctx context.Context, stored, latest *payment.Transaction) (*payment.Transaction, error) {
	patch := payment.TransactionPatch{
		Status:       payment.StatusPtr(latest.Status),
		ErrorMessage: latest.ErrorMessage,
		ProcessedAt:  latest.ProcessedAt,
	}
	if latest.Status == payment.StatusCompleted || latest.Status == payment.StatusFailed {
		if patch.ProcessedAt == nil {
			now := s.now()
			patch.ProcessedAt = &now
		}
	}

	var updated *payment.Transaction
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		if updated, err = s.transactions.UpdateTransaction(ctx, stored.ID, patch); err != nil {
			return err
		}
		if err := s.syncIntent(ctx, updated); err != nil {
			return err
		}
		entry := transactionEvent(outbox.EventPaymentSynced, updated)
		entry.Payload["previous_status"] = string(stored.Status)
		return s.outboxRepo.Insert(ctx, entry)
	})
	if err != nil {
		return nil, fmt.Errorf("store synced status for %s: %w", stored.ID, err)
	}

	s.logger.Info().Str("transaction_id", stored.ID).Str("from", string(stored.Status)).
		Str("to", string(updated.Status)).Msg("Transaction status synced with provider")
	return updated, nil
}

// GetPaymentHistory lists a customer's transactions from storage, newest first.
func (s *PaymentService) GetPaymentHistory(ctx context.Context, customerID string) ([]*payment.Transaction, error) {
	if customerID == "" {
		return nil, domainErrors.NewValidationError("customer_id", "customer_id is required")
	}
	return s.transactions.ListTransactionsByCustomer(ctx, customerID)
}

// GetPaymentHistoryByReservation lists a reservation's transactions from
// storage, newest first.
func (s *PaymentService) GetPaymentHistoryByReservation(ctx context.Context, reservationID string) ([]*payment.Transaction, error) {
	if reservationID == "" {
		return nil, domainErrors.NewValidationError("reservation_id", "reservation_id is required")
	}
	return s.transactions.ListTransactionsByReservation(ctx, reservationID)
}

// GetIntent returns a stored intent.
func (s *PaymentService) GetIntent(ctx context.Context, intentID string) (*payment.Intent, error) {
	return s.intents.FindIntent(ctx, intentID)
}
