package service

import (
	"context"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/cassiomorais/paycore/internal/domain/outbox"
	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/cassiomorais/paycore/internal/providers"
	"go.opentelemetry.io/otel/attribute"
)

// RefundPayment refunds part or all of a stored transaction. A nil amount
// refunds whatever has not been refunded yet. Refunds on one transaction are
// serialized by a lock, and storage rejects the update if the row changed
// since it was read or the total would exceed the amount.
func (s *PaymentService) RefundPayment(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	ctx, span := s.startSpan(ctx, "RefundPayment", attribute.String("transaction_id", req.TransactionID))
	defer span.End()
	start := time.Now()

	if res := s.validator.ValidateRefund(req); !res.Valid {
		return nil, res.Err()
	}

	release, err := s.locker.Lock(ctx, "transaction:"+req.TransactionID)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	defer s.release(ctx, release, req.TransactionID)

	original, err := s.transactions.FindTransaction(ctx, req.TransactionID)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	amount, err := refundAmount(original, req.Amount)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	p, err := s.providers.Get(original.Provider)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	preq := providers.RefundRequest{RefundRequest: req, Original: original}
	preq.Amount = &amount
	result, err := p.RefundPayment(ctx, preq)
	if err != nil {
		s.observe(original.Provider, "refund", "error", start)
		return nil, recordSpanError(span, fmt.Errorf("provider %s: %w", original.Provider, err))
	}
	if !result.Success {
		s.observeFailure(original.Provider, "refund", result.FailureCode, start)
		s.logger.Warn().Str("transaction_id", original.ID).Str("failure_code", result.FailureCode).
			Str("error", result.Error).Msg("Refund not successful")
		return result, nil
	}

	refunded := result.RefundAmount
	if refunded <= 0 {
		refunded = amount
	}
	now := s.now()
	patch := payment.TransactionPatch{
		Status:          payment.StatusPtr(payment.StatusRefunded),
		AddRefund:       refunded,
		RefundedAt:      &now,
		ExpectedVersion: original.Version,
	}

	var updated *payment.Transaction
	err = s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		if updated, err = s.transactions.UpdateTransaction(ctx, original.ID, patch); err != nil {
			return err
		}
		entry := transactionEvent(outbox.EventPaymentRefunded, updated)
		entry.Payload["refund_delta"] = refunded
		if req.Reason != "" {
			entry.Payload["reason"] = req.Reason
		}
		return s.outboxRepo.Insert(ctx, entry)
	})
	if err != nil {
		return nil, recordSpanError(span, s.persistenceFailure("refund", deref(original.ExternalReferenceID), err))
	}

	s.observe(original.Provider, "refund", "success", start)
	if s.metrics != nil {
		s.metrics.RefundAmount.WithLabelValues(string(original.Provider)).Add(float64(refunded))
	}
	s.logger.Info().Str("transaction_id", updated.ID).Int64("refund_amount", refunded).
		Int64("refunded_total", updated.RefundAmount).Msg("Payment refunded")

	result.RefundAmount = refunded
	result.Transaction = updated
	return result, nil
}

// refundAmount resolves the amount to refund and checks it against what is
// left on the transaction.
func refundAmount(tx *payment.Transaction, requested *int64) (int64, error) {
	if tx.Status != payment.StatusCompleted && tx.Status != payment.StatusRefunded {
		return 0, domainErrors.NewDomainError(
			"not_refundable",
			fmt.Sprintf("cannot refund transaction %s in status %s", tx.ID, tx.Status),
			domainErrors.ErrNotRefundable,
		)
	}
	remaining := tx.Refundable()
	amount := remaining
	if requested != nil {
		amount = *requested
	}
	if amount <= 0 || amount > remaining {
		return 0, domainErrors.NewDomainError(
			"refund_exceeds_amount",
			fmt.Sprintf("refund of %d exceeds refundable %d on transaction %s", amount, remaining, tx.ID),
			domainErrors.ErrRefundExceedsAmount,
		)
	}
	return amount, nil
}
