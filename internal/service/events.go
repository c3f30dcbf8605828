package service

import (
	"github.com/cassiomorais/paycore/internal/domain/outbox"
	"github.com/cassiomorais/paycore/internal/domain/payment"
)

func transactionEvent(eventType string, tx *payment.Transaction) *outbox.Entry {
	payload := map[string]any{
		"transaction_id": tx.ID,
		"reservation_id": tx.ReservationID,
		"customer_id":    tx.CustomerID,
		"amount":         tx.Amount,
		"currency":       tx.Currency,
		"provider":       string(tx.Provider),
		"payment_method": string(tx.Method),
		"status":         string(tx.Status),
		"refund_amount":  tx.RefundAmount,
	}
	if tx.PaymentIntentID != nil {
		payload["payment_intent_id"] = *tx.PaymentIntentID
	}
	if tx.ExternalReferenceID != nil {
		payload["external_reference_id"] = *tx.ExternalReferenceID
	}
	return outbox.NewEntry(outbox.AggregateTransaction, tx.ID, eventType, payload)
}

// intentEvent never carries the client secret.
func intentEvent(eventType string, intent *payment.Intent) *outbox.Entry {
	payload := map[string]any{
		"intent_id":             intent.ID,
		"external_reference_id": intent.ExternalReferenceID,
		"reservation_id":        intent.ReservationID,
		"customer_id":           intent.CustomerID,
		"amount":                intent.Amount,
		"currency":              intent.Currency,
		"provider":              string(intent.Provider),
		"status":                string(intent.Status),
	}
	if intent.ErrorMessage != nil {
		payload["error"] = *intent.ErrorMessage
	}
	return outbox.NewEntry(outbox.AggregateIntent, intent.ID, eventType, payload)
}
