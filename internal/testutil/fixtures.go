package testutil

import (
	"time"

	"github.com/cassiomorais/paycore/internal/domain/payment"
)

func NewProcessRequest(provider payment.Provider, method payment.Method, amount int64) payment.ProcessRequest {
	return payment.ProcessRequest{
		ReservationID: "res_123",
		CustomerID:    "cust_123",
		Amount:        amount,
		Currency:      "JPY",
		Method:        method,
		Provider:      provider,
		Metadata:      map[string]string{"room": "204"},
	}
}

func NewIntentRequest(provider payment.Provider, method payment.Method, amount int64) payment.IntentRequest {
	return payment.IntentRequest{
		ReservationID: "res_123",
		CustomerID:    "cust_123",
		Amount:        amount,
		Currency:      "JPY",
		Method:        method,
		Provider:      provider,
	}
}

// NewCompletedTransaction builds a completed transaction as a provider
// would return it.
func NewCompletedTransaction(id string, provider payment.Provider, amount int64) *payment.Transaction {
	now := time.Now().UTC()
	ref := "ext_" + id
	return &payment.Transaction{
		ID:                  id,
		ReservationID:       "res_123",
		CustomerID:          "cust_123",
		Amount:              amount,
		Currency:            "JPY",
		Provider:            provider,
		Method:              payment.MethodCard,
		Status:              payment.StatusCompleted,
		ExternalReferenceID: &ref,
		Metadata:            map[string]string{},
		ProcessedAt:         &now,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

func Int64Ptr(v int64) *int64 {
	return &v
}

func StringPtr(v string) *string {
	return &v
}
