package controller

import (
	"time"

	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/cassiomorais/paycore/internal/providers"
)

// --- Request DTOs ---
// Shape checks live in the validate tags. Business rules such as amount
// bounds and the accepted currency are applied by the service validator.

// ProcessPaymentRequest holds the input for a single-step payment.
type ProcessPaymentRequest struct {
	ReservationID      string            `json:"reservation_id" validate:"required"`
	CustomerID         string            `json:"customer_id" validate:"required"`
	Amount             int64             `json:"amount"`
	Currency           string            `json:"currency" validate:"required"`
	PaymentMethod      string            `json:"payment_method" validate:"required"`
	Provider           string            `json:"provider" validate:"required"`
	PaymentMethodToken string            `json:"payment_method_token,omitempty"`
	Metadata           map[string]string `json:"metadata,omitempty"`
}

func (r ProcessPaymentRequest) toDomain(idempotencyKey string) payment.ProcessRequest {
	return payment.ProcessRequest{
		ReservationID:      r.ReservationID,
		CustomerID:         r.CustomerID,
		Amount:             r.Amount,
		Currency:           r.Currency,
		Method:             payment.Method(r.PaymentMethod),
		Provider:           payment.Provider(r.Provider),
		Metadata:           r.Metadata,
		IdempotencyKey:     idempotencyKey,
		PaymentMethodToken: r.PaymentMethodToken,
	}
}

// CreateIntentRequest holds the input for a client-confirmed payment.
type CreateIntentRequest struct {
	ReservationID string            `json:"reservation_id" validate:"required"`
	CustomerID    string            `json:"customer_id" validate:"required"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency" validate:"required"`
	PaymentMethod string            `json:"payment_method" validate:"required"`
	Provider      string            `json:"provider" validate:"required"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

func (r CreateIntentRequest) toDomain() payment.IntentRequest {
	return payment.IntentRequest{
		ReservationID: r.ReservationID,
		CustomerID:    r.CustomerID,
		Amount:        r.Amount,
		Currency:      r.Currency,
		Method:        payment.Method(r.PaymentMethod),
		Provider:      payment.Provider(r.Provider),
		Metadata:      r.Metadata,
	}
}

// RefundRequest holds the input for a refund. Amount is omitted to refund
// the remaining balance. ProviderPaymentID names the provider-side payment
// when the stored transaction does not carry it.
type RefundRequest struct {
	Amount            *int64            `json:"amount,omitempty" validate:"omitempty,gt=0"`
	Reason            string            `json:"reason,omitempty" validate:"max=500"`
	ProviderPaymentID string            `json:"provider_payment_id,omitempty" validate:"max=255"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// --- Response DTOs ---

// TransactionResponse represents a stored transaction. Amounts are in minor
// units; AmountDisplay renders them in major units.
type TransactionResponse struct {
	ID                  string            `json:"id"`
	ReservationID       string            `json:"reservation_id"`
	CustomerID          string            `json:"customer_id"`
	Amount              int64             `json:"amount"`
	AmountDisplay       string            `json:"amount_display"`
	Currency            string            `json:"currency"`
	Provider            string            `json:"provider"`
	PaymentMethod       string            `json:"payment_method"`
	Status              string            `json:"status"`
	PaymentIntentID     *string           `json:"payment_intent_id,omitempty"`
	ExternalReferenceID *string           `json:"external_reference_id,omitempty"`
	RefundAmount        int64             `json:"refund_amount"`
	RefundableAmount    int64             `json:"refundable_amount"`
	ErrorMessage        *string           `json:"error_message,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	ProcessedAt         *time.Time        `json:"processed_at,omitempty"`
	RefundedAt          *time.Time        `json:"refunded_at,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// IntentResponse represents a payment intent. ClientSecret is only present
// on the response that created the intent.
type IntentResponse struct {
	ID                  string            `json:"id"`
	ExternalReferenceID string            `json:"external_reference_id"`
	Provider            string            `json:"provider"`
	Amount              int64             `json:"amount"`
	Currency            string            `json:"currency"`
	Status              string            `json:"status"`
	PaymentMethod       string            `json:"payment_method"`
	ReservationID       string            `json:"reservation_id"`
	CustomerID          string            `json:"customer_id"`
	ClientSecret        *string           `json:"client_secret,omitempty"`
	ErrorMessage        *string           `json:"error_message,omitempty"`
	Metadata            map[string]string `json:"metadata,omitempty"`
	ProcessedAt         *time.Time        `json:"processed_at,omitempty"`
	CreatedAt           time.Time         `json:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at"`
}

// PaymentResultResponse is the outcome of a process or confirm call.
type PaymentResultResponse struct {
	Success        bool                 `json:"success"`
	Transaction    *TransactionResponse `json:"transaction,omitempty"`
	Error          string               `json:"error,omitempty"`
	FailureCode    string               `json:"failure_code,omitempty"`
	RequiresAction bool                 `json:"requires_action,omitempty"`
	ClientSecret   string               `json:"client_secret,omitempty"`
}

// IntentResultResponse is the outcome of creating an intent.
type IntentResultResponse struct {
	Success     bool            `json:"success"`
	Intent      *IntentResponse `json:"intent,omitempty"`
	Error       string          `json:"error,omitempty"`
	FailureCode string          `json:"failure_code,omitempty"`
}

// RefundResultResponse is the outcome of a refund.
type RefundResultResponse struct {
	Success      bool                 `json:"success"`
	RefundAmount int64                `json:"refund_amount"`
	Transaction  *TransactionResponse `json:"transaction,omitempty"`
	Error        string               `json:"error,omitempty"`
	FailureCode  string               `json:"failure_code,omitempty"`
}

// ProviderResponse describes one registered provider.
type ProviderResponse struct {
	Name           string   `json:"name"`
	Enabled        bool     `json:"enabled"`
	Reason         string   `json:"reason,omitempty"`
	PaymentMethods []string `json:"payment_methods,omitempty"`
	CircuitState   string   `json:"circuit_state,omitempty"`
}

// ErrorResponse represents an error response.
type ErrorResponse struct {
	Error               string   `json:"error"`
	Code                string   `json:"code"`
	Details             []string `json:"details,omitempty"`
	ExternalReferenceID string   `json:"external_reference_id,omitempty"`
}

// --- Conversion helpers ---

// FromTransaction converts a domain transaction to API response.
func FromTransaction(t *payment.Transaction) *TransactionResponse {
	if t == nil {
		return nil
	}
	return &TransactionResponse{
		ID:                  t.ID,
		ReservationID:       t.ReservationID,
		CustomerID:          t.CustomerID,
		Amount:              t.Amount,
		AmountDisplay:       t.Money().String(),
		Currency:            t.Currency,
		Provider:            string(t.Provider),
		PaymentMethod:       string(t.Method),
		Status:              string(t.Status),
		PaymentIntentID:     t.PaymentIntentID,
		ExternalReferenceID: t.ExternalReferenceID,
		RefundAmount:        t.RefundAmount,
		RefundableAmount:    t.Refundable(),
		ErrorMessage:        t.ErrorMessage,
		Metadata:            t.Metadata,
		ProcessedAt:         t.ProcessedAt,
		RefundedAt:          t.RefundedAt,
		CreatedAt:           t.CreatedAt,
		UpdatedAt:           t.UpdatedAt,
	}
}

func FromTransactions(txs []*payment.Transaction) []*TransactionResponse {
	out := make([]*TransactionResponse, 0, len(txs))
	for _, t := range txs {
		out = append(out, FromTransaction(t))
	}
	return out
}

// FromIntent converts a domain intent to API response.
func FromIntent(i *payment.Intent) *IntentResponse {
	if i == nil {
		return nil
	}
	return &IntentResponse{
		ID:                  i.ID,
		ExternalReferenceID: i.ExternalReferenceID,
		Provider:            string(i.Provider),
		Amount:              i.Amount,
		Currency:            i.Currency,
		Status:              string(i.Status),
		PaymentMethod:       string(i.Method),
		ReservationID:       i.ReservationID,
		CustomerID:          i.CustomerID,
		ClientSecret:        i.ClientSecret,
		ErrorMessage:        i.ErrorMessage,
		Metadata:            i.Metadata,
		ProcessedAt:         i.ProcessedAt,
		CreatedAt:           i.CreatedAt,
		UpdatedAt:           i.UpdatedAt,
	}
}

func FromProcessResult(r *payment.ProcessResult) *PaymentResultResponse {
	return &PaymentResultResponse{
		Success:        r.Success,
		Transaction:    FromTransaction(r.Transaction),
		Error:          r.Error,
		FailureCode:    r.FailureCode,
		RequiresAction: r.RequiresAction,
		ClientSecret:   r.ClientSecret,
	}
}

func FromIntentResult(r *payment.IntentResult) *IntentResultResponse {
	return &IntentResultResponse{
		Success:     r.Success,
		Intent:      FromIntent(r.Intent),
		Error:       r.Error,
		FailureCode: r.FailureCode,
	}
}

func FromRefundResult(r *payment.RefundResult) *RefundResultResponse {
	return &RefundResultResponse{
		Success:      r.Success,
		RefundAmount: r.RefundAmount,
		Transaction:  FromTransaction(r.Transaction),
		Error:        r.Error,
		FailureCode:  r.FailureCode,
	}
}

// FromProviderStatus converts a registry status. p is nil for disabled
// providers.
func FromProviderStatus(s providers.ProviderStatus, p providers.Provider) ProviderResponse {
	resp := ProviderResponse{Name: s.Name, Enabled: s.Enabled, Reason: s.Reason}
	if p == nil {
		return resp
	}
	for _, m := range p.SupportedMethods() {
		resp.PaymentMethods = append(resp.PaymentMethods, string(m))
	}
	if b, ok := p.(breakerReporter); ok {
		resp.CircuitState = b.State().String()
	}
	return resp
}
