package payment

// Failure codes carried by unsuccessful results.
const (
	FailureDeclined          = "declined"
	FailureTimeout           = "timeout"
	FailureUnavailable       = "unavailable"
	FailureGatewayError      = "gateway_error"
	FailureNotFound          = "not_found"
	FailureUnresolvedPayment = "unresolved_payment"
	FailureExceedsAmount     = "exceeds_amount"
	FailureRequiresAction    = "requires_action"
	FailureIntentClosed      = "intent_closed"
)

// ProcessRequest asks for a single-step payment.
type ProcessRequest struct {
	ReservationID      string            `json:"reservation_id" validate:"required"`
	CustomerID         string            `json:"customer_id" validate:"required"`
	Amount             int64             `json:"amount"`
	Currency           string            `json:"currency" validate:"required,len=3"`
	Method             Method            `json:"payment_method" validate:"required,oneof=card cash bank_transfer"`
	Provider           Provider          `json:"provider" validate:"required"`
	Metadata           map[string]string `json:"metadata,omitempty"`
	IdempotencyKey     string            `json:"idempotency_key,omitempty" validate:"omitempty,max=255"`
	PaymentMethodToken string            `json:"payment_method_token,omitempty"`
}

// ProcessResult is returned verbatim from the provider. Success=false is a
// business outcome, not an error.
type ProcessResult struct {
	Success        bool
	Transaction    *Transaction
	Error          string
	FailureCode    string
	RequiresAction bool
	ClientSecret   string
}

// Failed builds an unsuccessful process result.
func Failed(code, msg string) *ProcessResult {
	return &ProcessResult{Success: false, Error: msg, FailureCode: code}
}

// IntentRequest asks for a multi-step, client-confirmed payment.
type IntentRequest struct {
	ReservationID string            `json:"reservation_id" validate:"required"`
	CustomerID    string            `json:"customer_id" validate:"required"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency" validate:"required,len=3"`
	Method        Method            `json:"payment_method" validate:"required,oneof=card cash bank_transfer"`
	Provider      Provider          `json:"provider" validate:"required"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// IntentResult wraps a stored intent for callers.
type IntentResult struct {
	Success     bool
	Intent      *Intent
	Error       string
	FailureCode string
}

// RefundRequest refunds part or all of a transaction. A nil Amount refunds
// whatever has not been refunded yet.
type RefundRequest struct {
	TransactionID     string            `json:"transaction_id" validate:"required"`
	Amount            *int64            `json:"amount,omitempty"`
	Reason            string            `json:"reason,omitempty" validate:"omitempty,max=500"`
	ProviderPaymentID string            `json:"provider_payment_id,omitempty"`
	Metadata          map[string]string `json:"metadata,omitempty"`
}

// RefundResult reports the outcome of a refund.
type RefundResult struct {
	Success      bool
	RefundAmount int64
	Transaction  *Transaction
	Error        string
	FailureCode  string
}

// RefundFailed builds an unsuccessful refund result.
func RefundFailed(code, msg string) *RefundResult {
	return &RefundResult{Success: false, Error: msg, FailureCode: code}
}
