package payment

import (
	"context"
	"time"
)

// TransactionRepository defines the interface for transaction persistence
type TransactionRepository interface {
	// CreateTransaction inserts a transaction. Replaying one with a known id
	// refreshes it but keeps its recorded refunds.
	CreateTransaction(ctx context.Context, tx *Transaction) error

	// UpdateTransaction applies a field-level patch atomically and returns the stored row
	UpdateTransaction(ctx context.Context, id string, patch TransactionPatch) (*Transaction, error)

	// FindTransaction retrieves a transaction by ID
	FindTransaction(ctx context.Context, id string) (*Transaction, error)

	// FindTransactionByIntent retrieves the transaction produced by an intent
	FindTransactionByIntent(ctx context.Context, intentID string) (*Transaction, error)

	// FindTransactionByIdempotencyKey retrieves a transaction by idempotency key
	FindTransactionByIdempotencyKey(ctx context.Context, key string) (*Transaction, error)

	// ListTransactionsByCustomer lists a customer's transactions, newest first
	ListTransactionsByCustomer(ctx context.Context, customerID string) ([]*Transaction, error)

	// ListTransactionsByReservation lists a reservation's transactions, newest first
	ListTransactionsByReservation(ctx context.Context, reservationID string) ([]*Transaction, error)

	// ListStaleTransactions lists transactions stuck in status since before olderThan
	ListStaleTransactions(ctx context.Context, status Status, olderThan time.Time, limit int) ([]*Transaction, error)
}

// IntentRepository defines the interface for intent persistence
type IntentRepository interface {
	// CreateIntent inserts an intent, or overwrites the one with the same id
	CreateIntent(ctx context.Context, intent *Intent) error

	// UpdateIntent applies a field-level patch atomically and returns the stored row
	UpdateIntent(ctx context.Context, id string, patch IntentPatch) (*Intent, error)

	// FindIntent retrieves an intent by its internal ID
	FindIntent(ctx context.Context, id string) (*Intent, error)

	// FindIntentByExternalReference retrieves an intent by the provider's reference
	FindIntentByExternalReference(ctx context.Context, provider Provider, ref string) (*Intent, error)
}

// TransactionPatch lists the fields an update may touch. Nil fields are left
// unchanged. AddRefund is added to refund_amount and rejected when the total
// would exceed amount. A non-zero ExpectedVersion makes the update fail with
// ErrOptimisticLockFailed unless the stored row is still at that version.
type TransactionPatch struct {
	Status              *Status
	AddRefund           int64
	RefundedAt          *time.Time
	ExternalReferenceID *string
	ErrorMessage        *string
	ProcessedAt         *time.Time
	ExpectedVersion     int
}

// IntentPatch lists the fields an intent update may touch.
type IntentPatch struct {
	Status       *Status
	ErrorMessage *string
	ProcessedAt  *time.Time
}

// StatusPtr returns a pointer to s.
func StatusPtr(s Status) *Status {
	return &s
}
