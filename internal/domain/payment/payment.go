package payment

import (
	"fmt"
	"strings"
	"time"

	"github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/google/uuid"
)

// Status represents the shared status of transactions and intents
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
	StatusRefunded   Status = "refunded"
)

// IsTerminal reports whether no further status change is possible.
// Refunded transactions still accept additional partial refunds.
func (s Status) IsTerminal() bool {
	return s == StatusFailed || s == StatusCancelled || s == StatusRefunded
}

// Method represents how the customer pays
type Method string

const (
	MethodCard         Method = "card"
	MethodCash         Method = "cash"
	MethodBankTransfer Method = "bank_transfer"
)

// Provider represents the backend that handled a payment
type Provider string

const (
	ProviderReference Provider = "reference"
	ProviderStripe    Provider = "stripe"
)

var transactionTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {StatusRefunded},
	StatusRefunded:   {StatusRefunded},
	StatusFailed:     {},
}

var intentTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled},
	StatusProcessing: {StatusCompleted, StatusFailed, StatusCancelled},
	StatusCompleted:  {},
	StatusFailed:     {},
	StatusCancelled:  {},
}

func canTransition(table map[Status][]Status, from, to Status) bool {
	allowed, ok := table[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// MapGatewayStatus maps a hosted gateway intent status onto Status.
// Unknown codes map to failed.
func MapGatewayStatus(status string) Status {
	switch {
	case status == "succeeded":
		return StatusCompleted
	case status == "processing":
		return StatusProcessing
	case strings.HasPrefix(status, "requires_"):
		return StatusPending
	case status == "canceled":
		return StatusCancelled
	default:
		return StatusFailed
	}
}

// Transaction is the durable record of money having moved, or having been
// attempted to move.
type Transaction struct {
	ID                  string
	ReservationID       string
	CustomerID          string
	Amount              int64
	Currency            string
	Provider            Provider
	Method              Method
	Status              Status
	PaymentIntentID     *string
	ExternalReferenceID *string
	IdempotencyKey      *string
	Metadata            map[string]string
	ProcessedAt         *time.Time
	RefundedAt          *time.Time
	RefundAmount        int64
	ErrorMessage        *string
	Version             int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewTransaction creates a pending transaction.
func NewTransaction(id, reservationID, customerID string, money Money, provider Provider, method Method) (*Transaction, error) {
	if err := money.Validate(); err != nil {
		return nil, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	now := time.Now().UTC()
	return &Transaction{
		ID:            id,
		ReservationID: reservationID,
		CustomerID:    customerID,
		Amount:        money.Amount,
		Currency:      money.Currency,
		Provider:      provider,
		Method:        method,
		Status:        StatusPending,
		Metadata:      make(map[string]string),
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Money returns the amount and currency of the transaction.
func (t *Transaction) Money() Money {
	return Money{Amount: t.Amount, Currency: t.Currency}
}

// Refundable returns the amount that has not been refunded yet.
func (t *Transaction) Refundable() int64 {
	return t.Amount - t.RefundAmount
}

func (t *Transaction) CanTransitionTo(newStatus Status) bool {
	return canTransition(transactionTransitions, t.Status, newStatus)
}

// TransitionTo transitions the transaction to a new status
func (t *Transaction) TransitionTo(newStatus Status) error {
	if !t.CanTransitionTo(newStatus) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition transaction from "+string(t.Status)+" to "+string(newStatus),
			errors.ErrInvalidStateTransition,
		)
	}
	now := time.Now().UTC()
	t.Status = newStatus
	t.UpdatedAt = now
	if newStatus == StatusCompleted || newStatus == StatusFailed {
		t.ProcessedAt = &now
	}
	return nil
}

// MarkCompleted transitions the transaction to completed status
func (t *Transaction) MarkCompleted(externalRef string) error {
	if err := t.TransitionTo(StatusCompleted); err != nil {
		return err
	}
	if externalRef != "" {
		t.ExternalReferenceID = &externalRef
	}
	return nil
}

// MarkFailed transitions the transaction to failed status
func (t *Transaction) MarkFailed(msg string) error {
	if err := t.TransitionTo(StatusFailed); err != nil {
		return err
	}
	t.ErrorMessage = &msg
	return nil
}

// ApplyRefund adds amount to the refunded total. Refunds accumulate and may
// never exceed the original amount.
func (t *Transaction) ApplyRefund(amount int64, at time.Time) error {
	if amount <= 0 {
		return errors.NewValidationError("amount", "refund amount must be positive")
	}
	if t.Status != StatusCompleted && t.Status != StatusRefunded {
		return errors.NewDomainError(
			"not_refundable",
			fmt.Sprintf("cannot refund transaction in status %s", t.Status),
			errors.ErrNotRefundable,
		)
	}
	if amount > t.Refundable() {
		return errors.NewDomainError(
			"refund_exceeds_amount",
			fmt.Sprintf("refund of %d exceeds refundable %d", amount, t.Refundable()),
			errors.ErrRefundExceedsAmount,
		)
	}
	if err := t.TransitionTo(StatusRefunded); err != nil {
		return err
	}
	t.RefundAmount += amount
	t.RefundedAt = &at
	return nil
}

// Intent is a provisional authorization that may later produce a transaction.
type Intent struct {
	ID                  string
	ExternalReferenceID string
	Provider            Provider
	Amount              int64
	Currency            string
	Status              Status
	Method              Method
	ReservationID       string
	CustomerID          string
	Metadata            map[string]string
	ClientSecret        *string
	ErrorMessage        *string
	ProcessedAt         *time.Time
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// NewIntent creates a pending intent with a fresh internal id.
func NewIntent(externalRef string, req IntentRequest) (*Intent, error) {
	money := Money{Amount: req.Amount, Currency: req.Currency}
	if err := money.Validate(); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	return &Intent{
		ID:                  uuid.NewString(),
		ExternalReferenceID: externalRef,
		Provider:            req.Provider,
		Amount:              req.Amount,
		Currency:            req.Currency,
		Status:              StatusPending,
		Method:              req.Method,
		ReservationID:       req.ReservationID,
		CustomerID:          req.CustomerID,
		Metadata:            copyMetadata(req.Metadata),
		CreatedAt:           now,
		UpdatedAt:           now,
	}, nil
}

func (i *Intent) CanTransitionTo(newStatus Status) bool {
	return canTransition(intentTransitions, i.Status, newStatus)
}

// TransitionTo transitions the intent to a new status
func (i *Intent) TransitionTo(newStatus Status) error {
	if !i.CanTransitionTo(newStatus) {
		return errors.NewDomainError(
			"invalid_transition",
			"cannot transition intent from "+string(i.Status)+" to "+string(newStatus),
			errors.ErrInvalidStateTransition,
		)
	}
	now := time.Now().UTC()
	i.Status = newStatus
	i.UpdatedAt = now
	if newStatus == StatusCompleted || newStatus == StatusFailed {
		i.ProcessedAt = &now
	}
	return nil
}

func (i *Intent) Complete() error {
	return i.TransitionTo(StatusCompleted)
}

func (i *Intent) Fail(msg string) error {
	if err := i.TransitionTo(StatusFailed); err != nil {
		return err
	}
	i.ErrorMessage = &msg
	return nil
}

func (i *Intent) Cancel() error {
	return i.TransitionTo(StatusCancelled)
}

// ToTransaction builds the transaction a confirmed intent produces.
func (i *Intent) ToTransaction(id string) *Transaction {
	now := time.Now().UTC()
	intentID := i.ID
	tx := &Transaction{
		ID:              id,
		ReservationID:   i.ReservationID,
		CustomerID:      i.CustomerID,
		Amount:          i.Amount,
		Currency:        i.Currency,
		Provider:        i.Provider,
		Method:          i.Method,
		Status:          StatusPending,
		PaymentIntentID: &intentID,
		Metadata:        copyMetadata(i.Metadata),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if i.ExternalReferenceID != "" {
		ref := i.ExternalReferenceID
		tx.ExternalReferenceID = &ref
	}
	return tx
}

// idNamespace scopes derived ids so they never collide with random v4 ids.
var idNamespace = uuid.MustParse("6f1c2a8e-3b57-4d0e-9a41-7c9e2f5d8b13")

// NewTransactionID returns a transaction id. A non-empty seed (an idempotency
// key or an intent id) always yields the same id.
func NewTransactionID(seed string) string {
	if seed == "" {
		return uuid.NewString()
	}
	return uuid.NewSHA1(idNamespace, []byte(seed)).String()
}

func copyMetadata(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
