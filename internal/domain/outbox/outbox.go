package outbox

import (
	"time"

	"github.com/google/uuid"
)

// Aggregate types
const (
	AggregateTransaction = "transaction"
	AggregateIntent      = "intent"
)

// Event types
const (
	EventPaymentCompleted  = "payment.completed"
	EventPaymentProcessing = "payment.processing"
	EventPaymentRefunded   = "payment.refunded"
	EventPaymentSynced     = "payment.synced"
	EventIntentCreated     = "intent.created"
	EventIntentConfirmed   = "intent.confirmed"
	EventIntentFailed      = "intent.failed"
	EventIntentCancelled   = "intent.cancelled"
)

type Entry struct {
	ID            uuid.UUID
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       map[string]any
	Status        Status
	RetryCount    int
	MaxRetries    int
	LastError     *string
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusPublished Status = "published"
	StatusFailed    Status = "failed"
)

func NewEntry(aggregateType string, aggregateID string, eventType string, payload map[string]any) *Entry {
	return &Entry{
		ID:            uuid.New(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       payload,
		Status:        StatusPending,
		RetryCount:    0,
		MaxRetries:    5,
		CreatedAt:     time.Now().UTC(),
	}
}
