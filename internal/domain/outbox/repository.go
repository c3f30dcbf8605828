package outbox

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Insert creates a new outbox entry (typically inside a transaction)
	Insert(ctx context.Context, entry *Entry) error

	// GetPending returns pending outbox entries up to the given limit
	GetPending(ctx context.Context, limit int) ([]*Entry, error)

	// MarkPublished marks an outbox entry as published
	MarkPublished(ctx context.Context, id uuid.UUID) error

	// MarkFailed records a failed publish attempt. The entry stays pending
	// until it runs out of retries.
	MarkFailed(ctx context.Context, id uuid.UUID, reason string) error

	// CountPending returns how many entries still wait for publishing
	CountPending(ctx context.Context) (int, error)
}
