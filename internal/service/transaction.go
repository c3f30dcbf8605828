package service

import (
	"context"

	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/cassiomorais/paycore/internal/providers"
)

// TransactionManager defines the interface for transaction management.
// Services use this to wrap multiple repository operations in a single transaction.
type TransactionManager interface {
	// WithTransaction executes the given function within a database transaction.
	// If fn returns an error, the transaction is rolled back.
	// Otherwise, it is committed.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Locker serializes work on one key across instances. The returned release
// function must be called once the critical section is done.
type Locker interface {
	Lock(ctx context.Context, key string) (func(context.Context) error, error)
}

// ProviderLookup resolves an enabled provider by name.
type ProviderLookup interface {
	Get(name payment.Provider) (providers.Provider, error)
}

type noopLocker struct{}

func (noopLocker) Lock(context.Context, string) (func(context.Context) error, error) {
	return func(context.Context) error { return nil }, nil
}
