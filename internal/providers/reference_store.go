package providers

import (
	"context"
	"sync"

	domainErrors "github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/cassiomorais/paycore/internal/domain/payment"
)

// ReferenceStore holds the reference provider's own bookkeeping. It is not
// the durable ledger; the payment service owns that.
type ReferenceStore interface {
	SaveIntent(ctx context.Context, intent *payment.Intent) error
	// GetIntent returns ErrIntentNotFound for unknown references.
	GetIntent(ctx context.Context, externalRef string) (*payment.Intent, error)
	SaveTransaction(ctx context.Context, tx *payment.Transaction) error
	// GetTransaction returns ErrTransactionNotFound for unknown ids.
	GetTransaction(ctx context.Context, id string) (*payment.Transaction, error)
}

// MemoryReferenceStore keeps records in process memory. Use it for tests and
// single-instance development only.
type MemoryReferenceStore struct {
	mu           sync.RWMutex
	intents      map[string]payment.Intent
	transactions map[string]payment.Transaction
}

func NewMemoryReferenceStore() *MemoryReferenceStore {
	return &MemoryReferenceStore{
		intents:      make(map[string]payment.Intent),
		transactions: make(map[string]payment.Transaction),
	}
}

func (s *MemoryReferenceStore) SaveIntent(_ context.Context, intent *payment.Intent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.intents[intent.ExternalReferenceID] = *intent
	return nil
}

func (s *MemoryReferenceStore) GetIntent(_ context.Context, externalRef string) (*payment.Intent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	intent, ok := s.intents[externalRef]
	if !ok {
		return nil, domainErrors.ErrIntentNotFound
	}
	return &intent, nil
}

func (s *MemoryReferenceStore) SaveTransaction(_ context.Context, tx *payment.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.transactions[tx.ID] = *tx
	return nil
}

func (s *MemoryReferenceStore) GetTransaction(_ context.Context, id string) (*payment.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tx, ok := s.transactions[id]
	if !ok {
		return nil, domainErrors.ErrTransactionNotFound
	}
	return &tx, nil
}
