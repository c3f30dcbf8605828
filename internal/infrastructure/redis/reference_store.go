package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/cassiomorais/paycore/internal/providers"
	"github.com/redis/go-redis/v9"
)

// ReferenceStore shares the reference provider's intents and transactions
// across API instances. Entries expire after ttl.
type ReferenceStore struct {
	client redis.Cmdable
	ttl    time.Duration
}

var _ providers.ReferenceStore = (*ReferenceStore)(nil)

func NewReferenceStore(client redis.Cmdable, ttl time.Duration) *ReferenceStore {
	return &ReferenceStore{client: client, ttl: ttl}
}

func intentKey(externalRef string) string { return "paycore:reference:intent:" + externalRef }
func transactionKey(id string) string     { return "paycore:reference:tx:" + id }

func (s *ReferenceStore) SaveIntent(ctx context.Context, intent *payment.Intent) error {
	return s.put(ctx, intentKey(intent.ExternalReferenceID), intent)
}

func (s *ReferenceStore) GetIntent(ctx context.Context, externalRef string) (*payment.Intent, error) {
	var intent payment.Intent
	if err := s.get(ctx, intentKey(externalRef), &intent); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domainErrors.ErrIntentNotFound
		}
		return nil, err
	}
	return &intent, nil
}

func (s *ReferenceStore) SaveTransaction(ctx context.Context, tx *payment.Transaction) error {
	return s.put(ctx, transactionKey(tx.ID), tx)
}

func (s *ReferenceStore) GetTransaction(ctx context.Context, id string) (*payment.Transaction, error) {
	var tx payment.Transaction
	if err := s.get(ctx, transactionKey(id), &tx); err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domainErrors.ErrTransactionNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (s *ReferenceStore) put(ctx context.Context, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	return nil
}

func (s *ReferenceStore) get(ctx context.Context, key string, dst any) error {
	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return err
		}
		return fmt.Errorf("load %s: %w", key, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}
