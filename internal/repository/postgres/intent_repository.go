package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const intentColumns = `id, external_reference_id, provider, amount, currency, status, payment_method,
	reservation_id, customer_id, metadata, error_message, processed_at, created_at, updated_at`

// IntentRepository implements payment.IntentRepository using PostgreSQL.
// Client secrets are never stored.
type IntentRepository struct {
	pool *pgxpool.Pool
}

var _ payment.IntentRepository = (*IntentRepository)(nil)

func NewIntentRepository(pool *pgxpool.Pool) *IntentRepository {
	return &IntentRepository{pool: pool}
}

func (r *IntentRepository) db(ctx context.Context) Querier {
	return querier(ctx, r.pool)
}

func (r *IntentRepository) CreateIntent(ctx context.Context, intent *payment.Intent) error {
	metadata, err := marshalMetadata(intent.Metadata)
	if err != nil {
		return err
	}
	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO payment_intents (`+intentColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		 ON CONFLICT (id) DO UPDATE SET
		   status = EXCLUDED.status,
		   external_reference_id = EXCLUDED.external_reference_id,
		   metadata = EXCLUDED.metadata,
		   error_message = EXCLUDED.error_message,
		   processed_at = EXCLUDED.processed_at,
		   updated_at = EXCLUDED.updated_at`,
		intent.ID, intent.ExternalReferenceID, string(intent.Provider), intent.Amount, intent.Currency,
		string(intent.Status), string(intent.Method), intent.ReservationID, intent.CustomerID, metadata,
		intent.ErrorMessage, intent.ProcessedAt, intent.CreatedAt, intent.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert intent: %w", err)
	}
	return nil
}

func (r *IntentRepository) UpdateIntent(ctx context.Context, id string, patch payment.IntentPatch) (*payment.Intent, error) {
	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}
	return scanIntent(r.db(ctx).QueryRow(ctx,
		`UPDATE payment_intents SET
		   status = COALESCE($2, status),
		   error_message = COALESCE($3, error_message),
		   processed_at = COALESCE($4, processed_at),
		   updated_at = $5
		 WHERE id = $1
		 RETURNING `+intentColumns,
		id, status, patch.ErrorMessage, patch.ProcessedAt, time.Now().UTC(),
	))
}

func (r *IntentRepository) FindIntent(ctx context.Context, id string) (*payment.Intent, error) {
	return scanIntent(r.db(ctx).QueryRow(ctx,
		`SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id))
}

func (r *IntentRepository) FindIntentByExternalReference(ctx context.Context, provider payment.Provider, ref string) (*payment.Intent, error) {
	return scanIntent(r.db(ctx).QueryRow(ctx,
		`SELECT `+intentColumns+` FROM payment_intents
		 WHERE provider = $1 AND external_reference_id = $2
		 ORDER BY created_at DESC LIMIT 1`, string(provider), ref))
}

func scanIntent(s scanner) (*payment.Intent, error) {
	intent := &payment.Intent{}
	var (
		provider, status, method string
		metadata                 []byte
	)
	err := s.Scan(
		&intent.ID, &intent.ExternalReferenceID, &provider, &intent.Amount, &intent.Currency, &status, &method,
		&intent.ReservationID, &intent.CustomerID, &metadata, &intent.ErrorMessage, &intent.ProcessedAt,
		&intent.CreatedAt, &intent.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrIntentNotFound
		}
		return nil, fmt.Errorf("scan intent: %w", err)
	}

	intent.Provider = payment.Provider(provider)
	intent.Status = payment.Status(status)
	intent.Method = payment.Method(method)
	if intent.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, err
	}
	return intent, nil
}
