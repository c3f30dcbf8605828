package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const transactionColumns = `id, reservation_id, customer_id, amount, currency, provider, payment_method, status,
	payment_intent_id, external_reference_id, idempotency_key, metadata, processed_at, refunded_at,
	refund_amount, error_message, version, created_at, updated_at`

// TransactionRepository implements payment.TransactionRepository using PostgreSQL.
type TransactionRepository struct {
	pool *pgxpool.Pool
}

var _ payment.TransactionRepository = (*TransactionRepository)(nil)

func NewTransactionRepository(pool *pgxpool.Pool) *TransactionRepository {
	return &TransactionRepository{pool: pool}
}

func (r *TransactionRepository) db(ctx context.Context) Querier {
	return querier(ctx, r.pool)
}

// scanner is satisfied by both pgx.Row and pgx.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// CreateTransaction upserts by id so a replayed provider result lands on
// the same row. Refund columns, and a refunded status, are never reset by a
// replay.
func (r *TransactionRepository) CreateTransaction(ctx context.Context, tx *payment.Transaction) error {
	metadata, err := marshalMetadata(tx.Metadata)
	if err != nil {
		return err
	}

	_, err = r.db(ctx).Exec(ctx,
		`INSERT INTO payment_transactions (`+transactionColumns+`)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		 ON CONFLICT (id) DO UPDATE SET
		   status = CASE WHEN payment_transactions.status = 'refunded'
		                 THEN payment_transactions.status ELSE EXCLUDED.status END,
		   external_reference_id = COALESCE(EXCLUDED.external_reference_id, payment_transactions.external_reference_id),
		   metadata = EXCLUDED.metadata,
		   processed_at = COALESCE(payment_transactions.processed_at, EXCLUDED.processed_at),
		   error_message = EXCLUDED.error_message,
		   version = payment_transactions.version + 1,
		   updated_at = EXCLUDED.updated_at`,
		tx.ID, tx.ReservationID, tx.CustomerID, tx.Amount, tx.Currency, string(tx.Provider), string(tx.Method),
		string(tx.Status), tx.PaymentIntentID, tx.ExternalReferenceID, tx.IdempotencyKey, metadata,
		tx.ProcessedAt, tx.RefundedAt, tx.RefundAmount, tx.ErrorMessage, max(tx.Version, 1), tx.CreatedAt, tx.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("%w: idempotency key already used by another transaction", domainErrors.ErrInvalidInput)
		}
		return fmt.Errorf("insert transaction: %w", err)
	}
	return nil
}

// UpdateTransaction applies patch in one statement. A refund that would push
// refund_amount past amount matches no row and yields ErrRefundExceedsAmount;
// a stale ExpectedVersion yields ErrOptimisticLockFailed.
func (r *TransactionRepository) UpdateTransaction(ctx context.Context, id string, patch payment.TransactionPatch) (*payment.Transaction, error) {
	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}

	row := r.db(ctx).QueryRow(ctx,
		`UPDATE payment_transactions SET
		   status = COALESCE($2, status),
		   refund_amount = refund_amount + $3,
		   refunded_at = COALESCE($4, refunded_at),
		   external_reference_id = COALESCE($5, external_reference_id),
		   error_message = COALESCE($6, error_message),
		   processed_at = COALESCE($7, processed_at),
		   version = version + 1,
		   updated_at = $8
		 WHERE id = $1 AND refund_amount + $3 <= amount
		   AND ($9::integer = 0 OR version = $9::integer)
		 RETURNING `+transactionColumns,
		id, status, patch.AddRefund, patch.RefundedAt, patch.ExternalReferenceID, patch.ErrorMessage,
		patch.ProcessedAt, time.Now().UTC(), patch.ExpectedVersion,
	)
	tx, err := scanTransaction(row)
	if err == nil {
		return tx, nil
	}
	if !errors.Is(err, domainErrors.ErrTransactionNotFound) || (patch.AddRefund == 0 && patch.ExpectedVersion == 0) {
		return nil, err
	}

	// No row matched: the id is unknown, the version moved on, or the refund
	// guard tripped.
	current, findErr := r.FindTransaction(ctx, id)
	if findErr != nil {
		return nil, findErr
	}
	if patch.ExpectedVersion != 0 && current.Version != patch.ExpectedVersion {
		return nil, fmt.Errorf("%w: transaction %s is at version %d, expected %d",
			domainErrors.ErrOptimisticLockFailed, id, current.Version, patch.ExpectedVersion)
	}
	return nil, fmt.Errorf("%w: transaction %s", domainErrors.ErrRefundExceedsAmount, id)
}

func (r *TransactionRepository) FindTransaction(ctx context.Context, id string) (*payment.Transaction, error) {
	return scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE id = $1`, id))
}

func (r *TransactionRepository) FindTransactionByIntent(ctx context.Context, intentID string) (*payment.Transaction, error) {
	return scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions
		 WHERE payment_intent_id = $1 ORDER BY created_at DESC LIMIT 1`, intentID))
}

func (r *TransactionRepository) FindTransactionByIdempotencyKey(ctx context.Context, key string) (*payment.Transaction, error) {
	return scanTransaction(r.db(ctx).QueryRow(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions WHERE idempotency_key = $1`, key))
}

func (r *TransactionRepository) ListTransactionsByCustomer(ctx context.Context, customerID string) ([]*payment.Transaction, error) {
	return r.list(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions
		 WHERE customer_id = $1 ORDER BY created_at DESC, id DESC`, customerID)
}

func (r *TransactionRepository) ListTransactionsByReservation(ctx context.Context, reservationID string) ([]*payment.Transaction, error) {
	return r.list(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions
		 WHERE reservation_id = $1 ORDER BY created_at DESC, id DESC`, reservationID)
}

func (r *TransactionRepository) ListStaleTransactions(ctx context.Context, status payment.Status, olderThan time.Time, limit int) ([]*payment.Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	return r.list(ctx,
		`SELECT `+transactionColumns+` FROM payment_transactions
		 WHERE status = $1 AND updated_at < $2
		 ORDER BY updated_at ASC LIMIT $3`, string(status), olderThan, limit)
}

func (r *TransactionRepository) list(ctx context.Context, query string, args ...any) ([]*payment.Transaction, error) {
	rows, err := r.db(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	txs := make([]*payment.Transaction, 0)
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, err
		}
		txs = append(txs, tx)
	}
	return txs, rows.Err()
}

func scanTransaction(s scanner) (*payment.Transaction, error) {
	tx := &payment.Transaction{}
	var (
		provider, method, status string
		metadata                 []byte
	)
	err := s.Scan(
		&tx.ID, &tx.ReservationID, &tx.CustomerID, &tx.Amount, &tx.Currency, &provider, &method, &status,
		&tx.PaymentIntentID, &tx.ExternalReferenceID, &tx.IdempotencyKey, &metadata, &tx.ProcessedAt, &tx.RefundedAt,
		&tx.RefundAmount, &tx.ErrorMessage, &tx.Version, &tx.CreatedAt, &tx.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domainErrors.ErrTransactionNotFound
		}
		return nil, fmt.Errorf("scan transaction: %w", err)
	}

	tx.Provider = payment.Provider(provider)
	tx.Method = payment.Method(method)
	tx.Status = payment.Status(status)
	if tx.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return nil, err
	}
	return tx, nil
}

func marshalMetadata(md map[string]string) ([]byte, error) {
	if md == nil {
		md = map[string]string{}
	}
	data, err := json.Marshal(md)
	if err != nil {
		return nil, fmt.Errorf("marshal metadata: %w", err)
	}
	return data, nil
}

func unmarshalMetadata(data []byte) (map[string]string, error) {
	md := make(map[string]string)
	if len(data) == 0 {
		return md, nil
	}
	if err := json.Unmarshal(data, &md); err != nil {
		return nil, fmt.Errorf("unmarshal metadata: %w", err)
	}
	return md, nil
}
