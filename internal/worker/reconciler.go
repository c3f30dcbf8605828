package worker

import (
	"context"
	"errors"
	"time"

	domainErrors "github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/cassiomorais/paycore/internal/infrastructure/observability"
	"github.com/rs/zerolog"
)

// StatusSyncer refreshes one stored transaction from its provider.
type StatusSyncer interface {
	GetPaymentStatus(ctx context.Context, transactionID string) (*payment.Transaction, error)
}

// Reconciler re-checks transactions that have sat in a non-terminal status
// for too long, so processing results reported by a gateway are settled
// without a client polling for them.
type Reconciler struct {
	transactions payment.TransactionRepository
	syncer       StatusSyncer
	staleAfter   time.Duration
	interval     time.Duration
	batchSize    int
	logger       zerolog.Logger
	metrics      *observability.Metrics
	now          func() time.Time
}

type ReconcilerOption func(*Reconciler)

func WithStaleAfter(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

func WithReconcileInterval(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithReconcileBatchSize(n int) ReconcilerOption {
	return func(r *Reconciler) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithReconcilerLogger(logger zerolog.Logger) ReconcilerOption {
	return func(r *Reconciler) { r.logger = logger }
}

func WithReconcilerMetrics(m *observability.Metrics) ReconcilerOption {
	return func(r *Reconciler) { r.metrics = m }
}

func NewReconciler(transactions payment.TransactionRepository, syncer StatusSyncer, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{
		transactions: transactions,
		syncer:       syncer,
		staleAfter:   5 * time.Minute,
		interval:     time.Minute,
		batchSize:    50,
		logger:       zerolog.Nop(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = observability.ComponentLogger(r.logger, observability.ComponentReconciler)
	return r
}

// Run reconciles on every tick until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) error {
	r.logger.Info().Dur("interval", r.interval).Dur("stale_after", r.staleAfter).Msg("Reconciler started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if _, err := r.ReconcileOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("Reconcile round failed")
		}
	}
}

// ReconcileOnce checks one batch of stale processing and pending
// transactions and returns how many changed status. A provider failure on
// one transaction does not stop the round.
func (r *Reconciler) ReconcileOnce(ctx context.Context) (int, error) {
	cutoff := r.now().Add(-r.staleAfter)
	changed := 0

	for _, status := range []payment.Status{payment.StatusProcessing, payment.StatusPending} {
		stale, err := r.transactions.ListStaleTransactions(ctx, status, cutoff, r.batchSize)
		if err != nil {
			return changed, err
		}
		for _, tx := range stale {
			if ctx.Err() != nil {
				return changed, ctx.Err()
			}
			latest, err := r.syncer.GetPaymentStatus(ctx, tx.ID)
			switch {
			case errors.Is(err, domainErrors.ErrProviderUnavailable), errors.Is(err, domainErrors.ErrUnsupportedProvider):
				r.logger.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Provider unavailable for reconciliation")
				r.count(tx.Provider, "unavailable")
			case err != nil:
				r.logger.Error().Err(err).Str("transaction_id", tx.ID).Msg("Reconciliation failed")
				r.count(tx.Provider, "error")
			case latest.Status != tx.Status:
				r.logger.Info().Str("transaction_id", tx.ID).Str("from", string(tx.Status)).
					Str("to", string(latest.Status)).Msg("Transaction reconciled")
				r.count(tx.Provider, "changed")
				changed++
			default:
				r.count(tx.Provider, "unchanged")
			}
		}
	}
	return changed, nil
}

func (r *Reconciler) count(provider payment.Provider, outcome string) {
	if r.metrics != nil {
		r.metrics.ReconciledTransactions.WithLabelValues(string(provider), outcome).Inc()
	}
}
