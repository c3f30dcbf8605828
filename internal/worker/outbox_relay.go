package worker

import (
	"context"
	"time"

	"github.com/cassiomorais/paycore/internal/domain/outbox"
	"github.com/cassiomorais/paycore/internal/infrastructure/observability"
	"github.com/cassiomorais/paycore/pkg/retry"
	"github.com/rs/zerolog"
)

// Publisher delivers one outbox entry downstream.
type Publisher interface {
	Publish(ctx context.Context, entry *outbox.Entry) error
	Stream() string
}

// TransactionManager scopes the pending-entry claim to one database
// transaction.
type TransactionManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// OutboxRelay moves committed outbox entries to the event stream. Delivery
// is at least once: an entry published before its row is marked may be
// published again.
type OutboxRelay struct {
	repo      outbox.Repository
	txManager TransactionManager
	publisher Publisher
	batchSize int
	interval  time.Duration
	retry     retry.Config
	logger    zerolog.Logger
	metrics   *observability.Metrics
}

type RelayOption func(*OutboxRelay)

func WithRelayBatchSize(n int) RelayOption {
	return func(r *OutboxRelay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithRelayInterval(d time.Duration) RelayOption {
	return func(r *OutboxRelay) {
		if d > 0 {
			r.interval = d
		}
	}
}

// WithPublishRetry sets how often a single publish is attempted before the
// entry is marked failed for this round.
func WithPublishRetry(cfg retry.Config) RelayOption {
	return func(r *OutboxRelay) { r.retry = cfg }
}

func WithRelayLogger(logger zerolog.Logger) RelayOption {
	return func(r *OutboxRelay) { r.logger = logger }
}

func WithRelayMetrics(m *observability.Metrics) RelayOption {
	return func(r *OutboxRelay) { r.metrics = m }
}

func NewOutboxRelay(repo outbox.Repository, txManager TransactionManager, publisher Publisher, opts ...RelayOption) *OutboxRelay {
	r := &OutboxRelay{
		repo:      repo,
		txManager: txManager,
		publisher: publisher,
		batchSize: 50,
		interval:  2 * time.Second,
		retry:     retry.Config{MaxAttempts: 3, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second},
		logger:    zerolog.Nop(),
	}
	for _, o := range opts {
		o(r)
	}
	r.logger = observability.ComponentLogger(r.logger, observability.ComponentOutboxRelay)
	return r
}

// Run relays on every tick until ctx is cancelled.
func (r *OutboxRelay) Run(ctx context.Context) error {
	r.logger.Info().Str("stream", r.publisher.Stream()).Dur("interval", r.interval).Msg("Outbox relay started")
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
		if _, err := r.RelayOnce(ctx); err != nil && ctx.Err() == nil {
			r.logger.Error().Err(err).Msg("Outbox relay round failed")
		}
	}
}

// RelayOnce claims one batch of pending entries and publishes them. It
// returns how many were published.
func (r *OutboxRelay) RelayOnce(ctx context.Context) (int, error) {
	start := time.Now()
	published := 0

	err := r.txManager.WithTransaction(ctx, func(txCtx context.Context) error {
		entries, err := r.repo.GetPending(txCtx, r.batchSize)
		if err != nil {
			return err
		}
		for _, entry := range entries {
			if err := retry.Do(ctx, r.retry, func() error { return r.publisher.Publish(ctx, entry) }); err != nil {
				r.logger.Warn().Err(err).Str("outbox_id", entry.ID.String()).Str("event_type", entry.EventType).
					Int("retry_count", entry.RetryCount).Msg("Failed to publish outbox event")
				if err := r.repo.MarkFailed(txCtx, entry.ID, err.Error()); err != nil {
					return err
				}
				r.count("failed")
				continue
			}
			if err := r.repo.MarkPublished(txCtx, entry.ID); err != nil {
				return err
			}
			published++
			r.count("published")
		}
		return nil
	})

	if r.metrics != nil {
		r.metrics.WorkerProcessingDuration.WithLabelValues(r.publisher.Stream()).Observe(time.Since(start).Seconds())
	}
	if published > 0 {
		r.logger.Debug().Int("published", published).Msg("Outbox entries relayed")
	}
	return published, err
}

func (r *OutboxRelay) count(status string) {
	if r.metrics != nil {
		r.metrics.WorkerMessagesProcessed.WithLabelValues(r.publisher.Stream(), status).Inc()
	}
}
