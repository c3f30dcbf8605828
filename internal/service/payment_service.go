package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/cassiomorais/paycore/internal/domain/outbox"
	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/cassiomorais/paycore/internal/infrastructure/observability"
	"github.com/cassiomorais/paycore/internal/providers"
	"github.com/cassiomorais/paycore/internal/validation"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("github.com/cassiomorais/paycore/internal/service")

// PaymentService orchestrates providers and the payment ledger. It is the
// only writer of stored transactions and intents, and it never retries a
// provider call.
type PaymentService struct {
	transactions payment.TransactionRepository
	intents      payment.IntentRepository
	outboxRepo   outbox.Repository
	txManager    TransactionManager
	providers    ProviderLookup
	validator    *validation.Validator
	locker       Locker
	logger       zerolog.Logger
	metrics      *observability.Metrics
	now          func() time.Time
}

type Option func(*PaymentService)

func WithLogger(logger zerolog.Logger) Option {
	return func(s *PaymentService) { s.logger = logger }
}

func WithMetrics(m *observability.Metrics) Option {
	return func(s *PaymentService) { s.metrics = m }
}

// NewPaymentService creates a new PaymentService. A nil locker disables
// cross-instance locking.
func NewPaymentService(
	transactions payment.TransactionRepository,
	intents payment.IntentRepository,
	outboxRepo outbox.Repository,
	txManager TransactionManager,
	providerLookup ProviderLookup,
	validator *validation.Validator,
	locker Locker,
	opts ...Option,
) *PaymentService {
	if locker == nil {
		locker = noopLocker{}
	}
	s := &PaymentService{
		transactions: transactions,
		intents:      intents,
		outboxRepo:   outboxRepo,
		txManager:    txManager,
		providers:    providerLookup,
		validator:    validator,
		locker:       locker,
		logger:       zerolog.Nop(),
		now:          func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(s)
	}
	s.logger = observability.ComponentLogger(s.logger, observability.ComponentPaymentService)
	return s
}

// ProcessPayment charges in a single step. The provider's result is returned
// as-is; a declined payment is a result with Success=false, not an error.
func (s *PaymentService) ProcessPayment(ctx context.Context, req payment.ProcessRequest) (*payment.ProcessResult, error) {
	ctx, span := s.startSpan(ctx, "ProcessPayment",
		attribute.String("provider", string(req.Provider)),
		attribute.String("reservation_id", req.ReservationID))
	defer span.End()
	start := time.Now()

	if res := s.validator.ValidateProcess(req); !res.Valid {
		return nil, res.Err()
	}
	p, err := s.resolve(req.Provider, req.Method)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	if req.IdempotencyKey != "" {
		release, err := s.locker.Lock(ctx, "idempotency:"+req.IdempotencyKey)
		if err != nil {
			return nil, recordSpanError(span, err)
		}
		defer s.release(ctx, release, req.IdempotencyKey)

		existing, err := s.transactions.FindTransactionByIdempotencyKey(ctx, req.IdempotencyKey)
		if err == nil {
			s.logger.Info().Str("idempotency_key", req.IdempotencyKey).Str("transaction_id", existing.ID).
				Msg("Returning stored result for idempotency key")
			return &payment.ProcessResult{Success: true, Transaction: existing}, nil
		}
		if !errors.Is(err, domainErrors.ErrTransactionNotFound) {
			return nil, recordSpanError(span, fmt.Errorf("lookup idempotency key: %w", err))
		}
	}

	result, err := p.ProcessPayment(ctx, req)
	if err != nil {
		s.observe(req.Provider, "process_payment", "error", start)
		return nil, recordSpanError(span, fmt.Errorf("provider %s: %w", req.Provider, err))
	}
	if !result.Success || result.Transaction == nil {
		s.observeFailure(req.Provider, "process_payment", result.FailureCode, start)
		s.logger.Warn().Str("provider", string(req.Provider)).Str("failure_code", result.FailureCode).
			Str("error", result.Error).Msg("Payment not successful")
		return result, nil
	}

	event := outbox.EventPaymentCompleted
	if result.Transaction.Status == payment.StatusProcessing {
		event = outbox.EventPaymentProcessing
	}
	if err := s.saveTransaction(ctx, "process_payment", result.Transaction, event); err != nil {
		return nil, recordSpanError(span, err)
	}

	s.observe(req.Provider, "process_payment", "success", start)
	s.logger.Info().Str("transaction_id", result.Transaction.ID).Str("provider", string(req.Provider)).
		Int64("amount", result.Transaction.Amount).Str("status", string(result.Transaction.Status)).
		Msg("Payment processed")
	return result, nil
}

// CreatePaymentIntent opens an intent with the provider and always stores
// it, failed intents included, so the attempt stays queryable.
func (s *PaymentService) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.IntentResult, error) {
	ctx, span := s.startSpan(ctx, "CreatePaymentIntent", attribute.String("provider", string(req.Provider)))
	defer span.End()
	start := time.Now()

	if res := s.validator.ValidateIntent(req); !res.Valid {
		return nil, res.Err()
	}
	p, err := s.resolve(req.Provider, req.Method)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	intent, err := p.CreatePaymentIntent(ctx, req)
	if err != nil {
		s.observe(req.Provider, "create_intent", "error", start)
		return nil, recordSpanError(span, fmt.Errorf("provider %s: %w", req.Provider, err))
	}

	event := outbox.EventIntentCreated
	if intent.Status == payment.StatusFailed {
		event = outbox.EventIntentFailed
	}
	err = s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.intents.CreateIntent(ctx, intent); err != nil {
			return err
		}
		return s.outboxRepo.Insert(ctx, intentEvent(event, intent))
	})
	if err != nil {
		if intent.Status == payment.StatusFailed {
			// Nothing was authorized, so this is a plain storage error.
			return nil, recordSpanError(span, fmt.Errorf("store failed intent %s: %w", intent.ID, err))
		}
		return nil, recordSpanError(span, s.persistenceFailure("create_intent", intent.ExternalReferenceID, err))
	}

	result := &payment.IntentResult{Success: intent.Status != payment.StatusFailed, Intent: intent}
	if !result.Success {
		result.Error = deref(intent.ErrorMessage)
		result.FailureCode = payment.FailureGatewayError
		s.observeFailure(req.Provider, "create_intent", result.FailureCode, start)
	} else {
		s.observe(req.Provider, "create_intent", "success", start)
	}
	s.logger.Info().Str("intent_id", intent.ID).Str("provider", string(intent.Provider)).
		Str("status", string(intent.Status)).Msg("Payment intent created")
	return result, nil
}

// ConfirmPaymentIntent confirms a stored intent with the provider that
// created it. Once an intent has produced a transaction, confirming it again
// returns that transaction and never calls the provider's confirm.
func (s *PaymentService) ConfirmPaymentIntent(ctx context.Context, intentID string) (*payment.ProcessResult, error) {
	ctx, span := s.startSpan(ctx, "ConfirmPaymentIntent", attribute.String("intent_id", intentID))
	defer span.End()
	start := time.Now()

	release, err := s.locker.Lock(ctx, "intent:"+intentID)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	defer s.release(ctx, release, intentID)

	intent, err := s.intents.FindIntent(ctx, intentID)
	if err != nil {
		return nil, recordSpanError(span, err)
	}

	switch intent.Status {
	case payment.StatusFailed, payment.StatusCancelled:
		return payment.Failed(payment.FailureIntentClosed,
			fmt.Sprintf("payment intent %s is %s", intent.ID, intent.Status)), nil
	case payment.StatusCompleted, payment.StatusProcessing:
		tx, err := s.transactions.FindTransactionByIntent(ctx, intent.ID)
		if err == nil {
			result, err := s.existingConfirmation(ctx, tx)
			return result, recordSpanError(span, err)
		}
		if !errors.Is(err, domainErrors.ErrTransactionNotFound) {
			return nil, recordSpanError(span, err)
		}
		// The transaction was lost after an earlier confirmation; ask the
		// provider again so it can be recorded.
		s.logger.Warn().Str("intent_id", intent.ID).Str("status", string(intent.Status)).
			Msg("Confirmed intent has no transaction, re-confirming")
	}

	p, err := s.providers.Get(intent.Provider)
	if err != nil {
		return nil, recordSpanError(span, err)
	}
	result, err := p.ConfirmPaymentIntent(ctx, providers.ConfirmRequest{
		ExternalReferenceID: intent.ExternalReferenceID,
		Intent:              intent,
	})
	if err != nil {
		s.observe(intent.Provider, "confirm_intent", "error", start)
		return nil, recordSpanError(span, fmt.Errorf("provider %s: %w", intent.Provider, err))
	}

	switch {
	case result.Success && result.Transaction != nil:
		if err := s.saveConfirmation(ctx, intent, result.Transaction); err != nil {
			return nil, recordSpanError(span, err)
		}
		s.observe(intent.Provider, "confirm_intent", "success", start)
		s.logger.Info().Str("intent_id", intent.ID).Str("transaction_id", result.Transaction.ID).
			Msg("Payment intent confirmed")
	case result.RequiresAction:
		s.observeFailure(intent.Provider, "confirm_intent", result.FailureCode, start)
	default:
		s.observeFailure(intent.Provider, "confirm_intent", result.FailureCode, start)
		if !intent.CanTransitionTo(payment.StatusFailed) {
			break
		}
		if err := s.closeIntent(ctx, intent, payment.StatusFailed, result.Error); err != nil {
			return nil, recordSpanError(span, err)
		}
	}
	return result, nil
}

// existingConfirmation answers a repeated confirmation from the transaction
// the first one recorded. A processing transaction is reconciled with the
// provider first; the stored row is only ever patched, never replaced.
func (s *PaymentService) existingConfirmation(ctx context.Context, tx *payment.Transaction) (*payment.ProcessResult, error) {
	if tx.Status == payment.StatusProcessing {
		latest, err := s.GetPaymentStatus(ctx, tx.ID)
		if err != nil {
			s.logger.Warn().Err(err).Str("transaction_id", tx.ID).Msg("Could not reconcile processing transaction")
		} else {
			tx = latest
		}
	}
	if err := s.syncIntent(ctx, tx); err != nil {
		return nil, err
	}
	if tx.Status == payment.StatusFailed {
		result := payment.Failed(payment.FailureDeclined, deref(tx.ErrorMessage))
		result.Transaction = tx
		return result, nil
	}
	return &payment.ProcessResult{Success: true, Transaction: tx}, nil
}

// syncIntent moves the intent that produced tx to the matching final state.
func (s *PaymentService) syncIntent(ctx context.Context, tx *payment.Transaction) error {
	if tx.PaymentIntentID == nil {
		return nil
	}
	var status payment.Status
	switch tx.Status {
	case payment.StatusCompleted, payment.StatusRefunded:
		status = payment.StatusCompleted
	case payment.StatusFailed:
		status = payment.StatusFailed
	default:
		return nil
	}

	intentID := *tx.PaymentIntentID
	intent, err := s.intents.FindIntent(ctx, intentID)
	if errors.Is(err, domainErrors.ErrIntentNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load intent %s: %w", intentID, err)
	}
	if !intent.CanTransitionTo(status) {
		return nil
	}

	now := s.now()
	patch := payment.IntentPatch{Status: payment.StatusPtr(status), ProcessedAt: &now}
	if status == payment.StatusFailed && tx.ErrorMessage != nil {
		patch.ErrorMessage = tx.ErrorMessage
	}
	if _, err := s.intents.UpdateIntent(ctx, intentID, patch); err != nil {
		return fmt.Errorf("update intent %s: %w", intentID, err)
	}
	s.logger.Info().Str("intent_id", intentID).Str("transaction_id", tx.ID).
		Str("from", string(intent.Status)).Str("to", string(status)).Msg("Intent synced with its transaction")
	return nil
}

func (s *PaymentService) saveConfirmation(ctx context.Context, intent *payment.Intent, tx *payment.Transaction) error {
	intentID := intent.ID
	tx.PaymentIntentID = &intentID

	status := payment.StatusCompleted
	if tx.Status == payment.StatusProcessing {
		status = payment.StatusProcessing
	}
	now := s.now()
	patch := payment.IntentPatch{Status: payment.StatusPtr(status)}
	if status == payment.StatusCompleted {
		patch.ProcessedAt = &now
	}

	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.transactions.CreateTransaction(ctx, tx); err != nil {
			return err
		}
		if _, err := s.intents.UpdateIntent(ctx, intent.ID, patch); err != nil {
			return err
		}
		return s.outboxRepo.Insert(ctx, transactionEvent(outbox.EventIntentConfirmed, tx))
	})
	if err != nil {
		return s.persistenceFailure("confirm_intent", deref(tx.ExternalReferenceID), err)
	}
	intent.Status = status
	return nil
}

// closeIntent moves an open intent to failed or cancelled.
func (s *PaymentService) closeIntent(ctx context.Context, intent *payment.Intent, status payment.Status, reason string) error {
	now := s.now()
	patch := payment.IntentPatch{Status: payment.StatusPtr(status)}
	if status == payment.StatusFailed {
		patch.ProcessedAt = &now
	}
	if reason != "" {
		patch.ErrorMessage = &reason
	}
	event := outbox.EventIntentFailed
	if status == payment.StatusCancelled {
		event = outbox.EventIntentCancelled
	}

	return s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		updated, err := s.intents.UpdateIntent(ctx, intent.ID, patch)
		if err != nil {
			return fmt.Errorf("update intent %s: %w", intent.ID, err)
		}
		*intent = *updated
		return s.outboxRepo.Insert(ctx, intentEvent(event, updated))
	})
}

// ApplyGatewayEvent applies a verified gateway notification to the stored
// intent it references. Events for intents this service never stored are
// ignored.
func (s *PaymentService) ApplyGatewayEvent(ctx context.Context, ev providers.GatewayEvent) error {
	ctx, span := s.startSpan(ctx, "ApplyGatewayEvent",
		attribute.String("event_id", ev.ID), attribute.String("external_reference_id", ev.ExternalReferenceID))
	defer span.End()

	intent, err := s.intents.FindIntentByExternalReference(ctx, ev.Provider, ev.ExternalReferenceID)
	if errors.Is(err, domainErrors.ErrIntentNotFound) {
		s.logger.Info().Str("event_id", ev.ID).Str("external_reference_id", ev.ExternalReferenceID).
			Msg("Ignoring gateway event for unknown intent")
		return nil
	}
	if err != nil {
		return recordSpanError(span, err)
	}

	switch ev.Kind {
	case providers.GatewayEventSucceeded:
		_, err := s.ConfirmPaymentIntent(ctx, intent.ID)
		return recordSpanError(span, err)
	case providers.GatewayEventFailed, providers.GatewayEventCanceled:
		status := payment.StatusFailed
		if ev.Kind == providers.GatewayEventCanceled {
			status = payment.StatusCancelled
		}
		release, err := s.locker.Lock(ctx, "intent:"+intent.ID)
		if err != nil {
			return recordSpanError(span, err)
		}
		defer s.release(ctx, release, intent.ID)

		current, err := s.intents.FindIntent(ctx, intent.ID)
		if err != nil {
			return recordSpanError(span, err)
		}
		if !current.CanTransitionTo(status) {
			return nil
		}
		s.logger.Info().Str("intent_id", current.ID).Str("status", string(status)).Msg("Gateway closed intent")
		return recordSpanError(span, s.closeIntent(ctx, current, status, ev.Message))
	}
	return nil
}

// resolve returns the enabled provider for name and checks it accepts method.
func (s *PaymentService) resolve(name payment.Provider, method payment.Method) (providers.Provider, error) {
	p, err := s.providers.Get(name)
	if err != nil {
		return nil, err
	}
	if !providers.Supports(p, method) {
		return nil, domainErrors.NewValidationErrors([]string{
			fmt.Sprintf("provider %s does not support payment method %s", name, method),
		})
	}
	return p, nil
}

// saveTransaction stores tx and its outbox event atomically.
func (s *PaymentService) saveTransaction(ctx context.Context, op string, tx *payment.Transaction, event string) error {
	err := s.txManager.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.transactions.CreateTransaction(ctx, tx); err != nil {
			return err
		}
		return s.outboxRepo.Insert(ctx, transactionEvent(event, tx))
	})
	if err != nil {
		return s.persistenceFailure(op, deref(tx.ExternalReferenceID), err)
	}
	return nil
}

// persistenceFailure logs and wraps a storage error that happened after the
// provider already acted.
func (s *PaymentService) persistenceFailure(op, externalRef string, err error) error {
	s.logger.Error().Err(err).Str("operation", op).Str("external_reference_id", externalRef).
		Msg("Persistence failed after provider success")
	if s.metrics != nil {
		s.metrics.PaymentErrors.WithLabelValues("", "persistence").Inc()
	}
	return domainErrors.NewPersistenceError(op, externalRef, err)
}

func (s *PaymentService) release(ctx context.Context, release func(context.Context) error, key string) {
	if err := release(context.WithoutCancel(ctx)); err != nil {
		s.logger.Warn().Err(err).Str("key", key).Msg("Failed to release lock")
	}
}

func (s *PaymentService) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "PaymentService."+name, trace.WithAttributes(attrs...))
}

func recordSpanError(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (s *PaymentService) observe(provider payment.Provider, op, outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.PaymentsTotal.WithLabelValues(string(provider), op, outcome).Inc()
	s.metrics.PaymentDuration.WithLabelValues(string(provider), op).Observe(time.Since(start).Seconds())
}

func (s *PaymentService) observeFailure(provider payment.Provider, op, code string, start time.Time) {
	s.observe(provider, op, "failure", start)
	if s.metrics != nil && code != "" {
		s.metrics.PaymentErrors.WithLabelValues(string(provider), code).Inc()
	}
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
