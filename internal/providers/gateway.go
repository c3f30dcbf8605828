package providers

import (
	"context"
	"errors"
	"fmt"
	"time"

	domainErrors "github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/sony/gobreaker/v2"
)

// ErrGatewayDeclined marks gateway errors that are business declines rather
// than outages. Declines do not count against the circuit breaker.
var ErrGatewayDeclined = errors.New("declined by gateway")

// Metadata keys written on gateway intents so a bare gateway record can be
// traced back to the reservation.
const (
	MetaReservationID = "reservation_id"
	MetaCustomerID    = "customer_id"
	MetaMethod        = "payment_method"
)

// Gateway is the hosted intent-based payment API.
type Gateway interface {
	CreateIntent(ctx context.Context, params GatewayIntentParams) (*GatewayIntent, error)
	ConfirmIntent(ctx context.Context, id string) (*GatewayIntent, error)
	RetrieveIntent(ctx context.Context, id string) (*GatewayIntent, error)
	CreateRefund(ctx context.Context, params GatewayRefundParams) (*GatewayRefund, error)
}

type GatewayIntentParams struct {
	Amount         int64
	Currency       string
	Metadata       map[string]string
	PaymentMethod  string
	Confirm        bool
	IdempotencyKey string
}

type GatewayIntent struct {
	ID           string
	Status       string
	ClientSecret string
	Amount       int64
	Currency     string
	Metadata     map[string]string
	LastError    string
}

type GatewayRefundParams struct {
	PaymentIntentID string
	Amount          int64
	Reason          string
	IdempotencyKey  string
}

type GatewayRefund struct {
	ID     string
	Amount int64
	Status string
}

// GatewayProvider delegates to a hosted gateway. It never retries; every call
// is bounded by the configured timeout and guarded by a circuit breaker.
type GatewayProvider struct {
	name      string
	secretKey string
	gateway   Gateway
	timeout   time.Duration
	breaker   *gobreaker.CircuitBreaker[any]
	settings  gobreaker.Settings
	now       func() time.Time
}

type GatewayProviderOption func(*GatewayProvider)

func WithGatewayTimeout(d time.Duration) GatewayProviderOption {
	return func(p *GatewayProvider) { p.timeout = d }
}

// WithBreakerThresholds sets the trip rule: at least minRequests within the
// interval with a failure ratio of ratio or more.
func WithBreakerThresholds(minRequests uint32, ratio float64, openTimeout time.Duration) GatewayProviderOption {
	return func(p *GatewayProvider) {
		p.settings.Timeout = openTimeout
		p.settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= minRequests && failureRatio >= ratio
		}
	}
}

// WithStateListener is called on every breaker state change.
func WithStateListener(fn func(name string, from, to gobreaker.State)) GatewayProviderOption {
	return func(p *GatewayProvider) { p.settings.OnStateChange = fn }
}

// NewGatewayProvider builds a gateway provider. A missing secret key is a
// deployment fault and is returned as an error.
func NewGatewayProvider(name, secretKey string, gateway Gateway, opts ...GatewayProviderOption) (*GatewayProvider, error) {
	p := &GatewayProvider{
		name:      name,
		secretKey: secretKey,
		gateway:   gateway,
		timeout:   15 * time.Second,
		now:       func() time.Time { return time.Now().UTC() },
		settings: gobreaker.Settings{
			Name:        name,
			MaxRequests: 10,
			Interval:    60 * time.Second,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
				return counts.Requests >= 10 && failureRatio >= 0.6
			},
		},
	}
	for _, o := range opts {
		o(p)
	}
	if err := p.ValidateConfig(); err != nil {
		return nil, err
	}
	p.settings.IsSuccessful = func(err error) bool {
		return err == nil || errors.Is(err, ErrGatewayDeclined)
	}
	p.breaker = gobreaker.NewCircuitBreaker[any](p.settings)
	return p, nil
}

func (p *GatewayProvider) Name() string { return p.name }

func (p *GatewayProvider) SupportedMethods() []payment.Method {
	return []payment.Method{payment.MethodCard}
}

func (p *GatewayProvider) ValidateConfig() error {
	if p.secretKey == "" {
		return fmt.Errorf("%w: gateway secret key is not configured", domainErrors.ErrProviderNotConfigured)
	}
	if p.gateway == nil {
		return fmt.Errorf("%w: gateway client is nil", domainErrors.ErrProviderNotConfigured)
	}
	return nil
}

// call runs fn under the provider timeout and circuit breaker.
func call[T any](ctx context.Context, p *GatewayProvider, fn func(ctx context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	res, err := p.breaker.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return res.(T), nil
}

// classify turns a gateway error into a failure code and message.
func (p *GatewayProvider) classify(err error) (string, string) {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return payment.FailureTimeout, fmt.Sprintf("%s: gateway request timed out after %s", p.name, p.timeout)
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return payment.FailureUnavailable, fmt.Sprintf("%s: gateway unavailable: %v", p.name, err)
	case errors.Is(err, ErrGatewayDeclined):
		return payment.FailureDeclined, err.Error()
	default:
		return payment.FailureGatewayError, err.Error()
	}
}

func (p *GatewayProvider) ProcessPayment(ctx context.Context, req payment.ProcessRequest) (*payment.ProcessResult, error) {
	params := GatewayIntentParams{
		Amount:         req.Amount,
		Currency:       req.Currency,
		Metadata:       intentMetadata(req.Metadata, req.ReservationID, req.CustomerID, req.Method),
		PaymentMethod:  req.PaymentMethodToken,
		Confirm:        true,
		IdempotencyKey: req.IdempotencyKey,
	}
	gi, err := call(ctx, p, func(ctx context.Context) (*GatewayIntent, error) {
		return p.gateway.CreateIntent(ctx, params)
	})
	if err != nil {
		code, msg := p.classify(err)
		return payment.Failed(code, msg), nil
	}

	tx, err := payment.NewTransaction(
		payment.NewTransactionID(req.IdempotencyKey),
		req.ReservationID,
		req.CustomerID,
		payment.Money{Amount: req.Amount, Currency: req.Currency},
		payment.Provider(p.name),
		req.Method,
	)
	if err != nil {
		return payment.Failed(payment.FailureGatewayError, err.Error()), nil
	}
	tx.Metadata = mergeMetadata(nil, req.Metadata)
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		tx.IdempotencyKey = &key
	}
	return p.settle(tx, gi), nil
}

// settle moves tx to the status the gateway reports and builds the result.
func (p *GatewayProvider) settle(tx *payment.Transaction, gi *GatewayIntent) *payment.ProcessResult {
	ref := gi.ID
	tx.ExternalReferenceID = &ref

	switch status := payment.MapGatewayStatus(gi.Status); status {
	case payment.StatusCompleted, payment.StatusProcessing:
		if err := tx.TransitionTo(status); err != nil {
			return payment.Failed(payment.FailureGatewayError, err.Error())
		}
		return &payment.ProcessResult{Success: true, Transaction: tx}
	case payment.StatusPending:
		return &payment.ProcessResult{
			Success:        false,
			Transaction:    tx,
			Error:          fmt.Sprintf("payment %s requires further action (%s)", gi.ID, gi.Status),
			FailureCode:    payment.FailureRequiresAction,
			RequiresAction: true,
			ClientSecret:   gi.ClientSecret,
		}
	default:
		msg := gi.LastError
		if msg == "" {
			msg = fmt.Sprintf("payment %s ended in gateway status %s", gi.ID, gi.Status)
		}
		_ = tx.MarkFailed(msg)
		return &payment.ProcessResult{Success: false, Transaction: tx, Error: msg, FailureCode: payment.FailureDeclined}
	}
}

func (p *GatewayProvider) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	req.Provider = payment.Provider(p.name)
	params := GatewayIntentParams{
		Amount:   req.Amount,
		Currency: req.Currency,
		Metadata: intentMetadata(req.Metadata, req.ReservationID, req.CustomerID, req.Method),
	}
	gi, err := call(ctx, p, func(ctx context.Context) (*GatewayIntent, error) {
		return p.gateway.CreateIntent(ctx, params)
	})
	if err != nil {
		intent, ierr := payment.NewIntent("", req)
		if ierr != nil {
			return nil, ierr
		}
		_, msg := p.classify(err)
		_ = intent.Fail(msg)
		return intent, nil
	}

	intent, err := payment.NewIntent(gi.ID, req)
	if err != nil {
		return nil, err
	}
	if gi.ClientSecret != "" {
		secret := gi.ClientSecret
		intent.ClientSecret = &secret
	}
	if status := payment.MapGatewayStatus(gi.Status); status != payment.StatusPending {
		if status == payment.StatusFailed && gi.LastError != "" {
			_ = intent.Fail(gi.LastError)
		} else {
			_ = intent.TransitionTo(status)
		}
	}
	return intent, nil
}

func (p *GatewayProvider) ConfirmPaymentIntent(ctx context.Context, req ConfirmRequest) (*payment.ProcessResult, error) {
	if req.ExternalReferenceID == "" {
		return payment.Failed(payment.FailureNotFound, "payment intent has no gateway reference"), nil
	}
	gi, err := call(ctx, p, func(ctx context.Context) (*GatewayIntent, error) {
		return p.gateway.ConfirmIntent(ctx, req.ExternalReferenceID)
	})
	if err != nil {
		code, msg := p.classify(err)
		return payment.Failed(code, msg), nil
	}

	intent := req.Intent
	if intent == nil {
		intent = intentFromGateway(p.name, gi)
	}
	tx := intent.ToTransaction(payment.NewTransactionID(intent.ID))
	return p.settle(tx, gi), nil
}

func (p *GatewayProvider) RefundPayment(ctx context.Context, req RefundRequest) (*payment.RefundResult, error) {
	target := req.ProviderPaymentID
	if target == "" && req.Original != nil && req.Original.ExternalReferenceID != nil {
		target = *req.Original.ExternalReferenceID
	}
	if target == "" {
		return payment.RefundFailed(payment.FailureUnresolvedPayment,
			fmt.Sprintf("cannot resolve gateway payment for transaction %s", req.TransactionID)), nil
	}

	var amount int64
	switch {
	case req.Amount != nil:
		amount = *req.Amount
	case req.Original != nil:
		amount = req.Original.Refundable()
	}
	if amount <= 0 {
		return payment.RefundFailed(payment.FailureExceedsAmount, "nothing left to refund"), nil
	}

	params := GatewayRefundParams{
		PaymentIntentID: target,
		Amount:          amount,
		Reason:          req.Reason,
		IdempotencyKey:  req.Metadata["idempotency_key"],
	}
	refund, err := call(ctx, p, func(ctx context.Context) (*GatewayRefund, error) {
		return p.gateway.CreateRefund(ctx, params)
	})
	if err != nil {
		code, msg := p.classify(err)
		return payment.RefundFailed(code, msg), nil
	}

	var tx payment.Transaction
	if req.Original != nil {
		tx = *req.Original
	} else {
		tx = payment.Transaction{
			ID:                  req.TransactionID,
			Provider:            payment.Provider(p.name),
			Method:              payment.MethodCard,
			Status:              payment.StatusCompleted,
			Amount:              refund.Amount,
			ExternalReferenceID: &target,
			CreatedAt:           p.now(),
		}
	}
	tx.Metadata = mergeMetadata(tx.Metadata, req.Metadata)
	tx.Metadata["gateway_refund_id"] = refund.ID
	if err := tx.ApplyRefund(refund.Amount, p.now()); err != nil {
		// The gateway has already moved the money. Report what it refunded and
		// leave the local totals to the storage guard.
		tx.Metadata["refund_unreconciled"] = err.Error()
	}
	return &payment.RefundResult{Success: true, RefundAmount: refund.Amount, Transaction: &tx}, nil
}

func (p *GatewayProvider) GetPaymentStatus(ctx context.Context, req StatusRequest) (*payment.Transaction, error) {
	if req.Known == nil || req.Known.ExternalReferenceID == nil {
		return nil, domainErrors.ErrTransactionNotFound
	}
	ref := *req.Known.ExternalReferenceID
	gi, err := call(ctx, p, func(ctx context.Context) (*GatewayIntent, error) {
		return p.gateway.RetrieveIntent(ctx, ref)
	})
	if err != nil {
		_, msg := p.classify(err)
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrProviderUnavailable, msg)
	}

	tx := *req.Known
	status := payment.MapGatewayStatus(gi.Status)
	// The gateway keeps reporting succeeded after a refund.
	if tx.Status == payment.StatusRefunded && status == payment.StatusCompleted {
		return &tx, nil
	}
	if status != tx.Status && tx.CanTransitionTo(status) {
		_ = tx.TransitionTo(status)
		if status == payment.StatusFailed && gi.LastError != "" {
			msg := gi.LastError
			tx.ErrorMessage = &msg
		}
	}
	return &tx, nil
}

// State exposes the breaker state for status endpoints.
func (p *GatewayProvider) State() gobreaker.State {
	return p.breaker.State()
}

func intentMetadata(md map[string]string, reservationID, customerID string, method payment.Method) map[string]string {
	out := mergeMetadata(md, nil)
	out[MetaReservationID] = reservationID
	out[MetaCustomerID] = customerID
	out[MetaMethod] = string(method)
	return out
}

func intentFromGateway(provider string, gi *GatewayIntent) *payment.Intent {
	now := time.Now().UTC()
	md := mergeMetadata(gi.Metadata, nil)
	method := payment.Method(md[MetaMethod])
	if method == "" {
		method = payment.MethodCard
	}
	return &payment.Intent{
		ID:                  payment.NewTransactionID(gi.ID),
		ExternalReferenceID: gi.ID,
		Provider:            payment.Provider(provider),
		Amount:              gi.Amount,
		Currency:            gi.Currency,
		Status:              payment.StatusPending,
		Method:              method,
		ReservationID:       md[MetaReservationID],
		CustomerID:          md[MetaCustomerID],
		Metadata:            md,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
}

// GatewayEventKind is the normalized outcome carried by a gateway webhook.
type GatewayEventKind string

const (
	GatewayEventSucceeded GatewayEventKind = "succeeded"
	GatewayEventFailed    GatewayEventKind = "failed"
	GatewayEventCanceled  GatewayEventKind = "canceled"
)

// GatewayEvent is a verified webhook event about one gateway intent.
type GatewayEvent struct {
	ID                  string
	Provider            payment.Provider
	Kind                GatewayEventKind
	ExternalReferenceID string
	Message             string
}
