package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	domainErrors "github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/cassiomorais/paycore/internal/domain/outbox"
	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/cassiomorais/paycore/internal/providers"
	"github.com/google/uuid"
)

// --- Transaction Repository Mock ---

// MockTransactionRepository is an in-memory payment.TransactionRepository.
// Every Func field overrides the default behaviour when set.
type MockTransactionRepository struct {
	mu           sync.Mutex
	transactions map[string]payment.Transaction

	CreateTransactionFunc func(ctx context.Context, tx *payment.Transaction) error
	UpdateTransactionFunc func(ctx context.Context, id string, patch payment.TransactionPatch) (*payment.Transaction, error)
	FindTransactionFunc   func(ctx context.Context, id string) (*payment.Transaction, error)
	ListByCustomerFunc    func(ctx context.Context, customerID string) ([]*payment.Transaction, error)
	ListStaleFunc         func(ctx context.Context, status payment.Status, olderThan time.Time, limit int) ([]*payment.Transaction, error)
}

var _ payment.TransactionRepository = (*MockTransactionRepository)(nil)

func NewMockTransactionRepository() *MockTransactionRepository {
	return &MockTransactionRepository{transactions: make(map[string]payment.Transaction)}
}

// AddTransaction pre-populates the mock with a transaction.
func (m *MockTransactionRepository) AddTransaction(tx *payment.Transaction) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transactions[tx.ID] = *tx
}

// Count returns the number of stored transactions.
func (m *MockTransactionRepository) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transactions)
}

func (m *MockTransactionRepository) CreateTransaction(ctx context.Context, tx *payment.Transaction) error {
	if m.CreateTransactionFunc != nil {
		return m.CreateTransactionFunc(ctx, tx)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if tx.IdempotencyKey != nil {
		for id, existing := range m.transactions {
			if id != tx.ID && existing.IdempotencyKey != nil && *existing.IdempotencyKey == *tx.IdempotencyKey {
				return fmt.Errorf("%w: idempotency key already used by another transaction", domainErrors.ErrInvalidInput)
			}
		}
	}
	stored := *tx
	if existing, ok := m.transactions[tx.ID]; ok {
		stored.RefundAmount = existing.RefundAmount
		stored.RefundedAt = existing.RefundedAt
		if existing.Status == payment.StatusRefunded {
			stored.Status = existing.Status
		}
		if stored.ExternalReferenceID == nil {
			stored.ExternalReferenceID = existing.ExternalReferenceID
		}
		if existing.ProcessedAt != nil {
			stored.ProcessedAt = existing.ProcessedAt
		}
		stored.Version = existing.Version
	}
	stored.Version++
	m.transactions[tx.ID] = stored
	return nil
}

// UpdateTransaction applies the patch with the same refund and version
// guards as the PostgreSQL repository.
func (m *MockTransactionRepository) UpdateTransaction(ctx context.Context, id string, patch payment.TransactionPatch) (*payment.Transaction, error) {
	if m.UpdateTransactionFunc != nil {
		return m.UpdateTransactionFunc(ctx, id, patch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok {
		return nil, domainErrors.ErrTransactionNotFound
	}
	if patch.ExpectedVersion != 0 && tx.Version != patch.ExpectedVersion {
		return nil, fmt.Errorf("%w: transaction %s is at version %d, expected %d",
			domainErrors.ErrOptimisticLockFailed, id, tx.Version, patch.ExpectedVersion)
	}
	if tx.RefundAmount+patch.AddRefund > tx.Amount {
		return nil, fmt.Errorf("%w: transaction %s", domainErrors.ErrRefundExceedsAmount, id)
	}
	if patch.Status != nil {
		tx.Status = *patch.Status
	}
	tx.RefundAmount += patch.AddRefund
	if patch.RefundedAt != nil {
		tx.RefundedAt = patch.RefundedAt
	}
	if patch.ExternalReferenceID != nil {
		tx.ExternalReferenceID = patch.ExternalReferenceID
	}
	if patch.ErrorMessage != nil {
		tx.ErrorMessage = patch.ErrorMessage
	}
	if patch.ProcessedAt != nil {
		tx.ProcessedAt = patch.ProcessedAt
	}
	tx.Version++
	tx.UpdatedAt = time.Now().UTC()
	m.transactions[id] = tx
	return &tx, nil
}

func (m *MockTransactionRepository) FindTransaction(ctx context.Context, id string) (*payment.Transaction, error) {
	if m.FindTransactionFunc != nil {
		return m.FindTransactionFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	tx, ok := m.transactions[id]
	if !ok {
		return nil, domainErrors.ErrTransactionNotFound
	}
	return &tx, nil
}

func (m *MockTransactionRepository) FindTransactionByIntent(_ context.Context, intentID string) (*payment.Transaction, error) {
	return m.findOne(func(tx payment.Transaction) bool {
		return tx.PaymentIntentID != nil && *tx.PaymentIntentID == intentID
	})
}

func (m *MockTransactionRepository) FindTransactionByIdempotencyKey(_ context.Context, key string) (*payment.Transaction, error) {
	return m.findOne(func(tx payment.Transaction) bool {
		return tx.IdempotencyKey != nil && *tx.IdempotencyKey == key
	})
}

func (m *MockTransactionRepository) ListTransactionsByCustomer(ctx context.Context, customerID string) ([]*payment.Transaction, error) {
	if m.ListByCustomerFunc != nil {
		return m.ListByCustomerFunc(ctx, customerID)
	}
	return m.filter(func(tx payment.Transaction) bool { return tx.CustomerID == customerID }), nil
}

func (m *MockTransactionRepository) ListTransactionsByReservation(_ context.Context, reservationID string) ([]*payment.Transaction, error) {
	return m.filter(func(tx payment.Transaction) bool { return tx.ReservationID == reservationID }), nil
}

func (m *MockTransactionRepository) ListStaleTransactions(ctx context.Context, status payment.Status, olderThan time.Time, limit int) ([]*payment.Transaction, error) {
	if m.ListStaleFunc != nil {
		return m.ListStaleFunc(ctx, status, olderThan, limit)
	}
	out := m.filter(func(tx payment.Transaction) bool {
		return tx.Status == status && tx.UpdatedAt.Before(olderThan)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockTransactionRepository) findOne(match func(payment.Transaction) bool) (*payment.Transaction, error) {
	if found := m.filter(match); len(found) > 0 {
		return found[0], nil
	}
	return nil, domainErrors.ErrTransactionNotFound
}

// filter returns copies of the matching transactions, newest first.
func (m *MockTransactionRepository) filter(match func(payment.Transaction) bool) []*payment.Transaction {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*payment.Transaction, 0)
	for _, tx := range m.transactions {
		if match(tx) {
			tx := tx
			out = append(out, &tx)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// --- Intent Repository Mock ---

// MockIntentRepository is an in-memory payment.IntentRepository.
type MockIntentRepository struct {
	mu      sync.Mutex
	intents map[string]payment.Intent

	CreateIntentFunc func(ctx context.Context, intent *payment.Intent) error
	UpdateIntentFunc func(ctx context.Context, id string, patch payment.IntentPatch) (*payment.Intent, error)
}

var _ payment.IntentRepository = (*MockIntentRepository)(nil)

func NewMockIntentRepository() *MockIntentRepository {
	return &MockIntentRepository{intents: make(map[string]payment.Intent)}
}

// AddIntent pre-populates the mock with an intent.
func (m *MockIntentRepository) AddIntent(intent *payment.Intent) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.intents[intent.ID] = *intent
}

func (m *MockIntentRepository) CreateIntent(ctx context.Context, intent *payment.Intent) error {
	if m.CreateIntentFunc != nil {
		return m.CreateIntentFunc(ctx, intent)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	stored := *intent
	// Client secrets are handed to the caller, never stored.
	stored.ClientSecret = nil
	m.intents[intent.ID] = stored
	return nil
}

func (m *MockIntentRepository) UpdateIntent(ctx context.Context, id string, patch payment.IntentPatch) (*payment.Intent, error) {
	if m.UpdateIntentFunc != nil {
		return m.UpdateIntentFunc(ctx, id, patch)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[id]
	if !ok {
		return nil, domainErrors.ErrIntentNotFound
	}
	if patch.Status != nil {
		intent.Status = *patch.Status
	}
	if patch.ErrorMessage != nil {
		intent.ErrorMessage = patch.ErrorMessage
	}
	if patch.ProcessedAt != nil {
		intent.ProcessedAt = patch.ProcessedAt
	}
	intent.UpdatedAt = time.Now().UTC()
	m.intents[id] = intent
	return &intent, nil
}

func (m *MockIntentRepository) FindIntent(_ context.Context, id string) (*payment.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	intent, ok := m.intents[id]
	if !ok {
		return nil, domainErrors.ErrIntentNotFound
	}
	return &intent, nil
}

func (m *MockIntentRepository) FindIntentByExternalReference(_ context.Context, provider payment.Provider, ref string) (*payment.Intent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, intent := range m.intents {
		if intent.Provider == provider && intent.ExternalReferenceID == ref {
			return &intent, nil
		}
	}
	return nil, domainErrors.ErrIntentNotFound
}

// --- Transaction Manager Mock ---

// MockTransactionManager is a mock implementation of TransactionManager.
type MockTransactionManager struct {
	WithTransactionFunc func(ctx context.Context, fn func(ctx context.Context) error) error
}

func NewMockTransactionManager() *MockTransactionManager {
	return &MockTransactionManager{}
}

func (m *MockTransactionManager) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.WithTransactionFunc != nil {
		return m.WithTransactionFunc(ctx, fn)
	}
	return fn(ctx)
}

// --- Outbox Repository Mock ---

// MockOutboxRepository records inserted entries in memory.
type MockOutboxRepository struct {
	mu      sync.Mutex
	entries []*outbox.Entry
	failed  map[uuid.UUID]string

	InsertFunc        func(ctx context.Context, entry *outbox.Entry) error
	GetPendingFunc    func(ctx context.Context, limit int) ([]*outbox.Entry, error)
	MarkPublishedFunc func(ctx context.Context, id uuid.UUID) error
	MarkFailedFunc    func(ctx context.Context, id uuid.UUID, reason string) error
}

var _ outbox.Repository = (*MockOutboxRepository)(nil)

func NewMockOutboxRepository() *MockOutboxRepository {
	return &MockOutboxRepository{failed: make(map[uuid.UUID]string)}
}

// Entries returns the inserted entries in insertion order.
func (m *MockOutboxRepository) Entries() []*outbox.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*outbox.Entry(nil), m.entries...)
}

// EventTypes returns the event type of every inserted entry.
func (m *MockOutboxRepository) EventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, e.EventType)
	}
	return out
}

// FailureReason returns the last reason recorded by MarkFailed.
func (m *MockOutboxRepository) FailureReason(id uuid.UUID) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.failed[id]
}

func (m *MockOutboxRepository) Insert(ctx context.Context, entry *outbox.Entry) error {
	if m.InsertFunc != nil {
		return m.InsertFunc(ctx, entry)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, entry)
	return nil
}

func (m *MockOutboxRepository) GetPending(ctx context.Context, limit int) ([]*outbox.Entry, error) {
	if m.GetPendingFunc != nil {
		return m.GetPendingFunc(ctx, limit)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*outbox.Entry
	for _, e := range m.entries {
		if e.Status == outbox.StatusPending && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *MockOutboxRepository) MarkPublished(ctx context.Context, id uuid.UUID) error {
	if m.MarkPublishedFunc != nil {
		return m.MarkPublishedFunc(ctx, id)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, e := range m.entries {
		if e.ID == id {
			now := time.Now().UTC()
			e.Status = outbox.StatusPublished
			e.PublishedAt = &now
		}
	}
	return nil
}

func (m *MockOutboxRepository) MarkFailed(ctx context.Context, id uuid.UUID, reason string) error {
	if m.MarkFailedFunc != nil {
		return m.MarkFailedFunc(ctx, id, reason)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failed[id] = reason
	for _, e := range m.entries {
		if e.ID == id {
			e.RetryCount++
			e.LastError = &reason
			if e.RetryCount >= e.MaxRetries {
				e.Status = outbox.StatusFailed
			}
		}
	}
	return nil
}

func (m *MockOutboxRepository) CountPending(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, e := range m.entries {
		if e.Status == outbox.StatusPending {
			n++
		}
	}
	return n, nil
}

// --- Locker Mock ---

// MockLocker is an in-process lock keyed by string. Contended keys fail
// immediately with ErrLockAcquisitionFailed.
type MockLocker struct {
	mu   sync.Mutex
	held map[string]bool
	keys []string

	LockFunc func(ctx context.Context, key string) (func(context.Context) error, error)
}

func NewMockLocker() *MockLocker {
	return &MockLocker{held: make(map[string]bool)}
}

// Keys returns every key that was locked, in order.
func (m *MockLocker) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.keys...)
}

func (m *MockLocker) Lock(ctx context.Context, key string) (func(context.Context) error, error) {
	if m.LockFunc != nil {
		return m.LockFunc(ctx, key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.held[key] {
		return nil, fmt.Errorf("%w: %s", domainErrors.ErrLockAcquisitionFailed, key)
	}
	m.held[key] = true
	m.keys = append(m.keys, key)
	return func(context.Context) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.held, key)
		return nil
	}, nil
}

// --- Provider Mock ---

// MockProvider is a providers.Provider whose behaviour is set per test.
// Unset operations succeed with a completed transaction.
type MockProvider struct {
	NameValue string
	Methods   []payment.Method

	ProcessPaymentFunc       func(ctx context.Context, req payment.ProcessRequest) (*payment.ProcessResult, error)
	CreatePaymentIntentFunc  func(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error)
	ConfirmPaymentIntentFunc func(ctx context.Context, req providers.ConfirmRequest) (*payment.ProcessResult, error)
	RefundPaymentFunc        func(ctx context.Context, req providers.RefundRequest) (*payment.RefundResult, error)
	GetPaymentStatusFunc     func(ctx context.Context, req providers.StatusRequest) (*payment.Transaction, error)
	ValidateConfigFunc       func() error

	mu    sync.Mutex
	calls map[string]int
}

var _ providers.Provider = (*MockProvider)(nil)

func NewMockProvider(name string, methods ...payment.Method) *MockProvider {
	if len(methods) == 0 {
		methods = []payment.Method{payment.MethodCard}
	}
	return &MockProvider{NameValue: name, Methods: methods, calls: make(map[string]int)}
}

// Calls returns how many times op was invoked.
func (m *MockProvider) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

func (m *MockProvider) record(op string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls[op]++
}

func (m *MockProvider) Name() string                       { return m.NameValue }
func (m *MockProvider) SupportedMethods() []payment.Method { return m.Methods }

func (m *MockProvider) ValidateConfig() error {
	if m.ValidateConfigFunc != nil {
		return m.ValidateConfigFunc()
	}
	return nil
}

func (m *MockProvider) ProcessPayment(ctx context.Context, req payment.ProcessRequest) (*payment.ProcessResult, error) {
	m.record("process")
	if m.ProcessPaymentFunc != nil {
		return m.ProcessPaymentFunc(ctx, req)
	}
	tx, err := payment.NewTransaction(payment.NewTransactionID(req.IdempotencyKey), req.ReservationID, req.CustomerID,
		payment.Money{Amount: req.Amount, Currency: req.Currency}, payment.Provider(m.NameValue), req.Method)
	if err != nil {
		return nil, err
	}
	if req.IdempotencyKey != "" {
		key := req.IdempotencyKey
		tx.IdempotencyKey = &key
	}
	if err := tx.MarkCompleted("mock_" + tx.ID); err != nil {
		return nil, err
	}
	return &payment.ProcessResult{Success: true, Transaction: tx}, nil
}

func (m *MockProvider) CreatePaymentIntent(ctx context.Context, req payment.IntentRequest) (*payment.Intent, error) {
	m.record("create_intent")
	if m.CreatePaymentIntentFunc != nil {
		return m.CreatePaymentIntentFunc(ctx, req)
	}
	req.Provider = payment.Provider(m.NameValue)
	return payment.NewIntent("mock_pi_"+uuid.NewString()[:8], req)
}

func (m *MockProvider) ConfirmPaymentIntent(ctx context.Context, req providers.ConfirmRequest) (*payment.ProcessResult, error) {
	m.record("confirm_intent")
	if m.ConfirmPaymentIntentFunc != nil {
		return m.ConfirmPaymentIntentFunc(ctx, req)
	}
	if req.Intent == nil {
		return payment.Failed(payment.FailureNotFound, "intent not found"), nil
	}
	tx := req.Intent.ToTransaction(payment.NewTransactionID(req.Intent.ID))
	if err := tx.MarkCompleted(req.ExternalReferenceID); err != nil {
		return nil, err
	}
	return &payment.ProcessResult{Success: true, Transaction: tx}, nil
}

func (m *MockProvider) RefundPayment(ctx context.Context, req providers.RefundRequest) (*payment.RefundResult, error) {
	m.record("refund")
	if m.RefundPaymentFunc != nil {
		return m.RefundPaymentFunc(ctx, req)
	}
	var amount int64
	if req.Amount != nil {
		amount = *req.Amount
	}
	return &payment.RefundResult{Success: true, RefundAmount: amount}, nil
}

func (m *MockProvider) GetPaymentStatus(ctx context.Context, req providers.StatusRequest) (*payment.Transaction, error) {
	m.record("status")
	if m.GetPaymentStatusFunc != nil {
		return m.GetPaymentStatusFunc(ctx, req)
	}
	if req.Known == nil {
		return nil, domainErrors.ErrTransactionNotFound
	}
	known := *req.Known
	return &known, nil
}

// --- Provider Lookup Mock ---

// StaticProviders resolves providers from a fixed map.
type StaticProviders map[payment.Provider]providers.Provider

func (s StaticProviders) Get(name payment.Provider) (providers.Provider, error) {
	p, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q: %w", name, domainErrors.ErrUnsupportedProvider)
	}
	return p, nil
}
