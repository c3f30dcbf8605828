package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/cassiomorais/paycore/internal/controller"
	"github.com/cassiomorais/paycore/internal/domain/payment"
	infraRedis "github.com/cassiomorais/paycore/internal/infrastructure/redis"
	"github.com/cassiomorais/paycore/internal/providers"
	"github.com/cassiomorais/paycore/internal/service"
	"github.com/cassiomorais/paycore/internal/testutil"
	"github.com/cassiomorais/paycore/internal/validation"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticEvents []infraRedis.StreamEvent

func (s staticEvents) Recent(_ context.Context, count int64) ([]infraRedis.StreamEvent, error) {
	if int64(len(s)) > count {
		return s[:count], nil
	}
	return s, nil
}

type cliFixture struct {
	transactions *testutil.MockTransactionRepository
	gateway      *testutil.MockProvider
	deps         *deps
}

func setupCLI(t *testing.T) *cliFixture {
	t.Helper()
	f := &cliFixture{
		transactions: testutil.NewMockTransactionRepository(),
		gateway:      testutil.NewMockProvider("mockpay", payment.MethodCard),
	}
	registry := providers.NewRegistry(zerolog.Nop(),
		providers.Registration{Name: "mockpay", Build: func() (providers.Provider, error) { return f.gateway, nil }},
	)
	svc := service.NewPaymentService(f.transactions, testutil.NewMockIntentRepository(), testutil.NewMockOutboxRepository(),
		testutil.NewMockTransactionManager(), registry, validation.New(validation.DefaultConfig()), nil)
	f.deps = &deps{
		payments:  svc,
		providers: registry,
		events: staticEvents{
			{StreamID: "2-0", EventType: "payment.refunded", AggregateID: "tx_1", Timestamp: time.Unix(2, 0)},
			{StreamID: "1-0", EventType: "payment.completed", AggregateID: "tx_1", Timestamp: time.Unix(1, 0)},
		},
	}
	return f
}

func (f *cliFixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd(&out, func(context.Context) (*deps, error) { return f.deps, nil })
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestProvidersCommand(t *testing.T) {
	f := setupCLI(t)

	out, err := f.run(t, "providers")
	require.NoError(t, err)

	var statuses []providers.ProviderStatus
	require.NoError(t, json.Unmarshal([]byte(out), &statuses))
	require.Len(t, statuses, 1)
	assert.Equal(t, "mockpay", statuses[0].Name)
	assert.True(t, statuses[0].Enabled)
}

func TestStatusCommand(t *testing.T) {
	f := setupCLI(t)
	f.transactions.AddTransaction(testutil.NewCompletedTransaction("tx_1", "mockpay", 5000))

	out, err := f.run(t, "status", "tx_1")
	require.NoError(t, err)

	var tx controller.TransactionResponse
	require.NoError(t, json.Unmarshal([]byte(out), &tx))
	assert.Equal(t, "tx_1", tx.ID)
	assert.Equal(t, "completed", tx.Status)

	_, err = f.run(t, "status", "tx_missing")
	assert.Error(t, err)
}

func TestHistoryCommand(t *testing.T) {
	f := setupCLI(t)
	f.transactions.AddTransaction(testutil.NewCompletedTransaction("tx_1", "mockpay", 5000))

	out, err := f.run(t, "history", "--customer", "cust_123")
	require.NoError(t, err)
	var txs []controller.TransactionResponse
	require.NoError(t, json.Unmarshal([]byte(out), &txs))
	assert.Len(t, txs, 1)

	_, err = f.run(t, "history")
	assert.ErrorContains(t, err, "required")

	_, err = f.run(t, "history", "--customer", "c", "--reservation", "r")
	assert.ErrorContains(t, err, "not both")
}

func TestRefundCommand(t *testing.T) {
	f := setupCLI(t)
	f.transactions.AddTransaction(testutil.NewCompletedTransaction("tx_1", "mockpay", 5000))

	out, err := f.run(t, "refund", "tx_1", "--amount", "2000", "--reason", "early checkout")
	require.NoError(t, err)
	var result controller.RefundResultResponse
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, int64(2000), result.RefundAmount)

	out, err = f.run(t, "refund", "tx_1")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, int64(3000), result.RefundAmount)
	assert.Equal(t, int64(5000), result.Transaction.RefundAmount)
}

func TestRefundCommand_Rejected(t *testing.T) {
	f := setupCLI(t)
	f.transactions.AddTransaction(testutil.NewCompletedTransaction("tx_1", "mockpay", 5000))
	f.gateway.RefundPaymentFunc = func(context.Context, providers.RefundRequest) (*payment.RefundResult, error) {
		return payment.RefundFailed(payment.FailureDeclined, "charge disputed"), nil
	}

	_, err := f.run(t, "refund", "tx_1")
	assert.ErrorContains(t, err, "charge disputed")
}

func TestEventsCommand(t *testing.T) {
	f := setupCLI(t)

	out, err := f.run(t, "events", "--count", "1")
	require.NoError(t, err)
	var events []infraRedis.StreamEvent
	require.NoError(t, json.Unmarshal([]byte(out), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "payment.refunded", events[0].EventType)
}

func TestConnectFailureStopsCommand(t *testing.T) {
	cmd := newRootCmd(&bytes.Buffer{}, func(context.Context) (*deps, error) {
		return nil, errors.New("database unreachable")
	})
	cmd.SetArgs([]string{"providers"})
	assert.ErrorContains(t, cmd.Execute(), "database unreachable")
}
