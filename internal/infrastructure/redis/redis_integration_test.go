//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	domainErrors "github.com/cassiomorais/paycore/internal/domain/errors"
	"github.com/cassiomorais/paycore/internal/domain/outbox"
	"github.com/cassiomorais/paycore/internal/domain/payment"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startRedis(t *testing.T) *redis.Client {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForListeningPort("6379/tcp").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	endpoint, err := container.Endpoint(ctx, "")
	require.NoError(t, err)

	client := redis.NewClient(&redis.Options{Addr: endpoint})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())
	return client
}

func TestLocker_Integration(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	locker := NewLocker(client, 5*time.Second, 2, 10*time.Millisecond)

	release, err := locker.Lock(ctx, "transaction:tx_1")
	require.NoError(t, err)

	_, err = locker.Lock(ctx, "transaction:tx_1")
	assert.ErrorIs(t, err, domainErrors.ErrLockAcquisitionFailed)

	other, err := locker.Lock(ctx, "transaction:tx_2")
	require.NoError(t, err)
	require.NoError(t, other(ctx))

	require.NoError(t, release(ctx))

	again, err := locker.Lock(ctx, "transaction:tx_1")
	require.NoError(t, err)
	require.NoError(t, again(ctx))
}

func TestDistributedLock_SingleOwner(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	first := NewDistributedLock(client, "intent:i_1", 5*time.Second)
	ok, err := first.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	second := NewDistributedLock(client, "intent:i_1", 5*time.Second)
	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.False(t, ok)
	// Not holding the key, so there is nothing to release.
	require.NoError(t, second.Release(ctx))

	require.NoError(t, first.Release(ctx))
	require.NoError(t, first.Release(ctx))

	ok, err = second.Acquire(ctx)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, second.Release(ctx))
}

func TestDistributedLock_ExpiredTokenIsNotReleased(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()

	lock := NewDistributedLock(client, "transaction:tx_expired", 50*time.Millisecond)
	ok, err := lock.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	require.Eventually(t, func() bool {
		n, err := client.Exists(ctx, "paycore:lock:transaction:tx_expired").Result()
		return err == nil && n == 0
	}, 2*time.Second, 20*time.Millisecond)

	taker := NewDistributedLock(client, "transaction:tx_expired", 5*time.Second)
	ok, err = taker.Acquire(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Error(t, lock.Release(ctx))
	n, err := client.Exists(ctx, "paycore:lock:transaction:tx_expired").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestReferenceStore_Integration(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	store := NewReferenceStore(client, time.Hour)

	_, err := store.GetIntent(ctx, "ref_pi_missing")
	assert.ErrorIs(t, err, domainErrors.ErrIntentNotFound)
	_, err = store.GetTransaction(ctx, "tx_missing")
	assert.ErrorIs(t, err, domainErrors.ErrTransactionNotFound)

	intent, err := payment.NewIntent("ref_pi_abc", payment.IntentRequest{
		ReservationID: "res_1", CustomerID: "cust_1", Amount: 5000, Currency: "JPY",
		Method: payment.MethodCash, Provider: payment.ProviderReference,
		Metadata: map[string]string{"room": "204"},
	})
	require.NoError(t, err)
	require.NoError(t, store.SaveIntent(ctx, intent))

	got, err := store.GetIntent(ctx, "ref_pi_abc")
	require.NoError(t, err)
	assert.Equal(t, intent.ID, got.ID)
	assert.Equal(t, "204", got.Metadata["room"])
	assert.Equal(t, payment.StatusPending, got.Status)

	tx := intent.ToTransaction("tx_abc")
	require.NoError(t, tx.MarkCompleted("ref_pi_abc"))
	require.NoError(t, store.SaveTransaction(ctx, tx))

	gotTx, err := store.GetTransaction(ctx, "tx_abc")
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, gotTx.Status)
	assert.Equal(t, int64(5000), gotTx.Amount)
}

func TestStreamProducer_Integration(t *testing.T) {
	client := startRedis(t)
	ctx := context.Background()
	producer := NewStreamProducer(client, "")

	first := outbox.NewEntry(outbox.AggregateTransaction, "tx_1", outbox.EventPaymentCompleted, map[string]any{"amount": 100})
	second := outbox.NewEntry(outbox.AggregateTransaction, "tx_1", outbox.EventPaymentRefunded, map[string]any{"refund_amount": 40})
	require.NoError(t, producer.Publish(ctx, first))
	require.NoError(t, producer.Publish(ctx, second))

	events, err := producer.Recent(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)

	assert.Equal(t, outbox.EventPaymentRefunded, events[0].EventType)
	assert.Equal(t, second.ID.String(), events[0].EventID)
	assert.Equal(t, "tx_1", events[1].AggregateID)
	assert.JSONEq(t, `{"amount":100}`, events[1].Payload)
	assert.Equal(t, EventStream, producer.Stream())
}
