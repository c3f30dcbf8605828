package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/paycore/internal/bootstrap"
	infraRedis "github.com/cassiomorais/paycore/internal/infrastructure/redis"
	"github.com/cassiomorais/paycore/internal/worker"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "paycore-worker", "paycore_worker")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	svc := app.NewServices()
	workerCfg := app.Config.Worker
	producer := infraRedis.NewStreamProducer(app.Redis, workerCfg.EventStream)

	relay := worker.NewOutboxRelay(svc.Outbox, svc.TxManager, producer,
		worker.WithRelayBatchSize(workerCfg.BatchSize),
		worker.WithRelayInterval(workerCfg.OutboxPollInterval),
		worker.WithRelayLogger(app.Logger),
		worker.WithRelayMetrics(app.Metrics),
	)
	reconciler := worker.NewReconciler(svc.Transactions, svc.Payments,
		worker.WithStaleAfter(workerCfg.StaleAfter),
		worker.WithReconcileInterval(workerCfg.ReconcileInterval),
		worker.WithReconcileBatchSize(workerCfg.BatchSize),
		worker.WithReconcilerLogger(app.Logger),
		worker.WithReconcilerMetrics(app.Metrics),
	)

	app.Logger.Info().
		Str("stream", producer.Stream()).
		Dur("outbox_poll_interval", workerCfg.OutboxPollInterval).
		Dur("reconcile_interval", workerCfg.ReconcileInterval).
		Msg("Worker started")

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error { return relay.Run(gCtx) })
	g.Go(func() error { return reconciler.Run(gCtx) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Worker error")
	}
	app.Logger.Info().Msg("Worker exited")
}
