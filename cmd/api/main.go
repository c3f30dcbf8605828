package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/cassiomorais/paycore/internal/bootstrap"
	"github.com/cassiomorais/paycore/internal/controller"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "paycore-api", "paycore")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	svc := app.NewServices()
	webhooks := bootstrap.NewWebhooks(app.Config.Payment.Gateway, svc.Payments, app.Logger)

	deps := controller.RouterDeps{
		ServiceName:    "paycore-api",
		Checks:         app.Checks(),
		Outbox:         svc.Outbox,
		PaymentService: svc.Payments,
		Registry:       svc.Providers,
		Webhooks:       webhooks,
		Metrics:        app.Metrics,
		CORSConfig:     app.Config.Server.CORS,
		RateLimit:      app.Config.Server.RateLimit,
		RequestTimeout: app.Config.Server.WriteTimeout,
		Logger:         app.Logger,
	}
	if app.Config.Observability.EnableMetrics {
		deps.Gatherer = app.Registry
	}
	router := controller.NewRouter(deps)

	for _, s := range svc.Providers.Statuses() {
		app.Logger.Info().Str("provider", s.Name).Bool("enabled", s.Enabled).Str("reason", s.Reason).Msg("Provider status")
	}

	addr := fmt.Sprintf(":%d", app.Config.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  app.Config.Server.ReadTimeout,
		WriteTimeout: app.Config.Server.WriteTimeout,
		IdleTimeout:  app.Config.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Bool("webhooks", webhooks.Enabled()).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	<-ctx.Done()

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), app.Config.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
