// Command paycorectl inspects and operates the payment ledger directly
// against the configured database, Redis and providers.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/cassiomorais/paycore/internal/bootstrap"
	infraRedis "github.com/cassiomorais/paycore/internal/infrastructure/redis"
)

func main() {
	var app *bootstrap.App
	connect := func(ctx context.Context) (*deps, error) {
		var err error
		app, err = bootstrap.New(ctx, "paycorectl", "paycorectl")
		if err != nil {
			return nil, err
		}
		svc := app.NewServices()
		return &deps{
			payments:  svc.Payments,
			providers: svc.Providers,
			events:    infraRedis.NewStreamProducer(app.Redis, app.Config.Worker.EventStream),
		}, nil
	}

	err := newRootCmd(os.Stdout, connect).Execute()
	if app != nil {
		app.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
