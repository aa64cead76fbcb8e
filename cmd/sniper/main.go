package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/vtornik/listing-sniper/internal/bootstrap"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Values already exported in the environment win over .env entries.
	_ = godotenv.Load()

	app, err := bootstrap.NewBuilder().
		WithOptionsFetch().
		WithLogger().
		WithTelemetry().
		WithHTTP().
		WithChatLog(ctx).
		WithCaller().
		WithCoinMeta().
		WithTwitter().
		WithTradeManager().
		WithTriggers().
		WithBot().
		WithMemWatcher().
		Build()
	if err != nil {
		var flagsErr *flags.Error
		if errors.As(err, &flagsErr) && flagsErr.Type == flags.ErrHelp {
			return 0
		}
		fmt.Fprintf(os.Stderr, "unable to build the sniper: %v\n", err)
		return 1
	}

	if err := app.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "unable to start the sniper: %v\n", err)
		app.Stop()
		return 1
	}

	app.Stop()
	return 0
}
