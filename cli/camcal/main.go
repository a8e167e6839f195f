// Package main is the camcal command itself.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	camcal "go.viam.com/camcal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := camcal.NewApp(os.Stdout, os.Stderr)
	if err := app.RunContext(ctx, os.Args); err != nil {
		stop()
		log.Fatal(err)
	}
}
