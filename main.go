package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/nektos/cachesave/cmd"
)

var version string

func main() {
	// trap Ctrl+C and cancel the context
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// run the command
	cmd.Execute(ctx, version)
}
