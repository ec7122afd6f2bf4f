package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dkeye/Huddle/internal/client/ui"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	root := newRootCmd()
	root.SilenceErrors = true
	root.SilenceUsage = true
	if err := root.ExecuteContext(ctx); err != nil {
		ui.NewPrinter(os.Stderr).Error(err)
		os.Exit(1)
	}
}
