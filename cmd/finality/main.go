package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/sutehoge/catapult-server/cmd/finality/cmd"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.New().Execute(ctx)
}
