// Command bifrost compiles feature definitions into datafiles from the command line.
//
//	bifrost lint
//	bifrost build --env staging
//	bifrost explain checkout user-42 --env production --tag web
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
