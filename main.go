package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/arbetrix/arbbot/cmd"
	"github.com/arbetrix/arbbot/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	defer utils.CleanupLogger()

	if err := cmd.ExecuteContext(ctx); err != nil {
		utils.GetLogger().Sync()
		os.Exit(1)
	}
}
