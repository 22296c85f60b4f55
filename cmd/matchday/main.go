package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charleschow/matchday/internal/config"
	"github.com/charleschow/matchday/internal/process"
	"github.com/charleschow/matchday/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	telemetry.Init(telemetry.ParseLogLevel(cfg.LogLevel))
	telemetry.Infof("Starting matchday")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := process.Run(ctx, cfg); err != nil {
		telemetry.Errorf("matchday: %v", err)
		os.Exit(1)
	}
}
