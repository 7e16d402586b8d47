package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/imrishuroy/go-payflow/internal/app"
	"github.com/imrishuroy/go-payflow/internal/cli"
	"github.com/imrishuroy/go-payflow/internal/config"
	"github.com/imrishuroy/go-payflow/internal/logging"
	"github.com/imrishuroy/go-payflow/internal/ratelimit"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var opened *app.App
	root := cli.NewRootCmd(func(ctx context.Context) (*cli.Deps, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, err
		}
		// commands print their own output; keep the log for errors only
		logger, err := logging.New("error", false)
		if err != nil {
			return nil, err
		}
		a, err := app.New(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		opened = a
		return &cli.Deps{
			Queue:      a.Queue,
			Limiter:    a.Limiter,
			Ledger:     a.Ledger,
			Reconciler: a.Reconciler,
			Policies: []ratelimit.Config{
				{Name: "global", Window: cfg.RateLimit.Window, Max: cfg.RateLimit.Max},
				{Name: "sensitive", Window: cfg.RateLimit.SensitiveWindow, Max: cfg.RateLimit.SensitiveMax},
			},
		}, nil
	})

	err := root.ExecuteContext(ctx)
	if opened != nil {
		_ = opened.Close(context.Background())
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
