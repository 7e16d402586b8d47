package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/imrishuroy/go-payflow/internal/app"
	"github.com/imrishuroy/go-payflow/internal/config"
	"github.com/imrishuroy/go-payflow/internal/logging"
	"github.com/imrishuroy/go-payflow/internal/queue"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger := logging.Must(cfg.LogLevel, !cfg.IsProduction())
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("failed to init application", zap.Error(err))
	}
	if err := a.RegisterWorkers(); err != nil {
		logger.Fatal("failed to register workers", zap.Error(err))
	}

	// If RUN_LOCAL=true, poll the queues from this process instead of waiting for Lambda events.
	if cfg.RunLocal {
		if err := a.RunBackground(ctx); err != nil {
			logger.Fatal("failed to start workers", zap.Error(err))
		}
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Close(shutdownCtx); err != nil {
			logger.Error("shutdown incomplete", zap.Error(err))
		}
		return
	}

	sqsBackend, ok := a.Backend.(*queue.SQSBackend)
	if !ok {
		logger.Fatal("lambda mode requires QUEUE_BACKEND=sqs")
	}
	go a.Monitor.Run(ctx)

	// the same function serves the SQS triggers and a scheduled reconciliation rule
	processor := NewProcessor(a.Queue, sqsBackend, a.Reconciler, logger.Named("lambda"))
	lambda.StartWithOptions(processor.Invoke, lambda.WithContext(ctx))
}
