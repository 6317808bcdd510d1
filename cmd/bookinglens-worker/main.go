package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"time"

	"bookinglens/internal/amqp"
	"bookinglens/internal/cli"
	"bookinglens/internal/config"
	applog "bookinglens/internal/log"
	"bookinglens/internal/worker"
)

func main() {
	cli.LoadEnvFile()

	appLogger := cli.SetupLogger(os.Getenv("LOG_LEVEL"))
	logger := appLogger.Slog()
	logger.Info("Starting bookinglens-worker")

	cfg := cli.LoadAndValidateConfig(logger, (*config.Config).ValidateWorker)
	store := cli.InitBackend(context.Background(), logger, cfg)
	defer store.Close()

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", "error", err)
		os.Exit(1)
	}

	exportWorker := worker.NewExportWorker(store, cfg.ExportDir, appLogger.WithComponent(applog.ComponentWorker).Slog())

	ctx, done := cli.GracefulShutdown(logger, 30*time.Second, func(context.Context) {
		if err := amqpClient.Close(); err != nil {
			logger.Error("Failed to close AMQP client", "error", err)
		}
	})

	go func() {
		if err := amqpClient.ConsumeExportRequests(ctx, exportWorker.HandleExportRequest); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Message consumption failed", "error", err)
		}
	}()

	// export files live as long as the datasets they were made from
	if cfg.DatasetTTL > 0 {
		go pruneLoop(ctx, exportWorker, cfg.DatasetTTL, logger)
	}

	logger.Info("Worker started", "queue", cfg.AMQPQueue, "export_dir", cfg.ExportDir)
	cli.WaitForShutdown(ctx, done)
	logger.Info("Worker stopped gracefully")
}

func pruneLoop(ctx context.Context, w *worker.ExportWorker, maxAge time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.PruneExports(ctx, maxAge); err != nil {
				logger.Error("Failed to prune exports", "error", err)
			}
		}
	}
}
