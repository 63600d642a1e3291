package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fundlane/mca-backend/internal/bootstrap"
	"github.com/fundlane/mca-backend/internal/config"
	"github.com/fundlane/mca-backend/internal/observability/logging"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("worker", cfg.LogLevel)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewWorker(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	// Scrape endpoint for the worker process; the API serves its own /metrics.
	metricsServer := &http.Server{
		Addr:        ":" + cfg.WorkerMetricsPort,
		Handler:     app.WorkerMetrics.Handler(),
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("worker metrics listening", "port", cfg.WorkerMetricsPort)
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("worker metrics server", "error", err)
		}
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("worker consuming", "concurrency", cfg.WorkerConcurrency)
		errCh <- app.Worker.Run()
	}()

	select {
	case <-ctx.Done():
		app.Worker.Shutdown()
	case err := <-errCh:
		if err != nil {
			log.Fatalf("worker error: %v", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
}
