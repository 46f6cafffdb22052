// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/beleidsscan/workflow-engine/internal/app"
	"github.com/beleidsscan/workflow-engine/internal/config"
	"github.com/beleidsscan/workflow-engine/internal/logging"
	"github.com/beleidsscan/workflow-engine/internal/worker"
)

func main() {
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	logger := logging.NewLogger(cfg.Env)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer func() {
		if err := a.Close(context.Background()); err != nil {
			logger.Error("close failed", "error", err)
		}
	}()

	w := worker.New(worker.Deps{
		Runs:          a.Store,
		Engine:        a.Engine,
		Logger:        logger,
		WebhookSecret: cfg.WebhookSecret,
		BatchSize:     cfg.WorkerBatchSize,
		PollInterval:  cfg.WorkerPollInterval,
		BaseContext:   ctx,
	})

	if err := w.Run(ctx); err != nil && ctx.Err() == nil {
		logger.Error("worker stopped", "error", err)
	}
	w.Wait()
	logger.Info("worker shut down")
}
