// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/beleidsscan/workflow-engine/internal/app"
	"github.com/beleidsscan/workflow-engine/internal/config"
	"github.com/beleidsscan/workflow-engine/internal/logging"
	httptransport "github.com/beleidsscan/workflow-engine/internal/transport/http"
	"github.com/beleidsscan/workflow-engine/internal/worker"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
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

	// Runs started from the API execute in this process. A shutdown signal
	// pauses them at the next step boundary.
	launcher := worker.New(worker.Deps{
		Runs:          a.Store,
		Engine:        a.Engine,
		Logger:        logger,
		WebhookSecret: cfg.WebhookSecret,
		BaseContext:   ctx,
	})
	a.Runs.OnIdleCancel(launcher.NotifyTerminal)

	handler := httptransport.NewRouter(httptransport.Deps{
		Runs:              a.Runs,
		Checkpoints:       a.Checkpoints,
		Rollback:          a.Rollback,
		Workflows:         a.Workflows,
		Launcher:          launcher,
		Health:            a.Health,
		Logger:            logger,
		AdminToken:        cfg.AdminToken,
		ControlRatePerMin: cfg.ControlRatePerMin,
		Version:           Version,
		Commit:            Commit,
		BuildDate:         BuildDate,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("api listening",
			"addr", cfg.HTTPAddr,
			"version", Version,
			"commit", Commit,
			"build_date", BuildDate,
		)

		if err := srv.ListenAndServe(); err != nil &&
			err != http.ErrServerClosed {
			logger.Error("server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(
		context.Background(),
		5*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", "error", err)
	}

	launcher.Wait()
	logger.Info("in-flight runs stopped")
}
