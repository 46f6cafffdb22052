// SPDX-License-Identifier: Apache-2.0

// Package worker executes runs outside the request path: it claims pending
// runs on a poll loop, launches runs handed over by the API and notifies
// webhooks once a run reaches a terminal status.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/beleidsscan/workflow-engine/internal/domain"
	"github.com/beleidsscan/workflow-engine/internal/engine"
	"github.com/beleidsscan/workflow-engine/internal/metrics"
)

var ErrStopped = errors.New("worker stopped")

// Runs is the run state the worker reads.
type Runs interface {
	GetRun(ctx context.Context, id uuid.UUID) (*domain.Run, error)
	ListRunsByStatus(ctx context.Context, status domain.RunStatus, limit int) ([]domain.Run, error)
}

// Executor runs a workflow to its next stable status.
type Executor interface {
	Execute(ctx context.Context, ref engine.WorkflowRef, initialParams map[string]any, runID uuid.UUID) (domain.RunStatus, error)
	Resume(ctx context.Context, runID uuid.UUID) (domain.RunStatus, error)
}

type Deps struct {
	Runs          Runs
	Engine        Executor
	Logger        *slog.Logger
	HTTPClient    *http.Client
	WebhookSecret string
	BatchSize     int
	PollInterval  time.Duration
	// BaseContext bounds runs started through Launch and Resume. Cancelling
	// it interrupts them at the next step boundary.
	BaseContext context.Context
}

type Worker struct {
	runs          Runs
	engine        Executor
	logger        *slog.Logger
	httpClient    *http.Client
	webhookSecret string
	batchSize     int
	pollInterval  time.Duration

	base     context.Context
	inflight sync.WaitGroup
	mu       sync.Mutex
	active   map[uuid.UUID]struct{}
}

func New(deps Deps) *Worker {
	l := deps.Logger
	if l == nil {
		l = slog.Default()
	}

	batch := deps.BatchSize
	if batch <= 0 {
		batch = 4
	}

	poll := deps.PollInterval
	if poll <= 0 {
		poll = 800 * time.Millisecond
	}

	client := deps.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	base := deps.BaseContext
	if base == nil {
		base = context.Background()
	}

	return &Worker{
		runs:          deps.Runs,
		engine:        deps.Engine,
		logger:        l,
		httpClient:    client,
		webhookSecret: deps.WebhookSecret,
		batchSize:     batch,
		pollInterval:  poll,
		base:          base,
		active:        make(map[uuid.UUID]struct{}),
	}
}

// ProcessOnce claims up to BatchSize pending runs and executes them
// concurrently. It returns once all of them reached a stable status.
func (w *Worker) ProcessOnce(ctx context.Context) (int, error) {
	runs, err := w.runs.ListRunsByStatus(ctx, domain.RunPending, w.batchSize)
	if err != nil {
		w.logger.Error("list pending runs failed", "error", err)
		return 0, err
	}

	g, gctx := errgroup.WithContext(ctx)
	claimed := 0
	for _, run := range runs {
		if !w.claim(run.ID) {
			continue
		}
		claimed++
		metrics.ObserveWorkerClaimLatency(time.Since(run.CreatedAt))

		w.logger.Info("run claimed",
			"run_id", run.ID,
			"workflow", run.WorkflowID,
		)

		g.Go(func() error {
			defer w.release(run.ID)
			w.execute(gctx, run.ID, func(ctx context.Context) (domain.RunStatus, error) {
				return w.engine.Execute(ctx, engine.ByID(run.WorkflowID), nil, run.ID)
			})
			return nil
		})
	}
	return claimed, g.Wait()
}

// Run polls for pending runs until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("worker started", "poll_interval", w.pollInterval, "batch_size", w.batchSize)

	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return nil
		case <-ticker.C:
			if _, err := w.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
				w.logger.Error("worker process failed", "error", err)
			}
		}
	}
}

// Launch executes a freshly created run in the background.
func (w *Worker) Launch(runID uuid.UUID, workflowID string, params map[string]any) error {
	return w.spawn(runID, func(ctx context.Context) (domain.RunStatus, error) {
		return w.engine.Execute(ctx, engine.ByID(workflowID), params, runID)
	})
}

// Resume resumes a paused run in the background.
func (w *Worker) Resume(runID uuid.UUID) error {
	return w.spawn(runID, func(ctx context.Context) (domain.RunStatus, error) {
		return w.engine.Resume(ctx, runID)
	})
}

// Wait blocks until every run started through Launch or Resume returned.
func (w *Worker) Wait() {
	w.inflight.Wait()
}

func (w *Worker) spawn(runID uuid.UUID, fn func(context.Context) (domain.RunStatus, error)) error {
	if w.base.Err() != nil {
		return ErrStopped
	}
	if !w.claim(runID) {
		// Already executing in this process.
		return nil
	}

	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		defer w.release(runID)
		w.execute(w.base, runID, fn)
	}()
	return nil
}

func (w *Worker) claim(runID uuid.UUID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.active[runID]; busy {
		return false
	}
	w.active[runID] = struct{}{}
	return true
}

func (w *Worker) release(runID uuid.UUID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.active, runID)
}

func (w *Worker) execute(ctx context.Context, runID uuid.UUID, fn func(context.Context) (domain.RunStatus, error)) {
	started := time.Now()
	status, err := fn(ctx)
	switch {
	case errors.Is(err, domain.ErrRunNotRunnable):
		// Another executor claimed the run first.
		w.logger.Debug("run not runnable", "run_id", runID, "status", status)
		return
	case err != nil && !status.Terminal():
		w.logger.Error("run execution failed",
			"run_id", runID,
			"status", status,
			"error", err,
		)
		return
	}

	w.logger.Info("run finished",
		"run_id", runID,
		"status", status,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	if status.Terminal() {
		w.notify(context.WithoutCancel(ctx), runID)
	}
}

// notify delivers the terminal webhook when the run has one configured.
func (w *Worker) notify(ctx context.Context, runID uuid.UUID) {
	run, err := w.runs.GetRun(ctx, runID)
	if err != nil {
		w.logger.Error("load run for webhook failed", "run_id", runID, "error", err)
		return
	}
	if run == nil || run.WebhookURL == "" || !run.Status.Terminal() {
		return
	}

	w.deliverTerminalWebhook(ctx, run, finishedAt(run))
}

// NotifyTerminal delivers the webhook of a run that ended without an
// executor, such as a pending or paused run cancelled through the API.
// Delivery runs in the background; Wait blocks until it is done.
func (w *Worker) NotifyTerminal(ctx context.Context, run *domain.Run) {
	if run == nil || run.WebhookURL == "" || !run.Status.Terminal() {
		return
	}
	snapshot := *run
	w.inflight.Add(1)
	go func() {
		defer w.inflight.Done()
		w.deliverTerminalWebhook(context.WithoutCancel(ctx), &snapshot, finishedAt(&snapshot))
	}()
}

func finishedAt(run *domain.Run) time.Time {
	if run.EndTime != nil {
		return *run.EndTime
	}
	return time.Now().UTC()
}
