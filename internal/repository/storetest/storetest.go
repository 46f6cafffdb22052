// SPDX-License-Identifier: Apache-2.0

// Package storetest runs the behaviour every repository.Store backend must
// share. Backends call Run from their own tests.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/domain"
	"github.com/beleidsscan/workflow-engine/internal/repository"
)

func newRun(workflowID string, status domain.RunStatus, createdAt time.Time) domain.Run {
	return domain.Run{
		ID:         uuid.New(),
		WorkflowID: workflowID,
		Status:     status,
		Params:     map[string]any{"onderwerp": "klimaat", "nested": map[string]any{"a": "b"}},
		StartTime:  createdAt,
		CreatedAt:  createdAt,
		UpdatedAt:  createdAt,
	}
}

func Run(t *testing.T, store repository.Store) {
	t.Helper()

	t.Run("RunLifecycle", func(t *testing.T) { testRunLifecycle(t, store) })
	t.Run("TransitionStatus", func(t *testing.T) { testTransitionStatus(t, store) })
	t.Run("PauseRequest", func(t *testing.T) { testPauseRequest(t, store) })
	t.Run("ListRunsByStatus", func(t *testing.T) { testListRunsByStatus(t, store) })
	t.Run("Logs", func(t *testing.T) { testLogs(t, store) })
	t.Run("Checkpoints", func(t *testing.T) { testCheckpoints(t, store) })
}

func testRunLifecycle(t *testing.T, store repository.Store) {
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)
	run := newRun("standard-scan", domain.RunPending, now)

	if err := store.InsertRun(ctx, run); err != nil {
		t.Fatalf("insert run: %v", err)
	}

	got, err := store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if got.WorkflowID != "standard-scan" || got.Status != domain.RunPending {
		t.Fatalf("unexpected run %+v", got)
	}
	if got.Params["onderwerp"] != "klimaat" {
		t.Fatalf("expected params to round trip, got %v", got.Params)
	}
	if got.EndTime != nil {
		t.Fatalf("expected nil end time, got %v", got.EndTime)
	}

	if err := store.ReplaceParams(ctx, run.ID, map[string]any{"foo": float64(1)}); err != nil {
		t.Fatalf("replace params: %v", err)
	}
	got, err = store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run after params: %v", err)
	}
	if _, ok := got.Params["onderwerp"]; ok {
		t.Fatal("expected params to be replaced, not merged")
	}
	if got.Params["foo"] != float64(1) {
		t.Fatalf("expected foo=1, got %v", got.Params["foo"])
	}

	if len(got.CompletedSteps) != 0 {
		t.Fatalf("expected no completed steps, got %v", got.CompletedSteps)
	}

	if err := store.SaveProgress(ctx, run.ID, map[string]any{"bar": "x"}, []string{"scan", "dso"}); err != nil {
		t.Fatalf("save progress: %v", err)
	}
	got, err = store.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("get run after progress: %v", err)
	}
	if got.Params["bar"] != "x" || len(got.Params) != 1 {
		t.Fatalf("expected params replaced by progress, got %v", got.Params)
	}
	if len(got.CompletedSteps) != 2 || got.CompletedSteps[0] != "scan" || got.CompletedSteps[1] != "dso" {
		t.Fatalf("unexpected completed steps %v", got.CompletedSteps)
	}
	if err := store.ReplaceParams(ctx, run.ID, map[string]any{"baz": true}); err != nil {
		t.Fatalf("replace params after progress: %v", err)
	}
	if got, _ = store.GetRun(ctx, run.ID); len(got.CompletedSteps) != 2 {
		t.Fatalf("expected params replacement to keep completed steps, got %v", got.CompletedSteps)
	}

	if _, err := store.GetRun(ctx, uuid.New()); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
	if err := store.ReplaceParams(ctx, uuid.New(), map[string]any{}); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound on replace, got %v", err)
	}
	if err := store.SaveProgress(ctx, uuid.New(), nil, nil); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound on progress, got %v", err)
	}
}

func testTransitionStatus(t *testing.T, store repository.Store) {
	ctx := context.Background()
	run := newRun("standard-scan", domain.RunPending, time.Now().UTC())
	if err := store.InsertRun(ctx, run); err != nil {
		t.Fatalf("insert run: %v", err)
	}

	got, applied, err := store.TransitionStatus(ctx, run.ID, domain.StatusUpdate{
		From: []domain.RunStatus{domain.RunPending},
		To:   domain.RunRunning,
	})
	if err != nil || !applied {
		t.Fatalf("expected transition to apply, applied=%v err=%v", applied, err)
	}
	if got.Status != domain.RunRunning {
		t.Fatalf("expected running, got %s", got.Status)
	}

	// A second claim must not apply.
	got, applied, err = store.TransitionStatus(ctx, run.ID, domain.StatusUpdate{
		From: []domain.RunStatus{domain.RunPending},
		To:   domain.RunRunning,
	})
	if err != nil || applied {
		t.Fatalf("expected second claim to be refused, applied=%v err=%v", applied, err)
	}
	if got.Status != domain.RunRunning {
		t.Fatalf("expected current run returned, got %s", got.Status)
	}

	end := time.Now().UTC().Truncate(time.Millisecond)
	got, applied, err = store.TransitionStatus(ctx, run.ID, domain.StatusUpdate{
		From:    []domain.RunStatus{domain.RunRunning},
		To:      domain.RunFailed,
		Error:   "boom",
		EndTime: &end,
	})
	if err != nil || !applied {
		t.Fatalf("expected failure transition, applied=%v err=%v", applied, err)
	}
	if got.Error != "boom" || got.EndTime == nil || !got.EndTime.Equal(end) {
		t.Fatalf("unexpected terminal run %+v", got)
	}

	if _, _, err := store.TransitionStatus(ctx, uuid.New(), domain.StatusUpdate{To: domain.RunRunning}); !errors.Is(err, domain.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func testPauseRequest(t *testing.T, store repository.Store) {
	ctx := context.Background()
	run := newRun("standard-scan", domain.RunRunning, time.Now().UTC())
	if err := store.InsertRun(ctx, run); err != nil {
		t.Fatalf("insert run: %v", err)
	}

	ok, err := store.SetPauseRequested(ctx, run.ID, true, domain.RunPending)
	if err != nil || ok {
		t.Fatalf("expected no-op for mismatched status, ok=%v err=%v", ok, err)
	}

	ok, err = store.SetPauseRequested(ctx, run.ID, true, domain.RunRunning)
	if err != nil || !ok {
		t.Fatalf("expected pause request to apply, ok=%v err=%v", ok, err)
	}
	got, _ := store.GetRun(ctx, run.ID)
	if !got.PauseRequested {
		t.Fatal("expected pause requested flag")
	}

	got, applied, err := store.TransitionStatus(ctx, run.ID, domain.StatusUpdate{
		From:       []domain.RunStatus{domain.RunRunning},
		To:         domain.RunPaused,
		ClearPause: true,
	})
	if err != nil || !applied {
		t.Fatalf("pause transition: applied=%v err=%v", applied, err)
	}
	if got.PauseRequested || got.Status != domain.RunPaused {
		t.Fatalf("expected paused with cleared flag, got %+v", got)
	}
}

func testListRunsByStatus(t *testing.T, store repository.Store) {
	ctx := context.Background()
	base := time.Now().UTC().Add(time.Hour)
	wf := "list-" + uuid.NewString()

	first := newRun(wf, domain.RunPending, base)
	second := newRun(wf, domain.RunPending, base.Add(time.Second))
	for _, r := range []domain.Run{second, first} {
		if err := store.InsertRun(ctx, r); err != nil {
			t.Fatalf("insert run: %v", err)
		}
	}

	runs, err := store.ListRunsByStatus(ctx, domain.RunPending, 1000)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}

	var order []uuid.UUID
	for _, r := range runs {
		if r.WorkflowID == wf {
			order = append(order, r.ID)
		}
		if r.Status != domain.RunPending {
			t.Fatalf("unexpected status in listing: %s", r.Status)
		}
	}
	if len(order) != 2 || order[0] != first.ID || order[1] != second.ID {
		t.Fatalf("expected oldest first, got %v", order)
	}
}

func testLogs(t *testing.T, store repository.Store) {
	ctx := context.Background()
	run := newRun("standard-scan", domain.RunRunning, time.Now().UTC())
	if err := store.InsertRun(ctx, run); err != nil {
		t.Fatalf("insert run: %v", err)
	}

	var seqs []int64
	for i, msg := range []string{"first", "second", "third"} {
		seq, err := store.AppendLog(ctx, domain.LogEntry{
			RunID:     run.ID,
			Timestamp: time.Now().UTC(),
			Level:     domain.LogInfo,
			Message:   msg,
			Detail:    map[string]any{"i": float64(i)},
		})
		if err != nil {
			t.Fatalf("append log: %v", err)
		}
		seqs = append(seqs, seq)
	}
	if !(seqs[0] < seqs[1] && seqs[1] < seqs[2]) {
		t.Fatalf("expected increasing sequence numbers, got %v", seqs)
	}

	all, err := store.ListLogs(ctx, run.ID, 0)
	if err != nil {
		t.Fatalf("list logs: %v", err)
	}
	if len(all) != 3 || all[0].Message != "first" || all[2].Message != "third" {
		t.Fatalf("unexpected logs %+v", all)
	}
	if all[1].Detail["i"] != float64(1) {
		t.Fatalf("expected detail to round trip, got %v", all[1].Detail)
	}

	tail, err := store.ListLogs(ctx, run.ID, seqs[0])
	if err != nil {
		t.Fatalf("list logs after: %v", err)
	}
	if len(tail) != 2 || tail[0].Message != "second" {
		t.Fatalf("unexpected tail %+v", tail)
	}
}

func testCheckpoints(t *testing.T, store repository.Store) {
	ctx := context.Background()
	run := newRun("standard-scan", domain.RunRunning, time.Now().UTC())
	if err := store.InsertRun(ctx, run); err != nil {
		t.Fatalf("insert run: %v", err)
	}

	got, err := store.GetCheckpoint(ctx, run.ID, "stepA")
	if err != nil || got != nil {
		t.Fatalf("expected (nil, nil) for missing checkpoint, got %v %v", got, err)
	}

	for _, v := range []float64{1, 2} {
		if err := store.SaveCheckpoint(ctx, domain.StepCheckpoint{
			RunID:     run.ID,
			StepID:    "stepA",
			Context:   map[string]any{"foo": v},
			Timestamp: time.Now().UTC(),
		}); err != nil {
			t.Fatalf("save checkpoint: %v", err)
		}
	}

	got, err = store.GetCheckpoint(ctx, run.ID, "stepA")
	if err != nil || got == nil {
		t.Fatalf("get checkpoint: %v %v", got, err)
	}
	if got.Context["foo"] != float64(2) {
		t.Fatalf("expected latest checkpoint to win, got %v", got.Context)
	}
	if got.StepID != "stepA" || got.RunID != run.ID {
		t.Fatalf("unexpected checkpoint identity %+v", got)
	}
}
