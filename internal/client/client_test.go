// SPDX-License-Identifier: Apache-2.0

package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/backoff"
	"github.com/beleidsscan/workflow-engine/internal/domain"
)

func newTestClient(t *testing.T, srv *httptest.Server, token string) *Client {
	t.Helper()
	c, err := New(Options{
		BaseURL:    srv.URL,
		Token:      token,
		HTTPClient: srv.Client(),
		Backoff:    backoff.Constant{Interval: time.Millisecond},
		// Keeps Retry-After from slowing the tests down.
		MaxRetryWait: time.Millisecond,
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	for _, raw := range []string{"", "localhost:8080", "://x"} {
		if _, err := New(Options{BaseURL: raw}); err == nil {
			t.Fatalf("expected error for %q", raw)
		}
	}
}

func TestCreateRunSendsBodyAndToken(t *testing.T) {
	runID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/runs" {
			http.Error(w, "unexpected route", http.StatusTeapot)
			return
		}
		if r.Header.Get("Authorization") != "Bearer secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body CreateRunRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.WorkflowID != "standard-scan" || !body.Start {
			http.Error(w, "bad body", http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(map[string]any{"run_id": runID, "status": "pending", "launched": true})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "secret")
	resp, err := c.CreateRun(context.Background(), CreateRunRequest{
		WorkflowID: "standard-scan",
		Params:     map[string]any{"onderwerp": "geluid"},
		Start:      true,
	})
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if resp.RunID != runID || resp.Status != domain.RunPending || !resp.Launched {
		t.Fatalf("unexpected response %+v", resp)
	}

	unauth := newTestClient(t, srv, "")
	if _, err := unauth.CreateRun(context.Background(), CreateRunRequest{WorkflowID: "standard-scan"}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestControlRetriesRateLimitedRequests(t *testing.T) {
	runID := uuid.New()
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.Header().Set("Retry-After", "30")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": runID, "status": "paused", "pause_requested": false})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "")
	state, err := c.PauseRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if state.Status != domain.RunPaused || state.ID != runID {
		t.Fatalf("unexpected state %+v", state)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestControlGivesUpAfterMaxAttempts(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "")
	_, err := c.CancelRun(context.Background(), uuid.New())
	if !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected ErrRateLimited, got %v", err)
	}
	if calls.Load() != 3 {
		t.Fatalf("expected 3 calls, got %d", calls.Load())
	}
}

func TestErrorMapping(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/runs/" + uuid.Nil.String():
			http.Error(w, "run not found", http.StatusNotFound)
		case "/runs/" + uuid.Nil.String() + "/resume":
			http.Error(w, "run is cancelled", http.StatusConflict)
		default:
			http.Error(w, "boom", http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "")
	ctx := context.Background()

	if _, err := c.GetRun(ctx, uuid.Nil); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := c.ResumeRun(ctx, uuid.Nil); !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	_, err := c.Workflows(ctx)
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected APIError 500, got %v", err)
	}
}

func TestRollbackStepReturnsResultOnFailure(t *testing.T) {
	runID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/runs/"+runID.String()+"/steps/search-iplo/rollback" {
			http.Error(w, "unexpected route", http.StatusTeapot)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"step_id": "search-iplo",
			"success": false,
			"error":   "No checkpoint found for step search-iplo",
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "")
	res, err := c.RollbackStep(context.Background(), runID, "search-iplo")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if res.StepID != "search-iplo" || res.Success || res.Error == "" {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestLogsPassesCursor(t *testing.T) {
	runID := uuid.New()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("after") != "7" {
			http.Error(w, "missing cursor", http.StatusBadRequest)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"run_id": runID,
			"logs": []map[string]any{
				{"run_id": runID, "seq": 8, "level": "info", "message": "step started"},
			},
		})
	}))
	defer srv.Close()

	c := newTestClient(t, srv, "")
	logs, err := c.Logs(context.Background(), runID, 7)
	if err != nil {
		t.Fatalf("logs: %v", err)
	}
	if len(logs) != 1 || logs[0].Seq != 8 || logs[0].Message != "step started" {
		t.Fatalf("unexpected logs %+v", logs)
	}
}
