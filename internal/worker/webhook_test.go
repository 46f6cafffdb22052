// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/backoff"
	"github.com/beleidsscan/workflow-engine/internal/domain"
)

// callbackServer answers with the given statuses in order, repeating the
// last one, and records every request body and signature.
type callbackServer struct {
	*httptest.Server
	mu       sync.Mutex
	statuses []int
	bodies   [][]byte
	sigs     []string
}

func newCallbackServer(t *testing.T, statuses ...int) *callbackServer {
	t.Helper()
	cs := &callbackServer{statuses: statuses}
	cs.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		cs.mu.Lock()
		n := len(cs.bodies)
		cs.bodies = append(cs.bodies, body)
		cs.sigs = append(cs.sigs, r.Header.Get(webhookHeaderSig))
		cs.mu.Unlock()
		w.WriteHeader(cs.statuses[min(n, len(cs.statuses)-1)])
	}))
	t.Cleanup(cs.Close)
	return cs
}

func (cs *callbackServer) calls() int {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	return len(cs.bodies)
}

func quickWebhookRetries(t *testing.T) {
	t.Helper()
	prev := webhookBackoff
	webhookBackoff = backoff.Constant{Interval: time.Millisecond}
	t.Cleanup(func() { webhookBackoff = prev })
}

func TestDeliverTerminalWebhookRetryPolicy(t *testing.T) {
	quickWebhookRetries(t)

	tests := []struct {
		name      string
		statuses  []int
		wantCalls int
	}{
		{"first attempt succeeds", []int{http.StatusNoContent}, 1},
		{"server errors then success", []int{http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusOK}, 3},
		{"throttled then success", []int{http.StatusTooManyRequests, http.StatusAccepted}, 2},
		{"gives up after limit", []int{http.StatusInternalServerError}, webhookRetryAttempts},
		{"client error is final", []int{http.StatusGone}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cs := newCallbackServer(t, tt.statuses...)
			w := &Worker{logger: discardLogger(), httpClient: cs.Client()}
			run := &domain.Run{ID: uuid.New(), Status: domain.RunCompleted, WebhookURL: cs.URL + "/done"}

			w.deliverTerminalWebhook(context.Background(), run, time.Now().UTC())

			if got := cs.calls(); got != tt.wantCalls {
				t.Fatalf("expected %d calls, got %d", tt.wantCalls, got)
			}
			if cs.sigs[0] != "" {
				t.Fatalf("expected no signature without a secret, got %q", cs.sigs[0])
			}
		})
	}
}

func TestDeliverTerminalWebhookPayloadIsSigned(t *testing.T) {
	cs := newCallbackServer(t, http.StatusOK)
	finishedAt := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	run := &domain.Run{
		ID:         uuid.New(),
		WorkflowID: "beleidsscan-wizard",
		Status:     domain.RunFailed,
		Error:      "step dso-geometry (search_dso_geometry) failed: boom",
		WebhookURL: cs.URL,
	}
	w := &Worker{logger: discardLogger(), httpClient: cs.Client(), webhookSecret: "gedeeld-geheim"}

	w.deliverTerminalWebhook(context.Background(), run, finishedAt)

	if cs.calls() != 1 {
		t.Fatalf("expected one delivery, got %d", cs.calls())
	}
	if want := signWebhookPayload("gedeeld-geheim", cs.bodies[0]); cs.sigs[0] != want || want == "" {
		t.Fatalf("signature %q, want %q", cs.sigs[0], want)
	}

	var payload terminalWebhookPayload
	if err := json.Unmarshal(cs.bodies[0], &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.RunID != run.ID || payload.WorkflowID != run.WorkflowID || payload.Status != domain.RunFailed {
		t.Fatalf("unexpected payload %+v", payload)
	}
	if payload.Error != run.Error || !payload.FinishedAt.Equal(finishedAt) {
		t.Fatalf("unexpected error or finish time %+v", payload)
	}
}

func TestDeliverTerminalWebhookSkipsWithoutURL(t *testing.T) {
	cs := newCallbackServer(t, http.StatusOK)
	w := &Worker{logger: discardLogger(), httpClient: cs.Client()}
	w.deliverTerminalWebhook(context.Background(), &domain.Run{ID: uuid.New(), Status: domain.RunCancelled}, time.Now())
	if cs.calls() != 0 {
		t.Fatalf("expected no delivery, got %d", cs.calls())
	}
}
