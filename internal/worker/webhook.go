// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/backoff"
	"github.com/beleidsscan/workflow-engine/internal/domain"
	"github.com/beleidsscan/workflow-engine/internal/metrics"
)

const (
	webhookRetryAttempts = 3
	webhookHeaderSig     = "X-Signature"
)

var webhookBackoff backoff.Strategy = backoff.Exponential{Base: 300 * time.Millisecond, Max: 5 * time.Second}

type terminalWebhookPayload struct {
	RunID      uuid.UUID        `json:"run_id"`
	WorkflowID string           `json:"workflow_id"`
	Status     domain.RunStatus `json:"status"`
	Error      string           `json:"error,omitempty"`
	FinishedAt time.Time        `json:"finished_at"`
}

// webhookStatusError is a non-2xx callback response.
type webhookStatusError struct{ code int }

func (e webhookStatusError) Error() string {
	return fmt.Sprintf("webhook responded %d", e.code)
}

// retryable reports whether another attempt can succeed. Client errors other
// than timeouts and throttling are final.
func (e webhookStatusError) retryable() bool {
	if e.code == http.StatusRequestTimeout || e.code == http.StatusTooManyRequests {
		return true
	}
	return e.code >= http.StatusInternalServerError
}

// deliverTerminalWebhook notifies the run's callback URL once it reached a
// terminal status. Delivery failures are logged and counted, never returned.
func (w *Worker) deliverTerminalWebhook(ctx context.Context, run *domain.Run, finishedAt time.Time) {
	target := strings.TrimSpace(run.WebhookURL)
	if target == "" || w.httpClient == nil {
		return
	}
	log := w.logger.With("run_id", run.ID, "status", run.Status, "webhook", target)

	body, err := json.Marshal(terminalWebhookPayload{
		RunID:      run.ID,
		WorkflowID: run.WorkflowID,
		Status:     run.Status,
		Error:      run.Error,
		FinishedAt: finishedAt,
	})
	if err != nil {
		log.Error("webhook payload encoding failed", "error", err)
		return
	}
	sig := signWebhookPayload(w.webhookSecret, body)

	attempt := 1
	for ; ; attempt++ {
		err = w.postWebhook(ctx, target, body, sig)
		if err == nil {
			metrics.IncWebhookDelivery(true)
			log.Info("webhook delivered", "attempt", attempt)
			return
		}
		log.Warn("webhook attempt failed", "attempt", attempt, "error", err)

		var statusErr webhookStatusError
		if errors.As(err, &statusErr) && !statusErr.retryable() {
			break
		}
		if attempt >= webhookRetryAttempts {
			break
		}
		if waitErr := backoff.Wait(ctx, webhookBackoff, attempt); waitErr != nil {
			break
		}
	}

	metrics.IncWebhookDelivery(false)
	log.Error("webhook delivery abandoned", "attempts", attempt, "error", err)
}

func (w *Worker) postWebhook(ctx context.Context, target string, body []byte, sig string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if sig != "" {
		req.Header.Set(webhookHeaderSig, sig)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode/100 != 2 {
		return webhookStatusError{code: resp.StatusCode}
	}
	return nil
}

// signWebhookPayload returns the hex HMAC-SHA256 of payload, or "" without a
// secret.
func signWebhookPayload(secret string, payload []byte) string {
	if strings.TrimSpace(secret) == "" {
		return ""
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}
