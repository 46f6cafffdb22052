// SPDX-License-Identifier: Apache-2.0

// Package client talks to the engine's control API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/backoff"
	"github.com/beleidsscan/workflow-engine/internal/domain"
	"github.com/beleidsscan/workflow-engine/internal/rollback"
	"github.com/beleidsscan/workflow-engine/internal/workflow"
)

var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
	ErrUnauthorized = errors.New("unauthorized")
	ErrRateLimited  = errors.New("rate limited")
)

type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("api error (status=%d)", e.StatusCode)
	}
	return fmt.Sprintf("api error (status=%d): %s", e.StatusCode, body)
}

type Options struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	// MaxAttempts bounds requests answered with 429.
	MaxAttempts int
	Backoff     backoff.Strategy
	// MaxRetryWait caps the wait a Retry-After header can ask for.
	MaxRetryWait time.Duration
}

type Client struct {
	baseURL      string
	token        string
	http         *http.Client
	maxAttempts  int
	backoff      backoff.Strategy
	maxRetryWait time.Duration
}

type CreateRunRequest struct {
	WorkflowID string         `json:"workflow_id"`
	Params     map[string]any `json:"params,omitempty"`
	WebhookURL string         `json:"webhook_url,omitempty"`
	Start      bool           `json:"start,omitempty"`
}

type CreateRunResponse struct {
	RunID    uuid.UUID        `json:"run_id"`
	Status   domain.RunStatus `json:"status"`
	Launched bool             `json:"launched"`
}

// RunState is the answer to pause, resume and cancel.
type RunState struct {
	ID             uuid.UUID        `json:"id"`
	Status         domain.RunStatus `json:"status"`
	PauseRequested bool             `json:"pause_requested"`
}

func New(opts Options) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url %q", opts.BaseURL)
	}

	c := &Client{
		baseURL:      base,
		token:        strings.TrimSpace(opts.Token),
		http:         opts.HTTPClient,
		maxAttempts:  opts.MaxAttempts,
		backoff:      opts.Backoff,
		maxRetryWait: opts.MaxRetryWait,
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 15 * time.Second}
	}
	if c.maxAttempts <= 0 {
		c.maxAttempts = 3
	}
	if c.backoff == nil {
		c.backoff = backoff.Exponential{Base: time.Second, Max: 30 * time.Second}
	}
	if c.maxRetryWait <= 0 {
		c.maxRetryWait = time.Minute
	}
	return c, nil
}

func (c *Client) CreateRun(ctx context.Context, req CreateRunRequest) (CreateRunResponse, error) {
	var out CreateRunResponse
	err := c.do(ctx, http.MethodPost, "/runs", req, &out)
	return out, err
}

func (c *Client) GetRun(ctx context.Context, runID uuid.UUID) (domain.Run, error) {
	var out domain.Run
	err := c.do(ctx, http.MethodGet, "/runs/"+runID.String(), nil, &out)
	return out, err
}

// Logs returns run log entries with a sequence number above after.
func (c *Client) Logs(ctx context.Context, runID uuid.UUID, after int64) ([]domain.LogEntry, error) {
	path := "/runs/" + runID.String() + "/logs"
	if after > 0 {
		path += "?after=" + strconv.FormatInt(after, 10)
	}
	var out struct {
		Logs []domain.LogEntry `json:"logs"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Logs, nil
}

func (c *Client) PauseRun(ctx context.Context, runID uuid.UUID) (RunState, error) {
	return c.control(ctx, runID, "pause")
}

func (c *Client) ResumeRun(ctx context.Context, runID uuid.UUID) (RunState, error) {
	return c.control(ctx, runID, "resume")
}

func (c *Client) CancelRun(ctx context.Context, runID uuid.UUID) (RunState, error) {
	return c.control(ctx, runID, "cancel")
}

func (c *Client) control(ctx context.Context, runID uuid.UUID, op string) (RunState, error) {
	var out RunState
	err := c.do(ctx, http.MethodPost, "/runs/"+runID.String()+"/"+op, nil, &out)
	return out, err
}

// RollbackStep restores the context checkpointed before stepID. A failed
// rollback returns the server's result together with the error.
func (c *Client) RollbackStep(ctx context.Context, runID uuid.UUID, stepID string) (rollback.Result, error) {
	var out rollback.Result
	path := "/runs/" + runID.String() + "/steps/" + url.PathEscape(stepID) + "/rollback"
	err := c.do(ctx, http.MethodPost, path, nil, &out)
	return out, err
}

func (c *Client) Workflows(ctx context.Context) ([]workflow.Definition, error) {
	var out struct {
		Workflows []workflow.Definition `json:"workflows"`
	}
	if err := c.do(ctx, http.MethodGet, "/workflows", nil, &out); err != nil {
		return nil, err
	}
	return out.Workflows, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var payload []byte
	if in != nil {
		var err error
		payload, err = json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}

	for attempt := 1; ; attempt++ {
		resp, body, err := c.send(ctx, method, path, payload)
		if err != nil {
			return err
		}

		if resp.StatusCode == http.StatusTooManyRequests {
			if attempt >= c.maxAttempts {
				return fmt.Errorf("%w after %d attempts", ErrRateLimited, attempt)
			}
			strategy := c.backoff
			if d, ok := retryAfter(resp.Header); ok {
				strategy = backoff.Constant{Interval: min(d, c.maxRetryWait)}
			}
			if err := backoff.Wait(ctx, strategy, attempt); err != nil {
				return err
			}
			continue
		}

		return decodeResponse(resp.StatusCode, body, out)
	}
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte) (*http.Response, []byte, error) {
	var reader io.Reader
	if payload != nil {
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, nil, err
	}
	return resp, body, nil
}

// decodeResponse decodes JSON bodies even for 404 and 409 so callers can
// inspect structured failures such as rollback results.
func decodeResponse(status int, body []byte, out any) error {
	decode := func() error {
		if out == nil || len(bytes.TrimSpace(body)) == 0 || !json.Valid(body) {
			return nil
		}
		if err := json.Unmarshal(body, out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	}

	switch {
	case status >= 200 && status < 300:
		return decode()
	case status == http.StatusNotFound:
		_ = decode()
		return fmt.Errorf("%w: %s", ErrNotFound, strings.TrimSpace(string(body)))
	case status == http.StatusConflict:
		_ = decode()
		return fmt.Errorf("%w: %s", ErrConflict, strings.TrimSpace(string(body)))
	case status == http.StatusUnauthorized:
		return ErrUnauthorized
	default:
		return &APIError{StatusCode: status, Body: string(body)}
	}
}

func retryAfter(h http.Header) (time.Duration, bool) {
	raw := strings.TrimSpace(h.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(raw)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}
