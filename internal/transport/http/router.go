// SPDX-License-Identifier: Apache-2.0

package httptransport

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/beleidsscan/workflow-engine/internal/domain"
	"github.com/beleidsscan/workflow-engine/internal/metrics"
	"github.com/beleidsscan/workflow-engine/internal/transport/middleware"
)

type createRunRequest struct {
	WorkflowID string         `json:"workflow_id"`
	Params     map[string]any `json:"params"`
	WebhookURL string         `json:"webhook_url"`
	Start      bool           `json:"start"`
}

type Deps struct {
	Runs              RunService
	Checkpoints       CheckpointReader
	Rollback          StepRollbacker
	Workflows         WorkflowCatalog
	Launcher          Launcher
	Health            HealthChecker
	Logger            *slog.Logger
	AdminToken        string
	ControlRatePerMin int
	Version           string
	Commit            string
	BuildDate         string
}

func NewRouter(deps Deps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics.Init()
	version := valueOrDefault(deps.Version, "dev")
	commit := valueOrDefault(deps.Commit, "none")
	buildDate := valueOrDefault(deps.BuildDate, "unknown")
	controlRate := deps.ControlRatePerMin
	if controlRate <= 0 {
		controlRate = 30
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware())
	r.Use(requestLoggingMiddleware(logger))
	if strings.TrimSpace(deps.AdminToken) != "" {
		r.Use(middleware.AdminTokenAuth(deps.AdminToken, logger))
	}

	// ---------------- HEALTH ----------------

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if deps.Health != nil {
			if err := deps.Health.Check(r.Context()); err != nil {
				logger.Warn("health check failed", "error", err)
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	// ---------------- METRICS ----------------

	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// ---------------- VERSION ----------------

	r.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{
			"version":    version,
			"commit":     commit,
			"build_date": buildDate,
		})
	})

	// ---------------- WORKFLOWS ----------------

	r.Get("/workflows", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"workflows": deps.Workflows.List(),
		})
	})

	r.Get("/workflows/{id}", func(w http.ResponseWriter, r *http.Request) {
		def, ok := deps.Workflows.Get(chi.URLParam(r, "id"))
		if !ok {
			http.Error(w, "workflow not found", http.StatusNotFound)
			return
		}
		writeJSON(w, http.StatusOK, def)
	})

	// ---------------- CREATE RUN ----------------

	r.Post("/runs", func(w http.ResponseWriter, r *http.Request) {
		reqBody, err := decodeCreateRunRequest(r)
		if err != nil {
			http.Error(w, "invalid request body: "+err.Error(), http.StatusBadRequest)
			return
		}
		if _, ok := deps.Workflows.Get(reqBody.WorkflowID); !ok {
			http.Error(w, "workflow not found", http.StatusBadRequest)
			return
		}

		run, err := deps.Runs.CreateRun(r.Context(), domain.CreateRunParams{
			WorkflowID: reqBody.WorkflowID,
			Params:     reqBody.Params,
			WebhookURL: reqBody.WebhookURL,
		})
		if err != nil {
			logger.Error("create run failed", "error", err)
			http.Error(w, "failed to create run", http.StatusInternalServerError)
			return
		}

		logger.Info("run created via API", "run_id", run.ID, "workflow", run.WorkflowID)

		launched := false
		if reqBody.Start && deps.Launcher != nil {
			if err := deps.Launcher.Launch(run.ID, run.WorkflowID, nil); err != nil {
				// The run stays pending and a worker picks it up.
				logger.Warn("launch run failed", "run_id", run.ID, "error", err)
			} else {
				launched = true
			}
		}

		writeJSON(w, http.StatusCreated, map[string]any{
			"run_id":   run.ID.String(),
			"status":   run.Status,
			"launched": launched,
		})
	})

	// ---------------- GET RUN ----------------

	r.Get("/runs/{id}", func(w http.ResponseWriter, r *http.Request) {
		runID, ok := runIDParam(w, r)
		if !ok {
			return
		}

		run, err := deps.Runs.GetRun(r.Context(), runID)
		if err != nil {
			logger.Error("get run failed", "run_id", runID, "error", err)
			http.Error(w, "failed to get run", http.StatusInternalServerError)
			return
		}
		if run == nil {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, run)
	})

	// ---------------- RUN LOGS ----------------

	r.Get("/runs/{id}/logs", func(w http.ResponseWriter, r *http.Request) {
		runID, ok := runIDParam(w, r)
		if !ok {
			return
		}

		var after int64
		if raw := strings.TrimSpace(r.URL.Query().Get("after")); raw != "" {
			parsed, err := strconv.ParseInt(raw, 10, 64)
			if err != nil || parsed < 0 {
				http.Error(w, "invalid after", http.StatusBadRequest)
				return
			}
			after = parsed
		}

		run, err := deps.Runs.GetRun(r.Context(), runID)
		if err != nil {
			logger.Error("get run failed", "run_id", runID, "error", err)
			http.Error(w, "failed to list logs", http.StatusInternalServerError)
			return
		}
		if run == nil {
			http.Error(w, "run not found", http.StatusNotFound)
			return
		}

		logs, err := deps.Runs.ListLogs(r.Context(), runID, after)
		if err != nil {
			logger.Error("list logs failed", "run_id", runID, "error", err)
			http.Error(w, "failed to list logs", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, struct {
			RunID string            `json:"run_id"`
			Logs  []domain.LogEntry `json:"logs"`
		}{
			RunID: runID.String(),
			Logs:  logs,
		})
	})

	// ---------------- CHECKPOINTS ----------------

	r.Get("/runs/{id}/checkpoints/{stepId}", func(w http.ResponseWriter, r *http.Request) {
		runID, ok := runIDParam(w, r)
		if !ok {
			return
		}
		stepID := chi.URLParam(r, "stepId")

		cp, err := deps.Checkpoints.GetStepCheckpoint(r.Context(), runID, stepID)
		if err != nil {
			logger.Error("get checkpoint failed", "run_id", runID, "step_id", stepID, "error", err)
			http.Error(w, "failed to get checkpoint", http.StatusInternalServerError)
			return
		}
		if cp == nil {
			http.Error(w, "checkpoint not found", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, cp)
	})

	// ---------------- RUN CONTROL (RATE LIMITED) ----------------

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(controlRate, logger))

		r.Post("/runs/{id}/pause", func(w http.ResponseWriter, r *http.Request) {
			runID, ok := runIDParam(w, r)
			if !ok {
				return
			}

			run, err := deps.Runs.PauseRun(r.Context(), runID)
			if err != nil {
				writeControlError(w, logger, "pause", runID, err)
				return
			}

			logger.Info("run pause requested via API", "run_id", runID, "status", run.Status)
			writeRunState(w, http.StatusOK, run)
		})

		r.Post("/runs/{id}/resume", func(w http.ResponseWriter, r *http.Request) {
			runID, ok := runIDParam(w, r)
			if !ok {
				return
			}
			if deps.Launcher == nil {
				http.Error(w, "run execution not available", http.StatusNotImplemented)
				return
			}

			run, err := deps.Runs.GetRun(r.Context(), runID)
			if err != nil {
				writeControlError(w, logger, "resume", runID, err)
				return
			}
			if run == nil {
				http.Error(w, "run not found", http.StatusNotFound)
				return
			}
			if run.Status.Terminal() {
				http.Error(w, "run is "+string(run.Status), http.StatusConflict)
				return
			}

			if err := deps.Launcher.Resume(runID); err != nil {
				logger.Error("resume run failed", "run_id", runID, "error", err)
				http.Error(w, "failed to resume run", http.StatusServiceUnavailable)
				return
			}

			logger.Info("run resumed via API", "run_id", runID)
			writeRunState(w, http.StatusAccepted, run)
		})

		r.Post("/runs/{id}/cancel", func(w http.ResponseWriter, r *http.Request) {
			runID, ok := runIDParam(w, r)
			if !ok {
				return
			}

			run, err := deps.Runs.CancelRun(r.Context(), runID)
			if err != nil {
				writeControlError(w, logger, "cancel", runID, err)
				return
			}

			logger.Info("run canceled via API", "run_id", runID, "status", run.Status)
			writeRunState(w, http.StatusOK, run)
		})

		r.Post("/runs/{id}/steps/{stepId}/rollback", func(w http.ResponseWriter, r *http.Request) {
			runID, ok := runIDParam(w, r)
			if !ok {
				return
			}
			stepID := chi.URLParam(r, "stepId")

			run, err := deps.Runs.GetRun(r.Context(), runID)
			if err != nil {
				writeControlError(w, logger, "rollback", runID, err)
				return
			}
			if run == nil {
				http.Error(w, "run not found", http.StatusNotFound)
				return
			}
			if run.Status == domain.RunRunning {
				http.Error(w, "cannot roll back a running run", http.StatusConflict)
				return
			}

			res := deps.Rollback.RollbackStep(r.Context(), runID, stepID)
			if !res.Success {
				status := http.StatusConflict
				if strings.HasPrefix(res.Error, "No checkpoint found") {
					status = http.StatusNotFound
				}
				writeJSON(w, status, res)
				return
			}

			logger.Info("step rolled back via API", "run_id", runID, "step_id", stepID)
			writeJSON(w, http.StatusOK, res)
		})
	})

	return r
}

func runIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	runID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid run ID", http.StatusBadRequest)
		return uuid.Nil, false
	}
	return runID, true
}

func writeControlError(w http.ResponseWriter, logger *slog.Logger, op string, runID uuid.UUID, err error) {
	switch {
	case errors.Is(err, domain.ErrRunNotFound):
		http.Error(w, "run not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrInvalidTransition), errors.Is(err, domain.ErrRunNotRunnable):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		logger.Error(op+" run failed", "run_id", runID, "error", err)
		http.Error(w, "failed to "+op+" run", http.StatusInternalServerError)
	}
}

func writeRunState(w http.ResponseWriter, status int, run *domain.Run) {
	writeJSON(w, status, map[string]any{
		"id":              run.ID.String(),
		"status":          run.Status,
		"pause_requested": run.PauseRequested,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeCreateRunRequest(r *http.Request) (createRunRequest, error) {
	if r == nil || r.Body == nil || r.Body == http.NoBody {
		return createRunRequest{}, errors.New("workflow_id is required")
	}

	var req createRunRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		if errors.Is(err, io.EOF) {
			return createRunRequest{}, errors.New("workflow_id is required")
		}
		return createRunRequest{}, err
	}

	// Ensure there is only one JSON object.
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return createRunRequest{}, errors.New("request body must contain exactly one JSON object")
	}

	req.WorkflowID = strings.TrimSpace(req.WorkflowID)
	if req.WorkflowID == "" {
		return createRunRequest{}, errors.New("workflow_id is required")
	}

	req.WebhookURL = strings.TrimSpace(req.WebhookURL)
	if req.WebhookURL == "" {
		return req, nil
	}

	parsed, err := url.Parse(req.WebhookURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return createRunRequest{}, errors.New("invalid webhook_url")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return createRunRequest{}, errors.New("unsupported webhook_url scheme")
	}

	return req, nil
}

func valueOrDefault(value, defaultValue string) string {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return defaultValue
	}
	return trimmed
}
