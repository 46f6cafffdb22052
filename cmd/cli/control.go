// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"

	"github.com/beleidsscan/workflow-engine/internal/client"
)

const defaultEngineURL = "http://localhost:8080"

func newClient() (*client.Client, error) {
	base := strings.TrimSpace(os.Getenv("ENGINE_URL"))
	if base == "" {
		base = defaultEngineURL
	}
	return client.New(client.Options{
		BaseURL: base,
		Token:   os.Getenv("ADMIN_TOKEN"),
	})
}

// runControl executes one run-control command against the API and prints
// the JSON answer.
func runControl(ctx context.Context, out io.Writer, cmd string, args []string) error {
	c, err := newClient()
	if err != nil {
		return err
	}

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	workflowID := fs.String("workflow", "", "workflow id")
	rawParams := fs.String("params", "", "initial run context as a JSON object")
	webhook := fs.String("webhook", "", "webhook notified on terminal status")
	start := fs.Bool("start", false, "execute the run right away")
	after := fs.Int64("after", 0, "only log entries after this sequence number")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var result any
	switch cmd {
	case "create":
		params, err := parseParams(*rawParams)
		if err != nil {
			return err
		}
		result, err = c.CreateRun(ctx, client.CreateRunRequest{
			WorkflowID: strings.TrimSpace(*workflowID),
			Params:     params,
			WebhookURL: *webhook,
			Start:      *start,
		})
		if err != nil {
			return err
		}

	case "rollback":
		if fs.NArg() != 2 {
			return errors.New("usage: rollback RUN_ID STEP_ID")
		}
		runID, err := uuid.Parse(fs.Arg(0))
		if err != nil {
			return fmt.Errorf("invalid run id: %w", err)
		}
		res, err := c.RollbackStep(ctx, runID, fs.Arg(1))
		if err != nil && res.Error == "" {
			return err
		}
		if err := printJSON(out, res); err != nil {
			return err
		}
		return err

	default:
		if fs.NArg() != 1 {
			return fmt.Errorf("usage: %s RUN_ID", cmd)
		}
		runID, err := uuid.Parse(fs.Arg(0))
		if err != nil {
			return fmt.Errorf("invalid run id: %w", err)
		}
		switch cmd {
		case "get":
			result, err = c.GetRun(ctx, runID)
		case "logs":
			result, err = c.Logs(ctx, runID, *after)
		case "pause":
			result, err = c.PauseRun(ctx, runID)
		case "resume":
			result, err = c.ResumeRun(ctx, runID)
		case "cancel":
			result, err = c.CancelRun(ctx, runID)
		default:
			return fmt.Errorf("unknown command %q", cmd)
		}
		if err != nil {
			return err
		}
	}

	return printJSON(out, result)
}

func parseParams(raw string) (map[string]any, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(raw), &params); err != nil {
		return nil, fmt.Errorf("invalid -params: %w", err)
	}
	return params, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
