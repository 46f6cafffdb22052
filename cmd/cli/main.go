// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/beleidsscan/workflow-engine/internal/logging"
)

func main() {
	logger := logging.NewLoggerTo(os.Stderr, "prod", os.Getenv("LOG_LEVEL"))

	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "validate":
		if err = runValidate(ctx, logger); err == nil {
			logger.Info("validation passed")
		}
	case "workflows":
		err = runWorkflows(os.Stdout, args)
	case "etl":
		err = runETL(os.Stdin, os.Stdout, args)
	case "create", "get", "logs", "pause", "resume", "cancel", "rollback":
		err = runControl(ctx, os.Stdout, cmd, args)
	default:
		printUsage(os.Stderr)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(os.Args[1]+" failed", "error", err)
		os.Exit(1)
	}
}

// integrationSuites run only when their backing service is configured.
var integrationSuites = []struct {
	name     string
	env      string
	packages []string
}{
	{"postgres", "DATABASE_URL", []string{"./internal/persistence/postgres", "./internal/repository", "./internal/worker"}},
	{"mongo", "MONGO_URI", []string{"./internal/repository/mongo"}},
	{"objectstore", "OBJECTSTORE_ENDPOINT", []string{"./internal/objectstore"}},
}

// validateStep is one stage of the validate pipeline. Steps with a nil
// command run check instead.
type validateStep struct {
	name    string
	command []string
	check   func(ctx context.Context) error
}

func validateSteps() []validateStep {
	steps := []validateStep{
		{name: "gofmt", check: checkFormatting},
		{name: "vet", command: []string{"go", "vet", "./..."}},
		{name: "unit tests", command: []string{"go", "test", "./..."}},
	}
	for _, suite := range integrationSuites {
		if strings.TrimSpace(os.Getenv(suite.env)) == "" {
			continue
		}
		cmd := append([]string{"go", "test", "-count=1", "-tags=integration"}, suite.packages...)
		steps = append(steps, validateStep{name: "integration " + suite.name, command: cmd})
	}
	return steps
}

func runValidate(ctx context.Context, logger *slog.Logger) error {
	started := time.Now()
	for _, suite := range integrationSuites {
		if strings.TrimSpace(os.Getenv(suite.env)) == "" {
			logger.Info("integration suite skipped", "suite", suite.name, "missing_env", suite.env)
		}
	}

	for _, step := range validateSteps() {
		stepStart := time.Now()
		logger.Info("step started", "step", step.name, "command", strings.Join(step.command, " "))

		var err error
		if step.command == nil {
			err = step.check(ctx)
		} else {
			err = execStep(ctx, step.command)
		}
		if err != nil {
			logger.Error("step failed", "step", step.name, "exit_code", exitCode(err), "duration_ms", time.Since(stepStart).Milliseconds())
			return fmt.Errorf("%s: %w", step.name, err)
		}
		logger.Info("step passed", "step", step.name, "duration_ms", time.Since(stepStart).Milliseconds())
	}

	logger.Info("validation complete", "duration_ms", time.Since(started).Milliseconds())
	return nil
}

func execStep(ctx context.Context, argv []string) error {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout, cmd.Stderr = os.Stdout, os.Stderr
	return cmd.Run()
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}

func checkFormatting(ctx context.Context) error {
	files, err := listGoFiles(".")
	if err != nil {
		return fmt.Errorf("list go files: %w", err)
	}
	if len(files) == 0 {
		return nil
	}

	cmd := exec.CommandContext(ctx, "gofmt", append([]string{"-l"}, files...)...)
	cmd.Stderr = os.Stderr
	out, err := cmd.Output()
	if err != nil {
		return err
	}
	if dirty := strings.Fields(string(out)); len(dirty) > 0 {
		return fmt.Errorf("%d unformatted files: %s", len(dirty), strings.Join(dirty, " "))
	}
	return nil
}

// listGoFiles walks root for .go files, skipping hidden, underscore,
// testdata and vendor directories below root.
func listGoFiles(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		switch {
		case err != nil:
			return err
		case d.IsDir() && path != root && skipDir(d.Name()):
			return filepath.SkipDir
		case !d.IsDir() && strings.HasSuffix(path, ".go"):
			files = append(files, path)
		}
		return nil
	})
	sort.Strings(files)
	return files, err
}

func skipDir(name string) bool {
	return strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") || name == "testdata" || name == "vendor"
}

func printUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `usage: cli <command> [flags]

commands:
  validate                      gofmt, vet, unit and integration tests
  workflows [-dir DIR]          list built-in and YAML workflows, failing on invalid files
  etl validate request|result|manifest FILE
                                check an ETL payload ("-" reads stdin)
  create -workflow ID [-params JSON] [-webhook URL] [-start]
  get RUN_ID
  logs [-after SEQ] RUN_ID
  pause|resume|cancel RUN_ID
  rollback RUN_ID STEP_ID

Run commands talk to ENGINE_URL (default http://localhost:8080) and send
ADMIN_TOKEN as a bearer token when set.`)
}
