// SPDX-License-Identifier: Apache-2.0

package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beleidsscan/workflow-engine/migrations"
)

// Advisory lock serialising schema bootstrap across api and worker
// processes ("BSN_MIGR").
const migrationLockID int64 = 0x42534e5f4d494752

// ErrMigrationDrift is returned when an applied migration file changed.
var ErrMigrationDrift = errors.New("applied migration changed")

// requiredSchema lists the columns the repositories read and write, per
// table.
var requiredSchema = map[string][]string{
	"runs":             {"id", "workflow_id", "status", "params", "completed_steps", "pause_requested", "end_time", "error", "webhook_url"},
	"run_logs":         {"seq", "run_id", "level", "message", "detail"},
	"step_checkpoints": {"run_id", "step_id", "context"},
}

type SchemaHealthChecker struct {
	pool *pgxpool.Pool
}

func NewSchemaHealthChecker(pool *pgxpool.Pool) *SchemaHealthChecker {
	return &SchemaHealthChecker{pool: pool}
}

func (h *SchemaHealthChecker) Check(ctx context.Context) error {
	return SchemaReady(ctx, h.pool)
}

// EnsureSchema applies pending embedded migrations under an advisory lock
// and then verifies the schema.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) error {
	if pool == nil {
		return errors.New("nil database pool")
	}
	if logger == nil {
		logger = slog.Default()
	}
	started := time.Now()

	files, err := migrations.Ordered()
	if err != nil {
		return fmt.Errorf("load embedded migrations: %w", err)
	}
	if len(files) == 0 {
		return errors.New("no embedded migrations found")
	}

	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire connection for migrations: %w", err)
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SELECT pg_advisory_lock($1)`, migrationLockID); err != nil {
		return fmt.Errorf("acquire migration lock: %w", err)
	}
	defer func() {
		// The request ctx may be gone; the lock must still be released.
		unlockCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := conn.Exec(unlockCtx, `SELECT pg_advisory_unlock($1)`, migrationLockID); err != nil {
			logger.Error("release migration lock failed", "error", err)
		}
	}()

	if _, err := conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			filename   TEXT PRIMARY KEY,
			checksum   TEXT NOT NULL DEFAULT '',
			applied_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	applied, err := appliedMigrations(ctx, conn.Conn())
	if err != nil {
		return err
	}
	pending, err := pendingMigrations(files, applied)
	if err != nil {
		return err
	}

	for _, f := range pending {
		if err := pgx.BeginFunc(ctx, conn.Conn(), func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, f.SQL, pgx.QueryExecModeSimpleProtocol); err != nil {
				return err
			}
			_, err := tx.Exec(ctx,
				`INSERT INTO schema_migrations (filename, checksum) VALUES ($1, $2)`,
				f.Name, f.Checksum,
			)
			return err
		}); err != nil {
			return fmt.Errorf("apply migration %s: %w", f.Name, err)
		}
		logger.Info("migration applied", "file", f.Name)
	}

	logger.Info("schema ready",
		"applied", len(pending),
		"total", len(files),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return SchemaReady(ctx, pool)
}

func appliedMigrations(ctx context.Context, conn *pgx.Conn) (map[string]string, error) {
	rows, err := conn.Query(ctx, `SELECT filename, checksum FROM schema_migrations`)
	if err != nil {
		return nil, fmt.Errorf("list applied migrations: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, sum string
		if err := rows.Scan(&name, &sum); err != nil {
			return nil, fmt.Errorf("scan applied migration: %w", err)
		}
		out[name] = sum
	}
	return out, rows.Err()
}

// pendingMigrations returns files not yet applied, in order. An applied file
// whose checksum differs is drift; an empty recorded checksum is accepted.
func pendingMigrations(files []migrations.File, applied map[string]string) ([]migrations.File, error) {
	var pending []migrations.File
	for _, f := range files {
		sum, ok := applied[f.Name]
		if !ok {
			pending = append(pending, f)
			continue
		}
		if sum != "" && sum != f.Checksum {
			return nil, fmt.Errorf("%w: %s", ErrMigrationDrift, f.Name)
		}
	}
	return pending, nil
}

// SchemaReady reports missing tables or columns the repositories need.
func SchemaReady(ctx context.Context, pool *pgxpool.Pool) error {
	if pool == nil {
		return errors.New("nil database pool")
	}

	tables := make([]string, 0, len(requiredSchema))
	for table := range requiredSchema {
		tables = append(tables, table)
	}

	rows, err := pool.Query(ctx, `
		SELECT table_name, column_name
		FROM information_schema.columns
		WHERE table_schema = 'public' AND table_name = ANY($1)
	`, tables)
	if err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}
	defer rows.Close()

	present := make(map[string]map[string]bool)
	for rows.Next() {
		var table, column string
		if err := rows.Scan(&table, &column); err != nil {
			return fmt.Errorf("scan schema column: %w", err)
		}
		if present[table] == nil {
			present[table] = make(map[string]bool)
		}
		present[table][column] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect schema: %w", err)
	}

	if missing := missingSchema(requiredSchema, present); len(missing) > 0 {
		return fmt.Errorf("schema incomplete, missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// missingSchema lists absent tables by name and absent columns as
// table.column, sorted.
func missingSchema(required map[string][]string, present map[string]map[string]bool) []string {
	var missing []string
	for table, columns := range required {
		cols, ok := present[table]
		if !ok {
			missing = append(missing, table)
			continue
		}
		for _, c := range columns {
			if !cols[c] {
				missing = append(missing, table+"."+c)
			}
		}
	}
	sort.Strings(missing)
	return missing
}
