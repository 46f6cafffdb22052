// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/beleidsscan/workflow-engine/internal/domain"
)

type LogRepository struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

func NewLogRepository(pool *pgxpool.Pool, logger *slog.Logger) *LogRepository {
	if logger == nil {
		logger = slog.Default()
	}

	return &LogRepository{
		pool:   pool,
		logger: logger,
	}
}

func (r *LogRepository) AppendLog(ctx context.Context, entry domain.LogEntry) (int64, error) {
	var detail any
	if len(entry.Detail) > 0 {
		detail = entry.Detail
	}

	var seq int64
	if err := r.pool.QueryRow(ctx, `
		INSERT INTO run_logs (run_id, logged_at, level, message, detail)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING seq
	`,
		entry.RunID,
		entry.Timestamp,
		string(entry.Level),
		entry.Message,
		detail,
	).Scan(&seq); err != nil {
		r.logger.Error("insert run log failed", "run_id", entry.RunID, "error", err)
		return 0, err
	}

	return seq, nil
}

func (r *LogRepository) ListLogs(ctx context.Context, runID uuid.UUID, afterSeq int64) ([]domain.LogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT seq, run_id, logged_at, level, message, detail
		FROM run_logs
		WHERE run_id=$1
		  AND seq > $2
		ORDER BY seq ASC
	`,
		runID,
		afterSeq,
	)
	if err != nil {
		r.logger.Error("list run logs query failed",
			"run_id", runID,
			"error", err,
		)
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.LogEntry, 0, 16)
	for rows.Next() {
		var entry domain.LogEntry
		var level string
		if err := rows.Scan(
			&entry.Seq,
			&entry.RunID,
			&entry.Timestamp,
			&level,
			&entry.Message,
			&entry.Detail,
		); err != nil {
			r.logger.Error("scan run log row failed",
				"run_id", runID,
				"error", err,
			)
			return nil, err
		}
		entry.Level = domain.LogLevel(level)
		out = append(out, entry)
	}

	if err := rows.Err(); err != nil {
		r.logger.Error("run logs rows iteration failed",
			"run_id", runID,
			"error", err,
		)
		return nil, err
	}

	return out, nil
}
