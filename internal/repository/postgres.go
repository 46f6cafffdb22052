// SPDX-License-Identifier: Apache-2.0

package repository

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore bundles the pgx repositories into a Store.
type PostgresStore struct {
	*RunRepository
	*LogRepository
	*CheckpointRepository
}

var _ Store = (*PostgresStore)(nil)

func NewPostgresStore(pool *pgxpool.Pool, logger *slog.Logger) *PostgresStore {
	return &PostgresStore{
		RunRepository:        NewRunRepository(pool, logger),
		LogRepository:        NewLogRepository(pool, logger),
		CheckpointRepository: NewCheckpointRepository(pool, logger),
	}
}
