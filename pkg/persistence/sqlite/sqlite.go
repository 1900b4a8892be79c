// Package sqlite provides the SQLite persistence implementation, used for
// single-node deployments and local development.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	_ "modernc.org/sqlite" // sqlite driver

	"github.com/stepflow-io/stepflow/pkg/persistence/sqlbase"
)

// NewPersistence opens a SQLite-backed store and runs pending migrations.
// The path accepts file DSNs, e.g. "file:stepflow.db?_journal=WAL".
func NewPersistence(ctx context.Context, logger *slog.Logger, path string) (*sqlbase.Store, error) {
	database, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite database: %w", err)
	}

	// SQLite allows a single writer. Funneling everything through one
	// connection avoids SQLITE_BUSY under concurrent transitions.
	database.SetMaxOpenConns(1)

	err = database.PingContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	migrationManager := sqlbase.NewMigrationManager(logger, database, migrations())

	err = migrationManager.RunMigrations(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return sqlbase.NewStore(logger, database), nil
}
