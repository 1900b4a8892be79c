// Package cmd holds the factories the binaries share: persistence, event bus
// and locker construction from configuration values.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/stepflow-io/stepflow/pkg/persistence"
	"github.com/stepflow-io/stepflow/pkg/persistence/memory"
	"github.com/stepflow-io/stepflow/pkg/persistence/postgresql"
	"github.com/stepflow-io/stepflow/pkg/persistence/sqlite"
)

// NewPersistence builds the store the database URL scheme selects:
// postgres://... (also postgresql://), sqlite://<path>, or "memory".
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	switch {
	case databaseURL == "" || databaseURL == "memory":
		return memory.NewPersistence(), nil
	case strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://"):
		return postgresql.NewPersistence(ctx, logger, databaseURL)
	case strings.HasPrefix(databaseURL, "sqlite://"):
		return sqlite.NewPersistence(ctx, logger, strings.TrimPrefix(databaseURL, "sqlite://"))
	default:
		return nil, fmt.Errorf("unsupported database URL: %q", databaseURL)
	}
}
