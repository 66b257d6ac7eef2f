// Package cmd provides common initialization for the engine's binaries.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mailflow/mailflow/pkg/persistence"
	"github.com/mailflow/mailflow/pkg/persistence/memory"
	"github.com/mailflow/mailflow/pkg/persistence/postgresql"
)

// NewPersistence builds the persistence layer from a database URL.
// postgres:// URLs get the PostgreSQL implementation; the literal
// "memory" gets the in-memory one for local development and tests.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) persistence.Persistence {
	switch {
	case databaseURL == "memory":
		logger.WarnContext(ctx, "Using in-memory persistence, data is lost on restart")

		return memory.NewPersistence()
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		p, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			panic(fmt.Errorf("failed to create PostgreSQL persistence: %w", err))
		}

		return p
	default:
		panic("Unsupported database URL: " + databaseURL)
	}
}
