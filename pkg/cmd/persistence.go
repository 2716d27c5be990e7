// Package cmd provides common initialization functions for command-line applications.
package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dukex/flowline/pkg/persistence"
	"github.com/dukex/flowline/pkg/persistence/file"
	"github.com/dukex/flowline/pkg/persistence/postgresql"
)

// NewPersistence opens the store named by databaseURL: file://<dir>,
// postgres:// or postgresql://. A URL without a scheme is a file directory.
func NewPersistence(ctx context.Context, logger *slog.Logger, databaseURL string) (persistence.Persistence, error) {
	provider, rest := parsePersistenceProvider(databaseURL)

	switch provider {
	case "file":
		if rest == "" {
			return nil, fmt.Errorf("file persistence requires a directory, got %q", databaseURL)
		}

		return file.NewPersistence(rest), nil
	case "postgres", "postgresql":
		db, err := postgresql.NewPersistence(ctx, logger, databaseURL)
		if err != nil {
			return nil, err
		}

		return db, nil
	default:
		return nil, fmt.Errorf("unsupported persistence provider %q", provider)
	}
}

func parsePersistenceProvider(databaseURL string) (string, string) {
	provider, rest, found := strings.Cut(databaseURL, "://")
	if !found {
		return "file", databaseURL
	}

	return provider, rest
}
