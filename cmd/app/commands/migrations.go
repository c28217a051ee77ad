package commands

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
)

var migrationSources = map[string]string{
	"postgres": "file://migrations/postgresql",
	"mysql":    "file://migrations/mysql",
}

// RunMigrations migrates the outbox_items, reconcile_runs and downstream_send_logs
// tables. steps == 0 applies every pending migration, a positive value applies that
// many and a negative value rolls that many back. The resulting schema version is
// written to out.
func RunMigrations(logger *slog.Logger, out io.Writer, driver, connectionString string, steps int) error {
	source, ok := migrationSources[driver]
	if !ok {
		return fmt.Errorf("unsupported database driver: %s", driver)
	}

	logger.Info("running database migrations",
		slog.String("driver", driver),
		slog.Int("steps", steps),
	)

	m, err := migrate.New(source, connectionString)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer closeMigrate(m, logger)

	if steps == 0 {
		err = m.Up()
	} else {
		err = m.Steps(steps)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		_, err = fmt.Fprintln(out, "Schema is empty")
	case err != nil:
		return fmt.Errorf("failed to read schema version: %w", err)
	default:
		_, err = fmt.Fprintf(out, "Schema at version %d (dirty: %t)\n", version, dirty)
	}

	logger.Info("migrations completed successfully")
	return err
}
