package commands

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRunMigrations(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	t.Run("unsupported-driver", func(t *testing.T) {
		err := RunMigrations(logger, &bytes.Buffer{}, "sqlite", "file:relay.db", 0)
		require.Error(t, err)
		require.Contains(t, err.Error(), "unsupported database driver: sqlite")
	})

	t.Run("invalid-connection-string", func(t *testing.T) {
		var out bytes.Buffer
		err := RunMigrations(logger, &out, "mysql", "invalid-connection-string", 0)
		require.Error(t, err)
		require.Contains(t, err.Error(), "failed to create migrate instance")
		require.Empty(t, out.String())
	})
}
