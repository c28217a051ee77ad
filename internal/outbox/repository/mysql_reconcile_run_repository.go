package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/allisson/relay/internal/database"
	apperrors "github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/outbox/domain"
)

// MySQLReconcileRunRepository implements reconcile audit persistence for MySQL.
type MySQLReconcileRunRepository struct {
	db *sql.DB
}

// NewMySQLReconcileRunRepository creates a new MySQLReconcileRunRepository.
func NewMySQLReconcileRunRepository(db *sql.DB) *MySQLReconcileRunRepository {
	return &MySQLReconcileRunRepository{db: db}
}

func scanMySQLReconcileRun(row rowScanner) (*domain.ReconcileRun, error) {
	var (
		run domain.ReconcileRun
		id  []byte
	)
	err := row.Scan(
		&id,
		&run.IntegrationID,
		&run.Strategy,
		&run.Status,
		&run.Checked,
		&run.Fixed,
		&run.Notes,
		&run.StartedAt,
		&run.FinishedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := run.ID.UnmarshalBinary(id); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal reconcile run id")
	}
	return &run, nil
}

// Create inserts a new reconcile run.
func (m *MySQLReconcileRunRepository) Create(ctx context.Context, run *domain.ReconcileRun) error {
	querier := database.GetTx(ctx, m.db)

	id, err := run.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal reconcile run id")
	}

	query := `INSERT INTO reconcile_runs (` + reconcileRunColumns + `)
			  VALUES (` + placeholders(9) + `)`

	_, err = querier.ExecContext(
		ctx,
		query,
		id,
		run.IntegrationID,
		run.Strategy,
		run.Status,
		run.Checked,
		run.Fixed,
		run.Notes,
		run.StartedAt,
		run.FinishedAt,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to create reconcile run")
	}
	return nil
}

// Finish finalizes an in_progress run.
func (m *MySQLReconcileRunRepository) Finish(ctx context.Context, run *domain.ReconcileRun) error {
	querier := database.GetTx(ctx, m.db)

	id, err := run.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal reconcile run id")
	}

	query := `UPDATE reconcile_runs
			  SET status = ?, checked = ?, fixed = ?, notes = ?, finished_at = ?
			  WHERE id = ? AND status = ?`

	result, err := querier.ExecContext(
		ctx,
		query,
		run.Status,
		run.Checked,
		run.Fixed,
		run.Notes,
		run.FinishedAt,
		id,
		domain.ReconcileRunStatusInProgress,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to finish reconcile run")
	}
	return checkFinished(result)
}

// GetByID retrieves a reconcile run by its id.
func (m *MySQLReconcileRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ReconcileRun, error) {
	querier := database.GetTx(ctx, m.db)

	idBytes, err := id.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal reconcile run id")
	}

	query := `SELECT ` + reconcileRunColumns + ` FROM reconcile_runs WHERE id = ?`

	run, err := scanMySQLReconcileRun(querier.QueryRowContext(ctx, query, idBytes))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrReconcileRunNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get reconcile run")
	}
	return run, nil
}

// List returns runs newest first, optionally restricted to one integration.
func (m *MySQLReconcileRunRepository) List(
	ctx context.Context,
	integrationID string,
	offset, limit int,
) ([]*domain.ReconcileRun, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT ` + reconcileRunColumns + ` FROM reconcile_runs`
	var args []any
	if integrationID != "" {
		query += ` WHERE integration_id = ?`
		args = append(args, integrationID)
	}
	query += ` ORDER BY started_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	rows, err := querier.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list reconcile runs")
	}
	defer rows.Close() //nolint:errcheck

	runs := make([]*domain.ReconcileRun, 0)
	for rows.Next() {
		run, err := scanMySQLReconcileRun(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan reconcile run")
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate reconcile runs")
	}
	return runs, nil
}
