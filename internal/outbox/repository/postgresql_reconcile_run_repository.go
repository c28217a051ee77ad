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

// PostgreSQLReconcileRunRepository implements reconcile audit persistence for PostgreSQL.
type PostgreSQLReconcileRunRepository struct {
	db *sql.DB
}

// NewPostgreSQLReconcileRunRepository creates a new PostgreSQLReconcileRunRepository.
func NewPostgreSQLReconcileRunRepository(db *sql.DB) *PostgreSQLReconcileRunRepository {
	return &PostgreSQLReconcileRunRepository{db: db}
}

func scanPostgreSQLReconcileRun(row rowScanner) (*domain.ReconcileRun, error) {
	var run domain.ReconcileRun
	err := row.Scan(
		&run.ID,
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
	return &run, nil
}

// Create inserts a new reconcile run.
func (p *PostgreSQLReconcileRunRepository) Create(ctx context.Context, run *domain.ReconcileRun) error {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO reconcile_runs (` + reconcileRunColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := querier.ExecContext(
		ctx,
		query,
		run.ID,
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
func (p *PostgreSQLReconcileRunRepository) Finish(ctx context.Context, run *domain.ReconcileRun) error {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE reconcile_runs
			  SET status = $1, checked = $2, fixed = $3, notes = $4, finished_at = $5
			  WHERE id = $6 AND status = $7`

	result, err := querier.ExecContext(
		ctx,
		query,
		run.Status,
		run.Checked,
		run.Fixed,
		run.Notes,
		run.FinishedAt,
		run.ID,
		domain.ReconcileRunStatusInProgress,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to finish reconcile run")
	}
	return checkFinished(result)
}

// GetByID retrieves a reconcile run by its id.
func (p *PostgreSQLReconcileRunRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.ReconcileRun, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + reconcileRunColumns + ` FROM reconcile_runs WHERE id = $1`

	run, err := scanPostgreSQLReconcileRun(querier.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrReconcileRunNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get reconcile run")
	}
	return run, nil
}

// List returns runs newest first, optionally restricted to one integration.
func (p *PostgreSQLReconcileRunRepository) List(
	ctx context.Context,
	integrationID string,
	offset, limit int,
) ([]*domain.ReconcileRun, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + reconcileRunColumns + ` FROM reconcile_runs
			  ORDER BY started_at DESC, id DESC LIMIT $1 OFFSET $2`
	args := []any{limit, offset}
	if integrationID != "" {
		query = `SELECT ` + reconcileRunColumns + ` FROM reconcile_runs
			  WHERE integration_id = $1
			  ORDER BY started_at DESC, id DESC LIMIT $2 OFFSET $3`
		args = []any{integrationID, limit, offset}
	}

	rows, err := querier.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list reconcile runs")
	}
	defer rows.Close() //nolint:errcheck

	runs := make([]*domain.ReconcileRun, 0)
	for rows.Next() {
		run, err := scanPostgreSQLReconcileRun(rows)
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

func checkFinished(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to read finished row count")
	}
	if affected == 0 {
		return domain.ErrReconcileRunFinalized
	}
	return nil
}
