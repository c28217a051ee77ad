package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/allisson/relay/internal/database"
	apperrors "github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/outbox/domain"
)

// PostgreSQLOutboxItemRepository implements outbox item persistence for PostgreSQL.
// Payloads are stored as JSONB and ids as native UUIDs.
type PostgreSQLOutboxItemRepository struct {
	db *sql.DB
}

// NewPostgreSQLOutboxItemRepository creates a new PostgreSQLOutboxItemRepository.
func NewPostgreSQLOutboxItemRepository(db *sql.DB) *PostgreSQLOutboxItemRepository {
	return &PostgreSQLOutboxItemRepository{db: db}
}

func scanPostgreSQLOutboxItem(row rowScanner) (*domain.OutboxItem, error) {
	var (
		item             domain.OutboxItem
		payload          []byte
		providerResponse []byte
	)
	err := row.Scan(
		&item.ID,
		&item.IntegrationID,
		&item.Operation,
		&item.StableResourceID,
		&payload,
		&item.IdempotencyKey,
		&item.Status,
		&item.AttemptCount,
		&item.NextAttemptAt,
		&item.LastError,
		&providerResponse,
		&item.Version,
		&item.ClaimedUntil,
		&item.SentAt,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	item.Payload = jsonValue(payload)
	item.ProviderResponse = jsonValue(providerResponse)
	return &item, nil
}

func (p *PostgreSQLOutboxItemRepository) queryItems(
	ctx context.Context,
	query string,
	args ...any,
) ([]*domain.OutboxItem, error) {
	querier := database.GetTx(ctx, p.db)

	rows, err := querier.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query outbox items")
	}
	defer rows.Close() //nolint:errcheck

	items := make([]*domain.OutboxItem, 0)
	for rows.Next() {
		item, err := scanPostgreSQLOutboxItem(rows)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan outbox item")
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate outbox items")
	}
	return items, nil
}

// Create inserts a new outbox item. A taken idempotency key yields
// domain.ErrDuplicateIdempotencyKey.
func (p *PostgreSQLOutboxItemRepository) Create(ctx context.Context, item *domain.OutboxItem) error {
	querier := database.GetTx(ctx, p.db)

	query := `INSERT INTO outbox_items (` + outboxItemColumns + `)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	_, err := querier.ExecContext(
		ctx,
		query,
		item.ID,
		item.IntegrationID,
		item.Operation,
		item.StableResourceID,
		jsonArg(item.Payload),
		item.IdempotencyKey,
		item.Status,
		item.AttemptCount,
		item.NextAttemptAt,
		item.LastError,
		jsonArg(item.ProviderResponse),
		item.Version,
		item.ClaimedUntil,
		item.SentAt,
		item.CreatedAt,
		item.UpdatedAt,
	)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return domain.ErrDuplicateIdempotencyKey
		}
		return apperrors.Wrap(err, "failed to create outbox item")
	}
	return nil
}

// GetByID retrieves an outbox item by its id.
func (p *PostgreSQLOutboxItemRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.OutboxItem, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + outboxItemColumns + ` FROM outbox_items WHERE id = $1`

	item, err := scanPostgreSQLOutboxItem(querier.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOutboxItemNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get outbox item")
	}
	return item, nil
}

// GetByIdempotencyKey retrieves the outbox item holding key.
func (p *PostgreSQLOutboxItemRepository) GetByIdempotencyKey(
	ctx context.Context,
	key string,
) (*domain.OutboxItem, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT ` + outboxItemColumns + ` FROM outbox_items WHERE idempotency_key = $1`

	item, err := scanPostgreSQLOutboxItem(querier.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOutboxItemNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get outbox item by idempotency key")
	}
	return item, nil
}

// List returns items matching filter, newest first.
func (p *PostgreSQLOutboxItemRepository) List(
	ctx context.Context,
	filter domain.OutboxItemFilter,
	offset, limit int,
) ([]*domain.OutboxItem, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.IntegrationID != "" {
		args = append(args, filter.IntegrationID)
		conditions = append(conditions, fmt.Sprintf("integration_id = $%d", len(args)))
	}
	if filter.Status != "" {
		args = append(args, filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}

	query := `SELECT ` + outboxItemColumns + ` FROM outbox_items`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	return p.queryItems(ctx, query, args...)
}

// ListDue returns queued, unleased items due at now, oldest next_attempt_at first.
func (p *PostgreSQLOutboxItemRepository) ListDue(
	ctx context.Context,
	filter domain.DueFilter,
	now time.Time,
	limit int,
) ([]*domain.OutboxItem, error) {
	args := []any{domain.OutboxStatusQueued, now}
	query := `SELECT ` + outboxItemColumns + ` FROM outbox_items
			  WHERE status = $1 AND next_attempt_at <= $2 AND (claimed_until IS NULL OR claimed_until <= $2)`

	if filter.IntegrationID != "" {
		args = append(args, filter.IntegrationID)
		query += fmt.Sprintf(` AND integration_id = $%d`, len(args))
	}
	if len(filter.ExcludeIntegrations) > 0 {
		args = append(args, pq.Array(filter.ExcludeIntegrations))
		query += fmt.Sprintf(` AND NOT (integration_id = ANY($%d))`, len(args))
	}
	args = append(args, limit)
	query += fmt.Sprintf(` ORDER BY next_attempt_at ASC, id ASC LIMIT $%d`, len(args))

	return p.queryItems(ctx, query, args...)
}

// Claim leases item until leaseUntil when it is still queued, due, unleased and at
// the version that was read. On success item carries the new version and lease.
func (p *PostgreSQLOutboxItemRepository) Claim(
	ctx context.Context,
	item *domain.OutboxItem,
	now, leaseUntil time.Time,
) (bool, error) {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE outbox_items
			  SET claimed_until = $1, version = version + 1
			  WHERE id = $2 AND version = $3 AND status = $4 AND next_attempt_at <= $5
			    AND (claimed_until IS NULL OR claimed_until <= $5)`

	result, err := querier.ExecContext(ctx, query, leaseUntil, item.ID, item.Version, domain.OutboxStatusQueued, now)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to claim outbox item")
	}
	return applyClaim(result, item, leaseUntil)
}

// Complete writes the outcome of an attempt when the item is still at claimedVersion.
func (p *PostgreSQLOutboxItemRepository) Complete(
	ctx context.Context,
	item *domain.OutboxItem,
	claimedVersion int64,
) error {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE outbox_items
			  SET status = $1, attempt_count = $2, next_attempt_at = $3, last_error = $4,
			      provider_response = $5, claimed_until = NULL, sent_at = $6, updated_at = $7,
			      version = version + 1
			  WHERE id = $8 AND version = $9`

	result, err := querier.ExecContext(
		ctx,
		query,
		item.Status,
		item.AttemptCount,
		item.NextAttemptAt,
		item.LastError,
		jsonArg(item.ProviderResponse),
		item.SentAt,
		item.UpdatedAt,
		item.ID,
		claimedVersion,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to complete outbox item")
	}
	return applyComplete(result, item, claimedVersion)
}

// CountQueued returns the number of queued items of the integration.
func (p *PostgreSQLOutboxItemRepository) CountQueued(ctx context.Context, integrationID string) (int, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT COUNT(*) FROM outbox_items WHERE integration_id = $1 AND status = $2`

	var count int
	if err := querier.QueryRowContext(ctx, query, integrationID, domain.OutboxStatusQueued).Scan(&count); err != nil {
		return 0, apperrors.Wrap(err, "failed to count queued outbox items")
	}
	return count, nil
}

// ListQueuedIntegrationIDs returns the distinct integration ids that have queued items.
func (p *PostgreSQLOutboxItemRepository) ListQueuedIntegrationIDs(ctx context.Context) ([]string, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT DISTINCT integration_id FROM outbox_items WHERE status = $1 ORDER BY integration_id`

	rows, err := querier.QueryContext(ctx, query, domain.OutboxStatusQueued)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list queued integration ids")
	}
	defer rows.Close() //nolint:errcheck

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan integration id")
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate integration ids")
	}
	return ids, nil
}

// RearmStale makes queued, unleased items untouched since staleBefore due at now.
func (p *PostgreSQLOutboxItemRepository) RearmStale(
	ctx context.Context,
	integrationID string,
	staleBefore, now time.Time,
) (int, error) {
	querier := database.GetTx(ctx, p.db)

	query := `UPDATE outbox_items
			  SET next_attempt_at = $1, updated_at = $1, version = version + 1
			  WHERE integration_id = $2 AND status = $3 AND updated_at < $4
			    AND (claimed_until IS NULL OR claimed_until <= $1)`

	result, err := querier.ExecContext(ctx, query, now, integrationID, domain.OutboxStatusQueued, staleBefore)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to rearm stale outbox items")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to read rearmed row count")
	}
	return int(affected), nil
}

// HasSent reports whether a sent item exists for the resource.
func (p *PostgreSQLOutboxItemRepository) HasSent(
	ctx context.Context,
	integrationID, stableResourceID string,
) (bool, error) {
	querier := database.GetTx(ctx, p.db)

	query := `SELECT EXISTS (
				SELECT 1 FROM outbox_items
				WHERE integration_id = $1 AND stable_resource_id = $2 AND status = $3
			  )`

	var exists bool
	err := querier.QueryRowContext(ctx, query, integrationID, stableResourceID, domain.OutboxStatusSent).
		Scan(&exists)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to look up sent outbox item")
	}
	return exists, nil
}

func applyClaim(result sql.Result, item *domain.OutboxItem, leaseUntil time.Time) (bool, error) {
	affected, err := result.RowsAffected()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to read claimed row count")
	}
	if affected == 0 {
		return false, nil
	}
	item.Version++
	item.ClaimedUntil = &leaseUntil
	return true, nil
}

func applyComplete(result sql.Result, item *domain.OutboxItem, claimedVersion int64) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return apperrors.Wrap(err, "failed to read completed row count")
	}
	if affected == 0 {
		return domain.ErrClaimLost
	}
	item.Version = claimedVersion + 1
	item.ClaimedUntil = nil
	return nil
}
