package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/allisson/relay/internal/database"
	apperrors "github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/outbox/domain"
)

// MySQLOutboxItemRepository implements outbox item persistence for MySQL.
//
// MySQL has no UUID type, so ids are stored as BINARY(16) and converted with
// uuid.MarshalBinary and uuid.UnmarshalBinary. Payloads are stored in JSON columns.
type MySQLOutboxItemRepository struct {
	db *sql.DB
}

// NewMySQLOutboxItemRepository creates a new MySQLOutboxItemRepository.
func NewMySQLOutboxItemRepository(db *sql.DB) *MySQLOutboxItemRepository {
	return &MySQLOutboxItemRepository{db: db}
}

func scanMySQLOutboxItem(row rowScanner) (*domain.OutboxItem, error) {
	var (
		item             domain.OutboxItem
		id               []byte
		payload          []byte
		providerResponse []byte
	)
	err := row.Scan(
		&id,
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
	if err := item.ID.UnmarshalBinary(id); err != nil {
		return nil, apperrors.Wrap(err, "failed to unmarshal outbox item id")
	}
	item.Payload = jsonValue(payload)
	item.ProviderResponse = jsonValue(providerResponse)
	return &item, nil
}

func (m *MySQLOutboxItemRepository) queryItems(
	ctx context.Context,
	query string,
	args ...any,
) ([]*domain.OutboxItem, error) {
	querier := database.GetTx(ctx, m.db)

	rows, err := querier.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to query outbox items")
	}
	defer rows.Close() //nolint:errcheck

	items := make([]*domain.OutboxItem, 0)
	for rows.Next() {
		item, err := scanMySQLOutboxItem(rows)
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
func (m *MySQLOutboxItemRepository) Create(ctx context.Context, item *domain.OutboxItem) error {
	querier := database.GetTx(ctx, m.db)

	id, err := item.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal outbox item id")
	}

	query := `INSERT INTO outbox_items (` + outboxItemColumns + `)
			  VALUES (` + placeholders(16) + `)`

	_, err = querier.ExecContext(
		ctx,
		query,
		id,
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
func (m *MySQLOutboxItemRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.OutboxItem, error) {
	querier := database.GetTx(ctx, m.db)

	idBytes, err := id.MarshalBinary()
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to marshal outbox item id")
	}

	query := `SELECT ` + outboxItemColumns + ` FROM outbox_items WHERE id = ?`

	item, err := scanMySQLOutboxItem(querier.QueryRowContext(ctx, query, idBytes))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOutboxItemNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get outbox item")
	}
	return item, nil
}

// GetByIdempotencyKey retrieves the outbox item holding key.
func (m *MySQLOutboxItemRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.OutboxItem, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT ` + outboxItemColumns + ` FROM outbox_items WHERE idempotency_key = ?`

	item, err := scanMySQLOutboxItem(querier.QueryRowContext(ctx, query, key))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOutboxItemNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get outbox item by idempotency key")
	}
	return item, nil
}

// List returns items matching filter, newest first.
func (m *MySQLOutboxItemRepository) List(
	ctx context.Context,
	filter domain.OutboxItemFilter,
	offset, limit int,
) ([]*domain.OutboxItem, error) {
	var (
		conditions []string
		args       []any
	)
	if filter.IntegrationID != "" {
		conditions = append(conditions, "integration_id = ?")
		args = append(args, filter.IntegrationID)
	}
	if filter.Status != "" {
		conditions = append(conditions, "status = ?")
		args = append(args, filter.Status)
	}

	query := `SELECT ` + outboxItemColumns + ` FROM outbox_items`
	if len(conditions) > 0 {
		query += ` WHERE ` + strings.Join(conditions, " AND ")
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`
	args = append(args, limit, offset)

	return m.queryItems(ctx, query, args...)
}

// ListDue returns queued, unleased items due at now, oldest next_attempt_at first.
func (m *MySQLOutboxItemRepository) ListDue(
	ctx context.Context,
	filter domain.DueFilter,
	now time.Time,
	limit int,
) ([]*domain.OutboxItem, error) {
	args := []any{domain.OutboxStatusQueued, now, now}
	query := `SELECT ` + outboxItemColumns + ` FROM outbox_items
			  WHERE status = ? AND next_attempt_at <= ? AND (claimed_until IS NULL OR claimed_until <= ?)`

	if filter.IntegrationID != "" {
		query += ` AND integration_id = ?`
		args = append(args, filter.IntegrationID)
	}
	if len(filter.ExcludeIntegrations) > 0 {
		query += ` AND integration_id NOT IN (` + placeholders(len(filter.ExcludeIntegrations)) + `)`
		for _, id := range filter.ExcludeIntegrations {
			args = append(args, id)
		}
	}
	query += ` ORDER BY next_attempt_at ASC, id ASC LIMIT ?`
	args = append(args, limit)

	return m.queryItems(ctx, query, args...)
}

// Claim leases item until leaseUntil when it is still queued, due, unleased and at
// the version that was read. On success item carries the new version and lease.
func (m *MySQLOutboxItemRepository) Claim(
	ctx context.Context,
	item *domain.OutboxItem,
	now, leaseUntil time.Time,
) (bool, error) {
	querier := database.GetTx(ctx, m.db)

	id, err := item.ID.MarshalBinary()
	if err != nil {
		return false, apperrors.Wrap(err, "failed to marshal outbox item id")
	}

	query := `UPDATE outbox_items
			  SET claimed_until = ?, version = version + 1
			  WHERE id = ? AND version = ? AND status = ? AND next_attempt_at <= ?
			    AND (claimed_until IS NULL OR claimed_until <= ?)`

	result, err := querier.ExecContext(ctx, query, leaseUntil, id, item.Version, domain.OutboxStatusQueued, now, now)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to claim outbox item")
	}
	return applyClaim(result, item, leaseUntil)
}

// Complete writes the outcome of an attempt when the item is still at claimedVersion.
func (m *MySQLOutboxItemRepository) Complete(ctx context.Context, item *domain.OutboxItem, claimedVersion int64) error {
	querier := database.GetTx(ctx, m.db)

	id, err := item.ID.MarshalBinary()
	if err != nil {
		return apperrors.Wrap(err, "failed to marshal outbox item id")
	}

	query := `UPDATE outbox_items
			  SET status = ?, attempt_count = ?, next_attempt_at = ?, last_error = ?,
			      provider_response = ?, claimed_until = NULL, sent_at = ?, updated_at = ?,
			      version = version + 1
			  WHERE id = ? AND version = ?`

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
		id,
		claimedVersion,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to complete outbox item")
	}
	return applyComplete(result, item, claimedVersion)
}

// CountQueued returns the number of queued items of the integration.
func (m *MySQLOutboxItemRepository) CountQueued(ctx context.Context, integrationID string) (int, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT COUNT(*) FROM outbox_items WHERE integration_id = ? AND status = ?`

	var count int
	if err := querier.QueryRowContext(ctx, query, integrationID, domain.OutboxStatusQueued).Scan(&count); err != nil {
		return 0, apperrors.Wrap(err, "failed to count queued outbox items")
	}
	return count, nil
}

// ListQueuedIntegrationIDs returns the distinct integration ids that have queued items.
func (m *MySQLOutboxItemRepository) ListQueuedIntegrationIDs(ctx context.Context) ([]string, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT DISTINCT integration_id FROM outbox_items WHERE status = ? ORDER BY integration_id`

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
func (m *MySQLOutboxItemRepository) RearmStale(
	ctx context.Context,
	integrationID string,
	staleBefore, now time.Time,
) (int, error) {
	querier := database.GetTx(ctx, m.db)

	query := `UPDATE outbox_items
			  SET next_attempt_at = ?, updated_at = ?, version = version + 1
			  WHERE integration_id = ? AND status = ? AND updated_at < ?
			    AND (claimed_until IS NULL OR claimed_until <= ?)`

	result, err := querier.ExecContext(
		ctx, query, now, now, integrationID, domain.OutboxStatusQueued, staleBefore, now,
	)
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
func (m *MySQLOutboxItemRepository) HasSent(ctx context.Context, integrationID, stableResourceID string) (bool, error) {
	querier := database.GetTx(ctx, m.db)

	query := `SELECT EXISTS (
				SELECT 1 FROM outbox_items
				WHERE integration_id = ? AND stable_resource_id = ? AND status = ?
			  )`

	var exists bool
	err := querier.QueryRowContext(ctx, query, integrationID, stableResourceID, domain.OutboxStatusSent).
		Scan(&exists)
	if err != nil {
		return false, apperrors.Wrap(err, "failed to look up sent outbox item")
	}
	return exists, nil
}
