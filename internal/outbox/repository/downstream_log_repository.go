package repository

import (
	"context"
	"database/sql"

	"github.com/allisson/relay/internal/database"
	apperrors "github.com/allisson/relay/internal/errors"
	"github.com/allisson/relay/internal/outbox/domain"
)

// PostgreSQLDownstreamLogRepository reads downstream send logs from PostgreSQL.
type PostgreSQLDownstreamLogRepository struct {
	db *sql.DB
}

// NewPostgreSQLDownstreamLogRepository creates a new PostgreSQLDownstreamLogRepository.
func NewPostgreSQLDownstreamLogRepository(db *sql.DB) *PostgreSQLDownstreamLogRepository {
	return &PostgreSQLDownstreamLogRepository{db: db}
}

// ListPending returns the oldest pending entries of the integration.
func (p *PostgreSQLDownstreamLogRepository) ListPending(
	ctx context.Context,
	integrationID string,
	limit int,
) ([]*domain.DownstreamLogEntry, error) {
	query := `SELECT ` + downstreamLogColumns + ` FROM downstream_send_logs
			  WHERE integration_id = $1 AND status = $2
			  ORDER BY created_at ASC, id ASC LIMIT $3`

	return listPending(ctx, database.GetTx(ctx, p.db), query, false, integrationID, limit)
}

// MySQLDownstreamLogRepository reads downstream send logs from MySQL.
type MySQLDownstreamLogRepository struct {
	db *sql.DB
}

// NewMySQLDownstreamLogRepository creates a new MySQLDownstreamLogRepository.
func NewMySQLDownstreamLogRepository(db *sql.DB) *MySQLDownstreamLogRepository {
	return &MySQLDownstreamLogRepository{db: db}
}

// ListPending returns the oldest pending entries of the integration.
func (m *MySQLDownstreamLogRepository) ListPending(
	ctx context.Context,
	integrationID string,
	limit int,
) ([]*domain.DownstreamLogEntry, error) {
	query := `SELECT ` + downstreamLogColumns + ` FROM downstream_send_logs
			  WHERE integration_id = ? AND status = ?
			  ORDER BY created_at ASC, id ASC LIMIT ?`

	return listPending(ctx, database.GetTx(ctx, m.db), query, true, integrationID, limit)
}

func listPending(
	ctx context.Context,
	querier database.Querier,
	query string,
	binaryIDs bool,
	integrationID string,
	limit int,
) ([]*domain.DownstreamLogEntry, error) {
	rows, err := querier.QueryContext(ctx, query, integrationID, domain.DownstreamLogStatusPending, limit)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list pending downstream log entries")
	}
	defer rows.Close() //nolint:errcheck

	entries := make([]*domain.DownstreamLogEntry, 0)
	for rows.Next() {
		var (
			entry   domain.DownstreamLogEntry
			id      []byte
			payload []byte
		)
		dest := []any{
			&entry.ID,
			&entry.IntegrationID,
			&entry.Operation,
			&entry.StableResourceID,
			&payload,
			&entry.Status,
			&entry.CreatedAt,
		}
		if binaryIDs {
			dest[0] = &id
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, apperrors.Wrap(err, "failed to scan downstream log entry")
		}
		if binaryIDs {
			if err := entry.ID.UnmarshalBinary(id); err != nil {
				return nil, apperrors.Wrap(err, "failed to unmarshal downstream log entry id")
			}
		}
		entry.Payload = jsonValue(payload)
		entries = append(entries, &entry)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate downstream log entries")
	}
	return entries, nil
}
