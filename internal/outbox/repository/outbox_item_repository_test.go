package repository

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/allisson/relay/internal/database"
	"github.com/allisson/relay/internal/outbox/domain"
)

var itemColumnNames = []string{
	"id", "integration_id", "operation", "stable_resource_id", "payload", "idempotency_key", "status",
	"attempt_count", "next_attempt_at", "last_error", "provider_response", "version", "claimed_until", "sent_at",
	"created_at", "updated_at",
}

func newMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func sampleItem() *domain.OutboxItem {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return &domain.OutboxItem{
		ID:               uuid.Must(uuid.NewV7()),
		IntegrationID:    "resend",
		Operation:        "send_email",
		StableResourceID: "signup_request:1",
		Payload:          json.RawMessage(`{"to":"a@example.com"}`),
		IdempotencyKey:   "f0e1",
		Status:           domain.OutboxStatusQueued,
		NextAttemptAt:    at,
		Version:          1,
		CreatedAt:        at,
		UpdatedAt:        at,
	}
}

func itemRow(id driver.Value, item *domain.OutboxItem) []driver.Value {
	return []driver.Value{
		id, item.IntegrationID, item.Operation, item.StableResourceID, []byte(item.Payload), item.IdempotencyKey,
		string(item.Status), item.AttemptCount, item.NextAttemptAt, nil, nil, item.Version, nil, nil,
		item.CreatedAt, item.UpdatedAt,
	}
}

func TestPostgreSQLOutboxItemRepository_Create(t *testing.T) {
	ctx := context.Background()

	t.Run("Success", func(t *testing.T) {
		db, mock := newMockDB(t)
		item := sampleItem()

		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_items")).
			WithArgs(
				item.ID, "resend", "send_email", "signup_request:1", `{"to":"a@example.com"}`, "f0e1",
				"queued", 0, item.NextAttemptAt, nil, nil, int64(1), nil, nil, item.CreatedAt, item.UpdatedAt,
			).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, NewPostgreSQLOutboxItemRepository(db).Create(ctx, item))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DuplicateIdempotencyKey", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_items")).
			WillReturnError(&pq.Error{Code: "23505"})

		err := NewPostgreSQLOutboxItemRepository(db).Create(ctx, sampleItem())
		assert.ErrorIs(t, err, domain.ErrDuplicateIdempotencyKey)
	})

	t.Run("JoinsAmbientTransaction", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectBegin()
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_items")).WillReturnResult(sqlmock.NewResult(0, 1))
		mock.ExpectCommit()

		repo := NewPostgreSQLOutboxItemRepository(db)
		err := database.NewTxManager(db).WithTx(ctx, func(txCtx context.Context) error {
			return repo.Create(txCtx, sampleItem())
		})
		require.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgreSQLOutboxItemRepository_Get(t *testing.T) {
	ctx := context.Background()

	t.Run("ByIDSuccess", func(t *testing.T) {
		db, mock := newMockDB(t)
		item := sampleItem()
		lastError := "transient failure: 503"
		row := itemRow(item.ID.String(), item)
		row[9] = lastError
		row[10] = []byte(`{"id":"msg_1"}`)

		mock.ExpectQuery(regexp.QuoteMeta("FROM outbox_items WHERE id = $1")).
			WithArgs(item.ID).
			WillReturnRows(sqlmock.NewRows(itemColumnNames).AddRow(row...))

		got, err := NewPostgreSQLOutboxItemRepository(db).GetByID(ctx, item.ID)
		require.NoError(t, err)
		assert.Equal(t, item.ID, got.ID)
		assert.Equal(t, domain.OutboxStatusQueued, got.Status)
		assert.JSONEq(t, `{"to":"a@example.com"}`, string(got.Payload))
		assert.JSONEq(t, `{"id":"msg_1"}`, string(got.ProviderResponse))
		require.NotNil(t, got.LastError)
		assert.Equal(t, lastError, *got.LastError)
		assert.Nil(t, got.ClaimedUntil)
	})

	t.Run("ByIDNotFound", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM outbox_items WHERE id = $1")).
			WillReturnRows(sqlmock.NewRows(itemColumnNames))

		_, err := NewPostgreSQLOutboxItemRepository(db).GetByID(ctx, uuid.Must(uuid.NewV7()))
		assert.ErrorIs(t, err, domain.ErrOutboxItemNotFound)
	})

	t.Run("ByIdempotencyKeyNotFound", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectQuery(regexp.QuoteMeta("FROM outbox_items WHERE idempotency_key = $1")).
			WithArgs("missing").
			WillReturnError(sql.ErrNoRows)

		_, err := NewPostgreSQLOutboxItemRepository(db).GetByIdempotencyKey(ctx, "missing")
		assert.ErrorIs(t, err, domain.ErrOutboxItemNotFound)
	})
}

func TestPostgreSQLOutboxItemRepository_List(t *testing.T) {
	db, mock := newMockDB(t)
	item := sampleItem()

	mock.ExpectQuery(regexp.QuoteMeta(
		"WHERE integration_id = $1 AND status = $2 ORDER BY created_at DESC, id DESC LIMIT $3 OFFSET $4",
	)).
		WithArgs("resend", "queued", 20, 40).
		WillReturnRows(sqlmock.NewRows(itemColumnNames).AddRow(itemRow(item.ID.String(), item)...))

	items, err := NewPostgreSQLOutboxItemRepository(db).List(
		context.Background(),
		domain.OutboxItemFilter{IntegrationID: "resend", Status: domain.OutboxStatusQueued},
		40, 20,
	)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, item.ID, items[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLOutboxItemRepository_ListDue(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery(regexp.QuoteMeta(
		"AND integration_id = $3 AND NOT (integration_id = ANY($4)) ORDER BY next_attempt_at ASC, id ASC LIMIT $5",
	)).
		WithArgs("queued", now, "slack", sqlmock.AnyArg(), 50).
		WillReturnRows(sqlmock.NewRows(itemColumnNames))

	items, err := NewPostgreSQLOutboxItemRepository(db).ListDue(
		context.Background(),
		domain.DueFilter{IntegrationID: "slack", ExcludeIntegrations: []string{"twilio"}},
		now,
		50,
	)
	require.NoError(t, err)
	assert.Empty(t, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgreSQLOutboxItemRepository_ClaimAndComplete(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lease := now.Add(2 * time.Minute)

	t.Run("ClaimWins", func(t *testing.T) {
		db, mock := newMockDB(t)
		item := sampleItem()

		mock.ExpectExec(regexp.QuoteMeta("SET claimed_until = $1, version = version + 1")).
			WithArgs(lease, item.ID, int64(1), "queued", now).
			WillReturnResult(sqlmock.NewResult(0, 1))

		claimed, err := NewPostgreSQLOutboxItemRepository(db).Claim(ctx, item, now, lease)
		require.NoError(t, err)
		assert.True(t, claimed)
		assert.Equal(t, int64(2), item.Version)
		require.NotNil(t, item.ClaimedUntil)
		assert.Equal(t, lease, *item.ClaimedUntil)
	})

	t.Run("ClaimLost", func(t *testing.T) {
		db, mock := newMockDB(t)
		item := sampleItem()

		mock.ExpectExec(regexp.QuoteMeta("SET claimed_until = $1")).WillReturnResult(sqlmock.NewResult(0, 0))

		claimed, err := NewPostgreSQLOutboxItemRepository(db).Claim(ctx, item, now, lease)
		require.NoError(t, err)
		assert.False(t, claimed)
		assert.Equal(t, int64(1), item.Version)
		assert.Nil(t, item.ClaimedUntil)
	})

	t.Run("CompleteWritesOutcome", func(t *testing.T) {
		db, mock := newMockDB(t)
		item := sampleItem()
		item.Status = domain.OutboxStatusSent
		item.AttemptCount = 1
		item.SentAt = &now
		item.ProviderResponse = json.RawMessage(`{"id":"msg_1"}`)

		mock.ExpectExec(regexp.QuoteMeta("WHERE id = $8 AND version = $9")).
			WithArgs("sent", 1, item.NextAttemptAt, nil, `{"id":"msg_1"}`, now, item.UpdatedAt, item.ID, int64(2)).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, NewPostgreSQLOutboxItemRepository(db).Complete(ctx, item, 2))
		assert.Equal(t, int64(3), item.Version)
	})

	t.Run("CompleteAfterClaimLost", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(regexp.QuoteMeta("WHERE id = $8 AND version = $9")).WillReturnResult(sqlmock.NewResult(0, 0))

		err := NewPostgreSQLOutboxItemRepository(db).Complete(ctx, sampleItem(), 2)
		assert.ErrorIs(t, err, domain.ErrClaimLost)
	})
}

func TestPostgreSQLOutboxItemRepository_Reconciliation(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	staleBefore := now.Add(-6 * time.Hour)

	db, mock := newMockDB(t)
	repo := NewPostgreSQLOutboxItemRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM outbox_items WHERE integration_id = $1 AND status = $2")).
		WithArgs("slack", "queued").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(4))
	mock.ExpectExec(regexp.QuoteMeta("SET next_attempt_at = $1, updated_at = $1, version = version + 1")).
		WithArgs(now, "slack", "queued", staleBefore).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
		WithArgs("slack", "alert:1", "sent").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	count, err := repo.CountQueued(ctx, "slack")
	require.NoError(t, err)
	assert.Equal(t, 4, count)

	rearmed, err := repo.RearmStale(ctx, "slack", staleBefore, now)
	require.NoError(t, err)
	assert.Equal(t, 2, rearmed)

	sent, err := repo.HasSent(ctx, "slack", "alert:1")
	require.NoError(t, err)
	assert.True(t, sent)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLOutboxItemRepository_Create(t *testing.T) {
	ctx := context.Background()
	item := sampleItem()
	idBytes, err := item.ID.MarshalBinary()
	require.NoError(t, err)

	t.Run("Success", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_items")).
			WithArgs(
				idBytes, "resend", "send_email", "signup_request:1", `{"to":"a@example.com"}`, "f0e1",
				"queued", 0, item.NextAttemptAt, nil, nil, int64(1), nil, nil, item.CreatedAt, item.UpdatedAt,
			).
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, NewMySQLOutboxItemRepository(db).Create(ctx, item))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("DuplicateIdempotencyKey", func(t *testing.T) {
		db, mock := newMockDB(t)
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO outbox_items")).
			WillReturnError(&mysql.MySQLError{Number: 1062, Message: "Duplicate entry"})

		err := NewMySQLOutboxItemRepository(db).Create(ctx, item)
		assert.ErrorIs(t, err, domain.ErrDuplicateIdempotencyKey)
	})
}

func TestMySQLOutboxItemRepository_ListDue(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	item := sampleItem()
	idBytes, err := item.ID.MarshalBinary()
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta(
		"AND integration_id NOT IN (?, ?) ORDER BY next_attempt_at ASC, id ASC LIMIT ?",
	)).
		WithArgs("queued", now, now, "twilio", "zapier", 10).
		WillReturnRows(sqlmock.NewRows(itemColumnNames).AddRow(itemRow(idBytes, item)...))

	items, err := NewMySQLOutboxItemRepository(db).ListDue(
		context.Background(),
		domain.DueFilter{ExcludeIntegrations: []string{"twilio", "zapier"}},
		now,
		10,
	)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, item.ID, items[0].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLOutboxItemRepository_ClaimAndComplete(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	lease := now.Add(time.Minute)
	db, mock := newMockDB(t)
	repo := NewMySQLOutboxItemRepository(db)
	item := sampleItem()
	idBytes, err := item.ID.MarshalBinary()
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("SET claimed_until = ?, version = version + 1")).
		WithArgs(lease, idBytes, int64(1), "queued", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("WHERE id = ? AND version = ?")).
		WithArgs(sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), idBytes, int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))

	claimed, err := repo.Claim(ctx, item, now, lease)
	require.NoError(t, err)
	assert.True(t, claimed)

	err = repo.Complete(ctx, item, item.Version)
	assert.ErrorIs(t, err, domain.ErrClaimLost)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOutboxItemRepository_ListQueuedIntegrationIDs(t *testing.T) {
	ctx := context.Background()

	type queuedIDLister interface {
		ListQueuedIntegrationIDs(ctx context.Context) ([]string, error)
	}

	tests := []struct {
		name  string
		query string
		repo  func(db *sql.DB) queuedIDLister
	}{
		{
			name:  "PostgreSQL",
			query: "SELECT DISTINCT integration_id FROM outbox_items WHERE status = $1 ORDER BY integration_id",
			repo:  func(db *sql.DB) queuedIDLister { return NewPostgreSQLOutboxItemRepository(db) },
		},
		{
			name:  "MySQL",
			query: "SELECT DISTINCT integration_id FROM outbox_items WHERE status = ? ORDER BY integration_id",
			repo:  func(db *sql.DB) queuedIDLister { return NewMySQLOutboxItemRepository(db) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectQuery(regexp.QuoteMeta(tt.query)).
				WithArgs("queued").
				WillReturnRows(sqlmock.NewRows([]string{"integration_id"}).AddRow("acme_crm").AddRow("slack"))

			ids, err := tt.repo(db).ListQueuedIntegrationIDs(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"acme_crm", "slack"}, ids)
			assert.NoError(t, mock.ExpectationsWereMet())
		})

		t.Run(tt.name+"_QueryError", func(t *testing.T) {
			db, mock := newMockDB(t)
			mock.ExpectQuery(regexp.QuoteMeta(tt.query)).WillReturnError(sql.ErrConnDone)

			ids, err := tt.repo(db).ListQueuedIntegrationIDs(ctx)
			assert.Nil(t, ids)
			assert.ErrorIs(t, err, sql.ErrConnDone)
		})
	}
}
