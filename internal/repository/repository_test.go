package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lloydcotten/common-mq/internal/models"
)

var entryColumns = []string{
	"id", "uuid", "created_at", "acked_at", "provider", "queue_name", "handle", "payload",
}

func TestNewRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db, nil)
	assert.NotNil(t, repo)
	assert.Equal(t, db, repo.db)
	assert.NotNil(t, repo.log)
}

func TestRepository_EnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS common_mq.messages`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, NewRepository(db, nil).EnsureSchema(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_Record(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db, nil)
	ctx := context.Background()

	t.Run("successful insert", func(t *testing.T) {
		now := time.Now()
		mock.ExpectQuery(`INSERT INTO common_mq.messages`).
			WithArgs(sqlmock.AnyArg(), "sqs", "orders", "handle-1", []byte(`{"id":1}`)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(42, now))

		entry, err := repo.Record(ctx, models.JournalEntry{
			Provider:  "sqs",
			QueueName: "orders",
			Handle:    "handle-1",
			Payload:   models.Payload{Value: map[string]any{"id": 1}},
		})
		require.NoError(t, err)
		assert.Equal(t, int64(42), entry.ID)
		assert.Equal(t, now, entry.CreatedAt)
		assert.NotEmpty(t, entry.UUID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("keeps given UUID", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO common_mq.messages`).
			WithArgs("fixed-uuid", "amqp", "q", "", []byte(`"text"`)).
			WillReturnRows(sqlmock.NewRows([]string{"id", "created_at"}).AddRow(1, time.Now()))

		entry, err := repo.Record(ctx, models.JournalEntry{
			UUID:      "fixed-uuid",
			Provider:  "amqp",
			QueueName: "q",
			Payload:   models.Payload{Value: "text"},
		})
		require.NoError(t, err)
		assert.Equal(t, "fixed-uuid", entry.UUID)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectQuery(`INSERT INTO common_mq.messages`).
			WillReturnError(sql.ErrConnDone)

		_, err := repo.Record(ctx, models.JournalEntry{Provider: "sqs", QueueName: "orders"})
		assert.ErrorIs(t, err, sql.ErrConnDone)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_MarkAcked(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db, nil)
	ctx := context.Background()

	t.Run("marks entry", func(t *testing.T) {
		mock.ExpectExec(`UPDATE common_mq.messages`).
			WithArgs("handle-1").
			WillReturnResult(sqlmock.NewResult(0, 1))

		require.NoError(t, repo.MarkAcked(ctx, "handle-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("unknown handle", func(t *testing.T) {
		mock.ExpectExec(`UPDATE common_mq.messages`).
			WithArgs("missing").
			WillReturnResult(sqlmock.NewResult(0, 0))

		assert.ErrorIs(t, repo.MarkAcked(ctx, "missing"), ErrNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectExec(`UPDATE common_mq.messages`).
			WillReturnError(sql.ErrConnDone)

		assert.Error(t, repo.MarkAcked(ctx, "handle-1"))
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestRepository_ListRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewRepository(db, nil)
	ctx := context.Background()

	t.Run("successful list", func(t *testing.T) {
		now := time.Now()
		rows := sqlmock.NewRows(entryColumns).
			AddRow(2, "uuid2", now, now, "sqs", "orders", "h2", []byte(`{"n":2}`)).
			AddRow(1, "uuid1", now, nil, "sqs", "orders", nil, []byte(`"plain"`))

		mock.ExpectQuery(`SELECT id, uuid, created_at, acked_at`).
			WithArgs(10).
			WillReturnRows(rows)

		entries, err := repo.ListRecent(ctx, 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, int64(2), entries[0].ID)
		assert.NotNil(t, entries[0].AckedAt)
		assert.Equal(t, "h2", entries[0].Handle)
		assert.Equal(t, map[string]any{"n": float64(2)}, entries[0].Payload.Value)
		assert.Nil(t, entries[1].AckedAt)
		assert.Empty(t, entries[1].Handle)
		assert.Equal(t, "plain", entries[1].Payload.Value)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("empty result", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, uuid, created_at, acked_at`).
			WillReturnRows(sqlmock.NewRows(entryColumns))

		entries, err := repo.ListRecent(ctx, 5)
		require.NoError(t, err)
		assert.Len(t, entries, 0)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("database error", func(t *testing.T) {
		mock.ExpectQuery(`SELECT id, uuid, created_at, acked_at`).
			WillReturnError(sql.ErrConnDone)

		_, err := repo.ListRecent(ctx, 5)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("scan error", func(t *testing.T) {
		rows := sqlmock.NewRows(entryColumns).
			AddRow("not-an-int", "uuid", time.Now(), nil, "sqs", "orders", nil, nil)
		mock.ExpectQuery(`SELECT id, uuid, created_at, acked_at`).
			WillReturnRows(rows)

		_, err := repo.ListRecent(ctx, 5)
		assert.Error(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}
