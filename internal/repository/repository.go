package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/lloydcotten/common-mq/internal/models"
)

const schema = `
	CREATE SCHEMA IF NOT EXISTS common_mq;
	CREATE TABLE IF NOT EXISTS common_mq.messages (
		id         BIGSERIAL PRIMARY KEY,
		uuid       UUID NOT NULL UNIQUE,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		acked_at   TIMESTAMPTZ,
		provider   TEXT NOT NULL,
		queue_name TEXT NOT NULL,
		handle     TEXT,
		payload    JSONB
	);
	CREATE INDEX IF NOT EXISTS messages_handle_idx ON common_mq.messages (handle);
`

var ErrNotFound = errors.New("journal entry not found")

// Repository records consumed messages in Postgres
type Repository struct {
	db  *sql.DB
	log *zap.SugaredLogger
}

// NewRepository creates a new repository instance
func NewRepository(db *sql.DB, log *zap.SugaredLogger) *Repository {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Repository{db: db, log: log}
}

// EnsureSchema creates the journal table if it does not exist
func (r *Repository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, schema)
	return err
}

// Record inserts entry and returns it with its generated fields set
func (r *Repository) Record(ctx context.Context, entry models.JournalEntry) (models.JournalEntry, error) {
	if entry.UUID == "" {
		entry.UUID = uuid.NewString()
	}
	query := `
		INSERT INTO common_mq.messages (uuid, provider, queue_name, handle, payload)
		VALUES ($1, $2, $3, NULLIF($4, ''), $5)
		RETURNING id, created_at
	`
	err := r.db.QueryRowContext(ctx, query,
		entry.UUID, entry.Provider, entry.QueueName, entry.Handle, entry.Payload,
	).Scan(&entry.ID, &entry.CreatedAt)
	if err != nil {
		return models.JournalEntry{}, err
	}

	r.log.Debugw("recorded message", "id", entry.ID, "queue", entry.QueueName)
	return entry, nil
}

// MarkAcked sets acked_at on the entries received with handle
func (r *Repository) MarkAcked(ctx context.Context, handle string) error {
	query := `
		UPDATE common_mq.messages
		SET acked_at = now()
		WHERE handle = $1 AND acked_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, handle)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListRecent returns the latest entries, newest first
func (r *Repository) ListRecent(ctx context.Context, limit int) ([]models.JournalEntry, error) {
	query := `
		SELECT id, uuid, created_at, acked_at, provider, queue_name, handle, payload
		FROM common_mq.messages
		ORDER BY id DESC
		LIMIT $1
	`
	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []models.JournalEntry
	for rows.Next() {
		var e models.JournalEntry
		var ackedAt sql.NullTime
		var handle sql.NullString

		err := rows.Scan(
			&e.ID, &e.UUID, &e.CreatedAt, &ackedAt,
			&e.Provider, &e.QueueName, &handle, &e.Payload,
		)
		if err != nil {
			return nil, err
		}

		if ackedAt.Valid {
			e.AckedAt = &ackedAt.Time
		}
		e.Handle = handle.String

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	r.log.Debugw("loaded journal entries", "count", len(entries))
	return entries, nil
}
