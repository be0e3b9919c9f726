// Package contracts stores uploaded contract documents: metadata in Postgres,
// bytes in blob storage.
package contracts

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var ErrNotFound = errors.New("contract record not found")

type Record struct {
	ID          uuid.UUID `json:"id"`
	Filename    string    `json:"filename"`
	StorageKey  string    `json:"storage_key"`
	ContentType string    `json:"content_type"`
	SizeBytes   int64     `json:"size_bytes"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

type Repository interface {
	Insert(ctx context.Context, rec Record) error
	Get(ctx context.Context, id uuid.UUID) (Record, error)
	List(ctx context.Context, limit int) ([]Record, error)
}

// dbtx is satisfied by *pgxpool.Pool and pgx.Tx.
type dbtx interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresRepository struct {
	db dbtx
}

func NewPostgresRepository(db dbtx) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Insert(ctx context.Context, rec Record) error {
	if _, err := r.db.Exec(ctx, `
		INSERT INTO contract_records (id, filename, storage_key, content_type, size_bytes, uploaded_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rec.ID, rec.Filename, rec.StorageKey, rec.ContentType, rec.SizeBytes, rec.UploadedAt); err != nil {
		return fmt.Errorf("insert contract record: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	var rec Record
	err := r.db.QueryRow(ctx, `
		SELECT id, filename, storage_key, content_type, size_bytes, uploaded_at
		FROM contract_records WHERE id = $1
	`, id).Scan(&rec.ID, &rec.Filename, &rec.StorageKey, &rec.ContentType, &rec.SizeBytes, &rec.UploadedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("query contract record: %w", err)
	}
	return rec, nil
}

func (r *PostgresRepository) List(ctx context.Context, limit int) ([]Record, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, filename, storage_key, content_type, size_bytes, uploaded_at
		FROM contract_records ORDER BY uploaded_at DESC, filename LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list contract records: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Record, error) {
		var rec Record
		err := row.Scan(&rec.ID, &rec.Filename, &rec.StorageKey, &rec.ContentType, &rec.SizeBytes, &rec.UploadedAt)
		return rec, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan contract records: %w", err)
	}
	return records, nil
}
