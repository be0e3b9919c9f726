package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is satisfied by *pgxpool.Pool, pgx.Tx and *pgx.Conn.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// SchemaStatements creates the contract record and conversation thread
// tables. Every statement is idempotent.
var SchemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS contract_records (
		id UUID PRIMARY KEY,
		filename TEXT NOT NULL,
		storage_key TEXT UNIQUE NOT NULL,
		content_type TEXT NOT NULL,
		size_bytes BIGINT NOT NULL,
		uploaded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	"CREATE INDEX IF NOT EXISTS idx_contract_records_uploaded ON contract_records(uploaded_at DESC)",
	"CREATE INDEX IF NOT EXISTS idx_contract_records_filename ON contract_records(filename)",
	`CREATE TABLE IF NOT EXISTS conversation_threads (
		thread_id TEXT PRIMARY KEY,
		use_case TEXT NOT NULL,
		turns INT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		last_used_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	"CREATE INDEX IF NOT EXISTS idx_conversation_threads_use_case ON conversation_threads(use_case, last_used_at DESC)",
}

func EnsureSchema(ctx context.Context, db Execer) error {
	for _, stmt := range SchemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("execute schema statement: %w", err)
		}
	}
	return nil
}
