// Package threads persists which use-case owns each conversation thread.
package threads

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type Thread struct {
	ThreadID   string    `json:"thread_id"`
	UseCase    string    `json:"use_case"`
	Turns      int       `json:"turns"`
	CreatedAt  time.Time `json:"created_at"`
	LastUsedAt time.Time `json:"last_used_at"`
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresLedger stores thread ownership in the conversation_threads table.
type PostgresLedger struct {
	db querier
}

func NewPostgresLedger(db querier) *PostgresLedger {
	return &PostgresLedger{db: db}
}

func (l *PostgresLedger) Owner(ctx context.Context, threadID string) (string, bool, error) {
	t, err := l.Get(ctx, threadID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return t.UseCase, true, nil
}

func (l *PostgresLedger) Get(ctx context.Context, threadID string) (Thread, error) {
	var t Thread
	err := l.db.QueryRow(ctx, `
		SELECT thread_id, use_case, turns, created_at, last_used_at
		FROM conversation_threads WHERE thread_id = $1
	`, threadID).Scan(&t.ThreadID, &t.UseCase, &t.Turns, &t.CreatedAt, &t.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Thread{}, err
	}
	if err != nil {
		return Thread{}, fmt.Errorf("query thread %s: %w", threadID, err)
	}
	return t, nil
}

// Record counts a turn. The first use-case to record a thread keeps it.
func (l *PostgresLedger) Record(ctx context.Context, threadID, useCase string) error {
	if _, err := l.db.Exec(ctx, `
		INSERT INTO conversation_threads (thread_id, use_case, turns)
		VALUES ($1, $2, 1)
		ON CONFLICT (thread_id) DO UPDATE
		SET turns = conversation_threads.turns + 1, last_used_at = NOW()
	`, threadID, useCase); err != nil {
		return fmt.Errorf("record thread %s: %w", threadID, err)
	}
	return nil
}
