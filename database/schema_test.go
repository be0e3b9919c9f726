package database

import (
	"context"
	"errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"
)

type recordingExecer struct {
	stmts  []string
	failOn int
}

func (r *recordingExecer) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	r.stmts = append(r.stmts, sql)
	if r.failOn != 0 && len(r.stmts) == r.failOn {
		return pgconn.CommandTag{}, errors.New("permission denied")
	}
	return pgconn.NewCommandTag("CREATE TABLE"), nil
}

func TestEnsureSchemaRunsEveryStatement(t *testing.T) {
	db := &recordingExecer{}
	require.NoError(t, EnsureSchema(context.Background(), db))
	require.Equal(t, SchemaStatements, db.stmts)
	for _, stmt := range db.stmts {
		require.Contains(t, stmt, "IF NOT EXISTS")
	}
}

func TestEnsureSchemaStopsOnFailure(t *testing.T) {
	db := &recordingExecer{failOn: 2}
	err := EnsureSchema(context.Background(), db)
	require.ErrorContains(t, err, "permission denied")
	require.Len(t, db.stmts, 2)
}

func TestEnsureSchemaAgainstPostgres(t *testing.T) {
	if os.Getenv("RUN_DB_INTEGRATION_TESTS") != "1" {
		t.Skip("set RUN_DB_INTEGRATION_TESTS=1 to run database checks")
	}
	dsn := os.Getenv("POSTGRES_DSN")
	if strings.TrimSpace(dsn) == "" {
		t.Skip("POSTGRES_DSN not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := NewPostgresPool(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()

	require.NoError(t, EnsureSchema(ctx, pool))
	require.NoError(t, EnsureSchema(ctx, pool), "schema bootstrap must be idempotent")
}
