package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/Strob0t/IssueForge/internal/adapter/postgres"
	"github.com/Strob0t/IssueForge/internal/config"
	"github.com/Strob0t/IssueForge/internal/port/sessionstore/storetest"
)

// setupStore creates a pgxpool connection, runs all migrations, and returns a
// ready-to-use SessionStore. The pool is closed via t.Cleanup.
func setupStore(t *testing.T) *postgres.SessionStore {
	t.Helper()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}

	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatalf("run migrations: %v", err)
	}

	pool, err := postgres.NewPool(ctx, config.Postgres{DSN: dsn, MaxConns: 2})
	if err != nil {
		t.Fatalf("new pool: %v", err)
	}
	t.Cleanup(func() {
		_, _ = pool.Exec(context.Background(), `DELETE FROM paused_sessions WHERE token LIKE 'tok-%'`)
		pool.Close()
	})
	return postgres.NewSessionStore(pool)
}

func TestSessionStoreCompliance(t *testing.T) {
	storetest.Run(t, setupStore(t))
}

func TestMigrationVersion(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("requires DATABASE_URL")
	}
	ctx := context.Background()
	if err := postgres.RunMigrations(ctx, dsn); err != nil {
		t.Fatal(err)
	}
	v, err := postgres.MigrationVersion(ctx, dsn)
	if err != nil {
		t.Fatal(err)
	}
	if v < 1 {
		t.Errorf("version = %d, want >= 1", v)
	}
}

func TestNewPool_BadDSN(t *testing.T) {
	if _, err := postgres.NewPool(context.Background(), config.Postgres{DSN: "://not a dsn"}); err == nil {
		t.Fatal("expected parse error")
	}
}
