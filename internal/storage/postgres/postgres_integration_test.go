//go:build integration

package postgres

import (
	"context"
	"os"
	"testing"
	"time"

	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"

	"github.com/AccountantBot/coordinator/internal/storage/storetest"
)

// startPostgres returns a DSN for a throwaway database. TEST_DATABASE_URL
// reuses an existing server instead of starting a container.
func startPostgres(t *testing.T) string {
	t.Helper()
	if dsn := os.Getenv("TEST_DATABASE_URL"); dsn != "" {
		return dsn
	}

	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"postgres:16",
		tcpostgres.WithDatabase("coordinator"),
		tcpostgres.WithUsername("coordinator"),
		tcpostgres.WithPassword("coordinator"),
		tcpostgres.BasicWaitStrategies(),
	)
	if err != nil {
		t.Fatalf("start postgres: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(context.Background()) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatalf("connection string: %v", err)
	}
	return dsn
}

func TestPostgresStore_Integration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store, err := New(ctx, startPostgres(t))
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer store.Close()

	// Start from empty tables when reusing a server.
	if _, err := store.pool.Exec(ctx, "TRUNCATE split_approvals, split_items, settlement_attempts, splits, users"); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	storetest.Run(t, store)
}
