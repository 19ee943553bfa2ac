package testdb

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/testcontainers/testcontainers-go"

	tcpg "github.com/mpapenbr/racestart-manager-go/testsupport/tcpostgres"
)

// InitTestDB returns a pool for an empty test database.
// The test is skipped if neither TESTDB_URL is set nor a container provider is available.
func InitTestDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	var pool *pgxpool.Pool
	var err error
	if os.Getenv("TESTDB_URL") != "" {
		pool, err = tcpg.SetupExternalTestDB(context.Background())
	} else {
		testcontainers.SkipIfProviderIsNotHealthy(t)
		pool, err = tcpg.SetupTestDB(context.Background())
	}
	if err != nil {
		t.Fatalf("initTestDb: %v", err)
	}
	t.Cleanup(pool.Close)
	tcpg.ClearAllTables(pool)
	return pool
}
