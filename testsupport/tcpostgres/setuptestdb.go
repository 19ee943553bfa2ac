package tcpostgres

import (
	"context"
	"fmt"
	"os"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mpapenbr/racestart-manager-go/pkg/db/migrate"
	database "github.com/mpapenbr/racestart-manager-go/pkg/db/postgres"
)

// SetupTestDB starts (or reuses) a postgres container and returns a pool for the
// migrated test database.
func SetupTestDB(ctx context.Context) (*pgxpool.Pool, error) {
	container, err := SetupPostgres(ctx, WithName("racestart-manager-test"))
	if err != nil {
		return nil, err
	}
	dbURL, err := container.ConnectionString(ctx)
	if err != nil {
		return nil, err
	}
	return setupWithURL(ctx, dbURL)
}

// SetupExternalTestDB uses the database referenced by TESTDB_URL.
func SetupExternalTestDB(ctx context.Context) (*pgxpool.Pool, error) {
	return setupWithURL(ctx, os.Getenv("TESTDB_URL"))
}

func setupWithURL(ctx context.Context, dbURL string) (*pgxpool.Pool, error) {
	if _, err := migrate.MigrateDB(dbURL); err != nil {
		return nil, err
	}
	return database.InitWithURL(ctx, dbURL)
}

//nolint:errcheck // testsetup
func ClearAllTables(pool *pgxpool.Pool) {
	ctx := context.Background()
	for _, table := range []string{"entry", "race", "fleet_dinghy_class", "dinghy_class", "fleet"} {
		pool.Exec(ctx, fmt.Sprintf("delete from %s", table))
	}
}
