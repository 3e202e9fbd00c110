package postgres

import (
	"context"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
)

// migrationScripts lists the schema files in apply order. They are read
// from disk because the migrations package imports this one.
func migrationScripts(t *testing.T) []string {
	t.Helper()
	scripts, err := filepath.Glob(filepath.Join("..", "migrations", "postgres", "*.sql"))
	require.NoError(t, err)
	require.NotEmpty(t, scripts, "no postgres migrations found")
	sort.Strings(scripts)
	return scripts
}

// newTestPool starts a throwaway PostgreSQL with the schema applied as
// init scripts. Skipped with -short.
func newTestPool(t *testing.T) *Pool {
	t.Helper()
	if testing.Short() {
		t.Skip("integration test needs docker")
	}
	ctx := context.Background()

	container, err := tcpostgres.Run(ctx, "postgres:16-alpine",
		tcpostgres.WithDatabase("xwm"),
		tcpostgres.WithUsername("xwm"),
		tcpostgres.WithPassword("xwm"),
		tcpostgres.WithInitScripts(migrationScripts(t)...),
		tcpostgres.BasicWaitStrategies(),
	)
	testcontainers.CleanupContainer(t, container)
	require.NoError(t, err)

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := NewPool(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}
