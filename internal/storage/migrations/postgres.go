package migrations

import (
	"context"
	"fmt"

	"xrpl-wash-monitor/internal/storage/postgres"
)

// RunPostgresMigrations applies all embedded SQL files in lexical order.
// Migrations are expected to be idempotent.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool) error {
	files, err := load(PostgresFS, "postgres")
	if err != nil {
		return err
	}

	for _, m := range files {
		if _, err := pool.Exec(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}
