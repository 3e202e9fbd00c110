package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// RunSQLiteMigrations applies all embedded SQLite files in lexical order.
func RunSQLiteMigrations(ctx context.Context, db *sql.DB) error {
	files, err := load(SQLiteFS, "sqlite")
	if err != nil {
		return err
	}

	for _, m := range files {
		// go-sqlite3 executes every statement in a multi-statement Exec.
		if _, err := db.ExecContext(ctx, m.sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.name, err)
		}
	}
	return nil
}
