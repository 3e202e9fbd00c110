package migrations

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	chstore "xrpl-wash-monitor/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the DSN's database if needed, applies
// the embedded schema and returns a connection to that database.
func RunClickhouseMigrations(ctx context.Context, dsn string) (conn *chstore.Conn, err error) {
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}
	if err := createDatabase(ctx, dsn, dbName); err != nil {
		return nil, err
	}

	files, err := load(ClickhouseFS, "clickhouse")
	if err != nil {
		return nil, err
	}

	conn, err = chstore.NewConn(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse %s: %w", dbName, err)
	}
	defer func() {
		if err != nil {
			_ = conn.Close()
			conn = nil
		}
	}()

	for _, m := range files {
		if err := validateNoSemicolonInStrings(m.sql); err != nil {
			return nil, fmt.Errorf("validate migration %s: %w", m.name, err)
		}
		// The native protocol runs one statement per Exec.
		for i, stmt := range splitStatements(m.sql) {
			if err := conn.Exec(ctx, stmt); err != nil {
				return nil, fmt.Errorf("apply migration %s statement %d: %w", m.name, i+1, err)
			}
		}
	}
	return conn, nil
}

func createDatabase(ctx context.Context, dsn, name string) error {
	server, err := chstore.NewServerConn(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect clickhouse server: %w", err)
	}
	defer server.Close()

	if err := server.Exec(ctx, "CREATE DATABASE IF NOT EXISTS `"+name+"`"); err != nil {
		return fmt.Errorf("create database %s: %w", name, err)
	}
	return nil
}

// splitStatements splits SQL on semicolons after dropping "--" comment lines.
// It does not understand string literals; validateNoSemicolonInStrings
// rejects files that would confuse it.
func splitStatements(input string) []string {
	var filtered []string
	for _, line := range strings.Split(input, "\n") {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "--") {
			continue
		}
		filtered = append(filtered, line)
	}

	var stmts []string
	for _, part := range strings.Split(strings.Join(filtered, "\n"), ";") {
		if stmt := strings.TrimSpace(part); stmt != "" {
			stmts = append(stmts, stmt)
		}
	}
	return stmts
}

// validateNoSemicolonInStrings rejects a semicolon inside a single-quoted literal.
func validateNoSemicolonInStrings(sql string) error {
	inString := false
	for i := 0; i < len(sql); i++ {
		switch sql[i] {
		case '\'':
			if i+1 < len(sql) && sql[i+1] == '\'' {
				i++
				continue
			}
			inString = !inString
		case ';':
			if inString {
				return fmt.Errorf("semicolon inside string literal at offset %d", i)
			}
		}
	}
	return nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	switch {
	case db == "":
		return "", fmt.Errorf("clickhouse dsn missing database")
	case strings.ContainsAny(db, "`/ "):
		return "", fmt.Errorf("invalid clickhouse database name %q", db)
	}
	return db, nil
}
