package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"xrpl-wash-monitor/internal/storage"
)

// Pool wraps pgxpool.Pool for dependency injection.
type Pool struct {
	*pgxpool.Pool
}

// NewPool creates a new Postgres connection pool.
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	// Verify connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Pool{Pool: pool}, nil
}

// Close closes the connection pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// PostgreSQL error codes
const (
	pgErrUniqueViolation      = "23505" // unique_violation
	pgErrSerializationFailure = "40001" // serialization_failure
	pgErrDeadlockDetected     = "40P01" // deadlock_detected
	pgErrAdminShutdown        = "57P01" // admin_shutdown
	pgErrCannotConnectNow     = "57P03" // cannot_connect_now
	pgClassConnection         = "08"    // connection_exception class
)

// isDuplicateKeyError checks if error is a unique constraint violation.
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgErrUniqueViolation
	}

	return false
}

// isTransientError checks if the server or connection failure may clear on retry.
func isTransientError(err error) bool {
	if err == nil {
		return false
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgErrSerializationFailure, pgErrDeadlockDetected, pgErrAdminShutdown, pgErrCannotConnectNow:
			return true
		}
		return strings.HasPrefix(pgErr.Code, pgClassConnection)
	}

	var connErr *pgconn.ConnectError
	return errors.As(err, &connErr)
}

// isNotFoundError checks if error indicates no rows found.
func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// mapError converts driver errors into storage sentinels, keeping the
// original error in the chain.
func mapError(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case isDuplicateKeyError(err):
		return storage.ErrDuplicateKey
	case isNotFoundError(err):
		return storage.ErrNotFound
	case isTransientError(err):
		return fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
