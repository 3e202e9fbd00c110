package cmd

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"xrpl-wash-monitor/internal/config"
	"xrpl-wash-monitor/internal/storage"
	chstore "xrpl-wash-monitor/internal/storage/clickhouse"
	"xrpl-wash-monitor/internal/storage/memory"
	"xrpl-wash-monitor/internal/storage/migrations"
	pgstore "xrpl-wash-monitor/internal/storage/postgres"
	"xrpl-wash-monitor/internal/storage/sqlite"
)

// stores holds the configured storage backends.
type stores struct {
	trades      storage.ClassifiedTradeStore
	activations storage.ActivationStore
	closers     []func() error
}

// openStores connects the configured trade store. Activations go to
// Postgres whenever a Postgres DSN is set, otherwise they live in memory
// and are rebuilt from the stream.
func openStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*stores, error) {
	s := &stores{}
	sc := cfg.Storage

	var pool *pgstore.Pool
	if sc.PostgresDSN != "" {
		p, err := pgstore.NewPool(ctx, sc.PostgresDSN)
		if err != nil {
			return nil, err
		}
		pool = p
		s.closers = append(s.closers, func() error { p.Close(); return nil })
		if sc.Migrate {
			if err := migrations.RunPostgresMigrations(ctx, p); err != nil {
				s.Close()
				return nil, fmt.Errorf("postgres migrations: %w", err)
			}
		}
		s.activations = pgstore.NewActivationStore(p)
	}

	switch sc.Backend {
	case config.BackendMemory:
		s.trades = memory.NewClassifiedTradeStore()
	case config.BackendPostgres:
		s.trades = pgstore.NewClassifiedTradeStore(pool)
	case config.BackendClickHouse:
		conn, err := openClickHouse(ctx, sc)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, conn.Close)
		s.trades = chstore.NewClassifiedTradeStore(conn)
	case config.BackendSQLite:
		db, err := sqlite.Open(ctx, sc.SQLitePath)
		if err != nil {
			s.Close()
			return nil, err
		}
		s.closers = append(s.closers, db.Close)
		s.trades = db
	default:
		return nil, fmt.Errorf("unknown storage backend %q", sc.Backend)
	}

	if s.activations == nil {
		log.Info("activations kept in memory; set storage.postgres_dsn to persist them")
		s.activations = memory.NewActivationStore()
	}

	log.Info("storage ready", zap.String("backend", sc.Backend), zap.Bool("persistent_activations", pool != nil))
	return s, nil
}

func openClickHouse(ctx context.Context, sc config.StorageConfig) (*chstore.Conn, error) {
	if sc.Migrate {
		return migrations.RunClickhouseMigrations(ctx, sc.ClickHouseDSN)
	}
	return chstore.NewConn(ctx, sc.ClickHouseDSN)
}

// Close releases every backend in reverse open order.
func (s *stores) Close() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		errs = append(errs, s.closers[i]())
	}
	s.closers = nil
	return errors.Join(errs...)
}
