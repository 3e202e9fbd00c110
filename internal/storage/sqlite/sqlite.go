// Package sqlite stores classified trades in a local SQLite file laid out
// like the wash_trading.db trades table.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/mattn/go-sqlite3"

	"xrpl-wash-monitor/internal/domain"
	"xrpl-wash-monitor/internal/storage"
	"xrpl-wash-monitor/internal/storage/migrations"
)

// flag column values.
const (
	flagNormal     = "normal_trade"
	flagSuspicious = "suspicious"
)

// ClassifiedTradeStore implements storage.ClassifiedTradeStore on SQLite.
// Canceled and SignerKeyType have no column and are not persisted.
type ClassifiedTradeStore struct {
	db *sql.DB
}

// Compile-time interface check.
var _ storage.ClassifiedTradeStore = (*ClassifiedTradeStore)(nil)

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*ClassifiedTradeStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if err := migrations.RunSQLiteMigrations(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &ClassifiedTradeStore{db: db}, nil
}

// Close closes the database.
func (s *ClassifiedTradeStore) Close() error {
	return s.db.Close()
}

// Insert adds a classified trade. Returns ErrDuplicateKey if tx_hash exists.
func (s *ClassifiedTradeStore) Insert(ctx context.Context, ct *domain.ClassifiedTrade) error {
	if err := storage.ValidateClassifiedTrade(ct); err != nil {
		return err
	}

	t := &ct.Trade
	asset, err := json.Marshal(t.Asset)
	if err != nil {
		return fmt.Errorf("encode asset: %w", err)
	}
	memos := []domain.Memo{}
	if t.Memos != nil {
		memos = t.Memos
	}
	memosJSON, err := json.Marshal(memos)
	if err != nil {
		return fmt.Errorf("encode memos: %w", err)
	}
	balance, err := json.Marshal(t.BalanceChanges)
	if err != nil {
		return fmt.Errorf("encode balance changes: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO trades (
			timestamp, sender, receiver, asset, volume, txn_fee, flag,
			tx_hash, tx_type, date, sequence, memos, flags, balance_changes,
			rule, ledger_index, classified_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strconv.FormatInt(t.Timestamp, 10), t.Sender, t.Receiver, string(asset), t.Volume, t.Fee, flagFor(ct.Classification),
		t.TxHash, t.TxType, strconv.FormatInt(t.Date, 10), t.Sequence, string(memosJSON), int64(t.Flags), string(balance),
		string(ct.Classification.Rule), t.LedgerIndex, ct.ClassifiedAt,
	)
	return mapError("insert trade", err)
}

// GetByHash retrieves a classified trade by tx hash. Returns ErrNotFound if not exists.
func (s *ClassifiedTradeStore) GetByHash(ctx context.Context, txHash string) (*domain.ClassifiedTrade, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT timestamp, sender, receiver, asset, volume, txn_fee, flag,
			tx_hash, tx_type, date, sequence, memos, flags, balance_changes,
			rule, ledger_index, classified_at
		FROM trades WHERE tx_hash = ?`, txHash)

	var (
		ct                    domain.ClassifiedTrade
		ts, date              string
		asset, memos, balance string
		flag, rule            string
		flags                 int64
	)
	t := &ct.Trade
	err := row.Scan(
		&ts, &t.Sender, &t.Receiver, &asset, &t.Volume, &t.Fee, &flag,
		&t.TxHash, &t.TxType, &date, &t.Sequence, &memos, &flags, &balance,
		&rule, &t.LedgerIndex, &ct.ClassifiedAt,
	)
	if err != nil {
		return nil, mapError("get trade by hash", err)
	}

	if t.Timestamp, err = strconv.ParseInt(ts, 10, 64); err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
	}
	if t.Date, err = strconv.ParseInt(date, 10, 64); err != nil {
		return nil, fmt.Errorf("parse date %q: %w", date, err)
	}
	if err := json.Unmarshal([]byte(asset), &t.Asset); err != nil {
		return nil, fmt.Errorf("decode asset: %w", err)
	}
	if err := json.Unmarshal([]byte(memos), &t.Memos); err != nil {
		return nil, fmt.Errorf("decode memos: %w", err)
	}
	if err := json.Unmarshal([]byte(balance), &t.BalanceChanges); err != nil {
		return nil, fmt.Errorf("decode balance changes: %w", err)
	}
	t.Flags = uint32(flags)
	ct.Classification = domain.Normal
	if flag == flagSuspicious {
		ct.Classification = domain.Suspicious(domain.RuleID(rule))
	}
	return &ct, nil
}

// Summary aggregates label counts and the topN most flagged pairs.
func (s *ClassifiedTradeStore) Summary(ctx context.Context, topN int) (*storage.Summary, error) {
	sum := &storage.Summary{ByRule: make(map[domain.RuleID]int64)}

	rows, err := s.db.QueryContext(ctx, `SELECT flag, rule, COUNT(*) FROM trades GROUP BY flag, rule`)
	if err != nil {
		return nil, mapError("summarize labels", err)
	}
	for rows.Next() {
		var flag, rule string
		var n int64
		if err := rows.Scan(&flag, &rule, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan label count: %w", err)
		}
		if flag == flagSuspicious {
			sum.Suspicious += n
			sum.ByRule[domain.RuleID(rule)] += n
		} else {
			sum.Normal += n
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate label counts", err)
	}

	limit := topN
	if limit <= 0 {
		limit = 10
	}
	pairRows, err := s.db.QueryContext(ctx, `
		SELECT sender, receiver, COUNT(*) AS n
		FROM trades
		WHERE flag = ?
		GROUP BY sender, receiver
		ORDER BY n DESC, sender ASC, receiver ASC
		LIMIT ?`, flagSuspicious, limit)
	if err != nil {
		return nil, mapError("summarize pairs", err)
	}
	defer pairRows.Close()

	for pairRows.Next() {
		var pc storage.PairCount
		if err := pairRows.Scan(&pc.Sender, &pc.Receiver, &pc.Count); err != nil {
			return nil, fmt.Errorf("scan pair count: %w", err)
		}
		sum.TopPairs = append(sum.TopPairs, pc)
	}
	if err := pairRows.Err(); err != nil {
		return nil, mapError("iterate pair counts", err)
	}
	return sum, nil
}

func flagFor(c domain.Classification) string {
	if c.IsSuspicious() {
		return flagSuspicious
	}
	return flagNormal
}

func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch {
		case sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique,
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey:
			return storage.ErrDuplicateKey
		case sqliteErr.Code == sqlite3.ErrBusy, sqliteErr.Code == sqlite3.ErrLocked:
			return fmt.Errorf("%s: %w: %w", op, storage.ErrUnavailable, err)
		}
	}
	return fmt.Errorf("%s: %w", op, err)
}
