package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"xrpl-wash-monitor/internal/domain"
	"xrpl-wash-monitor/internal/storage"
)

// ClassifiedTradeStore implements storage.ClassifiedTradeStore using PostgreSQL.
type ClassifiedTradeStore struct {
	pool *Pool
}

// NewClassifiedTradeStore creates a new ClassifiedTradeStore.
func NewClassifiedTradeStore(pool *Pool) *ClassifiedTradeStore {
	return &ClassifiedTradeStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ClassifiedTradeStore = (*ClassifiedTradeStore)(nil)

const classifiedTradeColumns = `
	tx_hash, ts, sender, receiver,
	asset_currency, asset_issuer, asset_value,
	volume, fee, tx_type, ledger_date, sequence, ledger_index,
	memos, flags, canceled, balance_sender, balance_receiver, signer_key_type,
	label, rule, classified_at`

// Insert adds a classified trade. Returns ErrDuplicateKey if tx_hash exists.
func (s *ClassifiedTradeStore) Insert(ctx context.Context, ct *domain.ClassifiedTrade) error {
	if err := storage.ValidateClassifiedTrade(ct); err != nil {
		return err
	}

	memos, err := json.Marshal(memosOrEmpty(ct.Trade.Memos))
	if err != nil {
		return fmt.Errorf("encode memos: %w", err)
	}

	query := `
		INSERT INTO classified_trades (` + classifiedTradeColumns + `
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7,
			$8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19,
			$20, $21, $22
		)
	`

	t := &ct.Trade
	_, err = s.pool.Exec(ctx, query,
		t.TxHash, t.Timestamp, t.Sender, t.Receiver,
		t.Asset.Currency, t.Asset.Issuer, t.Asset.Value,
		t.Volume, t.Fee, t.TxType, t.Date, t.Sequence, t.LedgerIndex,
		memos, int64(t.Flags), t.Canceled, t.BalanceChanges.Sender, t.BalanceChanges.Receiver, t.SignerKeyType,
		string(ct.Classification.Label), string(ct.Classification.Rule), ct.ClassifiedAt,
	)
	return mapError("insert classified trade", err)
}

// GetByHash retrieves a classified trade by tx hash. Returns ErrNotFound if not exists.
func (s *ClassifiedTradeStore) GetByHash(ctx context.Context, txHash string) (*domain.ClassifiedTrade, error) {
	query := `SELECT ` + classifiedTradeColumns + ` FROM classified_trades WHERE tx_hash = $1`

	row := s.pool.QueryRow(ctx, query, txHash)
	ct, err := scanClassifiedTrade(row)
	if err != nil {
		return nil, mapError("get classified trade by hash", err)
	}
	return ct, nil
}

// Summary aggregates label counts and the topN most flagged pairs.
func (s *ClassifiedTradeStore) Summary(ctx context.Context, topN int) (*storage.Summary, error) {
	sum := &storage.Summary{ByRule: make(map[domain.RuleID]int64)}

	rows, err := s.pool.Query(ctx, `
		SELECT label, rule, COUNT(*)
		FROM classified_trades
		GROUP BY label, rule
	`)
	if err != nil {
		return nil, mapError("summarize labels", err)
	}
	for rows.Next() {
		var label, rule string
		var n int64
		if err := rows.Scan(&label, &rule, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan label count: %w", err)
		}
		if domain.Label(label) == domain.LabelSuspicious {
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
	pairRows, err := s.pool.Query(ctx, `
		SELECT sender, receiver, COUNT(*) AS n
		FROM classified_trades
		WHERE label = $1
		GROUP BY sender, receiver
		ORDER BY n DESC, sender ASC, receiver ASC
		LIMIT $2
	`, string(domain.LabelSuspicious), limit)
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

func scanClassifiedTrade(row pgx.Row) (*domain.ClassifiedTrade, error) {
	var (
		ct    domain.ClassifiedTrade
		memos []byte
		flags int64
		label string
		rule  string
	)
	t := &ct.Trade

	err := row.Scan(
		&t.TxHash, &t.Timestamp, &t.Sender, &t.Receiver,
		&t.Asset.Currency, &t.Asset.Issuer, &t.Asset.Value,
		&t.Volume, &t.Fee, &t.TxType, &t.Date, &t.Sequence, &t.LedgerIndex,
		&memos, &flags, &t.Canceled, &t.BalanceChanges.Sender, &t.BalanceChanges.Receiver, &t.SignerKeyType,
		&label, &rule, &ct.ClassifiedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(memos) > 0 {
		if err := json.Unmarshal(memos, &t.Memos); err != nil {
			return nil, fmt.Errorf("decode memos: %w", err)
		}
	}
	t.Flags = uint32(flags)
	ct.Classification = domain.Classification{Label: domain.Label(label), Rule: domain.RuleID(rule)}
	return &ct, nil
}

func memosOrEmpty(m []domain.Memo) []domain.Memo {
	if m == nil {
		return []domain.Memo{}
	}
	return m
}
