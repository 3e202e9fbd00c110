package clickhouse

import (
	"context"
	"encoding/json"
	"fmt"

	"xrpl-wash-monitor/internal/domain"
	"xrpl-wash-monitor/internal/storage"
)

// ClassifiedTradeStore implements storage.ClassifiedTradeStore using ClickHouse.
type ClassifiedTradeStore struct {
	conn *Conn
}

// NewClassifiedTradeStore creates a new ClassifiedTradeStore.
func NewClassifiedTradeStore(conn *Conn) *ClassifiedTradeStore {
	return &ClassifiedTradeStore{conn: conn}
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
	return s.InsertBulk(ctx, []*domain.ClassifiedTrade{ct})
}

// InsertBulk adds multiple classified trades in one batch.
// Fails the entire batch on any duplicate tx_hash.
func (s *ClassifiedTradeStore) InsertBulk(ctx context.Context, trades []*domain.ClassifiedTrade) error {
	if len(trades) == 0 {
		return nil
	}

	// Check for intra-batch duplicates
	seen := make(map[string]struct{}, len(trades))
	for _, ct := range trades {
		if err := storage.ValidateClassifiedTrade(ct); err != nil {
			return err
		}
		if _, exists := seen[ct.Trade.TxHash]; exists {
			return storage.ErrDuplicateKey
		}
		seen[ct.Trade.TxHash] = struct{}{}
	}

	// ReplacingMergeTree would silently collapse redeliveries; keep append-only semantics.
	for _, ct := range trades {
		exists, err := s.exists(ctx, ct.Trade.TxHash)
		if err != nil {
			return err
		}
		if exists {
			return storage.ErrDuplicateKey
		}
	}

	batch, err := s.conn.PrepareBatch(ctx, `INSERT INTO classified_trades (`+classifiedTradeColumns+`)`)
	if err != nil {
		return wrapError("prepare batch", err)
	}

	for _, ct := range trades {
		t := &ct.Trade
		memos, err := json.Marshal(memosOrEmpty(t.Memos))
		if err != nil {
			return fmt.Errorf("encode memos: %w", err)
		}
		var canceled uint8
		if t.Canceled {
			canceled = 1
		}
		err = batch.Append(
			t.TxHash, t.Timestamp, t.Sender, t.Receiver,
			t.Asset.Currency, t.Asset.Issuer, t.Asset.Value,
			t.Volume, t.Fee, t.TxType, t.Date, t.Sequence, t.LedgerIndex,
			string(memos), t.Flags, canceled, t.BalanceChanges.Sender, t.BalanceChanges.Receiver, t.SignerKeyType,
			string(ct.Classification.Label), string(ct.Classification.Rule), ct.ClassifiedAt,
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err := batch.Send(); err != nil {
		return wrapError("send batch", err)
	}
	return nil
}

// GetByHash retrieves a classified trade by tx hash. Returns ErrNotFound if not exists.
func (s *ClassifiedTradeStore) GetByHash(ctx context.Context, txHash string) (*domain.ClassifiedTrade, error) {
	query := `SELECT ` + classifiedTradeColumns + ` FROM classified_trades FINAL WHERE tx_hash = ? LIMIT 1`

	rows, err := s.conn.Query(ctx, query, txHash)
	if err != nil {
		return nil, wrapError("query classified trade", err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, wrapError("iterate classified trade", err)
		}
		return nil, storage.ErrNotFound
	}

	var (
		ct       domain.ClassifiedTrade
		memos    string
		canceled uint8
		label    string
		rule     string
	)
	t := &ct.Trade
	if err := rows.Scan(
		&t.TxHash, &t.Timestamp, &t.Sender, &t.Receiver,
		&t.Asset.Currency, &t.Asset.Issuer, &t.Asset.Value,
		&t.Volume, &t.Fee, &t.TxType, &t.Date, &t.Sequence, &t.LedgerIndex,
		&memos, &t.Flags, &canceled, &t.BalanceChanges.Sender, &t.BalanceChanges.Receiver, &t.SignerKeyType,
		&label, &rule, &ct.ClassifiedAt,
	); err != nil {
		return nil, fmt.Errorf("scan classified trade: %w", err)
	}

	if memos != "" {
		if err := json.Unmarshal([]byte(memos), &t.Memos); err != nil {
			return nil, fmt.Errorf("decode memos: %w", err)
		}
	}
	t.Canceled = canceled == 1
	ct.Classification = domain.Classification{Label: domain.Label(label), Rule: domain.RuleID(rule)}
	return &ct, nil
}

// Summary aggregates label counts and the topN most flagged pairs.
func (s *ClassifiedTradeStore) Summary(ctx context.Context, topN int) (*storage.Summary, error) {
	sum := &storage.Summary{ByRule: make(map[domain.RuleID]int64)}

	rows, err := s.conn.Query(ctx, `
		SELECT label, rule, count() AS n
		FROM classified_trades FINAL
		GROUP BY label, rule
	`)
	if err != nil {
		return nil, wrapError("summarize labels", err)
	}
	for rows.Next() {
		var label, rule string
		var n uint64
		if err := rows.Scan(&label, &rule, &n); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan label count: %w", err)
		}
		if domain.Label(label) == domain.LabelSuspicious {
			sum.Suspicious += int64(n)
			sum.ByRule[domain.RuleID(rule)] += int64(n)
		} else {
			sum.Normal += int64(n)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, wrapError("iterate label counts", err)
	}

	limit := topN
	if limit <= 0 {
		limit = 10
	}
	pairRows, err := s.conn.Query(ctx, `
		SELECT sender, receiver, count() AS n
		FROM classified_trades FINAL
		WHERE label = ?
		GROUP BY sender, receiver
		ORDER BY n DESC, sender ASC, receiver ASC
		LIMIT ?
	`, string(domain.LabelSuspicious), limit)
	if err != nil {
		return nil, wrapError("summarize pairs", err)
	}
	defer pairRows.Close()

	for pairRows.Next() {
		var sender, receiver string
		var n uint64
		if err := pairRows.Scan(&sender, &receiver, &n); err != nil {
			return nil, fmt.Errorf("scan pair count: %w", err)
		}
		sum.TopPairs = append(sum.TopPairs, storage.PairCount{Sender: sender, Receiver: receiver, Count: int64(n)})
	}
	if err := pairRows.Err(); err != nil {
		return nil, wrapError("iterate pair counts", err)
	}

	return sum, nil
}

func (s *ClassifiedTradeStore) exists(ctx context.Context, txHash string) (bool, error) {
	var n uint64
	row := s.conn.QueryRow(ctx, `SELECT count() FROM classified_trades WHERE tx_hash = ?`, txHash)
	if err := row.Scan(&n); err != nil {
		return false, wrapError("check exists", err)
	}
	return n > 0, nil
}

func memosOrEmpty(m []domain.Memo) []domain.Memo {
	if m == nil {
		return []domain.Memo{}
	}
	return m
}
