package storage

import (
	"context"
	"sort"

	"xrpl-wash-monitor/internal/domain"
)

// ClassifiedTradeStore persists one row per classified trade.
type ClassifiedTradeStore interface {
	// Insert adds a classified trade. Returns ErrDuplicateKey if tx_hash exists.
	Insert(ctx context.Context, t *domain.ClassifiedTrade) error

	// GetByHash retrieves a classified trade by transaction hash.
	// Returns ErrNotFound if not exists.
	GetByHash(ctx context.Context, txHash string) (*domain.ClassifiedTrade, error)

	// Summary aggregates label counts and the topN most flagged pairs.
	Summary(ctx context.Context, topN int) (*Summary, error)
}

// ActivationStore persists account activations for registry rehydration.
type ActivationStore interface {
	// Insert adds an activation. Returns ErrDuplicateKey if (parent, child) exists.
	Insert(ctx context.Context, a *domain.AccountActivation) error

	// GetAll returns every activation ordered by timestamp ASC.
	GetAll(ctx context.Context) ([]*domain.AccountActivation, error)
}

// PairCount is a pair and how many of its trades were flagged.
type PairCount struct {
	Sender   string
	Receiver string
	Count    int64
}

// Summary is the aggregate view used by the report command.
type Summary struct {
	Normal     int64
	Suspicious int64
	ByRule     map[domain.RuleID]int64
	TopPairs   []PairCount // descending by Count, ties by sender then receiver
}

// Total returns the number of classified trades.
func (s *Summary) Total() int64 {
	return s.Normal + s.Suspicious
}

// ValidateClassifiedTrade checks the fields every backend relies on.
func ValidateClassifiedTrade(t *domain.ClassifiedTrade) error {
	if t == nil || t.Trade.TxHash == "" || !t.Classification.Label.IsValid() {
		return ErrInvalidInput
	}
	return nil
}

// ValidateActivation checks the fields every backend relies on.
func ValidateActivation(a *domain.AccountActivation) error {
	if a == nil || a.Parent == "" || a.Child == "" {
		return ErrInvalidInput
	}
	return nil
}

// SortPairCounts orders pairs by Count descending, then sender and receiver,
// and truncates to topN when topN > 0.
func SortPairCounts(pairs []PairCount, topN int) []PairCount {
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].Count != pairs[j].Count {
			return pairs[i].Count > pairs[j].Count
		}
		if pairs[i].Sender != pairs[j].Sender {
			return pairs[i].Sender < pairs[j].Sender
		}
		return pairs[i].Receiver < pairs[j].Receiver
	})
	if topN > 0 && len(pairs) > topN {
		pairs = pairs[:topN]
	}
	return pairs
}
