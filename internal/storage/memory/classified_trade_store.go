package memory

import (
	"context"
	"sync"

	"xrpl-wash-monitor/internal/domain"
	"xrpl-wash-monitor/internal/storage"
)

// ClassifiedTradeStore is an in-memory implementation of storage.ClassifiedTradeStore.
type ClassifiedTradeStore struct {
	mu    sync.RWMutex
	data  map[string]*domain.ClassifiedTrade // keyed by tx_hash
	order []string                           // insertion order
}

// NewClassifiedTradeStore creates a new in-memory classified trade store.
func NewClassifiedTradeStore() *ClassifiedTradeStore {
	return &ClassifiedTradeStore{
		data: make(map[string]*domain.ClassifiedTrade),
	}
}

// Compile-time interface check.
var _ storage.ClassifiedTradeStore = (*ClassifiedTradeStore)(nil)

// Insert adds a classified trade. Returns ErrDuplicateKey if tx_hash exists.
func (s *ClassifiedTradeStore) Insert(_ context.Context, t *domain.ClassifiedTrade) error {
	if err := storage.ValidateClassifiedTrade(t); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[t.Trade.TxHash]; exists {
		return storage.ErrDuplicateKey
	}

	s.data[t.Trade.TxHash] = cloneClassified(t)
	s.order = append(s.order, t.Trade.TxHash)
	return nil
}

// GetByHash retrieves a classified trade by tx hash. Returns ErrNotFound if not exists.
func (s *ClassifiedTradeStore) GetByHash(_ context.Context, txHash string) (*domain.ClassifiedTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.data[txHash]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneClassified(t), nil
}

// GetAll returns every stored row in insertion order.
func (s *ClassifiedTradeStore) GetAll(_ context.Context) ([]*domain.ClassifiedTrade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.ClassifiedTrade, 0, len(s.order))
	for _, h := range s.order {
		out = append(out, cloneClassified(s.data[h]))
	}
	return out, nil
}

// Summary aggregates label counts and the topN most flagged pairs.
func (s *ClassifiedTradeStore) Summary(_ context.Context, topN int) (*storage.Summary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := &storage.Summary{ByRule: make(map[domain.RuleID]int64)}
	pairs := make(map[domain.PairKey]int64)
	for _, t := range s.data {
		if t.Classification.IsSuspicious() {
			sum.Suspicious++
			sum.ByRule[t.Classification.Rule]++
			pairs[t.Trade.Pair()]++
		} else {
			sum.Normal++
		}
	}

	top := make([]storage.PairCount, 0, len(pairs))
	for k, n := range pairs {
		top = append(top, storage.PairCount{Sender: k.Sender, Receiver: k.Receiver, Count: n})
	}
	sum.TopPairs = storage.SortPairCounts(top, topN)
	return sum, nil
}

func cloneClassified(t *domain.ClassifiedTrade) *domain.ClassifiedTrade {
	c := *t
	if t.Trade.Memos != nil {
		c.Trade.Memos = append([]domain.Memo(nil), t.Trade.Memos...)
	}
	return &c
}
