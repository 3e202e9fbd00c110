package memory

import (
	"context"
	"errors"
	"testing"

	"xrpl-wash-monitor/internal/domain"
	"xrpl-wash-monitor/internal/storage"
)

func classified(hash, sender, receiver string, c domain.Classification) *domain.ClassifiedTrade {
	return &domain.ClassifiedTrade{
		Trade: domain.TradeRecord{
			Timestamp: 1704067200,
			Sender:    sender,
			Receiver:  receiver,
			Asset:     domain.Amount{Currency: "XRP", Value: 10},
			Volume:    10,
			Fee:       0.00001,
			TxHash:    hash,
			TxType:    domain.TxTypePayment,
			Memos:     []domain.Memo{{Type: "text", Data: "hi"}},
		},
		Classification: c,
		ClassifiedAt:   1704067200123,
	}
}

func TestClassifiedTradeStore_InsertAndGet(t *testing.T) {
	store := NewClassifiedTradeStore()
	ctx := context.Background()

	ct := classified("H1", "rA", "rB", domain.Suspicious(domain.RuleSelfTrade))

	if err := store.Insert(ctx, ct); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, err := store.GetByHash(ctx, "H1")
	if err != nil {
		t.Fatalf("GetByHash failed: %v", err)
	}
	if got.Classification != ct.Classification {
		t.Errorf("Classification mismatch: got %+v, want %+v", got.Classification, ct.Classification)
	}
	if got.Trade.Sender != "rA" {
		t.Errorf("Sender mismatch: got %s, want rA", got.Trade.Sender)
	}

	// Mutating the returned copy must not touch the store.
	got.Trade.Memos[0].Data = "changed"
	again, _ := store.GetByHash(ctx, "H1")
	if again.Trade.Memos[0].Data != "hi" {
		t.Errorf("store returned shared memo slice")
	}
}

func TestClassifiedTradeStore_DuplicateKey(t *testing.T) {
	store := NewClassifiedTradeStore()
	ctx := context.Background()

	ct := classified("H1", "rA", "rB", domain.Normal)
	if err := store.Insert(ctx, ct); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	err := store.Insert(ctx, ct)
	if !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got: %v", err)
	}
}

func TestClassifiedTradeStore_InvalidInput(t *testing.T) {
	store := NewClassifiedTradeStore()
	ctx := context.Background()

	if err := store.Insert(ctx, nil); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("nil: expected ErrInvalidInput, got: %v", err)
	}
	if err := store.Insert(ctx, classified("", "rA", "rB", domain.Normal)); !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("empty hash: expected ErrInvalidInput, got: %v", err)
	}
}

func TestClassifiedTradeStore_NotFound(t *testing.T) {
	store := NewClassifiedTradeStore()

	_, err := store.GetByHash(context.Background(), "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got: %v", err)
	}
}

func TestClassifiedTradeStore_Summary(t *testing.T) {
	store := NewClassifiedTradeStore()
	ctx := context.Background()

	rows := []*domain.ClassifiedTrade{
		classified("H1", "rA", "rB", domain.Normal),
		classified("H2", "rA", "rB", domain.Suspicious(domain.RuleFrequencyThreshold)),
		classified("H3", "rA", "rB", domain.Suspicious(domain.RuleFrequencyThreshold)),
		classified("H4", "rC", "rD", domain.Suspicious(domain.RuleFeeBelowThreshold)),
		classified("H5", "rE", "rE", domain.Suspicious(domain.RuleSelfTrade)),
		classified("H6", "rC", "rD", domain.Normal),
	}
	for _, r := range rows {
		if err := store.Insert(ctx, r); err != nil {
			t.Fatalf("Insert %s failed: %v", r.Trade.TxHash, err)
		}
	}

	sum, err := store.Summary(ctx, 2)
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if sum.Normal != 2 || sum.Suspicious != 4 {
		t.Errorf("counts = %d/%d, want 2/4", sum.Normal, sum.Suspicious)
	}
	if sum.Total() != 6 {
		t.Errorf("Total = %d, want 6", sum.Total())
	}
	if sum.ByRule[domain.RuleFrequencyThreshold] != 2 {
		t.Errorf("ByRule[FREQUENCY_THRESHOLD] = %d, want 2", sum.ByRule[domain.RuleFrequencyThreshold])
	}
	if len(sum.TopPairs) != 2 {
		t.Fatalf("TopPairs len = %d, want 2", len(sum.TopPairs))
	}
	if sum.TopPairs[0].Sender != "rA" || sum.TopPairs[0].Count != 2 {
		t.Errorf("TopPairs[0] = %+v, want rA-rB x2", sum.TopPairs[0])
	}
	if sum.TopPairs[1].Sender != "rC" {
		t.Errorf("TopPairs[1] = %+v, want rC-rD (tie broken by sender)", sum.TopPairs[1])
	}
}

func TestClassifiedTradeStore_GetAllOrder(t *testing.T) {
	store := NewClassifiedTradeStore()
	ctx := context.Background()

	for _, h := range []string{"H3", "H1", "H2"} {
		if err := store.Insert(ctx, classified(h, "rA", "rB", domain.Normal)); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	all, _ := store.GetAll(ctx)
	for i, want := range []string{"H3", "H1", "H2"} {
		if all[i].Trade.TxHash != want {
			t.Errorf("all[%d] = %s, want %s", i, all[i].Trade.TxHash, want)
		}
	}
}
