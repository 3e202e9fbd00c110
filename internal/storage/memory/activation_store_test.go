package memory

import (
	"context"
	"errors"
	"testing"

	"xrpl-wash-monitor/internal/domain"
	"xrpl-wash-monitor/internal/storage"
)

func TestActivationStore_InsertAndGetAll(t *testing.T) {
	store := NewActivationStore()
	ctx := context.Background()

	acts := []*domain.AccountActivation{
		{Parent: "rP", Child: "rC2", TxHash: "H2", Timestamp: 200},
		{Parent: "rP", Child: "rC1", TxHash: "H1", Timestamp: 100},
	}
	for _, a := range acts {
		if err := store.Insert(ctx, a); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}

	got, err := store.GetAll(ctx)
	if err != nil {
		t.Fatalf("GetAll failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 activations, got %d", len(got))
	}
	if got[0].Child != "rC1" || got[1].Child != "rC2" {
		t.Errorf("Expected timestamp order, got %s, %s", got[0].Child, got[1].Child)
	}
}

func TestActivationStore_DuplicateKey(t *testing.T) {
	store := NewActivationStore()
	ctx := context.Background()

	a := &domain.AccountActivation{Parent: "rP", Child: "rC", TxHash: "H1", Timestamp: 100}
	if err := store.Insert(ctx, a); err != nil {
		t.Fatalf("First insert failed: %v", err)
	}

	dup := &domain.AccountActivation{Parent: "rP", Child: "rC", TxHash: "H9", Timestamp: 900}
	if err := store.Insert(ctx, dup); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("Expected ErrDuplicateKey, got: %v", err)
	}
}

func TestActivationStore_InvalidInput(t *testing.T) {
	store := NewActivationStore()

	err := store.Insert(context.Background(), &domain.AccountActivation{Parent: "rP"})
	if !errors.Is(err, storage.ErrInvalidInput) {
		t.Errorf("Expected ErrInvalidInput, got: %v", err)
	}
}
