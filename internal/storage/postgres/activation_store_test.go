package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpl-wash-monitor/internal/domain"
	"xrpl-wash-monitor/internal/storage"
)

func TestActivationStore_InsertAndGetAll(t *testing.T) {
	pool := newTestPool(t)

	ctx := context.Background()
	store := NewActivationStore(pool)

	require.NoError(t, store.Insert(ctx, &domain.AccountActivation{Parent: "rP", Child: "rC2", TxHash: "H2", Timestamp: 200}))
	require.NoError(t, store.Insert(ctx, &domain.AccountActivation{Parent: "rP", Child: "rC1", TxHash: "H1", Timestamp: 100}))

	all, err := store.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "rC1", all[0].Child)
	assert.Equal(t, "rC2", all[1].Child)
}

func TestActivationStore_DuplicateKey(t *testing.T) {
	pool := newTestPool(t)

	ctx := context.Background()
	store := NewActivationStore(pool)

	a := &domain.AccountActivation{Parent: "rP", Child: "rC", TxHash: "H1", Timestamp: 100}
	require.NoError(t, store.Insert(ctx, a))

	err := store.Insert(ctx, a)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)
}
