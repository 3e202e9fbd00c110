package postgres

import (
	"context"
	"fmt"

	"xrpl-wash-monitor/internal/domain"
	"xrpl-wash-monitor/internal/storage"
)

// ActivationStore implements storage.ActivationStore using PostgreSQL.
type ActivationStore struct {
	pool *Pool
}

// NewActivationStore creates a new ActivationStore.
func NewActivationStore(pool *Pool) *ActivationStore {
	return &ActivationStore{pool: pool}
}

// Compile-time interface check.
var _ storage.ActivationStore = (*ActivationStore)(nil)

// Insert adds an activation. Returns ErrDuplicateKey if (parent, child) exists.
func (s *ActivationStore) Insert(ctx context.Context, a *domain.AccountActivation) error {
	if err := storage.ValidateActivation(a); err != nil {
		return err
	}

	query := `
		INSERT INTO account_activations (parent, child, tx_hash, ts)
		VALUES ($1, $2, $3, $4)
	`
	_, err := s.pool.Exec(ctx, query, a.Parent, a.Child, a.TxHash, a.Timestamp)
	return mapError("insert account activation", err)
}

// GetAll returns every activation ordered by timestamp ASC.
func (s *ActivationStore) GetAll(ctx context.Context) ([]*domain.AccountActivation, error) {
	query := `
		SELECT parent, child, tx_hash, ts
		FROM account_activations
		ORDER BY ts ASC, parent ASC, child ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, mapError("query account activations", err)
	}
	defer rows.Close()

	var result []*domain.AccountActivation
	for rows.Next() {
		var a domain.AccountActivation
		if err := rows.Scan(&a.Parent, &a.Child, &a.TxHash, &a.Timestamp); err != nil {
			return nil, fmt.Errorf("scan account activation: %w", err)
		}
		result = append(result, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, mapError("iterate account activations", err)
	}
	return result, nil
}
