package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekinsoy/arbcore/internal/domain"
)

// ParamsStore implements domain.ParamsStore using PostgreSQL. The execution
// parameters live in a single-row table and are replaced whole on save.
type ParamsStore struct {
	pool *pgxpool.Pool
}

// NewParamsStore creates a ParamsStore backed by the given pool.
func NewParamsStore(pool *pgxpool.Pool) *ParamsStore {
	return &ParamsStore{pool: pool}
}

// Load returns the persisted execution parameters, or domain.ErrNoParams
// when no tuning cycle has run yet.
func (s *ParamsStore) Load(ctx context.Context) (domain.ExecutionParams, error) {
	const query = `SELECT step_in_k, min_edge_bps, updated_at FROM execution_params WHERE id = 1`

	var p domain.ExecutionParams
	err := s.pool.QueryRow(ctx, query).Scan(&p.StepInK, &p.MinEdgeBps, &p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ExecutionParams{}, domain.ErrNoParams
	}
	if err != nil {
		return domain.ExecutionParams{}, fmt.Errorf("postgres: load execution params: %w", err)
	}
	return p, nil
}

// Save upserts the execution parameters as one atomic write.
func (s *ParamsStore) Save(ctx context.Context, p domain.ExecutionParams) error {
	const query = `INSERT INTO execution_params (id, step_in_k, min_edge_bps, updated_at)
		VALUES (1, $1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			step_in_k = EXCLUDED.step_in_k,
			min_edge_bps = EXCLUDED.min_edge_bps,
			updated_at = EXCLUDED.updated_at`

	if _, err := s.pool.Exec(ctx, query, p.StepInK, p.MinEdgeBps, p.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: save execution params: %w", err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.ParamsStore = (*ParamsStore)(nil)
