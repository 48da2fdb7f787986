package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekinsoy/arbcore/internal/domain"
)

// AdjustmentLogStore implements domain.AdjustmentLogStore using PostgreSQL.
type AdjustmentLogStore struct {
	pool *pgxpool.Pool
}

// NewAdjustmentLogStore creates an AdjustmentLogStore backed by the given
// pool.
func NewAdjustmentLogStore(pool *pgxpool.Pool) *AdjustmentLogStore {
	return &AdjustmentLogStore{pool: pool}
}

// Append inserts all entries in one batch.
func (s *AdjustmentLogStore) Append(ctx context.Context, entries []domain.ParamAdjustment) error {
	if len(entries) == 0 {
		return nil
	}

	const query = `INSERT INTO param_adjustments (id, param, old_value, new_value, reason, applied_at)
		VALUES ($1, $2, $3, $4, $5, $6)`

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(query, e.ID, e.Param, e.OldValue, e.NewValue, e.Reason, e.AppliedAt)
	}

	res := s.pool.SendBatch(ctx, batch)
	defer res.Close()
	for range entries {
		if _, err := res.Exec(); err != nil {
			return fmt.Errorf("postgres: append adjustment: %w", err)
		}
	}
	return nil
}

// ListRecent returns up to limit entries, newest first.
func (s *AdjustmentLogStore) ListRecent(ctx context.Context, limit int) ([]domain.ParamAdjustment, error) {
	const query = `SELECT id, param, old_value, new_value, reason, applied_at
		FROM param_adjustments ORDER BY applied_at DESC LIMIT $1`

	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("postgres: list recent adjustments: %w", err)
	}
	defer rows.Close()

	return scanAdjustments(rows)
}

// TrimTo deletes all but the newest keep entries, enforcing the audit log
// cap.
func (s *AdjustmentLogStore) TrimTo(ctx context.Context, keep int) error {
	const query = `DELETE FROM param_adjustments WHERE id NOT IN (
		SELECT id FROM param_adjustments ORDER BY applied_at DESC LIMIT $1
	)`

	if _, err := s.pool.Exec(ctx, query, keep); err != nil {
		return fmt.Errorf("postgres: trim adjustments to %d: %w", keep, err)
	}
	return nil
}

// ListBefore returns entries applied strictly before the cutoff, oldest
// first.
func (s *AdjustmentLogStore) ListBefore(ctx context.Context, before time.Time) ([]domain.ParamAdjustment, error) {
	const query = `SELECT id, param, old_value, new_value, reason, applied_at
		FROM param_adjustments WHERE applied_at < $1 ORDER BY applied_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list adjustments before %s: %w", before, err)
	}
	defer rows.Close()

	return scanAdjustments(rows)
}

// DeleteBefore removes entries applied strictly before the cutoff.
func (s *AdjustmentLogStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM param_adjustments WHERE applied_at < $1`

	tag, err := s.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete adjustments before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func scanAdjustments(rows pgx.Rows) ([]domain.ParamAdjustment, error) {
	var out []domain.ParamAdjustment
	for rows.Next() {
		var a domain.ParamAdjustment
		if err := rows.Scan(&a.ID, &a.Param, &a.OldValue, &a.NewValue, &a.Reason, &a.AppliedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan adjustment: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: adjustments rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.AdjustmentLogStore = (*AdjustmentLogStore)(nil)
