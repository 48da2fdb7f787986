package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekinsoy/arbcore/internal/domain"
)

// SessionStore implements domain.SessionStore using PostgreSQL. Fill rates
// and shadow-diff samples are append-only logs written by the shadow trading
// collaborator's feed and read back by the tuner.
type SessionStore struct {
	pool *pgxpool.Pool
}

// NewSessionStore creates a SessionStore backed by the given pool.
func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

// AppendFillRate records one session's maker fill rate. A missing ID is
// generated.
func (s *SessionStore) AppendFillRate(ctx context.Context, m domain.SessionMetric) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}

	const query = `INSERT INTO session_metrics (id, maker_fill_rate, recorded_at) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, m.ID, m.MakerFillRate, m.RecordedAt); err != nil {
		return fmt.Errorf("postgres: append fill rate: %w", err)
	}
	return nil
}

// RecentFillRates returns up to n most recent fill rates, newest first.
func (s *SessionStore) RecentFillRates(ctx context.Context, n int) ([]float64, error) {
	const query = `SELECT maker_fill_rate FROM session_metrics ORDER BY recorded_at DESC LIMIT $1`
	return s.queryFloats(ctx, query, n)
}

// AppendShadowDiff records one shadow-vs-live price difference sample.
func (s *SessionStore) AppendShadowDiff(ctx context.Context, d domain.ShadowDiffSample) error {
	const query = `INSERT INTO shadow_diffs (diff_bps, recorded_at) VALUES ($1, $2)`
	if _, err := s.pool.Exec(ctx, query, d.DiffBps, d.RecordedAt); err != nil {
		return fmt.Errorf("postgres: append shadow diff: %w", err)
	}
	return nil
}

// RecentShadowDiffs returns up to n most recent diff samples, newest first.
func (s *SessionStore) RecentShadowDiffs(ctx context.Context, n int) ([]float64, error) {
	const query = `SELECT diff_bps FROM shadow_diffs ORDER BY recorded_at DESC, id DESC LIMIT $1`
	return s.queryFloats(ctx, query, n)
}

func (s *SessionStore) queryFloats(ctx context.Context, query string, n int) ([]float64, error) {
	rows, err := s.pool.Query(ctx, query, n)
	if err != nil {
		return nil, fmt.Errorf("postgres: query session metrics: %w", err)
	}
	defer rows.Close()

	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("postgres: scan session metric: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: session metrics rows: %w", err)
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.SessionStore = (*SessionStore)(nil)
