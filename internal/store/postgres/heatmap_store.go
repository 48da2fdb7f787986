package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ekinsoy/arbcore/internal/domain"
)

// HeatmapStore implements domain.HeatmapStore using PostgreSQL. Each snapshot
// is one row holding the full exchange map as JSONB.
type HeatmapStore struct {
	pool *pgxpool.Pool
}

// NewHeatmapStore creates a HeatmapStore backed by the given pool.
func NewHeatmapStore(pool *pgxpool.Pool) *HeatmapStore {
	return &HeatmapStore{pool: pool}
}

// Save persists a complete heatmap snapshot as a new row.
func (s *HeatmapStore) Save(ctx context.Context, hm domain.Heatmap) error {
	data, err := json.Marshal(hm.Exchanges)
	if err != nil {
		return fmt.Errorf("postgres: marshal heatmap: %w", err)
	}

	const query = `INSERT INTO heatmap_snapshots (id, taken_at, data) VALUES ($1, $2, $3)`
	if _, err := s.pool.Exec(ctx, query, hm.ID, hm.TakenAt, data); err != nil {
		return fmt.Errorf("postgres: save heatmap %s: %w", hm.ID, err)
	}
	return nil
}

// Latest returns the most recently taken complete snapshot. It returns
// domain.ErrNoHeatmap when no snapshot has ever been saved.
func (s *HeatmapStore) Latest(ctx context.Context) (domain.Heatmap, error) {
	const query = `SELECT id, taken_at, data FROM heatmap_snapshots ORDER BY taken_at DESC LIMIT 1`

	hm, err := s.scanOne(s.pool.QueryRow(ctx, query))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Heatmap{}, domain.ErrNoHeatmap
	}
	if err != nil {
		return domain.Heatmap{}, fmt.Errorf("postgres: latest heatmap: %w", err)
	}
	return hm, nil
}

// ListBefore returns snapshots taken strictly before the cutoff, oldest
// first.
func (s *HeatmapStore) ListBefore(ctx context.Context, before time.Time) ([]domain.Heatmap, error) {
	const query = `SELECT id, taken_at, data FROM heatmap_snapshots WHERE taken_at < $1 ORDER BY taken_at ASC`

	rows, err := s.pool.Query(ctx, query, before)
	if err != nil {
		return nil, fmt.Errorf("postgres: list heatmaps before %s: %w", before, err)
	}
	defer rows.Close()

	var out []domain.Heatmap
	for rows.Next() {
		hm, err := s.scanOne(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan heatmap: %w", err)
		}
		out = append(out, hm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list heatmaps rows: %w", err)
	}
	return out, nil
}

// DeleteBefore removes snapshots taken strictly before the cutoff.
func (s *HeatmapStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	const query = `DELETE FROM heatmap_snapshots WHERE taken_at < $1`

	tag, err := s.pool.Exec(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete heatmaps before %s: %w", before, err)
	}
	return tag.RowsAffected(), nil
}

func (s *HeatmapStore) scanOne(row pgx.Row) (domain.Heatmap, error) {
	var (
		hm   domain.Heatmap
		data []byte
	)
	if err := row.Scan(&hm.ID, &hm.TakenAt, &data); err != nil {
		return domain.Heatmap{}, err
	}
	if err := json.Unmarshal(data, &hm.Exchanges); err != nil {
		return domain.Heatmap{}, fmt.Errorf("unmarshal heatmap data: %w", err)
	}
	return hm, nil
}

// Compile-time interface check.
var _ domain.HeatmapStore = (*HeatmapStore)(nil)
