package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/ekinsoy/arbcore/internal/domain"
)

// BlobWriter is the narrow upload interface the archiver needs.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver moves aged heatmap snapshots and tuning audit entries out of the
// primary store into JSONL objects, then deletes them from the store. The
// capped adjustment log keeps the hot data small; the archive preserves the
// full history for offline analysis.
type Archiver struct {
	writer   BlobWriter
	heatmaps domain.HeatmapStore
	auditLog domain.AdjustmentLogStore
	logger   *slog.Logger
	now      func() time.Time
}

// NewArchiver creates an Archiver writing through the given BlobWriter.
func NewArchiver(writer BlobWriter, heatmaps domain.HeatmapStore, auditLog domain.AdjustmentLogStore, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:   writer,
		heatmaps: heatmaps,
		auditLog: auditLog,
		logger:   logger.With(slog.String("component", "archiver")),
		now:      time.Now,
	}
}

// Run archives everything older than the retention window. Records are
// deleted from the primary store only after their archive object has been
// uploaded successfully.
func (a *Archiver) Run(ctx context.Context, retention time.Duration) error {
	cutoff := a.now().Add(-retention)

	if err := a.archiveHeatmaps(ctx, cutoff); err != nil {
		return fmt.Errorf("archiver: heatmaps: %w", err)
	}
	if err := a.archiveAdjustments(ctx, cutoff); err != nil {
		return fmt.Errorf("archiver: adjustments: %w", err)
	}
	return nil
}

func (a *Archiver) archiveHeatmaps(ctx context.Context, cutoff time.Time) error {
	heatmaps, err := a.heatmaps.ListBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	if len(heatmaps) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, hm := range heatmaps {
		if err := enc.Encode(hm); err != nil {
			return fmt.Errorf("encode heatmap %s: %w", hm.ID, err)
		}
	}

	key := archiveKey("heatmaps", cutoff)
	if err := a.writer.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	deleted, err := a.heatmaps.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	a.logger.Info("heatmap history archived",
		slog.String("key", key),
		slog.Int("archived", len(heatmaps)),
		slog.Int64("deleted", deleted),
	)
	return nil
}

func (a *Archiver) archiveAdjustments(ctx context.Context, cutoff time.Time) error {
	entries, err := a.auditLog.ListBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("list: %w", err)
	}
	if len(entries) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encode adjustment %s: %w", e.ID, err)
		}
	}

	key := archiveKey("adjustments", cutoff)
	if err := a.writer.Put(ctx, key, &buf, "application/x-ndjson"); err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	deleted, err := a.auditLog.DeleteBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("delete: %w", err)
	}

	a.logger.Info("adjustment log archived",
		slog.String("key", key),
		slog.Int("archived", len(entries)),
		slog.Int64("deleted", deleted),
	)
	return nil
}

// archiveKey builds a deterministic object key such as
// "archive/heatmaps/2026-08-28.jsonl".
func archiveKey(kind string, cutoff time.Time) string {
	return fmt.Sprintf("archive/%s/%s.jsonl", kind, cutoff.UTC().Format("2006-01-02"))
}
