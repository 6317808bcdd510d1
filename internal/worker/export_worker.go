package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	"bookinglens/internal/amqp"
	"bookinglens/internal/analytics"
	"bookinglens/internal/core"
	"bookinglens/internal/export"
	applog "bookinglens/internal/log"
	"bookinglens/internal/sheets"
)

// ExportWorker renders queued export jobs into files below dir, one
// directory per job.
type ExportWorker struct {
	store  sheets.DatasetReader
	dir    string
	now    func() time.Time
	logger *slog.Logger
}

func NewExportWorker(store sheets.DatasetReader, dir string, logger *slog.Logger) *ExportWorker {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExportWorker{
		store:  store,
		dir:    dir,
		now:    time.Now,
		logger: logger,
	}
}

// JobDir is where the files of a job end up.
func (w *ExportWorker) JobDir(jobID string) string {
	return filepath.Join(w.dir, filepath.Base(jobID))
}

// HandleExportRequest renders every requested table in every requested
// format. Jobs for datasets that are gone are dropped without error.
func (w *ExportWorker) HandleExportRequest(ctx context.Context, msg *amqp.ExportRequestMessage) error {
	kinds, formats, err := parseJob(msg)
	if err != nil {
		w.logger.WarnContext(ctx, "Dropping invalid export request",
			applog.FieldOperation, applog.OpParse,
			applog.FieldJobID, msg.JobID, "error", err)
		return nil
	}

	ds, err := w.store.Get(ctx, msg.DatasetID)
	if errors.Is(err, core.ErrDatasetNotFound) {
		w.logger.WarnContext(ctx, "Dataset for export no longer exists",
			"job_id", msg.JobID,
			"dataset_id", msg.DatasetID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("load dataset: %w", err)
	}

	start := w.now()
	rep := analytics.Compute(analytics.NewState(ds, msg.Query), w.logger)

	dir := w.JobDir(msg.JobID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create job dir: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, kind := range kinds {
		table, err := export.Build(rep, kind)
		if err != nil {
			return err
		}
		for _, format := range formats {
			format := format
			path := filepath.Join(dir, export.FileName(rep, kind, string(format)))
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				return writeFile(path, table, format, start)
			})
		}
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("render export %s: %w", msg.JobID, err)
	}

	w.logger.InfoContext(ctx, "Export written",
		applog.FieldOperation, applog.OpRender,
		applog.FieldJobID, msg.JobID,
		applog.FieldDatasetID, msg.DatasetID,
		"files", len(kinds)*len(formats),
		"dir", dir,
		"duration_ms", time.Since(start).Milliseconds())
	return nil
}

func parseJob(msg *amqp.ExportRequestMessage) ([]export.Kind, []export.Format, error) {
	if err := msg.Validate(); err != nil {
		return nil, nil, err
	}
	kinds := make([]export.Kind, 0, len(msg.Tables))
	for _, t := range msg.Tables {
		k, err := export.ParseKind(t)
		if err != nil {
			return nil, nil, err
		}
		kinds = append(kinds, k)
	}
	formats := make([]export.Format, 0, len(msg.Formats))
	for _, f := range msg.Formats {
		format, err := export.ParseFormat(f)
		if err != nil {
			return nil, nil, err
		}
		formats = append(formats, format)
	}
	return kinds, formats, nil
}

// writeFile renders into a temp file next to path and renames it, so a
// reader never sees a half written export.
func writeFile(path string, t export.Table, f export.Format, generated time.Time) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := export.Render(tmp, t, f, generated); err != nil {
		tmp.Close()
		return fmt.Errorf("render %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move export into place: %w", err)
	}
	return nil
}

// PruneExports removes job directories older than maxAge and returns how
// many were removed.
func (w *ExportWorker) PruneExports(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(w.dir)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read export dir: %w", err)
	}

	cutoff := w.now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(w.dir, e.Name())); err != nil {
			w.logger.ErrorContext(ctx, "Failed to remove export", "dir", e.Name(), "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		w.logger.InfoContext(ctx, "Old exports pruned", "count", removed)
	}
	return removed, nil
}
