package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"bookinglens/internal/amqp"
	"bookinglens/internal/analytics"
	"bookinglens/internal/cache"
	"bookinglens/internal/core"
	"bookinglens/internal/export"
	"bookinglens/internal/ingest"
	applog "bookinglens/internal/log"
	"bookinglens/internal/sheets"
)

var (
	ErrSheetsDisabled  = errors.New("google sheets import is not configured")
	ErrExportsDisabled = errors.New("export jobs are not configured")
)

// ExportPublisher hands export jobs to the worker.
type ExportPublisher interface {
	PublishExportRequest(ctx context.Context, msg *amqp.ExportRequestMessage) error
}

// Options wires a DashboardService. Store is required; everything else is
// optional.
type Options struct {
	Store       sheets.Store
	Source      sheets.RecordSource
	Publisher   ExportPublisher
	ReportCache cache.Cache[analytics.Report]
	DatasetTTL  time.Duration
	Logger      *slog.Logger
}

// DashboardService owns uploaded datasets and computes reports over them.
type DashboardService struct {
	store     sheets.Store
	source    sheets.RecordSource
	publisher ExportPublisher
	reports   cache.Cache[analytics.Report]
	inflight  singleflight.Group
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time
	newID     func() string
}

func NewDashboardService(opts Options) *DashboardService {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &DashboardService{
		store:     opts.Store,
		source:    opts.Source,
		publisher: opts.Publisher,
		reports:   opts.ReportCache,
		ttl:       opts.DatasetTTL,
		logger:    logger,
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// WithClock replaces the time source, for tests.
func (s *DashboardService) WithClock(now func() time.Time) *DashboardService {
	s.now = now
	return s
}

// SheetsEnabled reports whether ImportSheet can be used.
func (s *DashboardService) SheetsEnabled() bool { return s.source != nil }

// ExportsEnabled reports whether RequestExport can be used.
func (s *DashboardService) ExportsEnabled() bool { return s.publisher != nil }

// Upload parses a CSV file and stores it as a new dataset.
func (s *DashboardService) Upload(ctx context.Context, name string, r io.Reader) (core.DatasetInfo, error) {
	res, err := ingest.ReadCSV(r)
	if err != nil {
		return core.DatasetInfo{}, fmt.Errorf("read csv: %w", err)
	}
	return s.create(ctx, name, core.SourceUpload, res)
}

// ImportSheet reads the configured spreadsheet range as a new dataset.
func (s *DashboardService) ImportSheet(ctx context.Context) (core.DatasetInfo, error) {
	if s.source == nil {
		return core.DatasetInfo{}, ErrSheetsDisabled
	}
	rows, err := s.source.ReadRows(ctx)
	if err != nil {
		return core.DatasetInfo{}, fmt.Errorf("read sheet: %w", err)
	}
	res, err := ingest.FromRows(rows)
	if err != nil {
		return core.DatasetInfo{}, fmt.Errorf("parse sheet: %w", err)
	}
	name := "Google Sheet"
	if n, ok := s.source.(interface{ Name() string }); ok {
		name = n.Name()
	}
	return s.create(ctx, name, core.SourceSheets, res)
}

func (s *DashboardService) create(ctx context.Context, name, source string, res ingest.Result) (core.DatasetInfo, error) {
	now := s.now()
	name = strings.TrimSpace(name)
	if name == "" {
		name = "Buchungen " + now.Format("02.01.2006 15:04")
	}
	ds := core.Dataset{
		ID:          s.newID(),
		Name:        name,
		Source:      source,
		UploadedAt:  now,
		SkippedRows: res.Skipped,
		Records:     res.Records,
	}
	if s.ttl > 0 {
		ds.ExpiresAt = now.Add(s.ttl)
	}

	if err := s.store.Save(ctx, ds); err != nil {
		return core.DatasetInfo{}, fmt.Errorf("save dataset: %w", err)
	}

	s.logger.InfoContext(ctx, "Dataset stored",
		applog.NewFields().
			WithOperation(applog.OpUpload).
			WithDataset(ds.ID, ds.Name, ds.Source, len(ds.Records), ds.SkippedRows).
			ToSlice()...)
	return ds.Info(), nil
}

// Dataset returns a stored dataset.
func (s *DashboardService) Dataset(ctx context.Context, id string) (core.Dataset, error) {
	return s.store.Get(ctx, id)
}

// List returns the live datasets, newest first.
func (s *DashboardService) List(ctx context.Context) ([]core.DatasetInfo, error) {
	return s.store.List(ctx)
}

// Report computes the dashboard for one dataset and query. Identical
// (dataset, query) states are served from the cache and concurrent requests
// for the same state share one computation.
func (s *DashboardService) Report(ctx context.Context, id string, q analytics.Query) (analytics.Report, error) {
	ds, err := s.store.Get(ctx, id)
	if err != nil {
		return analytics.Report{}, err
	}
	state := analytics.NewState(ds, q)
	key := state.Key()

	if s.reports != nil {
		if rep, ok := s.reports.Get(key); ok {
			s.logger.DebugContext(ctx, "Report served from cache",
				applog.FieldDatasetID, id,
				applog.FieldCacheHit, true)
			return rep, nil
		}
	}

	v, _, _ := s.inflight.Do(key, func() (interface{}, error) {
		start := time.Now()
		rep := analytics.Compute(state, s.logger)
		if s.reports != nil {
			s.reports.Set(key, rep)
		}
		s.logger.InfoContext(ctx, "Report computed",
			applog.NewFields().
				WithOperation(applog.OpReport).
				WithQuery(q.Filter.Period.String(), q.Filter.Region, q.Compare).
				ToSlice()...)
		s.logger.DebugContext(ctx, "Report timing",
			applog.FieldDatasetID, id,
			applog.FieldRecords, rep.Records,
			applog.FieldDuration, time.Since(start).Milliseconds())
		return rep, nil
	})
	return v.(analytics.Report), nil
}

// ExportTable computes the report and lays out one of its tables.
func (s *DashboardService) ExportTable(ctx context.Context, id string, q analytics.Query, kind export.Kind) (export.Table, analytics.Report, error) {
	rep, err := s.Report(ctx, id, q)
	if err != nil {
		return export.Table{}, analytics.Report{}, err
	}
	t, err := export.Build(rep, kind)
	if err != nil {
		return export.Table{}, analytics.Report{}, err
	}
	return t, rep, nil
}

// RequestExport queues an asynchronous export and returns the job id.
func (s *DashboardService) RequestExport(ctx context.Context, id string, q analytics.Query, kinds []export.Kind, formats []export.Format) (string, error) {
	if s.publisher == nil {
		return "", ErrExportsDisabled
	}
	if _, err := s.store.Get(ctx, id); err != nil {
		return "", err
	}

	tables := make([]string, len(kinds))
	for i, k := range kinds {
		tables[i] = string(k)
	}
	fmts := make([]string, len(formats))
	for i, f := range formats {
		fmts[i] = string(f)
	}

	msg := amqp.NewExportRequestMessage(s.newID(), id, q, tables, fmts)
	if err := s.publisher.PublishExportRequest(ctx, msg); err != nil {
		return "", fmt.Errorf("queue export: %w", err)
	}

	s.logger.InfoContext(ctx, "Export queued",
		applog.FieldOperation, applog.OpExport,
		applog.FieldJobID, msg.JobID,
		applog.FieldDatasetID, id)
	return msg.JobID, nil
}

// Delete removes a dataset and its cached reports.
func (s *DashboardService) Delete(ctx context.Context, id string) error {
	if err := s.store.Delete(ctx, id); err != nil {
		return err
	}
	dropped := 0
	if s.reports != nil {
		dropped = s.reports.DeletePrefix(id + "|")
	}
	s.logger.InfoContext(ctx, "Dataset deleted",
		applog.FieldOperation, applog.OpDelete,
		applog.FieldDatasetID, id,
		"cached_reports", dropped)
	return nil
}

// PurgeExpired removes datasets whose session ended.
func (s *DashboardService) PurgeExpired(ctx context.Context) (int, error) {
	n, err := s.store.PurgeExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("purge expired datasets: %w", err)
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "Expired datasets purged",
			applog.FieldOperation, applog.OpPurge,
			"count", n)
	}
	return n, nil
}

// Janitor adapts PurgeExpired to the cache manager's cleanup loop.
func (s *DashboardService) Janitor() cache.Cleaner {
	return cache.CleanerFunc(func() int {
		n, err := s.PurgeExpired(context.Background())
		if err != nil {
			s.logger.Error("Failed to purge datasets", "error", err)
		}
		return n
	})
}

// Close closes the store and the export publisher.
func (s *DashboardService) Close() error {
	var errs []error

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}

	if c, ok := s.publisher.(io.Closer); ok && c != nil {
		if err := c.Close(); err != nil {
			errs = append(errs, fmt.Errorf("amqp: %w", err))
		}
	}

	return errors.Join(errs...)
}
