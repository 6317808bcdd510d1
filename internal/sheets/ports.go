package sheets

import (
	"context"
	"time"

	"bookinglens/internal/core"
)

// Ports for outbound adapters.
type (
	// DatasetWriter stores a complete dataset. Datasets are never updated in
	// place; a new upload is a new dataset.
	DatasetWriter interface {
		Save(ctx context.Context, ds core.Dataset) error
	}

	DatasetReader interface {
		// Get returns core.ErrDatasetNotFound for unknown or expired ids.
		Get(ctx context.Context, id string) (core.Dataset, error)
	}

	DatasetLister interface {
		List(ctx context.Context) ([]core.DatasetInfo, error)
	}

	DatasetDeleter interface {
		Delete(ctx context.Context, id string) error
		// PurgeExpired removes datasets whose session ended before now and
		// returns how many were removed.
		PurgeExpired(ctx context.Context, now time.Time) (int, error)
	}

	// RecordSource reads a header row plus data rows from a spreadsheet.
	RecordSource interface {
		ReadRows(ctx context.Context) ([][]string, error)
	}

	// Store is everything the dashboard needs from a dataset backend.
	Store interface {
		DatasetWriter
		DatasetReader
		DatasetLister
		DatasetDeleter
		Close() error
	}
)
