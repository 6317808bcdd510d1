package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"bookinglens/internal/core"
)

// Store keeps datasets in process memory. It is the default backend: a
// restart ends every session.
type Store struct {
	mu       sync.RWMutex
	datasets map[string]core.Dataset
	now      func() time.Time
}

func New() *Store {
	return &Store{datasets: make(map[string]core.Dataset), now: time.Now}
}

// WithClock replaces the clock used for expiry checks.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Save stores the dataset, replacing any dataset with the same id.
func (s *Store) Save(_ context.Context, ds core.Dataset) error {
	if ds.ID == "" {
		return errors.New("dataset id is required")
	}
	records := make([]core.BookingRecord, len(ds.Records))
	copy(records, ds.Records)
	ds.Records = records

	s.mu.Lock()
	defer s.mu.Unlock()
	s.datasets[ds.ID] = ds
	return nil
}

func (s *Store) Get(_ context.Context, id string) (core.Dataset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ds, ok := s.datasets[id]
	if !ok || ds.Expired(s.now()) {
		return core.Dataset{}, core.ErrDatasetNotFound
	}
	return ds, nil
}

// List returns live datasets, newest first.
func (s *Store) List(_ context.Context) ([]core.DatasetInfo, error) {
	s.mu.RLock()
	now := s.now()
	out := make([]core.DatasetInfo, 0, len(s.datasets))
	for _, ds := range s.datasets {
		if ds.Expired(now) {
			continue
		}
		out = append(out, ds.Info())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].UploadedAt.Equal(out[j].UploadedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].UploadedAt.After(out[j].UploadedAt)
	})
	return out, nil
}

func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.datasets[id]; !ok {
		return core.ErrDatasetNotFound
	}
	delete(s.datasets, id)
	return nil
}

func (s *Store) PurgeExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, ds := range s.datasets {
		if ds.Expired(now) {
			delete(s.datasets, id)
			n++
		}
	}
	return n, nil
}

func (s *Store) Close() error { return nil }
