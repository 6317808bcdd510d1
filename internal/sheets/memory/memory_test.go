package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"bookinglens/internal/core"
)

func dataset(id string, uploaded time.Time, ttl time.Duration) core.Dataset {
	return core.Dataset{
		ID:         id,
		Name:       id + ".csv",
		Source:     core.SourceUpload,
		UploadedAt: uploaded,
		ExpiresAt:  uploaded.Add(ttl),
		Records: []core.BookingRecord{{
			ServiceName: "A",
			ArrivalDate: core.ParseTimestamp("2024-01-01"),
			TotalPrice:  "10",
		}},
	}
}

func TestStoreSaveGetList(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New().WithClock(func() time.Time { return now })
	ctx := context.Background()

	if err := s.Save(ctx, dataset("old", now.Add(-2*time.Hour), 12*time.Hour)); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := s.Save(ctx, dataset("new", now.Add(-time.Hour), 12*time.Hour)); err != nil {
		t.Fatalf("save: %v", err)
	}

	ds, err := s.Get(ctx, "old")
	if err != nil || len(ds.Records) != 1 {
		t.Fatalf("unexpected get: %+v err=%v", ds, err)
	}

	list, err := s.List(ctx)
	if err != nil || len(list) != 2 || list[0].ID != "new" {
		t.Fatalf("expected newest first, got %+v err=%v", list, err)
	}
	if list[0].Years[0] != 2024 {
		t.Fatalf("expected info years, got %v", list[0].Years)
	}

	if err := s.Save(ctx, core.Dataset{}); err == nil {
		t.Fatalf("expected error for dataset without id")
	}
}

func TestStoreCopiesRecords(t *testing.T) {
	s := New()
	ds := dataset("a", time.Now(), time.Hour)
	if err := s.Save(context.Background(), ds); err != nil {
		t.Fatalf("save: %v", err)
	}
	ds.Records[0].ServiceName = "changed"
	got, _ := s.Get(context.Background(), "a")
	if got.Records[0].ServiceName != "A" {
		t.Fatalf("stored dataset must not share records with caller")
	}
}

func TestStoreExpiry(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := New().WithClock(func() time.Time { return now })
	ctx := context.Background()
	_ = s.Save(ctx, dataset("expired", now.Add(-13*time.Hour), 12*time.Hour))
	_ = s.Save(ctx, dataset("live", now, 12*time.Hour))

	if _, err := s.Get(ctx, "expired"); !errors.Is(err, core.ErrDatasetNotFound) {
		t.Fatalf("expected not found for expired dataset, got %v", err)
	}
	n, err := s.PurgeExpired(ctx, now)
	if err != nil || n != 1 {
		t.Fatalf("expected 1 purged, got %d err=%v", n, err)
	}
	if err := s.Delete(ctx, "expired"); !errors.Is(err, core.ErrDatasetNotFound) {
		t.Fatalf("expected not found after purge, got %v", err)
	}
	if err := s.Delete(ctx, "live"); err != nil {
		t.Fatalf("delete: %v", err)
	}
}
