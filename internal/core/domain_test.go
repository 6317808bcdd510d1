package core

import (
	"testing"
	"time"
)

func TestParseTimestamp(t *testing.T) {
	cases := []struct {
		in    string
		want  time.Time
		valid bool
	}{
		{"2024-03-05", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), true},
		{"05.03.2024", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), true},
		{"5.3.2024", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), true},
		{"05.03.2024 14:30", time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC), true},
		{"2024-03-05 14:30:00", time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC), true},
		{"2024-03-05T14:30:00Z", time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC), true},
		{"05.03.24", time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), true},
		{"", time.Time{}, false},
		{"next tuesday", time.Time{}, false},
		{"2024-13-45", time.Time{}, false},
	}
	for _, tc := range cases {
		got := ParseTimestamp(tc.in)
		if got.Valid != tc.valid {
			t.Fatalf("%q expected valid=%v", tc.in, tc.valid)
		}
		if tc.valid && !got.Time.Equal(tc.want) {
			t.Fatalf("%q expected %v, got %v", tc.in, tc.want, got.Time)
		}
		if got.Raw != tc.in {
			t.Fatalf("raw text not kept: %q", got.Raw)
		}
	}
}

func record(arrival, departure string) BookingRecord {
	return BookingRecord{
		BookingDate:   ParseTimestamp("2024-01-01"),
		ArrivalDate:   ParseTimestamp(arrival),
		DepartureDate: ParseTimestamp(departure),
		TotalPrice:    "100",
		Commission:    "10",
	}
}

func TestNights(t *testing.T) {
	cases := []struct {
		r    BookingRecord
		want int
	}{
		{record("2024-06-01", "2024-06-04"), 3},
		{record("2024-06-01", "2024-06-01"), 0},
		{record("2024-06-04", "2024-06-01"), 0}, // inverted
		{record("01.06.2024 15:00", "04.06.2024 10:00"), 3},
		{record("2024-06-01", "garbage"), 0},
	}
	for i, tc := range cases {
		if got := tc.r.Nights(); got != tc.want {
			t.Fatalf("case %d expected %d nights, got %d", i, tc.want, got)
		}
	}

	cancelled := record("2024-06-01", "2024-06-04")
	cancelled.Cancelled = true
	if cancelled.Nights() != 0 || cancelled.Revenue() != 0 || cancelled.CommissionValue() != 0 {
		t.Fatalf("cancelled record must not contribute")
	}
}

func TestDatasetYearsAndRegions(t *testing.T) {
	a := record("2024-06-01", "2024-06-02")
	a.Region = "Bayern"
	b := record("2023-06-01", "2023-06-02")
	b.Region = " "
	c := record("2024-01-01", "2024-01-02")
	c.Region = "Tirol"
	d := record("broken", "2024-01-02")
	d.Region = "Bayern"

	ds := Dataset{Records: []BookingRecord{a, b, c, d}}
	years := ds.Years()
	if len(years) != 2 || years[0] != 2023 || years[1] != 2024 {
		t.Fatalf("unexpected years %v", years)
	}
	regions := ds.Regions()
	if len(regions) != 2 || regions[0] != "Bayern" || regions[1] != "Tirol" {
		t.Fatalf("unexpected regions %v", regions)
	}
	info := ds.Info()
	if info.Records != 4 {
		t.Fatalf("expected 4 records, got %d", info.Records)
	}
}

func TestDatasetExpired(t *testing.T) {
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	if (Dataset{}).Expired(now) {
		t.Fatalf("dataset without expiry must not expire")
	}
	ds := Dataset{ExpiresAt: now.Add(-time.Minute)}
	if !ds.Expired(now) {
		t.Fatalf("expected expired")
	}
}
