// Package analytics turns booking records into buckets, comparisons and
// rankings. Everything in here is synchronous and works on immutable input.
package analytics

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bookinglens/internal/core"
)

const (
	// AllRegions selects every region.
	AllRegions = "all"
	// AllYears selects every arrival year.
	AllYears = "all"
)

// Period is either an inclusive date range or a calendar year. The zero
// Period matches everything.
type Period struct {
	Start time.Time `json:"start,omitempty"`
	End   time.Time `json:"end,omitempty"`
	Year  int       `json:"year,omitempty"`
}

// RangePeriod normalizes start to the beginning and end to the last
// nanosecond of their days.
func RangePeriod(start, end time.Time) (Period, error) {
	s := startOfDay(start)
	e := startOfDay(end).AddDate(0, 0, 1).Add(-time.Nanosecond)
	if e.Before(s) {
		return Period{}, fmt.Errorf("%w: end %s before start %s", core.ErrInvalidPeriod,
			end.Format("2006-01-02"), start.Format("2006-01-02"))
	}
	return Period{Start: s, End: e}, nil
}

func YearPeriod(year int) Period {
	return Period{Year: year}
}

func (p Period) IsZero() bool {
	return p.Year == 0 && p.Start.IsZero() && p.End.IsZero()
}

func (p Period) IsYear() bool {
	return p.Year != 0
}

// Contains reports whether t falls inside the period.
func (p Period) Contains(t time.Time) bool {
	switch {
	case p.Year != 0:
		return t.Year() == p.Year
	case p.IsZero():
		return true
	default:
		return !t.Before(p.Start) && !t.After(p.End)
	}
}

// PreviousYear shifts the period back by one year.
func (p Period) PreviousYear() Period {
	switch {
	case p.Year != 0:
		return Period{Year: p.Year - 1}
	case p.IsZero():
		return p
	default:
		return Period{Start: p.Start.AddDate(-1, 0, 0), End: p.End.AddDate(-1, 0, 0)}
	}
}

// Bounds returns the first and last instant of the period. ok is false for
// the zero period.
func (p Period) Bounds() (start, end time.Time, ok bool) {
	switch {
	case p.Year != 0:
		start = time.Date(p.Year, time.January, 1, 0, 0, 0, 0, time.UTC)
		return start, start.AddDate(1, 0, 0).Add(-time.Nanosecond), true
	case p.IsZero():
		return time.Time{}, time.Time{}, false
	default:
		return p.Start, p.End, true
	}
}

func (p Period) String() string {
	switch {
	case p.Year != 0:
		return fmt.Sprintf("%d", p.Year)
	case p.IsZero():
		return "all"
	default:
		return p.Start.Format("2006-01-02") + ".." + p.End.Format("2006-01-02")
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// Filter selects records by arrival date and region.
type Filter struct {
	Period Period `json:"period"`
	Region string `json:"region,omitempty"`
}

func (f Filter) matchesRegion(r core.BookingRecord) bool {
	region := strings.TrimSpace(f.Region)
	if region == "" || strings.EqualFold(region, AllRegions) {
		return true
	}
	return strings.TrimSpace(r.Region) == region
}

// FilterRecords returns the records matching f, in input order. Records with
// an unparseable date are dropped and reported to logger; a nil logger uses
// slog.Default.
func FilterRecords(records []core.BookingRecord, f Filter, logger *slog.Logger) []core.BookingRecord {
	if logger == nil {
		logger = slog.Default()
	}
	out := make([]core.BookingRecord, 0, len(records))
	dropped := 0
	for i, r := range records {
		if !r.HasValidDates() {
			dropped++
			logger.Warn("dropping record with unparseable date",
				"index", i,
				"service", r.ServiceName,
				"booking_date", r.BookingDate.Raw,
				"arrival_date", r.ArrivalDate.Raw,
				"departure_date", r.DepartureDate.Raw,
			)
			continue
		}
		if !f.Period.Contains(r.ArrivalDate.Time) {
			continue
		}
		if !f.matchesRegion(r) {
			continue
		}
		out = append(out, r)
	}
	if dropped > 0 {
		logger.Warn("records dropped by filter", "dropped", dropped, "total", len(records))
	}
	return out
}
