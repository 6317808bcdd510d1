package core

import (
	"errors"
	"math"
	"sort"
	"strings"
	"time"
)

type (
	// Timestamp is a parsed date that keeps the text it was parsed from.
	// Valid is false when the text matched none of the accepted layouts.
	Timestamp struct {
		Raw   string
		Time  time.Time
		Valid bool
	}

	BookingRecord struct {
		BookingDate   Timestamp
		ArrivalDate   Timestamp
		DepartureDate Timestamp
		ServiceName   string // accommodation, not unique
		ServiceCity   string
		Region        string // optional
		TotalPrice    Amount
		Commission    Amount
		Cancelled     bool
	}

	// Dataset is one uploaded record set. It is replaced wholesale on a new
	// upload and never mutated after creation.
	Dataset struct {
		ID          string
		Name        string
		Source      string
		UploadedAt  time.Time
		ExpiresAt   time.Time
		SkippedRows int
		Records     []BookingRecord
	}

	DatasetInfo struct {
		ID          string    `json:"id"`
		Name        string    `json:"name"`
		Source      string    `json:"source"`
		UploadedAt  time.Time `json:"uploadedAt"`
		ExpiresAt   time.Time `json:"expiresAt"`
		Records     int       `json:"records"`
		SkippedRows int       `json:"skippedRows"`
		Years       []int     `json:"years"`
		Regions     []string  `json:"regions"`
	}
)

const (
	SourceUpload = "upload"
	SourceSheets = "sheets"
)

var (
	ErrDatasetNotFound = errors.New("dataset not found")
	ErrEmptyDataset    = errors.New("dataset has no records")
	ErrInvalidPeriod   = errors.New("invalid period")
)

// timestampLayouts are tried in order. Single-digit day/month layouts also
// accept zero padded input.
var timestampLayouts = []string{
	"2006-01-02",
	"2.1.2006",
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2.1.2006 15:04:05",
	"2.1.2006 15:04",
	"2.1.06",
}

// ParseTimestamp never fails; an unrecognised value yields Valid == false.
func ParseTimestamp(raw string) Timestamp {
	ts := Timestamp{Raw: raw}
	s := strings.TrimSpace(raw)
	if s == "" {
		return ts
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			ts.Time = t
			ts.Valid = true
			return ts
		}
	}
	return ts
}

// NewTimestamp wraps an already parsed time.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Raw: t.Format("2006-01-02"), Time: t, Valid: true}
}

// Date returns midnight of the timestamp's calendar day.
func (t Timestamp) Date() time.Time {
	y, m, d := t.Time.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Time.Location())
}

// HasValidDates reports whether all three dates parsed.
func (r BookingRecord) HasValidDates() bool {
	return r.BookingDate.Valid && r.ArrivalDate.Valid && r.DepartureDate.Valid
}

// Nights is the number of whole days between arrival and departure, never
// negative. Cancelled bookings and unparseable dates contribute 0.
func (r BookingRecord) Nights() int {
	if r.Cancelled || !r.ArrivalDate.Valid || !r.DepartureDate.Valid {
		return 0
	}
	arrival := r.ArrivalDate.Date()
	departure := r.DepartureDate.Date()
	// Rounding absorbs DST shifts when dates carry a local zone.
	days := int(math.Round(departure.Sub(arrival).Hours() / 24))
	if days < 0 {
		return 0
	}
	return days
}

// Revenue is the total price, 0 when cancelled.
func (r BookingRecord) Revenue() float64 {
	if r.Cancelled {
		return 0
	}
	return r.TotalPrice.NonNegative()
}

// CommissionValue is the commission, 0 when cancelled.
func (r BookingRecord) CommissionValue() float64 {
	if r.Cancelled {
		return 0
	}
	return r.Commission.NonNegative()
}

// RevenueCents is Revenue in whole cents.
func (r BookingRecord) RevenueCents() int64 {
	if r.Cancelled {
		return 0
	}
	return r.TotalPrice.Cents()
}

// CommissionCents is CommissionValue in whole cents.
func (r BookingRecord) CommissionCents() int64 {
	if r.Cancelled {
		return 0
	}
	return r.Commission.Cents()
}

// Info summarises the dataset for listings and filter widgets.
func (d Dataset) Info() DatasetInfo {
	info := DatasetInfo{
		ID:          d.ID,
		Name:        d.Name,
		Source:      d.Source,
		UploadedAt:  d.UploadedAt,
		ExpiresAt:   d.ExpiresAt,
		Records:     len(d.Records),
		SkippedRows: d.SkippedRows,
		Years:       d.Years(),
		Regions:     d.Regions(),
	}
	return info
}

// Years returns the distinct arrival years in ascending order.
func (d Dataset) Years() []int {
	seen := map[int]struct{}{}
	var years []int
	for _, r := range d.Records {
		if !r.ArrivalDate.Valid {
			continue
		}
		y := r.ArrivalDate.Time.Year()
		if _, ok := seen[y]; ok {
			continue
		}
		seen[y] = struct{}{}
		years = append(years, y)
	}
	sort.Ints(years)
	return years
}

// Regions returns the distinct non-empty regions in first-seen order.
func (d Dataset) Regions() []string {
	seen := map[string]struct{}{}
	var regions []string
	for _, r := range d.Records {
		region := strings.TrimSpace(r.Region)
		if region == "" {
			continue
		}
		if _, ok := seen[region]; ok {
			continue
		}
		seen[region] = struct{}{}
		regions = append(regions, region)
	}
	return regions
}

// Expired reports whether the dataset outlived its session.
func (d Dataset) Expired(now time.Time) bool {
	return !d.ExpiresAt.IsZero() && now.After(d.ExpiresAt)
}
