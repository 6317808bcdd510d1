package analytics

import "bookinglens/internal/core"

// KeyFunc extracts the grouping key of a record.
type KeyFunc func(core.BookingRecord) string

// MonthLayout is the key format used by ByMonth.
const MonthLayout = "2006-01"

// ByMonth groups by booking month, "yyyy-MM".
func ByMonth(r core.BookingRecord) string {
	return r.BookingDate.Time.Format(MonthLayout)
}

func ByAccommodation(r core.BookingRecord) string {
	return r.ServiceName
}

func ByCity(r core.BookingRecord) string {
	return r.ServiceCity
}

// Aggregate groups records by key in a single pass. Bucket sums do not
// depend on input order.
func Aggregate(records []core.BookingRecord, key KeyFunc) *core.BucketSet {
	set := core.NewBucketSet()
	for _, r := range records {
		set.Acquire(key(r)).Add(r)
	}
	return set
}

// Totals folds all records into one bucket with the given key.
func Totals(records []core.BookingRecord, key string) core.Bucket {
	b := core.Bucket{Key: key}
	for _, r := range records {
		b.Add(r)
	}
	// a totals bucket spans cities
	b.City = ""
	return b
}
