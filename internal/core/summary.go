package core

import "encoding/json"

// Bucket holds the totals accumulated for one grouping key. RevenueCents and
// CommissionCents are the exact sums; the Total fields mirror them in EUR.
type Bucket struct {
	Key             string
	City            string // first city seen for the key
	TotalRevenue    float64
	TotalCommission float64
	RevenueCents    int64
	CommissionCents int64
	BookingCount    int
	CancelledCount  int
	TotalNights     int
}

// Add accumulates one record into the bucket.
func (b *Bucket) Add(r BookingRecord) {
	b.BookingCount++
	if r.Cancelled {
		b.CancelledCount++
	}
	b.RevenueCents += r.RevenueCents()
	b.CommissionCents += r.CommissionCents()
	b.TotalRevenue = CentsToFloat(b.RevenueCents)
	b.TotalCommission = CentsToFloat(b.CommissionCents)
	b.TotalNights += r.Nights()
	if b.City == "" {
		b.City = r.ServiceCity
	}
}

// AverageRevenue is 0 for an empty bucket.
func (b Bucket) AverageRevenue() float64 {
	if b.BookingCount == 0 {
		return 0
	}
	return b.TotalRevenue / float64(b.BookingCount)
}

// CancellationRate is the cancelled share of bookings in [0,1], 0 for an
// empty bucket.
func (b Bucket) CancellationRate() float64 {
	if b.BookingCount == 0 {
		return 0
	}
	return float64(b.CancelledCount) / float64(b.BookingCount)
}

func (b Bucket) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Key              string  `json:"key"`
		City             string  `json:"city,omitempty"`
		TotalRevenue     float64 `json:"totalRevenue"`
		TotalCommission  float64 `json:"totalCommission"`
		BookingCount     int     `json:"bookingCount"`
		CancelledCount   int     `json:"cancelledCount"`
		TotalNights      int     `json:"totalNights"`
		AverageRevenue   float64 `json:"averageRevenue"`
		CancellationRate float64 `json:"cancellationRate"`
	}{
		Key:              b.Key,
		City:             b.City,
		TotalRevenue:     b.TotalRevenue,
		TotalCommission:  b.TotalCommission,
		BookingCount:     b.BookingCount,
		CancelledCount:   b.CancelledCount,
		TotalNights:      b.TotalNights,
		AverageRevenue:   b.AverageRevenue(),
		CancellationRate: b.CancellationRate(),
	})
}

// BucketSet maps keys to buckets and remembers the order in which keys were
// first seen.
type BucketSet struct {
	keys    []string
	buckets map[string]*Bucket
}

func NewBucketSet() *BucketSet {
	return &BucketSet{buckets: make(map[string]*Bucket)}
}

// Acquire returns the bucket for key, creating an empty one on first use.
func (s *BucketSet) Acquire(key string) *Bucket {
	if b, ok := s.buckets[key]; ok {
		return b
	}
	b := &Bucket{Key: key}
	s.buckets[key] = b
	s.keys = append(s.keys, key)
	return b
}

// Get returns a copy of the bucket for key.
func (s *BucketSet) Get(key string) (Bucket, bool) {
	if s == nil {
		return Bucket{}, false
	}
	b, ok := s.buckets[key]
	if !ok {
		return Bucket{}, false
	}
	return *b, true
}

// Keys returns keys in first-seen order.
func (s *BucketSet) Keys() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.keys))
	copy(out, s.keys)
	return out
}

// Buckets returns copies of all buckets in first-seen order.
func (s *BucketSet) Buckets() []Bucket {
	if s == nil {
		return nil
	}
	out := make([]Bucket, 0, len(s.keys))
	for _, k := range s.keys {
		out = append(out, *s.buckets[k])
	}
	return out
}

func (s *BucketSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.keys)
}

// Deltas between a current and a prior bucket. A nil field means there was
// nothing to compare against.
type Deltas struct {
	Revenue          *float64 `json:"revenue,omitempty"`
	Bookings         *float64 `json:"bookings,omitempty"`
	Commission       *float64 `json:"commission,omitempty"`
	Nights           *float64 `json:"nights,omitempty"`
	CancellationRate *float64 `json:"cancellationRate,omitempty"` // absolute, in rate units
}

// Comparison pairs a current bucket with the prior bucket of the same key.
type Comparison struct {
	Current Bucket  `json:"current"`
	Prior   *Bucket `json:"prior,omitempty"`
	Deltas  Deltas  `json:"deltas"`
}
