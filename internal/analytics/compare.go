package analytics

import (
	"math"

	"bookinglens/internal/core"
)

// Compare pairs every current bucket with the prior bucket of the same key,
// in current order. Keys that exist only in prior are not returned; use
// DroppedKeys to count them.
func Compare(current, prior *core.BucketSet) []core.Comparison {
	buckets := current.Buckets()
	out := make([]core.Comparison, 0, len(buckets))
	for _, cur := range buckets {
		c := core.Comparison{Current: cur}
		if p, ok := prior.Get(cur.Key); ok {
			c.Prior = &p
			c.Deltas = Delta(cur, p)
		}
		out = append(out, c)
	}
	return out
}

// CompareBucket compares two single buckets, e.g. period totals. A nil prior
// leaves every delta unset.
func CompareBucket(current core.Bucket, prior *core.Bucket) core.Comparison {
	c := core.Comparison{Current: current}
	if prior != nil {
		p := *prior
		c.Prior = &p
		c.Deltas = Delta(current, p)
	}
	return c
}

// Delta computes relative changes for sums and counts and the absolute change
// of the cancellation rate.
func Delta(cur, prior core.Bucket) core.Deltas {
	return core.Deltas{
		Revenue:          relativeDelta(cur.TotalRevenue, prior.TotalRevenue),
		Bookings:         relativeDelta(float64(cur.BookingCount), float64(prior.BookingCount)),
		Commission:       relativeDelta(cur.TotalCommission, prior.TotalCommission),
		Nights:           relativeDelta(float64(cur.TotalNights), float64(prior.TotalNights)),
		CancellationRate: absoluteDelta(cur, prior),
	}
}

// DroppedKeys counts keys of prior that have no current counterpart.
func DroppedKeys(current, prior *core.BucketSet) int {
	n := 0
	for _, k := range prior.Keys() {
		if _, ok := current.Get(k); !ok {
			n++
		}
	}
	return n
}

func relativeDelta(cur, prior float64) *float64 {
	if prior == 0 {
		return nil
	}
	return finite((cur - prior) / prior)
}

func absoluteDelta(cur, prior core.Bucket) *float64 {
	// a prior bucket with no bookings has no rate to compare against
	if prior.BookingCount == 0 {
		return nil
	}
	return finite(cur.CancellationRate() - prior.CancellationRate())
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}
