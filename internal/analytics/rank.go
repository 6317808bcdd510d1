package analytics

import (
	"sort"

	"bookinglens/internal/core"
)

// TopN is the number of entries shown in ranked tables.
const TopN = 30

// Rank sorts a copy of items by descending revenue and keeps the first n.
// Ties keep input order. n <= 0 keeps everything.
func Rank[T any](items []T, revenue func(T) float64, n int) []T {
	out := make([]T, len(items))
	copy(out, items)
	sort.SliceStable(out, func(i, j int) bool {
		return revenue(out[i]) > revenue(out[j])
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out
}

// RankBuckets ranks buckets by total revenue.
func RankBuckets(buckets []core.Bucket, n int) []core.Bucket {
	return Rank(buckets, func(b core.Bucket) float64 { return b.TotalRevenue }, n)
}

// RankComparisons ranks comparisons by the current period's revenue.
func RankComparisons(items []core.Comparison, n int) []core.Comparison {
	return Rank(items, func(c core.Comparison) float64 { return c.Current.TotalRevenue }, n)
}
