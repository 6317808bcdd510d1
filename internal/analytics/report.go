package analytics

import (
	"fmt"
	"log/slog"
	"sort"
	"time"

	"bookinglens/internal/core"
)

// Query is the user's selection on the dashboard.
type Query struct {
	Filter  Filter `json:"filter"`
	Compare bool   `json:"compare"`
	// ComparePeriod overrides the default comparison with the same period of
	// the previous year.
	ComparePeriod Period `json:"comparePeriod"`
}

// Key identifies the query for memoization.
func (q Query) Key() string {
	return fmt.Sprintf("p=%s|r=%s|c=%t|cp=%s", q.Filter.Period, q.Filter.Region, q.Compare, q.ComparePeriod)
}

// State is one immutable dashboard state. Derive a new one with WithQuery
// instead of changing it.
type State struct {
	dataset core.Dataset
	query   Query
}

func NewState(ds core.Dataset, q Query) State {
	return State{dataset: ds, query: q}
}

func (s State) WithQuery(q Query) State {
	return State{dataset: s.dataset, query: q}
}

func (s State) Dataset() core.Dataset { return s.dataset }
func (s State) Query() Query          { return s.query }

// Key identifies the state for memoization.
func (s State) Key() string {
	return s.dataset.ID + "|" + s.query.Key()
}

// ComparisonPeriod returns the period compared against and whether a
// comparison applies at all.
func (s State) ComparisonPeriod() (Period, bool) {
	if !s.query.Compare {
		return Period{}, false
	}
	if !s.query.ComparePeriod.IsZero() {
		return s.query.ComparePeriod, true
	}
	if s.query.Filter.Period.IsZero() {
		return Period{}, false
	}
	return s.query.Filter.Period.PreviousYear(), true
}

// MonthPoint is one month of the chart series. PriorMonth is the month it is
// compared with.
type MonthPoint struct {
	Month      string `json:"month"`
	PriorMonth string `json:"priorMonth,omitempty"`
	core.Comparison
}

// DroppedPrior counts prior-period entities with no current counterpart.
type DroppedPrior struct {
	Accommodations int `json:"accommodations"`
	Cities         int `json:"cities"`
	Months         int `json:"months"`
}

type Report struct {
	DatasetID         string            `json:"datasetId"`
	Query             Query             `json:"query"`
	Period            Period            `json:"period"`
	ComparisonPeriod  *Period           `json:"comparisonPeriod,omitempty"`
	Records           int               `json:"records"`
	PriorRecords      int               `json:"priorRecords,omitempty"`
	KPIs              core.Comparison   `json:"kpis"`
	Monthly           []MonthPoint      `json:"monthly"`
	TopAccommodations []core.Comparison `json:"topAccommodations"`
	TopCities         []core.Comparison `json:"topCities"`
	DroppedPrior      DroppedPrior      `json:"droppedPrior"`
}

// Comparing reports whether the report carries prior-period data.
func (r Report) Comparing() bool {
	return r.ComparisonPeriod != nil
}

// Compute derives the full dashboard for a state. It never fails; records
// that cannot be dated are dropped and logged.
func Compute(s State, logger *slog.Logger) Report {
	if logger == nil {
		logger = slog.Default()
	}
	q := s.query
	current := FilterRecords(s.dataset.Records, q.Filter, logger)

	rep := Report{
		DatasetID: s.dataset.ID,
		Query:     q,
		Period:    q.Filter.Period,
		Records:   len(current),
	}

	accommodations := Aggregate(current, ByAccommodation)
	cities := Aggregate(current, ByCity)
	months := Aggregate(current, ByMonth)
	totals := Totals(current, "total")

	cp, comparing := s.ComparisonPeriod()
	if !comparing {
		rep.KPIs = CompareBucket(totals, nil)
		rep.TopAccommodations = RankComparisons(Compare(accommodations, nil), TopN)
		rep.TopCities = RankComparisons(Compare(cities, nil), TopN)
		rep.Monthly = monthlySeries(months, nil, 0)
		return rep
	}

	// the prior pass runs on the full record set again, so dropped records
	// are logged once per pass
	prior := FilterRecords(s.dataset.Records, Filter{Period: cp, Region: q.Filter.Region}, logger)
	rep.ComparisonPeriod = &cp
	rep.PriorRecords = len(prior)

	priorAccommodations := Aggregate(prior, ByAccommodation)
	priorCities := Aggregate(prior, ByCity)
	priorMonths := Aggregate(prior, ByMonth)
	priorTotals := Totals(prior, "total")

	rep.KPIs = CompareBucket(totals, &priorTotals)
	rep.TopAccommodations = RankComparisons(Compare(accommodations, priorAccommodations), TopN)
	rep.TopCities = RankComparisons(Compare(cities, priorCities), TopN)

	offset := monthOffset(q.Filter.Period, cp)
	rep.Monthly = monthlySeries(months, priorMonths, offset)
	rep.DroppedPrior = DroppedPrior{
		Accommodations: DroppedKeys(accommodations, priorAccommodations),
		Cities:         DroppedKeys(cities, priorCities),
		Months:         droppedMonths(months, priorMonths, offset),
	}
	return rep
}

// monthlySeries returns the current months in chronological order, each
// matched with the month offset months earlier in prior.
func monthlySeries(current, prior *core.BucketSet, offset int) []MonthPoint {
	keys := current.Keys()
	sort.Strings(keys)
	out := make([]MonthPoint, 0, len(keys))
	for _, k := range keys {
		cur, _ := current.Get(k)
		mp := MonthPoint{Month: k}
		if prior == nil {
			mp.Comparison = CompareBucket(cur, nil)
			out = append(out, mp)
			continue
		}
		mp.PriorMonth = shiftMonth(k, -offset)
		if p, ok := prior.Get(mp.PriorMonth); ok {
			mp.Comparison = CompareBucket(cur, &p)
		} else {
			mp.Comparison = CompareBucket(cur, nil)
		}
		out = append(out, mp)
	}
	return out
}

func droppedMonths(current, prior *core.BucketSet, offset int) int {
	n := 0
	for _, k := range prior.Keys() {
		if _, ok := current.Get(shiftMonth(k, offset)); !ok {
			n++
		}
	}
	return n
}

// monthOffset is the number of months from the comparison period's start to
// the current period's start. An open current period is treated as one year
// after the comparison period.
func monthOffset(current, comparison Period) int {
	cs, _, okc := current.Bounds()
	ps, _, okp := comparison.Bounds()
	if !okc || !okp {
		return 12
	}
	return (cs.Year()*12 + int(cs.Month())) - (ps.Year()*12 + int(ps.Month()))
}

// shiftMonth moves a "yyyy-MM" key by delta months. Keys that do not parse
// are returned unchanged.
func shiftMonth(key string, delta int) string {
	t, err := time.Parse(MonthLayout, key)
	if err != nil {
		return key
	}
	return t.AddDate(0, delta, 0).Format(MonthLayout)
}
