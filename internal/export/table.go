// Package export renders report tables to CSV and PDF.
package export

import (
	"fmt"
	"strings"

	"bookinglens/internal/analytics"
	"bookinglens/internal/core"
	"bookinglens/internal/format"
)

// CellKind decides how a cell is formatted and aligned.
type CellKind int

const (
	KindText CellKind = iota
	KindCurrency
	KindCount
	KindPercent
	KindDelta
	KindPointDelta
)

// Numeric reports whether cells of this kind are right aligned.
func (k CellKind) Numeric() bool {
	return k != KindText
}

// Cell is one typed table value. Delta kinds read Delta, text reads Text and
// everything else reads Value.
type Cell struct {
	Kind  CellKind
	Text  string
	Value float64
	Delta *float64
}

func Text(s string) Cell         { return Cell{Kind: KindText, Text: s} }
func Currency(v float64) Cell    { return Cell{Kind: KindCurrency, Value: v} }
func Count(n int) Cell           { return Cell{Kind: KindCount, Value: float64(n)} }
func Percent(ratio float64) Cell { return Cell{Kind: KindPercent, Value: ratio} }
func Delta(d *float64) Cell      { return Cell{Kind: KindDelta, Delta: d} }
func PointDelta(d *float64) Cell { return Cell{Kind: KindPointDelta, Delta: d} }

// String formats the cell for display.
func (c Cell) String() string {
	switch c.Kind {
	case KindCurrency:
		return format.Currency(c.Value)
	case KindCount:
		return format.Number(int(c.Value))
	case KindPercent:
		return format.Percentage(c.Value)
	case KindDelta:
		return format.Delta(c.Delta)
	case KindPointDelta:
		return format.PointDelta(c.Delta)
	default:
		return c.Text
	}
}

type Column struct {
	Title string
	Kind  CellKind
	// Weight is the relative width in the PDF layout.
	Weight float64
}

// Table is the boundary between reports and renderers: ordered columns and
// rows of typed cells.
type Table struct {
	Title    string
	Subtitle string
	Columns  []Column
	Rows     [][]Cell
}

// Kind selects which report table to export.
type Kind string

const (
	Accommodations Kind = "accommodations"
	Cities         Kind = "cities"
	Months         Kind = "months"
)

// ParseKind accepts the table names used in URLs. An empty name selects
// accommodations.
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case "", Accommodations:
		return Accommodations, nil
	case Cities:
		return Cities, nil
	case Months:
		return Months, nil
	}
	return "", fmt.Errorf("unknown table %q: must be accommodations, cities or months", s)
}

// Build lays out one table of the report.
func Build(rep analytics.Report, kind Kind) (Table, error) {
	switch kind {
	case Accommodations:
		return comparisonTable(rep, "Top Unterkünfte", "Unterkunft", true, rep.TopAccommodations), nil
	case Cities:
		return comparisonTable(rep, "Top Orte", "Ort", false, rep.TopCities), nil
	case Months:
		items := make([]core.Comparison, 0, len(rep.Monthly))
		for _, m := range rep.Monthly {
			items = append(items, m.Comparison)
		}
		return comparisonTable(rep, "Monatsübersicht", "Monat", false, items), nil
	}
	return Table{}, fmt.Errorf("unknown table %q", kind)
}

func comparisonTable(rep analytics.Report, title, entity string, withCity bool, items []core.Comparison) Table {
	cols := []Column{{Title: entity, Kind: KindText, Weight: 3}}
	if withCity {
		cols = append(cols, Column{Title: "Ort", Kind: KindText, Weight: 2})
	}
	cols = append(cols,
		Column{Title: "Umsatz", Kind: KindCurrency, Weight: 1.6},
		Column{Title: "Buchungen", Kind: KindCount, Weight: 1.1},
		Column{Title: "Provision", Kind: KindCurrency, Weight: 1.5},
		Column{Title: "Nächte", Kind: KindCount, Weight: 1},
		Column{Title: "Stornoquote", Kind: KindPercent, Weight: 1.2},
	)
	comparing := rep.Comparing()
	if comparing {
		cols = append(cols,
			Column{Title: "Veränd. Umsatz", Kind: KindDelta, Weight: 1.1},
			Column{Title: "Veränd. Buchungen", Kind: KindDelta, Weight: 1.1},
			Column{Title: "Veränd. Provision", Kind: KindDelta, Weight: 1.1},
			Column{Title: "Veränd. Nächte", Kind: KindDelta, Weight: 1.1},
			Column{Title: "Veränd. Stornoquote", Kind: KindPointDelta, Weight: 1.2},
		)
	}

	rows := make([][]Cell, 0, len(items))
	for _, it := range items {
		b := it.Current
		row := []Cell{Text(b.Key)}
		if withCity {
			row = append(row, Text(b.City))
		}
		row = append(row,
			Currency(b.TotalRevenue),
			Count(b.BookingCount),
			Currency(b.TotalCommission),
			Count(b.TotalNights),
			Percent(b.CancellationRate()),
		)
		if comparing {
			d := it.Deltas
			row = append(row,
				Delta(d.Revenue),
				Delta(d.Bookings),
				Delta(d.Commission),
				Delta(d.Nights),
				PointDelta(d.CancellationRate),
			)
		}
		rows = append(rows, row)
	}

	return Table{
		Title:    title,
		Subtitle: subtitle(rep),
		Columns:  cols,
		Rows:     rows,
	}
}

func subtitle(rep analytics.Report) string {
	s := "Zeitraum: " + periodLabel(rep.Period)
	if r := strings.TrimSpace(rep.Query.Filter.Region); r != "" && !strings.EqualFold(r, analytics.AllRegions) {
		s += " · Region: " + r
	}
	if rep.ComparisonPeriod != nil {
		s += " · Vergleich: " + periodLabel(*rep.ComparisonPeriod)
	}
	return s
}

func periodLabel(p analytics.Period) string {
	switch {
	case p.IsYear():
		return fmt.Sprintf("%d", p.Year)
	case p.IsZero():
		return "gesamt"
	default:
		return p.Start.Format("02.01.2006") + " – " + p.End.Format("02.01.2006")
	}
}

// FileName builds a download name such as "bookinglens-cities-2024.csv".
func FileName(rep analytics.Report, kind Kind, ext string) string {
	period := "gesamt"
	switch p := rep.Period; {
	case p.IsYear():
		period = fmt.Sprintf("%d", p.Year)
	case !p.IsZero():
		period = p.Start.Format("20060102") + "-" + p.End.Format("20060102")
	}
	return fmt.Sprintf("bookinglens-%s-%s.%s", kind, period, ext)
}
