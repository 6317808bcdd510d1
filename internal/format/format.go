// Package format renders numbers the way German dashboards show them.
package format

import (
	"math"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Missing is shown for values that have nothing to compare against.
const Missing = "–"

var printer = message.NewPrinter(language.German)

// Currency formats an amount in EUR, e.g. "1.234,56 €".
func Currency(v float64) string {
	return printer.Sprintf("%.2f", clean(v)) + " €"
}

// Percentage formats a 0..1 ratio with one decimal, e.g. "12,3 %".
func Percentage(ratio float64) string {
	return printer.Sprintf("%.1f", clean(ratio)*100) + " %"
}

// Number formats a count with thousands grouping, e.g. "1.234".
func Number(n int) string {
	return printer.Sprintf("%d", n)
}

// Delta formats a relative change as a signed percentage, e.g. "+12,3 %".
// A nil delta renders as Missing.
func Delta(d *float64) string {
	if d == nil {
		return Missing
	}
	return printer.Sprintf("%+.1f", clean(*d)*100) + " %"
}

// PointDelta formats an absolute change of a rate in percentage points,
// e.g. "+2,0 pp".
func PointDelta(d *float64) string {
	if d == nil {
		return Missing
	}
	return printer.Sprintf("%+.1f", clean(*d)*100) + " pp"
}

func clean(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	// avoid "-0,0"
	if v == 0 {
		return 0
	}
	return v
}
