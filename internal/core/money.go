// Package core provides money parsing and handling utilities.
//
// Amounts arrive as text from CSV uploads and spreadsheets. They are kept as
// uploaded and coerced on read, so a malformed price never fails a whole
// aggregation. Totals are summed in integer cents.
package core

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// Amount is a monetary value in EUR as it was uploaded.
type Amount string

// NewAmount formats a float as an Amount, mainly for tests and imports that
// already carry numbers.
func NewAmount(v float64) Amount {
	return Amount(strconv.FormatFloat(v, 'f', -1, 64))
}

// Value coerces the amount to a float. Unparseable text yields 0.
//
// Both decimal separators are accepted. When dot and comma both occur the
// one appearing last is the decimal separator; a separator that occurs more
// than once is a thousands separator. A currency symbol or code may lead or
// trail the number; letters anywhere else make the amount unparseable.
//
// Examples:
//
//	Amount("1.234,56").Value() -> 1234.56
//	Amount("1,234.56").Value() -> 1234.56
//	Amount("12,5").Value()     -> 12.5
//	Amount("€ 99").Value()     -> 99
//	Amount("1e3").Value()      -> 0
//	Amount("n/a").Value()      -> 0
func (a Amount) Value() float64 {
	return a.Decimal().InexactFloat64()
}

// Decimal parses the amount exactly. Unparseable text yields zero.
func (a Amount) Decimal() decimal.Decimal {
	s := normalizeDecimal(string(a))
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// Cents rounds the amount to whole cents, clamped at zero.
// Use cents for sums so totals do not depend on record order.
func (a Amount) Cents() int64 {
	d := a.Decimal()
	if d.IsNegative() {
		return 0
	}
	return d.Shift(2).Round(0).IntPart()
}

// CentsToFloat converts a cent total back to EUR for display and ratios.
func CentsToFloat(cents int64) float64 {
	return decimal.New(cents, -2).InexactFloat64()
}

// NonNegative is Value clamped at zero.
func (a Amount) NonNegative() float64 {
	v := a.Value()
	if v < 0 {
		return 0
	}
	return v
}

func isCurrencyRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsSpace(r) || unicode.Is(unicode.Sc, r)
}

func normalizeDecimal(raw string) string {
	var b strings.Builder
	for _, r := range strings.TrimFunc(raw, isCurrencyRune) {
		switch {
		case unicode.IsDigit(r), r == '.', r == ',', r == '-':
			b.WriteRune(r)
		case unicode.IsSpace(r), r == '\'':
			// grouping blanks
		default:
			return ""
		}
	}
	s := b.String()
	if s == "" {
		return ""
	}

	dots := strings.Count(s, ".")
	commas := strings.Count(s, ",")
	switch {
	case dots > 0 && commas > 0:
		if strings.LastIndex(s, ",") > strings.LastIndex(s, ".") {
			s = strings.ReplaceAll(s, ".", "")
			s = strings.Replace(s, ",", ".", 1)
		} else {
			s = strings.ReplaceAll(s, ",", "")
		}
	case commas > 1:
		s = strings.ReplaceAll(s, ",", "")
	case commas == 1:
		s = strings.Replace(s, ",", ".", 1)
	case dots > 1:
		s = strings.ReplaceAll(s, ".", "")
	}
	return s
}
