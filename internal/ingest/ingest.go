// Package ingest reads booking exports into records.
package ingest

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"bookinglens/internal/core"
)

var (
	ErrEmptyFile     = errors.New("file contains no data")
	ErrMissingColumn = errors.New("missing required column")
)

type column int

const (
	colBookingDate column = iota
	colArrival
	colDeparture
	colServiceName
	colServiceCity
	colRegion
	colTotalPrice
	colCommission
	colCancelled
	numColumns
)

var columnNames = [numColumns]string{
	"booking date", "arrival", "departure", "service name", "city",
	"region", "total price", "commission", "cancelled",
}

// headerAliases are matched after normalizeHeader.
var headerAliases = map[string]column{
	"bookingdate":   colBookingDate,
	"buchungsdatum": colBookingDate,
	"gebucht":       colBookingDate,
	"gebuchtam":     colBookingDate,
	"created":       colBookingDate,

	"arrival":      colArrival,
	"arrivaldate":  colArrival,
	"anreise":      colArrival,
	"anreisedatum": colArrival,
	"checkin":      colArrival,

	"departure":     colDeparture,
	"departuredate": colDeparture,
	"abreise":       colDeparture,
	"abreisedatum":  colDeparture,
	"checkout":      colDeparture,

	"servicename":   colServiceName,
	"service":       colServiceName,
	"unterkunft":    colServiceName,
	"objekt":        colServiceName,
	"accommodation": colServiceName,
	"property":      colServiceName,

	"servicecity": colServiceCity,
	"city":        colServiceCity,
	"ort":         colServiceCity,
	"stadt":       colServiceCity,

	"region":     colRegion,
	"bundesland": colRegion,

	"totalprice":  colTotalPrice,
	"price":       colTotalPrice,
	"gesamtpreis": colTotalPrice,
	"preis":       colTotalPrice,
	"umsatz":      colTotalPrice,

	"commission": colCommission,
	"provision":  colCommission,

	"cancelled": colCancelled,
	"canceled":  colCancelled,
	"storniert": colCancelled,
	"storno":    colCancelled,
	"status":    colCancelled,
}

var required = []column{colBookingDate, colArrival, colDeparture, colServiceName, colTotalPrice}

// Result is the outcome of reading one file.
type Result struct {
	Records []core.BookingRecord
	// Skipped counts data rows without an accommodation name or with broken
	// quoting.
	Skipped int
}

// ReadCSV reads a CSV export. Both ';' and ',' delimited files are accepted
// and a UTF-8 byte order mark is ignored.
func ReadCSV(r io.Reader) (Result, error) {
	br := bufio.NewReader(r)
	if bom, err := br.Peek(3); err == nil && bytes.Equal(bom, []byte{0xEF, 0xBB, 0xBF}) {
		_, _ = br.Discard(3)
	}

	if _, err := br.Peek(1); err != nil {
		return Result{}, ErrEmptyFile
	}
	first, _ := br.Peek(br.Buffered())

	cr := csv.NewReader(br)
	cr.Comma = sniffDelimiter(first)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.TrimLeadingSpace = true

	var rows [][]string
	skipped := 0
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				skipped++
				continue
			}
			return Result{}, fmt.Errorf("read csv: %w", err)
		}
		rows = append(rows, row)
	}

	res, err := FromRows(rows)
	if err != nil {
		return Result{}, err
	}
	res.Skipped += skipped
	return res, nil
}

// FromRows converts a header row followed by data rows, e.g. a spreadsheet
// range, into records.
func FromRows(rows [][]string) (Result, error) {
	header := -1
	for i, row := range rows {
		if !blank(row) {
			header = i
			break
		}
	}
	if header == -1 {
		return Result{}, ErrEmptyFile
	}

	idx, err := mapHeader(rows[header])
	if err != nil {
		return Result{}, err
	}

	var res Result
	for _, row := range rows[header+1:] {
		if blank(row) {
			continue
		}
		rec, ok := toRecord(row, idx)
		if !ok {
			res.Skipped++
			continue
		}
		res.Records = append(res.Records, rec)
	}
	if len(res.Records) == 0 {
		return res, fmt.Errorf("%w: no data rows", ErrEmptyFile)
	}
	return res, nil
}

func mapHeader(header []string) ([numColumns]int, error) {
	var idx [numColumns]int
	for i := range idx {
		idx[i] = -1
	}
	for i, h := range header {
		c, ok := headerAliases[normalizeHeader(h)]
		if ok && idx[c] == -1 {
			idx[c] = i
		}
	}
	var missing []string
	for _, c := range required {
		if idx[c] == -1 {
			missing = append(missing, columnNames[c])
		}
	}
	if len(missing) > 0 {
		return idx, fmt.Errorf("%w: %s; got headers=%v", ErrMissingColumn, strings.Join(missing, ","), header)
	}
	return idx, nil
}

func toRecord(row []string, idx [numColumns]int) (core.BookingRecord, bool) {
	get := func(c column) string {
		i := idx[c]
		if i < 0 || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}
	name := get(colServiceName)
	if name == "" {
		return core.BookingRecord{}, false
	}
	return core.BookingRecord{
		BookingDate:   core.ParseTimestamp(get(colBookingDate)),
		ArrivalDate:   core.ParseTimestamp(get(colArrival)),
		DepartureDate: core.ParseTimestamp(get(colDeparture)),
		ServiceName:   name,
		ServiceCity:   get(colServiceCity),
		Region:        get(colRegion),
		TotalPrice:    core.Amount(get(colTotalPrice)),
		Commission:    core.Amount(get(colCommission)),
		Cancelled:     ParseBool(get(colCancelled)),
	}, true
}

// ParseBool accepts the usual spellings of yes and cancelled in German and
// English exports. Anything else is false.
func ParseBool(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "x", "y", "j", "ja", "yes", "true", "wahr",
		"storniert", "storno", "cancelled", "canceled":
		return true
	}
	return false
}

// normalizeHeader lowercases and drops everything but letters and digits so
// "Booking Date", "booking_date" and "bookingDate" match.
func normalizeHeader(h string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(h)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == 'ä' || r == 'ö' || r == 'ü' || r == 'ß' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// sniffDelimiter picks ';' or ',' by counting them outside quotes on the
// first line.
func sniffDelimiter(sample []byte) rune {
	if i := bytes.IndexByte(sample, '\n'); i >= 0 {
		sample = sample[:i]
	}
	semicolons, commas := 0, 0
	inQuotes := false
	for _, c := range sample {
		switch c {
		case '"':
			inQuotes = !inQuotes
		case ';':
			if !inQuotes {
				semicolons++
			}
		case ',':
			if !inQuotes {
				commas++
			}
		}
	}
	if semicolons >= commas && semicolons > 0 {
		return ';'
	}
	return ','
}

func blank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
