package export

import (
	"fmt"
	"io"
	"strings"
	"time"
)

// Format is an export file format.
type Format string

const (
	CSV Format = "csv"
	PDF Format = "pdf"
)

// ParseFormat accepts "csv" and "pdf" in any case.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case CSV:
		return CSV, nil
	case PDF:
		return PDF, nil
	}
	return "", fmt.Errorf("unknown export format %q: must be csv or pdf", s)
}

// ContentType is the MIME type served for the format.
func (f Format) ContentType() string {
	if f == PDF {
		return "application/pdf"
	}
	return "text/csv; charset=utf-8"
}

// Render writes t in the given format.
func Render(w io.Writer, t Table, f Format, generated time.Time) error {
	switch f {
	case CSV:
		return WriteCSV(w, t)
	case PDF:
		return WritePDF(w, t, generated)
	}
	return fmt.Errorf("unknown export format %q", f)
}
