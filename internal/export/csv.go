package export

import (
	"encoding/csv"
	"fmt"
	"io"
)

// utf8BOM makes spreadsheet tools detect UTF-8.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// WriteCSV writes the table with ';' as separator and German number
// formatting, which is what German spreadsheet tools expect.
func WriteCSV(w io.Writer, t Table) error {
	if _, err := w.Write(utf8BOM); err != nil {
		return fmt.Errorf("failed to write CSV BOM: %w", err)
	}

	writer := csv.NewWriter(w)
	writer.Comma = ';'

	header := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		header[i] = c.Title
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for i, row := range t.Rows {
		record := make([]string, len(row))
		for j, cell := range row {
			record[j] = cell.String()
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write CSV row %d: %w", i, err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}
