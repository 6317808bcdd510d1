package export

import (
	"fmt"
	"io"
	"time"

	"github.com/phpdave11/gofpdf"
)

const (
	pdfMargin    = 10.0
	pdfRowHeight = 6.0
	pdfFontSize  = 8.0
)

// WritePDF renders the table on A4 landscape pages and repeats the header
// row on every page.
func WritePDF(w io.Writer, t Table, generated time.Time) error {
	pdf := gofpdf.New("L", "mm", "A4", "")
	pdf.SetMargins(pdfMargin, pdfMargin, pdfMargin)
	pdf.SetAutoPageBreak(false, pdfMargin)
	pdf.AliasNbPages("{nb}")
	// core fonts are cp1252; this maps €, umlauts and dashes
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(t.Title, true)
	pdf.SetCreator("bookinglens", true)

	pageW, pageH := pdf.GetPageSize()
	widths := columnWidths(t.Columns, pageW-2*pdfMargin)

	pdf.SetFooterFunc(func() {
		pdf.SetY(-pdfMargin)
		pdf.SetFont("Arial", "I", 7)
		pdf.SetTextColor(120, 120, 120)
		half := (pageW - 2*pdfMargin) / 2
		pdf.CellFormat(half, 5, fmt.Sprintf("Erstellt am %s", generated.Format("02.01.2006 15:04")), "", 0, "L", false, 0, "")
		pdf.CellFormat(half, 5, fmt.Sprintf("Seite %d / {nb}", pdf.PageNo()), "", 0, "R", false, 0, "")
	})

	header := func() {
		pdf.SetFont("Arial", "B", pdfFontSize)
		pdf.SetFillColor(230, 236, 245)
		pdf.SetTextColor(0, 0, 0)
		for i, c := range t.Columns {
			align := "L"
			if c.Kind.Numeric() {
				align = "R"
			}
			pdf.CellFormat(widths[i], pdfRowHeight+1, tr(c.Title), "B", 0, align, true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Arial", "", pdfFontSize)
	}

	pdf.AddPage()
	pdf.SetFont("Arial", "B", 14)
	pdf.CellFormat(0, 8, tr(t.Title), "", 1, "L", false, 0, "")
	if t.Subtitle != "" {
		pdf.SetFont("Arial", "", 9)
		pdf.CellFormat(0, 5, tr(t.Subtitle), "", 1, "L", false, 0, "")
	}
	pdf.Ln(2)
	header()

	if len(t.Rows) == 0 {
		pdf.SetFont("Arial", "I", pdfFontSize)
		pdf.CellFormat(0, pdfRowHeight, tr("Keine Daten für die Auswahl."), "", 1, "L", false, 0, "")
	}

	for i, row := range t.Rows {
		if pdf.GetY()+pdfRowHeight > pageH-2*pdfMargin {
			pdf.AddPage()
			header()
		}
		fill := i%2 == 1
		pdf.SetFillColor(247, 247, 247)
		for j, cell := range row {
			if j >= len(widths) {
				break
			}
			align := "L"
			if cell.Kind.Numeric() {
				align = "R"
			}
			pdf.CellFormat(widths[j], pdfRowHeight, fit(pdf, tr(cell.String()), widths[j]), "", 0, align, fill, 0, "")
		}
		pdf.Ln(-1)
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("render pdf: %w", err)
	}
	if err := pdf.Output(w); err != nil {
		return fmt.Errorf("write pdf: %w", err)
	}
	return nil
}

func columnWidths(cols []Column, total float64) []float64 {
	sum := 0.0
	for _, c := range cols {
		sum += weight(c)
	}
	widths := make([]float64, len(cols))
	for i, c := range cols {
		widths[i] = total * weight(c) / sum
	}
	return widths
}

func weight(c Column) float64 {
	if c.Weight <= 0 {
		return 1
	}
	return c.Weight
}

// fit shortens already translated single-byte text that would overflow its
// cell.
func fit(pdf *gofpdf.Fpdf, s string, width float64) string {
	const padding = 2.0
	if pdf.GetStringWidth(s) <= width-padding {
		return s
	}
	b := []byte(s)
	for len(b) > 1 {
		b = b[:len(b)-1]
		if pdf.GetStringWidth(string(b)+"...") <= width-padding {
			break
		}
	}
	return string(b) + "..."
}
