package export

import (
	"bytes"
	"fmt"

	"github.com/jung-kurt/gofpdf"
)

const (
	pdfMargin    = 10.0
	pdfRowHeight = 7.0
	pdfHeadRow   = 8.0
	// Past this many columns the table is laid out on landscape pages.
	pdfPortraitColumns = 6
)

// PDFExporter lays a dataset out as a paginated table. The header row repeats on every page
// and each page carries a "page n of m" footer.
type PDFExporter struct{}

// NewPDFExporter constructs a PDF exporter.
func NewPDFExporter() *PDFExporter {
	return &PDFExporter{}
}

type pdfTable struct {
	doc     *gofpdf.Fpdf
	tr      func(string) string
	headers []string
	width   float64
	bottom  float64
}

// Render returns the PDF bytes for data. title, when set, heads the first page.
func (e *PDFExporter) Render(data Dataset, title string) ([]byte, error) {
	if len(data.Headers) == 0 {
		return nil, ErrNoColumns
	}
	orientation := "P"
	if len(data.Headers) > pdfPortraitColumns {
		orientation = "L"
	}
	doc := gofpdf.New(orientation, "mm", "A4", "")
	doc.SetMargins(pdfMargin, 15, pdfMargin)
	doc.SetAutoPageBreak(false, 0)
	doc.AliasNbPages("")
	doc.SetFooterFunc(func() {
		doc.SetY(-12)
		doc.SetFont("Arial", "I", 8)
		doc.CellFormat(0, 6, fmt.Sprintf("page %d of {nb}", doc.PageNo()), "", 0, "R", false, 0, "")
	})

	pageW, pageH := doc.GetPageSize()
	t := &pdfTable{
		doc:     doc,
		tr:      doc.UnicodeTranslatorFromDescriptor(""),
		headers: data.Headers,
		width:   (pageW - 2*pdfMargin) / float64(len(data.Headers)),
		bottom:  pageH - 18,
	}

	doc.AddPage()
	if title != "" {
		doc.SetFont("Arial", "B", 14)
		doc.CellFormat(0, 10, t.tr(title), "", 1, "C", false, 0, "")
		doc.Ln(4)
	}
	t.head()
	for _, row := range data.Rows {
		if doc.GetY()+pdfRowHeight > t.bottom {
			doc.AddPage()
			t.head()
		}
		t.row(row)
	}

	var buf bytes.Buffer
	if err := doc.Output(&buf); err != nil {
		return nil, fmt.Errorf("render pdf: %w", err)
	}
	return buf.Bytes(), nil
}

func (t *pdfTable) head() {
	t.doc.SetFont("Arial", "B", 10)
	t.doc.SetFillColor(225, 230, 240)
	for _, h := range t.headers {
		t.doc.CellFormat(t.width, pdfHeadRow, t.tr(h), "1", 0, "C", true, 0, "")
	}
	t.doc.Ln(-1)
	t.doc.SetFont("Arial", "", 9)
}

func (t *pdfTable) row(row map[string]string) {
	for _, h := range t.headers {
		t.doc.CellFormat(t.width, pdfRowHeight, fitCell(t.doc, t.tr(row[h]), t.width-2), "1", 0, "", false, 0, "")
	}
	t.doc.Ln(-1)
}

// fitCell truncates value with an ellipsis until it fits width.
func fitCell(doc *gofpdf.Fpdf, value string, width float64) string {
	if doc.GetStringWidth(value) <= width {
		return value
	}
	runes := []rune(value)
	for len(runes) > 0 && doc.GetStringWidth(string(runes)+"...") > width {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}
