package report

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/phpdave11/gofpdf"

	"kasiran/admin/internal/domain"
)

type Column struct {
	Field string
	Label string
	Money bool
}

type ListDocument struct {
	Title       string
	Resource    string
	Columns     []Column
	Rows        []domain.Record
	Meta        domain.PaginationMeta
	Search      string
	GeneratedBy string
	GeneratedAt time.Time
}

// ListPDF renders the rows currently on a list page as a table. Wide tables
// switch to landscape.
func ListPDF(doc ListDocument) ([]byte, string, error) {
	if len(doc.Columns) == 0 {
		return nil, "", fmt.Errorf("report %s has no columns", doc.Resource)
	}
	if doc.GeneratedAt.IsZero() {
		doc.GeneratedAt = time.Now()
	}

	orientation := "P"
	if len(doc.Columns) > 5 {
		orientation = "L"
	}
	pdf := gofpdf.New(orientation, "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(doc.Title, true)
	pdf.SetMargins(10, 12, 10)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-12)
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(0, 6, fmt.Sprintf("Halaman %d/{nb}", pdf.PageNo()), "", 0, "C", false, 0, "")
	})
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 16)
	pdf.Cell(0, 9, tr(safe(doc.Title, doc.Resource)))
	pdf.Ln(10)

	pdf.SetFont("Helvetica", "", 10)
	pdf.Cell(0, 6, "Dicetak    : "+doc.GeneratedAt.Format("2006-01-02 15:04"))
	pdf.Ln(6)
	if doc.GeneratedBy != "" {
		pdf.Cell(0, 6, tr("Oleh       : "+doc.GeneratedBy))
		pdf.Ln(6)
	}
	if doc.Search != "" {
		pdf.Cell(0, 6, tr("Pencarian  : "+doc.Search))
		pdf.Ln(6)
	}
	pdf.Cell(0, 6, fmt.Sprintf("Halaman data %d dari %d, total %d baris", doc.Meta.CurrentPage, maxInt(doc.Meta.LastPage, 1), doc.Meta.Total))
	pdf.Ln(9)

	pageWidth, _ := pdf.GetPageSize()
	left, _, right, _ := pdf.GetMargins()
	noWidth := 10.0
	colWidth := (pageWidth - left - right - noWidth) / float64(len(doc.Columns))

	header := func() {
		pdf.SetFont("Helvetica", "B", 9)
		pdf.SetFillColor(230, 230, 230)
		pdf.CellFormat(noWidth, 7, "No", "1", 0, "C", true, 0, "")
		for _, col := range doc.Columns {
			pdf.CellFormat(colWidth, 7, tr(fit(pdf, col.Label, colWidth)), "1", 0, "L", true, 0, "")
		}
		pdf.Ln(-1)
		pdf.SetFont("Helvetica", "", 9)
	}
	header()

	first := maxInt(doc.Meta.From, 1)
	_, pageHeight := pdf.GetPageSize()
	_, _, _, bottom := pdf.GetMargins()
	for i, row := range doc.Rows {
		if pdf.GetY()+7 > pageHeight-bottom-12 {
			pdf.AddPage()
			header()
		}
		pdf.CellFormat(noWidth, 7, fmt.Sprintf("%d", first+i), "1", 0, "C", false, 0, "")
		for _, col := range doc.Columns {
			value := row.Text(col.Field)
			align := "L"
			if col.Money {
				value = formatRupiah(parseAmount(value))
				align = "R"
			}
			pdf.CellFormat(colWidth, 7, tr(fit(pdf, safe(value, "-"), colWidth)), "1", 0, align, false, 0, "")
		}
		pdf.Ln(-1)
	}
	if len(doc.Rows) == 0 {
		pdf.SetFont("Helvetica", "I", 10)
		pdf.CellFormat(0, 8, "Tidak ada data", "1", 1, "C", false, 0, "")
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", err
	}
	filename := fmt.Sprintf("%s_%s_hal%d.pdf", strings.ToUpper(safeFilenamePart(doc.Resource)), doc.GeneratedAt.Format("20060102"), maxInt(doc.Meta.CurrentPage, 1))
	return buf.Bytes(), filename, nil
}

// SummaryPDF prints the dashboard cards for one date range.
func SummaryPDF(summary domain.SalesSummary, generatedAt time.Time) ([]byte, string, error) {
	if generatedAt.IsZero() {
		generatedAt = time.Now()
	}
	pdf := gofpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle("Ringkasan Penjualan", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, "RINGKASAN PENJUALAN")
	pdf.Ln(12)

	pdf.SetFont("Helvetica", "", 12)
	pdf.Cell(0, 7, fmt.Sprintf("Periode    : %s s/d %s", summary.Range.Start, summary.Range.End))
	pdf.Ln(7)
	pdf.Cell(0, 7, "Outlet     : "+safe(summary.OutletID, "Semua outlet"))
	pdf.Ln(7)
	pdf.Cell(0, 7, "Dicetak    : "+generatedAt.Format("2006-01-02 15:04"))
	pdf.Ln(10)

	lines := []struct {
		label string
		value string
	}{
		{"Transaksi", fmt.Sprintf("%d", summary.Transactions)},
		{"Penjualan kotor", formatRupiah(summary.GrossSales)},
		{"Penjualan bersih", formatRupiah(summary.NetSales)},
		{"Laba", formatRupiah(summary.Profit)},
		{"Rata-rata keranjang", formatRupiah(summary.AverageBasket)},
	}
	for _, line := range lines {
		pdf.SetFont("Helvetica", "", 11)
		pdf.CellFormat(70, 7, line.label, "B", 0, "L", false, 0, "")
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(0, 7, line.value, "B", 1, "R", false, 0, "")
	}

	if len(summary.TopProducts) > 0 {
		pdf.Ln(6)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.Cell(0, 7, "Produk terlaris:")
		pdf.Ln(8)
		pdf.SetFont("Helvetica", "", 11)
		for i, product := range summary.TopProducts {
			pdf.MultiCell(0, 6, tr(fmt.Sprintf("%d) %s x%d = %s", i+1, safe(product.Name, "-"), product.Qty, formatRupiah(product.NetSales))), "", "", false)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, "", err
	}
	filename := fmt.Sprintf("PENJUALAN_%s_%s.pdf", safeFilenamePart(summary.Range.Start), safeFilenamePart(summary.Range.End))
	return buf.Bytes(), filename, nil
}

func fit(pdf *gofpdf.Fpdf, text string, width float64) string {
	limit := width - 2
	if pdf.GetStringWidth(text) <= limit {
		return text
	}
	runes := []rune(text)
	for len(runes) > 0 && pdf.GetStringWidth(string(runes)+"...") > limit {
		runes = runes[:len(runes)-1]
	}
	return string(runes) + "..."
}

func safe(v, fallback string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return fallback
	}
	return v
}

func safeFilenamePart(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "NA"
	}
	replacer := strings.NewReplacer(" ", "_", "/", "_", "\\", "_", ":", "_", "*", "_", "?", "_", "\"", "_", "<", "_", ">", "_", "|", "_")
	s = replacer.Replace(s)
	if len(s) > 40 {
		s = s[:40]
	}
	return s
}

func parseAmount(v string) int64 {
	v = strings.TrimSpace(v)
	if i := strings.IndexByte(v, '.'); i >= 0 {
		v = v[:i]
	}
	var n int64
	if _, err := fmt.Sscan(v, &n); err != nil {
		return 0
	}
	return n
}

func formatRupiah(v int64) string {
	if v == 0 {
		return "Rp 0"
	}
	sign := ""
	if v < 0 {
		sign = "-"
		v = -v
	}
	s := fmt.Sprintf("%d", v)
	var out []byte
	n := len(s)
	for i := 0; i < n; i++ {
		out = append(out, s[i])
		pos := n - i - 1
		if pos > 0 && pos%3 == 0 {
			out = append(out, '.')
		}
	}
	return sign + "Rp " + string(out)
}

func maxInt(a int, b int) int {
	if a > b {
		return a
	}
	return b
}
