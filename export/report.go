// Package export renders control results as XLSX workbooks for the finance
// team.
package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"github.com/warp/invoice-control/reconcile"
)

const (
	SheetSummary   = "Summary"
	SheetLines     = "Lines"
	SheetVariances = "Variances"
)

// ControlReport is everything a report needs.
type ControlReport struct {
	Order   *reconcile.PurchaseOrder
	Invoice *reconcile.Invoice
	Control *reconcile.ControlRecord
}

// Exporter writes control reports.
type Exporter struct {
	logger zerolog.Logger
}

func NewExporter(logger zerolog.Logger) *Exporter {
	return &Exporter{logger: logger}
}

// ControlReportXLSX returns the workbook bytes: a summary sheet, a line by
// line comparison and the variance list.
func (e *Exporter) ControlReportXLSX(r ControlReport) ([]byte, error) {
	if r.Order == nil || r.Invoice == nil || r.Control == nil || r.Control.Result.OrderInvoice == nil {
		return nil, fmt.Errorf("incomplete control report: %w", reconcile.ErrInvalidInput)
	}
	res := r.Control.Result.OrderInvoice

	f := excelize.NewFile()
	defer f.Close()

	// The default sheet becomes the summary.
	if err := f.SetSheetName("Sheet1", SheetSummary); err != nil {
		return nil, err
	}
	for _, name := range []string{SheetLines, SheetVariances} {
		if _, err := f.NewSheet(name); err != nil {
			return nil, err
		}
	}

	w := &sheetWriter{f: f}
	writeSummary(w, r, res)
	writeLines(w, r)
	writeVariances(w, res)
	if w.err != nil {
		return nil, fmt.Errorf("xlsx fill: %w", w.err)
	}

	idx, err := f.GetSheetIndex(SheetSummary)
	if err != nil {
		return nil, err
	}
	f.SetActiveSheet(idx)

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("xlsx write: %w", err)
	}

	e.logger.Debug().
		Str("invoice_id", r.Invoice.ID).
		Str("control_id", r.Control.ID).
		Int("variances", len(res.Variances)).
		Msg("Control report exported")
	return buf.Bytes(), nil
}

// sheetWriter keeps the first excelize error; later writes are skipped.
type sheetWriter struct {
	f   *excelize.File
	err error
}

func (w *sheetWriter) row(sheet string, row int, values ...any) {
	for i, v := range values {
		if w.err != nil {
			return
		}
		var cell string
		if cell, w.err = excelize.CoordinatesToCellName(i+1, row); w.err != nil {
			return
		}
		w.err = w.f.SetCellValue(sheet, cell, v)
	}
}

func (w *sheetWriter) width(sheet, startCol, endCol string, width float64) {
	if w.err != nil {
		return
	}
	w.err = w.f.SetColWidth(sheet, startCol, endCol, width)
}

func writeSummary(w *sheetWriter, r ControlReport, res *reconcile.Result) {
	counts := res.CountBySeverity()
	rows := [][]any{
		{"Invoice", r.Invoice.Number},
		{"Supplier", r.Invoice.SupplierName},
		{"Purchase order", r.Order.Number},
		{"Purchase request", r.Control.Result.RequestID},
		{"Currency", r.Invoice.Currency},
		{"Controlled at", r.Control.Result.ControlledAt.Format("2006-01-02 15:04")},
		{"Order total", res.ReferenceTotal.StringFixed(2)},
		{"Invoice total", res.CandidateTotal.StringFixed(2)},
		{"Amount variance %", percent(res.AmountDeltaPercent)},
		{"Compliance score", res.ComplianceScore.StringFixed(2)},
		{"Decision", string(res.Decision)},
		{"Invoice status", string(r.Control.Result.Status)},
		{"High variances", counts[reconcile.SeverityHigh]},
		{"Medium variances", counts[reconcile.SeverityMedium]},
		{"Low variances", counts[reconcile.SeverityLow]},
	}
	for i, row := range rows {
		w.row(SheetSummary, i+1, row...)
	}
	w.width(SheetSummary, "A", "A", 22)
	w.width(SheetSummary, "B", "B", 30)
}

func writeLines(w *sheetWriter, r ControlReport) {
	w.row(SheetLines, 1, "Line", "Description", "Ordered qty", "Invoiced qty",
		"Order unit price", "Invoice unit price", "Order amount", "Invoice amount")

	ordered := make(map[int]reconcile.ReferenceLine, len(r.Order.Lines))
	numbers := make([]int, 0, len(r.Order.Lines)+len(r.Invoice.Lines))
	for _, l := range r.Order.Lines {
		ordered[l.LineNumber] = l
		numbers = append(numbers, l.LineNumber)
	}
	invoiced := make(map[int]reconcile.CandidateLine, len(r.Invoice.Lines))
	for _, l := range r.Invoice.Lines {
		invoiced[l.LineNumber] = l
		if _, ok := ordered[l.LineNumber]; !ok {
			numbers = append(numbers, l.LineNumber)
		}
	}
	sort.Ints(numbers)

	for i, n := range numbers {
		o, hasOrder := ordered[n]
		c, hasInvoice := invoiced[n]
		desc := o.Description
		if desc == "" {
			desc = c.Description
		}
		w.row(SheetLines, i+2, n, desc,
			orBlank(hasOrder, o.OrderedQuantity), orBlank(hasInvoice, c.InvoicedQuantity),
			orBlank(hasOrder, o.UnitPrice), orBlank(hasInvoice, c.UnitPrice),
			orBlank(hasOrder, o.LineAmount()), orBlank(hasInvoice, c.LineAmount()),
		)
	}
	w.width(SheetLines, "B", "B", 36)
	w.width(SheetLines, "C", "H", 16)
}

func writeVariances(w *sheetWriter, res *reconcile.Result) {
	w.row(SheetVariances, 1, "Kind", "Line", "Expected", "Observed", "Delta", "Delta %", "Severity", "Recommended action")
	for i, v := range res.Variances {
		line := "total"
		if v.LineNumber != nil {
			line = fmt.Sprint(*v.LineNumber)
		}
		w.row(SheetVariances, i+2, string(v.Kind), line,
			v.Expected.String(), v.Observed.String(), v.Delta.String(),
			percent(v.DeltaPercent), strings.ToUpper(string(v.Severity)), v.RecommendedAction)
	}
	w.width(SheetVariances, "C", "F", 14)
	w.width(SheetVariances, "H", "H", 36)
}

func orBlank(ok bool, d decimal.Decimal) string {
	if !ok {
		return ""
	}
	return d.String()
}

func percent(p *decimal.Decimal) string {
	if p == nil {
		return "unbounded"
	}
	return p.StringFixed(2)
}
