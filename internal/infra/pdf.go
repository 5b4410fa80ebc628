package infra

// pdf.go: session close report using go-pdf/fpdf.
// A4 portrait with:
//   - Session header (id, opened/closed, who)
//   - Reconciliation block (opening, expected, declared, discrepancy)
//   - Totals per movement type
//   - One line per calendar day
//   - Full movement listing
//
// The output file is saved to storagePath/fileName.

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"cashdrawer/internal/ledger"

	"github.com/go-pdf/fpdf"
	"github.com/shopspring/decimal"
)

const reportTimeLayout = "02/01/2006 15:04"

// SessionReport is everything the close report prints.
type SessionReport struct {
	Session   ledger.Session
	Movements []ledger.Movement
	Location  *time.Location
}

func money(d decimal.Decimal) string { return "$" + d.StringFixed(2) }

func optMoney(d *decimal.Decimal) string {
	if d == nil {
		return "-"
	}
	return money(*d)
}

// GenerateSessionReportPDF renders r and returns the path of the written file.
func GenerateSessionReportPDF(r SessionReport, storagePath, fileName string) (string, error) {
	if err := os.MkdirAll(storagePath, 0755); err != nil {
		return "", fmt.Errorf("pdf: create storage dir: %w", err)
	}
	loc := r.Location
	if loc == nil {
		loc = time.Local
	}
	filePath := filepath.Join(storagePath, fileName)
	s := r.Session
	summary := ledger.CalculateMovementSummary(r.Movements)

	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()
	tr := pdf.UnicodeTranslatorFromDescriptor("")

	pageW, _ := pdf.GetPageSize()
	contentW := pageW - 30

	// ── Header ───────────────────────────────────────────────────────────────
	pdf.SetFont("Helvetica", "B", 16)
	pdf.CellFormat(contentW, 9, tr("Cierre de caja"), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	pdf.CellFormat(contentW, 5, tr("Sesión "+s.ID.String()), "", 1, "L", false, 0, "")
	pdf.CellFormat(contentW, 5, tr(fmt.Sprintf("Apertura: %s por %s", s.OpenedAt.In(loc).Format(reportTimeLayout), s.OpenedBy)), "", 1, "L", false, 0, "")
	if s.ClosedAt != nil {
		by := ""
		if s.ClosedBy != nil {
			by = " por " + *s.ClosedBy
		}
		pdf.CellFormat(contentW, 5, tr(fmt.Sprintf("Cierre: %s%s", s.ClosedAt.In(loc).Format(reportTimeLayout), by)), "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(contentW, 5, tr("Estado: "+string(s.Status)), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	// ── Reconciliation ───────────────────────────────────────────────────────
	half := contentW / 2
	row := func(label, value string, bold bool) {
		style := ""
		if bold {
			style = "B"
		}
		pdf.SetFont("Helvetica", style, 10)
		pdf.CellFormat(half, 6, tr(label), "", 0, "L", false, 0, "")
		pdf.CellFormat(half, 6, value, "", 1, "R", false, 0, "")
	}
	section := func(title string) {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(contentW, 7, tr(title), "B", 1, "L", false, 0, "")
		pdf.Ln(1)
	}

	section("Arqueo")
	row("Monto inicial", money(s.OpeningAmount), false)
	row("Monto esperado", optMoney(s.ExpectedAmount), false)
	row("Monto declarado", optMoney(s.ClosingAmount), false)
	row("Diferencia", optMoney(s.Discrepancy), true)
	pdf.Ln(4)

	// ── Totals per type ──────────────────────────────────────────────────────
	section("Totales por tipo")
	row("Ingresos (IN)", money(summary.In), false)
	row("Ventas (SALE)", money(summary.Sale), false)
	row("Egresos (OUT)", "-"+money(summary.Out), false)
	row("Devoluciones (RETURN)", "-"+money(summary.Return), false)
	row("Ajustes (ADJUSTMENT)", money(summary.Adjustment), false)
	row(fmt.Sprintf("Neto (%d movimientos)", summary.Count), money(summary.Balance), true)
	pdf.Ln(4)

	// ── Per day ──────────────────────────────────────────────────────────────
	days := ledger.DailyTotals(r.Movements, loc)
	if len(days) > 1 {
		section("Por día")
		for _, b := range days {
			row(b.Day.Format("02/01/2006"), money(b.Summary.Balance), false)
		}
		pdf.Ln(4)
	}

	// ── Movements ────────────────────────────────────────────────────────────
	section("Movimientos")
	cols := []float64{contentW * 0.2, contentW * 0.16, contentW * 0.18, contentW * 0.46}
	pdf.SetFont("Helvetica", "B", 8)
	for i, h := range []string{"Fecha", "Tipo", "Monto", "Motivo"} {
		align := "L"
		if i == 2 {
			align = "R"
		}
		pdf.CellFormat(cols[i], 5, h, "B", 0, align, false, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 8)
	for _, m := range r.Movements {
		reason := ""
		if m.Reason != nil {
			reason = *m.Reason
		}
		if len([]rune(reason)) > 48 {
			reason = string([]rune(reason)[:47]) + "…"
		}
		pdf.CellFormat(cols[0], 5, m.CreatedAt.In(loc).Format(reportTimeLayout), "", 0, "L", false, 0, "")
		pdf.CellFormat(cols[1], 5, string(m.Type), "", 0, "L", false, 0, "")
		pdf.CellFormat(cols[2], 5, money(m.Type.Contribution(m.Amount)), "", 0, "R", false, 0, "")
		pdf.CellFormat(cols[3], 5, tr(reason), "", 1, "L", false, 0, "")
	}
	if len(r.Movements) == 0 {
		pdf.SetFont("Helvetica", "I", 8)
		pdf.CellFormat(contentW, 5, "Sin movimientos", "", 1, "L", false, 0, "")
	}

	if err := pdf.OutputFileAndClose(filePath); err != nil {
		return "", fmt.Errorf("pdf: write file: %w", err)
	}
	return filePath, nil
}
