package infra

// xlsx.go: movement export for spreadsheets, using excelize.
// Sheet "Movimientos" holds one row per movement with its signed
// contribution; sheet "Resumen" holds the per-type totals and the balance.

import (
	"fmt"
	"io"
	"time"

	"cashdrawer/internal/ledger"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	sheetMovements = "Movimientos"
	sheetSummary   = "Resumen"
)

// ExportFileName is the attachment name for a session export.
func ExportFileName(s ledger.Session) string {
	return fmt.Sprintf("movimientos_%s.xlsx", s.ID)
}

// WriteMovementsXLSX writes the workbook for s to w. Amounts are written as
// numbers with two decimals; the exact decimal string stays in the JSON API.
func WriteMovementsXLSX(w io.Writer, s ledger.Session, movements []ledger.Movement, loc *time.Location) error {
	if loc == nil {
		loc = time.Local
	}
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetMovements); err != nil {
		return fmt.Errorf("xlsx: rename sheet: %w", err)
	}
	moneyFmt := "#,##0.00"
	moneyStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &moneyFmt})
	if err != nil {
		return fmt.Errorf("xlsx: style: %w", err)
	}
	headStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return fmt.Errorf("xlsx: style: %w", err)
	}

	// ── Movements ────────────────────────────────────────────────────────────
	header := []interface{}{"Fecha", "Tipo", "Monto", "Aporte", "Motivo", "Referencia", "Usuario"}
	if err := f.SetSheetRow(sheetMovements, "A1", &header); err != nil {
		return fmt.Errorf("xlsx: header: %w", err)
	}
	_ = f.SetCellStyle(sheetMovements, "A1", "G1", headStyle)

	for i, m := range movements {
		amount, _ := m.Amount.Float64()
		contribution, _ := m.Type.Contribution(m.Amount).Float64()
		ref := ""
		if m.ReferenceType != nil && m.ReferenceID != nil {
			ref = *m.ReferenceType + ":" + *m.ReferenceID
		}
		row := []interface{}{
			m.CreatedAt.In(loc).Format(reportTimeLayout),
			string(m.Type),
			amount,
			contribution,
			deref(m.Reason),
			ref,
			deref(m.CreatedBy),
		}
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		if err := f.SetSheetRow(sheetMovements, cell, &row); err != nil {
			return fmt.Errorf("xlsx: row %d: %w", i+2, err)
		}
	}
	if n := len(movements); n > 0 {
		_ = f.SetCellStyle(sheetMovements, "C2", fmt.Sprintf("D%d", n+1), moneyStyle)
	}
	_ = f.SetColWidth(sheetMovements, "A", "A", 18)
	_ = f.SetColWidth(sheetMovements, "E", "E", 40)

	// ── Summary ──────────────────────────────────────────────────────────────
	if _, err := f.NewSheet(sheetSummary); err != nil {
		return fmt.Errorf("xlsx: summary sheet: %w", err)
	}
	summary := ledger.CalculateMovementSummary(movements)
	rows := [][]interface{}{
		{"Sesión", s.ID.String()},
		{"Estado", string(s.Status)},
		{"Monto inicial", num(s.OpeningAmount)},
		{"Ingresos", num(summary.In)},
		{"Ventas", num(summary.Sale)},
		{"Egresos", num(summary.Out.Neg())},
		{"Devoluciones", num(summary.Return.Neg())},
		{"Ajustes", num(summary.Adjustment)},
		{"Neto", num(summary.Balance)},
		{"Saldo", num(ledger.CurrentBalance(s.OpeningAmount, summary))},
	}
	if s.ClosingAmount != nil {
		rows = append(rows, []interface{}{"Monto declarado", num(*s.ClosingAmount)})
	}
	if s.Discrepancy != nil {
		rows = append(rows, []interface{}{"Diferencia", num(*s.Discrepancy)})
	}
	for i, r := range rows {
		cell, _ := excelize.CoordinatesToCellName(1, i+1)
		if err := f.SetSheetRow(sheetSummary, cell, &r); err != nil {
			return fmt.Errorf("xlsx: summary row: %w", err)
		}
	}
	_ = f.SetCellStyle(sheetSummary, "B3", fmt.Sprintf("B%d", len(rows)), moneyStyle)
	_ = f.SetCellStyle(sheetSummary, "A1", fmt.Sprintf("A%d", len(rows)), headStyle)
	_ = f.SetColWidth(sheetSummary, "A", "B", 22)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx: write: %w", err)
	}
	return nil
}

func num(d decimal.Decimal) float64 {
	v, _ := d.Float64()
	return v
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
