package billing

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jung-kurt/gofpdf"

	"github.com/hms/hms/internal/domain/ledger"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
)

// Statement renders the bill and its payment history as an A4 PDF.
func (s *Service) Statement(ctx context.Context, actor auth.Actor, id uuid.UUID) ([]byte, *Bill, error) {
	b, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, nil, err
	}
	hospital := ""
	if h, err := s.dir.Hospital(ctx, b.HospitalID); err == nil {
		hospital = h.Name
	}
	pdf, err := renderStatement(b, hospital)
	if err != nil {
		return nil, nil, apperr.Internal("render statement", err)
	}
	return pdf, b, nil
}

func renderStatement(b *Bill, hospital string) ([]byte, error) {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetMargins(15, 15, 15)
	pdf.AddPage()

	pdf.SetFont("Arial", "B", 16)
	title := "Statement"
	if hospital != "" {
		title = hospital + " - Statement"
	}
	pdf.CellFormat(0, 10, title, "", 1, "C", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Arial", "", 11)
	pdf.CellFormat(0, 7, "Bill number: "+b.BillNumber, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 7, "Issued: "+b.CreatedAt.Format("02 Jan 2006"), "", 1, "L", false, 0, "")
	if b.DueDate != nil {
		pdf.CellFormat(0, 7, "Due: "+b.DueDate.Format("02 Jan 2006"), "", 1, "L", false, 0, "")
	}
	pdf.CellFormat(0, 7, fmt.Sprintf("Patient: %s (%s)", b.PatientName, b.PatientPhone), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Arial", "B", 11)
	pdf.SetFillColor(230, 230, 230)
	pdf.CellFormat(75, 8, "Item", "1", 0, "L", true, 0, "")
	pdf.CellFormat(30, 8, "Category", "1", 0, "L", true, 0, "")
	pdf.CellFormat(15, 8, "Qty", "1", 0, "R", true, 0, "")
	pdf.CellFormat(30, 8, "Unit price", "1", 0, "R", true, 0, "")
	pdf.CellFormat(30, 8, "Total", "1", 1, "R", true, 0, "")

	pdf.SetFont("Arial", "", 10)
	for _, it := range b.Items {
		pdf.CellFormat(75, 7, it.Name, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 7, string(it.Category), "1", 0, "L", false, 0, "")
		pdf.CellFormat(15, 7, fmt.Sprintf("%d", it.Quantity), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 7, ledger.FormatAmount(it.UnitPrice), "1", 0, "R", false, 0, "")
		pdf.CellFormat(30, 7, ledger.FormatAmount(it.TotalPrice), "1", 1, "R", false, 0, "")
	}
	pdf.Ln(2)

	totals := []struct {
		label string
		value float64
	}{
		{"Subtotal", b.Subtotal},
		{"Tax", b.Tax},
		{"Discount", -b.Discount},
		{"Total", b.Total},
		{"Paid", b.AmountPaid},
		{"Amount due", b.AmountDue},
	}
	for _, t := range totals {
		pdf.CellFormat(150, 7, t.label, "", 0, "R", false, 0, "")
		pdf.CellFormat(30, 7, ledger.FormatAmount(t.value), "", 1, "R", false, 0, "")
	}
	pdf.SetFont("Arial", "B", 11)
	pdf.CellFormat(0, 8, "Status: "+string(b.PaymentStatus), "", 1, "L", false, 0, "")

	if len(b.History) > 0 {
		pdf.Ln(4)
		pdf.CellFormat(0, 8, "Payments", "", 1, "L", false, 0, "")
		pdf.SetFont("Arial", "", 10)
		for _, ev := range b.History {
			line := fmt.Sprintf("%s  %s  %s  %s",
				ev.PaidAt.Format("02 Jan 2006 15:04"), ev.Method, ev.TransactionID, ledger.FormatAmount(ev.Amount))
			pdf.CellFormat(0, 6, line, "", 1, "L", false, 0, "")
		}
	}
	if b.Notes != "" {
		pdf.Ln(4)
		pdf.SetFont("Arial", "I", 10)
		pdf.MultiCell(0, 6, b.Notes, "", "L", false)
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
