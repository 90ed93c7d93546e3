// Package ledger is the single append-only store of settled payments. Bills
// and referrals do not keep their own payment counters; they derive amount
// paid and last-payment details from the events recorded here.
package ledger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type SubjectType string

const (
	SubjectBill        SubjectType = "bill"
	SubjectReferral    SubjectType = "referral"
	SubjectAppointment SubjectType = "appointment"
)

func (t SubjectType) Valid() bool {
	switch t {
	case SubjectBill, SubjectReferral, SubjectAppointment:
		return true
	}
	return false
}

// Source records which path credited the payment.
type Source string

const (
	SourceManual  Source = "manual"
	SourceGateway Source = "gateway"
)

const StatusCaptured = "captured"

// Event is one settled payment. TransactionID is unique across the ledger.
type Event struct {
	ID             uuid.UUID   `json:"id"`
	SubjectType    SubjectType `json:"subject_type"`
	SubjectID      uuid.UUID   `json:"subject_id"`
	Amount         float64     `json:"amount"`
	Method         string      `json:"method"`
	TransactionID  string      `json:"transaction_id"`
	GatewayOrderID string      `json:"gateway_order_id,omitempty"`
	Status         string      `json:"status"`
	Source         Source      `json:"source"`
	PaidAt         time.Time   `json:"paid_at"`
	CreatedAt      time.Time   `json:"created_at"`
}

// Summary is the derived payment view of one subject.
type Summary struct {
	AmountPaid        float64    `json:"amount_paid"`
	Payments          int        `json:"payments"`
	LastMethod        string     `json:"last_method,omitempty"`
	LastTransactionID string     `json:"last_transaction_id,omitempty"`
	LastPaidAt        *time.Time `json:"last_paid_at,omitempty"`
}

// Summarize folds events in ledger order. The latest event by PaidAt supplies
// the last-payment fields.
func Summarize(events []*Event) Summary {
	var s Summary
	for _, e := range events {
		if e.Status != "" && e.Status != StatusCaptured {
			continue
		}
		s.AmountPaid += e.Amount
		s.Payments++
		if s.LastPaidAt == nil || !e.PaidAt.Before(*s.LastPaidAt) {
			paid := e.PaidAt
			s.LastPaidAt = &paid
			s.LastMethod = e.Method
			s.LastTransactionID = e.TransactionID
		}
	}
	s.AmountPaid = Round(s.AmountPaid)
	return s
}

// Round keeps money at two decimal places.
func Round(v float64) float64 {
	if v < 0 {
		return -float64(int64(-v*100+0.5)) / 100
	}
	return float64(int64(v*100+0.5)) / 100
}

// FormatAmount renders v for statements and emails.
func FormatAmount(v float64) string {
	return fmt.Sprintf("%.2f", Round(v))
}
