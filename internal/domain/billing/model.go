package billing

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/ledger"
)

type PaymentStatus string

const (
	StatusPending   PaymentStatus = "pending"
	StatusPartial   PaymentStatus = "partial"
	StatusPaid      PaymentStatus = "paid"
	StatusCancelled PaymentStatus = "cancelled"
	StatusRefunded  PaymentStatus = "refunded"
)

var validStatuses = map[PaymentStatus]bool{
	StatusPending: true, StatusPartial: true, StatusPaid: true, StatusCancelled: true, StatusRefunded: true,
}

func (s PaymentStatus) Valid() bool { return validStatuses[s] }

// Terminal statuses are set explicitly and never derived over.
func (s PaymentStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusRefunded
}

type Category string

const (
	CategoryOperation    Category = "Operation"
	CategoryConsultation Category = "Consultation"
	CategoryMedicine     Category = "Medicine"
	CategoryBed          Category = "Bed"
	CategoryTest         Category = "Test"
	CategoryOther        Category = "Other"
)

var validCategories = map[Category]bool{
	CategoryOperation: true, CategoryConsultation: true, CategoryMedicine: true,
	CategoryBed: true, CategoryTest: true, CategoryOther: true,
}

type Method string

const (
	MethodCash       Method = "Cash"
	MethodCard       Method = "Card"
	MethodUPI        Method = "UPI"
	MethodNetBanking Method = "NetBanking"
	MethodInsurance  Method = "Insurance"
	MethodOnline     Method = "Online"
)

var validMethods = map[Method]bool{
	MethodCash: true, MethodCard: true, MethodUPI: true, MethodNetBanking: true,
	MethodInsurance: true, MethodOnline: true,
}

func (m Method) Valid() bool { return validMethods[m] }

type Item struct {
	Category    Category `json:"category"`
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Quantity    int      `json:"quantity"`
	UnitPrice   float64  `json:"unit_price"`
	TotalPrice  float64  `json:"total_price"`
}

// Bill is an itemized statement of charges owned by a hospital. AmountPaid,
// AmountDue and PaymentStatus are derived from the ledger on every write.
type Bill struct {
	ID         uuid.UUID `json:"id"`
	BillNumber string    `json:"bill_number"`
	HospitalID uuid.UUID `json:"hospital_id"`

	PatientID    *uuid.UUID `json:"patient_id,omitempty"`
	PatientName  string     `json:"patient_name"`
	PatientPhone string     `json:"patient_phone"`
	PatientEmail string     `json:"patient_email,omitempty"`

	ReferralID     *uuid.UUID `json:"referral_id,omitempty"`
	AppointmentID  *uuid.UUID `json:"appointment_id,omitempty"`
	PrescriptionID *uuid.UUID `json:"prescription_id,omitempty"`
	DoctorID       *uuid.UUID `json:"doctor_id,omitempty"`
	BedID          *uuid.UUID `json:"bed_id,omitempty"`
	OperationID    *uuid.UUID `json:"operation_id,omitempty"`

	Items    []Item  `json:"items"`
	Subtotal float64 `json:"subtotal"`
	Tax      float64 `json:"tax"`
	Discount float64 `json:"discount"`
	Total    float64 `json:"total"`

	AmountPaid    float64       `json:"amount_paid"`
	AmountDue     float64       `json:"amount_due"`
	PaymentStatus PaymentStatus `json:"payment_status"`
	PaymentMethod Method        `json:"payment_method"`
	TransactionID string        `json:"transaction_id,omitempty"`
	PaymentDate   *time.Time    `json:"payment_date,omitempty"`
	DueDate       *time.Time    `json:"due_date,omitempty"`
	Notes         string        `json:"notes,omitempty"`
	RemindedAt    *time.Time    `json:"reminded_at,omitempty"`

	History []*ledger.Event `json:"payment_history,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Recalculate prices every item and the bill totals. Quantity defaults to 1.
func (b *Bill) Recalculate() {
	subtotal := 0.0
	for i := range b.Items {
		it := &b.Items[i]
		if it.Quantity <= 0 {
			it.Quantity = 1
		}
		it.TotalPrice = ledger.Round(float64(it.Quantity) * it.UnitPrice)
		subtotal += it.TotalPrice
	}
	b.Subtotal = ledger.Round(subtotal)
	b.Total = ledger.Round(b.Subtotal + b.Tax - b.Discount)
}

// Derive applies paid to the bill: amount due is clamped at zero, the bill
// is paid once paid covers the total and partial while some but not all of
// it is covered. Otherwise, and for terminal statuses, the current status is
// kept.
func (b *Bill) Derive(paid float64) {
	b.AmountPaid = ledger.Round(paid)
	due := ledger.Round(b.Total - b.AmountPaid)
	if due < 0 {
		due = 0
	}
	b.AmountDue = due
	if b.PaymentStatus.Terminal() {
		return
	}
	switch {
	case b.AmountPaid >= b.Total:
		b.PaymentStatus = StatusPaid
	case b.AmountPaid > 0:
		b.PaymentStatus = StatusPartial
	}
}

// Overdue reports whether the bill still owes money after its due date.
func (b *Bill) Overdue(now time.Time) bool {
	if b.DueDate == nil || b.PaymentStatus.Terminal() || b.AmountDue <= 0 {
		return false
	}
	return now.After(*b.DueDate)
}

// BillPrefix is the monthly prefix bill numbers are allocated under.
func BillPrefix(t time.Time) string {
	return fmt.Sprintf("BILL-%04d-%02d-", t.Year(), int(t.Month()))
}

// FormatBillNumber renders BILL-<yyyy>-<mm>-<seq> with seq padded to four
// digits.
func FormatBillNumber(t time.Time, seq int) string {
	return fmt.Sprintf("%s%04d", BillPrefix(t), seq)
}

// ParseBillSequence extracts the sequence of number under prefix.
func ParseBillSequence(number, prefix string) (int, bool) {
	if !strings.HasPrefix(number, prefix) {
		return 0, false
	}
	seq, err := strconv.Atoi(strings.TrimPrefix(number, prefix))
	if err != nil || seq <= 0 {
		return 0, false
	}
	return seq, true
}

type Filter struct {
	HospitalID *uuid.UUID
	PatientID  *uuid.UUID
	Status     PaymentStatus
}

func (f Filter) Match(b *Bill) bool {
	if f.HospitalID != nil && b.HospitalID != *f.HospitalID {
		return false
	}
	if f.PatientID != nil && (b.PatientID == nil || *b.PatientID != *f.PatientID) {
		return false
	}
	return f.Status == "" || b.PaymentStatus == f.Status
}
