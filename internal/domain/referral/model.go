package referral

import (
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/ledger"
)

type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusRejected  Status = "rejected"
	StatusCompleted Status = "completed"
	StatusCancelled Status = "cancelled"
)

var validStatuses = map[Status]bool{
	StatusPending: true, StatusAccepted: true, StatusRejected: true, StatusCompleted: true, StatusCancelled: true,
}

func (s Status) Valid() bool { return validStatuses[s] }

type Urgency string

const (
	UrgencyLow      Urgency = "Low"
	UrgencyMedium   Urgency = "Medium"
	UrgencyHigh     Urgency = "High"
	UrgencyCritical Urgency = "Critical"
)

var validUrgencies = map[Urgency]bool{
	UrgencyLow: true, UrgencyMedium: true, UrgencyHigh: true, UrgencyCritical: true,
}

type CareType string

const (
	CareICU          CareType = "ICU"
	CareWard         CareType = "Ward"
	CareGeneralWard  CareType = "General-Ward"
	CareOPD          CareType = "OPD"
	CareEmergency    CareType = "Emergency"
	CareConsultation CareType = "Consultation"
)

var validCareTypes = map[CareType]bool{
	CareICU: true, CareWard: true, CareGeneralWard: true, CareOPD: true, CareEmergency: true, CareConsultation: true,
}

const DefaultStayDays = 1

// Referral is a doctor's request that a hospital admit or treat a patient.
// The patient contact fields are a snapshot taken at creation. Payment is
// derived from the ledger on read and is never stored on the referral.
type Referral struct {
	ID             uuid.UUID  `json:"id"`
	DoctorID       uuid.UUID  `json:"doctor_id"`
	HospitalID     uuid.UUID  `json:"hospital_id"`
	PatientID      uuid.UUID  `json:"patient_id"`
	PrescriptionID *uuid.UUID `json:"prescription_id,omitempty"`
	OperationID    *uuid.UUID `json:"operation_id,omitempty"`

	PatientName  string `json:"patient_name"`
	PatientPhone string `json:"patient_phone"`
	PatientEmail string `json:"patient_email"`

	Urgency           Urgency  `json:"urgency"`
	CareType          CareType `json:"care_type"`
	Reason            string   `json:"reason"`
	Notes             string   `json:"notes,omitempty"`
	EstimatedPrice    float64  `json:"estimated_price"`
	EstimatedStayDays int      `json:"estimated_stay_days"`

	BedID            *uuid.UUID `json:"bed_id,omitempty"`
	AssignedDoctorID *uuid.UUID `json:"assigned_doctor_id,omitempty"`
	AppointmentDate  *time.Time `json:"appointment_date,omitempty"`
	AppointmentTime  string     `json:"appointment_time,omitempty"`

	Status          Status   `json:"status"`
	RejectionReason string   `json:"rejection_reason,omitempty"`
	FinalPrice      *float64 `json:"final_price,omitempty"`

	Payment *ledger.Summary `json:"payment,omitempty"`

	AcceptedAt  *time.Time `json:"accepted_at,omitempty"`
	RejectedAt  *time.Time `json:"rejected_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Price is the amount the referral is expected to cost: the final price once
// a bed is attached, the estimate before that.
func (r *Referral) Price() float64 {
	if r.FinalPrice != nil {
		return *r.FinalPrice
	}
	return r.EstimatedPrice
}

// AmountDue is Price less what the ledger shows as paid, never negative.
func (r *Referral) AmountDue() float64 {
	paid := 0.0
	if r.Payment != nil {
		paid = r.Payment.AmountPaid
	}
	due := ledger.Round(r.Price() - paid)
	if due < 0 {
		return 0
	}
	return due
}

// FinalPrice for a stay in a bed at pricePerDay.
func FinalPrice(estimated, pricePerDay float64, stayDays int) float64 {
	if stayDays <= 0 {
		stayDays = DefaultStayDays
	}
	return ledger.Round(estimated + pricePerDay*float64(stayDays))
}

type Filter struct {
	DoctorID   *uuid.UUID
	HospitalID *uuid.UUID
	PatientID  *uuid.UUID
	Status     Status
}

func (f Filter) Match(r *Referral) bool {
	if f.DoctorID != nil && r.DoctorID != *f.DoctorID {
		return false
	}
	if f.HospitalID != nil && r.HospitalID != *f.HospitalID {
		return false
	}
	if f.PatientID != nil && r.PatientID != *f.PatientID {
		return false
	}
	return f.Status == "" || r.Status == f.Status
}
