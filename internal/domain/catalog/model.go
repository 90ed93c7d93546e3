// Package catalog reads the static reference data the workflow depends on:
// hospitals, doctors, departments, operations, patients and prescriptions.
// Those records are maintained elsewhere; this package only looks them up.
package catalog

import (
	"github.com/google/uuid"
)

type Hospital struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Email string    `json:"email,omitempty"`
	Phone string    `json:"phone,omitempty"`
	City  string    `json:"city,omitempty"`
}

// Doctor.HospitalID is nil for independent practitioners.
type Doctor struct {
	ID             uuid.UUID  `json:"id"`
	HospitalID     *uuid.UUID `json:"hospital_id,omitempty"`
	Name           string     `json:"name"`
	Email          string     `json:"email,omitempty"`
	Specialization string     `json:"specialization,omitempty"`
}

// WorksAt reports whether the doctor is on staff at hospitalID.
func (d *Doctor) WorksAt(hospitalID uuid.UUID) bool {
	return d.HospitalID != nil && *d.HospitalID == hospitalID
}

type Department struct {
	ID         uuid.UUID `json:"id"`
	HospitalID uuid.UUID `json:"hospital_id"`
	Name       string    `json:"name"`
}

type Operation struct {
	ID           uuid.UUID  `json:"id"`
	HospitalID   uuid.UUID  `json:"hospital_id"`
	DepartmentID *uuid.UUID `json:"department_id,omitempty"`
	Name         string     `json:"name"`
	Price        float64    `json:"price"`
}

type Patient struct {
	ID    uuid.UUID `json:"id"`
	Name  string    `json:"name"`
	Phone string    `json:"phone"`
	Email string    `json:"email,omitempty"`
}

type Prescription struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	PatientID uuid.UUID `json:"patient_id"`
}
