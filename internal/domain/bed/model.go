package bed

import (
	"time"

	"github.com/google/uuid"
)

type Type string

const (
	TypeNormal      Type = "Normal"
	TypeAC          Type = "AC"
	TypeLuxury      Type = "Luxury"
	TypeICU         Type = "ICU"
	TypeGeneralWard Type = "General-Ward"
)

var validTypes = map[Type]bool{
	TypeNormal: true, TypeAC: true, TypeLuxury: true, TypeICU: true, TypeGeneralWard: true,
}

func (t Type) Valid() bool { return validTypes[t] }

type Status string

const (
	StatusAvailable        Status = "Available"
	StatusOccupied         Status = "Occupied"
	StatusUnderMaintenance Status = "Under-Maintenance"
	StatusReserved         Status = "Reserved"
)

var validStatuses = map[Status]bool{
	StatusAvailable: true, StatusOccupied: true, StatusUnderMaintenance: true, StatusReserved: true,
}

func (s Status) Valid() bool { return validStatuses[s] }

// Occupant is the snapshot held on an occupied bed.
type Occupant struct {
	PatientID     uuid.UUID  `json:"patient_id"`
	AdmissionDate time.Time  `json:"admission_date"`
	ReferralID    *uuid.UUID `json:"referral_id,omitempty"`
}

// Bed is one bed of a hospital. IsAvailable always equals
// Status == StatusAvailable, and Occupant is set only while Occupied.
type Bed struct {
	ID           uuid.UUID  `json:"id"`
	HospitalID   uuid.UUID  `json:"hospital_id"`
	DepartmentID *uuid.UUID `json:"department_id,omitempty"`
	RoomNumber   string     `json:"room_number"`
	BedNumber    string     `json:"bed_number"`
	Type         Type       `json:"bed_type"`
	PricePerDay  float64    `json:"price_per_day"`
	Amenities    []string   `json:"amenities"`
	Description  string     `json:"description,omitempty"`
	IsAvailable  bool       `json:"is_available"`
	Status       Status     `json:"status"`
	Occupant     *Occupant  `json:"occupant,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Patch carries the editable attributes of a bed. Nil fields are left as is.
type Patch struct {
	RoomNumber   *string    `json:"room_number"`
	BedNumber    *string    `json:"bed_number"`
	Type         *Type      `json:"bed_type"`
	PricePerDay  *float64   `json:"price_per_day"`
	Amenities    []string   `json:"amenities"`
	Description  *string    `json:"description"`
	DepartmentID *uuid.UUID `json:"department_id"`
	Status       *Status    `json:"status"`
}

type Filter struct {
	HospitalID   uuid.UUID
	Status       Status
	Type         Type
	DepartmentID *uuid.UUID
}

func (f Filter) Match(b *Bed) bool {
	if b.HospitalID != f.HospitalID {
		return false
	}
	if f.Status != "" && b.Status != f.Status {
		return false
	}
	if f.Type != "" && b.Type != f.Type {
		return false
	}
	if f.DepartmentID != nil && (b.DepartmentID == nil || *b.DepartmentID != *f.DepartmentID) {
		return false
	}
	return true
}

// Summary counts a hospital's beds by status and by type.
type Summary struct {
	HospitalID uuid.UUID      `json:"hospital_id"`
	Total      int            `json:"total"`
	Available  int            `json:"available"`
	ByStatus   map[Status]int `json:"by_status"`
	ByType     map[Type]int   `json:"by_type"`
}

func newSummary(hospitalID uuid.UUID) *Summary {
	s := &Summary{
		HospitalID: hospitalID,
		ByStatus:   make(map[Status]int, len(validStatuses)),
		ByType:     make(map[Type]int, len(validTypes)),
	}
	for st := range validStatuses {
		s.ByStatus[st] = 0
	}
	return s
}

func (s *Summary) add(st Status, t Type, n int) {
	s.Total += n
	s.ByStatus[st] += n
	s.ByType[t] += n
	if st == StatusAvailable {
		s.Available += n
	}
}
