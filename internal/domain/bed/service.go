package bed

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/catalog"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
)

// Service is the bed ledger. Assign and Release are the only operations
// that change occupancy.
type Service struct {
	repo   Repository
	dir    catalog.Directory
	tx     db.Transactor
	logger zerolog.Logger
	now    func() time.Time
}

func NewService(repo Repository, dir catalog.Directory, tx db.Transactor, logger zerolog.Logger) *Service {
	return &Service{repo: repo, dir: dir, tx: tx, logger: logger, now: time.Now}
}

// Authorize allows admins and the hospital that owns b.
func Authorize(actor auth.Actor, b *Bed) error {
	if actor.IsAdmin() || (actor.Is(auth.KindHospital) && actor.ID == b.HospitalID) {
		return nil
	}
	return apperr.Forbidden("bed %s belongs to another hospital", b.ID)
}

func (s *Service) checkDepartment(ctx context.Context, hospitalID uuid.UUID, deptID *uuid.UUID) error {
	if deptID == nil {
		return nil
	}
	dept, err := s.dir.Department(ctx, *deptID)
	if err != nil {
		return err
	}
	if dept.HospitalID != hospitalID {
		return apperr.NotFound("department %s not found in this hospital", *deptID)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, actor auth.Actor, b *Bed) error {
	switch {
	case actor.Is(auth.KindHospital):
		b.HospitalID = actor.ID
	case actor.IsAdmin():
		if b.HospitalID == uuid.Nil {
			return apperr.Validation("hospital_id", "hospital_id is required")
		}
	default:
		return apperr.Forbidden("only hospitals can add beds")
	}

	b.RoomNumber = strings.TrimSpace(b.RoomNumber)
	b.BedNumber = strings.TrimSpace(b.BedNumber)
	if b.RoomNumber == "" {
		return apperr.Validation("room_number", "room number is required")
	}
	if b.BedNumber == "" {
		return apperr.Validation("bed_number", "bed number is required")
	}
	if b.Type == "" {
		b.Type = TypeNormal
	}
	if !b.Type.Valid() {
		return apperr.Validation("bed_type", "invalid bed type: %s", b.Type)
	}
	if b.PricePerDay < 0 {
		return apperr.Validation("price_per_day", "price per day must not be negative")
	}
	if err := s.checkDepartment(ctx, b.HospitalID, b.DepartmentID); err != nil {
		return err
	}

	b.IsAvailable = true
	b.Status = StatusAvailable
	b.Occupant = nil
	return s.repo.Create(ctx, b)
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Bed, error) {
	return s.repo.GetByID(ctx, id)
}

// Assign occupies an available bed. The check and the write are one
// conditional update, so two concurrent callers cannot both succeed.
func (s *Service) Assign(ctx context.Context, id uuid.UUID, occ Occupant) (*Bed, error) {
	if occ.PatientID == uuid.Nil {
		return nil, apperr.Validation("patient_id", "patient_id is required")
	}
	if occ.AdmissionDate.IsZero() {
		occ.AdmissionDate = s.now().UTC()
	}
	ok, err := s.repo.Assign(ctx, id, occ)
	if err != nil {
		return nil, err
	}
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperr.Conflict("bed %s is not available (status %s)", id, b.Status)
	}
	return b, nil
}

// Release frees the bed regardless of its current status.
func (s *Service) Release(ctx context.Context, id uuid.UUID) (*Bed, error) {
	if err := s.repo.Release(ctx, id); err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

func (s *Service) AssignAs(ctx context.Context, actor auth.Actor, id uuid.UUID, occ Occupant) (*Bed, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, b); err != nil {
		return nil, err
	}
	return s.Assign(ctx, id, occ)
}

func (s *Service) ReleaseAs(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Bed, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, b); err != nil {
		return nil, err
	}
	return s.Release(ctx, id)
}

// Update applies p. Occupancy is never changed here; a status change may
// only move a bed that is not occupied between Available, Reserved and
// Under-Maintenance.
func (s *Service) Update(ctx context.Context, actor auth.Actor, id uuid.UUID, p Patch) (*Bed, error) {
	var updated *Bed
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := Authorize(actor, b); err != nil {
			return err
		}

		// Status is checked first so a rejected change writes nothing.
		var status *Status
		if p.Status != nil && *p.Status != b.Status {
			st := *p.Status
			if !st.Valid() {
				return apperr.Validation("status", "invalid bed status: %s", st)
			}
			if st == StatusOccupied {
				return apperr.Conflict("beds become occupied only through assignment")
			}
			if b.Status == StatusOccupied {
				return apperr.Conflict("bed %s is occupied; release it first", id)
			}
			status = &st
		}

		if p.RoomNumber != nil {
			b.RoomNumber = strings.TrimSpace(*p.RoomNumber)
			if b.RoomNumber == "" {
				return apperr.Validation("room_number", "room number must not be empty")
			}
		}
		if p.BedNumber != nil {
			b.BedNumber = strings.TrimSpace(*p.BedNumber)
			if b.BedNumber == "" {
				return apperr.Validation("bed_number", "bed number must not be empty")
			}
		}
		if p.Type != nil {
			if !p.Type.Valid() {
				return apperr.Validation("bed_type", "invalid bed type: %s", *p.Type)
			}
			b.Type = *p.Type
		}
		if p.PricePerDay != nil {
			if *p.PricePerDay < 0 {
				return apperr.Validation("price_per_day", "price per day must not be negative")
			}
			b.PricePerDay = *p.PricePerDay
		}
		if p.Amenities != nil {
			b.Amenities = p.Amenities
		}
		if p.Description != nil {
			b.Description = *p.Description
		}
		if p.DepartmentID != nil {
			if err := s.checkDepartment(ctx, b.HospitalID, p.DepartmentID); err != nil {
				return err
			}
			b.DepartmentID = p.DepartmentID
		}
		if err := s.repo.UpdateAttributes(ctx, b); err != nil {
			return err
		}

		if status != nil {
			ok, err := s.repo.SetStatus(ctx, id, *status)
			if err != nil {
				return err
			}
			if !ok {
				return apperr.Conflict("bed %s is occupied; release it first", id)
			}
		}

		updated, err = s.repo.GetByID(ctx, id)
		return err
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := Authorize(actor, b); err != nil {
		return err
	}
	ok, err := s.repo.Delete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict("bed %s is not available and cannot be deleted", id)
	}
	s.logger.Info().Str("bed_id", id.String()).Str("hospital_id", b.HospitalID.String()).Msg("bed deleted")
	return nil
}

func (s *Service) List(ctx context.Context, f Filter, limit, offset int) ([]*Bed, int, error) {
	if f.HospitalID == uuid.Nil {
		return nil, 0, apperr.Validation("hospital_id", "hospital_id is required")
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation("status", "invalid bed status: %s", f.Status)
	}
	if f.Type != "" && !f.Type.Valid() {
		return nil, 0, apperr.Validation("bed_type", "invalid bed type: %s", f.Type)
	}
	return s.repo.List(ctx, f, limit, offset)
}

func (s *Service) Summary(ctx context.Context, hospitalID uuid.UUID) (*Summary, error) {
	if _, err := s.dir.Hospital(ctx, hospitalID); err != nil {
		return nil, err
	}
	return s.repo.Summary(ctx, hospitalID)
}
