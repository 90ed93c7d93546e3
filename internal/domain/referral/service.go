package referral

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/bed"
	"github.com/hms/hms/internal/domain/catalog"
	"github.com/hms/hms/internal/domain/ledger"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/notification"
)

// Service drives referrals through pending, accepted, rejected, completed
// and cancelled, keeping attached beds consistent with the referral status.
type Service struct {
	repo     Repository
	beds     *bed.Service
	dir      catalog.Directory
	ledger   *ledger.Ledger
	tx       db.Transactor
	notifier *notification.Notifier
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, beds *bed.Service, dir catalog.Directory, l *ledger.Ledger,
	tx db.Transactor, notifier *notification.Notifier, logger zerolog.Logger) *Service {
	return &Service{
		repo:     repo,
		beds:     beds,
		dir:      dir,
		ledger:   l,
		tx:       tx,
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

func (s *Service) Create(ctx context.Context, actor auth.Actor, r *Referral) error {
	switch {
	case actor.Is(auth.KindDoctor):
		r.DoctorID = actor.ID
	case actor.IsAdmin():
		if r.DoctorID == uuid.Nil {
			return apperr.Validation("doctor_id", "doctor_id is required")
		}
	default:
		return apperr.Forbidden("only doctors can create referrals")
	}
	if r.HospitalID == uuid.Nil {
		return apperr.Validation("hospital_id", "hospital_id is required")
	}
	if r.PatientID == uuid.Nil {
		return apperr.Validation("patient_id", "patient_id is required")
	}
	if !validCareTypes[r.CareType] {
		return apperr.Validation("care_type", "invalid care type: %q", r.CareType)
	}
	if r.Urgency == "" {
		r.Urgency = UrgencyMedium
	}
	if !validUrgencies[r.Urgency] {
		return apperr.Validation("urgency", "invalid urgency: %q", r.Urgency)
	}
	r.Reason = strings.TrimSpace(r.Reason)
	if r.Reason == "" {
		return apperr.Validation("reason", "reason is required")
	}
	if r.EstimatedStayDays == 0 {
		r.EstimatedStayDays = DefaultStayDays
	}
	if r.EstimatedStayDays < 0 {
		return apperr.Validation("estimated_stay_days", "estimated stay must be positive")
	}
	if r.EstimatedPrice < 0 {
		return apperr.Validation("estimated_price", "estimated price must not be negative")
	}

	doctor, err := s.dir.Doctor(ctx, r.DoctorID)
	if err != nil {
		return err
	}
	hospital, err := s.dir.Hospital(ctx, r.HospitalID)
	if err != nil {
		return err
	}
	patient, err := s.dir.Patient(ctx, r.PatientID)
	if err != nil {
		return err
	}
	if r.PrescriptionID != nil {
		rx, err := s.dir.Prescription(ctx, *r.PrescriptionID)
		if err != nil {
			return err
		}
		if rx.DoctorID != r.DoctorID {
			return apperr.Forbidden("prescription %s was written by another doctor", rx.ID)
		}
	}
	if r.OperationID != nil {
		op, err := s.dir.Operation(ctx, *r.OperationID)
		if err != nil {
			return err
		}
		if op.HospitalID != r.HospitalID {
			return apperr.Validation("operation_id", "operation is not offered by the target hospital")
		}
		if r.EstimatedPrice == 0 {
			r.EstimatedPrice = op.Price
		}
	}

	r.PatientName = patient.Name
	r.PatientPhone = patient.Phone
	r.PatientEmail = patient.Email
	r.Status = StatusPending
	r.BedID = nil
	r.AssignedDoctorID = nil
	r.FinalPrice = nil
	r.RejectionReason = ""

	if err := s.repo.Create(ctx, r); err != nil {
		return err
	}
	s.notifier.Notify(notification.TplReferralCreated, r.PatientEmail, map[string]string{
		"patient_name": r.PatientName,
		"hospital":     hospital.Name,
		"doctor":       doctor.Name,
		"care_type":    string(r.CareType),
	})
	return nil
}

func canView(actor auth.Actor, r *Referral) bool {
	switch actor.Kind {
	case auth.KindAdmin:
		return true
	case auth.KindDoctor:
		return actor.ID == r.DoctorID || (r.AssignedDoctorID != nil && actor.ID == *r.AssignedDoctorID)
	case auth.KindHospital:
		return actor.ID == r.HospitalID
	case auth.KindUser:
		return actor.ID == r.PatientID
	}
	return false
}

func requireHospital(actor auth.Actor, r *Referral) error {
	if actor.IsAdmin() || (actor.Is(auth.KindHospital) && actor.ID == r.HospitalID) {
		return nil
	}
	return apperr.Forbidden("referral %s was sent to another hospital", r.ID)
}

func requireReferrer(actor auth.Actor, r *Referral) error {
	if actor.IsAdmin() || (actor.Is(auth.KindDoctor) && actor.ID == r.DoctorID) {
		return nil
	}
	return apperr.Forbidden("only the referring doctor can change referral %s", r.ID)
}

func requireStatus(r *Referral, want Status) error {
	if r.Status != want {
		return apperr.Conflict("referral is %s, expected %s", r.Status, want)
	}
	return nil
}

func (s *Service) withPayment(ctx context.Context, r *Referral) (*Referral, error) {
	sum, err := s.ledger.Summary(ctx, ledger.SubjectReferral, r.ID)
	if err != nil {
		return nil, err
	}
	r.Payment = &sum
	return r, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Referral, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, r) {
		return nil, apperr.Forbidden("referral %s is not visible to %s", id, actor.Kind)
	}
	return s.withPayment(ctx, r)
}

// Lookup loads a referral with its payment view and no visibility check.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*Referral, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.withPayment(ctx, r)
}

// List returns the referrals the actor takes part in: sent by a doctor,
// received by a hospital or concerning a patient.
func (s *Service) List(ctx context.Context, actor auth.Actor, status Status, limit, offset int) ([]*Referral, int, error) {
	if status != "" && !status.Valid() {
		return nil, 0, apperr.Validation("status", "invalid referral status: %s", status)
	}
	f := Filter{Status: status}
	switch actor.Kind {
	case auth.KindDoctor:
		f.DoctorID = &actor.ID
	case auth.KindHospital:
		f.HospitalID = &actor.ID
	case auth.KindUser:
		f.PatientID = &actor.ID
	case auth.KindAdmin:
	default:
		return nil, 0, apperr.Forbidden("unknown actor")
	}
	items, total, err := s.repo.List(ctx, f, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	for _, r := range items {
		if _, err := s.withPayment(ctx, r); err != nil {
			return nil, 0, err
		}
	}
	return items, total, nil
}

// transition persists r if its stored status is still from. Losing the race
// to another writer is a conflict.
func (s *Service) transition(ctx context.Context, r *Referral, from Status) error {
	ok, err := s.repo.Transition(ctx, r, from)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Conflict("referral %s is no longer %s", r.ID, from)
	}
	return nil
}

func (s *Service) hospitalName(ctx context.Context, id uuid.UUID) string {
	h, err := s.dir.Hospital(ctx, id)
	if err != nil {
		return ""
	}
	return h.Name
}

// occupiedBy reports whether b is currently held by referral id.
func occupiedBy(b *bed.Bed, id uuid.UUID) bool {
	return b.Status == bed.StatusOccupied && b.Occupant != nil &&
		b.Occupant.ReferralID != nil && *b.Occupant.ReferralID == id
}

// attachBed occupies bedID for r. A bed that r already occupies is kept.
func (s *Service) attachBed(ctx context.Context, r *Referral, bedID uuid.UUID) (*bed.Bed, error) {
	b, err := s.beds.Get(ctx, bedID)
	if err != nil {
		return nil, err
	}
	if b.HospitalID != r.HospitalID {
		return nil, apperr.Forbidden("bed %s belongs to another hospital", bedID)
	}
	if occupiedBy(b, r.ID) {
		return b, nil
	}
	if !b.IsAvailable {
		return nil, apperr.Conflict("bed %s is not available (status %s)", bedID, b.Status)
	}
	return s.beds.Assign(ctx, bedID, bed.Occupant{
		PatientID:     r.PatientID,
		AdmissionDate: s.now().UTC(),
		ReferralID:    &r.ID,
	})
}

// releaseBed frees the bed attached to r. A bed that no longer exists, or
// that is no longer held by r, is left alone.
func (s *Service) releaseBed(ctx context.Context, r *Referral, bedID uuid.UUID) error {
	b, err := s.beds.Get(ctx, bedID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			s.logger.Warn().Str("referral_id", r.ID.String()).Str("bed_id", bedID.String()).
				Msg("attached bed no longer exists")
			return nil
		}
		return err
	}
	if !occupiedBy(b, r.ID) {
		s.logger.Warn().Str("referral_id", r.ID.String()).Str("bed_id", bedID.String()).
			Str("bed_status", string(b.Status)).
			Msg("attached bed is not held by this referral, leaving it")
		return nil
	}
	_, err = s.beds.Release(ctx, bedID)
	return err
}

// Accept moves a pending referral to accepted, optionally occupying a bed in
// the same transaction.
func (s *Service) Accept(ctx context.Context, actor auth.Actor, id uuid.UUID, bedID *uuid.UUID) (*Referral, error) {
	var (
		r        *Referral
		attached *bed.Bed
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := requireHospital(actor, r); err != nil {
			return err
		}
		if err := requireStatus(r, StatusPending); err != nil {
			return err
		}
		if bedID != nil {
			attached, err = s.attachBed(ctx, r, *bedID)
			if err != nil {
				return err
			}
			r.BedID = bedID
			final := FinalPrice(r.EstimatedPrice, attached.PricePerDay, r.EstimatedStayDays)
			r.FinalPrice = &final
		}
		now := s.now().UTC()
		r.Status = StatusAccepted
		r.AcceptedAt = &now
		return s.transition(ctx, r, StatusPending)
	})
	if err != nil {
		return nil, err
	}

	hospital := s.hospitalName(ctx, r.HospitalID)
	s.notifier.Notify(notification.TplReferralAccepted, r.PatientEmail, map[string]string{
		"patient_name": r.PatientName,
		"hospital":     hospital,
		"final_price":  ledger.FormatAmount(r.Price()),
	})
	if attached != nil {
		s.notifyBed(r, attached, hospital)
	}
	return s.withPayment(ctx, r)
}

func (s *Service) notifyBed(r *Referral, b *bed.Bed, hospital string) {
	data := map[string]string{
		"patient_name": r.PatientName,
		"hospital":     hospital,
		"room":         b.RoomNumber,
		"bed":          b.BedNumber,
		"date":         "the admission date",
		"time":         "the scheduled time",
	}
	if r.AppointmentDate != nil {
		data["date"] = r.AppointmentDate.Format("2006-01-02")
	}
	if r.AppointmentTime != "" {
		data["time"] = r.AppointmentTime
	}
	s.notifier.Notify(notification.TplBedAssigned, r.PatientEmail, data)
}

func (s *Service) Reject(ctx context.Context, actor auth.Actor, id uuid.UUID, reason string) (*Referral, error) {
	var r *Referral
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := requireHospital(actor, r); err != nil {
			return err
		}
		if err := requireStatus(r, StatusPending); err != nil {
			return err
		}
		reason = strings.TrimSpace(reason)
		if reason == "" {
			return apperr.Validation("reason", "a rejection reason is required")
		}
		if r.BedID != nil {
			if err := s.releaseBed(ctx, r, *r.BedID); err != nil {
				return err
			}
			r.BedID = nil
		}
		now := s.now().UTC()
		r.Status = StatusRejected
		r.RejectionReason = reason
		r.RejectedAt = &now
		return s.transition(ctx, r, StatusPending)
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Notify(notification.TplReferralRejected, r.PatientEmail, map[string]string{
		"patient_name": r.PatientName,
		"hospital":     s.hospitalName(ctx, r.HospitalID),
		"reason":       r.RejectionReason,
	})
	return s.withPayment(ctx, r)
}

type AssignBedRequest struct {
	BedID           uuid.UUID  `json:"bed_id"`
	DoctorID        *uuid.UUID `json:"doctor_id"`
	AppointmentDate *time.Time `json:"appointment_date"`
	AppointmentTime string     `json:"appointment_time"`
}

// appointmentAt combines the date and an optional HH:MM time.
func appointmentAt(date time.Time, clock string) (time.Time, error) {
	if clock == "" {
		y, m, d := date.Date()
		return time.Date(y, m, d, 23, 59, 59, 0, date.Location()), nil
	}
	t, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, apperr.Validation("appointment_time", "appointment time must be HH:MM")
	}
	y, m, d := date.Date()
	return time.Date(y, m, d, t.Hour(), t.Minute(), 0, 0, date.Location()), nil
}

// AssignBed attaches a bed to an accepted referral and completes it. A bed
// attached earlier is released when a different one is chosen.
func (s *Service) AssignBed(ctx context.Context, actor auth.Actor, id uuid.UUID, req AssignBedRequest) (*Referral, error) {
	if req.BedID == uuid.Nil {
		return nil, apperr.Validation("bed_id", "bed_id is required")
	}
	var (
		r        *Referral
		attached *bed.Bed
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := requireHospital(actor, r); err != nil {
			return err
		}
		if err := requireStatus(r, StatusAccepted); err != nil {
			return err
		}
		if req.DoctorID != nil {
			doc, err := s.dir.Doctor(ctx, *req.DoctorID)
			if err != nil {
				return err
			}
			if !doc.WorksAt(r.HospitalID) {
				return apperr.Forbidden("doctor %s does not work at this hospital", doc.ID)
			}
		}
		if req.AppointmentDate != nil {
			at, err := appointmentAt(*req.AppointmentDate, req.AppointmentTime)
			if err != nil {
				return err
			}
			if at.Before(s.now()) {
				return apperr.Validation("appointment_date", "appointment must not be in the past")
			}
		}

		previous := r.BedID
		attached, err = s.attachBed(ctx, r, req.BedID)
		if err != nil {
			return err
		}
		if previous != nil && *previous != req.BedID {
			if err := s.releaseBed(ctx, r, *previous); err != nil {
				return err
			}
		}

		bedID := req.BedID
		r.BedID = &bedID
		if req.DoctorID != nil {
			r.AssignedDoctorID = req.DoctorID
		}
		if req.AppointmentDate != nil {
			r.AppointmentDate = req.AppointmentDate
			r.AppointmentTime = req.AppointmentTime
		}
		final := FinalPrice(r.EstimatedPrice, attached.PricePerDay, r.EstimatedStayDays)
		r.FinalPrice = &final
		now := s.now().UTC()
		r.Status = StatusCompleted
		r.CompletedAt = &now
		return s.transition(ctx, r, StatusAccepted)
	})
	if err != nil {
		return nil, err
	}

	s.notifyBed(r, attached, s.hospitalName(ctx, r.HospitalID))
	return s.withPayment(ctx, r)
}

// Complete finishes an accepted referral and frees its bed.
func (s *Service) Complete(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Referral, error) {
	var r *Referral
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		r, err = s.repo.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := requireHospital(actor, r); err != nil {
			return err
		}
		if err := requireStatus(r, StatusAccepted); err != nil {
			return err
		}
		if r.BedID != nil {
			if err := s.releaseBed(ctx, r, *r.BedID); err != nil {
				return err
			}
		}
		now := s.now().UTC()
		r.Status = StatusCompleted
		r.CompletedAt = &now
		return s.transition(ctx, r, StatusAccepted)
	})
	if err != nil {
		return nil, err
	}
	return s.withPayment(ctx, r)
}

func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Referral, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireReferrer(actor, r); err != nil {
		return nil, err
	}
	if err := requireStatus(r, StatusPending); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	r.Status = StatusCancelled
	r.CancelledAt = &now
	if err := s.transition(ctx, r, StatusPending); err != nil {
		return nil, err
	}
	return s.withPayment(ctx, r)
}

// Delete removes the referral in any status. An attached bed is left as it
// is.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := requireReferrer(actor, r); err != nil {
		return err
	}
	if r.BedID != nil {
		s.logger.Warn().Str("referral_id", id.String()).Str("bed_id", r.BedID.String()).
			Str("status", string(r.Status)).Msg("deleting referral with a bed still attached")
	}
	return s.repo.Delete(ctx, id)
}

type PaymentInput struct {
	Amount         float64       `json:"amount"`
	Method         string        `json:"method"`
	TransactionID  string        `json:"transaction_id"`
	GatewayOrderID string        `json:"-"`
	Source         ledger.Source `json:"-"`
}

// RecordPayment credits the referral through the ledger. The boolean result
// is true when the transaction had already been credited.
func (s *Service) RecordPayment(ctx context.Context, id uuid.UUID, in PaymentInput) (*Referral, bool, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if r.Status == StatusRejected || r.Status == StatusCancelled {
		return nil, false, apperr.Conflict("referral %s is %s and cannot take payments", id, r.Status)
	}
	if in.TransactionID == "" && in.Source != ledger.SourceGateway {
		in.TransactionID = "manual-" + uuid.NewString()
	}
	res, err := s.ledger.Record(ctx, &ledger.Event{
		SubjectType:    ledger.SubjectReferral,
		SubjectID:      id,
		Amount:         in.Amount,
		Method:         in.Method,
		TransactionID:  in.TransactionID,
		GatewayOrderID: in.GatewayOrderID,
		Source:         in.Source,
	})
	if err != nil {
		return nil, false, err
	}
	r.Payment = &res.Summary
	return r, res.Duplicate, nil
}

// RecordPaymentAs is the manual path used by the receiving hospital.
func (s *Service) RecordPaymentAs(ctx context.Context, actor auth.Actor, id uuid.UUID, in PaymentInput) (*Referral, bool, error) {
	r, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	if err := requireHospital(actor, r); err != nil {
		return nil, false, err
	}
	in.Source = ledger.SourceManual
	in.GatewayOrderID = ""
	return s.RecordPayment(ctx, id, in)
}
