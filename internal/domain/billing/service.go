package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/bed"
	"github.com/hms/hms/internal/domain/catalog"
	"github.com/hms/hms/internal/domain/ledger"
	"github.com/hms/hms/internal/domain/referral"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/db"
	"github.com/hms/hms/internal/platform/notification"
)

const (
	maxNumberAttempts = 5
	reminderBatch     = 200
)

// reminderInterval is the minimum gap between two reminders for one bill.
const reminderInterval = 7 * 24 * time.Hour

// ReferralSource loads referrals for billing.
type ReferralSource interface {
	Lookup(ctx context.Context, id uuid.UUID) (*referral.Referral, error)
}

// BedSource loads beds for billing. Billing never changes occupancy.
type BedSource interface {
	Get(ctx context.Context, id uuid.UUID) (*bed.Bed, error)
}

type Service struct {
	repo      Repository
	ledger    *ledger.Ledger
	dir       catalog.Directory
	referrals ReferralSource
	beds      BedSource
	tx        db.Transactor
	notifier  *notification.Notifier
	logger    zerolog.Logger
	dueDays   int
	now       func() time.Time
}

type Deps struct {
	Repo      Repository
	Ledger    *ledger.Ledger
	Directory catalog.Directory
	Referrals ReferralSource
	Beds      BedSource
	Tx        db.Transactor
	Notifier  *notification.Notifier
	Logger    zerolog.Logger
	// DueDays sets the default due date of new bills. Zero leaves it unset.
	DueDays int
}

func NewService(d Deps) *Service {
	return &Service{
		repo:      d.Repo,
		ledger:    d.Ledger,
		dir:       d.Directory,
		referrals: d.Referrals,
		beds:      d.Beds,
		tx:        d.Tx,
		notifier:  d.Notifier,
		logger:    d.Logger,
		dueDays:   d.DueDays,
		now:       time.Now,
	}
}

func authorizeOwner(actor auth.Actor, b *Bill) error {
	if actor.IsAdmin() || (actor.Is(auth.KindHospital) && actor.ID == b.HospitalID) {
		return nil
	}
	return apperr.Forbidden("bill %s belongs to another hospital", b.ID)
}

func canView(actor auth.Actor, b *Bill) bool {
	if authorizeOwner(actor, b) == nil {
		return true
	}
	return actor.Is(auth.KindUser) && b.PatientID != nil && *b.PatientID == actor.ID
}

func validateItems(items []Item) error {
	if len(items) == 0 {
		return apperr.Validation("items", "at least one item is required")
	}
	for i := range items {
		it := &items[i]
		it.Name = strings.TrimSpace(it.Name)
		if it.Name == "" {
			return apperr.Validation(fmt.Sprintf("items[%d].name", i), "item name is required")
		}
		if it.Category == "" {
			it.Category = CategoryOther
		}
		if !validCategories[it.Category] {
			return apperr.Validation(fmt.Sprintf("items[%d].category", i), "invalid item category: %s", it.Category)
		}
		if it.Quantity < 0 {
			return apperr.Validation(fmt.Sprintf("items[%d].quantity", i), "quantity must not be negative")
		}
		if it.UnitPrice < 0 {
			return apperr.Validation(fmt.Sprintf("items[%d].unit_price", i), "unit price must not be negative")
		}
	}
	return nil
}

// Create validates and prices b, allocates its number and stores it.
func (s *Service) Create(ctx context.Context, actor auth.Actor, b *Bill) error {
	switch {
	case actor.Is(auth.KindHospital):
		b.HospitalID = actor.ID
	case actor.IsAdmin():
		if b.HospitalID == uuid.Nil {
			return apperr.Validation("hospital_id", "hospital_id is required")
		}
	default:
		return apperr.Forbidden("only hospitals can issue bills")
	}

	b.PatientName = strings.TrimSpace(b.PatientName)
	b.PatientPhone = strings.TrimSpace(b.PatientPhone)
	if b.PatientName == "" {
		return apperr.Validation("patient_name", "patient name is required")
	}
	if b.PatientPhone == "" {
		return apperr.Validation("patient_phone", "patient phone is required")
	}
	if err := validateItems(b.Items); err != nil {
		return err
	}
	if !b.PaymentMethod.Valid() {
		return apperr.Validation("payment_method", "invalid payment method: %q", b.PaymentMethod)
	}
	if b.Tax < 0 {
		return apperr.Validation("tax", "tax must not be negative")
	}
	if b.Discount < 0 {
		return apperr.Validation("discount", "discount must not be negative")
	}
	if b.PaymentStatus == "" {
		b.PaymentStatus = StatusPending
	}
	if b.PaymentStatus != StatusPending {
		return apperr.Validation("payment_status", "a new bill must start as pending")
	}

	b.Recalculate()
	if b.Total < 0 {
		return apperr.Validation("discount", "discount exceeds the bill amount")
	}
	b.TransactionID = ""
	b.PaymentDate = nil
	b.Derive(0)
	if b.DueDate == nil && s.dueDays > 0 {
		due := s.now().UTC().AddDate(0, 0, s.dueDays)
		b.DueDate = &due
	}

	if err := s.insert(ctx, b); err != nil {
		return err
	}
	s.logger.Info().Str("bill_id", b.ID.String()).Str("bill_number", b.BillNumber).
		Float64("total", b.Total).Msg("bill created")

	data := map[string]string{
		"patient_name": b.PatientName,
		"bill_number":  b.BillNumber,
		"total":        ledger.FormatAmount(b.Total),
		"due_date":     "on receipt",
	}
	if b.DueDate != nil {
		data["due_date"] = b.DueDate.Format("2006-01-02")
	}
	if h, err := s.dir.Hospital(ctx, b.HospitalID); err == nil {
		data["hospital"] = h.Name
	}
	s.notifier.Notify(notification.TplBillCreated, b.PatientEmail, data)
	return nil
}

// insert allocates the next number for the current month and stores b. The
// advisory lock serializes allocators; the unique index catches anything
// that slips past it, and a collision is retried with a fresh number.
func (s *Service) insert(ctx context.Context, b *Bill) error {
	for attempt := 1; ; attempt++ {
		err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
			now := s.now().UTC()
			prefix := BillPrefix(now)
			if err := s.repo.LockNumbers(ctx, prefix); err != nil {
				return err
			}
			max, err := s.repo.MaxSequence(ctx, prefix)
			if err != nil {
				return err
			}
			b.BillNumber = FormatBillNumber(now, max+1)
			return s.repo.Create(ctx, b)
		})
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicateNumber) || attempt >= maxNumberAttempts {
			return err
		}
		s.logger.Warn().Str("bill_number", b.BillNumber).Int("attempt", attempt).Msg("bill number collision, retrying")
	}
}

func (s *Service) withHistory(ctx context.Context, b *Bill) (*Bill, error) {
	events, err := s.ledger.History(ctx, ledger.SubjectBill, b.ID)
	if err != nil {
		return nil, err
	}
	b.History = events
	return b, nil
}

func (s *Service) Get(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Bill, error) {
	b, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, b) {
		return nil, apperr.Forbidden("bill %s is not visible to %s", id, actor.Kind)
	}
	return s.withHistory(ctx, b)
}

// Lookup loads a bill without a visibility check.
func (s *Service) Lookup(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context, actor auth.Actor, f Filter, limit, offset int) ([]*Bill, int, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, 0, apperr.Validation("payment_status", "invalid payment status: %s", f.Status)
	}
	switch actor.Kind {
	case auth.KindHospital:
		f.HospitalID = &actor.ID
	case auth.KindUser:
		f.PatientID = &actor.ID
	case auth.KindAdmin:
	default:
		return nil, 0, apperr.Forbidden("%s actors cannot list bills", actor.Kind)
	}
	return s.repo.List(ctx, f, limit, offset)
}

type PaymentInput struct {
	Amount        float64 `json:"amount"`
	Method        Method  `json:"method"`
	TransactionID string  `json:"transaction_id"`
}

// applyPayment appends ev to the ledger and rederives b from it. The bill
// row must already be locked by the caller's transaction.
func (s *Service) applyPayment(ctx context.Context, b *Bill, ev *ledger.Event) (bool, error) {
	if b.PaymentStatus.Terminal() {
		return false, apperr.Conflict("bill %s is %s and cannot take payments", b.ID, b.PaymentStatus)
	}
	res, err := s.ledger.Record(ctx, ev)
	if err != nil {
		return false, err
	}
	if res.Duplicate {
		b.Derive(res.Summary.AmountPaid)
		return true, nil
	}
	b.Derive(res.Summary.AmountPaid)
	b.PaymentMethod = Method(res.Event.Method)
	b.TransactionID = res.Event.TransactionID
	paid := res.Event.PaidAt
	b.PaymentDate = &paid
	return false, s.repo.Update(ctx, b)
}

// RecordPayment is the direct path used at the counter. A transaction id is
// synthesized when none is given.
func (s *Service) RecordPayment(ctx context.Context, actor auth.Actor, id uuid.UUID, in PaymentInput) (*Bill, error) {
	if !in.Method.Valid() {
		return nil, apperr.Validation("method", "invalid payment method: %q", in.Method)
	}
	txnID := strings.TrimSpace(in.TransactionID)
	if txnID == "" {
		txnID = "manual-" + uuid.NewString()
	}
	var b *Bill
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := authorizeOwner(actor, b); err != nil {
			return err
		}
		_, err = s.applyPayment(ctx, b, &ledger.Event{
			SubjectType:   ledger.SubjectBill,
			SubjectID:     id,
			Amount:        in.Amount,
			Method:        string(in.Method),
			TransactionID: txnID,
			Source:        ledger.SourceManual,
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("bill_id", id.String()).Float64("amount", in.Amount).
		Str("status", string(b.PaymentStatus)).Msg("payment recorded")
	return s.withHistory(ctx, b)
}

// AddPaymentToHistory is the gateway path. The event is keyed by its
// transaction id, so crediting the same external payment through either
// path more than once has no further effect. The boolean result reports a
// duplicate.
func (s *Service) AddPaymentToHistory(ctx context.Context, id uuid.UUID, ev ledger.Event) (*Bill, bool, error) {
	ev.SubjectType = ledger.SubjectBill
	ev.SubjectID = id
	if ev.Source == "" {
		ev.Source = ledger.SourceGateway
	}
	var (
		b   *Bill
		dup bool
	)
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		dup, err = s.applyPayment(ctx, b, &ev)
		return err
	})
	if err != nil {
		return nil, false, err
	}
	b, err = s.withHistory(ctx, b)
	return b, dup, err
}

// AddBedCharge appends a Bed line for days at pricePerDay. The bed ledger
// is not touched.
func (s *Service) AddBedCharge(ctx context.Context, actor auth.Actor, id uuid.UUID, pricePerDay float64, days int) (*Bill, error) {
	if pricePerDay < 0 {
		return nil, apperr.Validation("price_per_day", "price per day must not be negative")
	}
	if days <= 0 {
		return nil, apperr.Validation("days", "days must be at least 1")
	}
	var b *Bill
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := authorizeOwner(actor, b); err != nil {
			return err
		}
		if b.PaymentStatus.Terminal() {
			return apperr.Conflict("bill %s is %s", id, b.PaymentStatus)
		}
		b.Items = append(b.Items, Item{
			Category:    CategoryBed,
			Name:        "Bed charges",
			Description: fmt.Sprintf("%d day(s) at %s per day", days, ledger.FormatAmount(pricePerDay)),
			Quantity:    days,
			UnitPrice:   pricePerDay,
		})
		b.Recalculate()
		sum, err := s.ledger.Summary(ctx, ledger.SubjectBill, id)
		if err != nil {
			return err
		}
		// More charges can reopen a paid bill.
		if b.PaymentStatus == StatusPaid {
			b.PaymentStatus = StatusPending
		}
		b.Derive(sum.AmountPaid)
		return s.repo.Update(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	return s.withHistory(ctx, b)
}

type FromReferralRequest struct {
	Items         []Item     `json:"items"`
	Tax           float64    `json:"tax"`
	Discount      float64    `json:"discount"`
	PaymentMethod Method     `json:"payment_method"`
	DueDate       *time.Time `json:"due_date"`
	Notes         string     `json:"notes"`
}

// CreateFromReferral bills an accepted or completed referral: the operation
// (or the estimate), the attached bed for the estimated stay, and extras.
func (s *Service) CreateFromReferral(ctx context.Context, actor auth.Actor, referralID uuid.UUID, req FromReferralRequest) (*Bill, error) {
	r, err := s.referrals.Lookup(ctx, referralID)
	if err != nil {
		return nil, err
	}
	if !actor.IsAdmin() && !(actor.Is(auth.KindHospital) && actor.ID == r.HospitalID) {
		return nil, apperr.Forbidden("referral %s was sent to another hospital", referralID)
	}
	if r.Status != referral.StatusAccepted && r.Status != referral.StatusCompleted {
		return nil, apperr.Conflict("referral is %s; only accepted or completed referrals can be billed", r.Status)
	}

	b := &Bill{
		HospitalID:     r.HospitalID,
		PatientID:      &r.PatientID,
		PatientName:    r.PatientName,
		PatientPhone:   r.PatientPhone,
		PatientEmail:   r.PatientEmail,
		ReferralID:     &r.ID,
		PrescriptionID: r.PrescriptionID,
		DoctorID:       r.AssignedDoctorID,
		BedID:          r.BedID,
		OperationID:    r.OperationID,
		Tax:            req.Tax,
		Discount:       req.Discount,
		PaymentMethod:  req.PaymentMethod,
		DueDate:        req.DueDate,
		Notes:          req.Notes,
	}
	if b.PaymentMethod == "" {
		b.PaymentMethod = MethodCash
	}

	if r.OperationID != nil {
		op, err := s.dir.Operation(ctx, *r.OperationID)
		if err != nil {
			return nil, err
		}
		b.Items = append(b.Items, Item{Category: CategoryOperation, Name: op.Name, Quantity: 1, UnitPrice: op.Price})
	} else if r.EstimatedPrice > 0 {
		b.Items = append(b.Items, Item{
			Category: CategoryOperation,
			Name:     string(r.CareType) + " care",
			Quantity: 1, UnitPrice: r.EstimatedPrice,
		})
	}
	if r.BedID != nil {
		bd, err := s.beds.Get(ctx, *r.BedID)
		if err != nil {
			return nil, err
		}
		days := r.EstimatedStayDays
		if days <= 0 {
			days = referral.DefaultStayDays
		}
		b.Items = append(b.Items, Item{
			Category:    CategoryBed,
			Name:        fmt.Sprintf("%s bed %s/%s", bd.Type, bd.RoomNumber, bd.BedNumber),
			Description: fmt.Sprintf("%d day(s) at %s per day", days, ledger.FormatAmount(bd.PricePerDay)),
			Quantity:    days,
			UnitPrice:   bd.PricePerDay,
		})
	}
	b.Items = append(b.Items, req.Items...)

	billActor := actor
	if actor.IsAdmin() {
		billActor = auth.Actor{ID: r.HospitalID, Kind: auth.KindHospital}
	}
	if err := s.Create(ctx, billActor, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) Cancel(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Bill, error) {
	return s.setTerminal(ctx, actor, id, StatusCancelled)
}

func (s *Service) Refund(ctx context.Context, actor auth.Actor, id uuid.UUID) (*Bill, error) {
	return s.setTerminal(ctx, actor, id, StatusRefunded)
}

// setTerminal moves a bill to cancelled (nothing paid yet) or refunded
// (something was paid).
func (s *Service) setTerminal(ctx context.Context, actor auth.Actor, id uuid.UUID, to PaymentStatus) (*Bill, error) {
	var b *Bill
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		b, err = s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := authorizeOwner(actor, b); err != nil {
			return err
		}
		if b.PaymentStatus.Terminal() {
			return apperr.Conflict("bill %s is already %s", id, b.PaymentStatus)
		}
		sum, err := s.ledger.Summary(ctx, ledger.SubjectBill, id)
		if err != nil {
			return err
		}
		switch to {
		case StatusCancelled:
			if sum.AmountPaid > 0 {
				return apperr.Conflict("bill %s has payments; refund it instead", id)
			}
		case StatusRefunded:
			if sum.AmountPaid <= 0 {
				return apperr.Conflict("bill %s has no payments to refund", id)
			}
		}
		b.PaymentStatus = to
		b.Derive(sum.AmountPaid)
		return s.repo.Update(ctx, b)
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info().Str("bill_id", id.String()).Str("status", string(to)).Msg("bill status changed")
	return s.withHistory(ctx, b)
}

// Delete removes a bill that has no payments.
func (s *Service) Delete(ctx context.Context, actor auth.Actor, id uuid.UUID) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		b, err := s.repo.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if err := authorizeOwner(actor, b); err != nil {
			return err
		}
		sum, err := s.ledger.Summary(ctx, ledger.SubjectBill, id)
		if err != nil {
			return err
		}
		if sum.AmountPaid > 0 {
			return apperr.Conflict("bill %s has payments and cannot be deleted", id)
		}
		return s.repo.Delete(ctx, id)
	})
}

// SendOverdueReminders emails every patient whose bill is past due and who
// has not been reminded within reminderInterval. It returns the number of
// reminders sent; delivery failures are logged and retried on the next run.
func (s *Service) SendOverdueReminders(ctx context.Context) (int, error) {
	if s.notifier == nil {
		return 0, nil
	}
	now := s.now().UTC()
	bills, err := s.repo.ListOverdue(ctx, now, now.Add(-reminderInterval), reminderBatch)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, b := range bills {
		if err := ctx.Err(); err != nil {
			return sent, err
		}
		data := map[string]string{
			"patient_name": b.PatientName,
			"bill_number":  b.BillNumber,
			"amount_due":   ledger.FormatAmount(b.AmountDue),
			"due_date":     b.DueDate.Format("2006-01-02"),
		}
		if err := s.notifier.Send(ctx, notification.TplBillOverdue, b.PatientEmail, data); err != nil {
			s.logger.Warn().Err(err).Str("bill_id", b.ID.String()).Msg("overdue reminder failed")
			continue
		}
		sent++
		if err := s.repo.MarkReminded(ctx, b.ID, now); err != nil {
			s.logger.Error().Err(err).Str("bill_id", b.ID.String()).Msg("record reminder")
		}
	}
	s.logger.Info().Int("overdue", len(bills)).Int("sent", sent).Msg("overdue reminders processed")
	return sent, nil
}
