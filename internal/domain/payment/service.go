package payment

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/domain/billing"
	"github.com/hms/hms/internal/domain/ledger"
	"github.com/hms/hms/internal/domain/referral"
	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/cache"
	"github.com/hms/hms/internal/platform/gateway"
	"github.com/hms/hms/internal/platform/notification"
)

const DefaultGuardTTL = 2 * time.Minute

// Bills is the part of the billing engine reconciliation credits.
type Bills interface {
	Lookup(ctx context.Context, id uuid.UUID) (*billing.Bill, error)
	AddPaymentToHistory(ctx context.Context, id uuid.UUID, ev ledger.Event) (*billing.Bill, bool, error)
}

// Referrals is the part of the referral service reconciliation credits.
type Referrals interface {
	Lookup(ctx context.Context, id uuid.UUID) (*referral.Referral, error)
	RecordPayment(ctx context.Context, id uuid.UUID, in referral.PaymentInput) (*referral.Referral, bool, error)
}

type Service struct {
	repo      Repository
	gw        gateway.Gateway
	guard     cache.Guard
	ledger    *ledger.Ledger
	bills     Bills
	referrals Referrals
	notifier  *notification.Notifier
	logger    zerolog.Logger
	secret    string
	currency  string
	guardTTL  time.Duration
}

type Config struct {
	KeySecret string
	Currency  string
	GuardTTL  time.Duration
}

func NewService(repo Repository, gw gateway.Gateway, guard cache.Guard, l *ledger.Ledger,
	bills Bills, referrals Referrals, notifier *notification.Notifier, logger zerolog.Logger, cfg Config) *Service {
	if cfg.Currency == "" {
		cfg.Currency = "INR"
	}
	if cfg.GuardTTL <= 0 {
		cfg.GuardTTL = DefaultGuardTTL
	}
	return &Service{
		repo:      repo,
		gw:        gw,
		guard:     guard,
		ledger:    l,
		bills:     bills,
		referrals: referrals,
		notifier:  notifier,
		logger:    logger,
		secret:    cfg.KeySecret,
		currency:  cfg.Currency,
		guardTTL:  cfg.GuardTTL,
	}
}

type OrderRequest struct {
	SubjectType ledger.SubjectType `json:"subject_type"`
	SubjectID   uuid.UUID          `json:"subject_id"`
	Amount      *float64           `json:"amount"`
}

// subject is what an order or confirmation needs to know about the thing
// being paid for.
type subject struct {
	hospitalID uuid.UUID
	patientID  *uuid.UUID
	doctorID   *uuid.UUID
	email      string
	name       string
	receipt    string
	amountDue  float64
}

func (s *Service) loadSubject(ctx context.Context, t ledger.SubjectType, id uuid.UUID) (*subject, error) {
	switch t {
	case ledger.SubjectBill:
		b, err := s.bills.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		if b.PaymentStatus.Terminal() {
			return nil, apperr.Conflict("bill %s is %s", id, b.PaymentStatus)
		}
		return &subject{
			hospitalID: b.HospitalID,
			patientID:  b.PatientID,
			email:      b.PatientEmail,
			name:       b.PatientName,
			receipt:    b.BillNumber,
			amountDue:  b.AmountDue,
		}, nil
	case ledger.SubjectReferral:
		r, err := s.referrals.Lookup(ctx, id)
		if err != nil {
			return nil, err
		}
		if r.Status == referral.StatusRejected || r.Status == referral.StatusCancelled {
			return nil, apperr.Conflict("referral %s is %s", id, r.Status)
		}
		return &subject{
			hospitalID: r.HospitalID,
			patientID:  &r.PatientID,
			doctorID:   &r.DoctorID,
			email:      r.PatientEmail,
			name:       r.PatientName,
			receipt:    "REF-" + strings.ToUpper(id.String()[:8]),
			amountDue:  r.AmountDue(),
		}, nil
	default:
		return nil, apperr.Validation("subject_type", "orders can only be created for bills or referrals")
	}
}

func (sub *subject) payableBy(actor auth.Actor) bool {
	switch {
	case actor.IsAdmin():
		return true
	case actor.Is(auth.KindHospital):
		return actor.ID == sub.hospitalID
	case actor.Is(auth.KindUser):
		return sub.patientID != nil && *sub.patientID == actor.ID
	case actor.Is(auth.KindDoctor):
		return sub.doctorID != nil && *sub.doctorID == actor.ID
	}
	return false
}

// CreateOrder opens a gateway order for a bill or referral. The amount
// defaults to what is still owed.
func (s *Service) CreateOrder(ctx context.Context, actor auth.Actor, req OrderRequest) (*Order, error) {
	if req.SubjectID == uuid.Nil {
		return nil, apperr.Validation("subject_id", "subject_id is required")
	}
	sub, err := s.loadSubject(ctx, req.SubjectType, req.SubjectID)
	if err != nil {
		return nil, err
	}
	if !sub.payableBy(actor) {
		return nil, apperr.Forbidden("%s %s cannot be paid by %s", req.SubjectType, req.SubjectID, actor.Kind)
	}

	amount := sub.amountDue
	if req.Amount != nil {
		amount = ledger.Round(*req.Amount)
		if amount <= 0 {
			return nil, apperr.Validation("amount", "amount must be greater than zero")
		}
	}
	if amount <= 0 {
		return nil, apperr.Conflict("nothing is due on %s %s", req.SubjectType, req.SubjectID)
	}

	gwOrder, err := s.gw.CreateOrder(ctx, amount, s.currency, sub.receipt, map[string]string{
		"subject_type": string(req.SubjectType),
		"subject_id":   req.SubjectID.String(),
	})
	if err != nil {
		return nil, gatewayError("create order", err)
	}

	o := &Order{
		GatewayOrderID: gwOrder.ID,
		SubjectType:    req.SubjectType,
		SubjectID:      req.SubjectID,
		Amount:         amount,
		Currency:       s.currency,
		Receipt:        sub.receipt,
		Status:         OrderCreated,
		CreatedBy:      actor.ID,
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return nil, err
	}
	s.logger.Info().Str("order_id", o.GatewayOrderID).Str("subject_type", string(o.SubjectType)).
		Str("subject_id", o.SubjectID.String()).Float64("amount", amount).Msg("payment order created")
	return o, nil
}

type ConfirmRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// Confirm verifies a checkout callback and credits the order's subject. A
// payment id is credited at most once; later confirmations of it report
// Duplicate with the current state.
func (s *Service) Confirm(ctx context.Context, req ConfirmRequest) (*Confirmation, error) {
	req.OrderID = strings.TrimSpace(req.OrderID)
	req.PaymentID = strings.TrimSpace(req.PaymentID)
	if req.OrderID == "" {
		return nil, apperr.Validation("razorpay_order_id", "order id is required")
	}
	if req.PaymentID == "" {
		return nil, apperr.Validation("razorpay_payment_id", "payment id is required")
	}
	if !gateway.VerifySignature(req.OrderID, req.PaymentID, req.Signature, s.secret) {
		s.logger.Warn().Str("order_id", req.OrderID).Str("payment_id", req.PaymentID).Msg("payment signature mismatch")
		return nil, apperr.Forbidden("payment signature verification failed")
	}

	o, err := s.repo.GetByGatewayID(ctx, req.OrderID)
	if err != nil {
		return nil, err
	}

	if _, seen, err := s.ledger.Recorded(ctx, req.PaymentID); err != nil {
		return nil, err
	} else if seen {
		return s.current(ctx, o, true)
	}

	key := "payment:" + req.PaymentID
	ok, err := s.guard.Acquire(ctx, key, s.guardTTL)
	if err != nil {
		return nil, apperr.Internal("acquire payment guard", err)
	}
	if !ok {
		return nil, apperr.Conflict("payment %s is already being confirmed", req.PaymentID)
	}
	defer func() {
		if err := s.guard.Release(context.WithoutCancel(ctx), key); err != nil {
			s.logger.Warn().Err(err).Str("payment_id", req.PaymentID).Msg("release payment guard")
		}
	}()

	p, err := s.gw.FetchPayment(ctx, req.PaymentID)
	if err != nil {
		return nil, gatewayError("fetch payment", err)
	}
	if p.OrderID != "" && p.OrderID != o.GatewayOrderID {
		return nil, apperr.Conflict("payment %s belongs to order %s", p.ID, p.OrderID)
	}
	if !p.Settled() {
		return nil, apperr.Conflict("payment %s is %s", p.ID, p.Status)
	}

	conf, err := s.credit(ctx, o, p)
	if err != nil {
		return nil, err
	}
	if !conf.Duplicate {
		if err := s.repo.MarkPaid(ctx, o.GatewayOrderID, p.ID); err != nil {
			return nil, err
		}
		o.Status = OrderPaid
		o.PaymentID = p.ID
		s.logger.Info().Str("order_id", o.GatewayOrderID).Str("payment_id", p.ID).
			Float64("amount", p.Amount).Msg("gateway payment credited")
		s.sendReceipt(ctx, o, p, conf)
	}
	return conf, nil
}

func (s *Service) credit(ctx context.Context, o *Order, p *gateway.Payment) (*Confirmation, error) {
	method := string(methodFor(p.Method))
	conf := &Confirmation{Order: o, SubjectType: o.SubjectType, SubjectID: o.SubjectID}
	switch o.SubjectType {
	case ledger.SubjectBill:
		b, dup, err := s.bills.AddPaymentToHistory(ctx, o.SubjectID, ledger.Event{
			Amount:         p.Amount,
			Method:         method,
			TransactionID:  p.ID,
			GatewayOrderID: o.GatewayOrderID,
			Source:         ledger.SourceGateway,
		})
		if err != nil {
			return nil, err
		}
		conf.Duplicate = dup
		conf.AmountPaid, conf.AmountDue, conf.Status = b.AmountPaid, b.AmountDue, string(b.PaymentStatus)
	case ledger.SubjectReferral:
		r, dup, err := s.referrals.RecordPayment(ctx, o.SubjectID, referral.PaymentInput{
			Amount:         p.Amount,
			Method:         method,
			TransactionID:  p.ID,
			GatewayOrderID: o.GatewayOrderID,
			Source:         ledger.SourceGateway,
		})
		if err != nil {
			return nil, err
		}
		conf.Duplicate = dup
		fillReferral(conf, r)
	default:
		return nil, apperr.Internal("credit payment", errors.New("order has unknown subject type "+string(o.SubjectType)))
	}
	return conf, nil
}

// current reports the subject's state without crediting anything.
func (s *Service) current(ctx context.Context, o *Order, dup bool) (*Confirmation, error) {
	conf := &Confirmation{Order: o, Duplicate: dup, SubjectType: o.SubjectType, SubjectID: o.SubjectID}
	switch o.SubjectType {
	case ledger.SubjectBill:
		b, err := s.bills.Lookup(ctx, o.SubjectID)
		if err != nil {
			return nil, err
		}
		conf.AmountPaid, conf.AmountDue, conf.Status = b.AmountPaid, b.AmountDue, string(b.PaymentStatus)
	case ledger.SubjectReferral:
		r, err := s.referrals.Lookup(ctx, o.SubjectID)
		if err != nil {
			return nil, err
		}
		fillReferral(conf, r)
	}
	return conf, nil
}

func fillReferral(conf *Confirmation, r *referral.Referral) {
	if r.Payment != nil {
		conf.AmountPaid = r.Payment.AmountPaid
	}
	conf.AmountDue = r.AmountDue()
	switch {
	case conf.AmountPaid <= 0:
		conf.Status = string(billing.StatusPending)
	case conf.AmountDue > 0:
		conf.Status = string(billing.StatusPartial)
	default:
		conf.Status = string(billing.StatusPaid)
	}
}

func (s *Service) sendReceipt(ctx context.Context, o *Order, p *gateway.Payment, conf *Confirmation) {
	sub, err := s.loadSubject(ctx, o.SubjectType, o.SubjectID)
	if err != nil {
		s.logger.Warn().Err(err).Str("order_id", o.GatewayOrderID).Msg("receipt skipped")
		return
	}
	s.notifier.Notify(notification.TplPaymentReceipt, sub.email, map[string]string{
		"patient_name":   sub.name,
		"amount":         ledger.FormatAmount(p.Amount),
		"method":         string(methodFor(p.Method)),
		"transaction_id": p.ID,
		"amount_due":     ledger.FormatAmount(conf.AmountDue),
	})
}

// methodFor maps the gateway's payment method onto a bill payment method.
func methodFor(gw string) billing.Method {
	switch strings.ToLower(gw) {
	case "card", "emi":
		return billing.MethodCard
	case "upi":
		return billing.MethodUPI
	case "netbanking":
		return billing.MethodNetBanking
	default:
		return billing.MethodOnline
	}
}

func gatewayError(op string, err error) error {
	if errors.Is(err, gateway.ErrNotConfigured) {
		return apperr.Conflict("payment gateway is not configured")
	}
	return apperr.Internal(op, err)
}
