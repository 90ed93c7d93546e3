package ledger

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperr"
)

// Ledger validates and records payment events.
type Ledger struct {
	repo Repository
	now  func() time.Time
}

func New(repo Repository) *Ledger {
	return &Ledger{repo: repo, now: time.Now}
}

// Result is the outcome of Record. Duplicate is true when the transaction id
// had already been recorded for the same subject, in which case nothing was
// appended.
type Result struct {
	Event     *Event
	Duplicate bool
	Summary   Summary
}

// Record appends e and returns the subject's new summary. A transaction id
// already credited to a different subject is a conflict.
func (l *Ledger) Record(ctx context.Context, e *Event) (*Result, error) {
	if !e.SubjectType.Valid() {
		return nil, apperr.Validation("subject_type", "unknown subject type %q", e.SubjectType)
	}
	if e.SubjectID == uuid.Nil {
		return nil, apperr.Validation("subject_id", "subject id is required")
	}
	if e.Amount <= 0 {
		return nil, apperr.Validation("amount", "amount must be greater than zero")
	}
	e.Method = strings.TrimSpace(e.Method)
	if e.Method == "" {
		return nil, apperr.Validation("method", "payment method is required")
	}
	e.TransactionID = strings.TrimSpace(e.TransactionID)
	if e.TransactionID == "" {
		return nil, apperr.Validation("transaction_id", "transaction id is required")
	}
	if e.Status == "" {
		e.Status = StatusCaptured
	}
	if e.Source == "" {
		e.Source = SourceManual
	}
	if e.PaidAt.IsZero() {
		e.PaidAt = l.now().UTC()
	}
	e.Amount = Round(e.Amount)

	inserted, err := l.repo.Append(ctx, e)
	if err != nil {
		return nil, err
	}
	res := &Result{Event: e, Duplicate: !inserted}
	if !inserted {
		existing, err := l.repo.GetByTransactionID(ctx, e.TransactionID)
		if err != nil {
			return nil, err
		}
		if existing.SubjectType != e.SubjectType || existing.SubjectID != e.SubjectID {
			return nil, apperr.Conflict("transaction %s is already recorded against another %s", e.TransactionID, existing.SubjectType)
		}
		res.Event = existing
	}

	res.Summary, err = l.Summary(ctx, e.SubjectType, e.SubjectID)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (l *Ledger) Summary(ctx context.Context, t SubjectType, id uuid.UUID) (Summary, error) {
	events, err := l.repo.ListBySubject(ctx, t, id)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(events), nil
}

func (l *Ledger) History(ctx context.Context, t SubjectType, id uuid.UUID) ([]*Event, error) {
	return l.repo.ListBySubject(ctx, t, id)
}

// Recorded reports whether txnID is already in the ledger.
func (l *Ledger) Recorded(ctx context.Context, txnID string) (*Event, bool, error) {
	e, err := l.repo.GetByTransactionID(ctx, txnID)
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return e, true, nil
}
