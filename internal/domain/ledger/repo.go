package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperr"
)

type Repository interface {
	// Append stores e unless its transaction id is already recorded, and
	// reports whether it was inserted.
	Append(ctx context.Context, e *Event) (bool, error)
	ListBySubject(ctx context.Context, t SubjectType, id uuid.UUID) ([]*Event, error)
	GetByTransactionID(ctx context.Context, txnID string) (*Event, error)
}

// MemoryRepository is an in-process Repository used by tests across the
// domain packages.
type MemoryRepository struct {
	mu     sync.Mutex
	events []*Event
	byTxn  map[string]*Event
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byTxn: make(map[string]*Event)}
}

func (m *MemoryRepository) Append(_ context.Context, e *Event) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byTxn[e.TransactionID]; ok {
		return false, nil
	}
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	e.CreatedAt = time.Now().UTC()
	cp := *e
	m.events = append(m.events, &cp)
	m.byTxn[e.TransactionID] = &cp
	return true, nil
}

func (m *MemoryRepository) ListBySubject(_ context.Context, t SubjectType, id uuid.UUID) ([]*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Event
	for _, e := range m.events {
		if e.SubjectType == t && e.SubjectID == id {
			cp := *e
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].PaidAt.Before(out[j].PaidAt) })
	return out, nil
}

func (m *MemoryRepository) GetByTransactionID(_ context.Context, txnID string) (*Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.byTxn[txnID]
	if !ok {
		return nil, apperr.NotFound("transaction %s not found", txnID)
	}
	cp := *e
	return &cp, nil
}
