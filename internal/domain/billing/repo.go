package billing

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperr"
)

// ErrDuplicateNumber is returned by Create when the bill number is taken.
var ErrDuplicateNumber = errors.New("bill number already allocated")

type Repository interface {
	// LockNumbers serializes bill-number allocation for prefix until the
	// surrounding transaction ends.
	LockNumbers(ctx context.Context, prefix string) error
	MaxSequence(ctx context.Context, prefix string) (int, error)
	Create(ctx context.Context, b *Bill) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bill, error)
	// GetForUpdate locks the bill row for the surrounding transaction.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error)
	Update(ctx context.Context, b *Bill) error
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Bill, int, error)
	// ListOverdue returns open bills with money owed past their due date
	// whose last reminder, if any, went out before remindedBefore.
	ListOverdue(ctx context.Context, asOf, remindedBefore time.Time, limit int) ([]*Bill, error)
	MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error
}

type MemoryRepository struct {
	mu    sync.Mutex
	bills map[uuid.UUID]*Bill
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{bills: make(map[uuid.UUID]*Bill)}
}

func copyBill(b *Bill) *Bill {
	cp := *b
	cp.Items = append([]Item(nil), b.Items...)
	cp.History = nil
	return &cp
}

// LockNumbers is a no-op; callers run under a LockingTransactor.
func (m *MemoryRepository) LockNumbers(context.Context, string) error { return nil }

func (m *MemoryRepository) MaxSequence(_ context.Context, prefix string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	max := 0
	for _, b := range m.bills {
		if seq, ok := ParseBillSequence(b.BillNumber, prefix); ok && seq > max {
			max = seq
		}
	}
	return max, nil
}

func (m *MemoryRepository) Create(_ context.Context, b *Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, other := range m.bills {
		if other.BillNumber == b.BillNumber {
			return ErrDuplicateNumber
		}
	}
	b.ID = uuid.New()
	b.CreatedAt = time.Now().UTC()
	b.UpdatedAt = b.CreatedAt
	m.bills[b.ID] = copyBill(b)
	return nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[id]
	if !ok {
		return nil, apperr.NotFound("bill %s not found", id)
	}
	return copyBill(b), nil
}

func (m *MemoryRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return m.GetByID(ctx, id)
}

func (m *MemoryRepository) Update(_ context.Context, b *Bill) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bills[b.ID]; !ok {
		return apperr.NotFound("bill %s not found", b.ID)
	}
	b.UpdatedAt = time.Now().UTC()
	m.bills[b.ID] = copyBill(b)
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.bills[id]; !ok {
		return apperr.NotFound("bill %s not found", id)
	}
	delete(m.bills, id)
	return nil
}

func (m *MemoryRepository) List(_ context.Context, f Filter, limit, offset int) ([]*Bill, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*Bill
	for _, b := range m.bills {
		if f.Match(b) {
			matched = append(matched, copyBill(b))
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].BillNumber > matched[j].BillNumber })
	total := len(matched)
	if offset > total {
		offset = total
	}
	end := offset + limit
	if limit <= 0 || end > total {
		end = total
	}
	return matched[offset:end], total, nil
}

func (m *MemoryRepository) ListOverdue(_ context.Context, asOf, remindedBefore time.Time, limit int) ([]*Bill, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Bill
	for _, b := range m.bills {
		if b.RemindedAt != nil && !b.RemindedAt.Before(remindedBefore) {
			continue
		}
		if b.Overdue(asOf) && strings.TrimSpace(b.PatientEmail) != "" {
			out = append(out, copyBill(b))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DueDate.Before(*out[j].DueDate) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) MarkReminded(_ context.Context, id uuid.UUID, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bills[id]
	if !ok {
		return apperr.NotFound("bill %s not found", id)
	}
	b.RemindedAt = &at
	return nil
}
