package referral

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperr"
)

type Repository interface {
	Create(ctx context.Context, r *Referral) error
	GetByID(ctx context.Context, id uuid.UUID) (*Referral, error)
	// Transition stores r's lifecycle fields only if the stored status is
	// still from, reporting whether it did.
	Transition(ctx context.Context, r *Referral, from Status) (bool, error)
	Delete(ctx context.Context, id uuid.UUID) error
	List(ctx context.Context, f Filter, limit, offset int) ([]*Referral, int, error)
}

type MemoryRepository struct {
	mu    sync.Mutex
	items map[uuid.UUID]*Referral
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{items: make(map[uuid.UUID]*Referral)}
}

func copyReferral(r *Referral) *Referral {
	cp := *r
	cp.Payment = nil
	return &cp
}

func (m *MemoryRepository) Create(_ context.Context, r *Referral) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r.ID = uuid.New()
	r.CreatedAt = time.Now().UTC()
	r.UpdatedAt = r.CreatedAt
	m.items[r.ID] = copyReferral(r)
	return nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Referral, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("referral %s not found", id)
	}
	return copyReferral(r), nil
}

func (m *MemoryRepository) Transition(_ context.Context, r *Referral, from Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.items[r.ID]
	if !ok || cur.Status != from {
		return false, nil
	}
	r.UpdatedAt = time.Now().UTC()
	m.items[r.ID] = copyReferral(r)
	return true, nil
}

func (m *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.items[id]; !ok {
		return apperr.NotFound("referral %s not found", id)
	}
	delete(m.items, id)
	return nil
}

func (m *MemoryRepository) List(_ context.Context, f Filter, limit, offset int) ([]*Referral, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*Referral
	for _, r := range m.items {
		if f.Match(r) {
			matched = append(matched, copyReferral(r))
		}
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
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
