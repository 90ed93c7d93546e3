package bed

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperr"
)

type Repository interface {
	// Create returns a conflict when (hospital, room, bed) is taken.
	Create(ctx context.Context, b *Bed) error
	GetByID(ctx context.Context, id uuid.UUID) (*Bed, error)
	// UpdateAttributes writes everything except status and occupancy.
	UpdateAttributes(ctx context.Context, b *Bed) error
	// SetStatus moves a bed that is not occupied to st. It reports false
	// when the bed was occupied.
	SetStatus(ctx context.Context, id uuid.UUID, st Status) (bool, error)
	// Assign occupies the bed only if it is available, reporting whether it
	// did.
	Assign(ctx context.Context, id uuid.UUID, occ Occupant) (bool, error)
	// Release frees the bed whatever its status.
	Release(ctx context.Context, id uuid.UUID) error
	// Delete removes the bed only if it is available, reporting whether it
	// did.
	Delete(ctx context.Context, id uuid.UUID) (bool, error)
	List(ctx context.Context, f Filter, limit, offset int) ([]*Bed, int, error)
	Summary(ctx context.Context, hospitalID uuid.UUID) (*Summary, error)
}

// MemoryRepository keeps beds in a map. It is used by tests of this and
// dependent packages.
type MemoryRepository struct {
	mu   sync.Mutex
	beds map[uuid.UUID]*Bed
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{beds: make(map[uuid.UUID]*Bed)}
}

func copyBed(b *Bed) *Bed {
	cp := *b
	cp.Amenities = append([]string(nil), b.Amenities...)
	if b.Occupant != nil {
		occ := *b.Occupant
		cp.Occupant = &occ
	}
	return &cp
}

func (m *MemoryRepository) duplicate(b *Bed) bool {
	for _, other := range m.beds {
		if other.ID != b.ID && other.HospitalID == b.HospitalID &&
			other.RoomNumber == b.RoomNumber && other.BedNumber == b.BedNumber {
			return true
		}
	}
	return false
}

func (m *MemoryRepository) Create(_ context.Context, b *Bed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.duplicate(b) {
		return apperr.Conflict("bed %s/%s already exists", b.RoomNumber, b.BedNumber)
	}
	b.ID = uuid.New()
	b.CreatedAt = time.Now().UTC()
	b.UpdatedAt = b.CreatedAt
	m.beds[b.ID] = copyBed(b)
	return nil
}

func (m *MemoryRepository) GetByID(_ context.Context, id uuid.UUID) (*Bed, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beds[id]
	if !ok {
		return nil, apperr.NotFound("bed %s not found", id)
	}
	return copyBed(b), nil
}

func (m *MemoryRepository) UpdateAttributes(_ context.Context, b *Bed) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.beds[b.ID]
	if !ok {
		return apperr.NotFound("bed %s not found", b.ID)
	}
	if m.duplicate(b) {
		return apperr.Conflict("bed %s/%s already exists", b.RoomNumber, b.BedNumber)
	}
	cur.DepartmentID = b.DepartmentID
	cur.RoomNumber = b.RoomNumber
	cur.BedNumber = b.BedNumber
	cur.Type = b.Type
	cur.PricePerDay = b.PricePerDay
	cur.Amenities = append([]string(nil), b.Amenities...)
	cur.Description = b.Description
	cur.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) SetStatus(_ context.Context, id uuid.UUID, st Status) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beds[id]
	if !ok {
		return false, apperr.NotFound("bed %s not found", id)
	}
	if b.Status == StatusOccupied {
		return false, nil
	}
	b.Status = st
	b.IsAvailable = st == StatusAvailable
	b.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryRepository) Assign(_ context.Context, id uuid.UUID, occ Occupant) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beds[id]
	if !ok || b.Status != StatusAvailable || !b.IsAvailable {
		return false, nil
	}
	b.Occupant = &occ
	b.IsAvailable = false
	b.Status = StatusOccupied
	b.UpdatedAt = time.Now().UTC()
	return true, nil
}

func (m *MemoryRepository) Release(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beds[id]
	if !ok {
		return apperr.NotFound("bed %s not found", id)
	}
	b.Occupant = nil
	b.IsAvailable = true
	b.Status = StatusAvailable
	b.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *MemoryRepository) Delete(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.beds[id]
	if !ok || !b.IsAvailable {
		return false, nil
	}
	delete(m.beds, id)
	return true, nil
}

func (m *MemoryRepository) List(_ context.Context, f Filter, limit, offset int) ([]*Bed, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var matched []*Bed
	for _, b := range m.beds {
		if f.Match(b) {
			matched = append(matched, copyBed(b))
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		if matched[i].RoomNumber != matched[j].RoomNumber {
			return matched[i].RoomNumber < matched[j].RoomNumber
		}
		return matched[i].BedNumber < matched[j].BedNumber
	})
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

func (m *MemoryRepository) Summary(_ context.Context, hospitalID uuid.UUID) (*Summary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := newSummary(hospitalID)
	for _, b := range m.beds {
		if b.HospitalID == hospitalID {
			s.add(b.Status, b.Type, 1)
		}
	}
	return s, nil
}
