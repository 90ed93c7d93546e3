package catalog

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperr"
)

// Directory finds reference records by id. Every method returns an
// apperr not-found error when the record does not exist.
type Directory interface {
	Hospital(ctx context.Context, id uuid.UUID) (*Hospital, error)
	Doctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	Department(ctx context.Context, id uuid.UUID) (*Department, error)
	Operation(ctx context.Context, id uuid.UUID) (*Operation, error)
	Patient(ctx context.Context, id uuid.UUID) (*Patient, error)
	Prescription(ctx context.Context, id uuid.UUID) (*Prescription, error)
}

// MemoryDirectory is a Directory backed by maps. Other packages use it in
// their tests.
type MemoryDirectory struct {
	mu            sync.RWMutex
	hospitals     map[uuid.UUID]Hospital
	doctors       map[uuid.UUID]Doctor
	departments   map[uuid.UUID]Department
	operations    map[uuid.UUID]Operation
	patients      map[uuid.UUID]Patient
	prescriptions map[uuid.UUID]Prescription
}

func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		hospitals:     make(map[uuid.UUID]Hospital),
		doctors:       make(map[uuid.UUID]Doctor),
		departments:   make(map[uuid.UUID]Department),
		operations:    make(map[uuid.UUID]Operation),
		patients:      make(map[uuid.UUID]Patient),
		prescriptions: make(map[uuid.UUID]Prescription),
	}
}

func ensureID(id *uuid.UUID) {
	if *id == uuid.Nil {
		*id = uuid.New()
	}
}

func (m *MemoryDirectory) AddHospital(h Hospital) Hospital {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&h.ID)
	m.hospitals[h.ID] = h
	return h
}

func (m *MemoryDirectory) AddDoctor(d Doctor) Doctor {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&d.ID)
	m.doctors[d.ID] = d
	return d
}

func (m *MemoryDirectory) AddDepartment(d Department) Department {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&d.ID)
	m.departments[d.ID] = d
	return d
}

func (m *MemoryDirectory) AddOperation(o Operation) Operation {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&o.ID)
	m.operations[o.ID] = o
	return o
}

func (m *MemoryDirectory) AddPatient(p Patient) Patient {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&p.ID)
	m.patients[p.ID] = p
	return p
}

func (m *MemoryDirectory) AddPrescription(p Prescription) Prescription {
	m.mu.Lock()
	defer m.mu.Unlock()
	ensureID(&p.ID)
	m.prescriptions[p.ID] = p
	return p
}

func lookup[T any](mu *sync.RWMutex, items map[uuid.UUID]T, id uuid.UUID, kind string) (*T, error) {
	mu.RLock()
	defer mu.RUnlock()
	v, ok := items[id]
	if !ok {
		return nil, apperr.NotFound("%s %s not found", kind, id)
	}
	return &v, nil
}

func (m *MemoryDirectory) Hospital(_ context.Context, id uuid.UUID) (*Hospital, error) {
	return lookup(&m.mu, m.hospitals, id, "hospital")
}

func (m *MemoryDirectory) Doctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	return lookup(&m.mu, m.doctors, id, "doctor")
}

func (m *MemoryDirectory) Department(_ context.Context, id uuid.UUID) (*Department, error) {
	return lookup(&m.mu, m.departments, id, "department")
}

func (m *MemoryDirectory) Operation(_ context.Context, id uuid.UUID) (*Operation, error) {
	return lookup(&m.mu, m.operations, id, "operation")
}

func (m *MemoryDirectory) Patient(_ context.Context, id uuid.UUID) (*Patient, error) {
	return lookup(&m.mu, m.patients, id, "patient")
}

func (m *MemoryDirectory) Prescription(_ context.Context, id uuid.UUID) (*Prescription, error) {
	return lookup(&m.mu, m.prescriptions, id, "prescription")
}
