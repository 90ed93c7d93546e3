package catalog

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

type directoryPG struct{ pool *pgxpool.Pool }

func NewDirectoryPG(pool *pgxpool.Pool) Directory { return &directoryPG{pool: pool} }

func (r *directoryPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

func notFound(err error, kind string, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("%s %s not found", kind, id)
	}
	return apperr.Internal("load "+kind, err)
}

func (r *directoryPG) Hospital(ctx context.Context, id uuid.UUID) (*Hospital, error) {
	var h Hospital
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, name, email, phone, city FROM hospitals WHERE id = $1`, id).
		Scan(&h.ID, &h.Name, &h.Email, &h.Phone, &h.City)
	if err != nil {
		return nil, notFound(err, "hospital", id)
	}
	return &h, nil
}

func (r *directoryPG) Doctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, hospital_id, name, email, specialization FROM doctors WHERE id = $1`, id).
		Scan(&d.ID, &d.HospitalID, &d.Name, &d.Email, &d.Specialization)
	if err != nil {
		return nil, notFound(err, "doctor", id)
	}
	return &d, nil
}

func (r *directoryPG) Department(ctx context.Context, id uuid.UUID) (*Department, error) {
	var d Department
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, hospital_id, name FROM departments WHERE id = $1`, id).
		Scan(&d.ID, &d.HospitalID, &d.Name)
	if err != nil {
		return nil, notFound(err, "department", id)
	}
	return &d, nil
}

func (r *directoryPG) Operation(ctx context.Context, id uuid.UUID) (*Operation, error) {
	var o Operation
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, hospital_id, department_id, name, price FROM operations WHERE id = $1`, id).
		Scan(&o.ID, &o.HospitalID, &o.DepartmentID, &o.Name, &o.Price)
	if err != nil {
		return nil, notFound(err, "operation", id)
	}
	return &o, nil
}

func (r *directoryPG) Patient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, name, phone, email FROM patients WHERE id = $1`, id).
		Scan(&p.ID, &p.Name, &p.Phone, &p.Email)
	if err != nil {
		return nil, notFound(err, "patient", id)
	}
	return &p, nil
}

func (r *directoryPG) Prescription(ctx context.Context, id uuid.UUID) (*Prescription, error) {
	var p Prescription
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT id, doctor_id, patient_id FROM prescriptions WHERE id = $1`, id).
		Scan(&p.ID, &p.DoctorID, &p.PatientID)
	if err != nil {
		return nil, notFound(err, "prescription", id)
	}
	return &p, nil
}
