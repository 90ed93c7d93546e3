package bed

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hms/hms/internal/platform/apperr"
	"github.com/hms/hms/internal/platform/db"
)

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository { return &repoPG{pool: pool} }

func (r *repoPG) conn(ctx context.Context) db.Querier {
	return db.Conn(ctx, r.pool)
}

const bedCols = `id, hospital_id, department_id, room_number, bed_number, bed_type,
	price_per_day, amenities, description, is_available, status,
	occupant_patient_id, occupant_admission_date, occupant_referral_id,
	created_at, updated_at`

func scanBed(row pgx.Row) (*Bed, error) {
	var (
		b         Bed
		patientID *uuid.UUID
		admitted  *time.Time
		referral  *uuid.UUID
	)
	err := row.Scan(&b.ID, &b.HospitalID, &b.DepartmentID, &b.RoomNumber, &b.BedNumber, &b.Type,
		&b.PricePerDay, &b.Amenities, &b.Description, &b.IsAvailable, &b.Status,
		&patientID, &admitted, &referral,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if patientID != nil {
		b.Occupant = &Occupant{PatientID: *patientID, ReferralID: referral}
		if admitted != nil {
			b.Occupant.AdmissionDate = *admitted
		}
	}
	return &b, nil
}

func duplicateErr(b *Bed) error {
	return apperr.Conflict("bed %s/%s already exists", b.RoomNumber, b.BedNumber)
}

func (r *repoPG) Create(ctx context.Context, b *Bed) error {
	b.ID = uuid.New()
	if b.Amenities == nil {
		b.Amenities = []string{}
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO beds (id, hospital_id, department_id, room_number, bed_number, bed_type,
			price_per_day, amenities, description, is_available, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at, updated_at`,
		b.ID, b.HospitalID, b.DepartmentID, b.RoomNumber, b.BedNumber, b.Type,
		b.PricePerDay, b.Amenities, b.Description, b.IsAvailable, b.Status,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return duplicateErr(b)
	}
	if err != nil {
		return fmt.Errorf("insert bed: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bed, error) {
	b, err := scanBed(r.conn(ctx).QueryRow(ctx, `SELECT `+bedCols+` FROM beds WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("bed %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get bed: %w", err)
	}
	return b, nil
}

func (r *repoPG) UpdateAttributes(ctx context.Context, b *Bed) error {
	if b.Amenities == nil {
		b.Amenities = []string{}
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE beds SET department_id=$2, room_number=$3, bed_number=$4, bed_type=$5,
			price_per_day=$6, amenities=$7, description=$8, updated_at=NOW()
		WHERE id = $1`,
		b.ID, b.DepartmentID, b.RoomNumber, b.BedNumber, b.Type,
		b.PricePerDay, b.Amenities, b.Description)
	if db.IsUniqueViolation(err) {
		return duplicateErr(b)
	}
	if err != nil {
		return fmt.Errorf("update bed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("bed %s not found", b.ID)
	}
	return nil
}

func (r *repoPG) SetStatus(ctx context.Context, id uuid.UUID, st Status) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE beds SET status=$2, is_available=($2 = 'Available'), updated_at=NOW()
		WHERE id = $1 AND status <> 'Occupied'`, id, st)
	if err != nil {
		return false, fmt.Errorf("set bed status: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) Assign(ctx context.Context, id uuid.UUID, occ Occupant) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE beds SET occupant_patient_id=$2, occupant_admission_date=$3, occupant_referral_id=$4,
			is_available=false, status='Occupied', updated_at=NOW()
		WHERE id = $1 AND status = 'Available' AND is_available`,
		id, occ.PatientID, occ.AdmissionDate, occ.ReferralID)
	if err != nil {
		return false, fmt.Errorf("assign bed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *repoPG) Release(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE beds SET occupant_patient_id=NULL, occupant_admission_date=NULL, occupant_referral_id=NULL,
			is_available=true, status='Available', updated_at=NOW()
		WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("release bed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("bed %s not found", id)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM beds WHERE id = $1 AND is_available`, id)
	if err != nil {
		return false, fmt.Errorf("delete bed: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func filterClause(f Filter) (string, []interface{}) {
	conds := []string{"hospital_id = $1"}
	args := []interface{}{f.HospitalID}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Type != "" {
		args = append(args, f.Type)
		conds = append(conds, fmt.Sprintf("bed_type = $%d", len(args)))
	}
	if f.DepartmentID != nil {
		args = append(args, *f.DepartmentID)
		conds = append(conds, fmt.Sprintf("department_id = $%d", len(args)))
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Bed, int, error) {
	where, args := filterClause(f)

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM beds`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count beds: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM beds%s ORDER BY room_number, bed_number LIMIT $%d OFFSET $%d`,
		bedCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list beds: %w", err)
	}
	defer rows.Close()
	var items []*Bed
	for rows.Next() {
		b, err := scanBed(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, b)
	}
	return items, total, rows.Err()
}

func (r *repoPG) Summary(ctx context.Context, hospitalID uuid.UUID) (*Summary, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT status, bed_type, COUNT(*) FROM beds
		WHERE hospital_id = $1 GROUP BY status, bed_type`, hospitalID)
	if err != nil {
		return nil, fmt.Errorf("summarize beds: %w", err)
	}
	defer rows.Close()
	s := newSummary(hospitalID)
	for rows.Next() {
		var (
			st Status
			t  Type
			n  int
		)
		if err := rows.Scan(&st, &t, &n); err != nil {
			return nil, err
		}
		s.add(st, t, n)
	}
	return s, rows.Err()
}
