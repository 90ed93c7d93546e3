package referral

import (
	"context"
	"errors"
	"fmt"
	"strings"

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

const referralCols = `id, doctor_id, hospital_id, patient_id, prescription_id, operation_id,
	patient_name, patient_phone, patient_email,
	urgency, care_type, reason, notes, estimated_price, estimated_stay_days,
	bed_id, assigned_doctor_id, appointment_date, appointment_time,
	status, rejection_reason, final_price,
	accepted_at, rejected_at, completed_at, cancelled_at, created_at, updated_at`

func scanReferral(row pgx.Row) (*Referral, error) {
	var r Referral
	err := row.Scan(&r.ID, &r.DoctorID, &r.HospitalID, &r.PatientID, &r.PrescriptionID, &r.OperationID,
		&r.PatientName, &r.PatientPhone, &r.PatientEmail,
		&r.Urgency, &r.CareType, &r.Reason, &r.Notes, &r.EstimatedPrice, &r.EstimatedStayDays,
		&r.BedID, &r.AssignedDoctorID, &r.AppointmentDate, &r.AppointmentTime,
		&r.Status, &r.RejectionReason, &r.FinalPrice,
		&r.AcceptedAt, &r.RejectedAt, &r.CompletedAt, &r.CancelledAt, &r.CreatedAt, &r.UpdatedAt)
	return &r, err
}

func (r *repoPG) Create(ctx context.Context, ref *Referral) error {
	ref.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO referrals (id, doctor_id, hospital_id, patient_id, prescription_id, operation_id,
			patient_name, patient_phone, patient_email,
			urgency, care_type, reason, notes, estimated_price, estimated_stay_days, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
		RETURNING created_at, updated_at`,
		ref.ID, ref.DoctorID, ref.HospitalID, ref.PatientID, ref.PrescriptionID, ref.OperationID,
		ref.PatientName, ref.PatientPhone, ref.PatientEmail,
		ref.Urgency, ref.CareType, ref.Reason, ref.Notes, ref.EstimatedPrice, ref.EstimatedStayDays, ref.Status,
	).Scan(&ref.CreatedAt, &ref.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert referral: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Referral, error) {
	ref, err := scanReferral(r.conn(ctx).QueryRow(ctx, `SELECT `+referralCols+` FROM referrals WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("referral %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get referral: %w", err)
	}
	return ref, nil
}

func (r *repoPG) Transition(ctx context.Context, ref *Referral, from Status) (bool, error) {
	err := r.conn(ctx).QueryRow(ctx, `
		UPDATE referrals SET status=$3, bed_id=$4, assigned_doctor_id=$5, appointment_date=$6,
			appointment_time=$7, rejection_reason=$8, final_price=$9,
			accepted_at=$10, rejected_at=$11, completed_at=$12, cancelled_at=$13, updated_at=NOW()
		WHERE id = $1 AND status = $2
		RETURNING updated_at`,
		ref.ID, from, ref.Status, ref.BedID, ref.AssignedDoctorID, ref.AppointmentDate,
		ref.AppointmentTime, ref.RejectionReason, ref.FinalPrice,
		ref.AcceptedAt, ref.RejectedAt, ref.CompletedAt, ref.CancelledAt,
	).Scan(&ref.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("transition referral: %w", err)
	}
	return true, nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM referrals WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete referral: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("referral %s not found", id)
	}
	return nil
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Referral, int, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(col string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.DoctorID != nil {
		add("doctor_id", *f.DoctorID)
	}
	if f.HospitalID != nil {
		add("hospital_id", *f.HospitalID)
	}
	if f.PatientID != nil {
		add("patient_id", *f.PatientID)
	}
	if f.Status != "" {
		add("status", f.Status)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM referrals`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count referrals: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM referrals%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		referralCols, where, len(args)+1, len(args)+2)
	rows, err := r.conn(ctx).Query(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list referrals: %w", err)
	}
	defer rows.Close()
	var items []*Referral
	for rows.Next() {
		ref, err := scanReferral(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, ref)
	}
	return items, total, rows.Err()
}
