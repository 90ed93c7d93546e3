package billing

import (
	"context"
	"encoding/json"
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

const billCols = `id, bill_number, hospital_id, patient_id, patient_name, patient_phone, patient_email,
	referral_id, appointment_id, prescription_id, doctor_id, bed_id, operation_id,
	items, subtotal, tax, discount, total, amount_paid, amount_due,
	payment_status, payment_method, transaction_id, payment_date, due_date, notes, reminded_at,
	created_at, updated_at`

func scanBill(row pgx.Row) (*Bill, error) {
	var (
		b     Bill
		items []byte
	)
	err := row.Scan(&b.ID, &b.BillNumber, &b.HospitalID, &b.PatientID, &b.PatientName, &b.PatientPhone, &b.PatientEmail,
		&b.ReferralID, &b.AppointmentID, &b.PrescriptionID, &b.DoctorID, &b.BedID, &b.OperationID,
		&items, &b.Subtotal, &b.Tax, &b.Discount, &b.Total, &b.AmountPaid, &b.AmountDue,
		&b.PaymentStatus, &b.PaymentMethod, &b.TransactionID, &b.PaymentDate, &b.DueDate, &b.Notes, &b.RemindedAt,
		&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &b.Items); err != nil {
		return nil, fmt.Errorf("decode bill items: %w", err)
	}
	return &b, nil
}

func (r *repoPG) get(ctx context.Context, query string, id uuid.UUID) (*Bill, error) {
	b, err := scanBill(r.conn(ctx).QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("bill %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get bill: %w", err)
	}
	return b, nil
}

// LockNumbers takes a transaction-scoped advisory lock keyed on the prefix.
func (r *repoPG) LockNumbers(ctx context.Context, prefix string) error {
	if db.TxFromContext(ctx) == nil {
		return fmt.Errorf("bill number lock requires a transaction")
	}
	_, err := r.conn(ctx).Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, prefix)
	if err != nil {
		return fmt.Errorf("lock bill numbers: %w", err)
	}
	return nil
}

func (r *repoPG) MaxSequence(ctx context.Context, prefix string) (int, error) {
	var max int
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT COALESCE(MAX(CAST(SUBSTRING(bill_number FROM $2) AS INTEGER)), 0)
		FROM bills WHERE bill_number LIKE $1 || '%'`,
		prefix, len(prefix)+1).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("max bill sequence: %w", err)
	}
	return max, nil
}

func (r *repoPG) Create(ctx context.Context, b *Bill) error {
	b.ID = uuid.New()
	items, err := json.Marshal(b.Items)
	if err != nil {
		return fmt.Errorf("encode bill items: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		INSERT INTO bills (id, bill_number, hospital_id, patient_id, patient_name, patient_phone, patient_email,
			referral_id, appointment_id, prescription_id, doctor_id, bed_id, operation_id,
			items, subtotal, tax, discount, total, amount_paid, amount_due,
			payment_status, payment_method, transaction_id, payment_date, due_date, notes)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26)
		RETURNING created_at, updated_at`,
		b.ID, b.BillNumber, b.HospitalID, b.PatientID, b.PatientName, b.PatientPhone, b.PatientEmail,
		b.ReferralID, b.AppointmentID, b.PrescriptionID, b.DoctorID, b.BedID, b.OperationID,
		items, b.Subtotal, b.Tax, b.Discount, b.Total, b.AmountPaid, b.AmountDue,
		b.PaymentStatus, b.PaymentMethod, b.TransactionID, b.PaymentDate, b.DueDate, b.Notes,
	).Scan(&b.CreatedAt, &b.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return ErrDuplicateNumber
	}
	if err != nil {
		return fmt.Errorf("insert bill: %w", err)
	}
	return nil
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return r.get(ctx, `SELECT `+billCols+` FROM bills WHERE id = $1`, id)
}

func (r *repoPG) GetForUpdate(ctx context.Context, id uuid.UUID) (*Bill, error) {
	return r.get(ctx, `SELECT `+billCols+` FROM bills WHERE id = $1 FOR UPDATE`, id)
}

func (r *repoPG) Update(ctx context.Context, b *Bill) error {
	items, err := json.Marshal(b.Items)
	if err != nil {
		return fmt.Errorf("encode bill items: %w", err)
	}
	err = r.conn(ctx).QueryRow(ctx, `
		UPDATE bills SET items=$2, subtotal=$3, tax=$4, discount=$5, total=$6,
			amount_paid=$7, amount_due=$8, payment_status=$9, payment_method=$10,
			transaction_id=$11, payment_date=$12, due_date=$13, notes=$14, updated_at=NOW()
		WHERE id = $1
		RETURNING updated_at`,
		b.ID, items, b.Subtotal, b.Tax, b.Discount, b.Total,
		b.AmountPaid, b.AmountDue, b.PaymentStatus, b.PaymentMethod,
		b.TransactionID, b.PaymentDate, b.DueDate, b.Notes,
	).Scan(&b.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound("bill %s not found", b.ID)
	}
	if err != nil {
		return fmt.Errorf("update bill: %w", err)
	}
	return nil
}

func (r *repoPG) Delete(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM bills WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete bill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("bill %s not found", id)
	}
	return nil
}

func (r *repoPG) queryBills(ctx context.Context, query string, args ...interface{}) ([]*Bill, error) {
	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	defer rows.Close()
	var items []*Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, b)
	}
	return items, rows.Err()
}

func (r *repoPG) List(ctx context.Context, f Filter, limit, offset int) ([]*Bill, int, error) {
	var (
		conds []string
		args  []interface{}
	)
	add := func(col string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if f.HospitalID != nil {
		add("hospital_id", *f.HospitalID)
	}
	if f.PatientID != nil {
		add("patient_id", *f.PatientID)
	}
	if f.Status != "" {
		add("payment_status", f.Status)
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM bills`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count bills: %w", err)
	}
	query := fmt.Sprintf(`SELECT %s FROM bills%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		billCols, where, len(args)+1, len(args)+2)
	items, err := r.queryBills(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, err
	}
	return items, total, nil
}

func (r *repoPG) ListOverdue(ctx context.Context, asOf, remindedBefore time.Time, limit int) ([]*Bill, error) {
	return r.queryBills(ctx, `SELECT `+billCols+` FROM bills
		WHERE due_date < $1 AND amount_due > 0
			AND payment_status IN ('pending', 'partial') AND patient_email <> ''
			AND (reminded_at IS NULL OR reminded_at < $2)
		ORDER BY due_date LIMIT $3`, asOf, remindedBefore, limit)
}

func (r *repoPG) MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `UPDATE bills SET reminded_at = $2 WHERE id = $1`, id, at)
	if err != nil {
		return fmt.Errorf("mark bill reminded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("bill %s not found", id)
	}
	return nil
}
