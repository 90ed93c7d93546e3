package payment

import (
	"context"
	"errors"
	"fmt"

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

const orderCols = `id, gateway_order_id, subject_type, subject_id, amount, currency, receipt,
	status, payment_id, created_by, created_at, updated_at`

func (r *repoPG) Create(ctx context.Context, o *Order) error {
	o.ID = uuid.New()
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payment_orders (id, gateway_order_id, subject_type, subject_id, amount, currency,
			receipt, status, payment_id, created_by)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		RETURNING created_at, updated_at`,
		o.ID, o.GatewayOrderID, o.SubjectType, o.SubjectID, o.Amount, o.Currency,
		o.Receipt, o.Status, o.PaymentID, o.CreatedBy).Scan(&o.CreatedAt, &o.UpdatedAt)
	if db.IsUniqueViolation(err) {
		return apperr.Conflict("order %s already exists", o.GatewayOrderID)
	}
	if err != nil {
		return fmt.Errorf("insert payment order: %w", err)
	}
	return nil
}

func (r *repoPG) GetByGatewayID(ctx context.Context, gatewayOrderID string) (*Order, error) {
	var o Order
	err := r.conn(ctx).QueryRow(ctx, `SELECT `+orderCols+` FROM payment_orders WHERE gateway_order_id = $1`,
		gatewayOrderID).Scan(&o.ID, &o.GatewayOrderID, &o.SubjectType, &o.SubjectID, &o.Amount, &o.Currency,
		&o.Receipt, &o.Status, &o.PaymentID, &o.CreatedBy, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("order %s not found", gatewayOrderID)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment order: %w", err)
	}
	return &o, nil
}

func (r *repoPG) MarkPaid(ctx context.Context, gatewayOrderID, paymentID string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE payment_orders SET status = $2, payment_id = $3, updated_at = NOW()
		WHERE gateway_order_id = $1`, gatewayOrderID, OrderPaid, paymentID)
	if err != nil {
		return fmt.Errorf("mark order paid: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("order %s not found", gatewayOrderID)
	}
	return nil
}
