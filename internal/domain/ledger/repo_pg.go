package ledger

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

const eventCols = `id, subject_type, subject_id, amount, method, transaction_id,
	gateway_order_id, status, source, paid_at, created_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.SubjectType, &e.SubjectID, &e.Amount, &e.Method, &e.TransactionID,
		&e.GatewayOrderID, &e.Status, &e.Source, &e.PaidAt, &e.CreatedAt)
	return &e, err
}

func (r *repoPG) Append(ctx context.Context, e *Event) (bool, error) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO payment_events (id, subject_type, subject_id, amount, method, transaction_id,
			gateway_order_id, status, source, paid_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (transaction_id) DO NOTHING
		RETURNING created_at`,
		e.ID, e.SubjectType, e.SubjectID, e.Amount, e.Method, e.TransactionID,
		e.GatewayOrderID, e.Status, e.Source, e.PaidAt).Scan(&e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("append payment event: %w", err)
	}
	return true, nil
}

func (r *repoPG) ListBySubject(ctx context.Context, t SubjectType, id uuid.UUID) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+eventCols+` FROM payment_events
		WHERE subject_type = $1 AND subject_id = $2 ORDER BY paid_at, created_at`, t, id)
	if err != nil {
		return nil, fmt.Errorf("list payment events: %w", err)
	}
	defer rows.Close()
	var out []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (r *repoPG) GetByTransactionID(ctx context.Context, txnID string) (*Event, error) {
	e, err := scanEvent(r.conn(ctx).QueryRow(ctx,
		`SELECT `+eventCols+` FROM payment_events WHERE transaction_id = $1`, txnID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("transaction %s not found", txnID)
	}
	if err != nil {
		return nil, fmt.Errorf("get payment event: %w", err)
	}
	return e, nil
}
