package payment

import (
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/domain/ledger"
)

type OrderStatus string

const (
	OrderCreated OrderStatus = "created"
	OrderPaid    OrderStatus = "paid"
)

// Order maps a gateway order onto the bill or referral it collects for.
type Order struct {
	ID             uuid.UUID          `json:"id"`
	GatewayOrderID string             `json:"order_id"`
	SubjectType    ledger.SubjectType `json:"subject_type"`
	SubjectID      uuid.UUID          `json:"subject_id"`
	Amount         float64            `json:"amount"`
	Currency       string             `json:"currency"`
	Receipt        string             `json:"receipt"`
	Status         OrderStatus        `json:"status"`
	PaymentID      string             `json:"payment_id,omitempty"`
	CreatedBy      uuid.UUID          `json:"-"`
	CreatedAt      time.Time          `json:"created_at"`
	UpdatedAt      time.Time          `json:"updated_at"`
}

// Confirmation is the subject's payment state after a gateway confirmation.
type Confirmation struct {
	Order       *Order             `json:"order"`
	Duplicate   bool               `json:"duplicate"`
	SubjectType ledger.SubjectType `json:"subject_type"`
	SubjectID   uuid.UUID          `json:"subject_id"`
	AmountPaid  float64            `json:"amount_paid"`
	AmountDue   float64            `json:"amount_due"`
	Status      string             `json:"payment_status"`
}
