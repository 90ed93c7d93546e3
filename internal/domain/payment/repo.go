package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hms/hms/internal/platform/apperr"
)

type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByGatewayID(ctx context.Context, gatewayOrderID string) (*Order, error)
	MarkPaid(ctx context.Context, gatewayOrderID, paymentID string) error
}

type MemoryRepository struct {
	mu     sync.Mutex
	orders map[string]*Order
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{orders: make(map[string]*Order)}
}

func (m *MemoryRepository) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[o.GatewayOrderID]; ok {
		return apperr.Conflict("order %s already exists", o.GatewayOrderID)
	}
	o.ID = uuid.New()
	o.CreatedAt = time.Now().UTC()
	o.UpdatedAt = o.CreatedAt
	cp := *o
	m.orders[o.GatewayOrderID] = &cp
	return nil
}

func (m *MemoryRepository) GetByGatewayID(_ context.Context, gatewayOrderID string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[gatewayOrderID]
	if !ok {
		return nil, apperr.NotFound("order %s not found", gatewayOrderID)
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryRepository) MarkPaid(_ context.Context, gatewayOrderID, paymentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[gatewayOrderID]
	if !ok {
		return apperr.NotFound("order %s not found", gatewayOrderID)
	}
	o.Status = OrderPaid
	o.PaymentID = paymentID
	o.UpdatedAt = time.Now().UTC()
	return nil
}
