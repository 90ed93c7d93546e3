package gateway

import (
	"context"
	"fmt"
	"sync"
)

// Fake is an in-memory Gateway for tests and for running without gateway
// credentials in development.
type Fake struct {
	mu       sync.Mutex
	seq      int
	orders   map[string]*Order
	payments map[string]*Payment
	Fail     error
}

func NewFake() *Fake {
	return &Fake{orders: make(map[string]*Order), payments: make(map[string]*Payment)}
}

func (f *Fake) CreateOrder(_ context.Context, amount float64, currency, receipt string, _ map[string]string) (*Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail != nil {
		return nil, f.Fail
	}
	f.seq++
	o := &Order{ID: fmt.Sprintf("order_%04d", f.seq), Amount: amount, Currency: currency, Receipt: receipt, Status: "created"}
	f.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

// Pay simulates the customer completing checkout for orderID and returns the
// new payment id.
func (f *Fake) Pay(orderID string, amount float64, method, status string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	id := fmt.Sprintf("pay_%04d", f.seq)
	f.payments[id] = &Payment{ID: id, OrderID: orderID, Amount: amount, Currency: "INR", Method: method, Status: status}
	return id
}

func (f *Fake) FetchPayment(_ context.Context, paymentID string) (*Payment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Fail != nil {
		return nil, f.Fail
	}
	p, ok := f.payments[paymentID]
	if !ok {
		return nil, fmt.Errorf("payment %s not found", paymentID)
	}
	cp := *p
	return &cp, nil
}
