package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifySignature(t *testing.T) {
	sig := Sign("order_1", "pay_1", "s3cret")
	assert.Len(t, sig, 64)
	assert.True(t, VerifySignature("order_1", "pay_1", sig, "s3cret"))
	assert.False(t, VerifySignature("order_1", "pay_2", sig, "s3cret"))
	assert.False(t, VerifySignature("order_1", "pay_1", sig, "other"))
	assert.False(t, VerifySignature("order_1", "pay_1", "", "s3cret"))
	assert.False(t, VerifySignature("order_1", "pay_1", sig, ""))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(355000), ToMinor(3550))
	assert.Equal(t, int64(1999), ToMinor(19.99))
	assert.Equal(t, 25.5, FromMinor(2550))
}

func TestFake_OrderAndPayment(t *testing.T) {
	f := NewFake()
	ctx := context.Background()

	o, err := f.CreateOrder(ctx, 1000, "INR", "bill-1", nil)
	require.NoError(t, err)
	assert.Equal(t, "created", o.Status)

	pid := f.Pay(o.ID, 1000, "upi", "captured")
	p, err := f.FetchPayment(ctx, pid)
	require.NoError(t, err)
	assert.True(t, p.Settled())
	assert.Equal(t, o.ID, p.OrderID)

	_, err = f.FetchPayment(ctx, "pay_missing")
	assert.Error(t, err)
}

func TestPayment_Settled(t *testing.T) {
	assert.True(t, (&Payment{Status: "authorized"}).Settled())
	assert.False(t, (&Payment{Status: "failed"}).Settled())
	assert.False(t, (&Payment{Status: "created"}).Settled())
}
