// Package gateway wraps the card/UPI payment gateway used to collect bill and
// referral payments.
package gateway

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
)

// Order is a gateway-side payment intent. Amount is in major currency units.
type Order struct {
	ID       string
	Amount   float64
	Currency string
	Receipt  string
	Status   string
}

// Payment is a gateway payment as reported by the gateway itself.
type Payment struct {
	ID       string
	OrderID  string
	Amount   float64
	Currency string
	Method   string
	Status   string
}

// Settled reports whether the gateway has taken the money.
func (p *Payment) Settled() bool {
	return p.Status == "captured" || p.Status == "authorized"
}

type Gateway interface {
	CreateOrder(ctx context.Context, amount float64, currency, receipt string, notes map[string]string) (*Order, error)
	FetchPayment(ctx context.Context, paymentID string) (*Payment, error)
}

var ErrNotConfigured = errors.New("payment gateway is not configured")

// Sign returns hex(HMAC-SHA256(secret, orderID|paymentID)), the signature the
// gateway's checkout hands back to the client.
func Sign(orderID, paymentID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares in constant time.
func VerifySignature(orderID, paymentID, signature, secret string) bool {
	if secret == "" || signature == "" {
		return false
	}
	return hmac.Equal([]byte(Sign(orderID, paymentID, secret)), []byte(signature))
}

// ToMinor converts a major-unit amount to the integer minor units the gateway
// expects, rounding to the nearest unit.
func ToMinor(amount float64) int64 {
	if amount < 0 {
		return -int64(-amount*100 + 0.5)
	}
	return int64(amount*100 + 0.5)
}

func FromMinor(v int64) float64 {
	return float64(v) / 100
}
