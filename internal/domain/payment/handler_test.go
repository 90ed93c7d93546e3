package payment

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
)

func newContext(e *echo.Echo, body string, actor *auth.Actor) (echo.Context, *httptest.ResponseRecorder) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if actor != nil {
		req = req.WithContext(auth.WithActor(req.Context(), *actor))
	}
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func expectStatus(t *testing.T, err error, want int) {
	t.Helper()
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != want {
		t.Errorf("expected %d, got %d", want, he.Code)
	}
}

func TestHandler_OrderAndConfirm(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	b := f.createBill(t)

	c, rec := newContext(e, `{"subject_type":"bill","subject_id":"`+b.ID.String()+`"}`, &f.patient)
	if err := h.CreateOrder(c); err != nil {
		t.Fatalf("create order: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var o Order
	if err := json.Unmarshal(rec.Body.Bytes(), &o); err != nil {
		t.Fatalf("decode order: %v", err)
	}
	if o.Amount != 3550 {
		t.Errorf("expected order for 3550, got %v", o.Amount)
	}

	req := f.checkout(&o, 3550, "upi", "captured")
	body, _ := json.Marshal(req)
	c, rec = newContext(e, string(body), &f.patient)
	if err := h.Confirm(c); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	var conf Confirmation
	if err := json.Unmarshal(rec.Body.Bytes(), &conf); err != nil {
		t.Fatalf("decode confirmation: %v", err)
	}
	if conf.Duplicate || conf.Status != "paid" {
		t.Errorf("unexpected confirmation %+v", conf)
	}
}

func TestHandler_ConfirmBadSignature(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	c, _ := newContext(e, `{"razorpay_order_id":"order_1","razorpay_payment_id":"pay_1","razorpay_signature":"deadbeef"}`, &f.patient)
	expectStatus(t, h.Confirm(c), http.StatusForbidden)
}

func TestHandler_RequiresActor(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	c, _ := newContext(e, `{}`, nil)
	expectStatus(t, h.CreateOrder(c), http.StatusUnauthorized)
}
