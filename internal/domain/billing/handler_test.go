package billing

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/hms/hms/internal/platform/auth"
)

func newContext(e *echo.Echo, method, body string, actor auth.Actor, id string) (echo.Context, *httptest.ResponseRecorder) {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/", nil)
	} else {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	req = req.WithContext(auth.WithActor(req.Context(), actor))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	if id != "" {
		c.SetParamNames("id")
		c.SetParamValues(id)
	}
	return c, rec
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

func TestHandler_CreateBill(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	body := `{"patient_name":"Asha","patient_phone":"9876543210","payment_method":"Cash","tax":100,"discount":50,
		"items":[{"category":"Consultation","name":"Consultation","quantity":1,"unit_price":2000},
		{"category":"Medicine","name":"Antibiotics","quantity":3,"unit_price":500}]}`
	c, rec := newContext(e, http.MethodPost, body, f.hospital, "")

	if err := h.CreateBill(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var b Bill
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.Total != 3550 || b.AmountDue != 3550 || b.PaymentStatus != StatusPending {
		t.Errorf("unexpected bill %+v", b)
	}
}

func TestHandler_CreateBill_Invalid(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	c, _ := newContext(e, http.MethodPost, `{"patient_name":"Asha","patient_phone":"1","payment_method":"Cash","items":[]}`, f.hospital, "")
	expectStatus(t, h.CreateBill(c), http.StatusBadRequest)
}

func TestHandler_RecordPayment(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	b := f.createBill(t)

	c, rec := newContext(e, http.MethodPost, `{"amount":1000,"method":"UPI","transaction_id":"UPI-77"}`, f.hospital, b.ID.String())
	if err := h.RecordPayment(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Bill
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.PaymentStatus != StatusPartial || got.AmountDue != 2550 || len(got.History) != 1 {
		t.Errorf("unexpected bill after payment %+v", got)
	}

	c, _ = newContext(e, http.MethodPost, `{"amount":10,"method":"Cash"}`, f.other, b.ID.String())
	expectStatus(t, h.RecordPayment(c), http.StatusForbidden)
}

func TestHandler_GetBill_BadID(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	c, _ := newContext(e, http.MethodGet, "", f.hospital, "not-a-uuid")
	expectStatus(t, h.GetBill(c), http.StatusBadRequest)
}

func TestHandler_GetStatement(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	b := f.createBill(t)

	c, rec := newContext(e, http.MethodGet, "", f.hospital, b.ID.String())
	if err := h.GetStatement(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/pdf" {
		t.Errorf("expected application/pdf, got %q", ct)
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Error("expected a PDF body")
	}
}

func TestHandler_ListBills(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	f.createBill(t)
	f.createBill(t)

	c, rec := newContext(e, http.MethodGet, "", f.hospital, "")
	if err := h.ListBills(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var page struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &page); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if page.Total != 2 {
		t.Errorf("expected 2 bills, got %d", page.Total)
	}
}

func TestHandler_DeleteBill(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	b := f.createBill(t)

	c, rec := newContext(e, http.MethodDelete, "", f.hospital, b.ID.String())
	if err := h.DeleteBill(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	c, _ = newContext(e, http.MethodDelete, "", f.hospital, b.ID.String())
	expectStatus(t, h.DeleteBill(c), http.StatusNotFound)
}
