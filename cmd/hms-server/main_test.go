package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/hms/internal/config"
	"github.com/hms/hms/internal/domain/catalog"
	"github.com/hms/hms/internal/platform/auth"
	"github.com/hms/hms/internal/platform/cache"
	"github.com/hms/hms/internal/platform/gateway"
	"github.com/hms/hms/internal/platform/notification"
)

const testSecret = "rzp_test_secret"

type testServer struct {
	e        *echo.Echo
	gw       *gateway.Fake
	hospital uuid.UUID
	doctor   uuid.UUID
	patient  uuid.UUID
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg := &config.Config{
		Env:               "development",
		CORSOrigins:       []string{"*"},
		RateLimitRPS:      1000,
		RateLimitBurst:    1000,
		PaymentCurrency:   "INR",
		RazorpayKeySecret: testSecret,
		BillDueDays:       7,
	}
	dir := catalog.NewMemoryDirectory()
	h := dir.AddHospital(catalog.Hospital{Name: "City Care"})
	d := dir.AddDoctor(catalog.Doctor{Name: "Rao"})
	p := dir.AddPatient(catalog.Patient{Name: "Asha", Phone: "9876543210", Email: "asha@example.test"})

	gw := gateway.NewFake()
	svcs := newServices(cfg, memoryStores(dir), gw, cache.NewMemoryGuard(), &notification.MockEmailSender{}, zerolog.Nop())
	return &testServer{
		e:        newEcho(cfg, svcs, zerolog.Nop(), nil),
		gw:       gw,
		hospital: h.ID,
		doctor:   d.ID,
		patient:  p.ID,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, id uuid.UUID, kind auth.Kind) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if kind != "" {
		req.Header.Set(auth.HeaderActorID, id.String())
		req.Header.Set(auth.HeaderActorRole, string(kind))
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/health", nil, uuid.Nil, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRoleEnforcement(t *testing.T) {
	s := newTestServer(t)
	bedBody := map[string]interface{}{"room_number": "101", "bed_number": "A", "price_per_day": 1000}

	rec := s.do(t, http.MethodPost, "/api/v1/beds", bedBody, s.doctor, auth.KindDoctor)
	if rec.Code != http.StatusForbidden {
		t.Errorf("expected doctors to be refused, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/bills", nil)
	req.Header.Set(auth.HeaderActorID, s.patient.String())
	req.Header.Set(auth.HeaderActorRole, "janitor")
	rr := httptest.NewRecorder()
	s.e.ServeHTTP(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected unknown role to be rejected, got %d", rr.Code)
	}
}

func TestErrorBody(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(t, http.MethodGet, "/api/v1/bills/"+uuid.NewString(), nil, s.hospital, auth.KindHospital)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"category":"not_found"`) {
		t.Errorf("expected categorized error body, got %s", rec.Body.String())
	}
}

// TestReferralToPaidBill walks a referral from creation to a bill settled
// through the gateway.
func TestReferralToPaidBill(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodPost, "/api/v1/beds", map[string]interface{}{
		"room_number": "ICU-1", "bed_number": "1", "bed_type": "ICU", "price_per_day": 1000,
	}, s.hospital, auth.KindHospital)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create bed: %d %s", rec.Code, rec.Body.String())
	}
	var b struct {
		ID uuid.UUID `json:"id"`
	}
	decode(t, rec, &b)

	rec = s.do(t, http.MethodPost, "/api/v1/referrals", map[string]interface{}{
		"hospital_id": s.hospital, "patient_id": s.patient, "care_type": "ICU",
		"reason": "Cardiac monitoring", "estimated_price": 5000, "estimated_stay_days": 3,
	}, s.doctor, auth.KindDoctor)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create referral: %d %s", rec.Code, rec.Body.String())
	}
	var r struct {
		ID uuid.UUID `json:"id"`
	}
	decode(t, rec, &r)

	rec = s.do(t, http.MethodPost, "/api/v1/referrals/"+r.ID.String()+"/accept",
		map[string]interface{}{"bed_id": b.ID}, s.hospital, auth.KindHospital)
	if rec.Code != http.StatusOK {
		t.Fatalf("accept: %d %s", rec.Code, rec.Body.String())
	}
	var accepted struct {
		Status     string   `json:"status"`
		FinalPrice *float64 `json:"final_price"`
	}
	decode(t, rec, &accepted)
	if accepted.Status != "accepted" || accepted.FinalPrice == nil || *accepted.FinalPrice != 8000 {
		t.Errorf("expected accepted with final price 8000, got %+v", accepted)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/referrals/"+r.ID.String()+"/bill",
		map[string]interface{}{}, s.hospital, auth.KindHospital)
	if rec.Code != http.StatusCreated {
		t.Fatalf("bill referral: %d %s", rec.Code, rec.Body.String())
	}
	var bill struct {
		ID         uuid.UUID `json:"id"`
		BillNumber string    `json:"bill_number"`
		Total      float64   `json:"total"`
	}
	decode(t, rec, &bill)
	if bill.Total != 8000 || !strings.HasPrefix(bill.BillNumber, "BILL-") {
		t.Errorf("unexpected bill %+v", bill)
	}

	rec = s.do(t, http.MethodGet, "/api/v1/bills/"+bill.ID.String()+"/statement", nil, s.patient, auth.KindUser)
	if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("%PDF")) {
		t.Fatalf("statement: %d", rec.Code)
	}

	rec = s.do(t, http.MethodPost, "/api/v1/payments/orders", map[string]interface{}{
		"subject_type": "bill", "subject_id": bill.ID,
	}, s.patient, auth.KindUser)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: %d %s", rec.Code, rec.Body.String())
	}
	var order struct {
		OrderID string  `json:"order_id"`
		Amount  float64 `json:"amount"`
	}
	decode(t, rec, &order)

	payID := s.gw.Pay(order.OrderID, order.Amount, "upi", "captured")
	confirm := map[string]string{
		"razorpay_order_id":   order.OrderID,
		"razorpay_payment_id": payID,
		"razorpay_signature":  gateway.Sign(order.OrderID, payID, testSecret),
	}
	for i, wantDup := range []bool{false, true} {
		rec = s.do(t, http.MethodPost, "/api/v1/payments/confirm", confirm, s.patient, auth.KindUser)
		if rec.Code != http.StatusOK {
			t.Fatalf("confirm %d: %d %s", i, rec.Code, rec.Body.String())
		}
		var conf struct {
			Duplicate bool    `json:"duplicate"`
			Status    string  `json:"payment_status"`
			AmountDue float64 `json:"amount_due"`
		}
		decode(t, rec, &conf)
		if conf.Duplicate != wantDup || conf.Status != "paid" || conf.AmountDue != 0 {
			t.Errorf("confirm %d: unexpected %+v", i, conf)
		}
	}
}
