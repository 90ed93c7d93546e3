package referral

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
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

func TestHandler_CreateReferral(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	body := `{"hospital_id":"` + f.hospital.ID.String() + `","patient_id":"` + f.patient.ID.String() +
		`","care_type":"ICU","reason":"Cardiac monitoring","estimated_price":5000,"estimated_stay_days":3}`
	c, rec := newContext(e, http.MethodPost, body, f.doctor, "")

	if err := h.CreateReferral(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var r Referral
	if err := json.Unmarshal(rec.Body.Bytes(), &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if r.Status != StatusPending || r.PatientName != "Asha" {
		t.Errorf("unexpected referral %+v", r)
	}
}

func TestHandler_AcceptReferral_WithBed(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	r := f.createReferral(t, 5000, 3)
	b := f.createBed(t, "1", 1000)

	c, rec := newContext(e, http.MethodPost, `{"bed_id":"`+b.ID.String()+`"}`, f.hospital, r.ID.String())
	if err := h.AcceptReferral(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var got Referral
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.FinalPrice == nil || *got.FinalPrice != 8000 {
		t.Errorf("expected final price 8000, got %v", got.FinalPrice)
	}

	c, _ = newContext(e, http.MethodPost, `{}`, f.hospital, r.ID.String())
	expectStatus(t, h.AcceptReferral(c), http.StatusConflict)
}

func TestHandler_RejectReferral_MissingReason(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	r := f.createReferral(t, 5000, 3)

	c, _ := newContext(e, http.MethodPost, `{}`, f.hospital, r.ID.String())
	expectStatus(t, h.RejectReferral(c), http.StatusBadRequest)
}

func TestHandler_GetReferral_Errors(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	r := f.createReferral(t, 5000, 3)

	c, _ := newContext(e, http.MethodGet, "", f.doctor, uuid.New().String())
	expectStatus(t, h.GetReferral(c), http.StatusNotFound)

	c, _ = newContext(e, http.MethodGet, "", auth.Actor{ID: uuid.New(), Kind: auth.KindHospital}, r.ID.String())
	expectStatus(t, h.GetReferral(c), http.StatusForbidden)

	c, _ = newContext(e, http.MethodGet, "", f.doctor, "not-a-uuid")
	expectStatus(t, h.GetReferral(c), http.StatusBadRequest)
}

func TestHandler_ListReferrals(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	f.createReferral(t, 5000, 3)

	c, rec := newContext(e, http.MethodGet, "", f.hospital, "")
	if err := h.ListReferrals(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"total":1`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_DeleteReferral(t *testing.T) {
	f := newFixture()
	h, e := NewHandler(f.svc), echo.New()
	r := f.createReferral(t, 5000, 3)

	c, rec := newContext(e, http.MethodDelete, "", f.doctor, r.ID.String())
	if err := h.DeleteReferral(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}
