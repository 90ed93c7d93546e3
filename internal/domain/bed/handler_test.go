package bed

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

func newTestHandler() (*Handler, *fixture, *echo.Echo) {
	f := newFixture()
	return NewHandler(f.svc), f, echo.New()
}

func newRequest(method, body string, actor auth.Actor) *http.Request {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, "/", nil)
	} else {
		req = httptest.NewRequest(method, "/", strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	return req.WithContext(auth.WithActor(req.Context(), actor))
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

func TestHandler_CreateBed(t *testing.T) {
	h, f, e := newTestHandler()
	body := `{"room_number":"201","bed_number":"B","bed_type":"AC","price_per_day":1200}`
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, body, f.hospital), rec)

	if err := h.CreateBed(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
	var b Bed
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if b.Status != StatusAvailable || b.HospitalID != f.hospital.ID {
		t.Errorf("unexpected bed %+v", b)
	}
}

func TestHandler_CreateBed_BadType(t *testing.T) {
	h, f, e := newTestHandler()
	body := `{"room_number":"201","bed_number":"B","bed_type":"Suite"}`
	c := e.NewContext(newRequest(http.MethodPost, body, f.hospital), httptest.NewRecorder())

	expectStatus(t, h.CreateBed(c), http.StatusBadRequest)
}

func TestHandler_GetBed_NotFound(t *testing.T) {
	h, f, e := newTestHandler()
	c := e.NewContext(newRequest(http.MethodGet, "", f.hospital), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(uuid.New().String())

	expectStatus(t, h.GetBed(c), http.StatusNotFound)
}

func TestHandler_AssignBed(t *testing.T) {
	h, f, e := newTestHandler()
	b := f.createBed(t, "101", "A", 1000)

	body := `{"patient_id":"` + uuid.New().String() + `"}`
	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodPost, body, f.hospital), rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	if err := h.AssignBed(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	c = e.NewContext(newRequest(http.MethodPost, body, f.hospital), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())
	expectStatus(t, h.AssignBed(c), http.StatusConflict)
}

func TestHandler_ReleaseBed_OtherHospital(t *testing.T) {
	h, f, e := newTestHandler()
	b := f.createBed(t, "101", "A", 1000)
	other := auth.Actor{ID: uuid.New(), Kind: auth.KindHospital}

	c := e.NewContext(newRequest(http.MethodPost, "", other), httptest.NewRecorder())
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())
	expectStatus(t, h.ReleaseBed(c), http.StatusForbidden)
}

func TestHandler_DeleteBed(t *testing.T) {
	h, f, e := newTestHandler()
	b := f.createBed(t, "101", "A", 1000)

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodDelete, "", f.hospital), rec)
	c.SetParamNames("id")
	c.SetParamValues(b.ID.String())

	if err := h.DeleteBed(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}

func TestHandler_ListBeds_DefaultsToOwnHospital(t *testing.T) {
	h, f, e := newTestHandler()
	f.createBed(t, "101", "A", 1000)
	f.createBed(t, "101", "B", 1000)

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "", f.hospital), rec)
	if err := h.ListBeds(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var resp struct {
		Total int `json:"total"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Total != 2 {
		t.Errorf("expected 2 beds, got %d", resp.Total)
	}
}

func TestHandler_GetSummary(t *testing.T) {
	h, f, e := newTestHandler()
	f.createBed(t, "101", "A", 1000)

	rec := httptest.NewRecorder()
	c := e.NewContext(newRequest(http.MethodGet, "", auth.Actor{ID: uuid.New(), Kind: auth.KindUser}), rec)
	c.SetParamNames("id")
	c.SetParamValues(f.hospital.ID.String())
	if err := h.GetSummary(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(rec.Body.String(), `"available":1`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}
