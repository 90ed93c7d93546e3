package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/beds?"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor("")
	if p.Limit != DefaultLimit {
		t.Errorf("expected limit %d, got %d", DefaultLimit, p.Limit)
	}
	if p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
	if p.Page() != 1 {
		t.Errorf("expected page 1, got %d", p.Page())
	}
}

func TestFromContext_Page(t *testing.T) {
	p := paramsFor("page=3&limit=10")
	if p.Offset != 20 {
		t.Errorf("expected offset 20, got %d", p.Offset)
	}
	if p.Page() != 3 {
		t.Errorf("expected page 3, got %d", p.Page())
	}
}

func TestFromContext_Offset(t *testing.T) {
	p := paramsFor("offset=15&limit=5")
	if p.Offset != 15 || p.Limit != 5 {
		t.Errorf("unexpected params %+v", p)
	}
}

func TestFromContext_MaxLimit(t *testing.T) {
	if p := paramsFor("limit=5000"); p.Limit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxLimit, p.Limit)
	}
}

func TestFromContext_NegativeOffset(t *testing.T) {
	if p := paramsFor("offset=-4"); p.Offset != 0 {
		t.Errorf("expected offset 0, got %d", p.Offset)
	}
}

func TestWindow(t *testing.T) {
	tests := []struct {
		p          Params
		n          int
		start, end int
	}{
		{Params{Limit: 10, Offset: 0}, 25, 0, 10},
		{Params{Limit: 10, Offset: 20}, 25, 20, 25},
		{Params{Limit: 10, Offset: 40}, 25, 25, 25},
	}
	for _, tt := range tests {
		s, e := tt.p.Window(tt.n)
		if s != tt.start || e != tt.end {
			t.Errorf("Window(%d) with %+v = [%d,%d), want [%d,%d)", tt.n, tt.p, s, e, tt.start, tt.end)
		}
	}
}

func TestNewResponse(t *testing.T) {
	resp := NewResponse([]string{"a", "b"}, 25, Params{Limit: 10, Offset: 10})
	if resp.Total != 25 || resp.Page != 2 {
		t.Errorf("unexpected response %+v", resp)
	}
	if !resp.HasMore {
		t.Error("expected HasMore")
	}
	last := NewResponse(nil, 25, Params{Limit: 10, Offset: 20})
	if last.HasMore {
		t.Error("expected no more on last page")
	}
}
