package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(query string) Params {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	return FromContext(e.NewContext(req, httptest.NewRecorder()))
}

func TestFromContext_Defaults(t *testing.T) {
	p := paramsFor("")
	if p.Limit != DefaultLimit || p.Offset != 0 {
		t.Errorf("expected defaults, got %+v", p)
	}
}

func TestFromContext_CustomValues(t *testing.T) {
	p := paramsFor("limit=50&offset=10")
	if p.Limit != 50 || p.Offset != 10 {
		t.Errorf("got %+v", p)
	}
}

func TestFromContext_SkipAlias(t *testing.T) {
	p := paramsFor("skip=30")
	if p.Offset != 30 {
		t.Errorf("expected offset 30 from skip, got %d", p.Offset)
	}
	p = paramsFor("skip=30&offset=5")
	if p.Offset != 5 {
		t.Errorf("offset should win over skip, got %d", p.Offset)
	}
}

func TestFromContext_Bounds(t *testing.T) {
	if p := paramsFor("limit=500"); p.Limit != MaxLimit {
		t.Errorf("expected limit capped at %d, got %d", MaxLimit, p.Limit)
	}
	if p := paramsFor("offset=-5"); p.Offset != 0 {
		t.Errorf("expected negative offset clamped, got %d", p.Offset)
	}
}

func TestNewResponse(t *testing.T) {
	r := NewResponse([]string{"a", "b"}, 5, Params{Limit: 2, Offset: 2})
	if !r.HasMore || r.Total != 5 || r.Limit != 2 || r.Offset != 2 {
		t.Errorf("unexpected response %+v", r)
	}
	r = NewResponse(nil, 4, Params{Limit: 2, Offset: 2})
	if r.HasMore {
		t.Error("expected last page to have no more")
	}
}
