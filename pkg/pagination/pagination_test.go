package pagination

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func paramsFor(t *testing.T, query string) Params {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/?"+query, nil)
	c := e.NewContext(req, httptest.NewRecorder())
	return FromContext(c)
}

func TestFromContext(t *testing.T) {
	cases := []struct {
		query         string
		limit, offset int
	}{
		{"", DefaultLimit, 0},
		{"limit=50&offset=10", 50, 10},
		{"limit=1000", MaxLimit, 0},
		{"limit=-5&offset=-3", DefaultLimit, 0},
		{"limit=abc&offset=xyz", DefaultLimit, 0},
	}
	for _, tc := range cases {
		p := paramsFor(t, tc.query)
		if p.Limit != tc.limit || p.Offset != tc.offset {
			t.Errorf("query %q: got %+v, want limit=%d offset=%d", tc.query, p, tc.limit, tc.offset)
		}
	}
}

func TestNewResponse_HasMore(t *testing.T) {
	if r := NewResponse(nil, 100, 20, 0); !r.HasMore {
		t.Error("expected more pages at the start")
	}
	if r := NewResponse(nil, 100, 20, 80); r.HasMore {
		t.Error("expected no more pages on the last page")
	}
	if r := NewResponse(nil, 5, 20, 0); r.HasMore {
		t.Error("expected single page")
	}
}
