package urlpath

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ts4z/floorman/he"
)

func withParam(r *http.Request, key, value string) *http.Request {
	rctx := chi.NewRouteContext()
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

func TestUUIDParam(t *testing.T) {
	id := uuid.New()
	r := withParam(httptest.NewRequest("GET", "/", nil), "id", id.String())
	got, err := UUIDParam(r, "id")
	if err != nil || got != id {
		t.Errorf("UUIDParam = %v, %v", got, err)
	}

	r = withParam(httptest.NewRequest("GET", "/", nil), "id", "17")
	_, err = UUIDParam(r, "id")
	var herr *he.HTTPError
	if !errors.As(err, &herr) || herr.Code() != http.StatusBadRequest {
		t.Errorf("bad id: err = %v", err)
	}
}

func TestQueryParams(t *testing.T) {
	r := httptest.NewRequest("GET", "/?limit=25&club=nope", nil)
	if n, err := IntQuery(r, "limit", 50); err != nil || n != 25 {
		t.Errorf("limit = %d, %v", n, err)
	}
	if n, err := IntQuery(r, "offset", 0); err != nil || n != 0 {
		t.Errorf("offset = %d, %v", n, err)
	}
	if id, err := UUIDQuery(r, "user"); err != nil || id != uuid.Nil {
		t.Errorf("user = %v, %v", id, err)
	}
	if _, err := UUIDQuery(r, "club"); err == nil {
		t.Error("bad club accepted")
	}
}
