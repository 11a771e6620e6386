package urlpath

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/ts4z/floorman/he"
)

// UUIDParam extracts and parses a uuid path variable.  The error is an
// HTTPError with a 400 code.
func UUIDParam(r *http.Request, name string) (uuid.UUID, error) {
	raw := chi.URLParam(r, name)
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, he.HTTPCodedErrorf(http.StatusBadRequest, "can't parse %s from url path: %v", name, err)
	}
	return id, nil
}

// UUIDQuery parses an optional uuid query parameter.  A missing parameter is
// uuid.Nil and no error.
func UUIDQuery(r *http.Request, name string) (uuid.UUID, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, he.HTTPCodedErrorf(http.StatusBadRequest, "can't parse %s: %v", name, err)
	}
	return id, nil
}

// IntQuery parses an optional integer query parameter, returning def when it
// is missing.
func IntQuery(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, he.HTTPCodedErrorf(http.StatusBadRequest, "can't parse %s: %v", name, err)
	}
	return n, nil
}
