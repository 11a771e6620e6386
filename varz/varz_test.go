package varz

import (
	"encoding/json"
	"expvar"
	"net/http"
	"net/http/httptest"
	"testing"
)

var widgets = NewInt("widgets")

func TestNamesCarryPackage(t *testing.T) {
	widgets.Add(2)
	if v := widgets.Value(); v != 2 {
		t.Fatalf("widgets = %d, want 2", v)
	}

	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	var vars map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &vars); err != nil {
		t.Fatalf("decoding vars: %v", err)
	}
	if got := string(vars["varz.widgets"]); got != "2" {
		t.Errorf("varz.widgets = %q, want 2 (have %d vars)", got, len(vars))
	}
}

func TestNewIntInsideFunction(t *testing.T) {
	c := func() *expvar.Int { return NewInt("fromClosure") }()
	c.Add(1)
	rr := httptest.NewRecorder()
	Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/debug/vars", nil))
	var vars map[string]json.RawMessage
	if err := json.Unmarshal(rr.Body.Bytes(), &vars); err != nil {
		t.Fatalf("decoding vars: %v", err)
	}
	if _, ok := vars["varz.fromClosure"]; !ok {
		t.Errorf("varz.fromClosure not published")
	}
}
