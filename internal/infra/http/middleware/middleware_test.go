package middleware

import (
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
)

func TestRequestIDPropagatesOrGenerates(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetRequestID(r.Context())
	}))

	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	req.Header.Set("X-Request-Id", "abc")
	h.ServeHTTP(rr, req)
	if seen != "abc" || rr.Header().Get("X-Request-Id") != "abc" {
		t.Fatalf("request id not propagated: %q", seen)
	}

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/status", nil))
	if len(seen) != 20 || rr.Header().Get("X-Request-Id") != seen {
		t.Fatalf("generated id = %q", seen)
	}
}

func TestAdminGate(t *testing.T) {
	_, loopback, _ := net.ParseCIDR("127.0.0.0/8")
	h := AdminGate([]*net.IPNet{loopback})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	for addr, want := range map[string]int{
		"127.0.0.1:5555": http.StatusNoContent,
		"10.1.1.1:5555":  http.StatusForbidden,
		"garbage":        http.StatusForbidden,
	} {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		req.RemoteAddr = addr
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		if rr.Code != want {
			t.Fatalf("%s: status %d want %d", addr, rr.Code, want)
		}
	}
}

func TestRecovery(t *testing.T) {
	h := Recovery(zerolog.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
}
