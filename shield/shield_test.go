// WHAT: Tests for the HTTP middleware stack: security headers, request IDs,
// and body caps.
// WHY: Every API response carries these headers and every handler relies on
// the body cap; regressions here are invisible in handler tests.
package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/finlens/reportpipe/kit"
)

func TestSecurityHeadersSet(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(200)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	}
	for k, v := range want {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
}

func TestSecurityHeadersEmptyConfigSetsNothing(t *testing.T) {
	h := SecurityHeaders(HeaderConfig{})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(200)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if got := rec.Header().Get("X-Frame-Options"); got != "" {
		t.Errorf("X-Frame-Options = %q, want unset", got)
	}
}

func TestRequestIDInjected(t *testing.T) {
	var seen string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = kit.GetRequestID(r.Context())
		w.WriteHeader(200)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/", nil))

	if seen == "" {
		t.Fatal("request ID missing from context")
	}
	if got := rec.Header().Get("X-Request-ID"); got != seen {
		t.Errorf("X-Request-ID header = %q, context = %q", got, seen)
	}
	if len(seen) != 8 {
		t.Errorf("request ID %q, want 8 hex chars", seen)
	}
}

func TestMaxBodyCapsReads(t *testing.T) {
	h := MaxBody(16)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, err := io.ReadAll(r.Body)
		if err == nil {
			t.Error("read past cap must fail")
		}
		w.WriteHeader(413)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/", strings.NewReader(strings.Repeat("x", 64)))
	h.ServeHTTP(rec, req)
}

func TestMaxBodyAllowsSmallBodies(t *testing.T) {
	h := MaxBody(1024)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, err := io.ReadAll(r.Body)
		if err != nil {
			t.Errorf("read: %v", err)
		}
		if string(data) != "hello" {
			t.Errorf("body = %q", data)
		}
		w.WriteHeader(200)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("POST", "/", strings.NewReader("hello")))
}

func TestGetLoggerDefaultsWhenUnset(t *testing.T) {
	req := httptest.NewRequest("GET", "/", nil)
	if GetLogger(req.Context()) == nil {
		t.Fatal("GetLogger must never return nil")
	}
}

func TestDefaultAPIStackOrder(t *testing.T) {
	stack := DefaultAPIStack(1 << 20)
	if len(stack) != 3 {
		t.Fatalf("stack size = %d, want 3", len(stack))
	}
}
