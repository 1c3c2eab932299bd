package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"cco-releases/internal/observability/logging"
)

func TestRequestIDMiddlewareGeneratesID(t *testing.T) {
	var seen string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := logging.RequestIDFromContext(r.Context())
		if !ok {
			t.Fatal("request ID missing from context")
		}
		seen = id
	})

	handler := requestIDMiddlewareWithGenerator(nil, func() string { return "fixed-id" }, next)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if seen != "fixed-id" {
		t.Fatalf("context request ID = %q, want fixed-id", seen)
	}
	if got := rec.Header().Get("X-Request-Id"); got != "fixed-id" {
		t.Fatalf("response header = %q, want fixed-id", got)
	}
}

func TestRequestIDMiddlewarePreservesIncoming(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	handler := requestIDMiddleware(nil, next)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-Id", "caller-chosen")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "caller-chosen" {
		t.Fatalf("response header = %q, want caller-chosen", got)
	}
}

func TestNewRequestIDIsUnique(t *testing.T) {
	a := newRequestID()
	b := newRequestID()
	if a == "" || a == b {
		t.Fatalf("request IDs should be non-empty and unique, got %q and %q", a, b)
	}
}
