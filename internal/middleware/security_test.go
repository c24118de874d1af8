package middleware

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestSecurityHeadersSetsDefaults(t *testing.T) {
	h := SecurityHeaders(nil)(okHandler())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	for k, v := range DefaultSecurityHeaders() {
		if got := rec.Header().Get(k); got != v {
			t.Errorf("header %s = %q, want %q", k, got, v)
		}
	}
}

func TestBodyLimitRejectsOversizedContentLength(t *testing.T) {
	h := BodyLimit(10)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(make([]byte, 20)))
	req.ContentLength = 20
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413 for a body exceeding the limit", rec.Code)
	}
}

func TestBodyLimitAllowsSmallBody(t *testing.T) {
	h := BodyLimit(1024)(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader([]byte("small")))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for a body within the limit", rec.Code)
	}
}
