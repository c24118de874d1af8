package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestPathAuthGateRejectsMissingCredential(t *testing.T) {
	called := false
	h := PathAuthGate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodPost, "/mcp/proxy", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") != "Bearer" {
		t.Fatalf("WWW-Authenticate header = %q, want Bearer", rec.Header().Get("WWW-Authenticate"))
	}
	if called {
		t.Fatal("handler should not run without a credential")
	}
}

func TestPathAuthGateAllowsWithBearer(t *testing.T) {
	called := false
	h := PathAuthGate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodPost, "/mcp/proxy", nil)
	req.Header.Set("Authorization", "Bearer sometoken")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !called {
		t.Fatal("handler should run once a credential header is present")
	}
}

func TestPathAuthGateIgnoresPublicPaths(t *testing.T) {
	called := false
	h := PathAuthGate(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true }))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if !called || rec.Code != http.StatusOK {
		t.Fatalf("public path should pass through unauthenticated, status=%d called=%v", rec.Code, called)
	}
}
