package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestServiceErrorWrapsAndUnwraps(t *testing.T) {
	cause := errors.New("connection refused")
	se := DatabaseError("insert", cause)

	if !errors.Is(se, cause) {
		t.Fatal("errors.Is() did not see through ServiceError.Unwrap")
	}
	if se.HTTPStatus != http.StatusInternalServerError {
		t.Fatalf("HTTPStatus = %d, want 500", se.HTTPStatus)
	}
	if se.Details["operation"] != "insert" {
		t.Fatalf("Details[operation] = %v, want insert", se.Details["operation"])
	}
}

func TestServiceErrorMessageIncludesCause(t *testing.T) {
	cause := errors.New("boom")
	se := Internal("failed", cause)
	got := se.Error()
	want := fmt.Sprintf("[%s] failed: %v", CodeInternal, cause)
	if got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}

func TestGetServiceErrorAndIsServiceError(t *testing.T) {
	se := NotFound("server", "srv-1")
	var err error = se

	if !IsServiceError(err) {
		t.Fatal("IsServiceError() = false, want true")
	}
	got := GetServiceError(err)
	if got == nil || got.Code != CodeNotFound {
		t.Fatalf("GetServiceError() = %v, want CodeNotFound", got)
	}

	if IsServiceError(errors.New("plain")) {
		t.Fatal("IsServiceError() = true for a plain error")
	}
	if GetServiceError(errors.New("plain")) != nil {
		t.Fatal("GetServiceError() non-nil for a plain error")
	}
}

func TestGetHTTPStatusFallsBackTo500(t *testing.T) {
	if got := GetHTTPStatus(errors.New("plain")); got != http.StatusInternalServerError {
		t.Fatalf("GetHTTPStatus() = %d, want 500 for a non-ServiceError", got)
	}
	if got := GetHTTPStatus(ToolNotAllowed("t1")); got != http.StatusForbidden {
		t.Fatalf("GetHTTPStatus() = %d, want 403", got)
	}
}

func TestWithDetailsAccumulates(t *testing.T) {
	se := New(CodeConflict, "conflict", http.StatusConflict).
		WithDetails("a", 1).
		WithDetails("b", 2)
	if se.Details["a"] != 1 || se.Details["b"] != 2 {
		t.Fatalf("Details = %v, want a=1 b=2", se.Details)
	}
}
