package middleware

import (
	"encoding/json"
	"errors"
	"net/http/httptest"
	"testing"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
)

func TestWriteJSONSetsContentTypeAndStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, 201, map[string]string{"ok": "yes"})

	if rec.Code != 201 {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q, want application/json", ct)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["ok"] != "yes" {
		t.Fatalf("body = %s, decode error = %v", rec.Body.String(), err)
	}
}

func TestWriteErrorMapsServiceError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil, apperrors.NotFound("server", "s1"))

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404 for a not-found ServiceError", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if resp.Code != string(apperrors.CodeNotFound) {
		t.Fatalf("Code = %q, want %q", resp.Code, apperrors.CodeNotFound)
	}
}

func TestWriteErrorFallsBackTo500ForPlainError(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil, errors.New("boom"))

	if rec.Code != 500 {
		t.Fatalf("status = %d, want 500 for an unclassified error", rec.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil || resp.Code != "INTERNAL" {
		t.Fatalf("response = %+v, err = %v, want code INTERNAL", resp, err)
	}
}
