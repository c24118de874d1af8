package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestHandleRegisterAndListServers(t *testing.T) {
	s, _, _ := newTestServer(t)
	router := s.Router()

	body, _ := json.Marshal(map[string]interface{}{
		"name":          "files",
		"endpoint_url":  "http://files:3001",
		"transport_type": "http",
	})
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/servers", bytes.NewReader(body)))
	if rec.Code != http.StatusCreated {
		t.Fatalf("register status = %d, body = %s, want 201", rec.Code, rec.Body.String())
	}

	rec2 := httptest.NewRecorder()
	router.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/api/v1/servers", nil))
	var listBody map[string]interface{}
	if err := json.Unmarshal(rec2.Body.Bytes(), &listBody); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if listBody["count"].(float64) != 1 {
		t.Fatalf("count = %v, want 1", listBody["count"])
	}
}

func TestHandleRegisterServerRejectsMissingFields(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	body, _ := json.Marshal(map[string]interface{}{"name": "files"})
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/servers", bytes.NewReader(body)))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for a missing endpoint_url", rec.Code)
	}
}

func TestHandleGetServerNotFound(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/servers/does-not-exist", nil))

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 for an unknown server id", rec.Code)
	}
}

func TestHandleUnregisterServer(t *testing.T) {
	s, reg, _ := newTestServer(t)
	srv, err := reg.Register(contextBG(), registryInput("s1", "http://s1"))
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodDelete, "/api/v1/servers/"+srv.ID, nil))
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want 204", rec.Code)
	}

	rec2 := httptest.NewRecorder()
	s.Router().ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/api/v1/servers/"+srv.ID, nil))
	if rec2.Code != http.StatusNotFound {
		t.Fatalf("status after delete = %d, want 404", rec2.Code)
	}
}

func TestHandleListServersFiltersByTags(t *testing.T) {
	s, reg, _ := newTestServer(t)
	if _, err := reg.Register(contextBG(), registryInputWithTags("s1", "http://s1", []string{"prod"})); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if _, err := reg.Register(contextBG(), registryInputWithTags("s2", "http://s2", []string{"dev"})); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/servers?tags=prod", nil))
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if body["count"].(float64) != 1 {
		t.Fatalf("count = %v, want 1 server tagged prod", body["count"])
	}
}

func TestHandleRegisterServerRejectsInvalidJSON(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/api/v1/servers", strings.NewReader("{not json")))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for malformed JSON", rec.Code)
	}
}
