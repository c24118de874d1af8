package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/registry"
)

type registerServerRequest struct {
	Name         string               `json:"name"`
	DisplayName  string               `json:"display_name"`
	Version      string               `json:"version"`
	EndpointURL  string               `json:"endpoint_url"`
	Transport    registry.Transport   `json:"transport_type"`
	Capabilities registry.Capabilities `json:"capabilities"`
	Tags         []string             `json:"tags"`
	TenantID     *string              `json:"tenant_id,omitempty"`
	AutoDiscover bool                 `json:"auto_discover"`
}

func (s *Server) handleRegisterServer(w http.ResponseWriter, r *http.Request) {
	var req registerServerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIError(w, apperrors.InvalidFormat("body", "valid JSON"))
		return
	}
	if req.Name == "" || req.EndpointURL == "" {
		writeAPIError(w, apperrors.MissingParameter("name or endpoint_url"))
		return
	}

	srv, err := s.reg.Register(r.Context(), registry.RegisterInput{
		Name:         req.Name,
		DisplayName:  req.DisplayName,
		Version:      req.Version,
		EndpointURL:  req.EndpointURL,
		Transport:    req.Transport,
		Capabilities: req.Capabilities,
		Tags:         req.Tags,
		TenantID:     req.TenantID,
		AutoDiscover: req.AutoDiscover,
	})
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, srv)
}

func (s *Server) handleListServers(w http.ResponseWriter, r *http.Request) {
	filter := registry.Filter{}
	q := r.URL.Query()
	if tenant := q.Get("tenant_id"); tenant != "" {
		filter.TenantID = &tenant
	}
	if tags := q.Get("tags"); tags != "" {
		filter.Tags = strings.Split(tags, ",")
	}
	if status := q.Get("health_status"); status != "" {
		filter.HealthStatus = registry.HealthStatus(status)
	}

	servers, err := s.reg.Find(r.Context(), filter)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"servers": servers, "count": len(servers)})
}

func (s *Server) handleGetServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	srv, err := s.reg.Get(r.Context(), id)
	if err != nil {
		writeAPIError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, srv)
}

func (s *Server) handleUnregisterServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.reg.Unregister(r.Context(), id); err != nil {
		writeAPIError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeAPIError(w http.ResponseWriter, err error) {
	if se := apperrors.GetServiceError(err); se != nil {
		writeJSON(w, se.HTTPStatus, map[string]interface{}{"code": se.Code, "message": se.Message, "details": se.Details})
		return
	}
	writeJSON(w, http.StatusInternalServerError, map[string]interface{}{"code": "INTERNAL", "message": "internal error"})
}
