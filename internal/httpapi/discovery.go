package httpapi

import (
	"net/http"
	"strings"

	"github.com/r3e-network/mcp-gateway/internal/registry"
)

type toolEntry struct {
	registry.Tool
	ServerName string `json:"server_name"`
}

type resourceEntry struct {
	registry.Resource
	ServerName string `json:"server_name"`
}

// handleDiscoverTools flattens the tool catalog across every server matching
// the query filter, optionally narrowed to a name substring.
func (s *Server) handleDiscoverTools(w http.ResponseWriter, r *http.Request) {
	filter := registry.Filter{}
	q := r.URL.Query()
	if tenant := q.Get("tenant_id"); tenant != "" {
		filter.TenantID = &tenant
	}
	if tags := q.Get("tags"); tags != "" {
		filter.Tags = strings.Split(tags, ",")
	}
	filter.HealthStatus = registry.HealthHealthy

	servers, err := s.reg.Find(r.Context(), filter)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	name := q.Get("name")
	var entries []toolEntry
	for _, srv := range servers {
		tools, err := s.reg.Tools(r.Context(), srv.ID)
		if err != nil {
			continue
		}
		for _, t := range tools {
			if name != "" && !strings.Contains(t.Name, name) {
				continue
			}
			entries = append(entries, toolEntry{Tool: t, ServerName: srv.Name})
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tools": entries, "count": len(entries)})
}

// handleDiscoverResources mirrors handleDiscoverTools for the resource catalog.
func (s *Server) handleDiscoverResources(w http.ResponseWriter, r *http.Request) {
	filter := registry.Filter{}
	q := r.URL.Query()
	if tenant := q.Get("tenant_id"); tenant != "" {
		filter.TenantID = &tenant
	}
	if tags := q.Get("tags"); tags != "" {
		filter.Tags = strings.Split(tags, ",")
	}
	filter.HealthStatus = registry.HealthHealthy

	servers, err := s.reg.Find(r.Context(), filter)
	if err != nil {
		writeAPIError(w, err)
		return
	}

	mimeType := q.Get("mime_type")
	var entries []resourceEntry
	for _, srv := range servers {
		resources, err := s.reg.Resources(r.Context(), srv.ID)
		if err != nil {
			continue
		}
		for _, res := range resources {
			if mimeType != "" && res.MIMEType != mimeType {
				continue
			}
			entries = append(entries, resourceEntry{Resource: res, ServerName: srv.Name})
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"resources": entries, "count": len(entries)})
}
