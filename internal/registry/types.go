// Package registry owns the server catalog: registration, capability
// discovery, and continuous health probing.
package registry

import (
	"encoding/json"
	"sort"
	"time"
)

// Transport identifies how the proxy reaches a back-end server.
type Transport string

const (
	TransportHTTP      Transport = "http"
	TransportWebSocket Transport = "websocket"
	TransportStdio     Transport = "stdio"
	TransportSSE       Transport = "sse"
)

// HealthStatus is the server's last-observed health.
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "HEALTHY"
	HealthDegraded    HealthStatus = "DEGRADED"
	HealthUnhealthy   HealthStatus = "UNHEALTHY"
	HealthUnknown     HealthStatus = "UNKNOWN"
	HealthMaintenance HealthStatus = "MAINTENANCE"
)

// Capabilities is the explicit descriptor of what a server exposes, replacing
// a dynamic dict-typed capability map.
type Capabilities struct {
	Tools     []string `json:"tools,omitempty"`
	Resources []string `json:"resources,omitempty"`
}

// TagSet is a set of strings that (de)serializes as a sorted JSON array.
type TagSet map[string]struct{}

func NewTagSet(tags ...string) TagSet {
	s := make(TagSet, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

func (s TagSet) Has(tag string) bool {
	_, ok := s[tag]
	return ok
}

func (s TagSet) HasAll(tags []string) bool {
	for _, t := range tags {
		if !s.Has(t) {
			return false
		}
	}
	return true
}

func (s TagSet) Slice() []string {
	out := make([]string, 0, len(s))
	for t := range s {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func (s TagSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

func (s *TagSet) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err != nil {
		return err
	}
	*s = NewTagSet(list...)
	return nil
}

// PerformanceSnapshot is an advisory, cached view of a server's recent
// performance. It is never authoritative for routing correctness — the
// live breaker/metrics state (internal/breaker, internal/routermetrics)
// is used for that.
type PerformanceSnapshot struct {
	AvgResponseMS     float64 `json:"avg_response_ms"`
	SuccessRate       float64 `json:"success_rate"`
	ActiveConnections int     `json:"active_connections"`
}

// Server is the authoritative record for a registered MCP back-end.
type Server struct {
	ID              string               `json:"id" db:"id"`
	TenantID        *string              `json:"tenant_id,omitempty" db:"tenant_id"`
	Name            string               `json:"name" db:"name"`
	DisplayName     string               `json:"display_name" db:"display_name"`
	Version         string               `json:"version" db:"version"`
	EndpointURL     string               `json:"endpoint_url" db:"endpoint_url"`
	Transport       Transport            `json:"transport_type" db:"transport_type"`
	Capabilities    Capabilities         `json:"capabilities" db:"-"`
	Tags            TagSet               `json:"tags" db:"-"`
	HealthStatus    HealthStatus         `json:"health_status" db:"health_status"`
	LastHealthCheck *time.Time           `json:"last_health_check,omitempty" db:"last_health_check"`
	Performance     *PerformanceSnapshot `json:"performance,omitempty" db:"-"`
	RegisteredBy    *string              `json:"registered_by,omitempty" db:"registered_by"`
	CreatedAt       time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt       time.Time            `json:"updated_at" db:"updated_at"`
}

// Tool belongs to a server; (server_id, name) is unique.
type Tool struct {
	ServerID    string          `json:"server_id" db:"server_id"`
	Name        string          `json:"name" db:"name"`
	Description string          `json:"description" db:"description"`
	Schema      json.RawMessage `json:"schema,omitempty" db:"schema"`
	UsageCount  int64           `json:"usage_count" db:"usage_count"`
}

// Resource belongs to a server; (server_id, uri_template) is unique.
type Resource struct {
	ServerID    string `json:"server_id" db:"server_id"`
	URITemplate string `json:"uri_template" db:"uri_template"`
	MIMEType    string `json:"mime_type" db:"mime_type"`
	Description string `json:"description" db:"description"`
}

// Filter narrows Find results. Zero-valued fields are ignored.
type Filter struct {
	TenantID     *string
	Tags         []string
	Tools        []string
	Resources    []string
	HealthStatus HealthStatus
	Hydrate      bool
}

// RegisterInput carries the fields accepted by Register.
type RegisterInput struct {
	Name         string
	DisplayName  string
	Version      string
	EndpointURL  string
	Transport    Transport
	Capabilities Capabilities
	Tags         []string
	TenantID     *string
	RegisteredBy *string
	AutoDiscover bool
}
