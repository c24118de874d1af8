package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/r3e-network/mcp-gateway/internal/auth"
	"github.com/r3e-network/mcp-gateway/internal/breaker"
	"github.com/r3e-network/mcp-gateway/internal/dao/memory"
	"github.com/r3e-network/mcp-gateway/internal/logging"
	"github.com/r3e-network/mcp-gateway/internal/metrics"
	"github.com/r3e-network/mcp-gateway/internal/middleware"
	"github.com/r3e-network/mcp-gateway/internal/proxy"
	"github.com/r3e-network/mcp-gateway/internal/ratelimit"
	"github.com/r3e-network/mcp-gateway/internal/registry"
	"github.com/r3e-network/mcp-gateway/internal/router"
	"github.com/r3e-network/mcp-gateway/internal/routermetrics"
	"github.com/r3e-network/mcp-gateway/internal/tracing"
)

func contextBG() context.Context { return context.Background() }

func registryInput(name, endpoint string) registry.RegisterInput {
	return registry.RegisterInput{Name: name, EndpointURL: endpoint, Transport: registry.TransportHTTP}
}

func registryInputWithTags(name, endpoint string, tags []string) registry.RegisterInput {
	in := registryInput(name, endpoint)
	in.Tags = tags
	return in
}

func newTestServer(t *testing.T) (*Server, *registry.Registry, *memory.Store) {
	t.Helper()
	store := memory.New()
	log := logging.New("test", "error", "json")
	m := metrics.New()

	reg := registry.New(store, log, m, registry.ProbeConfig{Interval: time.Hour, Timeout: time.Second})
	t.Cleanup(reg.Shutdown)
	breakers := breaker.NewRegistry(breaker.DefaultConfig())
	tracker := routermetrics.New(routermetrics.DefaultScoreWeights())
	rtr := router.New(reg, breakers, tracker, router.PolicyRoundRobin)
	prx := proxy.New(rtr, store, log, m)

	limiter := ratelimit.New(ratelimit.Config{Enabled: false}, store, m)
	authn := auth.NewAuthenticator(auth.NewAPIKeyAuthenticator(store, store), auth.NewOAuthAuthenticator(auth.OAuthConfig{}, nil))
	policy := auth.DefaultPolicy()
	chain := middleware.NewChain(authn, limiter, policy, store, tracing.Noop, m, log)

	return New(reg, rtr, tracker, prx, store, chain, policy, authn, log, m), reg, store
}

func TestHandleRootIncludesVersionAndLinks(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if body["service"] != "mcp-gateway" {
		t.Fatalf("service = %v, want mcp-gateway", body["service"])
	}
	if body["version"] == nil || body["version"] == "" {
		t.Fatal("version missing from root response")
	}
}

func TestHandleHealthReportsServerCounts(t *testing.T) {
	s, reg, _ := newTestServer(t)
	srv, err := reg.Register(context.Background(), registry.RegisterInput{Name: "s1", EndpointURL: "http://s1", Transport: registry.TransportHTTP})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.UpdateHealth(context.Background(), srv.ID, registry.HealthHealthy, time.Now()); err != nil {
		t.Fatalf("UpdateHealth() error = %v", err)
	}

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode error = %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("status = %v, want ok", body["status"])
	}
	if body["servers_healthy"].(float64) != 1 {
		t.Fatalf("servers_healthy = %v, want 1", body["servers_healthy"])
	}
}

func TestHandleReadyOK(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestMCPPlaneRejectsMissingCredential(t *testing.T) {
	s, _, _ := newTestServer(t)

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/mcp/", nil)
	s.Router().ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for a credential-less /mcp/ request", rec.Code)
	}
}
