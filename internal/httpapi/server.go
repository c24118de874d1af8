// Package httpapi wires the gateway's public HTTP surface: the unauthenticated
// REST plane for server management/discovery, the authenticated MCP plane
// for JSON-RPC proxying and tool invocation, and the operational endpoints.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/r3e-network/mcp-gateway/internal/auth"
	"github.com/r3e-network/mcp-gateway/internal/dao"
	"github.com/r3e-network/mcp-gateway/internal/logging"
	"github.com/r3e-network/mcp-gateway/internal/metrics"
	"github.com/r3e-network/mcp-gateway/internal/middleware"
	"github.com/r3e-network/mcp-gateway/internal/proxy"
	"github.com/r3e-network/mcp-gateway/internal/registry"
	"github.com/r3e-network/mcp-gateway/internal/router"
	"github.com/r3e-network/mcp-gateway/internal/routermetrics"
	"github.com/r3e-network/mcp-gateway/pkg/version"
)

// Server bundles every dependency the HTTP handlers need.
type Server struct {
	reg     *registry.Registry
	rtr     *router.Router
	tracker *routermetrics.Tracker
	prx     *proxy.Proxy
	store   dao.RelationalStore
	chain   *middleware.Chain
	policy  auth.Policy
	authn   *auth.Authenticator
	log     *logging.Logger
	m       *metrics.Metrics

	startedAt time.Time
}

func New(
	reg *registry.Registry,
	rtr *router.Router,
	tracker *routermetrics.Tracker,
	prx *proxy.Proxy,
	store dao.RelationalStore,
	chain *middleware.Chain,
	policy auth.Policy,
	authn *auth.Authenticator,
	log *logging.Logger,
	m *metrics.Metrics,
) *Server {
	return &Server{
		reg: reg, rtr: rtr, tracker: tracker, prx: prx, store: store,
		chain: chain, policy: policy, authn: authn, log: log, m: m,
		startedAt: time.Now(),
	}
}

// Router builds the full chi route table from spec's external-interfaces
// table: public identity/health/metrics, the unauthenticated REST plane,
// and the authenticated /mcp plane.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.Recovery(s.log))
	r.Use(middleware.RequestLogging(s.log))
	r.Use(middleware.HTTPMetrics(s.m))
	r.Use(middleware.SecurityHeaders(nil))
	r.Use(middleware.CORS(middleware.DefaultCORSConfig()))
	r.Use(middleware.BodyLimit(0))
	r.Use(middleware.Timeout(0, s.log))

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/servers", s.handleRegisterServer)
		r.Get("/servers", s.handleListServers)
		r.Get("/servers/{id}", s.handleGetServer)
		r.Delete("/servers/{id}", s.handleUnregisterServer)

		r.Get("/discovery/tools", s.handleDiscoverTools)
		r.Get("/discovery/resources", s.handleDiscoverResources)

		r.Get("/router/metrics", s.handleRouterMetrics)

		r.Get("/proxy/active-requests", s.handleActiveRequests)
		r.Delete("/proxy/requests/{id}", s.handleCancelRequest)
	})

	r.Route("/mcp", func(r chi.Router) {
		r.Use(middleware.PathAuthGate)
		r.Post("/proxy", s.handleAdvancedProxy)
		r.Post("/", s.handleSimpleProxy)
		r.Get("/tools", s.handleListTools)
		r.Post("/tools/{name}", s.handleInvokeTool)
	})

	return r
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"service": "mcp-gateway",
		"version": version.Version,
		"links": map[string]string{
			"health":  "/health",
			"ready":   "/ready",
			"metrics": "/metrics",
			"servers": "/api/v1/servers",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	servers, err := s.store.FindServers(r.Context(), registry.Filter{})
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"status": "degraded", "error": "registry unavailable"})
		return
	}
	healthy := 0
	for _, srv := range servers {
		if srv.HealthStatus == registry.HealthHealthy {
			healthy++
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":          "ok",
		"version":         version.FullVersion(),
		"uptime_seconds":  time.Since(s.startedAt).Seconds(),
		"servers_total":   len(servers),
		"servers_healthy": healthy,
	})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{"status": "not_ready", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"status": "ready"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
