// Package registry owns the server catalog: registration, lookup,
// capability-filtered find, and a background health-probe loop per server.
package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/dao"
	"github.com/r3e-network/mcp-gateway/internal/logging"
	"github.com/r3e-network/mcp-gateway/internal/metrics"
)

// ProbeConfig controls the health-probe loop cadence.
type ProbeConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{Interval: 30 * time.Second, Timeout: 5 * time.Second}
}

// Registry owns server CRUD plus one health-probe goroutine per server.
type Registry struct {
	store  dao.RelationalStore
	log    *logging.Logger
	m      *metrics.Metrics
	probeCfg ProbeConfig
	client *http.Client

	mu     sync.Mutex
	probes map[string]context.CancelFunc
	wg     sync.WaitGroup
}

func New(store dao.RelationalStore, log *logging.Logger, m *metrics.Metrics, cfg ProbeConfig) *Registry {
	return &Registry{
		store:    store,
		log:      log,
		m:        m,
		probeCfg: cfg,
		client:   &http.Client{Timeout: cfg.Timeout},
		probes:   make(map[string]context.CancelFunc),
	}
}

// Register persists a new server and starts its health-probe loop. With
// AutoDiscover set on an HTTP server registered without capabilities, it
// first asks the server for its tools and resources; discovery failures
// never fail registration.
func (r *Registry) Register(ctx context.Context, in RegisterInput) (*Server, error) {
	if in.Capabilities.Tools == nil && in.Capabilities.Resources == nil && in.AutoDiscover && in.Transport == TransportHTTP {
		if caps, err := discoverCapabilities(ctx, r.client, in.EndpointURL); err == nil {
			in.Capabilities = caps
		} else if r.log != nil {
			r.log.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{"endpoint": in.EndpointURL}).Warn("capability discovery failed, registering without capabilities")
		}
	}

	srv, err := r.store.RegisterServer(ctx, in)
	if err != nil {
		return nil, err
	}

	r.startProbe(srv.ID, srv.EndpointURL, srv.Transport)
	return srv, nil
}

// Unregister cancels the probe task and deletes the record with its owned
// tools/resources.
func (r *Registry) Unregister(ctx context.Context, id string) error {
	r.stopProbe(id)
	return r.store.DeleteServer(ctx, id)
}

func (r *Registry) Get(ctx context.Context, id string) (*Server, error) {
	return r.store.GetServer(ctx, id)
}

func (r *Registry) Find(ctx context.Context, filter Filter) ([]*Server, error) {
	return r.store.FindServers(ctx, filter)
}

func (r *Registry) UpdateHealth(ctx context.Context, id string, status HealthStatus, ts time.Time) error {
	return r.store.MarkServerHealth(ctx, id, status, ts)
}

func (r *Registry) ReplaceTools(ctx context.Context, serverID string, tools []Tool) error {
	return r.store.ReplaceTools(ctx, serverID, tools)
}

func (r *Registry) ReplaceResources(ctx context.Context, serverID string, resources []Resource) error {
	return r.store.ReplaceResources(ctx, serverID, resources)
}

func (r *Registry) Tools(ctx context.Context, serverID string) ([]Tool, error) {
	return r.store.ToolsByServer(ctx, serverID)
}

func (r *Registry) Resources(ctx context.Context, serverID string) ([]Resource, error) {
	return r.store.ResourcesByServer(ctx, serverID)
}

// Restore re-launches a probe per existing server record, intended to run
// once at startup.
func (r *Registry) Restore(ctx context.Context) error {
	ids, err := r.store.ListServerIDs(ctx)
	if err != nil {
		return apperrors.Internal("restore registry probes", err)
	}
	for _, id := range ids {
		srv, err := r.store.GetServer(ctx, id)
		if err != nil {
			continue
		}
		r.startProbe(srv.ID, srv.EndpointURL, srv.Transport)
	}
	return nil
}

// Shutdown cancels every probe and waits for them to exit.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	for id, cancel := range r.probes {
		cancel()
		delete(r.probes, id)
	}
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Registry) startProbe(id, endpoint string, transport Transport) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.probes[id]; ok {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.probes[id] = cancel
	r.wg.Add(1)
	go r.probeLoop(ctx, id, endpoint, transport)
}

func (r *Registry) stopProbe(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.probes[id]; ok {
		cancel()
		delete(r.probes, id)
	}
}

func (r *Registry) probeLoop(ctx context.Context, id, endpoint string, transport Transport) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.probeCfg.Interval)
	defer ticker.Stop()

	r.probeOnce(ctx, id, endpoint, transport)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.probeOnce(ctx, id, endpoint, transport)
		}
	}
}

func (r *Registry) probeOnce(ctx context.Context, id, endpoint string, transport Transport) {
	start := time.Now()
	status := r.probe(ctx, endpoint, transport)
	if r.m != nil {
		r.m.RegistryProbeDuration.WithLabelValues(id).Observe(time.Since(start).Seconds())
		if status == HealthUnhealthy {
			r.m.RegistryProbeFailures.WithLabelValues(id).Inc()
		}
	}
	if err := r.store.MarkServerHealth(ctx, id, status, time.Now().UTC()); err != nil && r.log != nil {
		r.log.WithContext(ctx).WithError(err).WithFields(map[string]interface{}{"server_id": id}).Warn("failed to persist health probe result")
	}
}

func (r *Registry) probe(ctx context.Context, endpoint string, transport Transport) HealthStatus {
	switch transport {
	case TransportHTTP:
		return probeHTTP(ctx, r.client, endpoint)
	case TransportWebSocket:
		return probeWebSocket(ctx, endpoint, r.probeCfg.Timeout)
	default:
		return HealthUnknown
	}
}

func probeHTTP(ctx context.Context, client *http.Client, endpoint string) HealthStatus {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health", nil)
	if err != nil {
		return HealthUnhealthy
	}
	resp, err := client.Do(req)
	if err != nil {
		return HealthUnhealthy
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return HealthUnhealthy
	}
	var body struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return HealthDegraded
	}
	if body.Status == "ok" {
		return HealthHealthy
	}
	return HealthDegraded
}

func discoverCapabilities(ctx context.Context, client *http.Client, endpoint string) (Capabilities, error) {
	tools, err := rpcListCall(ctx, client, endpoint, "tools/list")
	if err != nil {
		return Capabilities{}, err
	}
	resources, err := rpcListCall(ctx, client, endpoint, "resources/list")
	if err != nil {
		return Capabilities{}, err
	}
	return Capabilities{Tools: tools, Resources: resources}, nil
}

func rpcListCall(ctx context.Context, client *http.Client, endpoint, method string) ([]string, error) {
	envelope := map[string]interface{}{"jsonrpc": "2.0", "id": 1, "method": method}
	body, err := json.Marshal(envelope)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+"/mcp", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result struct {
		Result struct {
			Tools     []struct{ Name string `json:"name"` } `json:"tools"`
			Resources []struct{ URITemplate string `json:"uri_template"` } `json:"resources"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	var names []string
	for _, t := range result.Result.Tools {
		names = append(names, t.Name)
	}
	for _, rsrc := range result.Result.Resources {
		names = append(names, rsrc.URITemplate)
	}
	return names, nil
}
