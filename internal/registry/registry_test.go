package registry

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/dao/memory"
	"github.com/r3e-network/mcp-gateway/internal/logging"
	"github.com/r3e-network/mcp-gateway/internal/metrics"
)

func newTestRegistry(t *testing.T, cfg ProbeConfig) (*Registry, *memory.Store) {
	t.Helper()
	store := memory.New()
	reg := New(store, logging.New("test", "error", "json"), metrics.New(), cfg)
	t.Cleanup(reg.Shutdown)
	return reg, store
}

func TestRegisterAndFindByName(t *testing.T) {
	reg, _ := newTestRegistry(t, ProbeConfig{Interval: time.Hour, Timeout: time.Second})

	srv, err := reg.Register(context.Background(), RegisterInput{
		Name:        "files",
		EndpointURL: "http://files:3001",
		Transport:   TransportHTTP,
		Capabilities: Capabilities{Tools: []string{"read_file"}},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if srv.HealthStatus != HealthUnknown {
		t.Fatalf("HealthStatus = %v, want UNKNOWN immediately after registration", srv.HealthStatus)
	}

	found, err := reg.Find(context.Background(), Filter{Tools: []string{"read_file"}})
	if err != nil || len(found) != 1 || found[0].ID != srv.ID {
		t.Fatalf("Find() = %+v, %v, want exactly the registered server", found, err)
	}
}

func TestRegisterDuplicateNameFails(t *testing.T) {
	reg, _ := newTestRegistry(t, ProbeConfig{Interval: time.Hour, Timeout: time.Second})

	in := RegisterInput{Name: "files", EndpointURL: "http://files:3001", Transport: TransportHTTP}
	if _, err := reg.Register(context.Background(), in); err != nil {
		t.Fatalf("first Register() error = %v", err)
	}
	_, err := reg.Register(context.Background(), in)
	se := apperrors.GetServiceError(err)
	if se == nil || se.Code != apperrors.CodeAlreadyExists {
		t.Fatalf("second Register() error = %v, want CodeAlreadyExists", err)
	}
}

func TestUnregisterThenFindIsEmpty(t *testing.T) {
	reg, _ := newTestRegistry(t, ProbeConfig{Interval: time.Hour, Timeout: time.Second})

	srv, err := reg.Register(context.Background(), RegisterInput{Name: "files", EndpointURL: "http://files:3001", Transport: TransportHTTP})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Unregister(context.Background(), srv.ID); err != nil {
		t.Fatalf("Unregister() error = %v", err)
	}
	if _, err := reg.Get(context.Background(), srv.ID); apperrors.GetServiceError(err) == nil {
		t.Fatalf("Get() after Unregister() = %v, want not-found", err)
	}
}

func TestFindToolsRequiresIntersection(t *testing.T) {
	reg, _ := newTestRegistry(t, ProbeConfig{Interval: time.Hour, Timeout: time.Second})
	_, err := reg.Register(context.Background(), RegisterInput{
		Name: "s1", EndpointURL: "http://s1", Transport: TransportHTTP,
		Capabilities: Capabilities{Tools: []string{"read_file"}},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	found, err := reg.Find(context.Background(), Filter{Tools: []string{"read_file", "write_file"}})
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if len(found) != 0 {
		t.Fatalf("Find() = %d servers, want 0 (server lacks write_file)", len(found))
	}
}

func TestFindResourcesIsUnionPrefixMatch(t *testing.T) {
	reg, _ := newTestRegistry(t, ProbeConfig{Interval: time.Hour, Timeout: time.Second})
	srv, err := reg.Register(context.Background(), RegisterInput{
		Name: "s1", EndpointURL: "http://s1", Transport: TransportHTTP,
		Capabilities: Capabilities{Resources: []string{"file:///etc/"}},
	})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	found, err := reg.Find(context.Background(), Filter{Resources: []string{"http://", "file://"}})
	if err != nil || len(found) != 1 || found[0].ID != srv.ID {
		t.Fatalf("Find() = %+v, %v, want the server matched via the file:// pattern", found, err)
	}
}

func TestHealthProbeHTTPTransitionsToHealthy(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	}))
	t.Cleanup(ts.Close)

	reg, store := newTestRegistry(t, ProbeConfig{Interval: 10 * time.Millisecond, Timeout: time.Second})
	srv, err := reg.Register(context.Background(), RegisterInput{Name: "s1", EndpointURL: ts.URL, Transport: TransportHTTP})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetServer(context.Background(), srv.ID)
		if err == nil && got.HealthStatus == HealthHealthy {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("health status never transitioned to HEALTHY within the deadline")
}

func TestHealthProbeHTTPDegradedOnBadBody(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "degraded"})
	}))
	t.Cleanup(ts.Close)

	reg, store := newTestRegistry(t, ProbeConfig{Interval: 10 * time.Millisecond, Timeout: time.Second})
	srv, err := reg.Register(context.Background(), RegisterInput{Name: "s1", EndpointURL: ts.URL, Transport: TransportHTTP})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetServer(context.Background(), srv.ID)
		if err == nil && got.HealthStatus == HealthDegraded {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("health status never transitioned to DEGRADED within the deadline")
}

func TestHealthProbeHTTPUnhealthyOnNon2xx(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(ts.Close)

	reg, store := newTestRegistry(t, ProbeConfig{Interval: 10 * time.Millisecond, Timeout: time.Second})
	srv, err := reg.Register(context.Background(), RegisterInput{Name: "s1", EndpointURL: ts.URL, Transport: TransportHTTP})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		got, err := store.GetServer(context.Background(), srv.ID)
		if err == nil && got.HealthStatus == HealthUnhealthy {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("health status never transitioned to UNHEALTHY within the deadline")
}

func TestStdioTransportStaysUnknown(t *testing.T) {
	reg, store := newTestRegistry(t, ProbeConfig{Interval: 10 * time.Millisecond, Timeout: time.Second})
	srv, err := reg.Register(context.Background(), RegisterInput{Name: "s1", EndpointURL: "stdio://local", Transport: TransportStdio})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	got, err := store.GetServer(context.Background(), srv.ID)
	if err != nil {
		t.Fatalf("GetServer() error = %v", err)
	}
	if got.HealthStatus != HealthUnknown {
		t.Fatalf("HealthStatus = %v, want UNKNOWN for a stdio transport", got.HealthStatus)
	}
}

func TestRestoreRelaunchesProbes(t *testing.T) {
	store := memory.New()
	reg := New(store, logging.New("test", "error", "json"), metrics.New(), ProbeConfig{Interval: time.Hour, Timeout: time.Second})
	srv, err := reg.Register(context.Background(), RegisterInput{Name: "s1", EndpointURL: "http://s1", Transport: TransportHTTP})
	if err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	reg.Shutdown()

	reg2 := New(store, logging.New("test", "error", "json"), metrics.New(), ProbeConfig{Interval: time.Hour, Timeout: time.Second})
	t.Cleanup(reg2.Shutdown)
	if err := reg2.Restore(context.Background()); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}
	// A second Register for the same (tenant, name) would fail, so the
	// record is exactly the one Restore should still know about.
	got, err := reg2.Get(context.Background(), srv.ID)
	if err != nil || got.ID != srv.ID {
		t.Fatalf("Get() after Restore() = %+v, %v", got, err)
	}
	reg2.mu.Lock()
	probes := len(reg2.probes)
	reg2.mu.Unlock()
	if probes != 1 {
		t.Fatalf("probes after Restore() = %d, want 1", probes)
	}
}
