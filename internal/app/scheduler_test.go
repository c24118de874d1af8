package app

import (
	"testing"
	"time"

	"github.com/r3e-network/mcp-gateway/internal/breaker"
	"github.com/r3e-network/mcp-gateway/internal/dao/memory"
	"github.com/r3e-network/mcp-gateway/internal/logging"
	"github.com/r3e-network/mcp-gateway/internal/metrics"
	"github.com/r3e-network/mcp-gateway/internal/ratelimit"
	"github.com/r3e-network/mcp-gateway/internal/registry"
	"github.com/r3e-network/mcp-gateway/internal/router"
	"github.com/r3e-network/mcp-gateway/internal/routermetrics"
)

func TestNewSchedulerRegistersSweepAndCleanupJobs(t *testing.T) {
	log := logging.New("test", "error", "json")
	store := memory.New()
	reg := registry.New(store, log, metrics.New(), registry.ProbeConfig{Interval: time.Hour, Timeout: time.Millisecond})
	t.Cleanup(reg.Shutdown)

	rtr := router.New(reg, breaker.NewRegistry(breaker.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute, SuccessThreshold: 1}),
		routermetrics.New(routermetrics.ScoreWeights{Health: 1}), router.PolicyRoundRobin)
	limiter := ratelimit.New(ratelimit.Config{Enabled: true, FairnessWindow: time.Minute}, store, nil)

	sched, err := newSchedulerWithIntervals(log, rtr, limiter, time.Hour, time.Hour, 0)
	if err != nil {
		t.Fatalf("newSchedulerWithIntervals() error = %v", err)
	}
	if got := len(sched.cron.Entries()); got != 2 {
		t.Fatalf("cron.Entries() = %d, want 2 (router sweep, ratelimit cleanup)", got)
	}
}

func TestSchedulerRunsSweepAndCleanupOnShortInterval(t *testing.T) {
	log := logging.New("test", "error", "json")
	store := memory.New()
	reg := registry.New(store, log, metrics.New(), registry.ProbeConfig{Interval: time.Hour, Timeout: time.Millisecond})
	t.Cleanup(reg.Shutdown)

	tracker := routermetrics.New(routermetrics.ScoreWeights{Health: 1})
	rtr := router.New(reg, breaker.NewRegistry(breaker.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute, SuccessThreshold: 1}),
		tracker, router.PolicyRoundRobin)
	tracker.RecordResult("ghost-server", time.Millisecond, true)

	limiter := ratelimit.New(ratelimit.Config{Enabled: true, FairnessWindow: time.Millisecond}, store, nil)

	sched, err := newSchedulerWithIntervals(log, rtr, limiter, 10*time.Millisecond, time.Millisecond, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("newSchedulerWithIntervals() error = %v", err)
	}
	sched.Start()
	defer sched.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if _, ok := tracker.Snapshot()["ghost-server"]; !ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("router sweep never evicted the unregistered server's metrics")
}
