package router

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/r3e-network/mcp-gateway/internal/breaker"
	"github.com/r3e-network/mcp-gateway/internal/routermetrics"
)

func TestLeastConnectionsPicksTheServerWithFewestActiveConnections(t *testing.T) {
	reg, _ := newTestRegistry(t)
	s1 := registerServer(t, reg, "s1")
	s2 := registerServer(t, reg, "s2")
	s3 := registerServer(t, reg, "s3")

	tracker := routermetrics.New(routermetrics.DefaultScoreWeights())
	tracker.IncrementConnections(s1.ID)
	tracker.IncrementConnections(s1.ID)
	tracker.IncrementConnections(s3.ID)

	r := New(reg, breaker.NewRegistry(breaker.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute, SuccessThreshold: 1}),
		tracker, PolicyLeastConnections)

	srv, err := r.Route(context.Background(), Request{Method: "tools/list"}, nil)
	require.NoError(t, err)
	assert.Equal(t, s2.ID, srv.ID, "least-connections should skip s1 and s3, which both have active connections")
}

func TestConsistentHashIsStableForTheSameUserAndCandidateSet(t *testing.T) {
	reg, _ := newTestRegistry(t)
	registerServer(t, reg, "s1")
	registerServer(t, reg, "s2")
	registerServer(t, reg, "s3")

	tracker := routermetrics.New(routermetrics.DefaultScoreWeights())
	r := New(reg, breaker.NewRegistry(breaker.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute, SuccessThreshold: 1}),
		tracker, PolicyConsistentHash)

	req := Request{Method: "tools/list", UserID: "user-42"}

	first, err := r.Route(context.Background(), req, nil)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := r.Route(context.Background(), req, nil)
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID, "consistent hashing must route the same user to the same server while the candidate set is unchanged")
	}
}

func TestConsistentHashDiffersAcrossUsers(t *testing.T) {
	reg, _ := newTestRegistry(t)
	registerServer(t, reg, "s1")
	registerServer(t, reg, "s2")
	registerServer(t, reg, "s3")
	registerServer(t, reg, "s4")

	tracker := routermetrics.New(routermetrics.DefaultScoreWeights())
	r := New(reg, breaker.NewRegistry(breaker.Config{FailureThreshold: 5, RecoveryTimeout: time.Minute, SuccessThreshold: 1}),
		tracker, PolicyConsistentHash)

	seen := make(map[string]struct{})
	for _, user := range []string{"user-a", "user-b", "user-c", "user-d", "user-e"} {
		srv, err := r.Route(context.Background(), Request{Method: "tools/list", UserID: user}, nil)
		require.NoError(t, err)
		seen[srv.ID] = struct{}{}
	}
	assert.Greater(t, len(seen), 1, "distinct users should not all land on the exact same server")
}
