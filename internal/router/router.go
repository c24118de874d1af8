// Package router selects a candidate MCP server for a request: capability
// filtering, availability filtering against health and circuit state, then
// one of five load-balancing policies.
package router

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/breaker"
	"github.com/r3e-network/mcp-gateway/internal/registry"
	"github.com/r3e-network/mcp-gateway/internal/routermetrics"
)

type Policy string

const (
	PolicyRoundRobin       Policy = "ROUND_ROBIN"
	PolicyRandom           Policy = "RANDOM"
	PolicyLeastConnections Policy = "LEAST_CONNECTIONS"
	PolicyWeighted         Policy = "WEIGHTED"
	PolicyConsistentHash   Policy = "CONSISTENT_HASH"
)

// Request is the router's selection input.
type Request struct {
	Method            string
	RequiredTools     []string
	RequiredResources []string
	TenantID          *string
	UserID            string
}

var genericMethods = map[string]struct{}{
	"tools/list":     {},
	"resources/list": {},
	"ping":           {},
	"initialize":     {},
}

// Router selects servers by capability match, availability, and policy.
type Router struct {
	reg      *registry.Registry
	breakers *breaker.Registry
	tracker  *routermetrics.Tracker
	policy   Policy

	rrMu  sync.Mutex
	rrIdx uint64

	hashMu    sync.Mutex
	hashRing  map[string]*ring
	rng       *rand.Rand
	rngMu     sync.Mutex
}

func New(reg *registry.Registry, breakers *breaker.Registry, tracker *routermetrics.Tracker, policy Policy) *Router {
	return &Router{
		reg:      reg,
		breakers: breakers,
		tracker:  tracker,
		policy:   policy,
		hashRing: make(map[string]*ring),
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Route implements the selection pipeline from compatibility filtering
// through policy-driven choice.
func (r *Router) Route(ctx context.Context, req Request, exclude map[string]struct{}) (*registry.Server, error) {
	filter := registry.Filter{TenantID: req.TenantID}
	_, generic := genericMethods[req.Method]
	if !generic {
		filter.Tools = req.RequiredTools
		filter.Resources = req.RequiredResources
	}

	compatible, err := r.reg.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	if len(compatible) == 0 {
		return nil, apperrors.New("ROUTER_NO_COMPATIBLE_SERVER", "no server matches the requested capabilities", 503)
	}

	var available []*registry.Server
	for _, srv := range compatible {
		if exclude != nil {
			if _, excluded := exclude[srv.ID]; excluded {
				continue
			}
		}
		if srv.HealthStatus != registry.HealthHealthy {
			continue
		}
		if r.breakers.Get(srv.ID).Allow() != nil {
			continue
		}
		available = append(available, srv)
	}

	if len(available) == 0 {
		ids := make([]string, 0, len(compatible))
		for _, srv := range compatible {
			ids = append(ids, srv.ID)
		}
		return nil, apperrors.New("ROUTER_SERVER_UNAVAILABLE", "no healthy, circuit-closed server available", 503).
			WithDetails("compatible_ids", ids)
	}

	if len(available) == 1 {
		return available[0], nil
	}

	return r.selectByPolicy(available, req)
}

func (r *Router) selectByPolicy(candidates []*registry.Server, req Request) (*registry.Server, error) {
	switch r.policy {
	case PolicyRoundRobin:
		return r.roundRobin(candidates), nil
	case PolicyRandom:
		return r.random(candidates), nil
	case PolicyLeastConnections:
		return r.leastConnections(candidates), nil
	case PolicyConsistentHash:
		return r.consistentHash(candidates, req), nil
	case PolicyWeighted:
		return r.weighted(candidates), nil
	default:
		return r.weighted(candidates), nil
	}
}

func (r *Router) roundRobin(candidates []*registry.Server) *registry.Server {
	idx := atomic.AddUint64(&r.rrIdx, 1) - 1
	return candidates[int(idx%uint64(len(candidates)))]
}

func (r *Router) random(candidates []*registry.Server) *registry.Server {
	r.rngMu.Lock()
	defer r.rngMu.Unlock()
	return candidates[r.rng.Intn(len(candidates))]
}

func (r *Router) leastConnections(candidates []*registry.Server) *registry.Server {
	best := candidates[0]
	bestActive := r.tracker.ActiveConnections(best.ID)
	tied := []*registry.Server{best}

	for _, srv := range candidates[1:] {
		active := r.tracker.ActiveConnections(srv.ID)
		switch {
		case active < bestActive:
			best, bestActive = srv, active
			tied = []*registry.Server{srv}
		case active == bestActive:
			tied = append(tied, srv)
		}
	}
	if len(tied) == 1 {
		return tied[0]
	}
	return r.weighted(tied)
}

func (r *Router) weighted(candidates []*registry.Server) *registry.Server {
	type scored struct {
		srv   *registry.Server
		score float64
	}
	scores := make([]scored, len(candidates))
	for i, srv := range candidates {
		scores[i] = scored{srv: srv, score: r.tracker.Score(srv.ID)}
	}
	sort.Slice(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	top := (len(scores) + 1) / 2
	if top < 1 {
		top = 1
	}
	pool := scores[:top]

	var total float64
	for _, s := range pool {
		total += s.score
	}
	if total <= 0 {
		return pool[0].srv
	}

	r.rngMu.Lock()
	pick := r.rng.Float64() * total
	r.rngMu.Unlock()

	var cumulative float64
	for _, s := range pool {
		cumulative += s.score
		if pick <= cumulative {
			return s.srv
		}
	}
	return pool[len(pool)-1].srv
}

const virtualNodesPerServer = 100

type ring struct {
	nodes []ringNode
	ids   map[string]struct{}
}

type ringNode struct {
	hash     uint32
	serverID string
}

func buildRing(candidates []*registry.Server) *ring {
	nodes := make([]ringNode, 0, len(candidates)*virtualNodesPerServer)
	ids := make(map[string]struct{}, len(candidates))
	for _, srv := range candidates {
		ids[srv.ID] = struct{}{}
		for v := 0; v < virtualNodesPerServer; v++ {
			h := sha256.Sum256([]byte(fmt.Sprintf("%s#%d", srv.ID, v)))
			nodes = append(nodes, ringNode{hash: binary.BigEndian.Uint32(h[:4]), serverID: srv.ID})
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].hash < nodes[j].hash })
	return &ring{nodes: nodes, ids: ids}
}

func sameCandidateSet(rg *ring, candidates []*registry.Server) bool {
	if rg == nil || len(rg.ids) != len(candidates) {
		return false
	}
	for _, srv := range candidates {
		if _, ok := rg.ids[srv.ID]; !ok {
			return false
		}
	}
	return true
}

func (r *Router) consistentHash(candidates []*registry.Server, req Request) *registry.Server {
	tenant := "default"
	if req.TenantID != nil {
		tenant = *req.TenantID
	}
	user := req.UserID
	if user == "" {
		user = "anonymous"
	}
	key := tenant + ":" + user

	ringKey := tenant
	r.hashMu.Lock()
	rg, ok := r.hashRing[ringKey]
	if !ok || !sameCandidateSet(rg, candidates) {
		rg = buildRing(candidates)
		r.hashRing[ringKey] = rg
	}
	r.hashMu.Unlock()

	h := sha256.Sum256([]byte(key))
	target := binary.BigEndian.Uint32(h[:4])

	idx := sort.Search(len(rg.nodes), func(i int) bool { return rg.nodes[i].hash >= target })
	if idx == len(rg.nodes) {
		idx = 0
	}
	serverID := rg.nodes[idx].serverID
	for _, srv := range candidates {
		if srv.ID == serverID {
			return srv
		}
	}
	return candidates[0]
}

// RecordResult feeds outcome back into the metrics tracker and circuit
// breaker for the server that handled the request.
func (r *Router) RecordResult(serverID string, duration time.Duration, success bool) {
	r.tracker.RecordResult(serverID, duration, success)
	b := r.breakers.Get(serverID)
	if success {
		b.RecordSuccess()
	} else {
		b.RecordFailure()
	}
}

func (r *Router) IncrementConnections(serverID string) { r.tracker.IncrementConnections(serverID) }
func (r *Router) DecrementConnections(serverID string) { r.tracker.DecrementConnections(serverID) }

// Sweep drops metrics/ring state for servers no longer registered, or idle
// beyond maxIdle. Intended to run every 5 minutes.
func (r *Router) Sweep(ctx context.Context, maxIdle time.Duration) error {
	ids, err := r.reg.Find(ctx, registry.Filter{})
	if err != nil {
		return err
	}
	keep := make(map[string]struct{}, len(ids))
	for _, srv := range ids {
		keep[srv.ID] = struct{}{}
	}
	r.tracker.Sweep(keep, maxIdle)

	r.hashMu.Lock()
	for k := range r.hashRing {
		delete(r.hashRing, k)
	}
	r.hashMu.Unlock()
	return nil
}
