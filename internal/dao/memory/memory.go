// Package memory is an in-memory implementation of dao.RelationalStore and
// dao.KVStore, safe for concurrent use. It backs package tests across the
// gateway and is never wired into cmd/gateway.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/r3e-network/mcp-gateway/internal/apikey"
	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/audit"
	"github.com/r3e-network/mcp-gateway/internal/dao"
	"github.com/r3e-network/mcp-gateway/internal/registry"
	"github.com/r3e-network/mcp-gateway/internal/tenant"
)

// Store implements both halves of the DAO contract over plain Go maps.
type Store struct {
	mu sync.RWMutex

	servers   map[string]*registry.Server
	tools     map[string][]registry.Tool
	resources map[string][]registry.Resource
	tenants   map[string]tenant.Tenant
	users     map[string]tenant.User
	apikeys   map[string]apikeyRow // keyed by hash
	audit     []audit.Record

	buckets map[string]dao.BucketState
	ddos    map[string]ddosCounter
	bans    map[string]time.Time
	apiCache map[string]apiCacheEntry
}

type apikeyRow struct {
	key apikey.APIKey
}

type ddosCounter struct {
	count  int64
	expiry time.Time
}

type apiCacheEntry struct {
	valid   bool
	payload []byte
	expiry  time.Time
}

func New() *Store {
	return &Store{
		servers:   make(map[string]*registry.Server),
		tools:     make(map[string][]registry.Tool),
		resources: make(map[string][]registry.Resource),
		tenants:   make(map[string]tenant.Tenant),
		users:     make(map[string]tenant.User),
		apikeys:   make(map[string]apikeyRow),
		buckets:   make(map[string]dao.BucketState),
		ddos:      make(map[string]ddosCounter),
		bans:      make(map[string]time.Time),
		apiCache:  make(map[string]apiCacheEntry),
	}
}

var _ dao.RelationalStore = (*Store)(nil)
var _ dao.KVStore = (*Store)(nil)

func cloneServer(s *registry.Server) *registry.Server {
	clone := *s
	clone.Tags = registry.NewTagSet(s.Tags.Slice()...)
	clone.Capabilities = registry.Capabilities{
		Tools:     append([]string(nil), s.Capabilities.Tools...),
		Resources: append([]string(nil), s.Capabilities.Resources...),
	}
	return &clone
}

// Seed helpers, used directly by tests that need a tenant/user fixture.

func (s *Store) SeedTenant(t tenant.Tenant) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tenants[t.ID] = t
}

func (s *Store) SeedUser(u tenant.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

func (s *Store) SeedAPIKey(key apikey.APIKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apikeys[key.Hash] = apikeyRow{key: key}
}

// RelationalStore ------------------------------------------------------------

func (s *Store) RegisterServer(ctx context.Context, in registry.RegisterInput) (*registry.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, srv := range s.servers {
		if srv.Name == in.Name && equalTenant(srv.TenantID, in.TenantID) {
			return nil, apperrors.AlreadyExists("server", in.Name)
		}
	}

	now := time.Now().UTC()
	srv := &registry.Server{
		ID:           uuid.New().String(),
		TenantID:     in.TenantID,
		Name:         in.Name,
		DisplayName:  in.DisplayName,
		Version:      in.Version,
		EndpointURL:  in.EndpointURL,
		Transport:    in.Transport,
		Capabilities: in.Capabilities,
		Tags:         registry.NewTagSet(in.Tags...),
		HealthStatus: registry.HealthUnknown,
		RegisteredBy: in.RegisteredBy,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	s.servers[srv.ID] = srv
	return cloneServer(srv), nil
}

func equalTenant(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *Store) UpdateServer(ctx context.Context, id string, mutate func(*registry.Server)) (*registry.Server, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv, ok := s.servers[id]
	if !ok {
		return nil, apperrors.NotFound("server", id)
	}
	working := cloneServer(srv)
	mutate(working)
	working.UpdatedAt = time.Now().UTC()
	s.servers[id] = working
	return cloneServer(working), nil
}

func (s *Store) DeleteServer(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.servers[id]; !ok {
		return apperrors.NotFound("server", id)
	}
	delete(s.servers, id)
	delete(s.tools, id)
	delete(s.resources, id)
	return nil
}

func (s *Store) GetServer(ctx context.Context, id string) (*registry.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	srv, ok := s.servers[id]
	if !ok {
		return nil, apperrors.NotFound("server", id)
	}
	return cloneServer(srv), nil
}

func (s *Store) FindServers(ctx context.Context, filter registry.Filter) ([]*registry.Server, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*registry.Server, 0, len(s.servers))
	for _, srv := range s.servers {
		if filter.TenantID != nil && !equalTenant(srv.TenantID, filter.TenantID) {
			continue
		}
		if filter.HealthStatus != "" && srv.HealthStatus != filter.HealthStatus {
			continue
		}
		if len(filter.Tags) > 0 && !srv.Tags.HasAll(filter.Tags...) {
			continue
		}
		if len(filter.Tools) > 0 && !hasAllStrings(srv.Capabilities.Tools, filter.Tools) {
			continue
		}
		if len(filter.Resources) > 0 && !hasAnyPrefix(srv.Capabilities.Resources, filter.Resources) {
			continue
		}
		out = append(out, cloneServer(srv))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func hasAllStrings(have, want []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, h := range have {
		set[h] = struct{}{}
	}
	for _, w := range want {
		if _, ok := set[w]; !ok {
			return false
		}
	}
	return true
}

func hasAnyPrefix(have, patterns []string) bool {
	for _, h := range have {
		for _, p := range patterns {
			if len(p) <= len(h) && h[:len(p)] == p {
				return true
			}
		}
	}
	return false
}

func (s *Store) MarkServerHealth(ctx context.Context, id string, status registry.HealthStatus, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	srv, ok := s.servers[id]
	if !ok {
		return apperrors.NotFound("server", id)
	}
	working := cloneServer(srv)
	working.HealthStatus = status
	working.LastHealthCheck = &ts
	s.servers[id] = working
	return nil
}

func (s *Store) ListServerIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.servers))
	for id := range s.servers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *Store) ReplaceTools(ctx context.Context, serverID string, tools []registry.Tool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tools[serverID] = append([]registry.Tool(nil), tools...)
	return nil
}

func (s *Store) ReplaceResources(ctx context.Context, serverID string, resources []registry.Resource) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resources[serverID] = append([]registry.Resource(nil), resources...)
	return nil
}

func (s *Store) ToolsByServer(ctx context.Context, serverID string) ([]registry.Tool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]registry.Tool(nil), s.tools[serverID]...), nil
}

func (s *Store) ResourcesByServer(ctx context.Context, serverID string) ([]registry.Resource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]registry.Resource(nil), s.resources[serverID]...), nil
}

func (s *Store) GetTenant(ctx context.Context, id string) (*tenant.Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[id]
	if !ok {
		return nil, apperrors.NotFound("tenant", id)
	}
	return &t, nil
}

func (s *Store) GetUser(ctx context.Context, id string) (*tenant.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, apperrors.NotFound("user", id)
	}
	return &u, nil
}

func (s *Store) APIKeyByHash(ctx context.Context, hash string) (*apikey.APIKey, *tenant.User, error) {
	s.mu.RLock()
	row, ok := s.apikeys[hash]
	s.mu.RUnlock()
	if !ok {
		return nil, nil, apperrors.InvalidAPIKey()
	}
	user, err := s.GetUser(ctx, row.key.UserID)
	if err != nil {
		return nil, nil, err
	}
	key := row.key
	return &key, user, nil
}

func (s *Store) TouchAPIKey(ctx context.Context, id string, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for hash, row := range s.apikeys {
		if row.key.ID == id {
			row.key.LastUsedAt = &ts
			s.apikeys[hash] = row
			return nil
		}
	}
	return apperrors.NotFound("api_key", id)
}

func (s *Store) AppendAudit(ctx context.Context, record audit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.RequestID == "" {
		record.RequestID = uuid.New().String()
	}
	s.audit = append(s.audit, record)
	return nil
}

// AuditRecords returns a snapshot of everything appended, for test assertions.
func (s *Store) AuditRecords() []audit.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]audit.Record(nil), s.audit...)
}

func (s *Store) HealthCheck(ctx context.Context) error { return nil }
func (s *Store) Close() error                          { return nil }

// KVStore ---------------------------------------------------------------------

func (s *Store) EvalBucket(ctx context.Context, key string, capacity, refillRate, requested float64, now time.Time) (dao.BucketResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.buckets[key]
	if !ok {
		st = dao.BucketState{Tokens: capacity, Capacity: capacity, RefillRate: refillRate, LastRefill: now}
	}

	elapsed := now.Sub(st.LastRefill)
	if elapsed < 0 {
		elapsed = 0
	}
	tokens := st.Tokens + elapsed.Seconds()*refillRate
	if tokens > capacity {
		tokens = capacity
	}

	allowed := false
	if tokens >= requested {
		tokens -= requested
		allowed = true
	}

	s.buckets[key] = dao.BucketState{Tokens: tokens, Capacity: capacity, RefillRate: refillRate, LastRefill: now}
	return dao.BucketResult{
		Allowed:       allowed,
		CurrentTokens: tokens,
		Capacity:      capacity,
		RefillRate:    refillRate,
		Elapsed:       elapsed,
	}, nil
}

func (s *Store) ResetBucket(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets, key)
	return nil
}

func (s *Store) BucketStatus(ctx context.Context, key string) (dao.BucketState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.buckets[key]
	return st, ok, nil
}

func (s *Store) IncrDDoSCounter(ctx context.Context, ip string, window time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	c, ok := s.ddos[ip]
	if !ok || now.After(c.expiry) {
		c = ddosCounter{count: 0, expiry: now.Add(window)}
	}
	c.count++
	s.ddos[ip] = c
	return c.count, nil
}

func (s *Store) BanIP(ctx context.Context, ip string, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bans[ip] = time.Now().Add(d)
	return nil
}

func (s *Store) IsBanned(ctx context.Context, ip string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	until, ok := s.bans[ip]
	if !ok {
		return false, nil
	}
	return time.Now().Before(until), nil
}

func (s *Store) UnbanIP(ctx context.Context, ip string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.bans, ip)
	return nil
}

func (s *Store) CacheAPIKeyResult(ctx context.Context, hash string, valid bool, ttl time.Duration, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiCache[hash] = apiCacheEntry{valid: valid, payload: payload, expiry: time.Now().Add(ttl)}
	return nil
}

func (s *Store) GetCachedAPIKeyResult(ctx context.Context, hash string) (bool, bool, []byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.apiCache[hash]
	if !ok || time.Now().After(entry.expiry) {
		return false, false, nil, nil
	}
	return true, entry.valid, entry.payload, nil
}
