// Package dao defines the narrow relational + key-value contract the core
// consumes. Concrete stores live in internal/dao/postgres,
// internal/dao/rediskv, and internal/dao/memory.
package dao

import (
	"context"
	"time"

	"github.com/r3e-network/mcp-gateway/internal/apikey"
	"github.com/r3e-network/mcp-gateway/internal/audit"
	"github.com/r3e-network/mcp-gateway/internal/registry"
	"github.com/r3e-network/mcp-gateway/internal/tenant"
)

// RelationalStore is the narrow interface over server/tool/resource/tenant/
// user/API-key/audit persistence.
type RelationalStore interface {
	RegisterServer(ctx context.Context, in registry.RegisterInput) (*registry.Server, error)
	UpdateServer(ctx context.Context, id string, mutate func(*registry.Server)) (*registry.Server, error)
	DeleteServer(ctx context.Context, id string) error
	GetServer(ctx context.Context, id string) (*registry.Server, error)
	FindServers(ctx context.Context, filter registry.Filter) ([]*registry.Server, error)
	MarkServerHealth(ctx context.Context, id string, status registry.HealthStatus, ts time.Time) error
	ListServerIDs(ctx context.Context) ([]string, error)

	ReplaceTools(ctx context.Context, serverID string, tools []registry.Tool) error
	ReplaceResources(ctx context.Context, serverID string, resources []registry.Resource) error
	ToolsByServer(ctx context.Context, serverID string) ([]registry.Tool, error)
	ResourcesByServer(ctx context.Context, serverID string) ([]registry.Resource, error)

	GetTenant(ctx context.Context, id string) (*tenant.Tenant, error)
	GetUser(ctx context.Context, id string) (*tenant.User, error)

	APIKeyByHash(ctx context.Context, hash string) (*apikey.APIKey, *tenant.User, error)
	TouchAPIKey(ctx context.Context, id string, ts time.Time) error

	AppendAudit(ctx context.Context, record audit.Record) error

	HealthCheck(ctx context.Context) error
	Close() error
}

// BucketState is the externalized rate-limit bucket shape persisted in the
// KV store.
type BucketState struct {
	Tokens     float64
	Capacity   float64
	RefillRate float64
	LastRefill time.Time
}

// BucketResult is returned by the atomic bucket evaluation.
type BucketResult struct {
	Allowed       bool
	CurrentTokens float64
	Capacity      float64
	RefillRate    float64
	Elapsed       time.Duration
}

// KVStore is the narrow interface over rate-limit buckets, DDoS counters,
// and the API-key validation cache.
type KVStore interface {
	// EvalBucket atomically applies the token-bucket update algorithm for
	// key, consuming `requested` tokens if available. capacity/refillRate
	// seed a bucket that does not yet exist.
	EvalBucket(ctx context.Context, key string, capacity, refillRate, requested float64, now time.Time) (BucketResult, error)
	ResetBucket(ctx context.Context, key string) error
	BucketStatus(ctx context.Context, key string) (BucketState, bool, error)

	IncrDDoSCounter(ctx context.Context, ip string, window time.Duration) (int64, error)
	BanIP(ctx context.Context, ip string, d time.Duration) error
	IsBanned(ctx context.Context, ip string) (bool, error)
	UnbanIP(ctx context.Context, ip string) error

	CacheAPIKeyResult(ctx context.Context, hash string, valid bool, ttl time.Duration, payload []byte) error
	GetCachedAPIKeyResult(ctx context.Context, hash string) (found bool, valid bool, payload []byte, err error)

	Close() error
}

// Store bundles the relational and KV halves the core depends on.
type Store struct {
	Relational RelationalStore
	KV         KVStore
}
