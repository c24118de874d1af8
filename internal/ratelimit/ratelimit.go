// Package ratelimit implements the gateway's multi-tier token-bucket limiter:
// DDoS quarantine, global, per-tenant (with a fairness window), per-user, and
// per-IP checks, short-circuiting on the first denial.
package ratelimit

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/dao"
	"github.com/r3e-network/mcp-gateway/internal/metrics"
	"github.com/r3e-network/mcp-gateway/internal/tenant"
)

// RoleLimits are the default requests-per-minute limits, keyed by role.
// Check sizes user and IP buckets at a fixed burst of twice the RPM.
var RoleLimits = map[tenant.Role]int{
	tenant.RoleAdmin:       1000,
	tenant.RoleServerOwner: 500,
	tenant.RoleUser:        100,
	tenant.RoleAnonymous:   20,
}

// Config bundles every tunable from spec §4.F.
type Config struct {
	Enabled bool

	GlobalRPM  int
	BurstFactor float64

	EnablePerTenant      bool
	TenantBaseRPM        int
	TenantMultiplier     float64
	FairnessWindow       time.Duration
	BurstAllowanceFactor float64

	EnableDDoSProtection bool
	DDoSThreshold        int64
	BanDuration          time.Duration
	CleanupInterval      time.Duration
}

// Decision is the result of a rate-limit check.
type Decision struct {
	Allowed    bool
	LimitType  string
	RetryAfter time.Duration
}

// Request carries the derived identity keys for a single check.
type Request struct {
	UserID   string
	TenantID string
	ClientIP string
	Role     tenant.Role
}

// fairnessEntry tracks one tenant's recent request timestamps for the
// sliding fairness window.
type fairnessEntry struct {
	mu         sync.Mutex
	timestamps []time.Time
	weight     float64
}

// Limiter enforces the tiered checks against a KV-backed bucket store, with
// an in-process fallback bucket used when the KV store is unavailable.
type Limiter struct {
	cfg   Config
	kv    dao.KVStore
	m     *metrics.Metrics

	fairnessMu sync.Mutex
	fairness   map[string]*fairnessEntry

	fallbackMu sync.Mutex
	fallback   map[string]*rate.Limiter
}

func New(cfg Config, kv dao.KVStore, m *metrics.Metrics) *Limiter {
	return &Limiter{
		cfg:      cfg,
		kv:       kv,
		m:        m,
		fairness: make(map[string]*fairnessEntry),
		fallback: make(map[string]*rate.Limiter),
	}
}

// Check runs the priority-ordered checks, short-circuiting on first denial.
func (l *Limiter) Check(ctx context.Context, req Request) (Decision, error) {
	if !l.cfg.Enabled {
		return Decision{Allowed: true}, nil
	}

	if l.cfg.EnableDDoSProtection && req.ClientIP != "" {
		banned, err := l.kv.IsBanned(ctx, req.ClientIP)
		if err == nil && banned {
			l.recordRejection("ddos")
			return Decision{Allowed: false, LimitType: "ddos", RetryAfter: l.cfg.BanDuration}, nil
		}
	}

	if d, err := l.checkBucket(ctx, "global:all", float64(l.cfg.GlobalRPM)*l.cfg.BurstFactor, float64(l.cfg.GlobalRPM)/60, "global"); err != nil || !d.Allowed {
		return d, err
	}

	if l.cfg.EnablePerTenant && req.TenantID != "" {
		if d := l.checkFairness(req.TenantID); !d.Allowed {
			l.recordRejection("tenant_fairness")
			l.onViolation(ctx, req.ClientIP)
			return d, nil
		}
		capacity := float64(l.cfg.TenantBaseRPM) * l.cfg.BurstFactor
		refill := float64(l.cfg.TenantBaseRPM) / 60
		if d, err := l.checkBucket(ctx, "tenant_advanced:"+req.TenantID, capacity, refill, "tenant"); err != nil || !d.Allowed {
			l.onViolation(ctx, req.ClientIP)
			return d, err
		}
	}

	if req.UserID != "" {
		rpm := RoleLimits[req.Role]
		if rpm == 0 {
			rpm = RoleLimits[tenant.RoleAnonymous]
		}
		capacity := float64(rpm) * 2.0
		refill := float64(rpm) / 60
		if d, err := l.checkBucket(ctx, "user:"+req.UserID, capacity, refill, "user"); err != nil || !d.Allowed {
			l.onViolation(ctx, req.ClientIP)
			return d, err
		}
	}

	if req.ClientIP != "" {
		rpm := RoleLimits[tenant.RoleAnonymous]
		capacity := float64(rpm) * 2.0
		refill := float64(rpm) / 60
		if d, err := l.checkBucket(ctx, "ip:"+req.ClientIP, capacity, refill, "ip"); err != nil || !d.Allowed {
			l.onViolation(ctx, req.ClientIP)
			return d, err
		}
	}

	return Decision{Allowed: true}, nil
}

func (l *Limiter) checkBucket(ctx context.Context, key string, capacity, refillRate float64, limitType string) (Decision, error) {
	result, err := l.kv.EvalBucket(ctx, key, capacity, refillRate, 1, time.Now())
	if err != nil {
		allowed, delay := l.fallbackReserve(key, capacity, refillRate)
		if !allowed {
			l.recordRejection(limitType)
			return Decision{Allowed: false, LimitType: limitType, RetryAfter: delay}, nil
		}
		return Decision{Allowed: true}, nil
	}
	if !result.Allowed {
		l.recordRejection(limitType)
		retryAfter := time.Duration(0)
		if refillRate > 0 {
			retryAfter = time.Duration((1 - result.CurrentTokens) / refillRate * float64(time.Second))
		}
		return Decision{Allowed: false, LimitType: limitType, RetryAfter: retryAfter}, nil
	}
	return Decision{Allowed: true}, nil
}

// fallbackReserve is the availability-over-correctness path taken when the
// KV store call itself errors: an in-process token bucket, keyed the same
// way as the shared one, that keeps serving traffic through a cache outage.
func (l *Limiter) fallbackReserve(key string, capacity, refillRate float64) (bool, time.Duration) {
	l.fallbackMu.Lock()
	lim, ok := l.fallback[key]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(refillRate), int(capacity))
		l.fallback[key] = lim
	}
	l.fallbackMu.Unlock()

	r := lim.Reserve()
	if !r.OK() {
		return false, 0
	}
	delay := r.Delay()
	if delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}

// checkFairness enforces the per-tenant sliding fairness window: if the
// tenant's count within the window already meets its burst allowance, deny.
func (l *Limiter) checkFairness(tenantID string) Decision {
	l.fairnessMu.Lock()
	entry, ok := l.fairness[tenantID]
	if !ok {
		entry = &fairnessEntry{weight: 1.0}
		l.fairness[tenantID] = entry
	}
	totalWeight := 0.0
	now := time.Now()
	for id, e := range l.fairness {
		e.mu.Lock()
		e.timestamps = pruneOld(e.timestamps, now, l.cfg.FairnessWindow)
		if len(e.timestamps) > 0 || id == tenantID {
			totalWeight += e.weight
		}
		e.mu.Unlock()
	}
	l.fairnessMu.Unlock()

	if totalWeight <= 0 {
		totalWeight = entry.weight
	}
	windowMinutes := l.cfg.FairnessWindow.Seconds() / 60
	fairShare := (entry.weight / totalWeight) * float64(l.cfg.GlobalRPM) * windowMinutes
	burstAllowance := fairShare * l.cfg.BurstAllowanceFactor

	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.timestamps = pruneOld(entry.timestamps, now, l.cfg.FairnessWindow)

	if float64(len(entry.timestamps)) >= burstAllowance {
		retryAfter := time.Duration(0)
		if fairShare > 0 {
			retryAfter = time.Duration(l.cfg.FairnessWindow.Seconds()/fairShare*float64(time.Second))
		}
		return Decision{Allowed: false, LimitType: "tenant_fairness", RetryAfter: retryAfter}
	}
	entry.timestamps = append(entry.timestamps, now)
	return Decision{Allowed: true}
}

func pruneOld(timestamps []time.Time, now time.Time, window time.Duration) []time.Time {
	cutoff := now.Add(-window)
	i := 0
	for ; i < len(timestamps); i++ {
		if timestamps[i].After(cutoff) {
			break
		}
	}
	return timestamps[i:]
}

func (l *Limiter) onViolation(ctx context.Context, clientIP string) {
	if !l.cfg.EnableDDoSProtection || clientIP == "" {
		return
	}
	count, err := l.kv.IncrDDoSCounter(ctx, clientIP, time.Hour)
	if err != nil {
		return
	}
	if count >= l.cfg.DDoSThreshold {
		_ = l.kv.BanIP(ctx, clientIP, l.cfg.BanDuration)
	}
}

func (l *Limiter) recordRejection(limitType string) {
	if l.m != nil {
		l.m.RateLimitRejectionsTotal.WithLabelValues(limitType).Inc()
	}
}

// Reset clears the bucket(s) and, for an IP key, its ban/DDoS counter.
func (l *Limiter) Reset(ctx context.Context, scope, id string) error {
	var key string
	switch scope {
	case "user":
		key = "user:" + id
	case "tenant":
		key = "tenant_advanced:" + id
	case "ip":
		key = "ip:" + id
		if err := l.kv.UnbanIP(ctx, id); err != nil {
			return err
		}
	default:
		return apperrors.InvalidInput("scope", "must be one of user, tenant, ip")
	}
	return l.kv.ResetBucket(ctx, key)
}

// Status returns bucket utilization for diagnostics.
func (l *Limiter) Status(ctx context.Context, key string) (dao.BucketState, bool, error) {
	return l.kv.BucketStatus(ctx, key)
}

// Cleanup evicts stale fairness-window entries; intended to run on
// cfg.CleanupInterval alongside the KV store's own bucket/DDoS eviction.
func (l *Limiter) Cleanup() {
	l.fairnessMu.Lock()
	defer l.fairnessMu.Unlock()
	now := time.Now()
	for id, e := range l.fairness {
		e.mu.Lock()
		e.timestamps = pruneOld(e.timestamps, now, l.cfg.FairnessWindow)
		empty := len(e.timestamps) == 0
		e.mu.Unlock()
		if empty {
			delete(l.fairness, id)
		}
	}
}
