package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"
	"time"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/dao"
	"github.com/r3e-network/mcp-gateway/internal/tenant"
)

const (
	apiKeyPrefix      = "mcp_"
	positiveCacheTTL  = 300 * time.Second
	negativeCacheTTL  = 60 * time.Second
)

// cachedResult is what gets JSON-marshaled into the KV store's short-TTL
// API-key cache, keyed by the key's hash.
type cachedResult struct {
	Valid   bool          `json:"valid"`
	Context tenant.Context `json:"context"`
}

// APIKeyAuthenticator implements the API-key leg of the dual auth described
// in the auth pipeline: hash, cache lookup, store lookup, cache write.
type APIKeyAuthenticator struct {
	store dao.RelationalStore
	cache dao.KVStore
}

func NewAPIKeyAuthenticator(store dao.RelationalStore, cache dao.KVStore) *APIKeyAuthenticator {
	return &APIKeyAuthenticator{store: store, cache: cache}
}

// ExtractKey pulls a candidate API key from the x-api-key header or a
// Bearer token beginning with mcp_. Returns "" if neither is present.
func ExtractKey(xAPIKey, authorization string) string {
	if xAPIKey != "" {
		return xAPIKey
	}
	if strings.HasPrefix(authorization, "Bearer ") {
		token := strings.TrimPrefix(authorization, "Bearer ")
		if strings.HasPrefix(token, apiKeyPrefix) {
			return token
		}
	}
	return ""
}

// Authenticate validates the raw key and, on success, returns a populated
// user context. A negative result is cached to shed repeated invalid-key
// load; a positive result is cached briefly to skip the DB round trip.
func (a *APIKeyAuthenticator) Authenticate(ctx context.Context, rawKey string) (tenant.Context, error) {
	hash := hashKey(rawKey)

	if found, valid, payload, err := a.cache.GetCachedAPIKeyResult(ctx, hash); err == nil && found {
		if !valid {
			return tenant.Context{}, apperrors.InvalidAPIKey()
		}
		var cached cachedResult
		if jsonErr := json.Unmarshal(payload, &cached); jsonErr == nil {
			return cached.Context, nil
		}
	}

	key, user, err := a.store.APIKeyByHash(ctx, hash)
	if err != nil || key == nil || user == nil {
		a.cacheNegative(ctx, hash)
		return tenant.Context{}, apperrors.InvalidAPIKey()
	}
	if !key.Usable(time.Now()) {
		a.cacheNegative(ctx, hash)
		return tenant.Context{}, apperrors.InvalidAPIKey()
	}

	userCtx := tenant.Context{
		UserID:      user.ID,
		Email:       user.Email,
		Role:        user.Role,
		APIKeyID:    key.ID,
		Permissions: key.Scopes,
		RateLimit:   key.RateLimit,
	}
	if key.TenantID != nil {
		userCtx.TenantID = *key.TenantID
	} else if user.TenantID != nil {
		userCtx.TenantID = *user.TenantID
	}

	_ = a.store.TouchAPIKey(ctx, key.ID, time.Now())
	a.cachePositive(ctx, hash, userCtx)

	return userCtx, nil
}

func (a *APIKeyAuthenticator) cachePositive(ctx context.Context, hash string, userCtx tenant.Context) {
	payload, err := json.Marshal(cachedResult{Valid: true, Context: userCtx})
	if err != nil {
		return
	}
	_ = a.cache.CacheAPIKeyResult(ctx, hash, true, positiveCacheTTL, payload)
}

func (a *APIKeyAuthenticator) cacheNegative(ctx context.Context, hash string) {
	_ = a.cache.CacheAPIKeyResult(ctx, hash, false, negativeCacheTTL, nil)
}

func hashKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}
