// Package rediskv implements the gateway's KV store contract (rate-limit
// buckets, DDoS counters, API-key cache) on top of go-redis.
package rediskv

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/r3e-network/mcp-gateway/internal/apperrors"
	"github.com/r3e-network/mcp-gateway/internal/dao"
)

// bucketScript applies the token-bucket update algorithm from the rate
// limiter's critical path atomically: refill, clamp to capacity, attempt to
// consume, persist. Lua execution in Redis is single-threaded per key, so
// this closes the race between two concurrent callers both observing the
// last token as available.
const bucketScript = `
local key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill_rate = tonumber(ARGV[2])
local requested = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local data = redis.call("HMGET", key, "tokens", "last_refill")
local tokens = tonumber(data[1])
local last_refill = tonumber(data[2])

if tokens == nil then
  tokens = capacity
  last_refill = now
end

local elapsed = now - last_refill
if elapsed < 0 then elapsed = 0 end

tokens = tokens + (elapsed * refill_rate)
if tokens > capacity then tokens = capacity end

local allowed = 0
if tokens >= requested then
  tokens = tokens - requested
  allowed = 1
end

redis.call("HMSET", key, "tokens", tostring(tokens), "last_refill", tostring(now), "capacity", tostring(capacity), "refill_rate", tostring(refill_rate))
redis.call("EXPIRE", key, 86400)

return {allowed, tostring(tokens), tostring(elapsed)}
`

// Store implements dao.KVStore against a single Redis instance.
type Store struct {
	client *redis.Client
	script *redis.Script
}

func New(client *redis.Client) *Store {
	return &Store{client: client, script: redis.NewScript(bucketScript)}
}

var _ dao.KVStore = (*Store)(nil)

func (s *Store) Close() error { return s.client.Close() }

func (s *Store) EvalBucket(ctx context.Context, key string, capacity, refillRate, requested float64, now time.Time) (dao.BucketResult, error) {
	res, err := s.script.Run(ctx, s.client, []string{bucketKey(key)},
		capacity, refillRate, requested, float64(now.UnixNano())/1e9).Result()
	if err != nil {
		return dao.BucketResult{}, apperrors.Internal("eval rate-limit bucket", err)
	}

	list, ok := res.([]interface{})
	if !ok || len(list) != 3 {
		return dao.BucketResult{}, apperrors.Internal("eval rate-limit bucket", fmt.Errorf("unexpected script result: %v", res))
	}

	allowed, _ := list[0].(int64)
	var tokens, elapsed float64
	fmt.Sscanf(fmt.Sprint(list[1]), "%f", &tokens)
	fmt.Sscanf(fmt.Sprint(list[2]), "%f", &elapsed)

	return dao.BucketResult{
		Allowed:       allowed == 1,
		CurrentTokens: tokens,
		Capacity:      capacity,
		RefillRate:    refillRate,
		Elapsed:       time.Duration(elapsed * float64(time.Second)),
	}, nil
}

func (s *Store) ResetBucket(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, bucketKey(key)).Err(); err != nil {
		return apperrors.Internal("reset bucket", err)
	}
	return nil
}

func (s *Store) BucketStatus(ctx context.Context, key string) (dao.BucketState, bool, error) {
	vals, err := s.client.HGetAll(ctx, bucketKey(key)).Result()
	if err != nil {
		return dao.BucketState{}, false, apperrors.Internal("bucket status", err)
	}
	if len(vals) == 0 {
		return dao.BucketState{}, false, nil
	}
	var st dao.BucketState
	fmt.Sscanf(vals["tokens"], "%f", &st.Tokens)
	fmt.Sscanf(vals["capacity"], "%f", &st.Capacity)
	fmt.Sscanf(vals["refill_rate"], "%f", &st.RefillRate)
	var lastRefillUnix float64
	fmt.Sscanf(vals["last_refill"], "%f", &lastRefillUnix)
	st.LastRefill = time.Unix(0, int64(lastRefillUnix*float64(time.Second)))
	return st, true, nil
}

func (s *Store) IncrDDoSCounter(ctx context.Context, ip string, window time.Duration) (int64, error) {
	key := ddosKey(ip)
	n, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, apperrors.Internal("incr ddos counter", err)
	}
	if n == 1 {
		s.client.Expire(ctx, key, window)
	}
	return n, nil
}

func (s *Store) BanIP(ctx context.Context, ip string, d time.Duration) error {
	if err := s.client.Set(ctx, banKey(ip), "1", d).Err(); err != nil {
		return apperrors.Internal("ban ip", err)
	}
	return nil
}

func (s *Store) IsBanned(ctx context.Context, ip string) (bool, error) {
	n, err := s.client.Exists(ctx, banKey(ip)).Result()
	if err != nil {
		return false, apperrors.Internal("check ban", err)
	}
	return n > 0, nil
}

func (s *Store) UnbanIP(ctx context.Context, ip string) error {
	if err := s.client.Del(ctx, banKey(ip)).Err(); err != nil {
		return apperrors.Internal("unban ip", err)
	}
	return nil
}

func (s *Store) CacheAPIKeyResult(ctx context.Context, hash string, valid bool, ttl time.Duration, payload []byte) error {
	entry := struct {
		Valid   bool            `json:"valid"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}{Valid: valid, Payload: payload}
	data, err := json.Marshal(entry)
	if err != nil {
		return apperrors.Internal("marshal apikey cache entry", err)
	}
	if err := s.client.Set(ctx, apiKeyCacheKey(hash), data, ttl).Err(); err != nil {
		return apperrors.Internal("cache apikey result", err)
	}
	return nil
}

func (s *Store) GetCachedAPIKeyResult(ctx context.Context, hash string) (bool, bool, []byte, error) {
	data, err := s.client.Get(ctx, apiKeyCacheKey(hash)).Bytes()
	if err == redis.Nil {
		return false, false, nil, nil
	}
	if err != nil {
		return false, false, nil, apperrors.Internal("get cached apikey result", err)
	}
	var entry struct {
		Valid   bool            `json:"valid"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}
	if err := json.Unmarshal(data, &entry); err != nil {
		return false, false, nil, apperrors.Internal("decode cached apikey result", err)
	}
	return true, entry.Valid, entry.Payload, nil
}

func bucketKey(key string) string      { return "gw:bucket:" + key }
func ddosKey(ip string) string         { return "gw:ddos:" + ip }
func banKey(ip string) string          { return "gw:ban:" + ip }
func apiKeyCacheKey(hash string) string { return "gw:apikey:" + hash }
