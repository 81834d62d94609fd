package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/relayhub/relayhub/common"
	"github.com/relayhub/relayhub/dto"
	"github.com/relayhub/relayhub/logger"
	"github.com/relayhub/relayhub/types"

	"github.com/tidwall/gjson"
	"golang.org/x/sync/singleflight"
)

const (
	ResponseCachePrefix    = "response_cache:"
	ResponseInflightPrefix = "response_inflight:"
)

// CachedResponse is a fully collected upstream success, small enough to keep
// for a few minutes. Streaming responses get here only after full collection.
type CachedResponse struct {
	StatusCode  int       `json:"status_code"`
	ContentType string    `json:"content_type"`
	Body        []byte    `json:"body"`
	Usage       dto.Usage `json:"usage"`
	CachedAt    int64     `json:"cached_at"`
}

// FetchFunc performs the actual upstream round trip.
type FetchFunc func() (*CachedResponse, *types.RelayError)

var fetchGroup singleflight.Group

// Process-local cache used when Redis is disabled.
var localCacheLock sync.Mutex
var localCache = map[string]localCacheEntry{}

type localCacheEntry struct {
	response  *CachedResponse
	expiresAt int64
}

func getResponseCacheKey(fingerprint string) string {
	return ResponseCachePrefix + fingerprint
}

func getInflightKey(fingerprint string) string {
	return ResponseInflightPrefix + fingerprint
}

// GetOrFetch deduplicates identical concurrent requests and serves short-lived
// cached successes. The second return value reports a cache hit.
//
// Coalescing rule: concurrent callers with the same fingerprint wait for the
// first caller's result. A success is shared; a failure is not — each waiter
// re-invokes fetch itself rather than inheriting someone else's transient
// error, while the caller that executed the fetch surfaces its own failure.
func GetOrFetch(ctx context.Context, fingerprint string, fetch FetchFunc) (*CachedResponse, bool, *types.RelayError) {
	if !common.ResponseCacheEnabled || fingerprint == "" {
		resp, err := fetch()
		return resp, false, err
	}

	if cached := cacheLookup(fingerprint); cached != nil {
		logger.LogDebug(ctx, "response cache hit: ", fingerprint)
		return cached, true, nil
	}

	// In-process arm: collapse duplicate goroutines before touching the store.
	type fetchResult struct {
		response *CachedResponse
		relayErr *types.RelayError
		hit      bool
	}
	// shared from singleflight is true for the executor too once anyone
	// joined, so a caller-local flag tells waiters apart from the executor.
	executed := false
	v, _, _ := fetchGroup.Do(fingerprint, func() (interface{}, error) {
		executed = true
		resp, hit, relayErr := fetchThroughTicket(ctx, fingerprint, fetch)
		return fetchResult{response: resp, relayErr: relayErr, hit: hit}, nil
	})
	result := v.(fetchResult)

	if result.relayErr != nil && !executed {
		// someone else's failure landed on us; try independently
		logger.LogDebug(ctx, "coalesced fetch failed, retrying independently: ", fingerprint)
		resp, relayErr := fetch()
		if relayErr == nil {
			cacheStore(ctx, fingerprint, resp)
		}
		return resp, false, relayErr
	}
	return result.response, result.hit, result.relayErr
}

// fetchThroughTicket is the cross-process arm: an in-flight ticket in the
// shared store marks that some process is already executing this fingerprint.
func fetchThroughTicket(ctx context.Context, fingerprint string, fetch FetchFunc) (*CachedResponse, bool, *types.RelayError) {
	if !common.RedisEnabled {
		resp, relayErr := fetch()
		if relayErr == nil {
			cacheStore(ctx, fingerprint, resp)
		}
		return resp, false, relayErr
	}

	ticketTTL := time.Duration(common.RelayTimeoutSeconds+10) * time.Second
	won, err := common.RedisSetNX(getInflightKey(fingerprint), common.GetRequestId(), ticketTTL)
	if err != nil {
		common.SysError("in-flight ticket write failed: " + err.Error())
		won = true // degrade to an uncoalesced fetch
	}

	if won {
		resp, relayErr := fetch()
		if relayErr == nil {
			cacheStore(ctx, fingerprint, resp)
		}
		_ = common.RedisDel(getInflightKey(fingerprint))
		return resp, false, relayErr
	}

	// Ticket held elsewhere: wait for the cache entry or the ticket to vanish.
	deadline := time.Now().Add(ticketTTL)
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, false, types.NewRelayError(499, types.ErrorCodeInvalidRequest, "client closed request")
		case <-ticker.C:
		}
		if cached := cacheLookup(fingerprint); cached != nil {
			return cached, true, nil
		}
		if _, err := common.RedisGet(getInflightKey(fingerprint)); err != nil {
			// Ticket gone and nothing cached: the holder failed. Do not
			// propagate its error — fetch independently.
			resp, relayErr := fetch()
			if relayErr == nil {
				cacheStore(ctx, fingerprint, resp)
			}
			return resp, false, relayErr
		}
	}
	return nil, false, types.NewRelayError(0, types.ErrorCodeUpstreamTimeout, "timed out waiting for coalesced response")
}

func cacheLookup(fingerprint string) *CachedResponse {
	if common.RedisEnabled {
		val, err := common.RedisGet(getResponseCacheKey(fingerprint))
		if err != nil || val == "" {
			return nil
		}
		var cached CachedResponse
		if json.Unmarshal([]byte(val), &cached) != nil {
			return nil
		}
		return &cached
	}

	localCacheLock.Lock()
	defer localCacheLock.Unlock()
	entry, ok := localCache[fingerprint]
	if !ok || entry.expiresAt <= time.Now().Unix() {
		delete(localCache, fingerprint)
		return nil
	}
	return entry.response
}

func cacheStore(ctx context.Context, fingerprint string, response *CachedResponse) {
	if !IsCacheableResponse(response) {
		return
	}
	response.CachedAt = common.GetTimestamp()
	ttl := time.Duration(common.ResponseCacheTTLMinutes) * time.Minute

	if common.RedisEnabled {
		data, err := json.Marshal(response)
		if err != nil {
			return
		}
		if err := common.RedisSet(getResponseCacheKey(fingerprint), string(data), ttl); err != nil {
			logger.LogWarn(ctx, "response cache write failed: ", err.Error())
		}
		return
	}

	localCacheLock.Lock()
	defer localCacheLock.Unlock()
	localCache[fingerprint] = localCacheEntry{response: response, expiresAt: time.Now().Add(ttl).Unix()}
}

// IsCacheableResponse applies the sanity gate: 2xx, non-empty, well-formed
// JSON, and not an upstream error disguised as success.
func IsCacheableResponse(response *CachedResponse) bool {
	if response == nil || response.StatusCode < 200 || response.StatusCode >= 300 {
		return false
	}
	if len(response.Body) == 0 {
		return false
	}
	if !gjson.ValidBytes(response.Body) {
		return false
	}
	parsed := gjson.ParseBytes(response.Body)
	if parsed.Get("type").String() == "error" {
		return false
	}
	if content := parsed.Get("content"); content.Exists() && content.IsArray() && len(content.Array()) == 0 {
		return false
	}
	return true
}
