package service

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhub/relayhub/common"
	"github.com/relayhub/relayhub/types"
)

func goodResponse() *CachedResponse {
	return &CachedResponse{
		StatusCode:  200,
		ContentType: "application/json",
		Body:        []byte(`{"id":"msg_1","type":"message","content":[{"type":"text","text":"hi"}]}`),
	}
}

func TestGetOrFetchCachesSuccess(t *testing.T) {
	setupTestRedis(t)
	ctx := context.Background()

	var calls int32
	fetch := func() (*CachedResponse, *types.RelayError) {
		atomic.AddInt32(&calls, 1)
		return goodResponse(), nil
	}

	resp, hit, relayErr := GetOrFetch(ctx, "fp-cache", fetch)
	require.Nil(t, relayErr)
	assert.False(t, hit)
	assert.Equal(t, 200, resp.StatusCode)

	resp, hit, relayErr = GetOrFetch(ctx, "fp-cache", fetch)
	require.Nil(t, relayErr)
	assert.True(t, hit)
	assert.Equal(t, goodResponse().Body, resp.Body)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetOrFetchCacheEntryExpires(t *testing.T) {
	mr := setupTestRedis(t)
	ctx := context.Background()

	var calls int32
	fetch := func() (*CachedResponse, *types.RelayError) {
		atomic.AddInt32(&calls, 1)
		return goodResponse(), nil
	}

	_, _, relayErr := GetOrFetch(ctx, "fp-ttl", fetch)
	require.Nil(t, relayErr)

	mr.FastForward(time.Duration(common.ResponseCacheTTLMinutes+1) * time.Minute)

	_, hit, relayErr := GetOrFetch(ctx, "fp-ttl", fetch)
	require.Nil(t, relayErr)
	assert.False(t, hit)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetOrFetchConcurrentCallersSingleFetch(t *testing.T) {
	setupTestRedis(t)
	ctx := context.Background()

	var calls int32
	fetch := func() (*CachedResponse, *types.RelayError) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(50 * time.Millisecond)
		return goodResponse(), nil
	}

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			resp, _, relayErr := GetOrFetch(ctx, "fp-coalesce", fetch)
			assert.Nil(t, relayErr)
			assert.NotNil(t, resp)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGetOrFetchCoalescedFailureRetriedByWaiterOnly(t *testing.T) {
	setupTestRedis(t)
	ctx := context.Background()

	var calls int32
	fetch := func() (*CachedResponse, *types.RelayError) {
		atomic.AddInt32(&calls, 1)
		time.Sleep(150 * time.Millisecond)
		return nil, types.NewRelayError(500, types.ErrorCodeUpstreamError, "boom")
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, relayErr := GetOrFetch(ctx, "fp-fail-coalesce", fetch)
		assert.NotNil(t, relayErr)
	}()
	time.Sleep(30 * time.Millisecond) // first caller is executing fetch
	wg.Add(1)
	go func() {
		defer wg.Done()
		_, _, relayErr := GetOrFetch(ctx, "fp-fail-coalesce", fetch)
		assert.NotNil(t, relayErr)
	}()
	wg.Wait()

	// one fetch by the executor, one independent retry by the waiter; the
	// executor surfaces its own failure instead of fetching again
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetOrFetchFailureNotCached(t *testing.T) {
	setupTestRedis(t)
	ctx := context.Background()

	var calls int32
	fetch := func() (*CachedResponse, *types.RelayError) {
		atomic.AddInt32(&calls, 1)
		return nil, types.NewRelayError(500, types.ErrorCodeUpstreamError, "boom")
	}

	_, _, relayErr := GetOrFetch(ctx, "fp-fail", fetch)
	require.NotNil(t, relayErr)

	_, _, relayErr = GetOrFetch(ctx, "fp-fail", fetch)
	require.NotNil(t, relayErr)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls), "failures are retried, never served")
}

func TestGetOrFetchErrorDisguisedAsSuccessNotCached(t *testing.T) {
	setupTestRedis(t)
	ctx := context.Background()

	var calls int32
	fetch := func() (*CachedResponse, *types.RelayError) {
		atomic.AddInt32(&calls, 1)
		return &CachedResponse{
			StatusCode:  200,
			ContentType: "application/json",
			Body:        []byte(`{"type":"error","error":{"type":"api_error","message":"hidden failure"}}`),
		}, nil
	}

	_, hit, relayErr := GetOrFetch(ctx, "fp-disguised", fetch)
	require.Nil(t, relayErr)
	require.False(t, hit)

	_, hit, _ = GetOrFetch(ctx, "fp-disguised", fetch)
	assert.False(t, hit)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGetOrFetchTicketVanishesWithoutResult(t *testing.T) {
	setupTestRedis(t)
	ctx := context.Background()

	// a sibling process holds the ticket and then dies without caching
	won, err := common.RedisSetNX("response_inflight:fp-dead", "other-process", time.Minute)
	require.NoError(t, err)
	require.True(t, won)

	go func() {
		time.Sleep(200 * time.Millisecond)
		_ = common.RedisDel("response_inflight:fp-dead")
	}()

	var calls int32
	fetch := func() (*CachedResponse, *types.RelayError) {
		atomic.AddInt32(&calls, 1)
		return goodResponse(), nil
	}

	resp, hit, relayErr := GetOrFetch(ctx, "fp-dead", fetch)
	require.Nil(t, relayErr)
	assert.False(t, hit)
	assert.NotNil(t, resp)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls), "the waiter fetches independently")
}

func TestIsCacheableResponse(t *testing.T) {
	tests := []struct {
		name     string
		response *CachedResponse
		want     bool
	}{
		{"nil", nil, false},
		{"ok", goodResponse(), true},
		{"non-2xx", &CachedResponse{StatusCode: 500, Body: []byte(`{}`)}, false},
		{"empty body", &CachedResponse{StatusCode: 200}, false},
		{"invalid json", &CachedResponse{StatusCode: 200, Body: []byte(`{"truncated`)}, false},
		{"error type", &CachedResponse{StatusCode: 200, Body: []byte(`{"type":"error"}`)}, false},
		{"empty content", &CachedResponse{StatusCode: 200, Body: []byte(`{"type":"message","content":[]}`)}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsCacheableResponse(tt.response))
		})
	}
}
