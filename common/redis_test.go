package common

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	prevRDB, prevEnabled := RDB, RedisEnabled
	RDB = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	RedisEnabled = true
	t.Cleanup(func() {
		RDB, RedisEnabled = prevRDB, prevEnabled
	})
	return mr
}

func TestRedisZAddWithPrune(t *testing.T) {
	setupTestRedis(t)

	now := float64(time.Now().Unix())

	count, err := RedisZAddWithPrune("test_window", "a", now, now-300, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	count, err = RedisZAddWithPrune("test_window", "b", now+1, now-300, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)

	// members at or below minScore are dropped before the new one lands
	count, err = RedisZAddWithPrune("test_window", "c", now+600, now+1, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedisZCountAfterPrune(t *testing.T) {
	setupTestRedis(t)

	now := float64(time.Now().Unix())
	_, err := RedisZAddWithPrune("leases", "r1", now-100, 0, time.Minute)
	require.NoError(t, err)
	_, err = RedisZAddWithPrune("leases", "r2", now+100, 0, time.Minute)
	require.NoError(t, err)

	count, err := RedisZCountAfterPrune("leases", now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestRedisIncrBySetsTTLOnce(t *testing.T) {
	mr := setupTestRedis(t)

	total, err := RedisIncrBy("spend", 5, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(5), total)
	assert.Greater(t, mr.TTL("spend"), time.Duration(0))

	firstTTL := mr.TTL("spend")
	mr.FastForward(30 * time.Minute)

	total, err = RedisIncrBy("spend", 7, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(12), total)
	// the second increment must not push the deadline out again
	assert.LessOrEqual(t, mr.TTL("spend"), firstTTL-30*time.Minute)
}
