package common

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
)

var RDB *redis.Client
var RedisEnabled = true

// InitRedisClient This function is called after init()
func InitRedisClient() (err error) {
	if os.Getenv("REDIS_CONN_STRING") == "" {
		RedisEnabled = false
		SysLog("REDIS_CONN_STRING not set, Redis is not enabled")
		SysLog("WARNING: sticky sessions, concurrency leases and the response cache are process-local without Redis")
		return nil
	}
	SysLog("Redis is enabled")
	opt, err := redis.ParseURL(os.Getenv("REDIS_CONN_STRING"))
	if err != nil {
		FatalLog("failed to parse Redis connection string: " + err.Error())
	}
	opt.PoolSize = GetEnvOrDefault("REDIS_POOL_SIZE", 10)
	RDB = redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err = RDB.Ping(ctx).Result()
	if err != nil {
		FatalLog("Redis ping test failed: " + err.Error())
	}
	if DebugEnabled {
		SysLog(fmt.Sprintf("Redis connected to %s", opt.Addr))
		SysLog(fmt.Sprintf("Redis database: %d", opt.DB))
	}
	return err
}

func RedisSet(key string, value string, expiration time.Duration) error {
	if DebugEnabled {
		SysLog(fmt.Sprintf("Redis SET: key=%s, expiration=%v", key, expiration))
	}
	ctx := context.Background()
	return RDB.Set(ctx, key, value, expiration).Err()
}

func RedisGet(key string) (string, error) {
	if DebugEnabled {
		SysLog(fmt.Sprintf("Redis GET: key=%s", key))
	}
	ctx := context.Background()
	val, err := RDB.Get(ctx, key).Result()
	return val, err
}

func RedisDel(key string) error {
	if DebugEnabled {
		SysLog(fmt.Sprintf("Redis DEL: key=%s", key))
	}
	ctx := context.Background()
	return RDB.Del(ctx, key).Err()
}

// RedisSetNX sets the key only if it does not exist. Returns true when the
// caller won the write.
func RedisSetNX(key string, value string, expiration time.Duration) (bool, error) {
	ctx := context.Background()
	return RDB.SetNX(ctx, key, value, expiration).Result()
}

func RedisTTL(key string) (time.Duration, error) {
	ctx := context.Background()
	return RDB.TTL(ctx, key).Result()
}

func RedisExpire(key string, expiration time.Duration) error {
	ctx := context.Background()
	return RDB.Expire(ctx, key, expiration).Err()
}

// RedisIncrBy atomically increments a counter, creating it with the given
// expiration when it does not exist yet. The TTL of an existing key is left
// untouched so time-boxed counters keep their window.
func RedisIncrBy(key string, delta int64, expiration time.Duration) (int64, error) {
	if DebugEnabled {
		SysLog(fmt.Sprintf("Redis INCRBY: key=%s, delta=%d", key, delta))
	}
	ctx := context.Background()

	ttl, err := RDB.TTL(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("failed to get TTL: %w", err)
	}

	txn := RDB.TxPipeline()
	incrCmd := txn.IncrBy(ctx, key, delta)
	if ttl < 0 && expiration > 0 {
		// key absent or without TTL, apply the requested window
		txn.Expire(ctx, key, expiration)
	}
	if _, err := txn.Exec(ctx); err != nil {
		return 0, err
	}
	return incrCmd.Val(), nil
}

// RedisZAddWithPrune adds a member to a sorted set and prunes every member
// whose score falls below minScore, in one transaction. Returns the
// cardinality after the write. Shared primitive behind the sliding error
// window and the lease set.
func RedisZAddWithPrune(key string, member string, score float64, minScore float64, expiration time.Duration) (int64, error) {
	ctx := context.Background()

	txn := RDB.TxPipeline()
	txn.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", minScore))
	txn.ZAdd(ctx, key, &redis.Z{Score: score, Member: member})
	cardCmd := txn.ZCard(ctx, key)
	if expiration > 0 {
		txn.Expire(ctx, key, expiration)
	}
	if _, err := txn.Exec(ctx); err != nil {
		return 0, err
	}
	return cardCmd.Val(), nil
}

// RedisZCountAfterPrune prunes members scored below minScore then returns the
// remaining cardinality.
func RedisZCountAfterPrune(key string, minScore float64) (int64, error) {
	ctx := context.Background()

	txn := RDB.TxPipeline()
	txn.ZRemRangeByScore(ctx, key, "-inf", fmt.Sprintf("%f", minScore))
	cardCmd := txn.ZCard(ctx, key)
	if _, err := txn.Exec(ctx); err != nil {
		return 0, err
	}
	return cardCmd.Val(), nil
}

func RedisZRem(key string, member string) error {
	ctx := context.Background()
	return RDB.ZRem(ctx, key, member).Err()
}

// RedisZAddXX updates the score of an existing member; absent members are
// never created.
func RedisZAddXX(key string, member string, score float64) error {
	ctx := context.Background()
	return RDB.ZAddXX(ctx, key, &redis.Z{Score: score, Member: member}).Err()
}
