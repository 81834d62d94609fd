package common

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	StickySessionPrefix          = "sticky_session:"
	StickySessionByAccountPrefix = "sticky_sessions_by_account:"
)

// StickySessionData stores the fingerprint -> account binding.
type StickySessionData struct {
	AccountId int   `json:"account_id"`
	CreatedAt int64 `json:"created_at"`
}

func GetStickySessionKey(fingerprint string) string {
	return StickySessionPrefix + fingerprint
}

func GetStickySessionByAccountKey(accountId int) string {
	return fmt.Sprintf("%s%d", StickySessionByAccountPrefix, accountId)
}

// GetStickySessionAccount retrieves the account bound to a fingerprint.
// Returns 0 when no live binding exists.
func GetStickySessionAccount(fingerprint string) (int, error) {
	if !RedisEnabled {
		return 0, nil
	}
	ctx := context.Background()
	val, err := RDB.Get(ctx, GetStickySessionKey(fingerprint)).Result()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var data StickySessionData
	if err := json.Unmarshal([]byte(val), &data); err != nil {
		return 0, err
	}
	return data.AccountId, nil
}

// SetStickySession creates or refreshes a fingerprint -> account binding and
// maintains the account's reverse index.
func SetStickySession(fingerprint string, accountId int, ttlMinutes int) error {
	if !RedisEnabled {
		return nil
	}
	ctx := context.Background()
	key := GetStickySessionKey(fingerprint)
	ttl := time.Duration(ttlMinutes) * time.Minute

	// Fast path: binding already points at this account, just renew.
	previousAccountId := 0
	existingVal, err := RDB.Get(ctx, key).Result()
	if err == nil && existingVal != "" {
		var existing StickySessionData
		if jsonErr := json.Unmarshal([]byte(existingVal), &existing); jsonErr == nil {
			if existing.AccountId == accountId {
				return RDB.Expire(ctx, key, ttl).Err()
			}
			previousAccountId = existing.AccountId
		}
	}

	data := StickySessionData{
		AccountId: accountId,
		CreatedAt: time.Now().Unix(),
	}
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	pipe := RDB.TxPipeline()
	pipe.Set(ctx, key, string(jsonData), ttl)
	pipe.ZAdd(ctx, GetStickySessionByAccountKey(accountId), &redis.Z{
		Score:  float64(time.Now().Unix()),
		Member: fingerprint,
	})
	if previousAccountId != 0 {
		// rebind: the old account's reverse index must not keep claiming
		// this fingerprint
		pipe.ZRem(ctx, GetStickySessionByAccountKey(previousAccountId), fingerprint)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// DeleteStickySession removes a binding and its reverse-index entry.
func DeleteStickySession(fingerprint string, accountId int) error {
	if !RedisEnabled {
		return nil
	}
	ctx := context.Background()

	pipe := RDB.TxPipeline()
	pipe.Del(ctx, GetStickySessionKey(fingerprint))
	pipe.ZRem(ctx, GetStickySessionByAccountKey(accountId), fingerprint)
	_, err := pipe.Exec(ctx)
	return err
}

// RenewStickySessionTTL extends the binding when its remaining lifetime has
// dropped below half of the configured TTL.
func RenewStickySessionTTL(fingerprint string, ttlMinutes int) error {
	if !RedisEnabled {
		return nil
	}
	key := GetStickySessionKey(fingerprint)

	ttl, err := RedisTTL(key)
	if err != nil {
		return err
	}

	threshold := time.Duration(ttlMinutes/2) * time.Minute
	if ttl > 0 && ttl < threshold {
		return RedisExpire(key, time.Duration(ttlMinutes)*time.Minute)
	}
	return nil
}

// GetAccountStickySessionCount counts live bindings for an account, pruning
// index entries whose session key has expired.
func GetAccountStickySessionCount(accountId int) (int, error) {
	if !RedisEnabled {
		return 0, nil
	}
	ctx := context.Background()
	indexKey := GetStickySessionByAccountKey(accountId)

	cleanupExpiredSessions(ctx, accountId)

	count, err := RDB.ZCard(ctx, indexKey).Result()
	return int(count), err
}

// ReleaseAllAccountStickySessions drops every binding for an account. Used when
// an account becomes unusable so waiting fingerprints can rebind elsewhere.
func ReleaseAllAccountStickySessions(accountId int) error {
	if !RedisEnabled {
		return nil
	}
	ctx := context.Background()
	indexKey := GetStickySessionByAccountKey(accountId)

	fingerprints, err := RDB.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return err
	}
	if len(fingerprints) == 0 {
		return nil
	}

	pipe := RDB.TxPipeline()
	for _, fp := range fingerprints {
		pipe.Del(ctx, GetStickySessionKey(fp))
	}
	pipe.Del(ctx, indexKey)
	_, err = pipe.Exec(ctx)
	return err
}

func cleanupExpiredSessions(ctx context.Context, accountId int) {
	indexKey := GetStickySessionByAccountKey(accountId)

	fingerprints, err := RDB.ZRange(ctx, indexKey, 0, -1).Result()
	if err != nil {
		return
	}

	expired := make([]interface{}, 0)
	for _, fp := range fingerprints {
		exists, _ := RDB.Exists(ctx, GetStickySessionKey(fp)).Result()
		if exists == 0 {
			expired = append(expired, fp)
		}
	}
	if len(expired) > 0 {
		RDB.ZRem(ctx, indexKey, expired...)
	}
}
