package service

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/relayhub/relayhub/common"
	"github.com/relayhub/relayhub/types"
)

const AccountLeasesPrefix = "account_leases:"

// Process-local lease table used when Redis is disabled.
var localLeaseLock sync.Mutex
var localLeases = map[int]map[string]int64{} // accountId -> requestId -> expiry

func getAccountLeasesKey(accountId int) string {
	return fmt.Sprintf("%s%d", AccountLeasesPrefix, accountId)
}

// AcquireLease claims one slot of the account's concurrency budget for this
// request. The lease self-expires so a crashed process cannot leak capacity
// permanently. Returns the in-flight count after the claim.
//
// Over the limit the lease is released immediately and a retryable
// concurrency_exceeded error is returned; this is a capacity condition, never
// a health signal.
func AcquireLease(accountId int, requestId string, limit int, leaseSeconds int) (int64, *types.RelayError) {
	if leaseSeconds <= 0 {
		leaseSeconds = common.LeaseSeconds
	}
	now := time.Now()
	expiry := now.Add(time.Duration(leaseSeconds) * time.Second)

	var count int64
	if common.RedisEnabled {
		var err error
		count, err = common.RedisZAddWithPrune(
			getAccountLeasesKey(accountId),
			requestId,
			float64(expiry.Unix()),
			float64(now.Unix()),
			time.Duration(leaseSeconds)*time.Second*2,
		)
		if err != nil {
			// the store being down must not take the relay path down with it
			common.SysError(fmt.Sprintf("lease acquire failed for account #%d: %s", accountId, err.Error()))
			return 0, nil
		}
	} else {
		count = localAcquire(accountId, requestId, now.Unix(), expiry.Unix())
	}

	if limit > 0 && count > int64(limit) {
		ReleaseLease(accountId, requestId)
		return count, types.NewRelayErrorf(http.StatusTooManyRequests, types.ErrorCodeConcurrencyExceeded,
			"account #%d concurrency limit reached (%d in flight, limit %d)", accountId, count, limit)
	}
	return count, nil
}

// ReleaseLease returns the slot. Safe to call twice; callers run it on every
// exit path so capacity can never leak on success, failure or cancellation.
func ReleaseLease(accountId int, requestId string) {
	if common.RedisEnabled {
		if err := common.RedisZRem(getAccountLeasesKey(accountId), requestId); err != nil {
			common.SysError(fmt.Sprintf("lease release failed for account #%d: %s", accountId, err.Error()))
		}
		return
	}
	localLeaseLock.Lock()
	defer localLeaseLock.Unlock()
	if leases, ok := localLeases[accountId]; ok {
		delete(leases, requestId)
	}
}

// RefreshLease extends a lease for long-running streams. Only live leases
// are extended; a lease already released or expired stays gone.
func RefreshLease(accountId int, requestId string, leaseSeconds int) {
	if leaseSeconds <= 0 {
		leaseSeconds = common.LeaseSeconds
	}
	expiry := time.Now().Add(time.Duration(leaseSeconds) * time.Second)

	if common.RedisEnabled {
		err := common.RedisZAddXX(getAccountLeasesKey(accountId), requestId, float64(expiry.Unix()))
		if err != nil {
			common.SysError(fmt.Sprintf("lease refresh failed for account #%d: %s", accountId, err.Error()))
		}
		return
	}

	localLeaseLock.Lock()
	defer localLeaseLock.Unlock()
	if leases, ok := localLeases[accountId]; ok {
		if _, exists := leases[requestId]; exists {
			leases[requestId] = expiry.Unix()
		}
	}
}

// GetLeaseCount returns the number of unexpired leases for an account.
func GetLeaseCount(accountId int) int64 {
	if common.RedisEnabled {
		count, err := common.RedisZCountAfterPrune(getAccountLeasesKey(accountId), float64(time.Now().Unix()))
		if err != nil {
			return 0
		}
		return count
	}
	return localAcquireCount(accountId, time.Now().Unix())
}

func localAcquire(accountId int, requestId string, now int64, expiry int64) int64 {
	localLeaseLock.Lock()
	defer localLeaseLock.Unlock()
	leases, ok := localLeases[accountId]
	if !ok {
		leases = make(map[string]int64)
		localLeases[accountId] = leases
	}
	for id, exp := range leases {
		if exp <= now {
			delete(leases, id)
		}
	}
	leases[requestId] = expiry
	return int64(len(leases))
}

func localAcquireCount(accountId int, now int64) int64 {
	localLeaseLock.Lock()
	defer localLeaseLock.Unlock()
	leases := localLeases[accountId]
	var count int64
	for _, exp := range leases {
		if exp > now {
			count++
		}
	}
	return count
}
