package service

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/relayhub/relayhub/common"
	"github.com/relayhub/relayhub/logger"
	"github.com/relayhub/relayhub/model"
	"github.com/relayhub/relayhub/types"

	"github.com/samber/lo"
)

const AccountLastUsedPrefix = "account_last_used:"

var localLastUsedLock sync.Mutex
var localLastUsed = map[int]int64{}

// SelectAccount returns exactly one usable account for the request, in order:
//
//  1. a pinned account for the caller token (unusable pin = typed error, no
//     silent fallback);
//  2. a live sticky binding for the fingerprint;
//  3. the active, capability-compatible pool member with the lowest priority
//     number, ties broken by least-recently-used.
//
// Accounts in excluded were already burned by earlier attempts of this
// request and are never returned.
func SelectAccount(ctx context.Context, modelName string, fingerprint string, tokenName string, excluded map[int]bool) (*model.Account, *types.RelayError) {
	pool := model.CacheGetAllAccounts()

	// 1. pinned account
	for _, account := range pool {
		if !account.IsPinnedFor(tokenName) {
			continue
		}
		if excluded[account.Id] || !account.SupportsModel(modelName) || !IsAccountUsable(account) {
			status, cause := GetAccountStatus(account)
			return nil, types.NewRelayErrorf(http.StatusServiceUnavailable, types.ErrorCodePinnedAccountUnavailable,
				"dedicated account %s is %s: %s", account.Name, status, cause)
		}
		touchAccount(account.Id)
		return account, nil
	}

	// 2. sticky binding
	if fingerprint != "" {
		accountId, err := common.GetStickySessionAccount(fingerprint)
		if err != nil {
			logger.LogWarn(ctx, "sticky session lookup failed: ", err.Error())
		}
		if accountId > 0 && !excluded[accountId] {
			account, err := model.CacheGetAccount(accountId)
			if err == nil && account.SupportsModel(modelName) && IsAccountUsable(account) {
				_ = common.RenewStickySessionTTL(fingerprint, common.StickySessionTTLMinutes)
				touchAccount(account.Id)
				logger.LogDebug(ctx, fmt.Sprintf("sticky session hit: fingerprint=%s account=#%d", fingerprint, accountId))
				return account, nil
			}
			// bound account no longer usable, drop the binding
			_ = common.DeleteStickySession(fingerprint, accountId)
		}
	}

	// 3. priority + least-recently-used
	candidates := lo.Filter(pool, func(account *model.Account, _ int) bool {
		return !excluded[account.Id] && account.SupportsModel(modelName) && IsAccountUsable(account)
	})
	if len(candidates) == 0 {
		return nil, types.NewRelayErrorf(http.StatusServiceUnavailable, types.ErrorCodeNoAvailableAccount,
			"no available account for model %s", modelName)
	}

	lastUsed := make(map[int]int64, len(candidates))
	for _, account := range candidates {
		lastUsed[account.Id] = getLastUsed(account.Id)
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority < candidates[j].Priority
		}
		return lastUsed[candidates[i].Id] < lastUsed[candidates[j].Id]
	})

	selected := candidates[0]
	touchAccount(selected.Id)
	if fingerprint != "" {
		if err := common.SetStickySession(fingerprint, selected.Id, common.StickySessionTTLMinutes); err != nil {
			logger.LogWarn(ctx, "failed to bind sticky session: ", err.Error())
		}
	}
	return selected, nil
}

func getLastUsedKey(accountId int) string {
	return fmt.Sprintf("%s%d", AccountLastUsedPrefix, accountId)
}

func getLastUsed(accountId int) int64 {
	if common.RedisEnabled {
		val, err := common.RedisGet(getLastUsedKey(accountId))
		if err != nil {
			return 0
		}
		ts, _ := strconv.ParseInt(val, 10, 64)
		return ts
	}
	localLastUsedLock.Lock()
	defer localLastUsedLock.Unlock()
	return localLastUsed[accountId]
}

func touchAccount(accountId int) {
	// nanosecond resolution so touches within one second still order LRU
	now := time.Now().UnixNano()
	if common.RedisEnabled {
		if err := common.RedisSet(getLastUsedKey(accountId), strconv.FormatInt(now, 10), 0); err != nil {
			common.SysError(fmt.Sprintf("failed to touch account #%d: %s", accountId, err.Error()))
		}
		return
	}
	localLastUsedLock.Lock()
	defer localLastUsedLock.Unlock()
	localLastUsed[accountId] = now
}
