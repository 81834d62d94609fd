package service

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/relayhub/relayhub/common"
	"github.com/relayhub/relayhub/model"

	"github.com/google/uuid"
)

const (
	AccountStatusPrefix = "account_status:"
	AccountErrorsPrefix = "account_errors:"
)

// statusRecord is the value of the account_status key: a single tagged status
// plus the cause that produced it, instead of a pile of independent flags.
type statusRecord struct {
	Status string `json:"status"`
	Cause  string `json:"cause"`
	Since  int64  `json:"since"`
}

// Process-local fallback when Redis is disabled. Single-process only.
var localStatusLock sync.Mutex
var localStatus = map[int]localStatusEntry{}
var localErrorWindow = map[int][]int64{}

type localStatusEntry struct {
	record    statusRecord
	expiresAt int64 // 0 = no automatic recovery
}

func getAccountStatusKey(accountId int) string {
	return fmt.Sprintf("%s%d", AccountStatusPrefix, accountId)
}

func getAccountErrorsKey(accountId int) string {
	return fmt.Sprintf("%s%d", AccountErrorsPrefix, accountId)
}

// ReportOutcome feeds one relay result into the state machine. statusCode is
// the upstream HTTP status, or 0 for transport-level failures (timeouts,
// connection resets). errBody is the response body when the status looked
// successful but may hide an upstream rejection. resetAt is an optional
// upstream-provided recovery timestamp (429 responses).
func ReportOutcome(account *model.Account, statusCode int, errBody string, resetAt int64) {
	switch {
	case statusCode >= 200 && statusCode < 300:
		if isDisabledOrgBody(errBody) {
			// permanent rejection disguised as success
			markBlocked(account, "organization disabled (2xx body)")
			return
		}
		reportSuccess(account.Id)
	case statusCode == http.StatusTooManyRequests:
		cooldown := time.Duration(common.RateLimitCooldownSeconds) * time.Second
		if resetAt > 0 {
			if until := time.Until(time.Unix(resetAt, 0)); until > 0 {
				cooldown = until
			}
		}
		setStatus(account.Id, common.AccountStatusRateLimited, fmt.Sprintf("upstream 429, cooldown %s", cooldown.Truncate(time.Second)), cooldown)
	case isOverloadStatus(statusCode, errBody):
		setStatus(account.Id, common.AccountStatusOverloaded, fmt.Sprintf("upstream overloaded (%d)", statusCode),
			time.Duration(common.OverloadCooldownSeconds)*time.Second)
	case statusCode == http.StatusUnauthorized:
		markUnauthorized(account, "upstream 401")
	case statusCode == http.StatusForbidden:
		markBlocked(account, "upstream 403")
	case statusCode == 0 || statusCode >= 500:
		recordWindowError(account.Id)
	}
}

// isOverloadStatus covers the two equivalent overload signals: the dedicated
// 529 code and a 503 whose body names an overload.
func isOverloadStatus(statusCode int, body string) bool {
	if statusCode == 529 {
		return true
	}
	return statusCode == http.StatusServiceUnavailable && strings.Contains(strings.ToLower(body), "overload")
}

func isDisabledOrgBody(body string) bool {
	lower := strings.ToLower(body)
	return strings.Contains(lower, "organization has been disabled") ||
		strings.Contains(lower, "organization_disabled")
}

// reportSuccess clears the recoverable states and the error window. Manual
// states (unauthorized, blocked) and quota_exceeded survive a lucky 2xx.
func reportSuccess(accountId int) {
	if common.RedisEnabled {
		key := getAccountStatusKey(accountId)
		if val, err := common.RedisGet(key); err == nil {
			var rec statusRecord
			if json.Unmarshal([]byte(val), &rec) == nil {
				if rec.Status == common.AccountStatusRateLimited || rec.Status == common.AccountStatusOverloaded {
					_ = common.RedisDel(key)
				}
			}
		}
		_ = common.RedisDel(getAccountErrorsKey(accountId))
		return
	}

	localStatusLock.Lock()
	defer localStatusLock.Unlock()
	if entry, ok := localStatus[accountId]; ok {
		if entry.record.Status == common.AccountStatusRateLimited || entry.record.Status == common.AccountStatusOverloaded {
			delete(localStatus, accountId)
		}
	}
	delete(localErrorWindow, accountId)
}

// recordWindowError appends to the sliding 5xx/timeout window and trips
// temp_error once the threshold is crossed. Old entries are pruned on every
// write so bursts decay instead of permanently disabling the account.
func recordWindowError(accountId int) {
	windowStart := time.Now().Add(-time.Duration(common.ErrorWindowSeconds) * time.Second)

	var count int64
	if common.RedisEnabled {
		var err error
		count, err = common.RedisZAddWithPrune(
			getAccountErrorsKey(accountId),
			uuid.New().String(),
			float64(time.Now().Unix()),
			float64(windowStart.Unix()),
			time.Duration(common.ErrorWindowSeconds)*time.Second*2,
		)
		if err != nil {
			common.SysError(fmt.Sprintf("failed to record error for account #%d: %s", accountId, err.Error()))
			return
		}
	} else {
		localStatusLock.Lock()
		window := localErrorWindow[accountId]
		pruned := window[:0]
		for _, ts := range window {
			if ts >= windowStart.Unix() {
				pruned = append(pruned, ts)
			}
		}
		pruned = append(pruned, time.Now().Unix())
		localErrorWindow[accountId] = pruned
		count = int64(len(pruned))
		localStatusLock.Unlock()
	}

	if count > int64(common.ErrorWindowThreshold) {
		setStatus(accountId, common.AccountStatusTempError,
			fmt.Sprintf("%d upstream errors within %ds", count, common.ErrorWindowSeconds),
			time.Duration(common.TempErrorCooldownSeconds)*time.Second)
	}
}

// setStatus writes a time-boxed status. The key's TTL is the recovery
// deadline; expiry returns the account to active with no sweeper involved.
func setStatus(accountId int, status string, cause string, cooldown time.Duration) {
	rec := statusRecord{Status: status, Cause: cause, Since: time.Now().Unix()}
	common.SysLog(fmt.Sprintf("account #%d -> %s: %s", accountId, status, cause))

	if common.RedisEnabled {
		data, _ := json.Marshal(rec)
		if err := common.RedisSet(getAccountStatusKey(accountId), string(data), cooldown); err != nil {
			common.SysError(fmt.Sprintf("failed to set status for account #%d: %s", accountId, err.Error()))
		}
		return
	}

	localStatusLock.Lock()
	defer localStatusLock.Unlock()
	expiresAt := int64(0)
	if cooldown > 0 {
		expiresAt = time.Now().Add(cooldown).Unix()
	}
	localStatus[accountId] = localStatusEntry{record: rec, expiresAt: expiresAt}
}

// SetQuotaExceeded is called by the usage accumulator when the daily spend
// meets the account quota. The status expires at the next reset boundary.
func SetQuotaExceeded(accountId int, cause string, until time.Duration) {
	setStatus(accountId, common.AccountStatusQuotaExceeded, cause, until)
}

// markUnauthorized persists the state: credential refresh or a manual reset is
// required, no timer recovers it.
func markUnauthorized(account *model.Account, cause string) {
	setStatus(account.Id, common.AccountStatusUnauthorized, cause, 0)
	model.UpdateAccountStatus(account.Id, common.AccountStatusUnauthorized, cause)
	_ = common.ReleaseAllAccountStickySessions(account.Id)
}

func markBlocked(account *model.Account, cause string) {
	setStatus(account.Id, common.AccountStatusBlocked, cause, 0)
	model.UpdateAccountStatus(account.Id, common.AccountStatusBlocked, cause)
	_ = common.ReleaseAllAccountStickySessions(account.Id)
}

// GetAccountStatus derives the current operational status. Absence of any
// ephemeral record and a clean persisted row means active.
func GetAccountStatus(account *model.Account) (string, string) {
	// persisted manual states win
	if account.Status != "" && account.Status != common.AccountStatusActive {
		return account.Status, account.StatusCause
	}

	if common.RedisEnabled {
		val, err := common.RedisGet(getAccountStatusKey(account.Id))
		if err == nil && val != "" {
			var rec statusRecord
			if json.Unmarshal([]byte(val), &rec) == nil {
				return rec.Status, rec.Cause
			}
		}
		return common.AccountStatusActive, ""
	}

	localStatusLock.Lock()
	defer localStatusLock.Unlock()
	entry, ok := localStatus[account.Id]
	if !ok {
		return common.AccountStatusActive, ""
	}
	if entry.expiresAt > 0 && entry.expiresAt <= time.Now().Unix() {
		delete(localStatus, account.Id)
		return common.AccountStatusActive, ""
	}
	return entry.record.Status, entry.record.Cause
}

// IsAccountUsable reports whether the scheduler may hand out this account.
func IsAccountUsable(account *model.Account) bool {
	status, _ := GetAccountStatus(account)
	return status == common.AccountStatusActive
}

// ResetAccountStatus clears both the ephemeral and the persisted state. This
// is the manual recovery path for unauthorized/blocked accounts.
func ResetAccountStatus(accountId int) {
	if common.RedisEnabled {
		_ = common.RedisDel(getAccountStatusKey(accountId))
		_ = common.RedisDel(getAccountErrorsKey(accountId))
	} else {
		localStatusLock.Lock()
		delete(localStatus, accountId)
		delete(localErrorWindow, accountId)
		localStatusLock.Unlock()
	}
	model.UpdateAccountStatus(accountId, common.AccountStatusActive, "")
}
