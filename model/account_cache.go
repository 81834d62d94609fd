package model

import (
	"sync"
	"time"

	"github.com/relayhub/relayhub/common"

	"github.com/bytedance/gopkg/util/gopool"
	"github.com/pkg/errors"
)

var accountsIDM map[int]*Account
var accountSyncLock sync.RWMutex

// InitAccountCache loads every account into the in-memory pool. Called at
// startup, after every administrative write, and on the sync interval.
func InitAccountCache() {
	var accounts []*Account
	if err := DB.Find(&accounts).Error; err != nil {
		common.SysError("failed to sync accounts from database: " + err.Error())
		return
	}
	ReplaceAccountCache(accounts)
	common.SysLog("accounts synced from database")
}

// ReplaceAccountCache swaps the whole pool snapshot.
func ReplaceAccountCache(accounts []*Account) {
	newIDM := make(map[int]*Account, len(accounts))
	for _, account := range accounts {
		newIDM[account.Id] = account
	}
	accountSyncLock.Lock()
	accountsIDM = newIDM
	accountSyncLock.Unlock()
}

// StartAccountCacheSync re-reads the account table on a fixed interval so that
// administrative changes made by sibling processes become visible.
func StartAccountCacheSync(frequency int) {
	gopool.Go(func() {
		for {
			time.Sleep(time.Duration(frequency) * time.Second)
			InitAccountCache()
		}
	})
}

// CacheGetAllAccounts returns a snapshot of the pool.
func CacheGetAllAccounts() []*Account {
	accountSyncLock.RLock()
	defer accountSyncLock.RUnlock()
	accounts := make([]*Account, 0, len(accountsIDM))
	for _, account := range accountsIDM {
		accounts = append(accounts, account)
	}
	return accounts
}

func CacheGetAccount(id int) (*Account, error) {
	accountSyncLock.RLock()
	defer accountSyncLock.RUnlock()
	account, ok := accountsIDM[id]
	if !ok {
		return nil, errors.Errorf("account #%d no longer exists", id)
	}
	return account, nil
}

// CacheUpdateAccountStatus mirrors a persisted status change into the pool
// without waiting for the next sync.
func CacheUpdateAccountStatus(id int, status string, cause string) {
	accountSyncLock.Lock()
	defer accountSyncLock.Unlock()
	if account, ok := accountsIDM[id]; ok {
		account.Status = status
		account.StatusCause = cause
	}
}
