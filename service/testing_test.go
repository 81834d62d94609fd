package service

import (
	"fmt"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/relayhub/relayhub/common"
	"github.com/relayhub/relayhub/model"
)

func setupTestRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr := miniredis.RunT(t)
	prevRDB, prevEnabled := common.RDB, common.RedisEnabled
	common.RDB = redis.NewClient(&redis.Options{Addr: mr.Addr()})
	common.RedisEnabled = true
	t.Cleanup(func() {
		common.RDB, common.RedisEnabled = prevRDB, prevEnabled
	})
	return mr
}

func seedAccounts(t *testing.T, accounts ...*model.Account) {
	t.Helper()
	model.ReplaceAccountCache(accounts)
	t.Cleanup(func() { model.ReplaceAccountCache(nil) })
}

func testAccount(id int, priority int64) *model.Account {
	return &model.Account{
		Id:       id,
		Name:     fmt.Sprintf("acct-%d", id),
		Kind:     common.AccountKindConsoleKey,
		Priority: priority,
		Status:   common.AccountStatusActive,
	}
}
