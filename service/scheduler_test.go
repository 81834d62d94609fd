package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhub/relayhub/common"
	"github.com/relayhub/relayhub/types"
)

func TestSelectAccountPriorityOrder(t *testing.T) {
	setupTestRedis(t)
	seedAccounts(t, testAccount(1, 10), testAccount(2, 20), testAccount(3, 5))

	account, relayErr := SelectAccount(context.Background(), "claude-sonnet-4-20250514", "", "", nil)
	require.Nil(t, relayErr)
	assert.Equal(t, 3, account.Id)
}

func TestSelectAccountLeastRecentlyUsedTieBreak(t *testing.T) {
	setupTestRedis(t)
	seedAccounts(t, testAccount(1, 10), testAccount(2, 10))

	ctx := context.Background()
	first, relayErr := SelectAccount(ctx, "m", "", "", nil)
	require.Nil(t, relayErr)

	// the just-used account moves to the back of the tie
	second, relayErr := SelectAccount(ctx, "m", "", "", nil)
	require.Nil(t, relayErr)
	assert.NotEqual(t, first.Id, second.Id)
}

func TestSelectAccountStickyBinding(t *testing.T) {
	setupTestRedis(t)
	seedAccounts(t, testAccount(1, 10), testAccount(2, 20))

	ctx := context.Background()
	first, relayErr := SelectAccount(ctx, "m", "fp-sticky", "", nil)
	require.Nil(t, relayErr)
	assert.Equal(t, 1, first.Id)

	// make the other account strictly preferable by priority, the binding
	// must still win
	seedAccounts(t, testAccount(1, 10), testAccount(2, 1))
	second, relayErr := SelectAccount(ctx, "m", "fp-sticky", "", nil)
	require.Nil(t, relayErr)
	assert.Equal(t, 1, second.Id)
}

func TestSelectAccountStickyDroppedWhenUnusable(t *testing.T) {
	setupTestRedis(t)
	accountA := testAccount(1, 10)
	seedAccounts(t, accountA, testAccount(2, 20))

	ctx := context.Background()
	first, relayErr := SelectAccount(ctx, "m", "fp-drop", "", nil)
	require.Nil(t, relayErr)
	require.Equal(t, 1, first.Id)

	ReportOutcome(accountA, 429, "", 0)

	second, relayErr := SelectAccount(ctx, "m", "fp-drop", "", nil)
	require.Nil(t, relayErr)
	assert.Equal(t, 2, second.Id)

	// the stale binding is gone, not just bypassed
	boundId, err := common.GetStickySessionAccount("fp-drop")
	require.NoError(t, err)
	assert.Equal(t, 2, boundId)
}

func TestSelectAccountExclusion(t *testing.T) {
	setupTestRedis(t)
	seedAccounts(t, testAccount(1, 10), testAccount(2, 20))

	ctx := context.Background()
	excluded := map[int]bool{1: true}

	account, relayErr := SelectAccount(ctx, "m", "", "", excluded)
	require.Nil(t, relayErr)
	assert.Equal(t, 2, account.Id)

	excluded[2] = true
	_, relayErr = SelectAccount(ctx, "m", "", "", excluded)
	require.NotNil(t, relayErr)
	assert.Equal(t, types.ErrorCodeNoAvailableAccount, relayErr.Code)
	assert.False(t, relayErr.IsRetryable())
}

func TestSelectAccountStickyExcludedFallsThrough(t *testing.T) {
	setupTestRedis(t)
	seedAccounts(t, testAccount(1, 10), testAccount(2, 20))

	ctx := context.Background()
	first, relayErr := SelectAccount(ctx, "m", "fp-ex", "", nil)
	require.Nil(t, relayErr)
	require.Equal(t, 1, first.Id)

	second, relayErr := SelectAccount(ctx, "m", "fp-ex", "", map[int]bool{1: true})
	require.Nil(t, relayErr)
	assert.Equal(t, 2, second.Id)
}

func TestSelectAccountCapabilityFilter(t *testing.T) {
	setupTestRedis(t)
	restricted := testAccount(1, 1)
	restricted.Models = "claude-3-5-haiku-20241022"
	seedAccounts(t, restricted, testAccount(2, 50))

	account, relayErr := SelectAccount(context.Background(), "claude-opus-4-20250514", "", "", nil)
	require.Nil(t, relayErr)
	assert.Equal(t, 2, account.Id)

	account, relayErr = SelectAccount(context.Background(), "claude-3-5-haiku-20241022", "", "", nil)
	require.Nil(t, relayErr)
	assert.Equal(t, 1, account.Id)
}

func TestSelectAccountPinnedToken(t *testing.T) {
	setupTestRedis(t)
	pinned := testAccount(5, 100)
	pinned.PinnedTokens = "alice,bob"
	seedAccounts(t, testAccount(1, 1), pinned)

	ctx := context.Background()
	account, relayErr := SelectAccount(ctx, "m", "", "alice", nil)
	require.Nil(t, relayErr)
	assert.Equal(t, 5, account.Id)

	// unaffiliated callers go through the normal pool
	account, relayErr = SelectAccount(ctx, "m", "", "carol", nil)
	require.Nil(t, relayErr)
	assert.Equal(t, 1, account.Id)
}

func TestSelectAccountPinnedUnavailableIsTerminal(t *testing.T) {
	setupTestRedis(t)
	pinned := testAccount(5, 100)
	pinned.PinnedTokens = "alice"
	seedAccounts(t, testAccount(1, 1), pinned)

	ReportOutcome(pinned, 429, "", 0)

	_, relayErr := SelectAccount(context.Background(), "m", "", "alice", nil)
	require.NotNil(t, relayErr)
	assert.Equal(t, types.ErrorCodePinnedAccountUnavailable, relayErr.Code)
	assert.False(t, relayErr.IsRetryable(), "no silent fallback off a dedicated account")
}

func TestSelectAccountRecoversAfterCooldown(t *testing.T) {
	mr := setupTestRedis(t)
	preferred := testAccount(1, 1)
	seedAccounts(t, preferred, testAccount(2, 50))

	ctx := context.Background()
	ReportOutcome(preferred, 429, "", 0)

	account, relayErr := SelectAccount(ctx, "m", "", "", nil)
	require.Nil(t, relayErr)
	assert.Equal(t, 2, account.Id)

	mr.FastForward(time.Duration(common.RateLimitCooldownSeconds+1) * time.Second)

	account, relayErr = SelectAccount(ctx, "m", "", "", nil)
	require.Nil(t, relayErr)
	assert.Equal(t, 1, account.Id, "expired cooldown returns the account to rotation")
}

func TestSelectAccountSkipsPersistedManualStates(t *testing.T) {
	setupTestRedis(t)
	dead := testAccount(1, 1)
	dead.Status = common.AccountStatusUnauthorized
	dead.StatusCause = "upstream 401"
	seedAccounts(t, dead, testAccount(2, 50))

	account, relayErr := SelectAccount(context.Background(), "m", "", "", nil)
	require.Nil(t, relayErr)
	assert.Equal(t, 2, account.Id)
}
