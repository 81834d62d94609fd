package service

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhub/relayhub/common"
	"github.com/relayhub/relayhub/model"
)

func setupTestDB(t *testing.T) {
	t.Helper()
	t.Setenv("SQL_DSN", "")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, model.InitDB())
	t.Cleanup(func() { _ = model.CloseDB() })
}

func TestReportOutcomeRateLimited(t *testing.T) {
	setupTestRedis(t)
	account := testAccount(1, 10)
	seedAccounts(t, account)

	ReportOutcome(account, 429, "", 0)

	status, cause := GetAccountStatus(account)
	assert.Equal(t, common.AccountStatusRateLimited, status)
	assert.Contains(t, cause, "429")
	assert.False(t, IsAccountUsable(account))
}

func TestReportOutcomeRateLimitedHonorsResetAt(t *testing.T) {
	mr := setupTestRedis(t)
	account := testAccount(1, 10)
	seedAccounts(t, account)

	resetAt := time.Now().Add(10 * time.Minute).Unix()
	ReportOutcome(account, 429, "", resetAt)

	ttl := mr.TTL(AccountStatusPrefix + "1")
	assert.Greater(t, ttl, 9*time.Minute)
	assert.LessOrEqual(t, ttl, 10*time.Minute)
}

func TestReportOutcomeOverloaded(t *testing.T) {
	setupTestRedis(t)
	account := testAccount(2, 10)
	seedAccounts(t, account)

	ReportOutcome(account, 529, "", 0)
	status, _ := GetAccountStatus(account)
	assert.Equal(t, common.AccountStatusOverloaded, status)
}

func TestReportOutcome503OverloadBody(t *testing.T) {
	setupTestRedis(t)
	account := testAccount(3, 10)
	seedAccounts(t, account)

	ReportOutcome(account, 503, `{"error":{"type":"overloaded_error"}}`, 0)
	status, _ := GetAccountStatus(account)
	assert.Equal(t, common.AccountStatusOverloaded, status)
}

func TestReportOutcomePlain503CountsTowardWindow(t *testing.T) {
	setupTestRedis(t)
	account := testAccount(4, 10)
	seedAccounts(t, account)

	ReportOutcome(account, 503, "bad gateway", 0)
	status, _ := GetAccountStatus(account)
	assert.Equal(t, common.AccountStatusActive, status, "a single 5xx is not a state change")
}

func TestReportOutcomeErrorWindowTripsTempError(t *testing.T) {
	setupTestRedis(t)
	account := testAccount(5, 10)
	seedAccounts(t, account)

	for i := 0; i <= common.ErrorWindowThreshold; i++ {
		ReportOutcome(account, 500, "", 0)
	}

	status, cause := GetAccountStatus(account)
	assert.Equal(t, common.AccountStatusTempError, status)
	assert.Contains(t, cause, "upstream errors")
}

func TestReportOutcomeTransportErrorCountsTowardWindow(t *testing.T) {
	setupTestRedis(t)
	account := testAccount(6, 10)
	seedAccounts(t, account)

	for i := 0; i <= common.ErrorWindowThreshold; i++ {
		ReportOutcome(account, 0, "connection reset", 0)
	}
	status, _ := GetAccountStatus(account)
	assert.Equal(t, common.AccountStatusTempError, status)
}

func TestReportOutcomeSuccessClearsRecoverableStates(t *testing.T) {
	setupTestRedis(t)
	account := testAccount(7, 10)
	seedAccounts(t, account)

	ReportOutcome(account, 429, "", 0)
	require.False(t, IsAccountUsable(account))

	ReportOutcome(account, 200, "{}", 0)
	assert.True(t, IsAccountUsable(account))
}

func TestReportOutcomeSuccessResetsErrorWindow(t *testing.T) {
	setupTestRedis(t)
	account := testAccount(8, 10)
	seedAccounts(t, account)

	for i := 0; i < common.ErrorWindowThreshold; i++ {
		ReportOutcome(account, 500, "", 0)
	}
	ReportOutcome(account, 200, "{}", 0)
	// window is empty again, the next burst has to start over
	for i := 0; i < common.ErrorWindowThreshold; i++ {
		ReportOutcome(account, 500, "", 0)
	}
	status, _ := GetAccountStatus(account)
	assert.Equal(t, common.AccountStatusActive, status)
}

func TestReportOutcomeUnauthorizedIsPersisted(t *testing.T) {
	setupTestRedis(t)
	setupTestDB(t)
	account := testAccount(9, 10)
	require.NoError(t, account.Insert())
	seedAccounts(t, account)

	ReportOutcome(account, 401, "", 0)

	stored, err := model.GetAccountById(account.Id)
	require.NoError(t, err)
	assert.Equal(t, common.AccountStatusUnauthorized, stored.Status)

	// a later 2xx must not resurrect it
	ReportOutcome(account, 200, "{}", 0)
	assert.False(t, IsAccountUsable(stored))
}

func TestReportOutcomeBlockedOn403(t *testing.T) {
	setupTestRedis(t)
	setupTestDB(t)
	account := testAccount(10, 10)
	require.NoError(t, account.Insert())
	seedAccounts(t, account)

	ReportOutcome(account, 403, "", 0)

	stored, err := model.GetAccountById(account.Id)
	require.NoError(t, err)
	assert.Equal(t, common.AccountStatusBlocked, stored.Status)
}

func TestReportOutcomeDisabledOrgDisguisedAsSuccess(t *testing.T) {
	setupTestRedis(t)
	setupTestDB(t)
	account := testAccount(11, 10)
	require.NoError(t, account.Insert())
	seedAccounts(t, account)

	ReportOutcome(account, 200, `{"error":"This organization has been disabled."}`, 0)

	stored, err := model.GetAccountById(account.Id)
	require.NoError(t, err)
	assert.Equal(t, common.AccountStatusBlocked, stored.Status)
}

func TestBlockedReleasesStickySessions(t *testing.T) {
	setupTestRedis(t)
	setupTestDB(t)
	account := testAccount(12, 10)
	require.NoError(t, account.Insert())
	seedAccounts(t, account)

	require.NoError(t, common.SetStickySession("fp-blocked", account.Id, 60))
	ReportOutcome(account, 403, "", 0)

	boundId, err := common.GetStickySessionAccount("fp-blocked")
	require.NoError(t, err)
	assert.Equal(t, 0, boundId)
}

func TestSetQuotaExceededExpires(t *testing.T) {
	mr := setupTestRedis(t)
	account := testAccount(13, 10)
	seedAccounts(t, account)

	SetQuotaExceeded(account.Id, "daily quota exhausted", time.Hour)
	status, _ := GetAccountStatus(account)
	require.Equal(t, common.AccountStatusQuotaExceeded, status)

	mr.FastForward(time.Hour + time.Second)
	assert.True(t, IsAccountUsable(account))
}

func TestResetAccountStatus(t *testing.T) {
	setupTestRedis(t)
	setupTestDB(t)
	account := testAccount(14, 10)
	require.NoError(t, account.Insert())
	seedAccounts(t, account)

	ReportOutcome(account, 401, "", 0)
	stored, err := model.GetAccountById(account.Id)
	require.NoError(t, err)
	require.Equal(t, common.AccountStatusUnauthorized, stored.Status)

	ResetAccountStatus(account.Id)

	stored, err = model.GetAccountById(account.Id)
	require.NoError(t, err)
	assert.Equal(t, common.AccountStatusActive, stored.Status)
	assert.True(t, IsAccountUsable(stored))
}
