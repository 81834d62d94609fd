package controller

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/relayhub/relayhub/common"
	"github.com/relayhub/relayhub/model"
	"github.com/relayhub/relayhub/service"
)

// accountView augments the stored record with the live ephemeral state an
// operator needs when deciding whether to intervene.
type accountView struct {
	*model.Account
	LiveStatus    string  `json:"live_status"`
	LiveCause     string  `json:"live_cause"`
	LeaseCount    int64   `json:"lease_count"`
	SessionCount  int     `json:"session_count"`
	DailySpendUSD float64 `json:"daily_spend_usd"`
}

func newAccountView(account *model.Account) accountView {
	status, cause := service.GetAccountStatus(account)
	sessions, _ := common.GetAccountStickySessionCount(account.Id)
	return accountView{
		Account:       account,
		LiveStatus:    status,
		LiveCause:     cause,
		LeaseCount:    service.GetLeaseCount(account.Id),
		SessionCount:  sessions,
		DailySpendUSD: service.GetDailySpend(account.Id),
	}
}

func GetAllAccounts(c *gin.Context) {
	accounts, err := model.GetAllAccounts()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	views := make([]accountView, 0, len(accounts))
	for _, account := range accounts {
		views = append(views, newAccountView(account))
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": views})
}

func GetAccount(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid account id"})
		return
	}
	account, err := model.GetAccountById(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "account not found"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": newAccountView(account)})
}

func AddAccount(c *gin.Context) {
	account := model.Account{}
	if err := c.ShouldBindJSON(&account); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	if err := account.Insert(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": account})
}

func UpdateAccount(c *gin.Context) {
	account := model.Account{}
	if err := c.ShouldBindJSON(&account); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": err.Error()})
		return
	}
	if account.Id == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "account id is required"})
		return
	}
	if err := account.Update(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "data": account})
}

func DeleteAccount(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid account id"})
		return
	}
	account, err := model.GetAccountById(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "account not found"})
		return
	}
	if err := account.Delete(); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ResetAccountStatus clears every ephemeral penalty on an account and, for
// persisted states like unauthorized, flips the stored status back to active.
// This is the manual intervention path for unauthorized/blocked accounts.
func ResetAccountStatus(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid account id"})
		return
	}
	if _, err := model.GetAccountById(id); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"success": false, "message": "account not found"})
		return
	}
	service.ResetAccountStatus(id)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RefreshAccountCache reloads the in-memory pool from the database ahead of
// the periodic sync, e.g. after editing rows out of band.
func RefreshAccountCache(c *gin.Context) {
	model.InitAccountCache()
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ReleaseAccountSessions drops every sticky binding for an account, forcing
// fresh scheduling decisions for its sessions.
func ReleaseAccountSessions(c *gin.Context) {
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "message": "invalid account id"})
		return
	}
	if err := common.ReleaseAllAccountStickySessions(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}
