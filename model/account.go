package model

import (
	"encoding/json"
	"strings"

	"github.com/relayhub/relayhub/common"

	"github.com/pkg/errors"
)

// Account is a pooled upstream credential. Persisted fields are administrative;
// ephemeral health, leases and last-used ordering live in Redis keyed by Id.
type Account struct {
	Id               int     `json:"id" gorm:"primaryKey"`
	Name             string  `json:"name" gorm:"index"`
	Kind             string  `json:"kind" gorm:"type:varchar(32);default:'console-key'"`
	Priority         int64   `json:"priority" gorm:"bigint;default:100;index"` // lower number wins
	BaseURL          string  `json:"base_url" gorm:"column:base_url"`
	Proxy            string  `json:"proxy"`
	Models           string  `json:"models"`        // CSV allow list, empty = all models
	ModelMapping     string  `json:"model_mapping"` // JSON: requested name -> upstream name
	ConcurrencyLimit int     `json:"concurrency_limit" gorm:"default:0"`
	DailyQuota       float64 `json:"daily_quota" gorm:"default:0"` // USD, 0 = unlimited
	Status           string  `json:"status" gorm:"type:varchar(32);default:'active'"`
	StatusCause      string  `json:"status_cause"`
	PinnedTokens     string  `json:"pinned_tokens"` // CSV caller token names pinned to this account
	CreatedTime      int64   `json:"created_time" gorm:"bigint"`
	UpdatedTime      int64   `json:"updated_time" gorm:"bigint"`
}

// GetModelList returns the allow list, nil meaning all models.
func (a *Account) GetModelList() []string {
	if strings.TrimSpace(a.Models) == "" {
		return nil
	}
	parts := strings.Split(a.Models, ",")
	models := make([]string, 0, len(parts))
	for _, p := range parts {
		if m := strings.TrimSpace(p); m != "" {
			models = append(models, m)
		}
	}
	return models
}

// SupportsModel checks the capability allow list. An empty list means "all".
func (a *Account) SupportsModel(model string) bool {
	list := a.GetModelList()
	if list == nil {
		return true
	}
	for _, m := range list {
		if m == model {
			return true
		}
	}
	return false
}

// GetMappedModel resolves the upstream model name for a requested one.
func (a *Account) GetMappedModel(model string) string {
	if strings.TrimSpace(a.ModelMapping) == "" {
		return model
	}
	mapping := make(map[string]string)
	if err := json.Unmarshal([]byte(a.ModelMapping), &mapping); err != nil {
		common.SysError("invalid model mapping on account " + a.Name + ": " + err.Error())
		return model
	}
	if mapped, ok := mapping[model]; ok && mapped != "" {
		return mapped
	}
	return model
}

// IsPinnedFor reports whether the caller token is pinned to this account.
func (a *Account) IsPinnedFor(tokenName string) bool {
	if tokenName == "" || strings.TrimSpace(a.PinnedTokens) == "" {
		return false
	}
	for _, t := range strings.Split(a.PinnedTokens, ",") {
		if strings.TrimSpace(t) == tokenName {
			return true
		}
	}
	return false
}

func GetAllAccounts() ([]*Account, error) {
	var accounts []*Account
	err := DB.Order("priority asc, id asc").Find(&accounts).Error
	return accounts, err
}

func GetAccountById(id int) (*Account, error) {
	if id == 0 {
		return nil, errors.New("account id is 0")
	}
	account := Account{Id: id}
	err := DB.First(&account, "id = ?", id).Error
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get account #%d", id)
	}
	return &account, nil
}

func (a *Account) Insert() error {
	a.CreatedTime = common.GetTimestamp()
	a.UpdatedTime = a.CreatedTime
	if a.Status == "" {
		a.Status = common.AccountStatusActive
	}
	if err := DB.Create(a).Error; err != nil {
		return errors.Wrap(err, "failed to insert account")
	}
	InitAccountCache()
	return nil
}

func (a *Account) Update() error {
	a.UpdatedTime = common.GetTimestamp()
	if err := DB.Model(a).Updates(a).Error; err != nil {
		return errors.Wrap(err, "failed to update account")
	}
	InitAccountCache()
	return nil
}

func (a *Account) Delete() error {
	if err := DB.Delete(a).Error; err != nil {
		return errors.Wrap(err, "failed to delete account")
	}
	_ = common.ReleaseAllAccountStickySessions(a.Id)
	InitAccountCache()
	return nil
}

// UpdateAccountStatus persists a status transition. Only the manual-recovery
// states (unauthorized, blocked) and explicit resets go through here; the
// time-boxed states live purely in Redis.
func UpdateAccountStatus(id int, status string, cause string) bool {
	err := DB.Model(&Account{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       status,
		"status_cause": cause,
		"updated_time": common.GetTimestamp(),
	}).Error
	if err != nil {
		common.SysError("failed to update account status: " + err.Error())
		return false
	}
	CacheUpdateAccountStatus(id, status, cause)
	return true
}
