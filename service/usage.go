package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/relayhub/relayhub/common"
	"github.com/relayhub/relayhub/dto"
	"github.com/relayhub/relayhub/logger"
	"github.com/relayhub/relayhub/model"

	"github.com/shopspring/decimal"
)

const DailyCostPrefix = "account_daily_cost:"

// modelRate is the USD price per million tokens for one token class.
type modelRate struct {
	Input         decimal.Decimal
	Output        decimal.Decimal
	CacheCreation decimal.Decimal
	CacheRead     decimal.Decimal
}

var modelRates = map[string]modelRate{
	"claude-3-5-haiku-20241022": {
		Input:         decimal.NewFromFloat(0.8),
		Output:        decimal.NewFromFloat(4),
		CacheCreation: decimal.NewFromFloat(1),
		CacheRead:     decimal.NewFromFloat(0.08),
	},
	"claude-sonnet-4-20250514": {
		Input:         decimal.NewFromFloat(3),
		Output:        decimal.NewFromFloat(15),
		CacheCreation: decimal.NewFromFloat(3.75),
		CacheRead:     decimal.NewFromFloat(0.3),
	},
	"claude-opus-4-20250514": {
		Input:         decimal.NewFromFloat(15),
		Output:        decimal.NewFromFloat(75),
		CacheCreation: decimal.NewFromFloat(18.75),
		CacheRead:     decimal.NewFromFloat(1.5),
	},
}

var defaultRate = modelRate{
	Input:         decimal.NewFromFloat(3),
	Output:        decimal.NewFromFloat(15),
	CacheCreation: decimal.NewFromFloat(3.75),
	CacheRead:     decimal.NewFromFloat(0.3),
}

var million = decimal.NewFromInt(1_000_000)

// microUSD granularity keeps cost counters in integers so they can be
// accumulated with INCRBY instead of read-modify-write floats.
var microUSDPerUSD = decimal.NewFromInt(1_000_000)

var (
	localDailyCost     = make(map[string]int64)
	localDailyCostLock sync.Mutex
)

func getModelRate(modelName string) modelRate {
	if rate, ok := modelRates[modelName]; ok {
		return rate
	}
	// Date-suffixed snapshots share the base model's pricing.
	for name, rate := range modelRates {
		if idx := strings.LastIndex(name, "-2"); idx > 0 && strings.HasPrefix(modelName, name[:idx]) {
			return rate
		}
	}
	return defaultRate
}

// ComputeCost converts a usage record into micro-USD for the given model.
func ComputeCost(modelName string, usage dto.Usage) int64 {
	rate := getModelRate(modelName)
	cost := decimal.NewFromInt(int64(usage.InputTokens)).Mul(rate.Input).
		Add(decimal.NewFromInt(int64(usage.OutputTokens)).Mul(rate.Output)).
		Add(decimal.NewFromInt(int64(usage.CacheCreationInputTokens)).Mul(rate.CacheCreation)).
		Add(decimal.NewFromInt(int64(usage.CacheReadInputTokens)).Mul(rate.CacheRead)).
		Div(million)
	return cost.Mul(microUSDPerUSD).IntPart()
}

func dailyCostKey(accountId int, now time.Time) string {
	return fmt.Sprintf("%s%d:%s", DailyCostPrefix, accountId, quotaDay(now).Format("2006-01-02"))
}

// quotaDay returns the start of the current quota day, which rolls over at
// QuotaResetHour local time rather than midnight.
func quotaDay(now time.Time) time.Time {
	day := time.Date(now.Year(), now.Month(), now.Day(), common.QuotaResetHour, 0, 0, 0, now.Location())
	if now.Before(day) {
		day = day.AddDate(0, 0, -1)
	}
	return day
}

func untilNextQuotaReset(now time.Time) time.Duration {
	next := quotaDay(now).AddDate(0, 0, 1)
	return next.Sub(now)
}

// RecordUsage accumulates the cost of a completed request against the
// account's daily spend and trips the quota_exceeded state when the account's
// daily limit is crossed. A zero DailyQuota means unlimited.
func RecordUsage(ctx context.Context, account *model.Account, modelName string, usage dto.Usage) {
	if usage.IsZero() {
		return
	}
	costMicro := ComputeCost(modelName, usage)
	now := time.Now()
	key := dailyCostKey(account.Id, now)
	ttl := untilNextQuotaReset(now)

	var total int64
	if common.RedisEnabled {
		var err error
		total, err = common.RedisIncrBy(key, costMicro, ttl)
		if err != nil {
			logger.LogError(ctx, fmt.Sprintf("record usage for account %d failed: %s", account.Id, err.Error()))
			return
		}
	} else {
		localDailyCostLock.Lock()
		localDailyCost[key] += costMicro
		total = localDailyCost[key]
		localDailyCostLock.Unlock()
	}

	logger.LogInfo(ctx, fmt.Sprintf("account %d model %s tokens %d cost %.6f USD, today %.4f USD",
		account.Id, modelName, usage.TotalTokens(), float64(costMicro)/1e6, float64(total)/1e6))

	if account.DailyQuota > 0 && float64(total)/1e6 >= account.DailyQuota {
		SetQuotaExceeded(account.Id,
			fmt.Sprintf("daily quota %.2f USD exhausted", account.DailyQuota),
			untilNextQuotaReset(now))
	}
}

// GetDailySpend returns today's accumulated spend for an account in USD.
func GetDailySpend(accountId int) float64 {
	key := dailyCostKey(accountId, time.Now())
	if common.RedisEnabled {
		val, err := common.RedisGet(key)
		if err != nil {
			return 0
		}
		micro, _ := strconv.ParseInt(val, 10, 64)
		return float64(micro) / 1e6
	}
	localDailyCostLock.Lock()
	defer localDailyCostLock.Unlock()
	return float64(localDailyCost[key]) / 1e6
}
