package common

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relayhub/relayhub/common"
	"github.com/relayhub/relayhub/model"
)

// RelayInfo carries everything one upstream attempt needs: the chosen
// account, the resolved credential and the model name after mapping. A new
// RelayInfo is built per attempt so retries on other accounts never leak
// state into each other.
type RelayInfo struct {
	RequestId         string
	Account           *model.Account
	AccountId         int
	AccountKind       string
	BaseUrl           string
	Proxy             string
	ApiKey            string
	OriginModelName   string
	UpstreamModelName string
	IsStream          bool
	StartTime         time.Time

	// Attempt outcome, filled by the response handler.
	BytesForwarded      int64
	ResponseBody        []byte
	ResponseContentType string
}

const defaultClaudeBaseUrl = "https://api.anthropic.com"

func GenRelayInfo(c *gin.Context, account *model.Account, apiKey string, originModel string, isStream bool) *RelayInfo {
	baseUrl := account.BaseURL
	if baseUrl == "" {
		baseUrl = defaultClaudeBaseUrl
	}
	return &RelayInfo{
		RequestId:         c.GetString(common.RequestIdKey),
		Account:           account,
		AccountId:         account.Id,
		AccountKind:       account.Kind,
		BaseUrl:           baseUrl,
		Proxy:             account.Proxy,
		ApiKey:            apiKey,
		OriginModelName:   originModel,
		UpstreamModelName: account.GetMappedModel(originModel),
		IsStream:          isStream,
		StartTime:         time.Now(),
	}
}
