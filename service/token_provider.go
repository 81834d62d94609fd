package service

import (
	"fmt"
	"os"

	"github.com/relayhub/relayhub/types"
)

// AccessTokenProvider resolves the credential used to call the upstream API
// on behalf of an account. Resolution happens immediately before every
// attempt; results are never cached here so that an external refresher can
// rotate tokens without restarting the gateway.
type AccessTokenProvider func(accountId int) (string, error)

var accessTokenProvider AccessTokenProvider = envAccessToken

// SetAccessTokenProvider installs a custom credential resolver, e.g. one
// backed by an OAuth refresher or a secrets manager.
func SetAccessTokenProvider(p AccessTokenProvider) {
	if p != nil {
		accessTokenProvider = p
	}
}

// GetValidAccessToken returns the current credential for an account. A
// resolution failure is returned as unauthorized so the scheduler stops
// routing to the account until the credential is fixed.
func GetValidAccessToken(accountId int) (string, *types.RelayError) {
	token, err := accessTokenProvider(accountId)
	if err != nil {
		return "", types.NewRelayErrorf(401, types.ErrorCodeUpstreamError,
			"resolve access token for account %d failed: %s", accountId, err.Error())
	}
	if token == "" {
		return "", types.NewRelayErrorf(401, types.ErrorCodeUpstreamError,
			"account %d has no access token configured", accountId)
	}
	return token, nil
}

func envAccessToken(accountId int) (string, error) {
	if token := os.Getenv(fmt.Sprintf("ACCOUNT_TOKEN_%d", accountId)); token != "" {
		return token, nil
	}
	return os.Getenv("ACCOUNT_TOKEN_DEFAULT"), nil
}
