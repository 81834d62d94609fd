package middleware

import (
	"net/http"
	"os"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"github.com/relayhub/relayhub/constant"
	"github.com/relayhub/relayhub/types"
)

var (
	authTokens     map[string]string // token -> caller name
	authTokensOnce sync.Once
)

// loadAuthTokens parses AUTH_TOKENS, a comma-separated list of name:token
// pairs. A bare token without a name authenticates as "default".
func loadAuthTokens() {
	authTokens = make(map[string]string)
	for _, entry := range strings.Split(os.Getenv("AUTH_TOKENS"), ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if name, token, found := strings.Cut(entry, ":"); found {
			authTokens[strings.TrimSpace(token)] = strings.TrimSpace(name)
		} else {
			authTokens[entry] = "default"
		}
	}
}

// TokenAuth authenticates callers against the static token table. The token
// comes from either an Authorization bearer header or x-api-key, matching
// what Anthropic-style clients send.
func TokenAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		authTokensOnce.Do(loadAuthTokens)

		token := strings.TrimPrefix(c.Request.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			token = c.Request.Header.Get("x-api-key")
		}
		if token == "" {
			abortWithMessage(c, http.StatusUnauthorized, string(types.ErrorCodeInvalidRequest), "missing access token")
			return
		}
		name, ok := authTokens[token]
		if !ok {
			abortWithMessage(c, http.StatusUnauthorized, string(types.ErrorCodeInvalidRequest), "invalid access token")
			return
		}
		c.Set(constant.ContextKeyTokenName, name)
		c.Next()
	}
}
