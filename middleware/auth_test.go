package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relayhub/relayhub/constant"
)

func TestLoadAuthTokens(t *testing.T) {
	t.Setenv("AUTH_TOKENS", "alice:sk-a, bob:sk-b ,sk-bare,")
	loadAuthTokens()

	assert.Equal(t, "alice", authTokens["sk-a"])
	assert.Equal(t, "bob", authTokens["sk-b"])
	assert.Equal(t, "default", authTokens["sk-bare"])
	assert.Len(t, authTokens, 3)
}

func authRequest(r *gin.Engine, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestTokenAuth(t *testing.T) {
	authTokensOnce.Do(func() {})
	authTokens = map[string]string{"sk-a": "alice"}

	gin.SetMode(gin.TestMode)
	r := gin.New()
	var gotName string
	r.POST("/v1/messages", TokenAuth(), func(c *gin.Context) {
		gotName = c.GetString(constant.ContextKeyTokenName)
		c.Status(http.StatusOK)
	})

	w := authRequest(r, "Authorization", "Bearer sk-a")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "alice", gotName)

	w = authRequest(r, "x-api-key", "sk-a")
	require.Equal(t, http.StatusOK, w.Code)

	w = authRequest(r, "Authorization", "Bearer sk-wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "invalid access token")

	w = authRequest(r, "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Body.String(), "missing access token")
}
