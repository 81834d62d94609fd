package channel

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relayhub/relayhub/dto"
	relaycommon "github.com/relayhub/relayhub/relay/common"
	"github.com/relayhub/relayhub/types"
)

// Adaptor is the per-upstream-API surface: build the URL, set the headers,
// rewrite the request body, and consume the response. One adaptor instance
// serves one attempt.
type Adaptor interface {
	Init(info *relaycommon.RelayInfo)
	GetRequestURL(info *relaycommon.RelayInfo) (string, error)
	SetupRequestHeader(c *gin.Context, req *http.Header, info *relaycommon.RelayInfo) error
	ConvertRequest(c *gin.Context, info *relaycommon.RelayInfo, request *dto.RelayRequest) (any, error)
	DoRequest(c *gin.Context, info *relaycommon.RelayInfo, requestBody io.Reader) (*http.Response, error)
	DoResponse(c *gin.Context, resp *http.Response, info *relaycommon.RelayInfo) (*dto.Usage, *types.RelayError)
}
