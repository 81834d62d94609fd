package claude

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/relayhub/relayhub/common"
	"github.com/relayhub/relayhub/dto"
	"github.com/relayhub/relayhub/relay/channel"
	relaycommon "github.com/relayhub/relayhub/relay/common"
	"github.com/relayhub/relayhub/types"
)

const ChannelName = "claude"

type Adaptor struct{}

func (a *Adaptor) Init(info *relaycommon.RelayInfo) {}

func (a *Adaptor) GetRequestURL(info *relaycommon.RelayInfo) (string, error) {
	return fmt.Sprintf("%s/v1/messages", info.BaseUrl), nil
}

func (a *Adaptor) SetupRequestHeader(c *gin.Context, req *http.Header, info *relaycommon.RelayInfo) error {
	channel.SetupApiRequestHeader(info, c, req)

	anthropicVersion := c.Request.Header.Get("anthropic-version")
	if anthropicVersion == "" {
		anthropicVersion = "2023-06-01"
	}
	req.Set("anthropic-version", anthropicVersion)

	if info.AccountKind == common.AccountKindOfficialOAuth {
		req.Set("Authorization", "Bearer "+info.ApiKey)
		// OAuth credentials are only accepted together with this beta flag.
		if req.Get("anthropic-beta") == "" {
			req.Set("anthropic-beta", "oauth-2025-04-20")
		}
	} else {
		req.Set("x-api-key", info.ApiKey)
	}
	return nil
}

// ConvertRequest rewrites the requested model to the account's mapped
// upstream name and pins the stream flag to the attempt mode, so a
// non-streaming fallback can reuse the original request.
func (a *Adaptor) ConvertRequest(c *gin.Context, info *relaycommon.RelayInfo, request *dto.RelayRequest) (any, error) {
	if request == nil {
		return nil, errors.New("request is nil")
	}
	converted := *request
	converted.Model = info.UpstreamModelName
	converted.Stream = info.IsStream
	return &converted, nil
}

func (a *Adaptor) DoRequest(c *gin.Context, info *relaycommon.RelayInfo, requestBody io.Reader) (*http.Response, error) {
	return channel.DoApiRequest(a, c, info, requestBody)
}

func (a *Adaptor) DoResponse(c *gin.Context, resp *http.Response, info *relaycommon.RelayInfo) (*dto.Usage, *types.RelayError) {
	if info.IsStream {
		return ClaudeStreamHandler(c, resp, info)
	}
	return ClaudeHandler(c, resp, info)
}

// BuildRequestBody marshals the converted request for the upstream call.
func BuildRequestBody(converted any) (io.Reader, error) {
	data, err := common.Marshal(converted)
	if err != nil {
		return nil, err
	}
	return bytes.NewReader(data), nil
}
