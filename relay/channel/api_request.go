package channel

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/relayhub/relayhub/logger"
	relaycommon "github.com/relayhub/relayhub/relay/common"
	"github.com/relayhub/relayhub/service"
	"github.com/relayhub/relayhub/types"
)

// Headers forwarded from the caller as-is. Everything else is dropped so
// caller-specific identifiers never reach the upstream. anthropic-* and
// x-stainless-* prefixes are allowed separately.
var passThroughHeaders = map[string]bool{
	"accept":          true,
	"accept-language": true,
	"accept-encoding": true,
	"user-agent":      true,
	"content-type":    true,
	"x-app":           true,
	"sec-fetch-mode":  true,
}

func SetupApiRequestHeader(info *relaycommon.RelayInfo, c *gin.Context, req *http.Header) {
	req.Set("Content-Type", c.Request.Header.Get("Content-Type"))
	req.Set("Accept", c.Request.Header.Get("Accept"))
	if info.IsStream && c.Request.Header.Get("Accept") == "" {
		req.Set("Accept", "text/event-stream")
	}

	for key, values := range c.Request.Header {
		lowerKey := strings.ToLower(key)
		if !passThroughHeaders[lowerKey] &&
			!strings.HasPrefix(lowerKey, "anthropic-") &&
			!strings.HasPrefix(lowerKey, "x-stainless-") {
			continue
		}
		if lowerKey == "authorization" || lowerKey == "x-api-key" {
			continue
		}
		for _, value := range values {
			req.Add(key, value)
		}
	}
}

func DoApiRequest(a Adaptor, c *gin.Context, info *relaycommon.RelayInfo, requestBody io.Reader) (*http.Response, error) {
	fullRequestURL, err := a.GetRequestURL(info)
	if err != nil {
		return nil, fmt.Errorf("get request url failed: %w", err)
	}
	// The request is deliberately not bound to the client's context: a client
	// disconnect must not abort the upstream call before the grace period
	// logic has had its say. The http client's own timeout bounds the attempt.
	req, err := http.NewRequest(c.Request.Method, fullRequestURL, requestBody)
	if err != nil {
		return nil, fmt.Errorf("new request failed: %w", err)
	}
	headers := req.Header
	if err = a.SetupRequestHeader(c, &headers, info); err != nil {
		return nil, fmt.Errorf("setup request header failed: %w", err)
	}
	return doRequest(c, req, info)
}

func doRequest(c *gin.Context, req *http.Request, info *relaycommon.RelayInfo) (*http.Response, error) {
	var client *http.Client
	var err error
	if info.Proxy != "" {
		client, err = service.NewProxyHttpClient(info.Proxy)
		if err != nil {
			return nil, fmt.Errorf("new proxy http client failed: %w", err)
		}
	} else {
		client = service.GetHttpClient()
	}

	resp, err := client.Do(req)
	if err != nil {
		logger.LogError(c.Request.Context(), "do request failed: "+err.Error())
		return nil, types.WrapRelayError(err, 0, types.ErrorCodeDoRequestFailed, "do request failed")
	}
	if resp == nil {
		return nil, errors.New("resp is nil")
	}
	return resp, nil
}
