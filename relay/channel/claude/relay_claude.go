package claude

import (
	"bufio"
	"bytes"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tidwall/gjson"

	"github.com/relayhub/relayhub/common"
	"github.com/relayhub/relayhub/dto"
	"github.com/relayhub/relayhub/logger"
	relaycommon "github.com/relayhub/relayhub/relay/common"
	"github.com/relayhub/relayhub/relay/helper"
	"github.com/relayhub/relayhub/service"
	"github.com/relayhub/relayhub/types"
)

const (
	sseDataPrefix     = "data: "
	streamBufferSize  = 64 * 1024
	maxStreamLineSize = 4 * 1024 * 1024
	maxErrorBodySize  = 64 * 1024
)

// extractUsage pulls token counts out of a message_start or message_delta
// payload. Both carry a usage object; fields absent in one event arrive in
// the other, so results are merged by the caller.
func extractUsage(data []byte) dto.Usage {
	root := gjson.ParseBytes(data)
	usage := root.Get("usage")
	if !usage.Exists() {
		usage = root.Get("message.usage")
	}
	if !usage.Exists() {
		return dto.Usage{}
	}
	return dto.Usage{
		InputTokens:              int(usage.Get("input_tokens").Int()),
		OutputTokens:             int(usage.Get("output_tokens").Int()),
		CacheCreationInputTokens: int(usage.Get("cache_creation_input_tokens").Int()),
		CacheReadInputTokens:     int(usage.Get("cache_read_input_tokens").Int()),
	}
}

// errorStatusFromType maps the error taxonomy of upstream stream error
// frames back onto HTTP status codes so health reporting stays uniform.
func errorStatusFromType(errType string) int {
	switch errType {
	case "overloaded_error":
		return 529
	case "rate_limit_error":
		return 429
	case "authentication_error":
		return 401
	case "permission_error":
		return 403
	case "invalid_request_error":
		return 400
	default:
		return 500
	}
}

// ClaudeStreamHandler forwards upstream SSE frames to the caller line by
// line while accumulating usage from message_start/message_delta events.
// A client disconnect stops forwarding but keeps draining the upstream for
// the configured grace period so a nearly finished generation still yields
// a usage record.
func ClaudeStreamHandler(c *gin.Context, resp *http.Response, info *relaycommon.RelayInfo) (*dto.Usage, *types.RelayError) {
	defer resp.Body.Close()

	helper.SetEventStreamHeaders(c)

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, streamBufferSize), maxStreamLineSize)

	usage := &dto.Usage{}
	clientGone := c.Request.Context().Done()
	disconnected := false
	var graceDeadline time.Time
	var streamErr *types.RelayError

	// Streams can outlive the concurrency lease; extend it while frames keep
	// flowing so a slot is never reclaimed under a live stream.
	leaseRefreshInterval := time.Duration(common.LeaseSeconds) * time.Second / 2
	nextLeaseRefresh := time.Now().Add(leaseRefreshInterval)

	for scanner.Scan() {
		line := scanner.Bytes()

		if time.Now().After(nextLeaseRefresh) {
			service.RefreshLease(info.AccountId, info.RequestId, common.LeaseSeconds)
			nextLeaseRefresh = time.Now().Add(leaseRefreshInterval)
		}

		if !disconnected {
			select {
			case <-clientGone:
				disconnected = true
				grace := time.Duration(common.ClientDisconnectGraceSeconds) * time.Second
				if grace <= 0 {
					logger.LogInfo(c.Request.Context(), "client disconnected, grace disabled, aborting upstream")
					return usage, streamErr
				}
				graceDeadline = time.Now().Add(grace)
				logger.LogInfo(c.Request.Context(), "client disconnected, draining upstream for usage")
			default:
			}
		} else if time.Now().After(graceDeadline) {
			logger.LogWarn(c.Request.Context(), "disconnect grace period elapsed, aborting upstream")
			break
		}

		if bytes.HasPrefix(line, []byte(sseDataPrefix)) {
			data := bytes.TrimPrefix(line, []byte(sseDataPrefix))
			switch gjson.GetBytes(data, "type").String() {
			case "message_start", "message_delta":
				usage.Merge(extractUsage(data))
			case "error":
				errType := gjson.GetBytes(data, "error.type").String()
				errMsg := gjson.GetBytes(data, "error.message").String()
				streamErr = types.NewRelayError(errorStatusFromType(errType),
					types.ErrorCodeUpstreamError, errMsg)
			}
		}

		if !disconnected {
			if err := helper.WriteRawLine(c, line); err != nil {
				// Write failure is the disconnect signal when the context
				// has not fired yet.
				disconnected = true
				grace := time.Duration(common.ClientDisconnectGraceSeconds) * time.Second
				if grace <= 0 {
					return usage, streamErr
				}
				graceDeadline = time.Now().Add(grace)
			} else {
				info.BytesForwarded += int64(len(line)) + 1
			}
		}
	}

	if err := scanner.Err(); err != nil && streamErr == nil {
		streamErr = types.WrapRelayError(err, 0, types.ErrorCodeUpstreamError, "read upstream stream failed")
	}
	return usage, streamErr
}

// ClaudeHandler collects a non-streaming response. The body is buffered into
// the relay info instead of being written out, so the orchestrator can cache
// it and synthesize a stream from it when serving a streaming fallback.
func ClaudeHandler(c *gin.Context, resp *http.Response, info *relaycommon.RelayInfo) (*dto.Usage, *types.RelayError) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, types.WrapRelayError(err, 0, types.ErrorCodeUpstreamError, "read upstream response failed")
	}

	if gjson.GetBytes(body, "type").String() == "error" {
		errType := gjson.GetBytes(body, "error.type").String()
		errMsg := gjson.GetBytes(body, "error.message").String()
		return nil, types.NewRelayError(errorStatusFromType(errType), types.ErrorCodeUpstreamError, errMsg)
	}

	info.ResponseBody = body
	info.ResponseContentType = resp.Header.Get("Content-Type")
	if info.ResponseContentType == "" {
		info.ResponseContentType = "application/json"
	}

	usage := extractUsage(body)
	return &usage, nil
}

// ReadErrorBody drains a failed response for health classification, bounded
// so a misbehaving upstream cannot balloon memory.
func ReadErrorBody(resp *http.Response) string {
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(body))
}
