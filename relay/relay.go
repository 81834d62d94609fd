package relay

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/relayhub/relayhub/common"
	"github.com/relayhub/relayhub/constant"
	"github.com/relayhub/relayhub/dto"
	"github.com/relayhub/relayhub/logger"
	"github.com/relayhub/relayhub/relay/channel/claude"
	relaycommon "github.com/relayhub/relayhub/relay/common"
	"github.com/relayhub/relayhub/relay/helper"
	"github.com/relayhub/relayhub/service"
	"github.com/relayhub/relayhub/types"
)

// RelayMessages drives one inbound request through scheduling, leasing and
// the upstream call, failing over across distinct accounts. Streaming
// requests get up to MaxStreamRetries streaming attempts and then a buffered
// fallback replayed as a synthetic stream; buffered requests go through the
// response cache. Returns nil once a response (or terminal stream error
// frame) has been written to the caller.
func RelayMessages(c *gin.Context) *types.RelayError {
	request, ok := c.MustGet(constant.ContextKeyRequestBody).(*dto.RelayRequest)
	if !ok {
		return types.NewRelayError(http.StatusBadRequest, types.ErrorCodeInvalidRequest, "request body missing")
	}
	originModel := c.GetString(constant.ContextKeyOriginModel)
	fingerprint := c.GetString(constant.ContextKeyFingerprint)
	tokenName := c.GetString(constant.ContextKeyTokenName)
	isStream := c.GetBool(constant.ContextKeyIsStream)
	excluded := make(map[int]bool)

	if !isStream {
		response, hit, relayErr := service.GetOrFetch(c.Request.Context(), fingerprint, func() (*service.CachedResponse, *types.RelayError) {
			return runBufferedPhase(c, request, originModel, fingerprint, tokenName, excluded, common.MaxStreamRetries)
		})
		if relayErr != nil {
			return relayErr
		}
		if hit {
			logger.LogDebug(c.Request.Context(), "served from response cache: "+fingerprint)
		}
		c.Data(response.StatusCode, response.ContentType, response.Body)
		return nil
	}

	var lastErr *types.RelayError
	for attempt := 1; attempt <= common.MaxStreamRetries; attempt++ {
		forwarded, relayErr := doStreamAttempt(c, request, originModel, fingerprint, tokenName, excluded)
		if relayErr == nil {
			return nil
		}
		if forwarded {
			// Partial output already reached the caller. The stream cannot
			// be restarted on another account, so terminate it explicitly.
			emitErrorEvent(c, relayErr)
			return nil
		}
		if relayErr.Code == types.ErrorCodeNoAvailableAccount && lastErr != nil {
			// pool exhausted mid-phase; the terminal error should carry the
			// last real upstream failure
			break
		}
		lastErr = relayErr
		if !relayErr.IsRetryable() {
			return relayErr
		}
		logger.LogWarn(c.Request.Context(), "streaming attempt ", strconv.Itoa(attempt), " failed: ", relayErr.Error())
	}

	// Streaming exhausted. The buffered fallback reuses the exclusion set so
	// no account is tried twice within this request.
	response, relayErr := runBufferedPhase(c, request, originModel, fingerprint, tokenName, excluded, common.MaxFallbackRetries)
	if relayErr != nil {
		if lastErr != nil && relayErr.Code == types.ErrorCodeNoAvailableAccount {
			relayErr = lastErr
		}
		terminal := types.NewRelayError(relayErr.StatusCode, types.ErrorCodeAllAttemptsFailed, relayErr.Message)
		emitErrorEvent(c, terminal)
		return nil
	}
	helper.SetEventStreamHeaders(c)
	if err := claude.SynthesizeStream(c, response.Body); err != nil {
		logger.LogError(c.Request.Context(), "synthesize stream failed: "+err.Error())
	}
	return nil
}

// runBufferedPhase performs bounded non-streaming attempts over the shared
// exclusion set.
func runBufferedPhase(c *gin.Context, request *dto.RelayRequest, originModel, fingerprint, tokenName string, excluded map[int]bool, maxAttempts int) (*service.CachedResponse, *types.RelayError) {
	var lastErr *types.RelayError
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		response, relayErr := doBufferedAttempt(c, request, originModel, fingerprint, tokenName, excluded)
		if relayErr == nil {
			return response, nil
		}
		lastErr = relayErr
		if !relayErr.IsRetryable() {
			break
		}
		logger.LogWarn(c.Request.Context(), "buffered attempt ", strconv.Itoa(attempt), " failed: ", relayErr.Error())
	}
	return nil, lastErr
}

// doStreamAttempt runs a single streaming attempt. The bool result reports
// whether any bytes reached the caller before the failure, which makes the
// failure terminal regardless of retry budget.
func doStreamAttempt(c *gin.Context, request *dto.RelayRequest, originModel, fingerprint, tokenName string, excluded map[int]bool) (bool, *types.RelayError) {
	info, release, relayErr := prepareAttempt(c, originModel, fingerprint, tokenName, excluded, true)
	if relayErr != nil {
		return false, relayErr
	}
	defer release()

	resp, relayErr := issueUpstreamRequest(c, info, request, excluded)
	if relayErr != nil {
		return false, relayErr
	}

	adaptor := &claude.Adaptor{}
	usage, streamErr := adaptor.DoResponse(c, resp, info)

	if streamErr != nil {
		service.ReportOutcome(info.Account, streamErr.StatusCode, streamErr.Message, 0)
		excluded[info.AccountId] = true
	} else {
		service.ReportOutcome(info.Account, resp.StatusCode, "", 0)
	}
	if info.BytesForwarded > 0 && usage != nil && !usage.IsZero() {
		service.RecordUsage(c.Request.Context(), info.Account, info.UpstreamModelName, *usage)
	}
	return info.BytesForwarded > 0, streamErr
}

// doBufferedAttempt runs a single non-streaming attempt and packages the
// collected body for caching or stream synthesis.
func doBufferedAttempt(c *gin.Context, request *dto.RelayRequest, originModel, fingerprint, tokenName string, excluded map[int]bool) (*service.CachedResponse, *types.RelayError) {
	info, release, relayErr := prepareAttempt(c, originModel, fingerprint, tokenName, excluded, false)
	if relayErr != nil {
		return nil, relayErr
	}
	defer release()

	resp, relayErr := issueUpstreamRequest(c, info, request, excluded)
	if relayErr != nil {
		return nil, relayErr
	}

	adaptor := &claude.Adaptor{}
	usage, handlerErr := adaptor.DoResponse(c, resp, info)
	if handlerErr != nil {
		service.ReportOutcome(info.Account, handlerErr.StatusCode, handlerErr.Message, 0)
		excluded[info.AccountId] = true
		return nil, handlerErr
	}

	service.ReportOutcome(info.Account, resp.StatusCode, string(info.ResponseBody), 0)
	if usage != nil && !usage.IsZero() {
		service.RecordUsage(c.Request.Context(), info.Account, info.UpstreamModelName, *usage)
	}

	response := &service.CachedResponse{
		StatusCode:  resp.StatusCode,
		ContentType: info.ResponseContentType,
		Body:        info.ResponseBody,
		CachedAt:    time.Now().Unix(),
	}
	if usage != nil {
		response.Usage = *usage
	}
	return response, nil
}

// prepareAttempt runs the scheduling pipeline for one attempt: account
// selection, lease acquisition and credential resolution. The returned
// release func gives the lease back and must run whatever the outcome.
func prepareAttempt(c *gin.Context, originModel, fingerprint, tokenName string, excluded map[int]bool, isStream bool) (*relaycommon.RelayInfo, func(), *types.RelayError) {
	ctx := c.Request.Context()

	account, relayErr := service.SelectAccount(ctx, originModel, fingerprint, tokenName, excluded)
	if relayErr != nil {
		return nil, nil, relayErr
	}

	requestId := c.GetString(common.RequestIdKey)
	if _, relayErr = service.AcquireLease(account.Id, requestId, account.ConcurrencyLimit, common.LeaseSeconds); relayErr != nil {
		// At capacity: burn this account for the request and let the retry
		// loop move on. Capacity rejections never touch account health.
		excluded[account.Id] = true
		return nil, nil, relayErr
	}
	release := func() { service.ReleaseLease(account.Id, requestId) }

	token, relayErr := service.GetValidAccessToken(account.Id)
	if relayErr != nil {
		release()
		service.ReportOutcome(account, relayErr.StatusCode, relayErr.Message, 0)
		excluded[account.Id] = true
		return nil, nil, relayErr
	}

	return relaycommon.GenRelayInfo(c, account, token, originModel, isStream), release, nil
}

// issueUpstreamRequest converts, sends and status-checks one upstream call.
// Non-2xx responses are classified for health and converted into retryable
// errors; the response is returned only on 2xx.
func issueUpstreamRequest(c *gin.Context, info *relaycommon.RelayInfo, request *dto.RelayRequest, excluded map[int]bool) (*http.Response, *types.RelayError) {
	adaptor := &claude.Adaptor{}
	adaptor.Init(info)

	converted, err := adaptor.ConvertRequest(c, info, request)
	if err != nil {
		return nil, types.WrapRelayError(err, http.StatusBadRequest, types.ErrorCodeInvalidRequest, "convert request failed")
	}
	body, err := claude.BuildRequestBody(converted)
	if err != nil {
		return nil, types.WrapRelayError(err, http.StatusBadRequest, types.ErrorCodeInvalidRequest, "marshal request failed")
	}

	resp, err := adaptor.DoRequest(c, info, body)
	if err != nil {
		service.ReportOutcome(info.Account, 0, err.Error(), 0)
		excluded[info.AccountId] = true
		if relayErr, ok := err.(*types.RelayError); ok {
			return nil, relayErr
		}
		return nil, types.WrapRelayError(err, 0, types.ErrorCodeDoRequestFailed, "upstream request failed")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errBody := claude.ReadErrorBody(resp)
		service.ReportOutcome(info.Account, resp.StatusCode, errBody, retryAfterDeadline(resp))
		excluded[info.AccountId] = true
		return nil, types.NewRelayErrorf(resp.StatusCode, types.ErrorCodeUpstreamError,
			"upstream returned %d: %s", resp.StatusCode, errBody)
	}
	return resp, nil
}

// retryAfterDeadline turns a Retry-After header into an absolute unix time,
// 0 when absent or unparseable.
func retryAfterDeadline(resp *http.Response) int64 {
	retryAfter := resp.Header.Get("Retry-After")
	if retryAfter == "" {
		return 0
	}
	seconds, err := strconv.Atoi(retryAfter)
	if err != nil || seconds <= 0 {
		return 0
	}
	return time.Now().Unix() + int64(seconds)
}

// emitErrorEvent terminates a stream with a tagged error frame so the caller
// can tell truncation from completion.
func emitErrorEvent(c *gin.Context, relayErr *types.RelayError) {
	message := relayErr.Message
	if common.MaskErrorMessages {
		message = "upstream error"
	}
	payload := dto.NewErrorResponse(string(relayErr.Code), message, time.Now().Unix())
	data, err := common.Marshal(payload)
	if err != nil {
		return
	}
	if !c.Writer.Written() {
		helper.SetEventStreamHeaders(c)
	}
	if err := helper.WriteEvent(c, "error", data); err != nil {
		logger.LogWarn(c.Request.Context(), "write terminal error frame failed: "+err.Error())
	}
}
