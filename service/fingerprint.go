package service

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/relayhub/relayhub/dto"
)

// RequestFingerprint hashes the request fields that determine the output:
// model, messages, system prompt, sampling parameters and stop sequences.
// The streaming flag and free-form metadata are deliberately excluded so a
// stream and its buffered twin share one fingerprint, which drives both
// sticky routing and response caching.
func RequestFingerprint(request *dto.RelayRequest) string {
	var b strings.Builder
	b.WriteString(request.Model)
	b.WriteByte('\n')
	for _, msg := range request.Messages {
		b.WriteString(msg.Role)
		b.WriteByte(':')
		b.Write(msg.Content)
		b.WriteByte('\n')
	}
	if len(request.System) > 0 {
		b.Write(request.System)
		b.WriteByte('\n')
	}
	b.WriteString(strconv.Itoa(request.MaxTokens))
	if request.Temperature != nil {
		b.WriteString("|t=" + strconv.FormatFloat(*request.Temperature, 'f', -1, 64))
	}
	if request.TopP != nil {
		b.WriteString("|p=" + strconv.FormatFloat(*request.TopP, 'f', -1, 64))
	}
	if request.TopK != nil {
		b.WriteString("|k=" + strconv.Itoa(*request.TopK))
	}
	if len(request.StopSequences) > 0 {
		stops, _ := json.Marshal(request.StopSequences)
		b.Write(stops)
	}

	hash := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(hash[:])[:32]
}
