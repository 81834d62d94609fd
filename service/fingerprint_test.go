package service

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relayhub/relayhub/dto"
)

func fingerprintRequest() *dto.RelayRequest {
	temperature := 0.7
	return &dto.RelayRequest{
		Model: "claude-sonnet-4-20250514",
		Messages: []dto.Message{
			{Role: "user", Content: json.RawMessage(`"hello"`)},
		},
		System:      json.RawMessage(`"be brief"`),
		MaxTokens:   1024,
		Temperature: &temperature,
	}
}

func TestRequestFingerprintStable(t *testing.T) {
	a := RequestFingerprint(fingerprintRequest())
	b := RequestFingerprint(fingerprintRequest())
	assert.Equal(t, a, b)
	assert.Len(t, a, 32)
}

func TestRequestFingerprintIgnoresStreamAndMetadata(t *testing.T) {
	base := RequestFingerprint(fingerprintRequest())

	streaming := fingerprintRequest()
	streaming.Stream = true
	assert.Equal(t, base, RequestFingerprint(streaming))

	withMetadata := fingerprintRequest()
	withMetadata.Metadata = json.RawMessage(`{"user_id":"u-123"}`)
	assert.Equal(t, base, RequestFingerprint(withMetadata))
}

func TestRequestFingerprintSensitivity(t *testing.T) {
	base := RequestFingerprint(fingerprintRequest())

	tests := []struct {
		name   string
		mutate func(r *dto.RelayRequest)
	}{
		{"model", func(r *dto.RelayRequest) { r.Model = "claude-opus-4-20250514" }},
		{"message content", func(r *dto.RelayRequest) { r.Messages[0].Content = json.RawMessage(`"bye"`) }},
		{"message role", func(r *dto.RelayRequest) { r.Messages[0].Role = "assistant" }},
		{"system", func(r *dto.RelayRequest) { r.System = json.RawMessage(`"be verbose"`) }},
		{"max_tokens", func(r *dto.RelayRequest) { r.MaxTokens = 2048 }},
		{"temperature", func(r *dto.RelayRequest) { *r.Temperature = 0.2 }},
		{"top_p", func(r *dto.RelayRequest) { p := 0.9; r.TopP = &p }},
		{"top_k", func(r *dto.RelayRequest) { k := 40; r.TopK = &k }},
		{"stop_sequences", func(r *dto.RelayRequest) { r.StopSequences = []string{"END"} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			request := fingerprintRequest()
			tt.mutate(request)
			assert.NotEqual(t, base, RequestFingerprint(request))
		})
	}
}
