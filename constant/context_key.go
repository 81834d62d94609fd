package constant

// gin context keys set by the distributor middleware and consumed downstream.
const (
	ContextKeyFingerprint = "fingerprint"
	ContextKeyOriginModel = "origin_model"
	ContextKeyRequestBody = "request_body"
	ContextKeyIsStream    = "is_stream"
	ContextKeyTokenName   = "token_name"
)
