package common

var (
	DebugEnabled  = false
	SyncFrequency = 60 // seconds, account cache sync interval

	MaskErrorMessages = false
)

// Account status values. Exactly one applies to an account at any time.
const (
	AccountStatusActive        = "active"
	AccountStatusRateLimited   = "rate_limited"
	AccountStatusOverloaded    = "overloaded"
	AccountStatusUnauthorized  = "unauthorized"
	AccountStatusBlocked       = "blocked"
	AccountStatusTempError     = "temp_error"
	AccountStatusQuotaExceeded = "quota_exceeded"
)

// Account kinds.
const (
	AccountKindOfficialOAuth = "official-oauth"
	AccountKindConsoleKey    = "console-key"
	AccountKindBedrock       = "bedrock"
	AccountKindCustom        = "custom"
)

// Relay tunables, loaded from env in InitConfig.
var (
	RelayTimeoutSeconds          = 600
	ClientDisconnectGraceSeconds = 180
	MaxStreamRetries             = 3
	MaxFallbackRetries           = 2

	StickySessionTTLMinutes = 60

	RateLimitCooldownSeconds = 60
	OverloadCooldownSeconds  = 600
	TempErrorCooldownSeconds = 300
	ErrorWindowSeconds       = 300
	ErrorWindowThreshold     = 3

	LeaseSeconds = 600

	ResponseCacheEnabled    = true
	ResponseCacheTTLMinutes = 5

	QuotaResetHour = 0
)

func InitConfig() {
	DebugEnabled = GetEnvOrDefaultBool("DEBUG", false)
	MaskErrorMessages = GetEnvOrDefaultBool("MASK_ERROR_MESSAGES", false)
	SyncFrequency = GetEnvOrDefault("SYNC_FREQUENCY", 60)

	RelayTimeoutSeconds = GetEnvOrDefault("RELAY_TIMEOUT", 600)
	ClientDisconnectGraceSeconds = GetEnvOrDefault("CLIENT_DISCONNECT_GRACE_SECONDS", 180)
	MaxStreamRetries = GetEnvOrDefault("MAX_STREAM_RETRIES", 3)
	MaxFallbackRetries = GetEnvOrDefault("MAX_FALLBACK_RETRIES", 2)

	StickySessionTTLMinutes = GetEnvOrDefault("STICKY_SESSION_TTL_MINUTES", 60)

	RateLimitCooldownSeconds = GetEnvOrDefault("RATE_LIMIT_COOLDOWN_SECONDS", 60)
	OverloadCooldownSeconds = GetEnvOrDefault("OVERLOAD_COOLDOWN_SECONDS", 600)
	TempErrorCooldownSeconds = GetEnvOrDefault("TEMP_ERROR_COOLDOWN_SECONDS", 300)
	ErrorWindowSeconds = GetEnvOrDefault("ERROR_WINDOW_SECONDS", 300)
	ErrorWindowThreshold = GetEnvOrDefault("ERROR_WINDOW_THRESHOLD", 3)

	LeaseSeconds = GetEnvOrDefault("LEASE_SECONDS", 600)

	ResponseCacheEnabled = GetEnvOrDefaultBool("RESPONSE_CACHE_ENABLED", true)
	ResponseCacheTTLMinutes = GetEnvOrDefault("RESPONSE_CACHE_TTL_MINUTES", 5)

	QuotaResetHour = GetEnvOrDefault("QUOTA_RESET_HOUR", 0)
}
