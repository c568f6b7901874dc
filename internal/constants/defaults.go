package constants

// Default server configuration values
const (
	DefaultServerPort            = 8085
	DefaultServerReadTimeoutSec  = 15
	DefaultServerWriteTimeoutSec = 15
	DefaultServerIdleTimeoutSec  = 60
	DefaultGracefulShutdownSec   = 30
	ServerErrorChannelSize       = 1
	DefaultMaxWebhookBodyBytes   = 1 << 20 // 1 MiB
	DefaultWebhookRatePerMin     = 120
)

// Default relay configuration values
const (
	DefaultStaleThresholdDays    = 14
	DefaultCleanupIntervalHours  = 24
	DefaultBroadcastParallelism  = 4
	DefaultAdapterTimeoutSec     = 10
	DefaultDatabaseRetryAttempts = 3
	DefaultBackoffInitialMs      = 500
	DefaultBackoffMaxMs          = 30000
)

// DefaultExpiryPatterns are case-insensitive substrings of platform error
// messages that indicate a conversation is gone for good (bot removed,
// group deleted). Shared by all platforms; overridable in config.
var DefaultExpiryPatterns = []string{
	"bot not installed",
	"bot is not part of the conversation roster",
	"conversation not found",
	"forbidden",
	"invalid bot id",
	"group not found",
}

// Encryption parameters for at-rest protection of webhook secrets and
// conversation references.
const (
	EncryptionSalt       = "cobrarelay-at-rest-v1"
	EncryptionIterations = 100000
	EncryptionKeySize    = 32
	EncryptionNonceSize  = 12
)
