package models

// Config holds the application configuration
type Config struct {
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Relay    RelayConfig    `json:"relay"`
	GroupMe  GroupMeConfig  `json:"groupme"`
	Teams    TeamsConfig    `json:"teams"`
	Retry    RetryConfig    `json:"retry"`
	Tracing  TracingConfig  `json:"tracing"`
	LogLevel string         `json:"log_level"`
}

// ServerConfig holds HTTP server related configuration
type ServerConfig struct {
	Port                int `json:"port"`
	ReadTimeoutSec      int `json:"readTimeoutSec"`
	WriteTimeoutSec     int `json:"writeTimeoutSec"`
	IdleTimeoutSec      int `json:"idleTimeoutSec"`
	MaxWebhookBodyBytes int `json:"maxWebhookBodyBytes"`
	WebhookRatePerMin   int `json:"webhookRatePerMin"`
}

// DatabaseConfig holds database related configuration
type DatabaseConfig struct {
	Path string `json:"path"`
}

// RelayConfig tunes the relay core: staleness, cleanup, broadcast fan-out and
// the delivery-failure classification table.
type RelayConfig struct {
	StaleThresholdDays   int      `json:"staleThresholdDays"`
	CleanupIntervalHours int      `json:"cleanupIntervalHours"`
	BroadcastParallelism int      `json:"broadcastParallelism"`
	AdapterTimeoutSec    int      `json:"adapterTimeoutSec"`
	// ExpiryPatterns override the built-in error-substring table used to
	// classify delivery failures as expired. Shared across platforms.
	ExpiryPatterns []string `json:"expiryPatterns,omitempty"`
	SystemUserName string   `json:"systemUserName"`
}

// GroupMeConfig holds GroupMe API configuration
type GroupMeConfig struct {
	APIBaseURL  string `json:"api_base_url"`
	AccessToken string `json:"access_token"`
}

// TeamsConfig holds Microsoft Teams (Bot Framework) configuration
type TeamsConfig struct {
	AppID       string `json:"app_id"`
	AppPassword string `json:"app_password"`
	TokenURL    string `json:"token_url"`
}

// RetryConfig holds startup retry related configuration
type RetryConfig struct {
	InitialBackoffMs int `json:"initialBackoffMs"`
	MaxBackoffMs     int `json:"maxBackoffMs"`
	MaxAttempts      int `json:"maxAttempts"`
}

// TracingConfig holds OpenTelemetry tracing configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"serviceName"`
	ServiceVersion string  `json:"serviceVersion"`
	Environment    string  `json:"environment"`
	OTLPEndpoint   string  `json:"otlpEndpoint"`
	SampleRate     float64 `json:"sampleRate"`
	UseStdout      bool    `json:"useStdout"`
}

type ConfigError struct {
	Message string
}

func (e ConfigError) Error() string {
	return e.Message
}
