package config

import (
	"encoding/json"
	"fmt"
	"os"

	"cobrarelay/internal/constants"
	"cobrarelay/internal/models"
	"cobrarelay/internal/security"
)

var (
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
	ErrMissingGroupMeURL = models.ConfigError{Message: "missing GroupMe API base URL"}
)

func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := validateSecurity(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.GroupMe.APIBaseURL == "" {
		return ErrMissingGroupMeURL
	}

	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.Server.ReadTimeoutSec <= 0 {
		c.Server.ReadTimeoutSec = constants.DefaultServerReadTimeoutSec
	}
	if c.Server.WriteTimeoutSec <= 0 {
		c.Server.WriteTimeoutSec = constants.DefaultServerWriteTimeoutSec
	}
	if c.Server.IdleTimeoutSec <= 0 {
		c.Server.IdleTimeoutSec = constants.DefaultServerIdleTimeoutSec
	}
	if c.Server.MaxWebhookBodyBytes <= 0 {
		c.Server.MaxWebhookBodyBytes = constants.DefaultMaxWebhookBodyBytes
	}
	if c.Server.WebhookRatePerMin <= 0 {
		c.Server.WebhookRatePerMin = constants.DefaultWebhookRatePerMin
	}

	if c.Relay.StaleThresholdDays <= 0 {
		c.Relay.StaleThresholdDays = constants.DefaultStaleThresholdDays
	}
	if c.Relay.CleanupIntervalHours <= 0 {
		c.Relay.CleanupIntervalHours = constants.DefaultCleanupIntervalHours
	}
	if c.Relay.BroadcastParallelism <= 0 {
		c.Relay.BroadcastParallelism = constants.DefaultBroadcastParallelism
	}
	if c.Relay.AdapterTimeoutSec <= 0 {
		c.Relay.AdapterTimeoutSec = constants.DefaultAdapterTimeoutSec
	}
	if len(c.Relay.ExpiryPatterns) == 0 {
		c.Relay.ExpiryPatterns = constants.DefaultExpiryPatterns
	}
	if c.Relay.SystemUserName == "" {
		c.Relay.SystemUserName = "External Relay"
	}

	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultBackoffInitialMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultBackoffMaxMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	}

	if c.Tracing.ServiceName == "" {
		c.Tracing.ServiceName = "cobrarelay"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 1.0
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if path := os.Getenv("DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if url := os.Getenv("GROUPME_API_URL"); url != "" {
		c.GroupMe.APIBaseURL = url
	}

	// Platform credentials come from the environment, never the config file.
	if token := os.Getenv("GROUPME_ACCESS_TOKEN"); token != "" {
		c.GroupMe.AccessToken = token
	}
	if appID := os.Getenv("TEAMS_APP_ID"); appID != "" {
		c.Teams.AppID = appID
	}
	if password := os.Getenv("TEAMS_APP_PASSWORD"); password != "" {
		c.Teams.AppPassword = password
	}
}

// validateSecurity performs security-specific validation
func validateSecurity(c *models.Config) error {
	isProduction := os.Getenv("COBRARELAY_ENV") == "production"

	if isProduction {
		if c.Teams.AppID != "" && c.Teams.AppPassword == "" {
			return models.ConfigError{Message: "Teams app password is required in production (set TEAMS_APP_PASSWORD environment variable)"}
		}
		if c.LogLevel == "debug" {
			return models.ConfigError{Message: "debug logging should not be used in production (security risk)"}
		}
	}

	return nil
}
