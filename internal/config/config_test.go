package config

import (
	"os"
	"path/filepath"
	"testing"

	"cobrarelay/internal/constants"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

const minimalConfig = `{
	"database": {"path": "relay.db"},
	"groupme": {"api_base_url": "https://api.groupme.com"}
}`

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, constants.DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, constants.DefaultStaleThresholdDays, cfg.Relay.StaleThresholdDays)
	assert.Equal(t, constants.DefaultBroadcastParallelism, cfg.Relay.BroadcastParallelism)
	assert.Equal(t, constants.DefaultAdapterTimeoutSec, cfg.Relay.AdapterTimeoutSec)
	assert.Equal(t, constants.DefaultExpiryPatterns, cfg.Relay.ExpiryPatterns)
	assert.Equal(t, "External Relay", cfg.Relay.SystemUserName)
	assert.Equal(t, "cobrarelay", cfg.Tracing.ServiceName)
}

func TestLoadConfigValidation(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, `{"groupme": {"api_base_url": "https://api.groupme.com"}}`))
	assert.ErrorIs(t, err, ErrMissingDBPath)

	_, err = LoadConfig(writeConfig(t, `{"database": {"path": "relay.db"}}`))
	assert.ErrorIs(t, err, ErrMissingGroupMeURL)

	_, err = LoadConfig(writeConfig(t, `{not json`))
	assert.Error(t, err)
}

func TestLoadConfigCustomExpiryPatterns(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, `{
		"database": {"path": "relay.db"},
		"groupme": {"api_base_url": "https://api.groupme.com"},
		"relay": {"expiryPatterns": ["custom removal text"]}
	}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"custom removal text"}, cfg.Relay.ExpiryPatterns)
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("GROUPME_ACCESS_TOKEN", "env-token")
	t.Setenv("TEAMS_APP_ID", "env-app")
	t.Setenv("TEAMS_APP_PASSWORD", "env-pass")
	t.Setenv("DB_PATH", "override.db")

	cfg, err := LoadConfig(writeConfig(t, minimalConfig))
	require.NoError(t, err)

	assert.Equal(t, "env-token", cfg.GroupMe.AccessToken)
	assert.Equal(t, "env-app", cfg.Teams.AppID)
	assert.Equal(t, "env-pass", cfg.Teams.AppPassword)
	assert.Equal(t, "override.db", cfg.Database.Path)
}

func TestProductionValidation(t *testing.T) {
	t.Setenv("COBRARELAY_ENV", "production")
	t.Setenv("TEAMS_APP_ID", "app-1")
	t.Setenv("TEAMS_APP_PASSWORD", "")

	_, err := LoadConfig(writeConfig(t, minimalConfig))
	assert.Error(t, err)

	t.Setenv("TEAMS_APP_ID", "")
	_, err = LoadConfig(writeConfig(t, `{
		"database": {"path": "relay.db"},
		"groupme": {"api_base_url": "https://api.groupme.com"},
		"log_level": "debug"
	}`))
	assert.Error(t, err)
}
