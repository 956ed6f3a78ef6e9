package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

const testConfig = `
log_level = "DEBUG"

[history]
replay_limit = 25
store_plaintext = true

[persistence]
type = "buntdb"
dsn = ":memory:"

[retention]
max_age_days = 30

[auth]
jwt_secret = "file-secret"

[[oidc]]
name = "google"
client_id = "client-123"
provider_url = "https://accounts.google.com"
`

// viper keeps global state, so the defaults are checked before any test
// loads a config file.
func TestReadConfigurationDefaults(t *testing.T) {
	cfg, err := ReadConfiguration("", GetFlagSet())
	assert.NoError(t, err)
	assert.Equal(t, DefaultReplayLimit, cfg.HistoryConfig.ReplayLimit)
	assert.Equal(t, DefaultRetentionDays, cfg.RetentionConfig.MaxAgeDays)
	assert.Equal(t, DefaultRetentionSpec, cfg.RetentionConfig.CronSpec)
	assert.Equal(t, defaultAdminUser, cfg.AdminUser)
	assert.Equal(t, defaultTokenTTLHours, cfg.AuthConfig.TokenTTLHours)
	assert.False(t, cfg.HistoryConfig.StorePlaintext)
}

func TestReadConfigurationFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	assert.NoError(t, os.WriteFile(path, []byte(testConfig), 0o644))

	cfg, err := ReadConfiguration(path, GetFlagSet())
	assert.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, 25, cfg.HistoryConfig.ReplayLimit)
	assert.True(t, cfg.HistoryConfig.StorePlaintext)
	assert.Equal(t, "buntdb", cfg.PersistenceConfig.Type)
	assert.Equal(t, ":memory:", cfg.PersistenceConfig.DSN)
	assert.Equal(t, 30, cfg.RetentionConfig.MaxAgeDays)
	assert.Equal(t, "file-secret", cfg.AuthConfig.JWTSecret)
	assert.Len(t, cfg.OIDCConfigs, 1)
	assert.Equal(t, "google", cfg.OIDCConfigs[0].Name)
}

func TestReadConfigurationMissingPath(t *testing.T) {
	_, err := ReadConfiguration("/no/such/path.toml", GetFlagSet())
	assert.Error(t, err)
}
