package config

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"

	"github.com/PiyushMakhija26/secure-messaging/globals"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	defaultAdminUser     = "admin"
	DefaultReplayLimit   = 50
	DefaultRetentionDays = 90
	DefaultRetentionSpec = "@daily"
	defaultTokenTTLHours = 24
)

// Config is the global configuration object which is filled via the
// configuration file.
type Config struct {
	HistoryConfig     HistoryConfig     `mapstructure:"history"`
	PersistenceConfig PersistenceConfig `mapstructure:"persistence"`
	RetentionConfig   RetentionConfig   `mapstructure:"retention"`
	AuthConfig        AuthConfig        `mapstructure:"auth"`
	OIDCConfigs       []OIDCConfig      `mapstructure:"oidc"`
	LogLevel          string            `mapstructure:"log_level"`
	AdminUser         string            `mapstructure:"admin_user"`
}

// HistoryConfig configures the history replay endpoint and whether the
// plaintext representation of chat events may be persisted at all.
// StorePlaintext is a debugging aid and off by default: in production only
// the encrypted representation is written.
type HistoryConfig struct {
	ReplayLimit    int  `mapstructure:"replay_limit"`
	StorePlaintext bool `mapstructure:"store_plaintext"`
}

// RetentionConfig configures the background sweep that deletes chat events
// older than MaxAgeDays. The sweep runs once at process start and then on
// CronSpec (daily by default).
type RetentionConfig struct {
	MaxAgeDays int    `mapstructure:"max_age_days"`
	CronSpec   string `mapstructure:"cron_spec"`
}

// AuthConfig configures token issuance for the account layer.
type AuthConfig struct {
	JWTSecret     string `mapstructure:"jwt_secret"`
	TokenTTLHours int    `mapstructure:"token_ttl_hours"`
}

// An OIDCConfig object configures an OpenID Connect provider that can be
// used to authenticate users instead of a password login. Users provide an
// ID token and the name of the provider, the authentication is then
// performed via verification of the token.
type OIDCConfig struct {
	Name        string `mapstructure:"name"`
	ClientId    string `mapstructure:"client_id"`
	ProviderUrl string `mapstructure:"provider_url"`
}

// PersistenceConfig selects the history store backend. Type is one of
// "buntdb", "sqlite", "postgres", "gorm-sqlite" or "gorm-postgres"; DSN is
// the backend-specific file name or connection string.
type PersistenceConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

func GetFlagSet() *pflag.FlagSet {
	flagSet := pflag.NewFlagSet("configuration", pflag.ContinueOnError)
	flagSet.StringP("admin-user", "a", "", "id of the admin user")
	flagSet.String("log-level", "", "log level (TRACE|DEBUG|INFO|WARN|ERROR)")
	return flagSet
}

// wordSepNormalizeFunc allows for normalization of the flag names (which use - as a separator)
func wordSepNormalizeFunc(f *pflag.FlagSet, name string) pflag.NormalizedName {
	name = strings.Replace(name, "-", "_", -1)
	return pflag.NormalizedName(name)
}

// ReadConfiguration reads and parses the configuration located at
// configPath, which can either point to a single TOML file or to a
// directory, in which case all *.toml files in this directory are
// concatenated. It returns a Config object.
func ReadConfiguration(configPath string, flagSet *pflag.FlagSet) (*Config, error) {
	cfg := Config{}
	flagSet.SetNormalizeFunc(wordSepNormalizeFunc)
	viper.SetDefault("admin_user", defaultAdminUser)
	viper.SetDefault("history.replay_limit", DefaultReplayLimit)
	viper.SetDefault("retention.max_age_days", DefaultRetentionDays)
	viper.SetDefault("retention.cron_spec", DefaultRetentionSpec)
	viper.SetDefault("auth.token_ttl_hours", defaultTokenTTLHours)
	err := viper.BindPFlags(flagSet)
	if err != nil {
		globals.AppLogger.Error("could not bind flags (ignored)", "error", err)
	}
	viper.SetEnvPrefix("SECMSG")
	viper.AutomaticEnv()
	if configPath != "" {
		fi, err := os.Stat(configPath)
		if err != nil {
			return nil, err
		}
		contents := make([]byte, 0)
		files := []string{configPath}
		if fi.IsDir() {
			files, err = filepath.Glob(filepath.Join(configPath, "*.toml"))
			if err != nil {
				return nil, err
			}
		}
		for _, configFile := range files {
			fileContents, err := os.ReadFile(configFile)
			if err != nil {
				return nil, err
			}
			contents = append(contents, fileContents...)
			contents = append(contents, '\n')
		}
		viper.SetConfigType("toml")
		err = viper.ReadConfig(bytes.NewBuffer(contents))
		if err != nil {
			globals.AppLogger.Error("could not read config:", "error", err)
		}
	}
	err = viper.Unmarshal(&cfg)
	if err != nil {
		globals.AppLogger.Error("could not unmarshal config:", "error", err)
	}
	return &cfg, nil
}
