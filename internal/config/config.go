// Package config loads fitsync settings from a YAML file, FITSYNC_* environment variables and defaults.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"

	apperrors "github.com/kimhsiao/fitsync/backend/internal/errors"
	"github.com/kimhsiao/fitsync/backend/internal/logging"
)

// EnvPrefix is prepended to every environment override, e.g. FITSYNC_REMOTE_BASE_URL.
const EnvPrefix = "FITSYNC"

type Config struct {
	DataDir string        `mapstructure:"data_dir"`
	OwnerID string        `mapstructure:"owner_id"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Logging LoggingConfig `mapstructure:"logging"`
	Mock    MockConfig    `mapstructure:"mock"`
}

type RemoteConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	SessionCookie string        `mapstructure:"session_cookie"`
	SessionToken  string        `mapstructure:"session_token"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type SyncConfig struct {
	Schedule   string `mapstructure:"schedule"`
	MaxRetries int    `mapstructure:"max_retries"`
}

type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type MockConfig struct {
	Addr string `mapstructure:"addr"`
}

// SetDefaults registers default values on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", "./data")
	v.SetDefault("owner_id", "")
	v.SetDefault("remote.base_url", "http://localhost:8090")
	v.SetDefault("remote.session_cookie", "session")
	v.SetDefault("remote.session_token", "")
	v.SetDefault("remote.timeout", 30*time.Second)
	v.SetDefault("sync.schedule", "@every 15m")
	v.SetDefault("sync.max_retries", 3)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.max_size_mb", 10)
	v.SetDefault("logging.max_backups", 3)
	v.SetDefault("logging.max_age_days", 28)
	v.SetDefault("logging.compress", false)
	v.SetDefault("mock.addr", "127.0.0.1:8090")
}

// NewViper returns a viper instance with defaults and environment binding applied.
func NewViper() *viper.Viper {
	v := viper.New()
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// Load reads path (if non-empty) into a fresh viper instance and decodes it.
func Load(path string) (*Config, error) {
	v := NewViper()
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to read config file", err)
		}
	}
	return FromViper(v)
}

// FromViper decodes and validates the settings held by v.
func FromViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, apperrors.Wrap(apperrors.ErrConfig, "failed to decode config", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks values that would otherwise fail late.
func (c *Config) Validate() error {
	u, err := url.Parse(c.Remote.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return apperrors.Newf(apperrors.ErrConfig, "remote.base_url %q is not an absolute URL", c.Remote.BaseURL)
	}
	if c.Sync.MaxRetries <= 0 {
		return apperrors.Newf(apperrors.ErrConfig, "sync.max_retries must be positive, got %d", c.Sync.MaxRetries)
	}
	if c.Remote.Timeout < 0 {
		return apperrors.New(apperrors.ErrConfig, "remote.timeout must not be negative")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		return apperrors.Wrap(apperrors.ErrConfig, "invalid logging.level", err)
	}
	switch c.Logging.Format {
	case "json", "console":
	default:
		return apperrors.Newf(apperrors.ErrConfig, "logging.format must be json or console, got %q", c.Logging.Format)
	}
	return nil
}

// LoggingConfig converts the logging section for logging.Init.
func (c *Config) LoggingConfig() logging.Config {
	level, _ := logging.ParseLevel(c.Logging.Level)
	return logging.Config{
		Level:      level,
		Format:     c.Logging.Format,
		File:       c.Logging.File,
		MaxSizeMB:  c.Logging.MaxSizeMB,
		MaxBackups: c.Logging.MaxBackups,
		MaxAgeDays: c.Logging.MaxAgeDays,
		Compress:   c.Logging.Compress,
	}
}
