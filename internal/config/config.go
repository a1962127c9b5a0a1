// Package config loads and validates application configuration from
// defaults, an optional config.yaml, and TELEGRAB_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"
)

// LogConfig controls log verbosity and output format.
type LogConfig struct {
	Level  string `mapstructure:"level"  validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json text"`
}

// TelegramConfig holds the Bot API credentials and the chats to archive.
// Token is optional: read-only commands work without it, and message
// history requires an MTProto client supplied at the client boundary.
type TelegramConfig struct {
	Token          string        `mapstructure:"token"`
	ChatIDs        []int64       `mapstructure:"chat_ids"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" validate:"min=1s,max=10m"`
}

// BackupConfig controls where archives live and how syncs page.
type BackupConfig struct {
	Dir          string `mapstructure:"dir"           validate:"required"`
	PageSize     int    `mapstructure:"page_size"     validate:"min=1,max=1000"`
	MediaWorkers int    `mapstructure:"media_workers" validate:"min=1,max=32"`
}

// FloodConfig tunes the rate-limit and retry policy.
type FloodConfig struct {
	Margin      time.Duration `mapstructure:"margin"       validate:"min=0"`
	BaseDelay   time.Duration `mapstructure:"base_delay"   validate:"min=1ms"`
	MaxDelay    time.Duration `mapstructure:"max_delay"    validate:"min=1s"`
	MaxAttempts int           `mapstructure:"max_attempts" validate:"min=1,max=20"`
}

// Config is the full application configuration.
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Telegram TelegramConfig `mapstructure:"telegram"`
	Backup   BackupConfig   `mapstructure:"backup"`
	Flood    FloodConfig    `mapstructure:"flood"`
}

// Load reads configuration in precedence order: defaults, then the config
// file at path (optional), then TELEGRAB_* environment variables. The
// result is validated before being returned.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	v.SetEnvPrefix("TELEGRAB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// AutomaticEnv only resolves keys viper already knows about. Keys
	// without a default must be bound explicitly or their environment
	// variables are ignored by Unmarshal.
	for _, key := range []string{"telegram.token", "telegram.chat_ids"} {
		if err := v.BindEnv(key); err != nil {
			return nil, fmt.Errorf("failed to bind environment for %s: %w", key, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Missing config file is fine; defaults plus env carry the day.
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("telegram.request_timeout", 2*time.Minute)

	v.SetDefault("backup.dir", "backups")
	v.SetDefault("backup.page_size", 100)
	v.SetDefault("backup.media_workers", 4)

	v.SetDefault("flood.margin", 2*time.Second)
	v.SetDefault("flood.base_delay", 500*time.Millisecond)
	v.SetDefault("flood.max_delay", 30*time.Second)
	v.SetDefault("flood.max_attempts", 5)
}
