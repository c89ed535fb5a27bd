// Package config loads zkfuse settings.
//
// Precedence, highest first: values derived from positional arguments,
// command-line flags, ZKFUSE_* environment variables, the YAML config file,
// built-in defaults. The config file is optional; by default it is looked up
// at $XDG_CONFIG_HOME/zkfuse/config.yaml.
//
// Environment variables replace dots with underscores, for example
// ZKFUSE_MOUNT_VERSION_CHECK=false or ZKFUSE_LOGGING_LEVEL=debug.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Config is the full zkfuse configuration.
type Config struct {
	ZooKeeper ZooKeeperConfig `mapstructure:"zookeeper"`
	Mount     MountConfig     `mapstructure:"mount"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

type ZooKeeperConfig struct {
	Servers        []string      `mapstructure:"servers" validate:"required,min=1,dive,hostname_port"`
	Root           string        `mapstructure:"root" validate:"required,startswith=/"`
	SessionTimeout time.Duration `mapstructure:"session_timeout" validate:"gt=0"`
	Retry          RetryConfig   `mapstructure:"retry"`
	MaxPayload     int64         `mapstructure:"max_payload" validate:"gt=0"`
}

type RetryConfig struct {
	BaseDelay  time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0,lte=20"`
	MaxDelay   time.Duration `mapstructure:"max_delay" validate:"gtefield=BaseDelay"`
}

type MountConfig struct {
	Mountpoint   string        `mapstructure:"mountpoint"`
	AllowOther   bool          `mapstructure:"allow_other"`
	AttrValid    time.Duration `mapstructure:"attr_valid" validate:"gte=0"`
	VersionCheck bool          `mapstructure:"version_check"`
	NoCache      bool          `mapstructure:"no_cache"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level" validate:"oneof=debug info warn error"`
	Format string `mapstructure:"format" validate:"oneof=json console"`
	Output string `mapstructure:"output" validate:"required"`
}

type MetricsConfig struct {
	// Addr is the listen address of the /metrics endpoint. Empty disables it.
	Addr string `mapstructure:"addr" validate:"omitempty,hostname_port"`
}

// flagKeys maps command-line flag names onto configuration keys.
var flagKeys = map[string]string{
	"session-timeout": "zookeeper.session_timeout",
	"allow-other":     "mount.allow_other",
	"attr-valid":      "mount.attr_valid",
	"version-check":   "mount.version_check",
	"no-cache":        "mount.no_cache",
	"log-level":       "logging.level",
	"log-format":      "logging.format",
	"log-output":      "logging.output",
	"metrics-addr":    "metrics.addr",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("zookeeper.servers", []string{"localhost:2181"})
	v.SetDefault("zookeeper.root", "/")
	v.SetDefault("zookeeper.session_timeout", 30*time.Second)
	v.SetDefault("zookeeper.retry.base_delay", time.Second)
	v.SetDefault("zookeeper.retry.max_retries", 5)
	v.SetDefault("zookeeper.retry.max_delay", 30*time.Second)
	v.SetDefault("zookeeper.max_payload", 1<<20)
	v.SetDefault("mount.allow_other", false)
	v.SetDefault("mount.attr_valid", time.Second)
	v.SetDefault("mount.version_check", true)
	v.SetDefault("mount.no_cache", false)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.output", "stderr")
	v.SetDefault("metrics.addr", "")
}

// Source is a loaded configuration that can be re-read when its file changes.
type Source struct {
	v *viper.Viper
}

// NewSource reads configPath (or the default location when empty), binds the
// known flags present in flags, and applies overrides on top of everything.
// A missing file is only an error when configPath was given explicitly.
func NewSource(configPath string, flags *pflag.FlagSet, overrides map[string]any) (*Source, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("ZKFUSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(Dir())
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if flags != nil {
		for name, key := range flagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("binding flag %s: %w", name, err)
				}
			}
		}
	}
	for key, value := range overrides {
		v.Set(key, value)
	}
	return &Source{v: v}, nil
}

// File returns the config file in use, or "" when running on defaults.
func (s *Source) File() string {
	return s.v.ConfigFileUsed()
}

// Config decodes and validates the current settings.
func (s *Source) Config() (*Config, error) {
	var cfg Config
	if err := s.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &cfg, nil
}

// Watch calls onChange with the re-read configuration every time the config
// file is written. Changes that fail validation are logged and skipped. It
// reports false when there is no file to watch.
func (s *Source) Watch(log *zap.Logger, onChange func(*Config)) bool {
	if s.File() == "" {
		return false
	}
	s.v.OnConfigChange(func(e fsnotify.Event) {
		cfg, err := s.Config()
		if err != nil {
			log.Warn("ignoring config change", zap.String("file", e.Name), zap.Error(err))
			return
		}
		log.Info("config file changed", zap.String("file", e.Name), zap.Stringer("op", e.Op))
		onChange(cfg)
	})
	s.v.WatchConfig()
	return true
}

// Load is NewSource followed by Config.
func Load(configPath string, flags *pflag.FlagSet, overrides map[string]any) (*Config, error) {
	s, err := NewSource(configPath, flags, overrides)
	if err != nil {
		return nil, err
	}
	return s.Config()
}

// Dir returns the directory searched for config.yaml.
func Dir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "zkfuse")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "zkfuse")
}
