// Package config manages redis-embedded configuration
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix prefixes environment overrides, e.g. EMBEDDED_REDIS_LOG_LEVEL.
const EnvPrefix = "EMBEDDED_REDIS"

// Config holds the redis-embedded configuration
type Config struct {
	Log         LogConfig         `mapstructure:"log"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Executables ExecutablesConfig `mapstructure:"executables"`
	Instance    InstanceConfig    `mapstructure:"instance"`
	Trace       TraceConfig       `mapstructure:"trace"`
	Bind        string            `mapstructure:"bind"`
}

// LogConfig selects slog level and handler
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// MetricsConfig holds the Prometheus endpoint; an empty Addr disables it
type MetricsConfig struct {
	Addr      string `mapstructure:"addr"`
	Namespace string `mapstructure:"namespace"`
}

// TraceConfig turns on span export to stderr
type TraceConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// ExecutablesConfig overrides where binaries come from
type ExecutablesConfig struct {
	BundleDir string `mapstructure:"bundle_dir"`
	Server    string `mapstructure:"server"`
	Sentinel  string `mapstructure:"sentinel"`
	CLI       string `mapstructure:"cli"`
}

// InstanceConfig tunes every supervised instance
type InstanceConfig struct {
	StartTimeout time.Duration `mapstructure:"start_timeout"`
	GracePeriod  time.Duration `mapstructure:"grace_period"`
	OutputLines  int           `mapstructure:"output_lines"`
}

// Dir is where the default config file lives.
func Dir() string {
	return filepath.Join(os.Getenv("HOME"), ".embedded-redis")
}

// New returns a viper instance with defaults, search paths and environment
// overrides set. Flags are bound by the caller before Load.
func New(configFile string) *viper.Viper {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(Dir())
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.namespace", "embedded_redis")
	v.SetDefault("executables.bundle_dir", "")
	v.SetDefault("executables.server", "")
	v.SetDefault("executables.sentinel", "")
	v.SetDefault("executables.cli", "")
	v.SetDefault("instance.start_timeout", 30*time.Second)
	v.SetDefault("instance.grace_period", 10*time.Second)
	v.SetDefault("instance.output_lines", 256)
	v.SetDefault("trace.enabled", false)
	v.SetDefault("bind", "127.0.0.1")

	return v
}

// Load reads the config file (a missing default file is fine) and unmarshals
// the merged result.
func Load(v *viper.Viper) (*Config, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values slog or the supervisor cannot use.
func (c *Config) Validate() error {
	if _, err := parseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}
	if c.Instance.StartTimeout <= 0 {
		return fmt.Errorf("instance.start_timeout must be positive")
	}
	if c.Instance.OutputLines < 1 {
		return fmt.Errorf("instance.output_lines must be at least 1")
	}
	return nil
}

// Logger builds the slog logger described by c.Log.
func (c *Config) Logger(w io.Writer) *slog.Logger {
	level, _ := parseLevel(c.Log.Level)
	opts := &slog.HandlerOptions{Level: level}
	if c.Log.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level: %s", s)
	}
	return level, nil
}
