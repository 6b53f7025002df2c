// Package config loads the runner's own settings (not the workflow file)
// from an optional config file and the environment.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/spf13/viper"
)

// Config holds everything an App instance needs to run.
type Config struct {
	// Workers bounds concurrent job execution. 0 means unbounded.
	Workers int `mapstructure:"workers"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`

	// WorkspaceDir is where per-run job workspaces and artifacts live.
	WorkspaceDir string `mapstructure:"workspace_dir"`

	// HistoryDB is the sqlite file persisted run reports go to. Empty
	// disables history.
	HistoryDB string `mapstructure:"history_db"`

	// HealthcheckPort serves an HTTP health endpoint when > 0.
	HealthcheckPort int `mapstructure:"healthcheck_port"`
}

// LogLevel maps the validated log level string to its slog level. Unknown
// values never reach here; Validate rejects them at load time.
func (c *Config) LogLevel() slog.Level {
	switch c.Log.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Load reads configuration with defaults < config file < environment
// precedence. configPath may be empty, in which case a `stagehand.yaml` in
// the working directory is used when present.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	v.SetDefault("workers", 4)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("workspace_dir", ".stagehand/workspaces")
	v.SetDefault("history_db", ".stagehand/history.db")
	v.SetDefault("healthcheck_port", 0)

	v.SetEnvPrefix("STAGEHAND")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configPath, err)
		}
	} else {
		v.SetConfigName("stagehand")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects values the rest of the engine cannot work with.
func Validate(cfg *Config) error {
	if cfg.Workers < 0 {
		return errors.New("workers must not be negative")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q: must be 'debug', 'info', 'warn', or 'error'", cfg.Log.Level)
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q: must be 'text' or 'json'", cfg.Log.Format)
	}
	if cfg.HealthcheckPort < 0 || cfg.HealthcheckPort > 65535 {
		return fmt.Errorf("invalid healthcheck port %d", cfg.HealthcheckPort)
	}
	if cfg.WorkspaceDir == "" {
		return errors.New("workspace_dir must not be empty")
	}
	return nil
}
