// Package config loads the application configuration from TOML files.
package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/toml/v2"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

var (
	ErrConfigFileNotFound    = errors.New("could not find config file in any config path")
	ErrConfigVersionMismatch = errors.New("config file version mismatch")
)

// CurrentVersion of the config file format.
const CurrentVersion = 1

// Config represents the entire application configuration.
type Config struct {
	// Version of the config file.
	Version    int        `koanf:"version"`
	Debug      Debug      `koanf:"debug"`
	Discord    Discord    `koanf:"discord"`
	PostgreSQL PostgreSQL `koanf:"postgresql"`
	Redis      Redis      `koanf:"redis"`
	Bot        Bot        `koanf:"bot"`
}

// Debug contains debugging and logging configuration.
type Debug struct {
	// Log level (debug, info, warn, error).
	LogLevel string `koanf:"log_level"`
	// Enable pprof debugging.
	EnablePprof bool `koanf:"enable_pprof"`
	// pprof server port.
	PprofPort int `koanf:"pprof_port"`
}

// Discord contains Discord connection configuration.
type Discord struct {
	// Bot token.
	Token string `koanf:"token"`
}

// PostgreSQL contains database connection configuration.
type PostgreSQL struct {
	// Database hostname.
	Host string `koanf:"host"`
	// Database port.
	Port int `koanf:"port"`
	// Database username.
	User string `koanf:"user"`
	// Database password.
	Password string `koanf:"password"`
	// Database name.
	DBName string `koanf:"db_name"`
	// Maximum open connections.
	MaxOpenConns int `koanf:"max_open_conns"`
	// Maximum idle connections.
	MaxIdleConns int `koanf:"max_idle_conns"`
	// Connection lifetime in minutes.
	MaxLifetime int `koanf:"max_lifetime"`
	// Idle timeout in minutes.
	MaxIdleTime int `koanf:"max_idle_time"`
}

// Redis contains Redis connection configuration.
type Redis struct {
	// Redis hostname.
	Host string `koanf:"host"`
	// Redis port.
	Port int `koanf:"port"`
	// Redis username.
	Username string `koanf:"username"`
	// Redis password.
	Password string `koanf:"password"`
}

// Bot contains consumer configuration for the bot process.
type Bot struct {
	// Consumer group name shared by all bot instances.
	ConsumerGroup string `koanf:"consumer_group"`
	// How many message consumers to run.
	MessageConsumers int `koanf:"message_consumers"`
}

// LoadConfig reads the configuration from the first config.toml found in the
// search paths and returns it with the directory it was loaded from.
func LoadConfig() (*Config, string, error) {
	k := koanf.New(".")

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, "", fmt.Errorf("failed to get home directory: %w", err)
	}

	configPaths := []string{
		".crosswatch",
		homeDir + "/.crosswatch/config",
		"/etc/crosswatch/config",
		"/app/config",
		"config",
		".",
	}

	var usedConfigPath string

	for _, path := range configPaths {
		configPath := fmt.Sprintf("%s/config.toml", path)
		if err := k.Load(file.Provider(configPath), toml.Parser()); err == nil {
			usedConfigPath = path
			break
		}
	}

	if usedConfigPath == "" {
		return nil, "", fmt.Errorf("%w: config.toml", ErrConfigFileNotFound)
	}

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, "", fmt.Errorf("error unmarshaling config: %w", err)
	}

	if config.Version != CurrentVersion {
		return nil, "", fmt.Errorf("%w: expected version %d, got %d",
			ErrConfigVersionMismatch, CurrentVersion, config.Version)
	}

	applyDefaults(&config)

	return &config, usedConfigPath, nil
}

func applyDefaults(config *Config) {
	if config.Debug.LogLevel == "" {
		config.Debug.LogLevel = "info"
	}

	if config.Bot.ConsumerGroup == "" {
		config.Bot.ConsumerGroup = "crosswatch"
	}

	if config.Bot.MessageConsumers <= 0 {
		config.Bot.MessageConsumers = 2
	}

	if config.PostgreSQL.MaxOpenConns <= 0 {
		config.PostgreSQL.MaxOpenConns = 8
	}

	if config.PostgreSQL.MaxIdleConns <= 0 {
		config.PostgreSQL.MaxIdleConns = 4
	}

	if config.PostgreSQL.MaxLifetime <= 0 {
		config.PostgreSQL.MaxLifetime = 30
	}

	if config.PostgreSQL.MaxIdleTime <= 0 {
		config.PostgreSQL.MaxIdleTime = 10
	}
}
