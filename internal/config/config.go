// Package config loads service configuration from environment variables and
// an optional YAML file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the full service configuration.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Log      LogConfig      `mapstructure:"log"`
	Bus      BusConfig      `mapstructure:"bus"`
	WS       WSConfig       `mapstructure:"ws"`
	Database DatabaseConfig `mapstructure:"database"`
}

type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

type BusConfig struct {
	QueueSize   int `mapstructure:"queue_size"`
	HistorySize int `mapstructure:"history_size"`
}

type WSConfig struct {
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"`
	SendBuffer      int           `mapstructure:"send_buffer"`
}

type DatabaseConfig struct {
	// DSN enables the gorm trade repository when set.
	DSN string `mapstructure:"dsn"`
}

// Load reads configuration from the optional file path and TRADEFLOW_*
// environment variables, applying defaults for anything unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.SetEnvPrefix("TRADEFLOW")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("bus.queue_size", 1024)
	v.SetDefault("bus.history_size", 1000)
	v.SetDefault("ws.idle_timeout", 15*time.Minute)
	v.SetDefault("ws.cleanup_interval", time.Minute)
	v.SetDefault("ws.send_buffer", 256)

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			v.SetConfigFile(path)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config file %s: %w", path, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}
