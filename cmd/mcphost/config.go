package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// daemonConfig is everything the commands read from file, environment and
// defaults, in that reverse order of priority: environment beats file beats
// default.
type daemonConfig struct {
	Addr           string   `mapstructure:"addr"`
	StorePath      string   `mapstructure:"store_path"`
	MaxServers     int      `mapstructure:"max_servers"`
	HistorySize    int      `mapstructure:"history_size"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`

	HandshakeTimeout time.Duration `mapstructure:"handshake_timeout"`
	RequestTimeout   time.Duration `mapstructure:"request_timeout"`
	CallTimeout      time.Duration `mapstructure:"call_timeout"`

	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// loadDaemonConfig reads mcphost.yaml (from --config, ~/.mcphost, or the
// working directory; a missing file just means defaults) and environment
// variables prefixed MCPHOST_.
func loadDaemonConfig(configFile string) (daemonConfig, error) {
	v := viper.New()
	v.SetDefault("addr", ":8800")
	v.SetDefault("store_path", "")
	v.SetDefault("max_servers", 5)
	v.SetDefault("history_size", 100)
	v.SetDefault("allowed_origins", []string{"*"})
	// Zero durations defer to the manager's own defaults.
	v.SetDefault("handshake_timeout", time.Duration(0))
	v.SetDefault("request_timeout", time.Duration(0))
	v.SetDefault("call_timeout", time.Duration(0))
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "auto")

	v.SetEnvPrefix("MCPHOST")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("mcphost")
		v.SetConfigType("yaml")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".mcphost"))
		}
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return daemonConfig{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg daemonConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return daemonConfig{}, fmt.Errorf("parse config: %w", err)
	}

	if cfg.StorePath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return daemonConfig{}, fmt.Errorf("resolve home directory: %w", err)
		}
		cfg.StorePath = filepath.Join(home, ".mcphost", "servers.json")
	}

	// Flags beat everything.
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if flagLogFormat != "" {
		cfg.LogFormat = flagLogFormat
	}
	return cfg, nil
}
