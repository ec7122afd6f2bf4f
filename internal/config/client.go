package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Client holds the settings of the headless call client. Values come from
// command line flags bound into v, then HUDDLE_ environment variables.
type Client struct {
	Server     string        `mapstructure:"server"`
	STUN       []string      `mapstructure:"stun"`
	Name       string        `mapstructure:"name"`
	Retries    int           `mapstructure:"retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
	NoVideo    bool          `mapstructure:"no_video"`
	LogLevel   string        `mapstructure:"log_level"`
}

func SetClientDefaults(v *viper.Viper) {
	v.SetDefault("server", "ws://localhost:8080/api/ws/signal")
	v.SetDefault("stun", []string{"stun:stun.l.google.com:19302"})
	v.SetDefault("retries", 3)
	v.SetDefault("retry_delay", "2s")
	v.SetDefault("log_level", "info")
}

func LoadClient(v *viper.Viper) (*Client, error) {
	var cfg Client
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse client config: %w", err)
	}
	if cfg.Server == "" {
		return nil, fmt.Errorf("server url is required")
	}
	if cfg.Retries < 0 || cfg.RetryDelay < 0 {
		return nil, fmt.Errorf("retries and retry_delay must not be negative")
	}
	return &cfg, nil
}
