package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	StaticPath string        `mapstructure:"static_path"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	SendQueue  int           `mapstructure:"send_queue"`
	Secret     string        `mapstructure:"secret"`
	LogLevel   string        `mapstructure:"log_level"`

	ChatRate     float64 `mapstructure:"chat_rate"`
	ChatBurst    int     `mapstructure:"chat_burst"`
	ChatBacklog  int     `mapstructure:"chat_backlog"`
	SignalRate   float64 `mapstructure:"signal_rate"`
	SignalBurst  int     `mapstructure:"signal_burst"`
	Backpressure string  `mapstructure:"backpressure"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("static_path", "./web")
	v.SetDefault("read_limit", 65536)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("send_queue", 32)
	v.SetDefault("secret", "huddle-dev-secret")
	v.SetDefault("log_level", "info")
	v.SetDefault("chat_rate", 5)
	v.SetDefault("chat_burst", 10)
	v.SetDefault("chat_backlog", 50)
	v.SetDefault("signal_rate", 50)
	v.SetDefault("signal_burst", 200)
	v.SetDefault("backpressure", "kick")
}

// Load reads config/config.<CONFIG_ENV>.yaml on top of the defaults. Any key
// can be overridden with a HUDDLE_ prefixed environment variable.
func Load() (*Config, error) {
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	return LoadFile(fmt.Sprintf("config/config.%s.yaml", env))
}

func LoadFile(fileName string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	v.SetConfigFile(fileName)
	v.SetEnvPrefix("huddle")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		log.Warn().Str("module", "config").Str("file", fileName).Msg("config file not found, using defaults")
	} else {
		log.Info().Str("module", "config").Str("file", fileName).Msg("loaded config")
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	log.Info().Str("module", "config").Str("mode", cfg.Mode).Int("port", cfg.Port).Str("static", cfg.StaticPath).Msg("config ready")
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if c.PingPeriod <= 0 {
		return fmt.Errorf("invalid ping_period %s", c.PingPeriod)
	}
	if c.ChatRate < 0 || c.ChatBacklog < 0 {
		return fmt.Errorf("chat_rate and chat_backlog must not be negative")
	}
	if c.SignalRate < 0 || c.SignalBurst < 0 {
		return fmt.Errorf("signal_rate and signal_burst must not be negative")
	}
	switch c.Backpressure {
	case "kick", "drop":
	default:
		return fmt.Errorf("unknown backpressure policy %q", c.Backpressure)
	}
	return nil
}
