// Package config loads murmur's settings from murmur.yaml plus MURMUR_*
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// ServerConfig covers the HTTP surface.
type ServerConfig struct {
	Host         string   `mapstructure:"host"`
	Port         int      `mapstructure:"port"`
	AllowOrigins []string `mapstructure:"allow_origins"`
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// TranscriptionConfig covers the speech-to-text engine.
type TranscriptionConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// ExtractionConfig covers the language-model endpoint.
type ExtractionConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// SweepConfig covers the server-side reminder sweep.
type SweepConfig struct {
	Interval time.Duration `mapstructure:"interval"`
}

// StoreConfig covers the durable store and the device-notification ledger.
type StoreConfig struct {
	Path       string `mapstructure:"path"`
	LedgerPath string `mapstructure:"ledger_path"`
}

// NotificationsConfig selects default delivery channels for new actions.
type NotificationsConfig struct {
	WebPush bool `mapstructure:"web_push"`
	Email   bool `mapstructure:"email"`
	SMS     bool `mapstructure:"sms"`
}

// Config is the full runtime configuration.
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Transcription TranscriptionConfig `mapstructure:"transcription"`
	Extraction    ExtractionConfig    `mapstructure:"extraction"`
	Sweep         SweepConfig         `mapstructure:"sweep"`
	Store         StoreConfig         `mapstructure:"store"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Debug         bool                `mapstructure:"debug"`
}

// Load reads murmur.yaml from the working directory or $HOME, then applies
// MURMUR_* environment overrides (MURMUR_SERVER_PORT and so on). A missing
// file is fine; defaults and the environment carry it.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("murmur")
	v.SetConfigType("yaml")
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
	}

	v.SetEnvPrefix("MURMUR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8787)
	v.SetDefault("server.allow_origins", []string{"*"})
	v.SetDefault("transcription.model", "whisper-1")
	v.SetDefault("transcription.timeout", "60s")
	v.SetDefault("extraction.model", "gpt-4o-mini")
	v.SetDefault("extraction.timeout", "90s")
	v.SetDefault("sweep.interval", "1m")
	v.SetDefault("store.path", "murmur.db")
	v.SetDefault("store.ledger_path", "murmur-notifications.yaml")
	v.SetDefault("notifications.web_push", true)
	v.SetDefault("notifications.email", false)
	v.SetDefault("notifications.sms", false)
}

// Validate rejects configurations that cannot run.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Sweep.Interval < time.Second {
		return fmt.Errorf("sweep interval %s is below one second", c.Sweep.Interval)
	}
	if c.Store.Path == "" {
		return fmt.Errorf("store path is required")
	}
	return nil
}
