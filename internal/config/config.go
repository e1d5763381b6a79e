package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/haemilhq/haemilchat/internal/pagination"
	"github.com/haemilhq/haemilchat/internal/transport"
)

// Config represents the application configuration. Durations are plain
// milliseconds so the TOML stays flat.
type Config struct {
	Chat struct {
		URL              string `koanf:"url"`
		Mode             string `koanf:"mode"` // bot | counselor
		ConnectTimeoutMS int    `koanf:"connect_timeout_ms"`
		ReplyTimeoutMS   int    `koanf:"reply_timeout_ms"`
	} `koanf:"chat"`

	Reconnect struct {
		BaseDelayMS int `koanf:"base_delay_ms"`
		MaxDelayMS  int `koanf:"max_delay_ms"`
	} `koanf:"reconnect"`

	History struct {
		DBPath   string `koanf:"db_path"`
		PageSize int    `koanf:"page_size"`
	} `koanf:"history"`

	Log struct {
		Level string `koanf:"level"`
	} `koanf:"log"`

	Devserver struct {
		Port      int    `koanf:"port"`
		JWTSecret string `koanf:"jwt_secret"`
	} `koanf:"devserver"`
}

// LoadConfig loads the configuration from a file, falling back to the
// default locations, with HAEMILCHAT_ environment overrides on top.
func LoadConfig(configPath string) (*Config, error) {
	var k = koanf.New(".")

	// Set up default configuration
	k.Load(confmap.Provider(map[string]interface{}{
		"chat.url":                "ws://127.0.0.1:8080/chat/ws",
		"chat.mode":               "bot",
		"chat.connect_timeout_ms": 5000,
		"chat.reply_timeout_ms":   15000,
		"reconnect.base_delay_ms": 500,
		"reconnect.max_delay_ms":  20000,
		"history.db_path":         "./hcdata/history.db",
		"history.page_size":       10,
		"log.level":               "info",
		"devserver.port":          8080,
	}, "."), nil)

	if configPath != "" {
		if err := k.Load(file.Provider(configPath), toml.Parser()); err != nil {
			return nil, fmt.Errorf("error loading config: %w", err)
		}
	} else {
		defaultPaths := []string{"./haemilchat.toml", "$HOME/.haemilchat.toml"}
		for _, path := range defaultPaths {
			path = os.ExpandEnv(path)
			if _, err := os.Stat(path); err == nil {
				if err := k.Load(file.Provider(path), toml.Parser()); err == nil {
					break
				}
			}
		}
	}

	// Load from environment variables with prefix HAEMILCHAT_
	k.Load(env.Provider("HAEMILCHAT_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "HAEMILCHAT_")), "_", ".", 1)
	}), nil)

	var config Config
	if err := k.Unmarshal("", &config); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	return &config, nil
}

// InitConfig initializes a new configuration file
func InitConfig(configPath string) error {
	if _, err := os.Stat(configPath); err == nil {
		return fmt.Errorf("configuration file already exists at %s", configPath)
	}

	sampleConfig := `# haemilchat configuration

[chat]
url = "ws://127.0.0.1:8080/chat/ws"
mode = "bot"
connect_timeout_ms = 5000
reply_timeout_ms = 15000

[reconnect]
base_delay_ms = 500
max_delay_ms = 20000

[history]
db_path = "./hcdata/history.db"
page_size = 10

[log]
level = "info"

[devserver]
port = 8080
jwt_secret = "dev-only-secret"
`

	return os.WriteFile(configPath, []byte(sampleConfig), 0644)
}

// Validate validates the configuration
func Validate(config *Config) error {
	if config.Chat.URL == "" {
		return fmt.Errorf("chat url is required")
	}
	if !strings.HasPrefix(config.Chat.URL, "ws://") && !strings.HasPrefix(config.Chat.URL, "wss://") {
		return fmt.Errorf("chat url must use the ws or wss scheme")
	}
	switch config.Chat.Mode {
	case "bot", "counselor":
	default:
		return fmt.Errorf("chat mode must be bot or counselor, got %q", config.Chat.Mode)
	}
	if config.Reconnect.BaseDelayMS <= 0 || config.Reconnect.MaxDelayMS < config.Reconnect.BaseDelayMS {
		return fmt.Errorf("reconnect delays must satisfy 0 < base <= max")
	}
	if config.History.PageSize <= 0 {
		return fmt.Errorf("history page size must be positive")
	}
	return nil
}

// Transport renders the chat section as a transport session config.
func (c *Config) Transport() transport.Config {
	return transport.Config{
		URL:            c.Chat.URL,
		ConnectTimeout: time.Duration(c.Chat.ConnectTimeoutMS) * time.Millisecond,
		ReplyTimeout:   time.Duration(c.Chat.ReplyTimeoutMS) * time.Millisecond,
		Backoff: transport.BackoffConfig{
			BaseDelay: time.Duration(c.Reconnect.BaseDelayMS) * time.Millisecond,
			MaxDelay:  time.Duration(c.Reconnect.MaxDelayMS) * time.Millisecond,
		},
	}
}

// Pagination renders the history section as a window config.
func (c *Config) Pagination() pagination.Config {
	cfg := pagination.DefaultConfig()
	cfg.PageSize = c.History.PageSize
	return cfg
}
