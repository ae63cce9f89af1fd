package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig
	Backend   BackendConfig
	Poll      PollConfig
	Notify    NotifyConfig
	Channel   ChannelConfig
	Terminal  TerminalConfig
	Executor  ExecutorConfig
	Logging   LogConfig
	RateLimit RateLimitConfig
}

// ServerConfig holds the operator HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000"`
	Host string `envconfig:"HOST" default:"0.0.0.0"`
}

// BackendConfig locates the execution backend.
type BackendConfig struct {
	URL         string `envconfig:"BACKEND_URL" default:"http://127.0.0.1:5000"`
	ChannelPath string `envconfig:"BACKEND_CHANNEL_PATH" default:"/channel"`
}

// PollConfig holds reconciliation polling configuration.
type PollConfig struct {
	Interval time.Duration `envconfig:"POLL_INTERVAL" default:"5s"`
}

// NotifyConfig holds notification configuration.
type NotifyConfig struct {
	TTL time.Duration `envconfig:"NOTIFY_TTL" default:"3s"`
}

// ChannelConfig holds backend channel configuration.
type ChannelConfig struct {
	ReconnectMin time.Duration `envconfig:"CHANNEL_RECONNECT_MIN" default:"1s"`
	ReconnectMax time.Duration `envconfig:"CHANNEL_RECONNECT_MAX" default:"30s"`
	PingInterval time.Duration `envconfig:"CHANNEL_PING_INTERVAL" default:"30s"`
}

// TerminalConfig holds terminal defaults.
type TerminalConfig struct {
	Scrollback int    `envconfig:"TERMINAL_SCROLLBACK" default:"1048576"`
	Rows       int    `envconfig:"TERMINAL_ROWS" default:"24"`
	Cols       int    `envconfig:"TERMINAL_COLS" default:"80"`
	Mode       string `envconfig:"EXECUTION_MODE" default:"guided"`
}

// ExecutorConfig holds the reference backend configuration.
type ExecutorConfig struct {
	Port           string `envconfig:"EXECUTOR_PORT" default:"5000"`
	Catalog        string `envconfig:"EXECUTOR_CATALOG" default:"./tools"`
	Shell          string `envconfig:"EXECUTOR_SHELL" default:"/bin/bash"`
	PackageManager string `envconfig:"EXECUTOR_PACKAGE_MANAGER" default:"apt-get"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info"`
	Development bool   `envconfig:"LOG_DEV" default:"false"`
}

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Backend: BackendConfig{
			URL:         "http://127.0.0.1:5000",
			ChannelPath: "/channel",
		},
		Poll:   PollConfig{Interval: 5 * time.Second},
		Notify: NotifyConfig{TTL: 3 * time.Second},
		Channel: ChannelConfig{
			ReconnectMin: time.Second,
			ReconnectMax: 30 * time.Second,
			PingInterval: 30 * time.Second,
		},
		Terminal: TerminalConfig{
			Scrollback: 1 << 20,
			Rows:       24,
			Cols:       80,
			Mode:       "guided",
		},
		Executor: ExecutorConfig{
			Port:           "5000",
			Catalog:        "./tools",
			Shell:          "/bin/bash",
			PackageManager: "apt-get",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
	}
}

// ChannelURL derives the websocket URL of the backend channel.
func (b BackendConfig) ChannelURL() (string, error) {
	u, err := url.Parse(b.URL)
	if err != nil {
		return "", fmt.Errorf("invalid BACKEND_URL: %w", err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid BACKEND_URL scheme %q", u.Scheme)
	}

	path := b.ChannelPath
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}
