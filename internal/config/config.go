package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all builderd configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	// Builder backend (the remote agent service)
	BuilderBaseURL string        `envconfig:"BUILDER_BASE_URL" default:"http://localhost:4100/api/builder"`
	BuilderToken   string        `envconfig:"BUILDER_TOKEN"` // optional bearer token, usually handled by a reverse proxy
	RequestTimeout time.Duration `envconfig:"BUILDER_REQUEST_TIMEOUT" default:"30s"`

	// Poller
	PollInterval time.Duration `envconfig:"POLL_INTERVAL" default:"3s"`

	// Status stream (optional, polling is the fallback)
	StreamURL string `envconfig:"BUILDER_STREAM_URL"` // e.g. ws://host/api/builder/stream

	// Local history (optional SQLite persistence)
	HistoryDBPath string `envconfig:"HISTORY_DB_PATH"`

	// Slack notifications (optional)
	SlackBotToken string `envconfig:"NOTIFY_SLACK_BOT_TOKEN"`
	SlackChannel  string `envconfig:"NOTIFY_SLACK_CHANNEL"`

	// Gateway API
	GatewayListenAddr     string `envconfig:"GATEWAY_LISTEN_ADDR" default:":8090"`
	GatewayAuthMode       string `envconfig:"GATEWAY_AUTH_MODE" default:"none"` // "none", "api-key", "jwt"
	GatewayAPIKey         string `envconfig:"GATEWAY_API_KEY"`
	GatewayJWTSecret      string `envconfig:"GATEWAY_JWT_SECRET"`
	GatewayCORSOrigins    string `envconfig:"GATEWAY_CORS_ORIGINS"`
	GatewayRateLimitRPS   int    `envconfig:"GATEWAY_RATE_LIMIT_RPS" default:"100"`
	GatewayRateLimitBurst int    `envconfig:"GATEWAY_RATE_LIMIT_BURST" default:"200"`
	GatewayTLSCert        string `envconfig:"GATEWAY_TLS_CERT"`
	GatewayTLSKey         string `envconfig:"GATEWAY_TLS_KEY"`
}

// StreamEnabled returns true if a WebSocket stream URL is configured.
func (c *Config) StreamEnabled() bool {
	return c.StreamURL != ""
}

// HistoryEnabled returns true if local SQLite persistence is configured.
func (c *Config) HistoryEnabled() bool {
	return c.HistoryDBPath != ""
}

// SlackEnabled returns true if Slack notification credentials are configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackChannel != ""
}

// Validate checks cross-field constraints that envconfig cannot express.
func (c *Config) Validate() error {
	switch c.GatewayAuthMode {
	case "none":
	case "api-key":
		if c.GatewayAPIKey == "" {
			return fmt.Errorf("GATEWAY_AUTH_MODE=api-key requires GATEWAY_API_KEY")
		}
	case "jwt":
		if c.GatewayJWTSecret == "" {
			return fmt.Errorf("GATEWAY_AUTH_MODE=jwt requires GATEWAY_JWT_SECRET")
		}
	default:
		return fmt.Errorf("unknown GATEWAY_AUTH_MODE %q", c.GatewayAuthMode)
	}

	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive, got %s", c.PollInterval)
	}

	if c.StreamURL != "" && !strings.HasPrefix(c.StreamURL, "ws://") && !strings.HasPrefix(c.StreamURL, "wss://") {
		return fmt.Errorf("BUILDER_STREAM_URL must be a ws:// or wss:// URL")
	}

	return nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadWithPrefix reads configuration with an env var prefix.
func LoadWithPrefix(prefix string) (*Config, error) {
	var cfg Config
	if err := envconfig.Process(prefix, &cfg); err != nil {
		return nil, fmt.Errorf("loading config with prefix %s: %w", prefix, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
