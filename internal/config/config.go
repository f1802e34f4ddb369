package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Config carries everything the client needs from the environment. A .env
// file in the working directory is honored before the process environment
// is parsed.
type Config struct {
	// APIBaseURL is the REST and realtime base, e.g. http://localhost:8080.
	APIBaseURL string `env:"API_BASE_URL" envDefault:"http://localhost:8080"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`

	// TokenPath overrides where the bearer token is persisted. Empty means
	// <user config dir>/medilink/token.json.
	TokenPath string `env:"TOKEN_PATH"`

	HeartbeatSend    time.Duration `env:"HEARTBEAT_SEND" envDefault:"10s"`
	HeartbeatReceive time.Duration `env:"HEARTBEAT_RECEIVE" envDefault:"10s"`
	DialTimeout      time.Duration `env:"DIAL_TIMEOUT" envDefault:"10s"`

	// PaymentRetryDelay is how long a send waits before retrying when it
	// failed right after the user completed a payment flow.
	PaymentRetryDelay time.Duration `env:"PAYMENT_RETRY_DELAY" envDefault:"2s"`

	MaxImageBytes    int64 `env:"MAX_IMAGE_BYTES" envDefault:"5242880"`
	MaxImageEdge     int   `env:"MAX_IMAGE_EDGE" envDefault:"1200"`
	ImageJPEGQuality int   `env:"IMAGE_JPEG_QUALITY" envDefault:"70"`
}

// Load reads .env (if present) and the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}
	if strings.TrimSpace(cfg.APIBaseURL) == "" {
		cfg.APIBaseURL = "http://localhost:8080"
	}
	cfg.APIBaseURL = strings.TrimRight(cfg.APIBaseURL, "/")
	if _, err := url.Parse(cfg.APIBaseURL); err != nil {
		return nil, fmt.Errorf("invalid API_BASE_URL %q: %w", cfg.APIBaseURL, err)
	}
	return cfg, nil
}

// WSEndpoint derives the realtime endpoint from the REST base. SockJS
// servers expose a raw WebSocket child endpoint under <path>/websocket,
// which is what native (non-browser) clients dial.
func (c *Config) WSEndpoint() string {
	base := c.APIBaseURL
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/ws/websocket"
}

// TokenFile resolves the token path, falling back to the user config dir.
func (c *Config) TokenFile() (string, error) {
	if c.TokenPath != "" {
		return c.TokenPath, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "medilink", "token.json"), nil
}

// IsDevelopment returns true if environment is development
func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// IsProduction returns true if environment is production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
