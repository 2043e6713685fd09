package core

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// Default endpoints and user agent.
const (
	DefaultWSURL     = "wss://advanced-trade-ws.coinbase.com"
	DefaultRESTURL   = "https://api.coinbase.com"
	DefaultUserAgent = "cbadv-go/0.1"
)

// ReconnectConfig holds configuration for automatic reconnection behavior.
// The wait after failed attempt k is BaseWait * Multiplier^k, capped at MaxWait when MaxWait is positive.
type ReconnectConfig struct {
	// Enabled determines whether a socket close starts the reconnection protocol.
	Enabled bool `json:"enabled"`
	// MaxAttempts is the number of reconnect attempts before the connection is declared closed.
	MaxAttempts int `json:"max_attempts" validate:"min=1"`
	// BaseWait is the base of the geometric backoff.
	BaseWait time.Duration `json:"base_wait" validate:"min=0"`
	// MaxWait caps a single backoff sleep. Zero means no cap.
	MaxWait time.Duration `json:"max_wait" validate:"min=0"`
	// Multiplier is the growth factor of the backoff.
	Multiplier float64 `json:"multiplier" validate:"gte=1"`
}

// DefaultReconnectConfig returns the reconnect policy used by the exchange SDKs:
// five attempts, 5s base, factor 1.5.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		Enabled:     true,
		MaxAttempts: 5,
		BaseWait:    5 * time.Second,
		MaxWait:     0,
		Multiplier:  1.5,
	}
}

// StreamConfig contains all configuration options for a streaming client.
type StreamConfig struct {
	// URL is the base websocket endpoint; the path passed to Connect is appended to it.
	URL string `json:"url" validate:"required,url"`
	// Authenticate requires a credential at connect time and sends a bearer token in the handshake.
	Authenticate bool `json:"authenticate"`

	Reconnect ReconnectConfig `json:"reconnect"`

	// DialTimeout bounds a single connection attempt.
	DialTimeout time.Duration `json:"dial_timeout" validate:"min=1ms"`
	// CloseTimeout bounds the wait for the peer's close acknowledgement.
	CloseTimeout time.Duration `json:"close_timeout" validate:"min=1ms"`
	PingInterval time.Duration `json:"ping_interval" validate:"min=1ms"`
	PongWait     time.Duration `json:"pong_wait" validate:"min=1ms"`

	// BufferSize is the per-subscription queue capacity.
	BufferSize int    `json:"buffer_size" validate:"min=1"`
	UserAgent  string `json:"user_agent"`

	LogLevel string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultStreamConfig returns a StreamConfig initialized with production defaults.
func DefaultStreamConfig() *StreamConfig {
	return &StreamConfig{
		URL:          DefaultWSURL,
		Reconnect:    DefaultReconnectConfig(),
		DialTimeout:  10 * time.Second,
		CloseTimeout: 5 * time.Second,
		PingInterval: 10 * time.Second,
		PongWait:     20 * time.Second,
		BufferSize:   1024,
		UserAgent:    DefaultUserAgent,
		LogLevel:     "info",
	}
}

var validate = validator.New()

// Validate checks field constraints and cross-field rules.
func (c *StreamConfig) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.Reconnect.Enabled && c.Reconnect.BaseWait <= 0 {
		return errors.New("Reconnect.BaseWait must be positive when reconnect is enabled")
	}
	if c.Reconnect.MaxWait > 0 && c.Reconnect.MaxWait < c.Reconnect.BaseWait {
		return errors.New("Reconnect.MaxWait must not be below Reconnect.BaseWait")
	}
	return nil
}

// WithURL sets the base websocket URL and returns the config for chaining.
func (c *StreamConfig) WithURL(url string) *StreamConfig {
	c.URL = url
	return c
}

// WithReconnect sets the reconnect policy and returns the config for chaining.
func (c *StreamConfig) WithReconnect(reconnect ReconnectConfig) *StreamConfig {
	c.Reconnect = reconnect
	return c
}

// WithRetry enables or disables automatic reconnection and returns the config for chaining.
func (c *StreamConfig) WithRetry(enabled bool) *StreamConfig {
	c.Reconnect.Enabled = enabled
	return c
}

// WithAuthenticate enables handshake authentication and returns the config for chaining.
func (c *StreamConfig) WithAuthenticate(authenticate bool) *StreamConfig {
	c.Authenticate = authenticate
	return c
}

// WithBufferSize sets the per-subscription queue capacity and returns the config for chaining.
func (c *StreamConfig) WithBufferSize(size int) *StreamConfig {
	c.BufferSize = size
	return c
}
