package core

import (
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/go-playground/validator/v10"
)

// Transport names understood by the dialer.
const (
	TransportWebsocket = "websocket"
	TransportPolling   = "polling"
)

// Config contains all configuration options for a realtime connection manager.
// It includes the endpoint, reconnect policy, credential refresh, and send throttling settings.
type Config struct {
	// URL is the streaming endpoint to connect to.
	URL string `json:"url" validate:"required,url"`

	// MaxAttempts is the number of consecutive transport failures tolerated before giving up.
	MaxAttempts int `json:"max_attempts" validate:"min=1"`
	// BaseDelay is the first exponential backoff delay.
	BaseDelay time.Duration `json:"base_delay" validate:"min=1ms"`
	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration `json:"max_delay" validate:"min=1ms"`
	// AuthErrorDelay is the fixed delay applied after the server rejects a credential.
	AuthErrorDelay time.Duration `json:"auth_error_delay" validate:"min=0"`
	// RefreshDebounce is how long to wait after a credential refresh before reconnecting.
	RefreshDebounce time.Duration `json:"refresh_debounce" validate:"min=0"`

	Transports       []string      `json:"transports" validate:"required,min=1,dive,oneof=websocket polling"`
	HandshakeTimeout time.Duration `json:"handshake_timeout" validate:"min=1ms"`
	PingInterval     time.Duration `json:"ping_interval" validate:"min=1ms"`
	PongWait         time.Duration `json:"pong_wait" validate:"min=1ms"`

	SendRateLimit  int           `json:"send_rate_limit" validate:"min=1"`
	SendRatePeriod time.Duration `json:"send_rate_period" validate:"min=1ms"`

	// RefreshURL is the optional endpoint used to renew the credential.
	RefreshURL string `json:"refresh_url" validate:"omitempty,url"`

	LogLevel string `json:"log_level" validate:"omitempty,oneof=debug info warn error"`
}

// DefaultConfig returns a Config initialized with sensible defaults for the given endpoint.
// Default values: 5 attempts, 1s-30s exponential backoff, 2s auth error delay, 100ms refresh debounce,
// 10s handshake timeout, 10s ping interval, 20s pong wait, 50 frames per second.
func DefaultConfig(url string) *Config {
	return &Config{
		URL:             url,
		MaxAttempts:     5,
		BaseDelay:       1 * time.Second,
		MaxDelay:        30 * time.Second,
		AuthErrorDelay:  2 * time.Second,
		RefreshDebounce: 100 * time.Millisecond,

		Transports:       []string{TransportWebsocket, TransportPolling},
		HandshakeTimeout: 10 * time.Second,
		PingInterval:     10 * time.Second,
		PongWait:         20 * time.Second,

		SendRateLimit:  50,
		SendRatePeriod: time.Second,

		LogLevel: "info",
	}
}

var validate = validator.New()

func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if c.MaxDelay < c.BaseDelay {
		return errors.New("MaxDelay must not be smaller than BaseDelay")
	}
	return nil
}

// WithReconnect sets the exponential reconnect policy and returns the config for chaining.
func (c *Config) WithReconnect(maxAttempts int, base, max time.Duration) *Config {
	c.MaxAttempts = maxAttempts
	c.BaseDelay = base
	c.MaxDelay = max
	return c
}

// WithAuthErrorDelay sets the fixed delay used after credential rejections and returns the config for chaining.
func (c *Config) WithAuthErrorDelay(delay time.Duration) *Config {
	c.AuthErrorDelay = delay
	return c
}

// WithRefreshDebounce sets the refresh debounce and returns the config for chaining.
func (c *Config) WithRefreshDebounce(delay time.Duration) *Config {
	c.RefreshDebounce = delay
	return c
}

// WithRefreshURL sets the credential refresh endpoint and returns the config for chaining.
func (c *Config) WithRefreshURL(url string) *Config {
	c.RefreshURL = url
	return c
}

// WithSendRateLimit sets the outbound frame rate and returns the config for chaining.
func (c *Config) WithSendRateLimit(frames int, period time.Duration) *Config {
	c.SendRateLimit = frames
	c.SendRatePeriod = period
	return c
}

// fileConfig mirrors the option object accepted by embedders, with millisecond durations.
type fileConfig struct {
	URL                *string  `json:"url"`
	MaxAttempts        *int     `json:"maxAttempts"`
	BaseDelayMs        *int64   `json:"baseDelayMs"`
	MaxDelayMs         *int64   `json:"maxDelayMs"`
	AuthErrorDelayMs   *int64   `json:"authErrorDelayMs"`
	RefreshDebounceMs  *int64   `json:"refreshDebounceMs"`
	Transports         []string `json:"transports"`
	HandshakeTimeoutMs *int64   `json:"handshakeTimeoutMs"`
	PingIntervalMs     *int64   `json:"pingIntervalMs"`
	PongWaitMs         *int64   `json:"pongWaitMs"`
	SendRateLimit      *int     `json:"sendRateLimit"`
	RefreshURL         *string  `json:"refreshUrl"`
	LogLevel           *string  `json:"logLevel"`
}

// ParseConfig decodes a JSON option object and overlays every present key on DefaultConfig.
// The result is validated before it is returned.
func ParseConfig(data []byte) (*Config, error) {
	var fc fileConfig
	if err := sonic.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	c := DefaultConfig("")
	if fc.URL != nil {
		c.URL = *fc.URL
	}
	if fc.MaxAttempts != nil {
		c.MaxAttempts = *fc.MaxAttempts
	}
	setMillis(&c.BaseDelay, fc.BaseDelayMs)
	setMillis(&c.MaxDelay, fc.MaxDelayMs)
	setMillis(&c.AuthErrorDelay, fc.AuthErrorDelayMs)
	setMillis(&c.RefreshDebounce, fc.RefreshDebounceMs)
	setMillis(&c.HandshakeTimeout, fc.HandshakeTimeoutMs)
	setMillis(&c.PingInterval, fc.PingIntervalMs)
	setMillis(&c.PongWait, fc.PongWaitMs)
	if fc.Transports != nil {
		c.Transports = fc.Transports
	}
	if fc.SendRateLimit != nil {
		c.SendRateLimit = *fc.SendRateLimit
	}
	if fc.RefreshURL != nil {
		c.RefreshURL = *fc.RefreshURL
	}
	if fc.LogLevel != nil {
		c.LogLevel = *fc.LogLevel
	}

	if err := c.Validate(); err != nil {
		return nil, NewConnErrorWithCode(ErrorTypeInvalidConfig, ErrCodeInvalidConfig, "invalid config", err)
	}
	return c, nil
}

func setMillis(dst *time.Duration, ms *int64) {
	if ms != nil {
		*dst = time.Duration(*ms) * time.Millisecond
	}
}
