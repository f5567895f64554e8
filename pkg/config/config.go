package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"agentrelay/pkg/ids"
)

// defaults
const (
	defaultPort             = 8080
	defaultReadTimeout      = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultIdleTimeout      = 30 * time.Second
	defaultMaxBodySize      = 64 * 1024 * 1024 // must exceed the upload limit
	defaultAPIKeyHeader     = "X-API-KEY"
	defaultRealtimeAddress  = ":8081"
	defaultRealtimePath     = "/socket"
	defaultSendBuffer       = 64
	defaultStoreDriver      = "pebble"
	defaultStorePath        = "./.database"
	defaultUploadsDir       = "./uploads"
	defaultUploadsPrefix    = "/media/uploads"
	defaultMaxFileSize      = 50 * 1024 * 1024
	defaultUploadRPS        = 10.0 / 60.0 // 10 per minute
	defaultUploadBurst      = 10
	defaultFilesystemRPS    = 100.0 / 60.0
	defaultFilesystemBurst  = 100
	defaultSubscriberBuffer = 256
	defaultBusURL           = "http://localhost:8080/submit"
	defaultTitleTemperature = 0.3
	defaultTitleMaxTokens   = 50
	defaultRetentionCron    = "0 2 * * *" // daily at 02:00
	defaultRetentionPeriod  = 30 * 24 * time.Hour
	minRetentionPeriod      = time.Hour
)

// DefaultAllowedMimeTypes is the media upload allow-list.
var DefaultAllowedMimeTypes = []string{
	"image/jpeg", "image/png", "image/gif", "image/webp", "image/svg+xml",
	"video/mp4", "video/webm", "video/quicktime",
	"audio/mpeg", "audio/mp3", "audio/wav", "audio/ogg", "audio/webm", "audio/mp4", "audio/aac", "audio/flac",
	"application/pdf",
	"text/plain", "text/markdown", "text/csv",
}

// DeliveryEnv carries the outbound delivery credentials. They are only ever
// read from the environment.
type DeliveryEnv struct {
	AuthToken  string `env:"AUTH_TOKEN"`
	AuthMethod string `env:"AUTH_METHOD"`
	AuthHeader string `env:"AUTH_HEADER" envDefault:"X-API-KEY"`
	BusURL     string `env:"CENTRAL_BUS_URL"`
}

// ParseDeliveryEnv reads DeliveryEnv from the process environment.
func ParseDeliveryEnv() (DeliveryEnv, error) {
	var d DeliveryEnv
	if err := env.Parse(&d); err != nil {
		return DeliveryEnv{}, fmt.Errorf("parse delivery env: %w", err)
	}
	d.AuthMethod = strings.ToLower(strings.TrimSpace(d.AuthMethod))
	return d, nil
}

// Addr returns the HTTP server address as host:port.
func (c *Config) Addr() string {
	addr := c.Server.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	port := c.Server.Port
	if port == 0 {
		port = defaultPort
	}
	return fmt.Sprintf("%s:%d", addr, port)
}

// LoadConfigFile reads and parses a config file.
func LoadConfigFile(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// ValidateConfig applies defaults and validates values in the config. It
// mutates the receiver to fill in missing defaults.
func (c *Config) ValidateConfig() error {
	// server
	if c.Server.ReadTimeout.Duration() == 0 {
		c.Server.ReadTimeout = Duration(defaultReadTimeout)
	}
	if c.Server.WriteTimeout.Duration() == 0 {
		c.Server.WriteTimeout = Duration(defaultWriteTimeout)
	}
	if c.Server.IdleTimeout.Duration() == 0 {
		c.Server.IdleTimeout = Duration(defaultIdleTimeout)
	}
	if c.Server.MaxBodySize.Int64() == 0 {
		c.Server.MaxBodySize = SizeBytes(defaultMaxBodySize)
	}
	if strings.TrimSpace(c.Server.APIKeyHeader) == "" {
		c.Server.APIKeyHeader = defaultAPIKeyHeader
	}

	// realtime
	if c.Realtime.Address == "" {
		c.Realtime.Address = defaultRealtimeAddress
	}
	if c.Realtime.Path == "" {
		c.Realtime.Path = defaultRealtimePath
	}
	if c.Realtime.SendBuffer <= 0 {
		c.Realtime.SendBuffer = defaultSendBuffer
	}
	if len(c.Realtime.AllowedOrigins) == 0 {
		c.Realtime.AllowedOrigins = append([]string{}, c.Server.CORS.AllowedOrigins...)
	}

	// store
	c.Store.Driver = strings.ToLower(strings.TrimSpace(c.Store.Driver))
	if c.Store.Driver == "" {
		c.Store.Driver = defaultStoreDriver
	}
	switch c.Store.Driver {
	case "memory":
	case "pebble":
		if c.Store.Path == "" {
			c.Store.Path = defaultStorePath
		}
	default:
		return fmt.Errorf("invalid store.driver %q: expected memory or pebble", c.Store.Driver)
	}

	// logging
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}

	// uploads
	u := &c.Uploads
	if u.Dir == "" {
		u.Dir = defaultUploadsDir
	}
	if u.PublicPrefix == "" {
		u.PublicPrefix = defaultUploadsPrefix
	}
	if u.MaxFileSize.Int64() <= 0 {
		u.MaxFileSize = SizeBytes(defaultMaxFileSize)
	}
	if len(u.AllowedMimeTypes) == 0 {
		u.AllowedMimeTypes = append([]string{}, DefaultAllowedMimeTypes...)
	}
	if u.RateLimit.Upload.RPS <= 0 {
		u.RateLimit.Upload.RPS = defaultUploadRPS
	}
	if u.RateLimit.Upload.Burst <= 0 {
		u.RateLimit.Upload.Burst = defaultUploadBurst
	}
	if u.RateLimit.Filesystem.RPS <= 0 {
		u.RateLimit.Filesystem.RPS = defaultFilesystemRPS
	}
	if u.RateLimit.Filesystem.Burst <= 0 {
		u.RateLimit.Filesystem.Burst = defaultFilesystemBurst
	}

	// bus and delivery
	if c.Bus.SubscriberBuffer <= 0 {
		c.Bus.SubscriberBuffer = defaultSubscriberBuffer
	}
	if c.Delivery.BusURL == "" {
		c.Delivery.BusURL = defaultBusURL
	}

	// title generation
	c.Title.Provider = strings.ToLower(strings.TrimSpace(c.Title.Provider))
	switch c.Title.Provider {
	case "", "anthropic", "openai":
	default:
		return fmt.Errorf("invalid title.provider %q: expected anthropic or openai", c.Title.Provider)
	}
	if c.Title.Temperature == 0 {
		c.Title.Temperature = defaultTitleTemperature
	}
	if c.Title.MaxTokens <= 0 {
		c.Title.MaxTokens = defaultTitleMaxTokens
	}

	// agents
	for _, id := range c.Agents.IDs {
		if !ids.Valid(id) {
			return fmt.Errorf("invalid agents.ids entry %q: not a uuid", id)
		}
	}

	// retention
	if c.Retention.Cron == "" {
		c.Retention.Cron = defaultRetentionCron
	}
	if c.Retention.Period.Duration() == 0 {
		c.Retention.Period = Duration(defaultRetentionPeriod)
	}
	if !gronx.New().IsValid(c.Retention.Cron) {
		return fmt.Errorf("invalid retention cron expression: %s", c.Retention.Cron)
	}
	if c.Retention.Period.Duration() < minRetentionPeriod {
		return fmt.Errorf("retention.period %s is below the minimum of %s", c.Retention.Period.Duration(), minRetentionPeriod)
	}

	return nil
}

// ResolveConfigPath returns the config file path, preferring flag, then env.
func ResolveConfigPath(flagPath string, flagSet bool) string {
	if flagSet {
		return flagPath
	}
	if p := os.Getenv("AGENTRELAY_CONFIG"); p != "" {
		return p
	}
	return flagPath
}
