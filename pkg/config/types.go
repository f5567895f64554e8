package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Realtime  RealtimeConfig  `yaml:"realtime"`
	Store     StoreConfig     `yaml:"store"`
	Logging   LoggingConfig   `yaml:"logging"`
	Uploads   UploadsConfig   `yaml:"uploads"`
	Bus       BusConfig       `yaml:"bus"`
	Delivery  DeliveryConfig  `yaml:"delivery"`
	Title     TitleConfig     `yaml:"title"`
	Agents    AgentsConfig    `yaml:"agents"`
	Retention RetentionConfig `yaml:"retention"`
}

// ServerConfig holds the http api listener and its guard rails.
type ServerConfig struct {
	Address string `yaml:"address"`
	Port    int    `yaml:"port"`
	// Production hides internal error details from responses.
	Production bool `yaml:"production"`
	CORS       struct {
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"cors"`
	IPWhitelist []string `yaml:"ip_whitelist"`
	// APIKeys guard server-to-server calls; empty disables inbound auth.
	APIKeys      []string  `yaml:"api_keys"`
	APIKeyHeader string    `yaml:"api_key_header"`
	ReadTimeout  Duration  `yaml:"read_timeout"`
	WriteTimeout Duration  `yaml:"write_timeout"`
	IdleTimeout  Duration  `yaml:"idle_timeout"`
	MaxBodySize  SizeBytes `yaml:"max_body_size"`
}

// RealtimeConfig holds the websocket listener settings.
type RealtimeConfig struct {
	Disabled       bool     `yaml:"disabled"`
	Address        string   `yaml:"address"`
	Path           string   `yaml:"path"`
	AllowedOrigins []string `yaml:"allowed_origins"`
	SendBuffer     int      `yaml:"send_buffer"`
}

// StoreConfig selects the channel store adapter.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "memory" or "pebble"
	Path   string `yaml:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// RateLimitConfig is a token bucket: rps refill with burst capacity.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// UploadsConfig holds media upload validation and storage settings.
type UploadsConfig struct {
	Dir              string    `yaml:"dir"`
	PublicPrefix     string    `yaml:"public_prefix"`
	MaxFileSize      SizeBytes `yaml:"max_file_size"`
	AllowedMimeTypes []string  `yaml:"allowed_mime_types"`
	RateLimit        struct {
		Upload     RateLimitConfig `yaml:"upload"`
		Filesystem RateLimitConfig `yaml:"filesystem"`
	} `yaml:"rate_limit"`
}

// BusConfig tunes the internal bus.
type BusConfig struct {
	SubscriberBuffer int `yaml:"subscriber_buffer"`
}

// DeliveryConfig holds outbound delivery settings read from the config file.
// Credentials come from the environment, see DeliveryEnv.
type DeliveryConfig struct {
	BusURL string `yaml:"bus_url"`
}

// TitleConfig selects the model used for channel title generation.
type TitleConfig struct {
	Provider    string  `yaml:"provider"` // "anthropic", "openai" or empty
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// AgentsConfig seeds the live agent registry.
type AgentsConfig struct {
	IDs []string `yaml:"ids"`
}

// RetentionConfig holds configuration for the automatic purge runner.
type RetentionConfig struct {
	Enabled bool     `yaml:"enabled"`
	Cron    string   `yaml:"cron"`
	Period  Duration `yaml:"period"`
	DryRun  bool     `yaml:"dry_run"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	v, err := parseSize(node.Value)
	if err != nil {
		return err
	}
	*s = v
	return nil
}

func (s SizeBytes) Int64() int64 { return int64(s) }

func parseSize(raw string) (SizeBytes, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return SizeBytes(i), nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		return SizeBytes(v), nil
	}
	return 0, fmt.Errorf("invalid size value: %q", raw)
}

// Duration is a wrapper around time.Duration that supports YAML parsing from
// strings like "100ms", "30d" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	v, err := parseDurationValue(node.Value)
	if err != nil {
		return err
	}
	*d = v
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

func parseDurationValue(raw string) (Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		return Duration(td), nil
	}
	// day suffix for retention periods
	if strings.HasSuffix(raw, "d") {
		if n, err := strconv.ParseFloat(strings.TrimSuffix(raw, "d"), 64); err == nil {
			return Duration(time.Duration(n * float64(24*time.Hour))), nil
		}
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return Duration(time.Duration(f * float64(time.Second))), nil
	}
	return 0, fmt.Errorf("invalid duration value: %q", raw)
}
