// Package config loads ~/.complaintfeed/config.toml.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/matheus3301/complaintfeed/internal/layout"
)

// Duration is a time.Duration written as "30s" in TOML.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

// Config represents the global config file.
type Config struct {
	DefaultProfile string           `toml:"default_profile"`
	Backend        BackendConfig    `toml:"backend"`
	Channel        ChannelConfig    `toml:"channel"`
	Cache          CacheConfig      `toml:"cache"`
	Layout         layout.Estimator `toml:"layout"`
	Feed           FeedConfig       `toml:"feed"`
	Server         ServerConfig     `toml:"server"`
}

type BackendConfig struct {
	BaseURL string   `toml:"base_url"`
	WSURL   string   `toml:"ws_url"`
	Token   string   `toml:"token"`
	Timeout Duration `toml:"timeout"`
}

type ChannelConfig struct {
	BaseDelay        Duration `toml:"base_delay"`
	MaxDelay         Duration `toml:"max_delay"`
	MaxAttempts      int      `toml:"max_attempts"`
	HeartbeatTimeout Duration `toml:"heartbeat_timeout"`
	PollInterval     Duration `toml:"poll_interval"`
	// GlobalTopics stay subscribed whichever category is in view.
	GlobalTopics []string `toml:"global_topics"`
}

// Cache drivers.
const (
	CacheSQLite = "sqlite"
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

type CacheConfig struct {
	Driver     string   `toml:"driver"`
	MaxAge     Duration `toml:"max_age"`
	MemorySize int      `toml:"memory_size"`
	RedisURL   string   `toml:"redis_url"`
}

type FeedConfig struct {
	Role            string   `toml:"role"`
	DefaultCategory string   `toml:"default_category"`
	PageSize        int      `toml:"page_size"`
	Overscan        int      `toml:"overscan"`
	ViewportWidth   int      `toml:"viewport_width"`
	MutationRetries int      `toml:"mutation_retries"`
	RetryDelay      Duration `toml:"retry_delay"`
}

type ServerConfig struct {
	HTTPAddr string `toml:"http_addr"`
	LogLevel string `toml:"log_level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			BaseURL: "http://localhost:3000",
			WSURL:   "ws://localhost:3000",
			Timeout: Duration{15 * time.Second},
		},
		Channel: ChannelConfig{
			BaseDelay:        Duration{time.Second},
			MaxDelay:         Duration{30 * time.Second},
			MaxAttempts:      5,
			HeartbeatTimeout: Duration{45 * time.Second},
			PollInterval:     Duration{30 * time.Second},
			GlobalTopics:     []string{"dashboard"},
		},
		Cache: CacheConfig{
			Driver:     CacheSQLite,
			MaxAge:     Duration{24 * time.Hour},
			MemorySize: 64,
		},
		Layout: layout.DefaultEstimator(),
		Feed: FeedConfig{
			Role:            "admin",
			PageSize:        20,
			Overscan:        layout.DefaultOverscan,
			ViewportWidth:   1024,
			MutationRetries: 3,
			RetryDelay:      Duration{500 * time.Millisecond},
		},
		Server: ServerConfig{
			HTTPAddr: "127.0.0.1:8787",
			LogLevel: "info",
		},
	}
}

// Load reads config from path on top of the defaults. Returns an error if the
// file is missing or invalid.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields the defaults.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}

// Validate checks the values the engine cannot run without.
func (c *Config) Validate() error {
	if _, err := url.ParseRequestURI(c.Backend.BaseURL); err != nil {
		return fmt.Errorf("backend.base_url: %w", err)
	}
	if c.Backend.WSURL != "" {
		if _, err := url.ParseRequestURI(c.Backend.WSURL); err != nil {
			return fmt.Errorf("backend.ws_url: %w", err)
		}
	}
	if c.Channel.BaseDelay.Duration <= 0 || c.Channel.MaxDelay.Duration < c.Channel.BaseDelay.Duration {
		return fmt.Errorf("channel: need 0 < base_delay <= max_delay")
	}
	if c.Channel.MaxAttempts <= 0 {
		return fmt.Errorf("channel.max_attempts must be positive")
	}
	switch c.Cache.Driver {
	case CacheSQLite, CacheMemory:
	case CacheRedis:
		if c.Cache.RedisURL == "" {
			return fmt.Errorf("cache.redis_url is required for the redis driver")
		}
	default:
		return fmt.Errorf("cache.driver: unknown driver %q", c.Cache.Driver)
	}
	if err := c.Layout.Validate(); err != nil {
		return fmt.Errorf("layout: %w", err)
	}
	if c.Feed.PageSize <= 0 {
		return fmt.Errorf("feed.page_size must be positive")
	}
	if c.Feed.Role == "" {
		return fmt.Errorf("feed.role is required")
	}
	return nil
}
