package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/kelseyhightower/envconfig"
)

// GatewayConfig configures the CRM messaging gateway client. The
// envconfig tags are relative to the nested struct, so the full env
// keys come out as COMMSYNC_GATEWAY_BASE_URL and so on.
type GatewayConfig struct {
	BaseURL string        `toml:"base_url" envconfig:"BASE_URL"`
	Token   string        `toml:"token" envconfig:"TOKEN"`
	Timeout time.Duration `toml:"timeout" envconfig:"TIMEOUT"`
	// RatePerSecond caps outbound gateway calls. Zero disables limiting.
	RatePerSecond float64 `toml:"rate_per_second" envconfig:"RATE_PER_SECOND"`
}

// SyncConfig configures the background polling scheduler.
type SyncConfig struct {
	PollInterval time.Duration `toml:"poll_interval" envconfig:"POLL_INTERVAL"`
	FetchTimeout time.Duration `toml:"fetch_timeout" envconfig:"FETCH_TIMEOUT"`
	SendTimeout  time.Duration `toml:"send_timeout" envconfig:"SEND_TIMEOUT"`
}

// DaemonConfig configures the daemon's control surface.
type DaemonConfig struct {
	// Listen is an optional TCP address (e.g. "127.0.0.1:8744"). When
	// empty the daemon serves only on the session unix socket.
	Listen string `toml:"listen" envconfig:"LISTEN"`
}

// Config is the per-session configuration, loaded from
// ~/.commsync/<session>/config.toml with COMMSYNC_* env overrides on top.
type Config struct {
	DefaultSession string        `toml:"default_session" envconfig:"DEFAULT_SESSION"`
	Gateway        GatewayConfig `toml:"gateway"`
	Sync           SyncConfig    `toml:"sync"`
	Daemon         DaemonConfig  `toml:"daemon"`
}

// Load reads config from the given path and applies COMMSYNC_* env
// overrides. A missing file is not an error: defaults plus env apply.
func Load(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if err := envconfig.Process("COMMSYNC", &cfg); err != nil {
		return nil, fmt.Errorf("env overrides: %w", err)
	}
	cfg.applyDefaults()
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Gateway.Timeout <= 0 {
		c.Gateway.Timeout = 15 * time.Second
	}
	if c.Sync.PollInterval <= 0 {
		c.Sync.PollInterval = 5 * time.Second
	}
	if c.Sync.FetchTimeout <= 0 {
		c.Sync.FetchTimeout = 10 * time.Second
	}
	if c.Sync.SendTimeout <= 0 {
		c.Sync.SendTimeout = 10 * time.Second
	}
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

// Validate reports configuration the daemon cannot start with.
func (c *Config) Validate() error {
	if c.Gateway.BaseURL == "" {
		return fmt.Errorf("gateway.base_url is required (or COMMSYNC_GATEWAY_BASE_URL)")
	}
	if c.Sync.PollInterval < time.Second {
		return fmt.Errorf("sync.poll_interval must be at least 1s, got %s", c.Sync.PollInterval)
	}
	return nil
}
