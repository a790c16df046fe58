package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSaveAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	cfg := &Config{DefaultSession: "work"}
	cfg.Gateway.BaseURL = "https://gateway.example.com"
	cfg.Sync.PollInterval = 30 * time.Second
	if err := Save(path, cfg); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if loaded.DefaultSession != "work" {
		t.Errorf("DefaultSession = %q, want %q", loaded.DefaultSession, "work")
	}
	if loaded.Gateway.BaseURL != "https://gateway.example.com" {
		t.Errorf("BaseURL = %q", loaded.Gateway.BaseURL)
	}
	if loaded.Sync.PollInterval != 30*time.Second {
		t.Errorf("PollInterval = %s, want 30s (file value kept over default)", loaded.Sync.PollInterval)
	}
}

func TestLoadMissingUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Sync.PollInterval != 5*time.Second {
		t.Errorf("PollInterval = %s, want default 5s", cfg.Sync.PollInterval)
	}
	if cfg.Gateway.Timeout != 15*time.Second {
		t.Errorf("Gateway.Timeout = %s, want default 15s", cfg.Gateway.Timeout)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("COMMSYNC_GATEWAY_BASE_URL", "https://env.example.com")
	t.Setenv("COMMSYNC_SYNC_POLL_INTERVAL", "7s")

	path := filepath.Join(t.TempDir(), "config.toml")
	cfg := &Config{}
	cfg.Gateway.BaseURL = "https://file.example.com"
	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Gateway.BaseURL != "https://env.example.com" {
		t.Errorf("BaseURL = %q, want env value to win", loaded.Gateway.BaseURL)
	}
	if loaded.Sync.PollInterval != 7*time.Second {
		t.Errorf("PollInterval = %s, want 7s from env", loaded.Sync.PollInterval)
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted empty gateway base URL")
	}

	cfg.Gateway.BaseURL = "https://gateway.example.com"
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}

	cfg.Sync.PollInterval = 100 * time.Millisecond
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() accepted sub-second poll interval")
	}
}

func TestSavePermissions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")

	if err := Save(path, &Config{DefaultSession: "main"}); err != nil {
		t.Fatal(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0600 {
		t.Errorf("file permission = %o, want 0600", perm)
	}
}
