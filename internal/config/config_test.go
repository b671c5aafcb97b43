package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := Default()
	if err := Validate(cfg); err != nil {
		t.Fatalf("expected default config to validate: %v", err)
	}
	if cfg.HeartbeatThreshold() != 900*time.Second {
		t.Fatalf("unexpected default heartbeat threshold %v", cfg.HeartbeatThreshold())
	}
}

func TestLoadConfigFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.json")
	if err := SaveDefault(path); err != nil {
		t.Fatalf("save default config: %v", err)
	}

	cfg, loadedPath, err := Load(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if loadedPath != path {
		t.Fatalf("expected loaded path %q, got %q", path, loadedPath)
	}
	if cfg.Alerts.Channel == "" {
		t.Fatalf("expected non-empty alert channel")
	}
}

func TestLoadConfigFromTOML(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.toml")
	content := `version = 1

[redis]
url = "redis://example:6379/2"

[agent]
project = "hackquest"
worker = "rig-01"
heartbeat_threshold_seconds = 120

[direct]
kind = "telegram"
telegram_token = "t"
telegram_chat_id = "42"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write toml: %v", err)
	}
	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("load toml config: %v", err)
	}
	if cfg.Agent.Project != "hackquest" || cfg.Agent.Worker != "rig-01" {
		t.Fatalf("unexpected agent identity %q/%q", cfg.Agent.Project, cfg.Agent.Worker)
	}
	if cfg.Agent.HeartbeatThresholdSeconds != 120 {
		t.Fatalf("expected heartbeat threshold 120, got %d", cfg.Agent.HeartbeatThresholdSeconds)
	}
	if cfg.Agent.StatusTTLSeconds != 86400 {
		t.Fatalf("expected untouched default status ttl, got %d", cfg.Agent.StatusTTLSeconds)
	}
	if cfg.Redis.URL != "redis://example:6379/2" {
		t.Fatalf("unexpected redis url %q", cfg.Redis.URL)
	}
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "missing-config.json")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected missing test config file")
	}

	cfg, loadedPath, err := Load(path)
	if err != nil {
		t.Fatalf("load config with missing file: %v", err)
	}
	if loadedPath != path {
		t.Fatalf("expected loaded path %q, got %q", path, loadedPath)
	}
	if cfg.Version != 1 {
		t.Fatalf("expected default config version 1, got %d", cfg.Version)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := map[string]func(*Config){
		"colon in project":     func(c *Config) { c.Agent.Project = "a:b" },
		"empty worker":         func(c *Config) { c.Agent.Worker = " " },
		"zero threshold":       func(c *Config) { c.Agent.HeartbeatThresholdSeconds = 0 },
		"discord without id":   func(c *Config) { c.Direct.Kind = DirectKindDiscord; c.Direct.DiscordToken = "x" },
		"unknown direct kind":  func(c *Config) { c.Direct.Kind = "pager" },
		"empty alert channel":  func(c *Config) { c.Alerts.Channel = "" },
		"negative safety gap":  func(c *Config) { c.Liveness.SafetyMarginSeconds = -1 },
		"zero command workers": func(c *Config) { c.Agent.MaxCommandWorkers = 0 },
		"interval past margin": func(c *Config) { c.Agent.HeartbeatIntervalSeconds = 300 },
		"negative interval":    func(c *Config) { c.Agent.HeartbeatIntervalSeconds = -5 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := Validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}
