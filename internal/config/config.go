package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml"
)

const DefaultConfigPath = ".fleetwatch/config.json"

const (
	DirectKindNone     = ""
	DirectKindDiscord  = "discord"
	DirectKindTelegram = "telegram"
)

type Config struct {
	Version int `json:"version" toml:"version"`
	Redis   struct {
		URL              string `json:"url" toml:"url"`
		ConnectRetries   int    `json:"connect_retries" toml:"connect_retries"`
		ConnectBackoffMS int    `json:"connect_backoff_ms" toml:"connect_backoff_ms"`
	} `json:"redis" toml:"redis"`
	Agent struct {
		Project                   string `json:"project" toml:"project"`
		Worker                    string `json:"worker" toml:"worker"`
		HeartbeatThresholdSeconds int    `json:"heartbeat_threshold_seconds" toml:"heartbeat_threshold_seconds"`
		HeartbeatIntervalSeconds  int    `json:"heartbeat_interval_seconds" toml:"heartbeat_interval_seconds"`
		StatusTTLSeconds          int    `json:"status_ttl_seconds" toml:"status_ttl_seconds"`
		ErrorBufferTTLSeconds     int    `json:"error_buffer_ttl_seconds" toml:"error_buffer_ttl_seconds"`
		CommandPollMillis         int    `json:"command_poll_millis" toml:"command_poll_millis"`
		MaxCommandWorkers         int    `json:"max_command_workers" toml:"max_command_workers"`
		LogPath                   string `json:"log_path" toml:"log_path"`
		LogTailBytes              int    `json:"log_tail_bytes" toml:"log_tail_bytes"`
	} `json:"agent" toml:"agent"`
	Alerts struct {
		Channel string `json:"channel" toml:"channel"`
	} `json:"alerts" toml:"alerts"`
	Liveness struct {
		DefaultThresholdSeconds int `json:"default_threshold_seconds" toml:"default_threshold_seconds"`
		SafetyMarginSeconds     int `json:"safety_margin_seconds" toml:"safety_margin_seconds"`
	} `json:"liveness" toml:"liveness"`
	Direct DirectConfig `json:"direct" toml:"direct"`
}

// DirectConfig selects the point-to-point sender used when no observer is
// subscribed to the alert channel.
type DirectConfig struct {
	Kind             string `json:"kind" toml:"kind"`
	DiscordToken     string `json:"discord_token" toml:"discord_token"`
	DiscordChannelID string `json:"discord_channel_id" toml:"discord_channel_id"`
	TelegramToken    string `json:"telegram_token" toml:"telegram_token"`
	TelegramChatID   string `json:"telegram_chat_id" toml:"telegram_chat_id"`
}

func Default() Config {
	cfg := Config{
		Version: 1,
	}
	cfg.Redis.URL = "redis://127.0.0.1:6379/0"
	cfg.Redis.ConnectRetries = 3
	cfg.Redis.ConnectBackoffMS = 500
	cfg.Agent.Project = "default"
	cfg.Agent.Worker = defaultWorkerName()
	cfg.Agent.HeartbeatThresholdSeconds = 900
	cfg.Agent.StatusTTLSeconds = 86400
	cfg.Agent.ErrorBufferTTLSeconds = 86400
	cfg.Agent.CommandPollMillis = 1000
	cfg.Agent.MaxCommandWorkers = 4
	cfg.Agent.LogPath = "app.log"
	cfg.Agent.LogTailBytes = 16384
	cfg.Alerts.Channel = "alerts"
	cfg.Liveness.DefaultThresholdSeconds = 900
	cfg.Liveness.SafetyMarginSeconds = 300
	return cfg
}

func defaultWorkerName() string {
	host, err := os.Hostname()
	if err != nil || strings.TrimSpace(host) == "" {
		return "worker"
	}
	return host
}

// Load reads a JSON config, or TOML when the path ends in .toml. A missing
// file yields the defaults.
func Load(path string) (Config, string, error) {
	cfg := Default()
	finalPath := path
	if strings.TrimSpace(finalPath) == "" {
		finalPath = DefaultConfigPath
	}
	if _, err := os.Stat(finalPath); os.IsNotExist(err) {
		return cfg, finalPath, nil
	}

	b, err := os.ReadFile(finalPath)
	if err != nil {
		return cfg, finalPath, fmt.Errorf("read config %s: %w", finalPath, err)
	}
	if isTOML(finalPath) {
		b, err = tomlToJSON(b)
	}
	if err == nil {
		err = json.Unmarshal(b, &cfg)
	}
	if err != nil {
		return cfg, finalPath, fmt.Errorf("parse config %s: %w", finalPath, err)
	}
	if err := Validate(cfg); err != nil {
		return cfg, finalPath, fmt.Errorf("validate config %s: %w", finalPath, err)
	}
	return cfg, finalPath, nil
}

func SaveDefault(path string) error {
	cfg := Default()
	var (
		b   []byte
		err error
	)
	if isTOML(path) {
		b, err = toml.Marshal(cfg)
	} else {
		b, err = json.MarshalIndent(cfg, "", "  ")
	}
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, b, 0o644)
}

func Validate(cfg Config) error {
	if cfg.Version <= 0 {
		return fmt.Errorf("version must be positive")
	}
	if strings.TrimSpace(cfg.Redis.URL) == "" {
		return fmt.Errorf("redis.url cannot be empty")
	}
	if _, err := url.Parse(cfg.Redis.URL); err != nil {
		return fmt.Errorf("redis.url is invalid: %w", err)
	}
	if cfg.Redis.ConnectRetries < 0 || cfg.Redis.ConnectBackoffMS < 0 {
		return fmt.Errorf("redis connect retries/backoff must be >= 0")
	}
	if err := ValidateName("agent.project", cfg.Agent.Project); err != nil {
		return err
	}
	if err := ValidateName("agent.worker", cfg.Agent.Worker); err != nil {
		return err
	}
	if cfg.Agent.HeartbeatThresholdSeconds <= 0 || cfg.Agent.StatusTTLSeconds <= 0 || cfg.Agent.ErrorBufferTTLSeconds <= 0 {
		return fmt.Errorf("agent heartbeat threshold and ttls must be > 0")
	}
	if cfg.Agent.HeartbeatIntervalSeconds < 0 {
		return fmt.Errorf("agent.heartbeat_interval_seconds must be >= 0")
	}
	if cfg.Agent.HeartbeatIntervalSeconds > 0 && cfg.Liveness.SafetyMarginSeconds > 0 &&
		cfg.Agent.HeartbeatIntervalSeconds >= cfg.Liveness.SafetyMarginSeconds {
		return fmt.Errorf("agent.heartbeat_interval_seconds must be below liveness.safety_margin_seconds")
	}
	if cfg.Agent.CommandPollMillis <= 0 {
		return fmt.Errorf("agent.command_poll_millis must be > 0")
	}
	if cfg.Agent.MaxCommandWorkers <= 0 {
		return fmt.Errorf("agent.max_command_workers must be > 0")
	}
	if cfg.Agent.LogTailBytes <= 0 {
		return fmt.Errorf("agent.log_tail_bytes must be > 0")
	}
	if strings.TrimSpace(cfg.Alerts.Channel) == "" {
		return fmt.Errorf("alerts.channel cannot be empty")
	}
	if cfg.Liveness.DefaultThresholdSeconds <= 0 || cfg.Liveness.SafetyMarginSeconds < 0 {
		return fmt.Errorf("liveness default threshold must be > 0 and safety margin >= 0")
	}
	switch cfg.Direct.Kind {
	case DirectKindNone:
	case DirectKindDiscord:
		if strings.TrimSpace(cfg.Direct.DiscordToken) == "" || strings.TrimSpace(cfg.Direct.DiscordChannelID) == "" {
			return fmt.Errorf("direct.kind=discord requires discord_token and discord_channel_id")
		}
	case DirectKindTelegram:
		if strings.TrimSpace(cfg.Direct.TelegramToken) == "" || strings.TrimSpace(cfg.Direct.TelegramChatID) == "" {
			return fmt.Errorf("direct.kind=telegram requires telegram_token and telegram_chat_id")
		}
	default:
		return fmt.Errorf("direct.kind must be discord|telegram or empty")
	}
	return nil
}

// ValidateName rejects names that would break the colon-separated key scheme.
func ValidateName(field string, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%s cannot be empty", field)
	}
	if strings.ContainsAny(value, ":*? \t\n") {
		return fmt.Errorf("%s %q must not contain ':', glob characters or whitespace", field, value)
	}
	return nil
}

func (c Config) HeartbeatThreshold() time.Duration {
	return time.Duration(c.Agent.HeartbeatThresholdSeconds) * time.Second
}

// HeartbeatInterval is zero unless configured; the heartbeat loop then
// derives it from the threshold and the safety margin.
func (c Config) HeartbeatInterval() time.Duration {
	return time.Duration(c.Agent.HeartbeatIntervalSeconds) * time.Second
}

func (c Config) SafetyMargin() time.Duration {
	return time.Duration(c.Liveness.SafetyMarginSeconds) * time.Second
}

func (c Config) StatusTTL() time.Duration {
	return time.Duration(c.Agent.StatusTTLSeconds) * time.Second
}

func (c Config) ErrorBufferTTL() time.Duration {
	return time.Duration(c.Agent.ErrorBufferTTLSeconds) * time.Second
}

func (c Config) CommandPoll() time.Duration {
	return time.Duration(c.Agent.CommandPollMillis) * time.Millisecond
}

func (c Config) ConnectBackoff() time.Duration {
	return time.Duration(c.Redis.ConnectBackoffMS) * time.Millisecond
}

// tomlToJSON re-encodes a TOML document so it can be decoded over the
// defaults with the same rules as a JSON file.
func tomlToJSON(b []byte) ([]byte, error) {
	tree, err := toml.LoadBytes(b)
	if err != nil {
		return nil, err
	}
	return json.Marshal(tree.ToMap())
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}
