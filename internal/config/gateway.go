package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"

	"github.com/ehrlich-b/homiegw/internal/logger"
)

// GatewayConfigDir returns the user-level directory settings.json,
// gateway.yaml, and the default sqlite database live under.
func GatewayConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".homiegw"), nil
}

// GatewayConfig is the gateway daemon's settings.json shape: bind
// address, the C12 tunables, retention windows, and the default shell a
// terminal.session.start with no shell falls back to.
type GatewayConfig struct {
	BindAddr          string        `json:"bind_addr"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	IdleTimeout       time.Duration `json:"idle_timeout"`
	HistoryBytes      int           `json:"history_bytes"`
	JobRetention      time.Duration `json:"job_retention"`
	PairingRetention  time.Duration `json:"pairing_retention"`
	NotificationRetention time.Duration `json:"notification_retention"`
	DefaultShell      string        `json:"default_shell"`
	AgentCommand      string        `json:"agent_command"`
	AgentArgs         []string      `json:"agent_args,omitempty"`
	LogLevel          string        `json:"log_level"`
	EnablePresence    bool          `json:"enable_presence"`
	EnableJobs        bool          `json:"enable_jobs"`
	EnablePairing     bool          `json:"enable_pairing"`
	EnableNotifications bool        `json:"enable_notifications"`
}

// DefaultGatewayConfig matches the defaults named throughout the wire
// protocol and connection loop design: a 15s heartbeat, 120s idle
// timeout, 2MiB of replay history, and every supplemental service on.
func DefaultGatewayConfig() GatewayConfig {
	return GatewayConfig{
		BindAddr:              "127.0.0.1:7777",
		HeartbeatInterval:     15 * time.Second,
		IdleTimeout:           120 * time.Second,
		HistoryBytes:          2 * 1024 * 1024,
		JobRetention:          7 * 24 * time.Hour,
		PairingRetention:      10 * time.Minute,
		NotificationRetention: 30 * 24 * time.Hour,
		DefaultShell:          "/bin/sh",
		AgentCommand:          "",
		LogLevel:              "info",
		EnablePresence:        true,
		EnableJobs:            true,
		EnablePairing:         true,
		EnableNotifications:   true,
	}
}

// LoadGatewayConfig reads settings.json from dir (if present, overlaying
// the defaults) and then applies GATEWAY_<FIELD> environment overrides.
// A missing file is not an error; an operator running with no config at
// all still gets a runnable, fully-defaulted gateway.
func LoadGatewayConfig(dir string) (GatewayConfig, error) {
	cfg := DefaultGatewayConfig()

	path := filepath.Join(dir, "settings.json")
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, err
		}
	} else if !os.IsNotExist(err) {
		return cfg, err
	}

	applyGatewayEnvOverrides(&cfg)
	return cfg, nil
}

func applyGatewayEnvOverrides(cfg *GatewayConfig) {
	if v, ok := os.LookupEnv("GATEWAY_BIND_ADDR"); ok {
		cfg.BindAddr = v
	}
	if v, ok := os.LookupEnv("GATEWAY_HEARTBEAT_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.HeartbeatInterval = d
		}
	}
	if v, ok := os.LookupEnv("GATEWAY_IDLE_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.IdleTimeout = d
		}
	}
	if v, ok := os.LookupEnv("GATEWAY_HISTORY_BYTES"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.HistoryBytes = n
		}
	}
	if v, ok := os.LookupEnv("GATEWAY_DEFAULT_SHELL"); ok {
		cfg.DefaultShell = v
	}
	if v, ok := os.LookupEnv("GATEWAY_AGENT_COMMAND"); ok {
		cfg.AgentCommand = v
	}
	if v, ok := os.LookupEnv("GATEWAY_LOG_LEVEL"); ok {
		cfg.LogLevel = v
	}
}

// WatchGatewayConfig watches path for writes and passes the whole
// reloaded config (file plus env overrides) to apply; it does not pick
// out a hot-reloadable subset. A config that fails to parse is logged
// and otherwise ignored — a bad edit should not take down a running
// listener.
func WatchGatewayConfig(path string, apply func(GatewayConfig)) (*fsnotify.Watcher, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, err
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := LoadGatewayConfig(dir)
				if err != nil {
					logger.Warn("config reload failed, keeping previous settings", "error", err)
					continue
				}
				logger.Info("reloaded gateway config", "path", path)
				apply(cfg)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("config watcher error", "error", err)
			}
		}
	}()

	return watcher, nil
}

// GatewayYAML mirrors wing.yaml's role for the gateway: a small on-disk
// artifact the keygen CLI subcommand writes and serve reads back, kept
// separate from settings.json since it carries key material rather than
// runtime tunables.
type GatewayYAML struct {
	SigningKeyDER string `yaml:"signing_key_der,omitempty"`
}

// LoadGatewayYAML reads gateway.yaml from dir. A missing file returns a
// zero-value config, not an error.
func LoadGatewayYAML(dir string) (*GatewayYAML, error) {
	cfg := &GatewayYAML{}
	data, err := os.ReadFile(filepath.Join(dir, "gateway.yaml"))
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// SaveGatewayYAML writes gateway.yaml to dir, creating it if needed.
func SaveGatewayYAML(dir string, cfg *GatewayYAML) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "gateway.yaml"), data, 0600)
}
