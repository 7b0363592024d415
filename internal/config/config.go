// Package config exposes strongly typed application configuration structs loaded from YAML.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// App captures process-wide runtime settings such as name, environment, metrics, and logging levels.
type App struct {
	Name        string `yaml:"name"`
	Env         string `yaml:"env"`
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// Backend describes where the signal platform API lives and how to reach its
// event stream. The bearer token never lives in YAML; TokenEnv names the
// environment variable holding it (populated from .env in cmd/).
type Backend struct {
	BaseURL  string `yaml:"base_url"` // e.g. https://host/api
	WSURL    string `yaml:"ws_url"`   // e.g. wss://host/ws
	TokenEnv string `yaml:"token_env"`
}

// Token reads the bearer token from the configured environment variable.
func (b Backend) Token() string {
	env := b.TokenEnv
	if env == "" {
		env = "API_TOKEN"
	}
	return os.Getenv(env)
}

// Sync groups the reconciliation engine knobs.
type Sync struct {
	PageLimit        int    `yaml:"page_limit"`
	StatusPollMs     int    `yaml:"status_poll_ms"`
	ReconnectDelayMs int    `yaml:"reconnect_delay_ms"`
	JournalCapacity  int    `yaml:"journal_capacity"`
	JournalFile      string `yaml:"journal_file"` // empty disables persistence
}

// StatusPoll returns the system-status polling cadence (5s default).
func (s Sync) StatusPoll() time.Duration {
	if s.StatusPollMs <= 0 {
		return 5 * time.Second
	}
	return time.Duration(s.StatusPollMs) * time.Millisecond
}

// ReconnectDelay returns the fixed delay between stream reconnects (3s default).
func (s Sync) ReconnectDelay() time.Duration {
	if s.ReconnectDelayMs <= 0 {
		return 3 * time.Second
	}
	return time.Duration(s.ReconnectDelayMs) * time.Millisecond
}

// Config collects every configuration leaf for easy marshaling from YAML.
type Config struct {
	App     App     `yaml:"app"`
	Backend Backend `yaml:"backend"`
	Sync    Sync    `yaml:"sync"`
}

// Load reads a YAML file from disk and hydrates a Config struct.
func Load(path string) (*Config, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()

	var config Config
	if err := yaml.NewDecoder(file).Decode(&config); err != nil {
		return nil, fmt.Errorf("decode yaml: %w", err)
	}
	return &config, nil
}

// Save persists a Config struct to disk as YAML.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("nil config")
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal yaml: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
