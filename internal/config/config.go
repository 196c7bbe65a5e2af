// Package config loads the runner's single JSON configuration document
// (spec.md §6). It is a closed record: unknown top-level fields are
// rejected the way the teacher's api/config package treats its option set
// as fixed, just sourced from a file instead of the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"jobrunner/internal/errs"
)

// Notifications groups the notification-related options.
type Notifications struct {
	SlackTokenPath   string `json:"slackTokenPath,omitempty"`
	DefaultOnFailure string `json:"defaultOnFailure,omitempty"`
	DefaultOnSuccess string `json:"defaultOnSuccess,omitempty"`
}

// Gateway groups the remote session-gateway options.
type Gateway struct {
	URL       string `json:"url"`
	TokenPath string `json:"tokenPath,omitempty"`
}

// Log groups logging options.
type Log struct {
	Level string `json:"level"`
	File  string `json:"file"`
}

// Config is the closed set of options recognized by the runner.
type Config struct {
	Port                 int           `json:"port"`
	DBPath               string        `json:"dbPath"`
	MaxConcurrency       int           `json:"maxConcurrency"`
	RunRetentionDays     int           `json:"runRetentionDays"`
	StateCleanupInterval int64         `json:"stateCleanupIntervalMs"`
	ShutdownGraceMs      int64         `json:"shutdownGraceMs"`
	ReconcileIntervalMs  int64         `json:"reconcileIntervalMs"`
	Notifications        Notifications `json:"notifications"`
	Log                  Log           `json:"log"`
	Gateway              Gateway       `json:"gateway"`
}

// Default returns the configuration with every default from spec.md §6
// applied.
func Default() *Config {
	return &Config{
		Port:                 1937,
		DBPath:               "./data/runner.sqlite",
		MaxConcurrency:       4,
		RunRetentionDays:     30,
		StateCleanupInterval: 3_600_000,
		ShutdownGraceMs:      30_000,
		ReconcileIntervalMs:  60_000,
		Log:                  Log{Level: "info", File: "stdout"},
		Gateway:              Gateway{URL: "http://127.0.0.1:18789"},
	}
}

// Load reads and decodes the JSON document at path over the defaults.
// Unknown fields are a ConfigError, matching spec.md §7.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errs.Config("config.Load", err)
	}
	defer f.Close()

	cfg := Default()
	dec := json.NewDecoder(f)
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return nil, errs.Config("config.Load", fmt.Errorf("decode %s: %w", path, err))
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, errs.Config("config.Load", fmt.Errorf("port out of range: %d", cfg.Port))
	}
	if cfg.MaxConcurrency <= 0 {
		return nil, errs.Config("config.Load", fmt.Errorf("maxConcurrency must be positive"))
	}
	return cfg, nil
}
